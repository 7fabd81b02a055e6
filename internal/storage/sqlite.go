package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"paddlearena/engine/internal/pong"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationTable = "schema_migrations"

// Store is a SQLite-backed Gateway implementation.
type Store struct {
	sqlDB *sql.DB
}

var _ Gateway = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrationFS, "migrations"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// applyMigrations executes embedded migrations at most once per file.
func applyMigrations(sqlDB *sql.DB, migrations fs.FS, root string) error {
	entries, err := fs.ReadDir(migrations, root)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`, migrationTable)
	if _, err := sqlDB.Exec(createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range sqlFiles {
		var applied int
		row := sqlDB.QueryRow(fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE name = ?", migrationTable), file)
		if err := row.Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}
		script, err := fs.ReadFile(migrations, root+"/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := sqlDB.Exec(string(script)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		if _, err := sqlDB.Exec(
			fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES (?, ?)", migrationTable),
			file, toMillis(time.Now()),
		); err != nil {
			return fmt.Errorf("record migration %s: %w", file, err)
		}
	}
	return nil
}

// CreateSession inserts the initial game record owned by the host.
func (s *Store) CreateSession(ctx context.Context, sessionID, hostIdentity string, maxScore int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO games (id, status, player1_id, max_score, created_at)
		 VALUES (?, 'waiting', ?, ?, ?)`,
		sessionID, hostIdentity, maxScore, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

// RecordSeat upserts the durable seat assignment for one identity.
func (s *Store) RecordSeat(ctx context.Context, sessionID, identity string, seat pong.Seat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO player_connections (game_id, identity, player_number, connected, connected_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(game_id, identity) DO UPDATE SET
		   connected = 1,
		   disconnected_at = NULL`,
		sessionID, identity, int(seat), toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("record seat: %w", err)
	}
	//1.- Mirror the seat onto the games row so result queries need no join.
	column := "player1_id"
	if seat == pong.SeatRight {
		column = "player2_id"
	}
	if _, err := s.sqlDB.ExecContext(
		ctx,
		fmt.Sprintf("UPDATE games SET %s = ? WHERE id = ?", column),
		identity, sessionID,
	); err != nil {
		return fmt.Errorf("record seat owner: %w", err)
	}
	return nil
}

// UpdateConnectivity flips the live-connection flag for one identity.
func (s *Store) UpdateConnectivity(ctx context.Context, sessionID, identity string, connected bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	var disconnectedAt any
	flag := 0
	if connected {
		flag = 1
	} else {
		disconnectedAt = toMillis(at)
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE player_connections
		 SET connected = ?, disconnected_at = ?
		 WHERE game_id = ? AND identity = ?`,
		flag, disconnectedAt, sessionID, identity,
	)
	if err != nil {
		return fmt.Errorf("update connectivity: %w", err)
	}
	return nil
}

// SnapshotState upserts the latest match state for the session.
func (s *Store) SnapshotState(ctx context.Context, sessionID string, state pong.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	paused := 0
	if state.IsPaused {
		paused = 1
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO game_states (game_id, ball_x, ball_y, ball_dx, ball_dy, ball_speed, paddle1_y, paddle2_y, is_paused, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(game_id) DO UPDATE SET
		   ball_x = excluded.ball_x,
		   ball_y = excluded.ball_y,
		   ball_dx = excluded.ball_dx,
		   ball_dy = excluded.ball_dy,
		   ball_speed = excluded.ball_speed,
		   paddle1_y = excluded.paddle1_y,
		   paddle2_y = excluded.paddle2_y,
		   is_paused = excluded.is_paused,
		   last_updated = excluded.last_updated`,
		sessionID,
		state.Ball.X, state.Ball.Y, state.Ball.DX, state.Ball.DY, state.Ball.Speed,
		state.Paddle1.Y, state.Paddle2.Y,
		paused, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("snapshot state: %w", err)
	}
	return nil
}

// RecordStart marks the session active.
func (s *Store) RecordStart(ctx context.Context, sessionID string, startedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE games SET status = 'active', started_at = ? WHERE id = ?`,
		toMillis(startedAt), sessionID,
	)
	if err != nil {
		return fmt.Errorf("record start: %w", err)
	}
	return nil
}

// RecordResult stores the terminal outcome of a match.
func (s *Store) RecordResult(ctx context.Context, sessionID string, finishedAt time.Time, duration time.Duration, winnerIdentity string, score pong.Score) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	var winner any
	if strings.TrimSpace(winnerIdentity) != "" {
		winner = winnerIdentity
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE games
		 SET status = 'finished', finished_at = ?, game_duration = ?, winner_id = ?, player1_score = ?, player2_score = ?
		 WHERE id = ?`,
		toMillis(finishedAt), int64(duration.Seconds()), winner,
		score.Player1, score.Player2, sessionID,
	)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// GameRecord is a read-back view of one persisted game row.
type GameRecord struct {
	ID           string
	Status       string
	Player1ID    string
	Player2ID    string
	Player1Score int
	Player2Score int
	WinnerID     string
	MaxScore     int
	Duration     int64
}

// LoadGame reads one game row, primarily for operational inspection and tests.
func (s *Store) LoadGame(ctx context.Context, sessionID string) (GameRecord, error) {
	if s == nil || s.sqlDB == nil {
		return GameRecord{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, status, COALESCE(player1_id, ''), COALESCE(player2_id, ''),
		        player1_score, player2_score, COALESCE(winner_id, ''), max_score, COALESCE(game_duration, 0)
		 FROM games WHERE id = ?`,
		sessionID,
	)
	var record GameRecord
	if err := row.Scan(
		&record.ID, &record.Status, &record.Player1ID, &record.Player2ID,
		&record.Player1Score, &record.Player2Score, &record.WinnerID,
		&record.MaxScore, &record.Duration,
	); err != nil {
		return GameRecord{}, fmt.Errorf("load game: %w", err)
	}
	return record, nil
}
