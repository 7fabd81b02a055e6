// Package session coordinates match lifecycle: seat admission, the periodic
// simulation loop, event fan-out, and persistence side effects. A session is
// the only owner of its match state; every mutation happens under its lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/pong"
	"paddlearena/engine/internal/protocol"
	"paddlearena/engine/internal/replay"
)

// Identity names one authenticated player for the lifetime of a connection.
type Identity struct {
	ID          string
	DisplayName string
}

// Status tracks where a session sits in its lifecycle.
type Status string

const (
	// StatusWaiting means fewer than two players are connected.
	StatusWaiting Status = "waiting"
	// StatusActive means both seats are connected and the loop is running.
	StatusActive Status = "active"
	// StatusFinished means the match reached its score threshold.
	StatusFinished Status = "finished"
	// StatusCancelled is reserved for operator tooling; no lifecycle
	// transition currently produces it.
	StatusCancelled Status = "cancelled"
)

var (
	// ErrUnknownSession reports a lookup for a session id the registry does not hold.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionFull reports a first-time join against a session whose seats are both assigned.
	ErrSessionFull = errors.New("session seats already assigned")
	// ErrWrongState reports an operation invalid for the session's current status.
	ErrWrongState = errors.New("session state does not permit the operation")
)

// Session owns one match. All state behind mu is mutated only by Join,
// HandleMessage, HandleDisconnect, Tick, and shutdown, each of which takes
// the lock for its full duration so handlers never interleave mid-mutation.
type Session struct {
	id        string
	createdAt time.Time
	registry  *Registry

	mu         sync.Mutex
	game       *pong.Game
	status     Status
	seats      map[string]pong.Seat
	roster     map[pong.Seat]Identity
	connected  map[string]bool
	startedAt  time.Time
	tick       uint64
	cancelLoop context.CancelFunc
	recorder   *replay.Recorder
	bcast      *Broadcaster
}

func newSession(registry *Registry, id string) *Session {
	return &Session{
		id:        id,
		createdAt: registry.now(),
		registry:  registry,
		game:      pong.NewGame(registry.courtCfg, registry.gameOpts...),
		status:    StatusWaiting,
		seats:     make(map[string]pong.Seat),
		roster:    make(map[pong.Seat]Identity),
		connected: make(map[string]bool),
		bcast:     NewBroadcaster(),
	}
}

// ID returns the session's generated identifier.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// CreatedAt reports when the session was allocated.
func (s *Session) CreatedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.createdAt
}

// Status reports the current lifecycle state.
func (s *Session) Status() Status {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a copy of the current match state.
func (s *Session) Snapshot() pong.State {
	if s == nil {
		return pong.State{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.State()
}

// Roster lists the assigned seats in seat order.
func (s *Session) Roster() []protocol.PlayerInfo {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

// BroadcastTotals reports the lifetime delivered and failed send counts for
// this session's broadcaster.
func (s *Session) BroadcastTotals() (sent, failed uint64) {
	if s == nil {
		return 0, 0
	}
	return s.bcast.Totals()
}

// ConnectedCount reports how many assigned players currently hold a live connection.
func (s *Session) ConnectedCount() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedCountLocked()
}

// Join admits a player. Returning identities are re-attached at their
// original seat; first-time identities receive the next open seat while the
// session is still waiting. When the second seat connects the match starts.
func (s *Session) Join(ctx context.Context, identity Identity, transport Transport) (pong.Seat, error) {
	if s == nil {
		return pong.SeatNone, ErrUnknownSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seat, returning := s.seats[identity.ID]
	if !returning {
		//1.- First-time identities are admitted only while seats remain open.
		// Returning identities carry no status gate at all, so a seat holder
		// can reattach during the post-match grace window and read the final
		// state.
		if s.status != StatusWaiting {
			return pong.SeatNone, fmt.Errorf("join %s: %w", s.id, ErrWrongState)
		}
		if len(s.seats) >= 2 {
			return pong.SeatNone, fmt.Errorf("join %s: %w", s.id, ErrSessionFull)
		}
		seat = pong.SeatLeft
		if s.seatAssignedLocked(pong.SeatLeft) {
			seat = pong.SeatRight
		}
		s.seats[identity.ID] = seat
		if err := s.registry.gateway.RecordSeat(ctx, s.id, identity.ID, seat); err != nil {
			s.registry.logger.Warn("record seat failed", logging.String("session", s.id), logging.Error(err))
		}
	}

	//2.- Attach the transport and refresh the roster entry for this seat.
	s.roster[seat] = identity
	s.connected[identity.ID] = true
	s.bcast.Attach(identity.ID, transport)
	if err := s.registry.gateway.UpdateConnectivity(ctx, s.id, identity.ID, true, s.registry.now()); err != nil {
		s.registry.logger.Warn("record connect failed", logging.String("session", s.id), logging.Error(err))
	}

	//3.- Acknowledge the attach before any start or resume broadcast.
	waiting := s.connectedCountLocked() < 2
	if err := s.bcast.SendTo(identity.ID, protocol.NewConnected(seat, s.id, waiting)); err != nil {
		s.registry.logger.Debug("connected ack failed", logging.String("session", s.id), logging.Error(err))
	}

	if returning && s.status == StatusActive && !waiting && s.game.State().IsPaused {
		//4.- A full table unpauses a match that was halted mid-play.
		s.game.Resume()
		s.broadcastLocked(protocol.NewGameResumed(identity.DisplayName))
	}
	if !waiting && s.status == StatusWaiting {
		s.startLocked(ctx)
	}

	s.registry.logger.Info("player joined",
		logging.String("session", s.id),
		logging.String("player", identity.ID),
		logging.Int("seat", int(seat)),
		logging.Bool("returning", returning))
	return seat, nil
}

// HandleMessage applies one decoded client message. Unknown kinds are
// dropped; malformed payloads are logged and dropped.
func (s *Session) HandleMessage(ctx context.Context, identity Identity, payload []byte) {
	if s == nil {
		return
	}
	msg, err := protocol.DecodeInbound(payload)
	if err != nil {
		s.registry.logger.Debug("malformed message dropped",
			logging.String("session", s.id), logging.String("player", identity.ID))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Kind {
	case protocol.KindPaddleMove:
		seat, ok := s.seats[identity.ID]
		if !ok {
			return
		}
		//1.- Move and rebroadcast immediately for responsive paddle feedback.
		s.game.MovePaddle(seat, msg.Direction)
		s.broadcastLocked(protocol.NewGameState(s.game.State()))
	case protocol.KindPauseGame:
		if s.status != StatusActive {
			return
		}
		s.game.Pause()
		s.broadcastLocked(protocol.NewGamePaused(identity.DisplayName))
		s.recordEventLocked("game_paused", map[string]string{"by": identity.ID})
	case protocol.KindResumeGame:
		if s.status != StatusActive {
			return
		}
		s.game.Resume()
		s.broadcastLocked(protocol.NewGameResumed(identity.DisplayName))
		s.recordEventLocked("game_resumed", map[string]string{"by": identity.ID})
	}
}

// HandleDisconnect detaches a player's transport. The seat assignment is
// retained so the identity can reclaim it later. An active match pauses, and
// when the table drops below two connected players the session returns to
// the waiting queue and its loop stops.
func (s *Session) HandleDisconnect(ctx context.Context, identity Identity) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected[identity.ID] {
		return
	}

	delete(s.connected, identity.ID)
	s.bcast.Detach(identity.ID)
	if err := s.registry.gateway.UpdateConnectivity(ctx, s.id, identity.ID, false, s.registry.now()); err != nil {
		s.registry.logger.Warn("record disconnect failed", logging.String("session", s.id), logging.Error(err))
	}

	seat := s.seats[identity.ID]
	s.broadcastLocked(protocol.NewPlayerDisconnected(seat, identity.DisplayName))
	s.recordEventLocked("player_disconnected", map[string]any{"player": identity.ID, "seat": seat})

	if s.status != StatusActive {
		return
	}
	//1.- Halt play while the table is short-handed.
	if !s.game.State().IsPaused {
		s.game.Pause()
	}
	if s.connectedCountLocked() < 2 {
		//2.- Fall back to waiting so the seat can be reclaimed, and leave the
		// match unpaused so the eventual restart needs no extra resume.
		s.status = StatusWaiting
		s.game.Resume()
		s.registry.requeue(s.id)
		s.stopLoopLocked()
	}

	s.registry.logger.Info("player disconnected",
		logging.String("session", s.id),
		logging.String("player", identity.ID),
		logging.String("status", string(s.status)))
}

// Tick advances the match one step and publishes the outcome. It is invoked
// by the session's tick driver and, in tests, directly.
func (s *Session) Tick(step time.Duration) {
	if s == nil {
		return
	}
	began := time.Now()

	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	s.tick++
	result := s.game.Update()
	state := s.game.State()

	if result.Scored != pong.SeatNone {
		s.broadcastLocked(protocol.NewGoalScored(result.Scored, state))
		s.recordEventLocked("goal_scored", map[string]any{"scorer": result.Scored, "score": state.Score})
	}
	if result.GameEnded {
		s.endLocked()
	} else {
		//1.- Every non-terminal tick, scoring ones included, publishes state
		// and mirrors it to storage.
		s.broadcastLocked(protocol.NewGameState(state))
		if err := s.registry.gateway.SnapshotState(context.Background(), s.id, state); err != nil {
			s.registry.logger.Debug("state snapshot failed", logging.String("session", s.id), logging.Error(err))
		}
		if s.recorder != nil {
			if err := s.recorder.RecordState(s.tick, state); err != nil {
				s.registry.logger.Debug("replay frame failed", logging.String("session", s.id), logging.Error(err))
			}
		}
	}
	s.mu.Unlock()

	if s.registry.monitor != nil {
		s.registry.monitor.Observe(time.Since(began))
	}
}

// startLocked flips the session active and launches its tick loop.
// Callers hold s.mu.
func (s *Session) startLocked(ctx context.Context) {
	s.status = StatusActive
	s.startedAt = s.registry.now()
	if s.game.State().IsPaused {
		s.game.Resume()
	}
	s.registry.removeWaiting(s.id)

	if err := s.registry.gateway.RecordStart(ctx, s.id, s.startedAt); err != nil {
		s.registry.logger.Warn("record start failed", logging.String("session", s.id), logging.Error(err))
	}

	//1.- Open the replay bundle before any events are worth journaling.
	if s.registry.replayRoot != "" && s.recorder == nil {
		recorder, err := replay.NewRecorder(s.registry.replayRoot, s.id, s.registry.now)
		if err != nil {
			s.registry.logger.Warn("replay bundle unavailable", logging.String("session", s.id), logging.Error(err))
		} else {
			s.recorder = recorder
		}
	}

	roster := s.rosterLocked()
	s.broadcastLocked(protocol.NewGameStarted(roster))
	s.recordEventLocked("game_started", roster)

	//2.- The loop lives until this context is cancelled; cancellation is the
	// only stop path so the tick callback itself may end the match.
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancelLoop = cancel
	driver := s.registry.driverFactory(s.registry.tickRate, func(step time.Duration) { s.Tick(step) })
	go driver.Start(loopCtx)

	s.registry.logger.Info("game started", logging.String("session", s.id))
}

// endLocked finalizes the match and schedules the session's removal.
// Callers hold s.mu.
func (s *Session) endLocked() {
	s.stopLoopLocked()
	s.status = StatusFinished

	finishedAt := s.registry.now()
	duration := finishedAt.Sub(s.startedAt)
	state := s.game.State()
	winner := s.roster[state.Winner]

	if err := s.registry.gateway.RecordResult(context.Background(), s.id, finishedAt, duration, winner.ID, state.Score); err != nil {
		s.registry.logger.Warn("record result failed", logging.String("session", s.id), logging.Error(err))
	}

	s.broadcastLocked(protocol.NewGameEnded(state.Winner, state.Score, duration))
	s.recordEventLocked("game_ended", map[string]any{"winner": state.Winner, "score": state.Score})
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.registry.logger.Debug("replay close failed", logging.String("session", s.id), logging.Error(err))
		}
		s.recorder = nil
	}

	//1.- Keep the finished session readable briefly so late clients can fetch
	// the final state, then let the registry reap it.
	s.registry.scheduleRemoval(s.id, s.registry.gracePeriod)

	s.registry.logger.Info("game ended",
		logging.String("session", s.id),
		logging.Int("winner", int(state.Winner)),
		logging.Int64("duration_ms", duration.Milliseconds()))
}

// pauseBy halts an active match on behalf of identity, mirroring the
// in-band pause message.
func (s *Session) pauseBy(identity Identity) error {
	if s == nil {
		return ErrUnknownSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return fmt.Errorf("pause %s: %w", s.id, ErrWrongState)
	}
	s.game.Pause()
	s.broadcastLocked(protocol.NewGamePaused(identity.DisplayName))
	s.recordEventLocked("game_paused", map[string]string{"by": identity.ID})
	return nil
}

// resumeBy restarts a paused match on behalf of identity.
func (s *Session) resumeBy(identity Identity) error {
	if s == nil {
		return ErrUnknownSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return fmt.Errorf("resume %s: %w", s.id, ErrWrongState)
	}
	s.game.Resume()
	s.broadcastLocked(protocol.NewGameResumed(identity.DisplayName))
	s.recordEventLocked("game_resumed", map[string]string{"by": identity.ID})
	return nil
}

// stopLoopLocked cancels the tick loop context, if one is running.
func (s *Session) stopLoopLocked() {
	if s.cancelLoop != nil {
		s.cancelLoop()
		s.cancelLoop = nil
	}
}

// shutdown stops the loop and seals the replay bundle. Called by the
// registry after the session has been removed from its collections.
func (s *Session) shutdown() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLoopLocked()
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.registry.logger.Debug("replay close failed", logging.String("session", s.id), logging.Error(err))
		}
		s.recorder = nil
	}
}

func (s *Session) rosterLocked() []protocol.PlayerInfo {
	var players []protocol.PlayerInfo
	for _, seat := range []pong.Seat{pong.SeatLeft, pong.SeatRight} {
		if identity, ok := s.roster[seat]; ok {
			players = append(players, protocol.PlayerInfo{PlayerNumber: seat, DisplayName: identity.DisplayName})
		}
	}
	return players
}

func (s *Session) connectedCountLocked() int {
	return len(s.connected)
}

func (s *Session) seatAssignedLocked(seat pong.Seat) bool {
	for _, assigned := range s.seats {
		if assigned == seat {
			return true
		}
	}
	return false
}

func (s *Session) broadcastLocked(event any) {
	evicted, err := s.bcast.Broadcast(event)
	if err != nil {
		s.registry.logger.Error("broadcast encode failed", logging.String("session", s.id), logging.Error(err))
		return
	}
	//1.- Evicted transports lose their live-connection mark so a later
	// disconnect callback for the same socket becomes a no-op.
	for _, identity := range evicted {
		delete(s.connected, identity)
		s.registry.logger.Warn("transport evicted",
			logging.String("session", s.id), logging.String("player", identity))
	}
}

func (s *Session) recordEventLocked(eventType string, payload any) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordEvent(s.tick, eventType, payload); err != nil {
		s.registry.logger.Debug("replay event failed", logging.String("session", s.id), logging.Error(err))
	}
}
