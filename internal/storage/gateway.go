// Package storage records session lifecycle state durably. The engine treats
// every call as fire-and-forget: failures are logged by the caller and never
// interrupt play, so the in-memory session stays authoritative.
package storage

import (
	"context"
	"time"

	"paddlearena/engine/internal/pong"
)

// Gateway is the persistence boundary for the session engine.
type Gateway interface {
	// CreateSession records a freshly created session owned by hostIdentity.
	CreateSession(ctx context.Context, sessionID, hostIdentity string, maxScore int) error
	// RecordSeat stores the durable identity-to-seat assignment.
	RecordSeat(ctx context.Context, sessionID, identity string, seat pong.Seat) error
	// UpdateConnectivity tracks a player's transient connection state.
	UpdateConnectivity(ctx context.Context, sessionID, identity string, connected bool, at time.Time) error
	// SnapshotState mirrors the latest match state, called once per tick.
	SnapshotState(ctx context.Context, sessionID string, state pong.State) error
	// RecordStart marks the session active.
	RecordStart(ctx context.Context, sessionID string, startedAt time.Time) error
	// RecordResult stores the terminal outcome of a match.
	RecordResult(ctx context.Context, sessionID string, finishedAt time.Time, duration time.Duration, winnerIdentity string, score pong.Score) error
}

// NopGateway discards every persistence call. Used when durable records are
// disabled and as the default in tests.
type NopGateway struct{}

// CreateSession implements Gateway.
func (NopGateway) CreateSession(context.Context, string, string, int) error { return nil }

// RecordSeat implements Gateway.
func (NopGateway) RecordSeat(context.Context, string, string, pong.Seat) error { return nil }

// UpdateConnectivity implements Gateway.
func (NopGateway) UpdateConnectivity(context.Context, string, string, bool, time.Time) error {
	return nil
}

// SnapshotState implements Gateway.
func (NopGateway) SnapshotState(context.Context, string, pong.State) error { return nil }

// RecordStart implements Gateway.
func (NopGateway) RecordStart(context.Context, string, time.Time) error { return nil }

// RecordResult implements Gateway.
func (NopGateway) RecordResult(context.Context, string, time.Time, time.Duration, string, pong.Score) error {
	return nil
}
