package replay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"paddlearena/engine/internal/pong"
)

// Stats summarises recorder throughput for diagnostics endpoints.
type Stats struct {
	Frames      uint64
	Events      uint64
	FrameBytes  uint64
	EventBytes  uint64
	LastTick    uint64
	LastWriteAt time.Time
}

// Recorder captures gameplay states and lifecycle events for one match.
type Recorder struct {
	mu     sync.Mutex
	writer *Writer
	now    func() time.Time
	stats  Stats
	closed bool
}

// NewRecorder opens a bundle under root and returns the active recorder.
func NewRecorder(root, matchID string, clock func() time.Time) (*Recorder, error) {
	if clock == nil {
		clock = time.Now
	}
	writer, _, err := NewWriter(root, matchID, clock)
	if err != nil {
		return nil, fmt.Errorf("open replay bundle: %w", err)
	}
	return &Recorder{writer: writer, now: clock}, nil
}

// RecordState journals one simulation snapshot keyed by its tick.
func (r *Recorder) RecordState(tick uint64, state pong.State) error {
	if r == nil {
		return nil
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	//1.- Persist the frame and account for the bytes written.
	if err := r.writer.AppendFrame(tick, payload); err != nil {
		return err
	}
	r.stats.Frames++
	r.stats.FrameBytes += uint64(len(payload))
	r.stats.LastTick = tick
	r.stats.LastWriteAt = r.now().UTC()
	return nil
}

// RecordEvent journals a lifecycle event such as a goal or disconnect.
func (r *Recorder) RecordEvent(tick uint64, eventType string, payload any) error {
	if r == nil {
		return nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	//1.- Append the event line before updating the running counters.
	if err := r.writer.AppendEvent(tick, eventType, encoded); err != nil {
		return err
	}
	r.stats.Events++
	r.stats.EventBytes += uint64(len(encoded))
	r.stats.LastWriteAt = r.now().UTC()
	return nil
}

// Snapshot returns a copy of the current throughput counters.
func (r *Recorder) Snapshot() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Directory reports where the bundle lives on disk.
func (r *Recorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.writer.Directory()
}

// Close flushes pending frames and seals the bundle.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.writer.Close()
}
