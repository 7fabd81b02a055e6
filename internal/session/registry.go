package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/pong"
	"paddlearena/engine/internal/simulation"
	"paddlearena/engine/internal/storage"
)

const defaultGracePeriod = 30 * time.Second

// Registry owns every live session plus the FIFO waiting queue. Its mutex
// guards only the collections; per-session state has its own lock, and the
// registry lock is never held while a session lock is taken.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	waiting  []string
	timers   map[string]*time.Timer

	logger        *logging.Logger
	gateway       storage.Gateway
	courtCfg      pong.Config
	gameOpts      []pong.Option
	tickRate      float64
	gracePeriod   time.Duration
	driverFactory TickDriverFactory
	now           func() time.Time
	monitor       *simulation.TickMonitor
	replayRoot    string
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithLogger routes registry and session logging through the given logger.
func WithLogger(logger *logging.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithGateway installs the persistence gateway sessions report through.
func WithGateway(gateway storage.Gateway) RegistryOption {
	return func(r *Registry) {
		if gateway != nil {
			r.gateway = gateway
		}
	}
}

// WithCourtConfig overrides the court geometry applied to new matches.
func WithCourtConfig(cfg pong.Config) RegistryOption {
	return func(r *Registry) {
		r.courtCfg = cfg
	}
}

// WithGameOptions forwards extra options to every constructed match.
func WithGameOptions(opts ...pong.Option) RegistryOption {
	return func(r *Registry) {
		r.gameOpts = append(r.gameOpts, opts...)
	}
}

// WithTickRate sets the nominal simulation frequency in Hz.
func WithTickRate(rate float64) RegistryOption {
	return func(r *Registry) {
		if rate > 0 {
			r.tickRate = rate
		}
	}
}

// WithGracePeriod sets how long finished sessions stay readable.
func WithGracePeriod(period time.Duration) RegistryOption {
	return func(r *Registry) {
		if period > 0 {
			r.gracePeriod = period
		}
	}
}

// WithTickDriverFactory substitutes how session loops are paced.
func WithTickDriverFactory(factory TickDriverFactory) RegistryOption {
	return func(r *Registry) {
		if factory != nil {
			r.driverFactory = factory
		}
	}
}

// WithClock injects a deterministic time source, primarily for tests.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithTickMonitor wires tick timing observations into the given monitor.
func WithTickMonitor(monitor *simulation.TickMonitor) RegistryOption {
	return func(r *Registry) {
		r.monitor = monitor
	}
}

// WithReplayRoot enables replay journaling under the given directory.
func WithReplayRoot(root string) RegistryOption {
	return func(r *Registry) {
		r.replayRoot = root
	}
}

// NewRegistry builds a registry with production defaults.
func NewRegistry(opts ...RegistryOption) *Registry {
	registry := &Registry{
		sessions:      make(map[string]*Session),
		timers:        make(map[string]*time.Timer),
		logger:        logging.L(),
		gateway:       storage.NopGateway{},
		courtCfg:      pong.DefaultConfig(),
		tickRate:      60,
		gracePeriod:   defaultGracePeriod,
		driverFactory: LoopDriverFactory,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(registry)
	}
	return registry
}

// CreateGame allocates a new waiting session owned by host and enqueues it.
func (r *Registry) CreateGame(ctx context.Context, host Identity) (*Session, error) {
	if r == nil {
		return nil, fmt.Errorf("registry not initialised")
	}

	id := uuid.NewString()
	sess := newSession(r, id)

	//1.- The initial record is best effort; the in-memory session is canonical.
	if err := r.gateway.CreateSession(ctx, id, host.ID, r.courtCfg.MaxScore); err != nil {
		r.logger.Warn("record session failed", logging.String("session", id), logging.Error(err))
	}
	if err := r.gateway.SnapshotState(ctx, id, sess.Snapshot()); err != nil {
		r.logger.Debug("initial snapshot failed", logging.String("session", id), logging.Error(err))
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.waiting = append(r.waiting, id)
	r.mu.Unlock()

	r.logger.Info("session created", logging.String("session", id), logging.String("host", host.ID))
	return sess, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	if r == nil {
		return nil, fmt.Errorf("registry not initialised")
	}
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrUnknownSession)
	}
	return sess, nil
}

// Join resolves the session and admits the player in one step.
func (r *Registry) Join(ctx context.Context, id string, identity Identity, transport Transport) (*Session, pong.Seat, error) {
	sess, err := r.Get(id)
	if err != nil {
		return nil, pong.SeatNone, err
	}
	seat, err := sess.Join(ctx, identity, transport)
	if err != nil {
		return nil, pong.SeatNone, err
	}
	return sess, seat, nil
}

// ListWaiting returns the sessions still short a player, in queue order.
func (r *Registry) ListWaiting() []*Session {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(r.waiting))
	for _, id := range r.waiting {
		if sess, ok := r.sessions[id]; ok {
			sessions = append(sessions, sess)
		}
	}
	return sessions
}

// ListAll returns every live session in no particular order.
func (r *Registry) ListAll() []*Session {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Count reports how many sessions currently hold each status.
func (r *Registry) Count() map[Status]int {
	counts := make(map[Status]int)
	for _, sess := range r.ListAll() {
		counts[sess.Status()]++
	}
	return counts
}

// BroadcastTotals aggregates delivered and failed send counts across every
// live session.
func (r *Registry) BroadcastTotals() (sent, failed uint64) {
	for _, sess := range r.ListAll() {
		s, f := sess.BroadcastTotals()
		sent += s
		failed += f
	}
	return sent, failed
}

// Delete removes a session, cancels any pending reap timer, and stops the
// session's loop. Safe to call for unknown ids.
func (r *Registry) Delete(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	sess := r.sessions[id]
	delete(r.sessions, id)
	r.removeWaitingLocked(id)
	if timer, ok := r.timers[id]; ok {
		timer.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()

	//1.- Shut the session down outside the registry lock; it takes its own.
	if sess != nil {
		sess.shutdown()
		r.logger.Info("session removed", logging.String("session", id))
	}
}

// PauseGame halts an active session's match on behalf of identity.
func (r *Registry) PauseGame(id string, identity Identity) error {
	sess, err := r.Get(id)
	if err != nil {
		return err
	}
	return sess.pauseBy(identity)
}

// ResumeGame restarts a paused match on behalf of identity.
func (r *Registry) ResumeGame(id string, identity Identity) error {
	sess, err := r.Get(id)
	if err != nil {
		return err
	}
	return sess.resumeBy(identity)
}

// requeue re-inserts a session into the waiting queue if absent.
func (r *Registry) requeue(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, queued := range r.waiting {
		if queued == id {
			return
		}
	}
	r.waiting = append(r.waiting, id)
}

// removeWaiting drops a session id from the waiting queue.
func (r *Registry) removeWaiting(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeWaitingLocked(id)
}

func (r *Registry) removeWaitingLocked(id string) {
	filtered := r.waiting[:0]
	for _, queued := range r.waiting {
		if queued != id {
			filtered = append(filtered, queued)
		}
	}
	r.waiting = filtered
}

// scheduleRemoval arms a one-shot timer that reaps the session later.
func (r *Registry) scheduleRemoval(id string, after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.timers[id]; ok {
		timer.Stop()
	}
	r.timers[id] = time.AfterFunc(after, func() {
		r.Delete(id)
	})
}
