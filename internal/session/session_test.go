package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/pong"
)

type recordingGateway struct {
	mu          sync.Mutex
	created     []string
	seats       map[string]pong.Seat
	starts      int
	snapshots   int
	results     int
	winner      string
	connects    int
	disconnects int
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{seats: make(map[string]pong.Seat)}
}

func (g *recordingGateway) CreateSession(_ context.Context, sessionID, _ string, _ int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, sessionID)
	return nil
}

func (g *recordingGateway) RecordSeat(_ context.Context, _, identity string, seat pong.Seat) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seats[identity] = seat
	return nil
}

func (g *recordingGateway) UpdateConnectivity(_ context.Context, _, _ string, connected bool, _ time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if connected {
		g.connects++
	} else {
		g.disconnects++
	}
	return nil
}

func (g *recordingGateway) SnapshotState(_ context.Context, _ string, _ pong.State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshots++
	return nil
}

func (g *recordingGateway) RecordStart(_ context.Context, _ string, _ time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.starts++
	return nil
}

func (g *recordingGateway) RecordResult(_ context.Context, _ string, _ time.Time, _ time.Duration, winnerIdentity string, _ pong.Score) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results++
	g.winner = winnerIdentity
	return nil
}

func newTestRegistry(gw *recordingGateway, opts ...RegistryOption) *Registry {
	base := []RegistryOption{
		WithLogger(logging.NewTestLogger()),
		WithGateway(gw),
		WithTickDriverFactory(NopDriverFactory),
	}
	return NewRegistry(append(base, opts...)...)
}

var (
	alice = Identity{ID: "alice", DisplayName: "Alice"}
	bob   = Identity{ID: "bob", DisplayName: "Bob"}
	carol = Identity{ID: "carol", DisplayName: "Carol"}
)

func TestCreateGameEnqueuesWaitingSession(t *testing.T) {
	gw := newRecordingGateway()
	registry := newTestRegistry(gw)

	sess, err := registry.CreateGame(context.Background(), alice)
	if err != nil {
		t.Fatalf("CreateGame returned error: %v", err)
	}
	if sess.ID() == "" {
		t.Fatal("expected a generated session id")
	}
	if sess.Status() != StatusWaiting {
		t.Fatalf("status = %q, want waiting", sess.Status())
	}
	waiting := registry.ListWaiting()
	if len(waiting) != 1 || waiting[0].ID() != sess.ID() {
		t.Fatalf("waiting queue = %v", waiting)
	}
	if len(gw.created) != 1 || gw.created[0] != sess.ID() {
		t.Fatalf("gateway create records = %v", gw.created)
	}
}

func TestJoinAssignsSeatsInArrivalOrder(t *testing.T) {
	gw := newRecordingGateway()
	registry := newTestRegistry(gw)
	sess, _ := registry.CreateGame(context.Background(), alice)

	first := &fakeTransport{}
	seat, err := sess.Join(context.Background(), alice, first)
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	if seat != pong.SeatLeft {
		t.Fatalf("first seat = %d, want left", seat)
	}
	if sess.Status() != StatusWaiting {
		t.Fatalf("status after one join = %q", sess.Status())
	}

	second := &fakeTransport{}
	seat, err = sess.Join(context.Background(), bob, second)
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if seat != pong.SeatRight {
		t.Fatalf("second seat = %d, want right", seat)
	}
	if sess.Status() != StatusActive {
		t.Fatalf("status after both joins = %q, want active", sess.Status())
	}
	if len(registry.ListWaiting()) != 0 {
		t.Fatal("started session should leave the waiting queue")
	}
	if gw.starts != 1 {
		t.Fatalf("gateway starts = %d, want 1", gw.starts)
	}

	//1.- Both players must see the start announcement after their acks.
	for name, transport := range map[string]*fakeTransport{"first": first, "second": second} {
		kinds := transport.types(t)
		if len(kinds) == 0 || kinds[0] != "connected" {
			t.Fatalf("%s transport kinds = %v, want connected first", name, kinds)
		}
		if kinds[len(kinds)-1] != "game_started" {
			t.Fatalf("%s transport kinds = %v, want game_started last", name, kinds)
		}
	}
}

func TestConnectedAckReportsWaitingFlag(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	sess, _ := registry.CreateGame(context.Background(), alice)

	transport := &fakeTransport{}
	if _, err := sess.Join(context.Background(), alice, transport); err != nil {
		t.Fatalf("join: %v", err)
	}

	payload := transport.lastOfType(t, "connected")
	if payload == nil {
		t.Fatal("no connected ack received")
	}
	var ack struct {
		PlayerNumber pong.Seat `json:"playerNumber"`
		GameID       string    `json:"gameId"`
		Waiting      bool      `json:"waitingForPlayer"`
	}
	if err := json.Unmarshal(payload, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.PlayerNumber != pong.SeatLeft || ack.GameID != sess.ID() || !ack.Waiting {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestJoinRejectsThirdIdentity(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	sess, _ := registry.CreateGame(context.Background(), alice)
	if _, err := sess.Join(context.Background(), alice, &fakeTransport{}); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if _, err := sess.Join(context.Background(), bob, &fakeTransport{}); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	_, err := sess.Join(context.Background(), carol, &fakeTransport{})
	if !errors.Is(err, ErrWrongState) && !errors.Is(err, ErrSessionFull) {
		t.Fatalf("expected admission failure, got %v", err)
	}
}

func TestJoinRejectsNewIdentityWhenSeatsAssigned(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	sess, _ := registry.CreateGame(context.Background(), alice)
	if _, err := sess.Join(context.Background(), alice, &fakeTransport{}); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if _, err := sess.Join(context.Background(), bob, &fakeTransport{}); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	//1.- Bob leaving puts the session back to waiting but keeps his seat.
	sess.HandleDisconnect(context.Background(), bob)
	if sess.Status() != StatusWaiting {
		t.Fatalf("status after disconnect = %q", sess.Status())
	}
	if _, err := sess.Join(context.Background(), carol, &fakeTransport{}); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("expected ErrSessionFull for carol, got %v", err)
	}
}

func TestTickBroadcastsStateAndPersists(t *testing.T) {
	gw := newRecordingGateway()
	registry := newTestRegistry(gw)
	sess, _ := registry.CreateGame(context.Background(), alice)
	first := &fakeTransport{}
	second := &fakeTransport{}
	sess.Join(context.Background(), alice, first)
	sess.Join(context.Background(), bob, second)

	for i := 0; i < 5; i++ {
		sess.Tick(time.Second / 60)
	}

	if gw.snapshots == 0 {
		t.Fatal("expected state snapshots to reach the gateway")
	}
	stateCount := 0
	for _, kind := range first.types(t) {
		if kind == "game_state" {
			stateCount++
		}
	}
	if stateCount < 4 {
		t.Fatalf("expected at least 4 game_state broadcasts, got %d", stateCount)
	}
}

func TestPaddleMoveRebroadcastsImmediately(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	sess, _ := registry.CreateGame(context.Background(), alice)
	first := &fakeTransport{}
	second := &fakeTransport{}
	sess.Join(context.Background(), alice, first)
	sess.Join(context.Background(), bob, second)

	before := sess.Snapshot().Paddle1.Y
	sess.HandleMessage(context.Background(), alice, []byte(`{"type":"paddle_move","direction":"up"}`))
	after := sess.Snapshot().Paddle1.Y
	if after >= before {
		t.Fatalf("paddle did not move up: before=%v after=%v", before, after)
	}
	if second.lastOfType(t, "game_state") == nil {
		t.Fatal("opponent should receive an immediate state broadcast")
	}
}

func TestPauseAndResumeMessages(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	sess, _ := registry.CreateGame(context.Background(), alice)
	first := &fakeTransport{}
	second := &fakeTransport{}
	sess.Join(context.Background(), alice, first)
	sess.Join(context.Background(), bob, second)

	sess.HandleMessage(context.Background(), alice, []byte(`{"type":"pause_game"}`))
	if !sess.Snapshot().IsPaused {
		t.Fatal("match should be paused")
	}
	payload := second.lastOfType(t, "game_paused")
	if payload == nil {
		t.Fatal("expected game_paused broadcast")
	}
	var paused struct {
		PausedBy string `json:"pausedBy"`
	}
	if err := json.Unmarshal(payload, &paused); err != nil {
		t.Fatalf("decode pause: %v", err)
	}
	if paused.PausedBy != "Alice" {
		t.Fatalf("pausedBy = %q", paused.PausedBy)
	}

	//1.- A paused tick must not mutate state or broadcast.
	before := sess.Snapshot()
	sess.Tick(time.Second / 60)
	if sess.Snapshot() != before {
		t.Fatal("tick mutated paused state")
	}

	sess.HandleMessage(context.Background(), bob, []byte(`{"type":"resume_game"}`))
	if sess.Snapshot().IsPaused {
		t.Fatal("match should have resumed")
	}
	if first.lastOfType(t, "game_resumed") == nil {
		t.Fatal("expected game_resumed broadcast")
	}
}

func TestUnknownMessageKindIgnored(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	sess, _ := registry.CreateGame(context.Background(), alice)
	sess.Join(context.Background(), alice, &fakeTransport{})
	sess.Join(context.Background(), bob, &fakeTransport{})

	before := sess.Snapshot()
	sess.HandleMessage(context.Background(), alice, []byte(`{"type":"cheat_mode"}`))
	sess.HandleMessage(context.Background(), alice, []byte(`not json at all`))
	if sess.Snapshot() != before {
		t.Fatal("unknown messages must not mutate state")
	}
}

func TestDisconnectRequeuesAndNotifies(t *testing.T) {
	gw := newRecordingGateway()
	registry := newTestRegistry(gw)
	sess, _ := registry.CreateGame(context.Background(), alice)
	first := &fakeTransport{}
	sess.Join(context.Background(), alice, first)
	sess.Join(context.Background(), bob, &fakeTransport{})

	sess.HandleDisconnect(context.Background(), bob)

	if sess.Status() != StatusWaiting {
		t.Fatalf("status = %q, want waiting", sess.Status())
	}
	if sess.Snapshot().IsPaused {
		t.Fatal("match should be left unpaused for the eventual restart")
	}
	waiting := registry.ListWaiting()
	if len(waiting) != 1 || waiting[0].ID() != sess.ID() {
		t.Fatalf("session should be requeued, queue=%v", waiting)
	}
	payload := first.lastOfType(t, "player_disconnected")
	if payload == nil {
		t.Fatal("remaining player should learn about the disconnect")
	}
	var event struct {
		PlayerNumber pong.Seat `json:"playerNumber"`
		DisplayName  string    `json:"displayName"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode disconnect: %v", err)
	}
	if event.PlayerNumber != pong.SeatRight || event.DisplayName != "Bob" {
		t.Fatalf("unexpected disconnect event: %+v", event)
	}
	if gw.disconnects != 1 {
		t.Fatalf("gateway disconnects = %d, want 1", gw.disconnects)
	}

	//1.- Ticks must be inert while the session waits for a replacement.
	before := sess.Snapshot()
	sess.Tick(time.Second / 60)
	if sess.Snapshot() != before {
		t.Fatal("waiting session must not advance")
	}
}

func TestDisconnectOfUnregisteredConnectionIsNoop(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	sess, _ := registry.CreateGame(context.Background(), alice)
	first := &fakeTransport{}
	sess.Join(context.Background(), alice, first)

	sess.HandleDisconnect(context.Background(), bob)
	if got := len(first.types(t)); got != 1 {
		t.Fatalf("expected only the connected ack, got %d payloads", got)
	}
}

func TestReconnectRestoresSeatAndRestarts(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	sess, _ := registry.CreateGame(context.Background(), alice)
	sess.Join(context.Background(), alice, &fakeTransport{})
	if _, err := sess.Join(context.Background(), bob, &fakeTransport{}); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	sess.HandleDisconnect(context.Background(), bob)

	replacement := &fakeTransport{}
	seat, err := sess.Join(context.Background(), bob, replacement)
	if err != nil {
		t.Fatalf("rejoin bob: %v", err)
	}
	if seat != pong.SeatRight {
		t.Fatalf("rejoin seat = %d, want right", seat)
	}
	if sess.Status() != StatusActive {
		t.Fatalf("status after rejoin = %q, want active", sess.Status())
	}
	if len(registry.ListWaiting()) != 0 {
		t.Fatal("restarted session should leave the waiting queue")
	}
	if replacement.lastOfType(t, "game_started") == nil {
		t.Fatal("rejoining player should see the restart announcement")
	}
}

func TestMatchRunsToCompletion(t *testing.T) {
	gw := newRecordingGateway()
	cfg := pong.DefaultConfig()
	cfg.MaxScore = 1
	registry := newTestRegistry(gw,
		WithCourtConfig(cfg),
		WithGracePeriod(20*time.Millisecond))

	sess, _ := registry.CreateGame(context.Background(), alice)
	first := &fakeTransport{}
	second := &fakeTransport{}
	sess.Join(context.Background(), alice, first)
	sess.Join(context.Background(), bob, second)

	//1.- Park both paddles at the top so the centered ball sails past them.
	for i := 0; i < 40; i++ {
		sess.HandleMessage(context.Background(), alice, []byte(`{"type":"paddle_move","direction":"up"}`))
		sess.HandleMessage(context.Background(), bob, []byte(`{"type":"paddle_move","direction":"up"}`))
	}

	for i := 0; i < 20000 && sess.Status() != StatusFinished; i++ {
		sess.Tick(time.Second / 60)
	}
	if sess.Status() != StatusFinished {
		t.Fatal("match never finished")
	}

	state := sess.Snapshot()
	if !state.IsFinished || state.Winner == pong.SeatNone {
		t.Fatalf("unexpected terminal state: %+v", state)
	}
	if gw.results != 1 {
		t.Fatalf("gateway results = %d, want 1", gw.results)
	}
	wantWinner := "alice"
	if state.Winner == pong.SeatRight {
		wantWinner = "bob"
	}
	if gw.winner != wantWinner {
		t.Fatalf("persisted winner = %q, want %q", gw.winner, wantWinner)
	}

	payload := first.lastOfType(t, "game_ended")
	if payload == nil {
		t.Fatal("expected game_ended broadcast")
	}
	var ended struct {
		Winner     pong.Seat  `json:"winner"`
		FinalScore pong.Score `json:"finalScore"`
	}
	if err := json.Unmarshal(payload, &ended); err != nil {
		t.Fatalf("decode game_ended: %v", err)
	}
	if ended.Winner != state.Winner {
		t.Fatalf("broadcast winner = %d, state winner = %d", ended.Winner, state.Winner)
	}

	//2.- Late joins against a finished session are refused.
	if _, err := sess.Join(context.Background(), carol, &fakeTransport{}); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState after finish, got %v", err)
	}

	//3.- The grace timer eventually reaps the session from the registry.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := registry.Get(sess.ID()); errors.Is(err, ErrUnknownSession) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("finished session was never reaped")
}

func TestScoringTickBroadcastsStateAndSnapshot(t *testing.T) {
	gw := newRecordingGateway()
	cfg := pong.DefaultConfig()
	cfg.MaxScore = 2
	registry := newTestRegistry(gw, WithCourtConfig(cfg))

	sess, _ := registry.CreateGame(context.Background(), alice)
	first := &fakeTransport{}
	sess.Join(context.Background(), alice, first)
	sess.Join(context.Background(), bob, &fakeTransport{})

	for i := 0; i < 40; i++ {
		sess.HandleMessage(context.Background(), alice, []byte(`{"type":"paddle_move","direction":"up"}`))
		sess.HandleMessage(context.Background(), bob, []byte(`{"type":"paddle_move","direction":"up"}`))
	}

	//1.- Advance to the first goal and inspect exactly that tick: the score
	// announcement must travel together with the state update and a gateway
	// snapshot, the same as any other tick.
	for i := 0; i < 20000; i++ {
		scoreBefore := sess.Snapshot().Score
		payloadsBefore := len(first.types(t))
		snapshotsBefore := gw.snapshots
		sess.Tick(time.Second / 60)
		if sess.Snapshot().Score == scoreBefore {
			continue
		}

		kinds := first.types(t)[payloadsBefore:]
		if len(kinds) != 2 || kinds[0] != "goal_scored" || kinds[1] != "game_state" {
			t.Fatalf("scoring tick broadcasts = %v, want [goal_scored game_state]", kinds)
		}
		if gw.snapshots != snapshotsBefore+1 {
			t.Fatalf("gateway snapshots on scoring tick = %d, want %d", gw.snapshots, snapshotsBefore+1)
		}
		return
	}
	t.Fatal("no goal was ever scored")
}

func TestReturningPlayerMayRejoinFinishedSession(t *testing.T) {
	gw := newRecordingGateway()
	cfg := pong.DefaultConfig()
	cfg.MaxScore = 1
	registry := newTestRegistry(gw, WithCourtConfig(cfg))

	sess, _ := registry.CreateGame(context.Background(), alice)
	first := &fakeTransport{}
	seatA, _ := sess.Join(context.Background(), alice, first)
	sess.Join(context.Background(), bob, &fakeTransport{})
	for i := 0; i < 40; i++ {
		sess.HandleMessage(context.Background(), alice, []byte(`{"type":"paddle_move","direction":"up"}`))
		sess.HandleMessage(context.Background(), bob, []byte(`{"type":"paddle_move","direction":"up"}`))
	}
	for i := 0; i < 20000 && sess.Status() != StatusFinished; i++ {
		sess.Tick(time.Second / 60)
	}
	if sess.Status() != StatusFinished {
		t.Fatal("match never finished")
	}

	//1.- A seat holder reattaching inside the grace window gets the ack and
	// the final state; only new identities are turned away.
	late := &fakeTransport{}
	seat, err := sess.Join(context.Background(), alice, late)
	if err != nil {
		t.Fatalf("returning join after finish: %v", err)
	}
	if seat != seatA {
		t.Fatalf("rejoin seat = %d, want %d", seat, seatA)
	}
	if late.lastOfType(t, "connected") == nil {
		t.Fatal("expected connected ack for the returning player")
	}
	if sess.Status() != StatusFinished {
		t.Fatalf("status after rejoin = %q, want finished", sess.Status())
	}
	if _, err := sess.Join(context.Background(), carol, &fakeTransport{}); !errors.Is(err, ErrWrongState) {
		t.Fatalf("new identity after finish: got %v, want ErrWrongState", err)
	}
}

func TestRegistryPauseResumeLookups(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	sess, _ := registry.CreateGame(context.Background(), alice)
	sess.Join(context.Background(), alice, &fakeTransport{})

	if err := registry.PauseGame(sess.ID(), alice); !errors.Is(err, ErrWrongState) {
		t.Fatalf("pause on waiting session: got %v, want ErrWrongState", err)
	}
	sess.Join(context.Background(), bob, &fakeTransport{})

	if err := registry.PauseGame(sess.ID(), alice); err != nil {
		t.Fatalf("PauseGame returned error: %v", err)
	}
	if !sess.Snapshot().IsPaused {
		t.Fatal("match should be paused")
	}
	if err := registry.ResumeGame(sess.ID(), bob); err != nil {
		t.Fatalf("ResumeGame returned error: %v", err)
	}
	if sess.Snapshot().IsPaused {
		t.Fatal("match should have resumed")
	}
	if err := registry.PauseGame("missing", alice); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestRegistryGetUnknownSession(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	if _, err := registry.Get("nope"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if _, _, err := registry.Join(context.Background(), "nope", alice, &fakeTransport{}); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession from Join, got %v", err)
	}
}

func TestRegistryDeleteRemovesEverywhere(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	sess, _ := registry.CreateGame(context.Background(), alice)

	registry.Delete(sess.ID())
	if _, err := registry.Get(sess.ID()); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession after delete, got %v", err)
	}
	if len(registry.ListWaiting()) != 0 {
		t.Fatal("deleted session should leave the waiting queue")
	}
	// Deleting twice must not panic.
	registry.Delete(sess.ID())
}

func TestRegistryCountsByStatus(t *testing.T) {
	registry := newTestRegistry(newRecordingGateway())
	waiting, _ := registry.CreateGame(context.Background(), alice)
	active, _ := registry.CreateGame(context.Background(), bob)
	active.Join(context.Background(), alice, &fakeTransport{})
	active.Join(context.Background(), bob, &fakeTransport{})

	counts := registry.Count()
	if counts[StatusWaiting] != 1 || counts[StatusActive] != 1 {
		t.Fatalf("unexpected counts: %v (waiting=%s)", counts, waiting.ID())
	}
}

func TestReplayBundleWrittenForMatch(t *testing.T) {
	gw := newRecordingGateway()
	cfg := pong.DefaultConfig()
	cfg.MaxScore = 1
	root := t.TempDir()
	registry := newTestRegistry(gw, WithCourtConfig(cfg), WithReplayRoot(root))

	sess, _ := registry.CreateGame(context.Background(), alice)
	sess.Join(context.Background(), alice, &fakeTransport{})
	sess.Join(context.Background(), bob, &fakeTransport{})
	for i := 0; i < 40; i++ {
		sess.HandleMessage(context.Background(), alice, []byte(`{"type":"paddle_move","direction":"up"}`))
		sess.HandleMessage(context.Background(), bob, []byte(`{"type":"paddle_move","direction":"up"}`))
	}
	for i := 0; i < 20000 && sess.Status() != StatusFinished; i++ {
		sess.Tick(time.Second / 60)
	}
	if sess.Status() != StatusFinished {
		t.Fatal("match never finished")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("list bundles: %v", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		t.Fatalf("expected one replay bundle directory, got %v", entries)
	}
}
