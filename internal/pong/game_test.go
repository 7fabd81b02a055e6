package pong

import (
	"math"
	"math/rand"
	"testing"
)

func newTestGame(seed int64) *Game {
	return NewGame(DefaultConfig(), WithRand(rand.New(rand.NewSource(seed))))
}

func TestNewGameCentresCourt(t *testing.T) {
	game := newTestGame(1)
	state := game.State()

	cfg := game.Config()
	if state.Ball.X != cfg.CourtWidth/2 || state.Ball.Y != cfg.CourtHeight/2 {
		t.Fatalf("ball not centred: %+v", state.Ball)
	}
	if math.Abs(state.Ball.DX) != cfg.BallSpeed {
		t.Fatalf("serve speed mismatch: dx=%v want |%v|", state.Ball.DX, cfg.BallSpeed)
	}
	if state.Ball.DY < -2 || state.Ball.DY > 2 {
		t.Fatalf("initial dy out of range: %v", state.Ball.DY)
	}
	wantPaddleY := cfg.CourtHeight/2 - cfg.PaddleHeight/2
	if state.Paddle1.Y != wantPaddleY || state.Paddle2.Y != wantPaddleY {
		t.Fatalf("paddles not centred: %v %v", state.Paddle1.Y, state.Paddle2.Y)
	}
	if state.Score.Player1 != 0 || state.Score.Player2 != 0 {
		t.Fatalf("score not zeroed: %+v", state.Score)
	}
	if state.IsPaused || state.IsFinished || state.Winner != SeatNone {
		t.Fatalf("unexpected lifecycle flags: %+v", state)
	}
}

func TestMovePaddleClampsToCourt(t *testing.T) {
	game := newTestGame(2)
	cfg := game.Config()

	//1.- Hammer the top boundary well past the point of clamping.
	for i := 0; i < 200; i++ {
		game.MovePaddle(SeatLeft, DirectionUp)
		if y := game.State().Paddle1.Y; y < 0 {
			t.Fatalf("paddle escaped top boundary: %v", y)
		}
	}
	if y := game.State().Paddle1.Y; y != 0 {
		t.Fatalf("expected paddle pinned at 0, got %v", y)
	}

	//2.- Repeated up moves from the boundary must be idempotent.
	game.MovePaddle(SeatLeft, DirectionUp)
	if y := game.State().Paddle1.Y; y != 0 {
		t.Fatalf("clamp not idempotent: %v", y)
	}

	limit := cfg.CourtHeight - cfg.PaddleHeight
	for i := 0; i < 200; i++ {
		game.MovePaddle(SeatRight, DirectionDown)
		if y := game.State().Paddle2.Y; y > limit {
			t.Fatalf("paddle escaped bottom boundary: %v", y)
		}
	}
	if y := game.State().Paddle2.Y; y != limit {
		t.Fatalf("expected paddle pinned at %v, got %v", limit, y)
	}
}

func TestMovePaddleIgnoredWhilePausedOrFinished(t *testing.T) {
	game := newTestGame(3)
	game.Pause()
	before := game.State().Paddle1.Y
	game.MovePaddle(SeatLeft, DirectionUp)
	if game.State().Paddle1.Y != before {
		t.Fatal("paddle moved while paused")
	}

	game.Resume()
	game.state.IsFinished = true
	game.MovePaddle(SeatLeft, DirectionUp)
	if game.State().Paddle1.Y != before {
		t.Fatal("paddle moved after finish")
	}
}

func TestUpdateIsNoOpWhilePausedOrFinished(t *testing.T) {
	game := newTestGame(4)
	game.Pause()
	before := game.State()
	if result := game.Update(); result != (UpdateResult{}) {
		t.Fatalf("paused update produced result: %+v", result)
	}
	if game.State() != before {
		t.Fatal("paused update mutated state")
	}

	game.Resume()
	game.state.IsFinished = true
	before = game.State()
	if result := game.Update(); result != (UpdateResult{}) {
		t.Fatalf("finished update produced result: %+v", result)
	}
	if game.State() != before {
		t.Fatal("finished update mutated state")
	}
}

func TestBallReflectsOffWalls(t *testing.T) {
	game := newTestGame(5)
	game.state.Ball = Ball{X: 400, Y: 1, DX: 0, DY: -3, Speed: 5}
	game.Update()
	if dy := game.State().Ball.DY; dy <= 0 {
		t.Fatalf("expected downward reflection, dy=%v", dy)
	}

	cfg := game.Config()
	game.state.Ball = Ball{X: 400, Y: cfg.CourtHeight - cfg.BallSize - 1, DX: 0, DY: 3, Speed: 5}
	game.Update()
	if dy := game.State().Ball.DY; dy >= 0 {
		t.Fatalf("expected upward reflection, dy=%v", dy)
	}
}

func TestPaddleCollisionReversesBall(t *testing.T) {
	game := newTestGame(6)
	cfg := game.Config()

	//1.- Aim the ball at the left paddle's vertical span.
	game.state.Paddle1.Y = 250
	game.state.Ball = Ball{X: cfg.PaddleWidth + 2, Y: 300, DX: -5, DY: 0, Speed: 5}
	game.Update()

	ball := game.State().Ball
	if ball.DX <= 0 {
		t.Fatalf("expected dx reversed toward interior, got %v", ball.DX)
	}
	if ball.X != cfg.PaddleWidth+1 {
		t.Fatalf("ball not repositioned outside paddle plane: %v", ball.X)
	}
}

func TestScoringIncrementsAndServes(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		game := newTestGame(seed)
		cfg := game.Config()

		//1.- Park the ball past the left edge so the right seat scores.
		game.state.Ball = Ball{X: -cfg.BallSize - 10, Y: 100, DX: -5, DY: 0, Speed: 5}
		result := game.Update()
		if result.Scored != SeatRight {
			t.Fatalf("seed %d: expected right seat to score, got %v", seed, result.Scored)
		}
		state := game.State()
		if state.Score.Player2 != 1 || state.Score.Player1 != 0 {
			t.Fatalf("seed %d: unexpected score %+v", seed, state.Score)
		}
		//2.- The re-serve must carry a meaningful vertical component.
		if math.Abs(state.Ball.DY) < 1 {
			t.Fatalf("seed %d: degenerate serve dy=%v", seed, state.Ball.DY)
		}
		if math.Abs(state.Ball.DX) != cfg.BallSpeed {
			t.Fatalf("seed %d: serve dx=%v", seed, state.Ball.DX)
		}
	}
}

func TestScoringRightEdge(t *testing.T) {
	game := newTestGame(7)
	cfg := game.Config()
	game.state.Ball = Ball{X: cfg.CourtWidth + 10, Y: 100, DX: 5, DY: 0, Speed: 5}
	result := game.Update()
	if result.Scored != SeatLeft {
		t.Fatalf("expected left seat to score, got %v", result.Scored)
	}
	if score := game.State().Score; score.Player1 != 1 || score.Player2 != 0 {
		t.Fatalf("unexpected score %+v", score)
	}
}

func TestGameFinishesAtThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 2
	game := NewGame(cfg, WithRand(rand.New(rand.NewSource(8))))

	for i := 0; i < 2; i++ {
		game.state.Ball = Ball{X: cfg.CourtWidth + 10, Y: 100, DX: 5, DY: 0, Speed: 5}
		result := game.Update()
		if i == 0 && result.GameEnded {
			t.Fatal("game ended before threshold")
		}
		if i == 1 && !result.GameEnded {
			t.Fatal("game did not end at threshold")
		}
	}

	state := game.State()
	if !state.IsFinished || state.Winner != SeatLeft {
		t.Fatalf("unexpected terminal state: %+v", state)
	}
	//1.- Further updates must leave the finished match untouched.
	if result := game.Update(); result != (UpdateResult{}) {
		t.Fatalf("finished game still updating: %+v", result)
	}
}

func TestResetDiscardsProgress(t *testing.T) {
	game := newTestGame(9)
	cfg := game.Config()
	game.state.Ball = Ball{X: cfg.CourtWidth + 10, Y: 100, DX: 5, DY: 0, Speed: 5}
	game.Update()
	game.Pause()

	game.Reset()
	state := game.State()
	if state.Score.Player1 != 0 || state.Score.Player2 != 0 {
		t.Fatalf("score survived reset: %+v", state.Score)
	}
	if state.IsPaused || state.IsFinished {
		t.Fatalf("lifecycle flags survived reset: %+v", state)
	}
}
