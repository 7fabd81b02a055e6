package pong

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// Seat identifies one of the two paddle slots in a match.
type Seat int

const (
	// SeatNone marks the absence of a seat, used before a winner exists.
	SeatNone Seat = 0
	// SeatLeft is the paddle guarding the left edge of the court.
	SeatLeft Seat = 1
	// SeatRight is the paddle guarding the right edge of the court.
	SeatRight Seat = 2
)

// Config captures the court geometry and pacing for one match.
type Config struct {
	CourtWidth   float64 `json:"courtWidth"`
	CourtHeight  float64 `json:"courtHeight"`
	PaddleWidth  float64 `json:"paddleWidth"`
	PaddleHeight float64 `json:"paddleHeight"`
	PaddleSpeed  float64 `json:"paddleSpeed"`
	BallSize     float64 `json:"ballSize"`
	BallSpeed    float64 `json:"ballSpeed"`
	MaxScore     int     `json:"maxScore"`
}

// DefaultConfig mirrors the court dimensions the service has always shipped with.
func DefaultConfig() Config {
	return Config{
		CourtWidth:   800,
		CourtHeight:  600,
		PaddleWidth:  15,
		PaddleHeight: 100,
		PaddleSpeed:  8,
		BallSize:     15,
		BallSpeed:    5,
		MaxScore:     11,
	}
}

// Ball carries the projectile position and velocity in court coordinates.
type Ball struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	DX    float64 `json:"dx"`
	DY    float64 `json:"dy"`
	Speed float64 `json:"speed"`
}

// Paddle tracks the vertical position and movement speed of one seat.
type Paddle struct {
	Y     float64 `json:"y"`
	Speed float64 `json:"speed"`
}

// Score holds the running tally for both seats.
type Score struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

// State is a full snapshot of the match suitable for broadcast and persistence.
type State struct {
	Ball       Ball   `json:"ball"`
	Paddle1    Paddle `json:"paddle1"`
	Paddle2    Paddle `json:"paddle2"`
	Score      Score  `json:"score"`
	IsPaused   bool   `json:"isPaused"`
	IsFinished bool   `json:"isFinished"`
	Winner     Seat   `json:"winner,omitempty"`
}

// Direction names the two legal paddle movements.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// UpdateResult reports the observable outcome of a single tick.
type UpdateResult struct {
	Scored    Seat
	GameEnded bool
}

// Game owns the authoritative state of one match. It performs no I/O and is
// not safe for concurrent use; the owning session serializes access.
type Game struct {
	cfg   Config
	state State
	rng   *rand.Rand
}

// Option configures optional Game behaviour at construction time.
type Option func(*Game)

// WithRand injects a deterministic random source, primarily for tests.
func WithRand(rng *rand.Rand) Option {
	return func(g *Game) {
		//1.- Replace the default PRNG so serve directions become reproducible.
		if rng != nil {
			g.rng = rng
		}
	}
}

var gameSeedCounter atomic.Int64

// NewGame constructs a match with the ball served in a random direction.
func NewGame(cfg Config, opts ...Option) *Game {
	if cfg.MaxScore <= 0 {
		cfg = DefaultConfig()
	}
	//1.- Mix a counter into the seed so games created in the same nanosecond diverge.
	seed := time.Now().UnixNano() ^ gameSeedCounter.Add(1)<<32
	game := &Game{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(game)
		}
	}
	game.state = game.initialState()
	return game
}

func (g *Game) initialState() State {
	//1.- Centre the ball and both paddles, then draw the opening serve.
	paddleY := g.cfg.CourtHeight/2 - g.cfg.PaddleHeight/2
	return State{
		Ball: Ball{
			X:     g.cfg.CourtWidth / 2,
			Y:     g.cfg.CourtHeight / 2,
			DX:    g.serveDX(),
			DY:    (g.rng.Float64() - 0.5) * 4,
			Speed: g.cfg.BallSpeed,
		},
		Paddle1: Paddle{Y: paddleY, Speed: g.cfg.PaddleSpeed},
		Paddle2: Paddle{Y: paddleY, Speed: g.cfg.PaddleSpeed},
	}
}

func (g *Game) serveDX() float64 {
	if g.rng.Float64() > 0.5 {
		return g.cfg.BallSpeed
	}
	return -g.cfg.BallSpeed
}

// Config exposes the geometry the game was built with.
func (g *Game) Config() Config {
	if g == nil {
		return Config{}
	}
	return g.cfg
}

// State returns a copy of the current match state.
func (g *Game) State() State {
	if g == nil {
		return State{}
	}
	return g.state
}

// MovePaddle shifts the named seat's paddle and clamps it to the court.
func (g *Game) MovePaddle(seat Seat, direction Direction) {
	if g == nil || g.state.IsPaused || g.state.IsFinished {
		return
	}
	paddle := &g.state.Paddle1
	if seat == SeatRight {
		paddle = &g.state.Paddle2
	}
	movement := paddle.Speed
	if direction == DirectionUp {
		movement = -paddle.Speed
	}
	//1.- Clamp the new position so the paddle never leaves the court.
	paddle.Y = math.Max(0, math.Min(g.cfg.CourtHeight-g.cfg.PaddleHeight, paddle.Y+movement))
}

// Update advances the simulation by one tick and reports scores and endings.
func (g *Game) Update() UpdateResult {
	if g == nil || g.state.IsPaused || g.state.IsFinished {
		return UpdateResult{}
	}

	//1.- Integrate the ball and bounce it off the horizontal walls.
	g.advanceBall()
	//2.- Resolve paddle collisions before the ball can cross a goal line.
	g.resolveCollisions()

	var result UpdateResult
	//3.- Award a point when the ball fully clears either edge, then re-serve.
	if scorer := g.checkScore(); scorer != SeatNone {
		result.Scored = scorer
		g.resetBall()
		if winner := g.checkGameEnd(); winner != SeatNone {
			g.state.IsFinished = true
			g.state.Winner = winner
			result.GameEnded = true
		}
	}
	return result
}

func (g *Game) advanceBall() {
	ball := &g.state.Ball
	ball.X += ball.DX
	ball.Y += ball.DY

	if ball.Y <= 0 || ball.Y >= g.cfg.CourtHeight-g.cfg.BallSize {
		ball.DY = -ball.DY
	}
}

func (g *Game) resolveCollisions() {
	ball := &g.state.Ball

	if ball.X <= g.cfg.PaddleWidth {
		if ball.Y >= g.state.Paddle1.Y && ball.Y <= g.state.Paddle1.Y+g.cfg.PaddleHeight {
			//1.- Send the ball back toward the interior with a small vertical tweak.
			ball.DX = math.Abs(ball.DX)
			ball.DY += (g.rng.Float64() - 0.5) * 2
			//2.- Reposition just outside the paddle plane so the hit cannot re-trigger.
			ball.X = g.cfg.PaddleWidth + 1
		}
	}

	if ball.X >= g.cfg.CourtWidth-g.cfg.PaddleWidth-g.cfg.BallSize {
		if ball.Y >= g.state.Paddle2.Y && ball.Y <= g.state.Paddle2.Y+g.cfg.PaddleHeight {
			ball.DX = -math.Abs(ball.DX)
			ball.DY += (g.rng.Float64() - 0.5) * 2
			ball.X = g.cfg.CourtWidth - g.cfg.PaddleWidth - g.cfg.BallSize - 1
		}
	}
}

func (g *Game) checkScore() Seat {
	ball := g.state.Ball
	if ball.X+g.cfg.BallSize < 0 {
		g.state.Score.Player2++
		return SeatRight
	}
	if ball.X > g.cfg.CourtWidth {
		g.state.Score.Player1++
		return SeatLeft
	}
	return SeatNone
}

func (g *Game) resetBall() {
	ball := &g.state.Ball
	ball.X = g.cfg.CourtWidth/2 - g.cfg.BallSize/2
	ball.Y = g.cfg.CourtHeight/2 - g.cfg.BallSize/2
	ball.DX = g.serveDX()
	//1.- Force a meaningful vertical component so serves never crawl along the axis.
	dy := (g.rng.Float64() - 0.5) * 4
	if math.Abs(dy) < 1 {
		if dy < 0 {
			dy = -1
		} else {
			dy = 1
		}
	}
	ball.DY = dy
}

func (g *Game) checkGameEnd() Seat {
	if g.state.Score.Player1 >= g.cfg.MaxScore {
		return SeatLeft
	}
	if g.state.Score.Player2 >= g.cfg.MaxScore {
		return SeatRight
	}
	return SeatNone
}

// Pause suspends the simulation; Update and MovePaddle become no-ops.
func (g *Game) Pause() {
	if g == nil {
		return
	}
	g.state.IsPaused = true
}

// Resume lifts a pause.
func (g *Game) Resume() {
	if g == nil {
		return
	}
	g.state.IsPaused = false
}

// Reset discards all progress and serves a fresh match.
func (g *Game) Reset() {
	if g == nil {
		return
	}
	g.state = g.initialState()
}
