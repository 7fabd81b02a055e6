package session

import (
	"context"

	"paddlearena/engine/internal/simulation"
)

// TickDriver runs a session's periodic step until its context is cancelled.
type TickDriver interface {
	Start(ctx context.Context)
}

// TickDriverFactory builds the driver that paces one session's simulation.
// Production uses the accumulator loop; tests substitute a driver that never
// fires so they can invoke Tick directly.
type TickDriverFactory func(tickRate float64, step simulation.StepFunc) TickDriver

// LoopDriverFactory paces sessions with the fixed-step accumulator loop.
func LoopDriverFactory(tickRate float64, step simulation.StepFunc) TickDriver {
	return simulation.NewLoop(tickRate, step)
}

type nopDriver struct{}

func (nopDriver) Start(context.Context) {}

// NopDriverFactory returns a driver that never ticks on its own.
func NopDriverFactory(float64, simulation.StepFunc) TickDriver {
	return nopDriver{}
}
