package motion

import (
	"context"
	"math"

	"github.com/JocelynWordSmith/polly/internal/mapping"
	"github.com/JocelynWordSmith/polly/internal/monitoring"
)

// Wander is the reactive random-walk controller: drive forward while the
// ultrasonic and the grid agree the way is clear, otherwise turn toward
// whichever side looks open.
type Wander struct {
	controller
}

// NewWander creates a Wander controller.
func NewWander(drive Drive, mapper *mapping.Mapper, params Params) *Wander {
	return &Wander{controller{drive: drive, mapper: mapper, params: params.withDefaults()}}
}

// Run drives until the context is cancelled. An unconditional stop is issued
// on every exit path.
func (w *Wander) Run(ctx context.Context) error {
	defer w.drive.Stop()

	if !w.waitForMapping(ctx) {
		monitoring.Logf("wander: no mapping updates, not moving")
		return ctx.Err()
	}

	monitoring.Logf("wander: initial scan")
	if !w.scan360(ctx) {
		return ctx.Err()
	}

	turnDir := 1
	turnSteps := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		dist := w.drive.DistanceCm()
		if dist > obstacleNearCm && w.pathClearAhead(0) {
			turnSteps = 0
			if !w.forwardStep(ctx) {
				return ctx.Err()
			}
			continue
		}

		// Blocked: prefer whichever side the grid says is open, fall back
		// to the current default direction.
		switch {
		case w.pathClearAhead(math.Pi / 2):
			turnDir = 1
		case w.pathClearAhead(-math.Pi / 2):
			turnDir = -1
		}
		if !w.rotateStep(ctx, turnDir) {
			return ctx.Err()
		}
		turnSteps++

		if turnSteps >= maxTurnSteps {
			monitoring.Logf("wander: boxed in after %d turn steps, reversing", turnSteps)
			if !w.reverseStep(ctx) {
				return ctx.Err()
			}
			turnDir = -turnDir
			turnSteps = 0
		}
	}
}
