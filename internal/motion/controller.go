// Package motion implements the Wander and Explore drive controllers. Both
// are single cooperative tasks built on the stop-and-settle pattern: issue a
// motor command, sleep, stop, settle, sense while stationary, decide. Range
// readings are only trusted while the vehicle is not moving.
package motion

import (
	"context"
	"math"
	"time"

	"github.com/JocelynWordSmith/polly/internal/mapping"
)

// Drive is the motor and range surface the controllers need. The MCU bridge
// satisfies it through a thin adapter in the supervisor.
type Drive interface {
	// Motors sets the signed tank-drive pair.
	Motors(d1, d2 int)
	// Stop halts both motors unconditionally.
	Stop()
	// DistanceCm returns the latest forward ultrasonic reading, -1 if none.
	DistanceCm() int
}

// Clearance tuning shared by both controllers.
const (
	maxTurnSteps   = 15
	obstacleNearCm = 20
	lookaheadDist  = 0.30 // metres of forward clearance checked before a burst
	robotHalfWidth = 0.09
)

// Params configures motor speeds and step timing for a controller run.
// Zero durations take the defaults; tests shrink them.
type Params struct {
	DriveSpeed int
	TurnSpeed  int

	Settle      time.Duration // pause after every stop before sensing
	Forward     time.Duration // forward burst length
	Turn        time.Duration // in-place turn step length
	Reverse     time.Duration // reverse burst length
	MappingWait time.Duration // how long to wait for the first accepted update
}

// DefaultParams returns the stock chassis speeds and step timing.
func DefaultParams() Params {
	return Params{DriveSpeed: 150, TurnSpeed: 130}.withDefaults()
}

func (p Params) withDefaults() Params {
	if p.Settle == 0 {
		p.Settle = 300 * time.Millisecond
	}
	if p.Forward == 0 {
		p.Forward = 250 * time.Millisecond
	}
	if p.Turn == 0 {
		p.Turn = 200 * time.Millisecond
	}
	if p.Reverse == 0 {
		p.Reverse = 400 * time.Millisecond
	}
	if p.MappingWait == 0 {
		p.MappingWait = 10 * time.Second
	}
	return p
}

// controller is the machinery shared by Wander and Explore.
type controller struct {
	drive  Drive
	mapper *mapping.Mapper
	params Params
}

// sleep waits d or until cancellation, returning false on cancellation.
func (c *controller) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// stopAndSettle halts the motors and waits for the chassis to stop rocking
// so the next heading and range sample are trustworthy.
func (c *controller) stopAndSettle(ctx context.Context) bool {
	c.drive.Stop()
	return c.sleep(ctx, c.params.Settle)
}

// waitForMapping blocks until the mapper has accepted at least one range
// update, bounded by MappingWait. Returns false on timeout or cancellation:
// the pose source or MCU is absent and driving blind helps nobody.
func (c *controller) waitForMapping(ctx context.Context) bool {
	deadline := time.Now().Add(c.params.MappingWait)
	poll := c.params.Settle
	for time.Now().Before(deadline) {
		if updates, _, _, _ := c.mapper.Counters(); updates > 0 {
			return true
		}
		if !c.sleep(ctx, poll) {
			return false
		}
	}
	return false
}

// heading returns the current drift-corrected heading.
func (c *controller) heading() float64 {
	pose, _ := c.mapper.Pose()
	return pose.Heading()
}

// position returns the current drift-corrected planar position.
func (c *controller) position() (float64, float64) {
	pose, _ := c.mapper.Pose()
	return pose.TX, pose.TZ
}

// rotateStep turns in place for one Turn step. dir > 0 turns one way,
// dir < 0 the other.
func (c *controller) rotateStep(ctx context.Context, dir int) bool {
	if dir >= 0 {
		c.drive.Motors(c.params.TurnSpeed, -c.params.TurnSpeed)
	} else {
		c.drive.Motors(-c.params.TurnSpeed, c.params.TurnSpeed)
	}
	if !c.sleep(ctx, c.params.Turn) {
		c.drive.Stop()
		return false
	}
	return c.stopAndSettle(ctx)
}

// forwardStep drives forward for one Forward burst.
func (c *controller) forwardStep(ctx context.Context) bool {
	c.drive.Motors(c.params.DriveSpeed, c.params.DriveSpeed)
	if !c.sleep(ctx, c.params.Forward) {
		c.drive.Stop()
		return false
	}
	return c.stopAndSettle(ctx)
}

// reverseStep backs up for one Reverse burst.
func (c *controller) reverseStep(ctx context.Context) bool {
	c.drive.Motors(-c.params.DriveSpeed, -c.params.DriveSpeed)
	if !c.sleep(ctx, c.params.Reverse) {
		c.drive.Stop()
		return false
	}
	return c.stopAndSettle(ctx)
}

// scan360 rotates in place until the accumulated heading change reaches a
// full turn, recording the readings as a scan profile for drift correction.
func (c *controller) scan360(ctx context.Context) bool {
	c.mapper.StartScanRecording()
	defer c.mapper.StopScanRecording()

	last := c.heading()
	accumulated := 0.0
	// Bound the spin so a stuck chassis cannot loop forever.
	for step := 0; step < 4*maxTurnSteps; step++ {
		if !c.rotateStep(ctx, 1) {
			return false
		}
		now := c.heading()
		accumulated += math.Abs(angleDiff(now, last))
		last = now
		if accumulated >= 2*math.Pi {
			return true
		}
	}
	return true
}

// pathClearAhead checks grid clearance from the current pose.
func (c *controller) pathClearAhead(headingOffset float64) bool {
	x, z := c.position()
	return c.mapper.Grid().IsPathClear(x, z, c.heading()+headingOffset, lookaheadDist, robotHalfWidth)
}

func angleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	}
	if d < -math.Pi {
		d += 2 * math.Pi
	}
	return d
}
