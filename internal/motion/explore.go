package motion

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/JocelynWordSmith/polly/internal/mapping"
	"github.com/JocelynWordSmith/polly/internal/monitoring"
	"github.com/JocelynWordSmith/polly/internal/nav"
)

const (
	headingToleranceRad = 15 * math.Pi / 180
	lookaheadCells      = 3
	maxReplansPerTarget = 3
	maxFailedTargets    = 5
)

// Explore is the frontier-driven controller: repeatedly pick the nearest
// frontier cluster reachable by A*, follow the path with continuous
// clearance checks, and rescan on arrival. Exploration is complete when no
// frontiers remain or too many targets fail in a row.
type Explore struct {
	controller
	complete atomic.Bool
}

// NewExplore creates an Explore controller.
func NewExplore(drive Drive, mapper *mapping.Mapper, params Params) *Explore {
	return &Explore{controller: controller{drive: drive, mapper: mapper, params: params.withDefaults()}}
}

// Complete reports whether exploration finished on its own.
func (e *Explore) Complete() bool {
	return e.complete.Load()
}

// Run explores until the map has no frontiers, the failure budget is spent,
// or the context is cancelled. An unconditional stop is issued on exit.
func (e *Explore) Run(ctx context.Context) error {
	defer e.drive.Stop()

	if !e.waitForMapping(ctx) {
		monitoring.Logf("explore: no mapping updates, not moving")
		return ctx.Err()
	}

	monitoring.Logf("explore: initial scan")
	if !e.scan360(ctx) {
		return ctx.Err()
	}

	consecutiveFailures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cells := e.mapper.Grid().Cells()
		x, z := e.position()
		robot := mapping.CellAt(x, z)

		frontiers := nav.FindFrontiers(cells)
		if len(frontiers) == 0 {
			monitoring.Logf("explore: no frontiers left, exploration complete")
			e.complete.Store(true)
			return nil
		}

		clusters := nav.ClusterFrontiers(frontiers)
		nav.SortByDistance(clusters, robot)

		reached := false
		planned := false
		for _, cluster := range clusters {
			goal := mapping.Cell{IX: int(math.Round(cluster.CentroidIX)), IZ: int(math.Round(cluster.CentroidIZ))}
			path := nav.Plan(cells, robot, goal)
			if len(path) < 2 {
				continue
			}
			planned = true
			monitoring.Logf("explore: following %d-cell path to frontier (%d,%d)", len(path), goal.IX, goal.IZ)
			reached = e.followPath(ctx, path)
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if reached {
			consecutiveFailures = 0
			if !e.scan360(ctx) {
				return ctx.Err()
			}
			continue
		}

		consecutiveFailures++
		if !planned {
			monitoring.Logf("explore: no reachable frontier cluster (%d/%d failures)",
				consecutiveFailures, maxFailedTargets)
		}
		if consecutiveFailures >= maxFailedTargets {
			monitoring.Logf("explore: %d consecutive targets failed, stopping", consecutiveFailures)
			e.complete.Store(true)
			return nil
		}
	}
}

// followPath drives the planned path with a sliding lookahead window,
// re-planning around new obstacles up to maxReplansPerTarget times.
// Returns true when the final waypoint is reached within one cell.
func (e *Explore) followPath(ctx context.Context, path []mapping.Cell) bool {
	goal := path[len(path)-1]
	replans := 0

	for {
		if ctx.Err() != nil {
			return false
		}

		x, z := e.position()
		robot := mapping.CellAt(x, z)
		if chebyshev(robot, goal) <= 1 {
			return true
		}

		// Choose the farthest waypoint within the lookahead window ahead of
		// the closest path cell.
		idx := closestIndex(path, robot)
		target := path[min(idx+lookaheadCells, len(path)-1)]
		targetX := (float64(target.IX) + 0.5) * mapping.CellSize
		targetZ := (float64(target.IZ) + 0.5) * mapping.CellSize

		if !e.turnToward(ctx, targetX, targetZ) {
			return false
		}

		dist := e.drive.DistanceCm()
		if (dist >= 0 && dist <= obstacleNearCm) || !e.pathClearAhead(0) {
			if replans >= maxReplansPerTarget {
				return false
			}
			replans++
			monitoring.Logf("explore: path blocked, re-plan %d/%d", replans, maxReplansPerTarget)
			cells := e.mapper.Grid().Cells()
			path = nav.Plan(cells, robot, goal)
			if len(path) < 2 {
				return false
			}
			continue
		}

		if !e.forwardStep(ctx) {
			return false
		}
	}
}

// turnToward rotates in place until the heading error to the target point is
// within tolerance, bounded by maxTurnSteps.
func (e *Explore) turnToward(ctx context.Context, targetX, targetZ float64) bool {
	for step := 0; step < maxTurnSteps; step++ {
		x, z := e.position()
		desired := math.Atan2(targetZ-z, targetX-x)
		err := angleDiff(desired, e.heading())
		if math.Abs(err) < headingToleranceRad {
			return true
		}
		dir := 1
		if err < 0 {
			dir = -1
		}
		if !e.rotateStep(ctx, dir) {
			return false
		}
	}
	return true
}

func closestIndex(path []mapping.Cell, robot mapping.Cell) int {
	best := 0
	bestDist := chebyshev(path[0], robot)
	for i, cell := range path {
		if d := chebyshev(cell, robot); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func chebyshev(a, b mapping.Cell) int {
	dx := a.IX - b.IX
	if dx < 0 {
		dx = -dx
	}
	dz := a.IZ - b.IZ
	if dz < 0 {
		dz = -dz
	}
	if dx > dz {
		return dx
	}
	return dz
}
