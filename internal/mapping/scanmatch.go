package mapping

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/JocelynWordSmith/polly/internal/monitoring"
)

// matchScan compares a candidate profile against the reference and, when the
// match is reliable, applies the median hit-point displacement to the drift
// offset. Matching is translation-only: per-axis medians, no rotation. A
// rotationally drifting pose source therefore yields biased translation
// corrections; that is a known limitation of the profile format.
func (m *Mapper) matchScan(ref, cand *ScanProfile) {
	var dxs, dzs []float64

	for _, c := range cand.Readings {
		best := -1
		bestDiff := math.MaxFloat64
		for i, r := range ref.Readings {
			diff := math.Abs(angleDiff(c.Heading, r.Heading))
			if diff < bestDiff {
				bestDiff = diff
				best = i
			}
		}
		if best < 0 || bestDiff > maxHeadingDiffRad {
			continue
		}
		r := ref.Readings[best]
		dxs = append(dxs, c.HitX-r.HitX)
		dzs = append(dzs, c.HitZ-r.HitZ)
	}

	if len(dxs) < minScanMatches {
		monitoring.Logf("mapper: scan match skipped, only %d heading pairs", len(dxs))
		return
	}
	if spread(dxs) > maxMatchSpreadM || spread(dzs) > maxMatchSpreadM {
		monitoring.Logf("mapper: scan match rejected, spread dx=%.2f dz=%.2f", spread(dxs), spread(dzs))
		return
	}

	dx := median(dxs)
	dz := median(dzs)

	m.mu.Lock()
	// The candidate hits already include the current offset; the residual
	// displacement is how far the pose source has drifted since.
	m.driftX -= dx
	m.driftZ -= dz
	applied := math.Hypot(dx, dz) > minCorrectionM
	if applied {
		m.correctionCount++
	}
	totalX, totalZ := m.driftX, m.driftZ
	m.mu.Unlock()

	if applied {
		monitoring.Logf("mapper: drift correction (%.3f, %.3f), total offset (%.3f, %.3f)",
			-dx, -dz, totalX, totalZ)
		if m.OnCorrection != nil {
			m.OnCorrection(-dx, -dz, totalX, totalZ)
		}
	}
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

func spread(values []float64) float64 {
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min
}
