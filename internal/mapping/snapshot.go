package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the persisted form of a mapping session: the grid's cell sets,
// the robot trail, the mapper counters and the raw-reading log.
type Snapshot struct {
	CellSize    float64       `json:"cell_size"`
	Occupied    [][2]int      `json:"occupied"`
	Free        [][2]int      `json:"free"`
	LogOdds     [][3]float64  `json:"log_odds"`
	Trail       [][2]float64  `json:"trail"`
	Updates     int           `json:"updates"`
	Rejected    int           `json:"rejected"`
	Corrections int           `json:"corrections"`
	RawLog      [][6]float64  `json:"raw_log"`
}

// Snapshot captures the mapper's full persistable state.
func (m *Mapper) Snapshot() *Snapshot {
	cells := m.grid.Cells()
	trail := m.grid.Trail()
	updates, rejected, corrections, _ := m.Counters()
	rawLog := m.RawLog()

	snap := &Snapshot{
		CellSize:    CellSize,
		Occupied:    [][2]int{},
		Free:        [][2]int{},
		LogOdds:     make([][3]float64, 0, len(cells)),
		Trail:       make([][2]float64, 0, len(trail)),
		Updates:     updates,
		Rejected:    rejected,
		Corrections: corrections,
		RawLog:      make([][6]float64, 0, len(rawLog)),
	}

	for cell, v := range cells {
		snap.LogOdds = append(snap.LogOdds, [3]float64{float64(cell.IX), float64(cell.IZ), v})
		if v >= OccThresh {
			snap.Occupied = append(snap.Occupied, [2]int{cell.IX, cell.IZ})
		} else if v <= FreeThresh {
			snap.Free = append(snap.Free, [2]int{cell.IX, cell.IZ})
		}
	}
	for _, p := range trail {
		snap.Trail = append(snap.Trail, [2]float64{p.X, p.Z})
	}
	for _, r := range rawLog {
		accepted := 0.0
		if r.Accepted {
			accepted = 1.0
		}
		snap.RawLog = append(snap.RawLog, [6]float64{
			r.X, r.Z, r.Heading, float64(r.DistCm), accepted, float64(r.PoseTs),
		})
	}
	return snap
}

// RestoreGrid rebuilds a grid from a snapshot's log-odds list.
func RestoreGrid(snap *Snapshot) *Grid {
	g := NewGrid()
	for _, entry := range snap.LogOdds {
		g.Set(Cell{IX: int(entry[0]), IZ: int(entry[1])}, entry[2])
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range snap.Trail {
		g.trail = append(g.trail, Point{X: p[0], Z: p[1]})
	}
	return g
}

// WriteSnapshot serialises the snapshot to a timestamped file under dir and
// returns the path.
func WriteSnapshot(snap *Snapshot, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("map_%s.json", now.Format("20060102_150405")))
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

// ReadSnapshot loads a snapshot file.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &snap, nil
}
