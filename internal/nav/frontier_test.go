package nav

import (
	"testing"

	"github.com/JocelynWordSmith/polly/internal/mapping"
)

func free() float64 { return mapping.FreeThresh - 0.1 }
func occ() float64  { return mapping.OccThresh + 1.5 }

func TestFindFrontiers(t *testing.T) {
	cells := map[mapping.Cell]float64{
		{IX: 0, IZ: 0}: free(), // borders unknown on three sides
		{IX: 1, IZ: 0}: free(),
		{IX: 2, IZ: 0}: occ(),
	}
	frontiers := FindFrontiers(cells)
	if len(frontiers) != 2 {
		t.Fatalf("found %d frontiers, want 2: %v", len(frontiers), frontiers)
	}
}

// TestNoFrontiersWhenEnclosed is the exploration-termination seed: free
// cells surrounded only by known cells yield no frontiers.
func TestNoFrontiersWhenEnclosed(t *testing.T) {
	cells := map[mapping.Cell]float64{}
	// 3x3 block of free cells...
	for ix := 0; ix < 3; ix++ {
		for iz := 0; iz < 3; iz++ {
			cells[mapping.Cell{IX: ix, IZ: iz}] = free()
		}
	}
	// ...walled in on every side
	for i := -1; i <= 3; i++ {
		cells[mapping.Cell{IX: i, IZ: -1}] = occ()
		cells[mapping.Cell{IX: i, IZ: 3}] = occ()
		cells[mapping.Cell{IX: -1, IZ: i}] = occ()
		cells[mapping.Cell{IX: 3, IZ: i}] = occ()
	}

	if frontiers := FindFrontiers(cells); len(frontiers) != 0 {
		t.Errorf("enclosed grid produced %d frontiers: %v", len(frontiers), frontiers)
	}
}

func TestOccupiedAndUnknownAreNotFrontiers(t *testing.T) {
	cells := map[mapping.Cell]float64{
		{IX: 0, IZ: 0}: occ(),
		{IX: 1, IZ: 0}: 0.0, // known but neither free nor occupied
	}
	if frontiers := FindFrontiers(cells); len(frontiers) != 0 {
		t.Errorf("non-free cells became frontiers: %v", frontiers)
	}
}

func TestClusterFrontiers(t *testing.T) {
	// two separate groups: a 3-cell run and a single cell far away
	frontiers := []mapping.Cell{{IX: 0, IZ: 0}, {IX: 1, IZ: 0}, {IX: 2, IZ: 0}, {IX: 10, IZ: 10}}
	clusters := ClusterFrontiers(frontiers)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	// sorted largest first
	if len(clusters[0].Cells) != 3 || len(clusters[1].Cells) != 1 {
		t.Errorf("cluster sizes %d, %d; want 3, 1", len(clusters[0].Cells), len(clusters[1].Cells))
	}
	if clusters[0].CentroidIX != 1 || clusters[0].CentroidIZ != 0 {
		t.Errorf("centroid = (%v, %v), want (1, 0)", clusters[0].CentroidIX, clusters[0].CentroidIZ)
	}
}

func TestSortByDistance(t *testing.T) {
	clusters := []Cluster{
		{CentroidIX: 10, CentroidIZ: 0},
		{CentroidIX: 2, CentroidIZ: 0},
		{CentroidIX: 5, CentroidIZ: 5},
	}
	SortByDistance(clusters, mapping.Cell{IX: 0, IZ: 0})
	if clusters[0].CentroidIX != 2 {
		t.Errorf("nearest cluster first: got centroid x=%v", clusters[0].CentroidIX)
	}
	if clusters[2].CentroidIX != 10 {
		t.Errorf("farthest cluster last: got centroid x=%v", clusters[2].CentroidIX)
	}
}

func TestDiagonalCellsAreSeparateClusters(t *testing.T) {
	frontiers := []mapping.Cell{{IX: 0, IZ: 0}, {IX: 1, IZ: 1}}
	if clusters := ClusterFrontiers(frontiers); len(clusters) != 2 {
		t.Errorf("diagonal neighbours merged into %d cluster(s)", len(clusters))
	}
}
