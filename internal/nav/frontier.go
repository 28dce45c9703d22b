// Package nav plans exploration over grid snapshots: frontier detection,
// frontier clustering, and A* path search.
package nav

import (
	"sort"

	"github.com/JocelynWordSmith/polly/internal/mapping"
)

// neighbours4 are the 4-connected cell offsets.
var neighbours4 = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// Cluster is a 4-connected group of frontier cells with its centroid.
type Cluster struct {
	Cells      []mapping.Cell
	CentroidIX float64
	CentroidIZ float64
}

// FindFrontiers returns every FREE cell with at least one 4-neighbour absent
// from the grid. Those are the cells worth driving toward to grow the map.
func FindFrontiers(cells map[mapping.Cell]float64) []mapping.Cell {
	var frontiers []mapping.Cell
	for cell, v := range cells {
		if v > mapping.FreeThresh {
			continue
		}
		for _, d := range neighbours4 {
			n := mapping.Cell{IX: cell.IX + d[0], IZ: cell.IZ + d[1]}
			if _, known := cells[n]; !known {
				frontiers = append(frontiers, cell)
				break
			}
		}
	}
	return frontiers
}

// ClusterFrontiers groups frontier cells by 4-connected flood fill and
// returns the clusters sorted by size, largest first.
func ClusterFrontiers(frontiers []mapping.Cell) []Cluster {
	unvisited := make(map[mapping.Cell]bool, len(frontiers))
	for _, c := range frontiers {
		unvisited[c] = true
	}

	var clusters []Cluster
	for _, seed := range frontiers {
		if !unvisited[seed] {
			continue
		}
		var members []mapping.Cell
		stack := []mapping.Cell{seed}
		delete(unvisited, seed)
		for len(stack) > 0 {
			cell := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			members = append(members, cell)
			for _, d := range neighbours4 {
				n := mapping.Cell{IX: cell.IX + d[0], IZ: cell.IZ + d[1]}
				if unvisited[n] {
					delete(unvisited, n)
					stack = append(stack, n)
				}
			}
		}

		var sumX, sumZ float64
		for _, c := range members {
			sumX += float64(c.IX)
			sumZ += float64(c.IZ)
		}
		clusters = append(clusters, Cluster{
			Cells:      members,
			CentroidIX: sumX / float64(len(members)),
			CentroidIZ: sumZ / float64(len(members)),
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		return len(clusters[i].Cells) > len(clusters[j].Cells)
	})
	return clusters
}

// SortByDistance orders clusters by squared centroid distance from the
// robot cell, nearest first.
func SortByDistance(clusters []Cluster, robot mapping.Cell) {
	sort.Slice(clusters, func(i, j int) bool {
		return centroidDistSq(clusters[i], robot) < centroidDistSq(clusters[j], robot)
	})
}

func centroidDistSq(c Cluster, robot mapping.Cell) float64 {
	dx := c.CentroidIX - float64(robot.IX)
	dz := c.CentroidIZ - float64(robot.IZ)
	return dx*dx + dz*dz
}
