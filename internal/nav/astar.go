package nav

import (
	"container/heap"
	"math"

	"github.com/JocelynWordSmith/polly/internal/mapping"
)

// MaxExpansions caps A* work per plan. Exceeding it means "no path" rather
// than an unbounded search over an unbounded map.
const MaxExpansions = 5000

// Plan runs 4-neighbour A* with unit step cost and a Euclidean heuristic
// over a grid snapshot. A cell is passable iff its log-odds is below
// NavBlockThresh; unknown cells default to 0 and are passable, so
// exploration may cross unknown terrain. Returns nil when no path exists
// within the expansion budget.
func Plan(cells map[mapping.Cell]float64, start, goal mapping.Cell) []mapping.Cell {
	if !passable(cells, goal) || !passable(cells, start) {
		return nil
	}
	if start == goal {
		return []mapping.Cell{start}
	}

	open := &nodeHeap{}
	heap.Init(open)
	heap.Push(open, &node{cell: start, g: 0, f: heuristic(start, goal)})

	gScore := map[mapping.Cell]float64{start: 0}
	cameFrom := map[mapping.Cell]mapping.Cell{}
	closed := map[mapping.Cell]bool{}

	expansions := 0
	for open.Len() > 0 {
		current := heap.Pop(open).(*node)
		if closed[current.cell] {
			continue
		}
		if current.cell == goal {
			return reconstruct(cameFrom, goal)
		}
		closed[current.cell] = true

		expansions++
		if expansions > MaxExpansions {
			return nil
		}

		for _, d := range neighbours4 {
			next := mapping.Cell{IX: current.cell.IX + d[0], IZ: current.cell.IZ + d[1]}
			if closed[next] || !passable(cells, next) {
				continue
			}
			tentative := current.g + 1
			if prev, seen := gScore[next]; seen && tentative >= prev {
				continue
			}
			gScore[next] = tentative
			cameFrom[next] = current.cell
			heap.Push(open, &node{cell: next, g: tentative, f: tentative + heuristic(next, goal)})
		}
	}
	return nil
}

func passable(cells map[mapping.Cell]float64, c mapping.Cell) bool {
	return cells[c] < mapping.NavBlockThresh
}

func heuristic(a, b mapping.Cell) float64 {
	dx := float64(a.IX - b.IX)
	dz := float64(a.IZ - b.IZ)
	return math.Hypot(dx, dz)
}

func reconstruct(cameFrom map[mapping.Cell]mapping.Cell, goal mapping.Cell) []mapping.Cell {
	path := []mapping.Cell{goal}
	for {
		prev, ok := cameFrom[path[len(path)-1]]
		if !ok {
			break
		}
		path = append(path, prev)
	}
	// reverse into start→goal order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type node struct {
	cell mapping.Cell
	g    float64
	f    float64
}

type nodeHeap []*node

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].f < h[j].f }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{}) { *h = append(*h, x.(*node)) }
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
