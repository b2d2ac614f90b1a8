package search

import (
	"container/heap"
	"io"
	"log"

	"voxelrule.ai/internal/sim/potential"
	"voxelrule.ai/internal/sim/rng"
	"voxelrule.ai/internal/sim/rule"
)

// Problem describes one trajectory search from Present toward any state
// accepted by Future.
type Problem struct {
	Present    []uint8
	Future     []uint32
	Rules      []*rule.Rule
	MX, MY, MZ int
	C          int

	// All switches child generation to maximal non-overlapping match sets.
	All bool
	// Limit caps the number of stored boards; negative means unbounded.
	Limit            int
	DepthCoefficient float64

	Logger *log.Logger
}

type Result struct {
	// Trajectory lists states in forward order, root excluded. Empty when
	// the root already satisfies the goal.
	Trajectory [][]uint8
	Found      bool
	Visited    int
}

type board struct {
	state    []uint8
	parent   int
	depth    int
	backward int
	forward  int
}

func (b *board) rank(r *rng.Stream, depthCoefficient float64) float64 {
	var result float64
	if depthCoefficient < 0 {
		result = 1000 - float64(b.depth)
	} else {
		result = float64(b.forward+b.backward) + 2*depthCoefficient*float64(b.depth)
	}
	return result + 0.0001*r.Float64()
}

// reparent moves b under parent when depth strictly improves on b's depth
// and reports whether b should be queued again.
func (b *board) reparent(parent, depth int) bool {
	if depth >= b.depth {
		return false
	}
	b.depth = depth
	b.parent = parent
	return b.backward >= 0 && b.forward >= 0
}

// Run performs a best-first search with jitter drawn from a stream seeded by seed.
func Run(p Problem, seed int64) Result {
	logger := p.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cells := len(p.Present)
	bpotentials := potential.New(p.C, cells)
	fpotentials := potential.New(p.C, cells)

	potential.ComputeBackwardPotentials(bpotentials, p.Future, p.MX, p.MY, p.MZ, p.Rules)
	rootBackward := potential.BackwardPointwise(bpotentials, p.Present)
	potential.ComputeForwardPotentials(fpotentials, p.Present, p.MX, p.MY, p.MZ, p.Rules)
	rootForward := potential.ForwardPointwise(fpotentials, p.Future)

	if rootBackward < 0 || rootForward < 0 {
		logger.Printf("incorrect problem: root estimate (%d, %d)", rootBackward, rootForward)
		return Result{}
	}
	logger.Printf("root estimate = (%d, %d)", rootBackward, rootForward)
	if rootBackward == 0 {
		return Result{Trajectory: [][]uint8{}, Found: true, Visited: 1}
	}

	root := &board{state: clone(p.Present), parent: -1, backward: rootBackward, forward: rootForward}
	database := []*board{root}
	visited := map[string]int{string(root.state): 0}

	r := rng.New(seed)
	frontier := &queue{}
	heap.Push(frontier, item{rank: root.rank(r, p.DepthCoefficient), index: 0})
	record := rootBackward + rootForward

	for frontier.Len() > 0 && (p.Limit < 0 || len(database) < p.Limit) {
		parentIndex := heap.Pop(frontier).(item).index
		parent := database[parentIndex]

		var children [][]uint8
		if p.All {
			children = AllChildStates(parent.state, p.MX, p.MY, p.MZ, p.Rules)
		} else {
			children = OneChildStates(parent.state, p.MX, p.MY, p.MZ, p.Rules)
		}

		for _, child := range children {
			key := string(child)
			if childIndex, ok := visited[key]; ok {
				old := database[childIndex]
				if old.reparent(parentIndex, parent.depth+1) {
					heap.Push(frontier, item{rank: old.rank(r, p.DepthCoefficient), index: childIndex})
				}
				continue
			}

			childBackward := potential.BackwardPointwise(bpotentials, child)
			potential.ComputeForwardPotentials(fpotentials, child, p.MX, p.MY, p.MZ, p.Rules)
			childForward := potential.ForwardPointwise(fpotentials, p.Future)
			if childBackward < 0 || childForward < 0 {
				continue
			}

			b := &board{state: child, parent: parentIndex, depth: parent.depth + 1, backward: childBackward, forward: childForward}
			database = append(database, b)
			childIndex := len(database) - 1
			visited[key] = childIndex

			if b.forward == 0 {
				traj := trajectory(childIndex, database)
				logger.Printf("found a trajectory of length %d, visited %d states", parent.depth+1, len(visited))
				return Result{Trajectory: traj, Found: true, Visited: len(visited)}
			}
			if p.Limit < 0 && childBackward+childForward <= record {
				record = childBackward + childForward
				logger.Printf("found a state of record estimate %d = %d + %d", record, childBackward, childForward)
			}
			heap.Push(frontier, item{rank: b.rank(r, p.DepthCoefficient), index: childIndex})
		}
	}
	return Result{Visited: len(visited)}
}

// trajectory walks parents back to the root and returns the states in forward order.
func trajectory(index int, database []*board) [][]uint8 {
	var out [][]uint8
	for b := database[index]; b.parent >= 0; b = database[b.parent] {
		out = append(out, b.state)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func clone(s []uint8) []uint8 {
	out := make([]uint8, len(s))
	copy(out, s)
	return out
}

type item struct {
	rank  float64
	index int
}

type queue []item

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].rank != q[j].rank {
		return q[i].rank < q[j].rank
	}
	return q[i].index < q[j].index
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(item)) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
