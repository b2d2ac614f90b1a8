package search

import (
	"reflect"
	"testing"

	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/rule"
)

func problem(t *testing.T, values, start, in, out string, goal uint32, all bool) Problem {
	t.Helper()
	g, err := grid.New(len(start), 1, 1, values, nil, "", "")
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	r, err := rule.Compile(in, out, g, g, 1)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	present := make([]uint8, len(start))
	future := make([]uint32, len(start))
	for i := 0; i < len(start); i++ {
		present[i] = g.Values[start[i]]
		future[i] = goal
	}
	return Problem{
		Present:          present,
		Future:           future,
		Rules:            []*rule.Rule{r},
		MX:               len(start),
		MY:               1,
		MZ:               1,
		C:                g.C(),
		All:              all,
		Limit:            -1,
		DepthCoefficient: 0.5,
	}
}

func TestRun_RootAtGoal(t *testing.T) {
	p := problem(t, "BW", "WW", "B", "W", 2, false)
	res := Run(p, 1)
	if !res.Found || res.Trajectory == nil || len(res.Trajectory) != 0 {
		t.Fatalf("got %+v", res)
	}
}

func TestRun_OneNodeTrajectory(t *testing.T) {
	p := problem(t, "BW", "BBB", "B", "W", 2, false)
	res := Run(p, 7)
	if !res.Found {
		t.Fatalf("no trajectory")
	}
	if len(res.Trajectory) != 3 {
		t.Fatalf("trajectory length %d want 3", len(res.Trajectory))
	}
	prev := p.Present
	for i, s := range res.Trajectory {
		diff := 0
		for j := range s {
			if s[j] != prev[j] {
				diff++
			}
		}
		if diff != 1 {
			t.Fatalf("step %d changes %d cells", i, diff)
		}
		prev = s
	}
	if !reflect.DeepEqual(prev, []uint8{1, 1, 1}) {
		t.Fatalf("final state %v", prev)
	}
}

func TestRun_Deterministic(t *testing.T) {
	p := problem(t, "BW", "BBBBB", "B", "W", 2, false)
	a := Run(p, 99)
	b := Run(p, 99)
	if !reflect.DeepEqual(a.Trajectory, b.Trajectory) || a.Visited != b.Visited {
		t.Fatalf("same seed produced different searches")
	}
}

func TestRun_AllNode(t *testing.T) {
	p := problem(t, "BW", "BBBB", "BB", "WW", 2, true)
	res := Run(p, 3)
	if !res.Found || len(res.Trajectory) != 1 {
		t.Fatalf("got %+v", res)
	}
	if !reflect.DeepEqual(res.Trajectory[0], []uint8{1, 1, 1, 1}) {
		t.Fatalf("final %v", res.Trajectory[0])
	}
}

func TestRun_Infeasible(t *testing.T) {
	p := problem(t, "BWR", "BB", "B", "W", 4, false)
	if res := Run(p, 1); res.Found {
		t.Fatalf("unreachable goal must not be found")
	}
	p = problem(t, "BW", "BBB", "B", "W", 2, false)
	p.Limit = 1
	if res := Run(p, 1); res.Found {
		t.Fatalf("limit 1 must stop before expanding")
	}
}

func TestBoard_ReparentOnlyOnStrictImprovement(t *testing.T) {
	b := &board{parent: 4, depth: 3, backward: 2, forward: 1}
	if b.reparent(7, 3) || b.parent != 4 {
		t.Fatalf("equal depth must keep the first parent: %+v", b)
	}
	if b.reparent(7, 5) || b.depth != 3 {
		t.Fatalf("deeper path must be ignored: %+v", b)
	}
	if !b.reparent(1, 2) || b.parent != 1 || b.depth != 2 {
		t.Fatalf("shallower path must relink and requeue: %+v", b)
	}
}

func TestRun_RevisitsDoNotGrowDatabase(t *testing.T) {
	// B->W on 4 cells has 2^4 distinct states; every other child is a revisit
	p := problem(t, "BW", "BBBB", "B", "W", 2, false)
	p.DepthCoefficient = -1
	res := Run(p, 5)
	if !res.Found || len(res.Trajectory) != 4 {
		t.Fatalf("got %+v", res)
	}
	if res.Visited > 16 {
		t.Fatalf("visited %d states, at most 16 exist", res.Visited)
	}
}

func TestAllChildStates_MaximalSets(t *testing.T) {
	g, _ := grid.New(3, 1, 1, "BW", nil, "", "")
	r, _ := rule.Compile("BB", "WW", g, g, 1)
	got := AllChildStates([]uint8{0, 0, 0}, 3, 1, 1, []*rule.Rule{r})
	want := [][]uint8{{1, 1, 0}, {0, 1, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestOneChildStates(t *testing.T) {
	g, _ := grid.New(2, 2, 1, "BW", nil, "", "")
	r, _ := rule.Compile("B", "W", g, g, 1)
	got := OneChildStates([]uint8{0, 1, 0, 1}, 2, 2, 1, []*rule.Rule{r})
	want := [][]uint8{{1, 1, 0, 1}, {0, 1, 1, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
