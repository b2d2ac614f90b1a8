package potential

import (
	"reflect"
	"testing"

	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/rule"
)

func line(t *testing.T, values, cells string) *grid.Grid {
	t.Helper()
	g, err := grid.New(len(cells), 1, 1, values, nil, "", "")
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	for i := 0; i < len(cells); i++ {
		g.State[i] = g.Values[cells[i]]
	}
	return g
}

func compile(t *testing.T, g *grid.Grid, in, out string) *rule.Rule {
	t.Helper()
	r, err := rule.Compile(in, out, g, g, 1)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return r
}

func TestField_Compute(t *testing.T) {
	g := line(t, "BWR", "WBBBB")
	f := &Field{Substrate: 1, Zero: 2}
	p := make([]int, g.Len())
	if !f.Compute(p, g) {
		t.Fatalf("expected zero cells")
	}
	if want := []int{0, 1, 2, 3, 4}; !reflect.DeepEqual(p, want) {
		t.Fatalf("got %v want %v", p, want)
	}

	g = line(t, "BWR", "WBRBB")
	f.Compute(p, g)
	if want := []int{0, 1, -1, -1, -1}; !reflect.DeepEqual(p, want) {
		t.Fatalf("blocked: got %v want %v", p, want)
	}

	g = line(t, "BWR", "BBB")
	if f.Compute(p[:3], g) {
		t.Fatalf("no zero cell must fail")
	}
}

func TestForwardPotentials_Spread(t *testing.T) {
	g := line(t, "BW", "WBB")
	r := compile(t, g, "WB", "WW")
	p := New(g.C(), g.Len())
	ComputeForwardPotentials(p, g.State, g.MX, g.MY, g.MZ, []*rule.Rule{r})
	if want := []int{0, 1, 2}; !reflect.DeepEqual(p[1], want) {
		t.Fatalf("W potentials: got %v want %v", p[1], want)
	}
	if want := []int{-1, 0, 0}; !reflect.DeepEqual(p[0], want) {
		t.Fatalf("B potentials: got %v want %v", p[0], want)
	}
	all := []uint32{2, 2, 2}
	if got := ForwardPointwise(p, all); got != 3 {
		t.Fatalf("ForwardPointwise: got %d want 3", got)
	}
	if got := ForwardPointwise(p, []uint32{1, 2, 2}); got != -1 {
		t.Fatalf("unreachable future must score -1, got %d", got)
	}
}

func TestBackwardPotentials(t *testing.T) {
	g := line(t, "BW", "WBB")
	r := compile(t, g, "WB", "WW")
	p := New(g.C(), g.Len())
	ComputeBackwardPotentials(p, []uint32{2, 2, 2}, g.MX, g.MY, g.MZ, []*rule.Rule{r})
	if want := []int{-1, 1, 1}; !reflect.DeepEqual(p[0], want) {
		t.Fatalf("B: got %v want %v", p[0], want)
	}
	if got := BackwardPointwise(p, g.State); got != 2 {
		t.Fatalf("BackwardPointwise: got %d want 2", got)
	}
	if got := BackwardPointwise(p, []uint8{0, 0, 0}); got != -1 {
		t.Fatalf("got %d want -1", got)
	}
}

func TestComputeFutureSetPresent(t *testing.T) {
	state := []uint8{0, 1, 0}
	future := make([]uint32, 3)
	obs := []*Observation{{From: 1, To: 2}, nil}
	if !ComputeFutureSetPresent(future, state, obs) {
		t.Fatalf("all observed colors are present")
	}
	if !reflect.DeepEqual(future, []uint32{2, 2, 2}) || !reflect.DeepEqual(state, []uint8{1, 1, 1}) {
		t.Fatalf("future %v state %v", future, state)
	}
	if !IsGoalReached(state, future) {
		t.Fatalf("goal should be reached")
	}

	state = []uint8{0, 0}
	obs = []*Observation{nil, {From: 0, To: 1}}
	if ComputeFutureSetPresent(make([]uint32, 2), state, obs) {
		t.Fatalf("observed color W is absent")
	}
}

func TestDeltaPointwise(t *testing.T) {
	g := line(t, "BW", "B")
	r := compile(t, g, "B", "W")
	p := [][]int{{3}, {1}}
	if d, ok := DeltaPointwise(g.State, r, 0, 0, 0, nil, p, 1, 1); !ok || d != -2 {
		t.Fatalf("got %d,%v want -2,true", d, ok)
	}
	fields := []*Field{nil, {Inversed: true}}
	if d, _ := DeltaPointwise(g.State, r, 0, 0, 0, fields, p, 1, 1); d != -4 {
		t.Fatalf("inversed: got %d want -4", d)
	}
	p[1][0] = -1
	if _, ok := DeltaPointwise(g.State, r, 0, 0, 0, nil, p, 1, 1); ok {
		t.Fatalf("unreachable target must report !ok")
	}
	same := compile(t, g, "B", "B")
	if d, ok := DeltaPointwise(g.State, same, 0, 0, 0, nil, p, 1, 1); !ok || d != 0 {
		t.Fatalf("no-op rule: got %d,%v", d, ok)
	}
}
