package engine

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/rng"
)

const overlapModel = `
values: A
root:
  kind: wfc
  values: BW
  n: 2
  sample: [BW, WB]
`

const tileModel = `
values: X
tilesets:
  ab:
    tiles:
      - {name: A, data: A}
      - {name: B, data: B}
    neighbors:
      - {left: A, right: B}
root: {kind: wfc, values: AB, tileset: ab}
`

func assertCheckerboard(t *testing.T, g *grid.Grid) {
	t.Helper()
	for y := 0; y < g.MY; y++ {
		for x := 0; x < g.MX; x++ {
			v := g.State[g.Index(x, y, 0)]
			if x+1 < g.MX && g.State[g.Index(x+1, y, 0)] == v {
				t.Fatalf("cells (%d,%d) and (%d,%d) match:\n%s", x, y, x+1, y, g)
			}
			if y+1 < g.MY && g.State[g.Index(x, y+1, 0)] == v {
				t.Fatalf("cells (%d,%d) and (%d,%d) match:\n%s", x, y, x, y+1, g)
			}
		}
	}
}

func TestWFCOverlap_SolvesCheckerboard(t *testing.T) {
	ip := mustInterpreter(t, overlapModel, 4, 4, 1)
	f := ip.Run(3, 0, false).Final()
	if f.MX != 4 || f.MY != 4 || f.Legend != "BW" {
		t.Fatalf("unexpected frame %dx%d %q", f.MX, f.MY, f.Legend)
	}
	assertCheckerboard(t, ip.Grid())
}

func TestWFCOverlap_LearnsTwoPatterns(t *testing.T) {
	ip := mustInterpreter(t, overlapModel, 4, 4, 1)
	n := ip.root.(*wfcNode)
	if n.p != 2 {
		t.Fatalf("want 2 patterns, got %d", n.p)
	}
	if n.dirs != 4 {
		t.Fatalf("want 4 directions, got %d", n.dirs)
	}
}

func TestWFC_PropagateIsArcConsistent(t *testing.T) {
	ip := mustInterpreter(t, overlapModel, 4, 4, 1)
	n := ip.root.(*wfcNode)
	n.wave.init(n.propagator, n.sumW, n.sumWLW, n.entropy)
	if !n.propagate() {
		t.Fatalf("empty propagation failed")
	}
	for i, s := range n.wave.sumsOfOnes {
		if s != n.p {
			t.Fatalf("cell %d lost patterns without a ban", i)
		}
	}

	n.ban(0, 0)
	if !n.propagate() {
		t.Fatalf("propagation hit a contradiction")
	}
	for i, s := range n.wave.sumsOfOnes {
		if s != 1 {
			t.Fatalf("cell %d has %d patterns, want 1", i, s)
		}
	}
	if n.wave.data[0*n.p+0] || !n.wave.data[0*n.p+1] {
		t.Fatalf("cell 0 should keep only pattern 1")
	}
	if !n.wave.data[1*n.p+0] || n.wave.data[1*n.p+1] {
		t.Fatalf("right neighbor should keep only pattern 0")
	}
}

func TestWFC_BanAllIsContradiction(t *testing.T) {
	ip := mustInterpreter(t, overlapModel, 4, 4, 1)
	n := ip.root.(*wfcNode)
	n.wave.init(n.propagator, n.sumW, n.sumWLW, n.entropy)
	n.ban(5, 0)
	n.ban(5, 1)
	if n.propagate() {
		t.Fatalf("emptied cell should be a contradiction")
	}
}

func TestWFCTile_SolvesCheckerboard(t *testing.T) {
	ip := mustInterpreter(t, tileModel, 4, 4, 1)
	n := ip.root.(*wfcNode)
	if n.p != 2 {
		t.Fatalf("want 2 tiles, got %d", n.p)
	}
	f := ip.Run(5, 0, false).Final()
	if f.MX != 4 || f.MY != 4 {
		t.Fatalf("unexpected output size %dx%d", f.MX, f.MY)
	}
	assertCheckerboard(t, ip.Grid())
}

func TestWFCTile_UnknownNeighbor(t *testing.T) {
	m := mustModel(t, `
values: X
tilesets:
  ab:
    tiles:
      - {name: A, data: A}
    neighbors:
      - {left: A, right: C}
root: {kind: wfc, values: AB, tileset: ab}
`)
	if _, err := New(m, 4, 4, 1, Options{}); !IsLoadError(err) {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestWFC_ShannonDeterministic(t *testing.T) {
	src := `
values: A
root: {kind: wfc, values: BW, n: 2, shannon: true, sample: [BWW, WBW, WWB]}
`
	a := mustInterpreter(t, src, 6, 6, 1)
	b := mustInterpreter(t, src, 6, 6, 1)
	fa := a.Run(9, 0, false).Final()
	fb := b.Run(9, 0, false).Final()
	if string(fa.State) != string(fb.State) {
		t.Fatalf("same seed produced different grids")
	}
}

func TestWFC_NoGoodSeedFallsThroughToNextChild(t *testing.T) {
	// a checkerboard cannot close around an odd periodic grid
	m := mustModel(t, `
values: AC
root:
  kind: sequence
  children:
    - {kind: wfc, values: BW, n: 2, tries: 5, sample: [BW, WB]}
    - {kind: one, rules: [{in: A, out: C}]}
`)
	var got []int
	hooks := Hooks{WFC: func(found bool, tries int) {
		if found {
			t.Fatalf("3x3 periodic checkerboard reported solvable")
		}
		got = append(got, tries)
	}}
	ip, err := New(m, 3, 3, 1, Options{Hooks: hooks})
	if err != nil {
		t.Fatalf("new interpreter: %v", err)
	}
	f := ip.Run(2, 0, false).Final()
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("want one failed search over 5 tries, got %v", got)
	}
	if f.Legend != "AC" || f.MX != 3 {
		t.Fatalf("run should stay on the host grid, got %q %dx%d", f.Legend, f.MX, f.MY)
	}
	if got := ip.Grid().String(); got != "CCC\nCCC\nCCC\n" {
		t.Fatalf("next child did not run:\n%s", got)
	}
}

func TestWFC_ContradictiveInitialConditions(t *testing.T) {
	// every cell is forced to start a B pattern, so neighbors clash
	m := mustModel(t, `
values: A
root:
  kind: wfc
  values: BW
  n: 2
  sample: [BW, WB]
  rules: [{in: A, out: B}]
`)
	var buf bytes.Buffer
	ip, err := New(m, 4, 4, 1, Options{Logger: log.New(&buf, "", 0)})
	if err != nil {
		t.Fatalf("new interpreter: %v", err)
	}
	f := ip.Run(1, 0, false).Final()
	if f.Legend != "A" || f.Step != 1 {
		t.Fatalf("wfc should fail its only activation, got legend %q step %d", f.Legend, f.Step)
	}
	if !strings.Contains(buf.String(), "initial conditions are contradictive") {
		t.Fatalf("missing diagnostic, log:\n%s", buf.String())
	}
}

func TestVote(t *testing.T) {
	if got := vote([]int{0, 3, 1}, rng.New(1)); got != 1 {
		t.Fatalf("want color 1, got %d", got)
	}
}
