package engine

import (
	"testing"
)

const pathModel = `
values: CABW
root:
  kind: path
  from: A
  to: B
  on: C
`

func rootChild(t *testing.T, ip *Interpreter) Node {
	t.Helper()
	mk, ok := ip.root.(*markovNode)
	if !ok || len(mk.children) != 1 {
		t.Fatalf("expected a wrapped single root node")
	}
	return mk.children[0]
}

func TestPath_PaintsShortestStrip(t *testing.T) {
	ip := mustInterpreter(t, pathModel, 5, 1, 1)
	ip.Run(1, 0, false)
	g := ip.StartGrid()
	setState(g, "ACCCB")
	p := rootChild(t, ip).(*pathNode)
	if !p.step() {
		t.Fatalf("path should apply")
	}
	if got := g.String(); got != "AAAAB\n" {
		t.Fatalf("unexpected grid %q", got)
	}
	if len(ip.changes) != 3 {
		t.Fatalf("want 3 recorded cells, got %d", len(ip.changes))
	}
}

func TestPath_BlockedStripFails(t *testing.T) {
	ip := mustInterpreter(t, pathModel, 5, 1, 1)
	ip.Run(1, 0, false)
	g := ip.StartGrid()
	setState(g, "ACWCB")
	p := rootChild(t, ip).(*pathNode)
	if p.step() {
		t.Fatalf("blocked path should not apply")
	}
	if got := g.String(); got != "ACWCB\n" {
		t.Fatalf("grid changed: %q", got)
	}
}

func TestPath_LongestPicksFarStart(t *testing.T) {
	ip := mustInterpreter(t, `
values: CABW
root: {kind: path, from: A, to: B, on: C, color: W, longest: true}
`, 8, 1, 1)
	ip.Run(1, 0, false)
	g := ip.StartGrid()
	setState(g, "ACCBCCCA")
	if !rootChild(t, ip).step() {
		t.Fatalf("path should apply")
	}
	if got := g.String(); got != "ACCBWWWA\n" {
		t.Fatalf("unexpected grid %q", got)
	}
}

func TestMap_ScalesIntoNewGrid(t *testing.T) {
	ip := mustInterpreter(t, `
values: B
root:
  kind: map
  scale: "2 2 1"
  values: RG
  symmetry: "()"
  rules:
    - {in: B, out: RG/GR}
`, 2, 2, 1)
	f := ip.Run(1, 0, false).Final()
	if f.MX != 4 || f.MY != 4 || f.Legend != "RG" {
		t.Fatalf("unexpected output frame %+v", f)
	}
	if got := ip.Grid().String(); got != "RGRG\nGRGR\nRGRG\nGRGR\n" {
		t.Fatalf("unexpected grid %q", got)
	}
}

func TestMap_OutputOnlyColor(t *testing.T) {
	ip := mustInterpreter(t, `
values: B
root:
  kind: map
  scale: "1 1 1"
  values: BWR
  rules:
    - {in: B, out: R}
`, 3, 1, 1)
	ip.Run(1, 0, false).Final()
	if got := ip.Grid().String(); got != "RRR\n" {
		t.Fatalf("unexpected grid %q", got)
	}
}

func TestReadScale(t *testing.T) {
	if n, d, err := readScale("3/2"); err != nil || n != 3 || d != 2 {
		t.Fatalf("3/2: %d %d %v", n, d, err)
	}
	if n, d, err := readScale("4"); err != nil || n != 4 || d != 1 {
		t.Fatalf("4: %d %d %v", n, d, err)
	}
	for _, bad := range []string{"", "x", "1/0", "-2"} {
		if _, _, err := readScale(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestConvolution_GrowsFromOrigin(t *testing.T) {
	ip := mustInterpreter(t, `
values: DA
origin: true
root:
  kind: convolution
  neighborhood: Moore
  rules:
    - {in: D, out: A, values: A, sum: "1..8"}
`, 3, 3, 1)
	f := ip.Run(1, 0, false).Final()
	if got := countValue(f.State, 1); got != 9 {
		t.Fatalf("want all alive, got %d", got)
	}
	if len(ip.changes) != 8 {
		t.Fatalf("want 8 recorded cells, got %d", len(ip.changes))
	}
}

func TestConvolution_VonNeumannSkipsCorners(t *testing.T) {
	ip := mustInterpreter(t, `
values: DA
origin: true
root:
  kind: convolution
  neighborhood: VonNeumann
  steps: 1
  rules:
    - {in: D, out: A, values: A, sum: "1"}
`, 3, 3, 1)
	ip.Run(1, 0, false).Final()
	if got := ip.StartGrid().String(); got != "DAD\nAAA\nDAD\n" {
		t.Fatalf("unexpected grid %q", got)
	}
}

func TestInterval(t *testing.T) {
	lo, hi, err := interval("2..5")
	if err != nil || lo != 2 || hi != 5 {
		t.Fatalf("2..5: %d %d %v", lo, hi, err)
	}
	if lo, hi, err = interval("7"); err != nil || lo != 7 || hi != 7 {
		t.Fatalf("7: %d %d %v", lo, hi, err)
	}
	if _, _, err = interval("5..2"); err == nil {
		t.Fatalf("reversed interval should fail")
	}
}

const convChainModel = `
values: DBW
root:
  kind: convchain
  on: D
  black: B
  white: W
  n: 2
  steps: 4
  sample: [BWBW, WBWB, BWBW, WBWB]
`

func TestConvChain_FillsSubstrateDeterministically(t *testing.T) {
	a := mustInterpreter(t, convChainModel, 6, 6, 1)
	b := mustInterpreter(t, convChainModel, 6, 6, 1)
	fa := a.Run(11, 0, false).Final()
	fb := b.Run(11, 0, false).Final()
	if countValue(fa.State, 0) != 0 {
		t.Fatalf("substrate left unfilled")
	}
	if string(fa.State) != string(fb.State) {
		t.Fatalf("same seed produced different grids")
	}
	if fa.Step != 5 {
		t.Fatalf("want 5 steps, got %d", fa.Step)
	}
}

func TestConvChain_RejectsLargeN(t *testing.T) {
	m := mustModel(t, `
values: DBW
root: {kind: convchain, on: D, black: B, white: W, n: 5, sample: [BW]}
`)
	if _, err := New(m, 4, 4, 1, Options{}); !IsLoadError(err) {
		t.Fatalf("expected load error, got %v", err)
	}
}
