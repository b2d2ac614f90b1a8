package grid

import (
	"testing"

	"voxelrule.ai/internal/sim/rule"
)

func TestNew_WavesAndUnions(t *testing.T) {
	g, err := New(3, 2, 1, "B W R", []Union{{Symbol: 'P', Values: "WR"}}, "B", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.C() != 3 || g.Len() != 6 {
		t.Fatalf("C=%d len=%d", g.C(), g.Len())
	}
	if g.Waves['*'] != 7 || g.Waves['P'] != 6 || g.Transparent != 1 {
		t.Fatalf("waves: * %d P %d transparent %d", g.Waves['*'], g.Waves['P'], g.Transparent)
	}
	if _, err := New(1, 1, 1, "BB", nil, "", ""); err == nil {
		t.Fatalf("expected repeating value error")
	}
	if _, err := New(1, 1, 1, "BW", []Union{{Symbol: 'B', Values: "W"}}, "", ""); err == nil {
		t.Fatalf("expected repeating union error")
	}
	if _, err := g.Wave("Q"); err == nil {
		t.Fatalf("expected unknown value error")
	}
}

// naive bounds-checked match used as the reference
func naiveMatch(g *Grid, r *rule.Rule, x, y, z int) bool {
	for dz := 0; dz < r.IMZ; dz++ {
		for dy := 0; dy < r.IMY; dy++ {
			for dx := 0; dx < r.IMX; dx++ {
				w := r.Input[dx+dy*r.IMX+dz*r.IMX*r.IMY]
				if w&(1<<g.State[g.Index(x+dx, y+dy, z+dz)]) == 0 {
					return false
				}
			}
		}
	}
	return true
}

func TestMatches_AgreesWithNaive(t *testing.T) {
	g, _ := New(5, 4, 1, "BWR", nil, "", "")
	for i := range g.State {
		g.State[i] = uint8((i * 7 / 3) % 3)
	}
	for _, in := range []string{"BW", "W*/RB", "***", "B/W/R"} {
		r, err := rule.Compile(in, in, g, g, 1)
		if err != nil {
			t.Fatalf("Compile %q: %v", in, err)
		}
		for y := 0; y+r.IMY <= g.MY; y++ {
			for x := 0; x+r.IMX <= g.MX; x++ {
				if got, want := g.Matches(r, x, y, 0), naiveMatch(g, r, x, y, 0); got != want {
					t.Fatalf("%q at (%d,%d): got %v want %v", in, x, y, got, want)
				}
			}
		}
	}
}

func TestClearAndDigest(t *testing.T) {
	g, _ := New(2, 2, 1, "BW", nil, "", "")
	d0 := g.Digest()
	g.State[3] = 1
	if g.Digest() == d0 {
		t.Fatalf("digest must depend on state")
	}
	if got := g.String(); got != "BB\nBW\n" {
		t.Fatalf("String: %q", got)
	}
	g.Clear()
	if g.Digest() != d0 {
		t.Fatalf("digest after Clear differs")
	}
}
