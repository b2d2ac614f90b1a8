package rule

import (
	"testing"

	"voxelrule.ai/internal/sim/symmetry"
)

type alphabet struct {
	symbols string
}

func (a alphabet) Colors() int { return len(a.symbols) }

func (a alphabet) WaveOf(c byte) (uint32, bool) {
	if c == '*' {
		return uint32(1)<<len(a.symbols) - 1, true
	}
	v, ok := a.ValueOf(c)
	return 1 << v, ok
}

func (a alphabet) ValueOf(c byte) (uint8, bool) {
	for i := 0; i < len(a.symbols); i++ {
		if a.symbols[i] == c {
			return uint8(i), true
		}
	}
	return 0, false
}

func TestParse_LayersAreReversed(t *testing.T) {
	cells, mx, my, mz, err := Parse("AB/CD EF/GH")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if mx != 2 || my != 2 || mz != 2 {
		t.Fatalf("dims: got %dx%dx%d", mx, my, mz)
	}
	if got := string(cells); got != "EFGHABCD" {
		t.Fatalf("cells: got %q", got)
	}
	if _, _, _, _, err := Parse("AB/C"); err == nil {
		t.Fatalf("expected non-rectangular error")
	}
}

func TestCompile_ShiftsAndBInput(t *testing.T) {
	ab := alphabet{symbols: "BWR"}
	r, err := Compile("B*", "W*", ab, ab, 1)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if r.Output[1] != Wildcard {
		t.Fatalf("output wildcard not kept: %v", r.Output)
	}
	if r.BInput[0] != 0 || r.BInput[1] != Wildcard {
		t.Fatalf("binput: %v", r.BInput)
	}
	// B is accepted at x=0 (explicit) and x=1 (wildcard).
	if len(r.IShifts[0]) != 2 || len(r.IShifts[1]) != 1 {
		t.Fatalf("ishifts: %v", r.IShifts)
	}
	// W is written at x=0 and the wildcard column lists every color.
	if len(r.OShifts[1]) != 2 || len(r.OShifts[2]) != 1 {
		t.Fatalf("oshifts: %v", r.OShifts)
	}
	if _, err := Compile("BB", "W", ab, ab, 1); err == nil {
		t.Fatalf("expected size mismatch error")
	}
	if _, err := Compile("Q", "W", ab, ab, 1); err == nil {
		t.Fatalf("expected unknown code error")
	}
}

func TestCompile_CrossGridHasNoOShifts(t *testing.T) {
	in := alphabet{symbols: "BW"}
	out := alphabet{symbols: "BWR"}
	r, err := Compile("B", "RR/RR", in, out, 1)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if r.OShifts != nil {
		t.Fatalf("cross-size rule must not carry oshifts")
	}
}

func TestCompile_CrossGridSameSizeSkipsOShifts(t *testing.T) {
	// R only exists in the output alphabet
	in := alphabet{symbols: "B"}
	out := alphabet{symbols: "BWR"}
	r, err := Compile("B", "R", in, out, 1)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if r.OShifts != nil || r.Output[0] != 2 {
		t.Fatalf("unexpected rule %+v", r)
	}
	for _, v := range r.Symmetries(symmetry.Full(true), true) {
		if v.OShifts != nil {
			t.Fatalf("rotated cross-grid rule grew oshifts")
		}
	}
}

func TestSymmetries_Square(t *testing.T) {
	ab := alphabet{symbols: "BW"}
	r, _ := Compile("BW", "WB", ab, ab, 1)
	full := symmetry.Full(true)
	got := r.Symmetries(full, true)
	if len(got) != 4 {
		t.Fatalf("directed domino: got %d orientations want 4", len(got))
	}
	if got[0] != r {
		t.Fatalf("identity must come first")
	}
	for i := range got {
		for j := i + 1; j < len(got); j++ {
			if Same(got[i], got[j]) {
				t.Fatalf("images %d and %d are equal", i, j)
			}
		}
	}
	one, _ := Compile("B", "W", ab, ab, 1)
	if n := len(one.Symmetries(full, true)); n != 1 {
		t.Fatalf("1x1 rule has %d images", n)
	}
}

func TestSymmetries_Cube(t *testing.T) {
	ab := alphabet{symbols: "ABCDEFGH"}
	r, err := Compile("AB/CD EF/GH", "AB/CD EF/GH", ab, ab, 1)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for _, tc := range []struct {
		group string
		want  int
	}{{"()", 1}, {"(x)", 2}, {"(z)", 2}, {"(xy)", 8}, {"(xyz+)", 24}, {"(xyz)", 48}} {
		sub, _ := symmetry.Get(false, tc.group, nil)
		if n := len(r.Symmetries(sub, false)); n != tc.want {
			t.Fatalf("%s: got %d want %d", tc.group, n, tc.want)
		}
	}
}

func TestRotationsPreserveSize(t *testing.T) {
	ab := alphabet{symbols: "BW"}
	r, _ := Compile("BBB/WWW", "WWW/BBB", ab, ab, 0.5)
	z := r.ZRotated()
	if z.IMX != 2 || z.IMY != 3 || z.P != 0.5 {
		t.Fatalf("z rotation: %dx%d p=%v", z.IMX, z.IMY, z.P)
	}
	back := z.ZRotated().ZRotated().ZRotated()
	if !Same(back, r) {
		t.Fatalf("four z rotations must be the identity")
	}
	if !Same(r.Reflected().Reflected(), r) {
		t.Fatalf("double reflection must be the identity")
	}
}
