package rule

import (
	"fmt"
	"strings"

	"voxelrule.ai/internal/sim/symmetry"
)

// Wildcard marks an output cell that is left unchanged. As a BInput value it
// marks an input cell that accepts any color.
const Wildcard uint8 = 0xff

type Shift struct{ X, Y, Z int }

// Rule is an immutable local rewrite: an input pattern of color bitmasks and
// an output pattern of color indices.
type Rule struct {
	Input         []uint32
	Output        []uint8
	BInput        []uint8
	IMX, IMY, IMZ int
	OMX, OMY, OMZ int
	P             float64
	IShifts       [][]Shift
	OShifts       [][]Shift
	Original      bool

	colors int

	// cross rules read one grid and write another; their output indices
	// belong to a different alphabet.
	cross bool
}

// New builds a rule over an alphabet of c colors and precomputes its shifts.
func New(input []uint32, imx, imy, imz int, output []uint8, omx, omy, omz, c int, p float64) *Rule {
	return newRule(input, imx, imy, imz, output, omx, omy, omz, c, p, false)
}

func newRule(input []uint32, imx, imy, imz int, output []uint8, omx, omy, omz, c int, p float64, cross bool) *Rule {
	r := &Rule{
		Input:  input,
		Output: output,
		IMX:    imx,
		IMY:    imy,
		IMZ:    imz,
		OMX:    omx,
		OMY:    omy,
		OMZ:    omz,
		P:      p,
		colors: c,
		cross:  cross,
	}

	r.IShifts = make([][]Shift, c)
	for z := 0; z < imz; z++ {
		for y := 0; y < imy; y++ {
			for x := 0; x < imx; x++ {
				w := input[x+y*imx+z*imx*imy]
				for i := 0; i < c; i++ {
					if w&1 == 1 {
						r.IShifts[i] = append(r.IShifts[i], Shift{x, y, z})
					}
					w >>= 1
				}
			}
		}
	}

	if !cross && omx == imx && omy == imy && omz == imz {
		r.OShifts = make([][]Shift, c)
		for z := 0; z < omz; z++ {
			for y := 0; y < omy; y++ {
				for x := 0; x < omx; x++ {
					o := output[x+y*omx+z*omx*omy]
					if o != Wildcard {
						r.OShifts[o] = append(r.OShifts[o], Shift{x, y, z})
						continue
					}
					for i := 0; i < c; i++ {
						r.OShifts[i] = append(r.OShifts[i], Shift{x, y, z})
					}
				}
			}
		}
	}

	all := uint32(1)<<c - 1
	r.BInput = make([]uint8, len(input))
	for i, w := range input {
		if w == all {
			r.BInput[i] = Wildcard
		} else {
			r.BInput[i] = firstSetBit(w)
		}
	}
	return r
}

func (r *Rule) Colors() int { return r.colors }

func firstSetBit(w uint32) uint8 {
	for p := 0; p < 32; p++ {
		if w&1 == 1 {
			return uint8(p)
		}
		w >>= 1
	}
	return Wildcard
}

func (r *Rule) ZRotated() *Rule {
	in := make([]uint32, len(r.Input))
	for z := 0; z < r.IMZ; z++ {
		for y := 0; y < r.IMX; y++ {
			for x := 0; x < r.IMY; x++ {
				in[x+y*r.IMY+z*r.IMX*r.IMY] = r.Input[r.IMX-1-y+x*r.IMX+z*r.IMX*r.IMY]
			}
		}
	}
	out := make([]uint8, len(r.Output))
	for z := 0; z < r.OMZ; z++ {
		for y := 0; y < r.OMX; y++ {
			for x := 0; x < r.OMY; x++ {
				out[x+y*r.OMY+z*r.OMX*r.OMY] = r.Output[r.OMX-1-y+x*r.OMX+z*r.OMX*r.OMY]
			}
		}
	}
	return newRule(in, r.IMY, r.IMX, r.IMZ, out, r.OMY, r.OMX, r.OMZ, r.colors, r.P, r.cross)
}

func (r *Rule) YRotated() *Rule {
	in := make([]uint32, len(r.Input))
	for z := 0; z < r.IMX; z++ {
		for y := 0; y < r.IMY; y++ {
			for x := 0; x < r.IMZ; x++ {
				in[x+y*r.IMZ+z*r.IMZ*r.IMY] = r.Input[r.IMX-1-z+y*r.IMX+x*r.IMX*r.IMY]
			}
		}
	}
	out := make([]uint8, len(r.Output))
	for z := 0; z < r.OMX; z++ {
		for y := 0; y < r.OMY; y++ {
			for x := 0; x < r.OMZ; x++ {
				out[x+y*r.OMZ+z*r.OMZ*r.OMY] = r.Output[r.OMX-1-z+y*r.OMX+x*r.OMX*r.OMY]
			}
		}
	}
	return newRule(in, r.IMZ, r.IMY, r.IMX, out, r.OMZ, r.OMY, r.OMX, r.colors, r.P, r.cross)
}

func (r *Rule) Reflected() *Rule {
	in := make([]uint32, len(r.Input))
	for z := 0; z < r.IMZ; z++ {
		for y := 0; y < r.IMY; y++ {
			for x := 0; x < r.IMX; x++ {
				in[x+y*r.IMX+z*r.IMX*r.IMY] = r.Input[r.IMX-1-x+y*r.IMX+z*r.IMX*r.IMY]
			}
		}
	}
	out := make([]uint8, len(r.Output))
	for z := 0; z < r.OMZ; z++ {
		for y := 0; y < r.OMY; y++ {
			for x := 0; x < r.OMX; x++ {
				out[x+y*r.OMX+z*r.OMX*r.OMY] = r.Output[r.OMX-1-x+y*r.OMX+z*r.OMX*r.OMY]
			}
		}
	}
	return newRule(in, r.IMX, r.IMY, r.IMZ, out, r.OMX, r.OMY, r.OMZ, r.colors, r.P, r.cross)
}

// Same reports structural equality of patterns and dimensions.
func Same(a, b *Rule) bool {
	if a.IMX != b.IMX || a.IMY != b.IMY || a.IMZ != b.IMZ ||
		a.OMX != b.OMX || a.OMY != b.OMY || a.OMZ != b.OMZ {
		return false
	}
	if len(a.Input) != len(b.Input) || len(a.Output) != len(b.Output) {
		return false
	}
	for i := range a.Input {
		if a.Input[i] != b.Input[i] {
			return false
		}
	}
	for i := range a.Output {
		if a.Output[i] != b.Output[i] {
			return false
		}
	}
	return true
}

// Symmetries returns the distinct images of r under the enabled subgroup
// elements. The first element is r itself.
func (r *Rule) Symmetries(subgroup []bool, is2D bool) []*Rule {
	if is2D {
		return symmetry.Square(r, (*Rule).ZRotated, (*Rule).Reflected, Same, subgroup)
	}
	return symmetry.Cube(r, (*Rule).ZRotated, (*Rule).YRotated, (*Rule).Reflected, Same, subgroup)
}

// Parse reads a pattern string: space separated z layers (the first layer is
// the top), "/" separated rows, one symbol per cell.
func Parse(s string) ([]byte, int, int, int, error) {
	layers := strings.Fields(s)
	if len(layers) == 0 {
		return nil, 0, 0, 0, fmt.Errorf("empty pattern")
	}
	lines := make([][]string, len(layers))
	for i, l := range layers {
		lines[i] = strings.Split(l, "/")
	}
	mx, my, mz := len(lines[0][0]), len(lines[0]), len(lines)
	out := make([]byte, mx*my*mz)
	for z := 0; z < mz; z++ {
		lz := lines[mz-1-z]
		if len(lz) != my {
			return nil, 0, 0, 0, fmt.Errorf("non-rectangular pattern %q", s)
		}
		for y := 0; y < my; y++ {
			ly := lz[y]
			if len(ly) != mx {
				return nil, 0, 0, 0, fmt.Errorf("non-rectangular pattern %q", s)
			}
			for x := 0; x < mx; x++ {
				out[x+y*mx+z*mx*my] = ly[x]
			}
		}
	}
	return out, mx, my, mz, nil
}

// Alphabet resolves pattern symbols to bitmasks and color indices.
type Alphabet interface {
	Colors() int
	WaveOf(symbol byte) (uint32, bool)
	ValueOf(symbol byte) (uint8, bool)
}

// Compile parses in/out pattern strings against input and output alphabets.
// An output "*" leaves the cell unchanged.
func Compile(in, out string, gin, gout Alphabet, p float64) (*Rule, error) {
	inRect, imx, imy, imz, err := Parse(in)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	outRect, omx, omy, omz, err := Parse(out)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	if gin == gout && (omx != imx || omy != imy || omz != imz) {
		return nil, fmt.Errorf("non-matching pattern sizes %dx%dx%d and %dx%dx%d", imx, imy, imz, omx, omy, omz)
	}
	input := make([]uint32, len(inRect))
	for i, c := range inRect {
		w, ok := gin.WaveOf(c)
		if !ok {
			return nil, fmt.Errorf("input code %q is not found in codes", c)
		}
		input[i] = w
	}
	output := make([]uint8, len(outRect))
	for i, c := range outRect {
		if c == '*' {
			output[i] = Wildcard
			continue
		}
		v, ok := gout.ValueOf(c)
		if !ok {
			return nil, fmt.Errorf("output code %q is not found in codes", c)
		}
		output[i] = v
	}
	return newRule(input, imx, imy, imz, output, omx, omy, omz, gin.Colors(), p, gin != gout), nil
}
