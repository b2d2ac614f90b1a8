package grid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"voxelrule.ai/internal/sim/rule"
)

// MaxColors bounds the alphabet so waves fit a uint32.
const MaxColors = 32

type Union struct {
	Symbol byte
	Values string
}

// Grid is the shared rewrite arena: one color index per cell plus symbol tables.
type Grid struct {
	MX, MY, MZ int

	State []uint8
	Mask  []bool

	Values      map[byte]uint8
	Waves       map[byte]uint32
	Characters  []byte
	Transparent uint32
	Folder      string
}

// New builds a grid from a symbol string ("BW" or "B W R"), union definitions
// and an optional transparent symbol set.
func New(mx, my, mz int, values string, unions []Union, transparent, folder string) (*Grid, error) {
	if mx <= 0 || my <= 0 || mz <= 0 {
		return nil, fmt.Errorf("bad grid size %dx%dx%d", mx, my, mz)
	}
	symbols := strings.ReplaceAll(values, " ", "")
	if symbols == "" {
		return nil, fmt.Errorf("no values specified")
	}
	if len(symbols) > MaxColors {
		return nil, fmt.Errorf("too many values: %d > %d", len(symbols), MaxColors)
	}
	size := mx * my * mz
	g := &Grid{
		MX:     mx,
		MY:     my,
		MZ:     mz,
		State:  make([]uint8, size),
		Mask:   make([]bool, size),
		Values: make(map[byte]uint8, len(symbols)),
		Waves:  make(map[byte]uint32, len(symbols)+len(unions)+1),
		Folder: folder,
	}
	for i := 0; i < len(symbols); i++ {
		c := symbols[i]
		if _, dup := g.Waves[c]; dup {
			return nil, fmt.Errorf("repeating value %q", c)
		}
		g.Characters = append(g.Characters, c)
		g.Values[c] = uint8(i)
		g.Waves[c] = 1 << i
	}
	if transparent != "" {
		w, err := g.Wave(transparent)
		if err != nil {
			return nil, fmt.Errorf("transparent: %w", err)
		}
		g.Transparent = w
	}
	g.Waves['*'] = uint32(1)<<len(symbols) - 1
	for _, u := range unions {
		if _, dup := g.Waves[u.Symbol]; dup {
			return nil, fmt.Errorf("repeating union type %q", u.Symbol)
		}
		w, err := g.Wave(u.Values)
		if err != nil {
			return nil, fmt.Errorf("union %q: %w", u.Symbol, err)
		}
		g.Waves[u.Symbol] = w
	}
	return g, nil
}

func (g *Grid) C() int { return len(g.Characters) }

func (g *Grid) Len() int { return len(g.State) }

func (g *Grid) Clear() {
	for i := range g.State {
		g.State[i] = 0
	}
}

// Wave returns the bitmask of the listed value symbols.
func (g *Grid) Wave(values string) (uint32, error) {
	var sum uint32
	for i := 0; i < len(values); i++ {
		v, ok := g.Values[values[i]]
		if !ok {
			return 0, fmt.Errorf("unknown value %q", values[i])
		}
		sum |= 1 << v
	}
	return sum, nil
}

func (g *Grid) Colors() int { return g.C() }

func (g *Grid) WaveOf(symbol byte) (uint32, bool) {
	w, ok := g.Waves[symbol]
	return w, ok
}

func (g *Grid) ValueOf(symbol byte) (uint8, bool) {
	v, ok := g.Values[symbol]
	return v, ok
}

func (g *Grid) Index(x, y, z int) int { return x + y*g.MX + z*g.MX*g.MY }

// Matches tests r's input against the cells at offset (x, y, z). The caller
// ensures the pattern fits inside the grid.
func (g *Grid) Matches(r *rule.Rule, x, y, z int) bool {
	dx, dy, dz := 0, 0, 0
	for _, w := range r.Input {
		if w&(1<<g.State[x+dx+(y+dy)*g.MX+(z+dz)*g.MX*g.MY]) == 0 {
			return false
		}
		dx++
		if dx == r.IMX {
			dx = 0
			dy++
			if dy == r.IMY {
				dy = 0
				dz++
			}
		}
	}
	return true
}

// Legend returns the value symbols in index order.
func (g *Grid) Legend() string { return string(g.Characters) }

func (g *Grid) Digest() string { return Digest(g.MX, g.MY, g.MZ, g.State) }

// Digest hashes the dimensions and cell values of a state.
func Digest(mx, my, mz int, state []uint8) string {
	h := sha256.New()
	var hdr [12]byte
	putU32(hdr[0:], uint32(mx))
	putU32(hdr[4:], uint32(my))
	putU32(hdr[8:], uint32(mz))
	h.Write(hdr[:])
	h.Write(state)
	return hex.EncodeToString(h.Sum(nil))
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// String renders the grid one z layer after another, rows separated by newlines.
func (g *Grid) String() string {
	var b strings.Builder
	for z := 0; z < g.MZ; z++ {
		if z > 0 {
			b.WriteByte('\n')
		}
		for y := 0; y < g.MY; y++ {
			for x := 0; x < g.MX; x++ {
				b.WriteByte(g.Characters[g.State[g.Index(x, y, z)]])
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
