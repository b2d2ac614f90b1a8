package engine

import (
	"fmt"
	"slices"
	"strings"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/rule"
	"voxelrule.ai/internal/sim/symmetry"
)

// tileMode places whole SxSxSZ tiles; each wave cell is one tile slot.
type tileMode struct {
	s, sz             int
	overlap, overlapZ int
	tiles             [][]uint8
	votes             []int
}

// tileOps are the tile transforms for one tile size. Tiles are indexed
// x + y*s + z*s*s.
type tileOps struct{ s, sz int }

func (o tileOps) build(f func(x, y, z int) uint8) []uint8 {
	out := make([]uint8, o.s*o.s*o.sz)
	for z := 0; z < o.sz; z++ {
		for y := 0; y < o.s; y++ {
			for x := 0; x < o.s; x++ {
				out[x+y*o.s+z*o.s*o.s] = f(x, y, z)
			}
		}
	}
	return out
}

func (o tileOps) zRotate(p []uint8) []uint8 {
	s := o.s
	return o.build(func(x, y, z int) uint8 { return p[y+(s-1-x)*s+z*s*s] })
}

func (o tileOps) yRotate(p []uint8) []uint8 {
	s := o.s
	return o.build(func(x, y, z int) uint8 { return p[z+y*s+(s-1-x)*s*s] })
}

func (o tileOps) xRotate(p []uint8) []uint8 {
	s := o.s
	return o.build(func(x, y, z int) uint8 { return p[x+z*s+(s-1-y)*s*s] })
}

func (o tileOps) xReflect(p []uint8) []uint8 {
	s := o.s
	return o.build(func(x, y, z int) uint8 { return p[s-1-x+y*s+z*s*s] })
}

func (o tileOps) yReflect(p []uint8) []uint8 {
	s := o.s
	return o.build(func(x, y, z int) uint8 { return p[x+(s-1-y)*s+z*s*s] })
}

func (o tileOps) zReflect(p []uint8) []uint8 {
	s, sz := o.s, o.sz
	return o.build(func(x, y, z int) uint8 { return p[x+y*s+(sz-1-z)*s*s] })
}

func distinct(a, b []uint8) bool { return false }

func loadTiles(b *builder, def *model.Node, n *wfcNode, in *grid.Grid) (*grid.Grid, error) {
	ts, ok := b.model.Tilesets[def.Tileset]
	if !ok || ts == nil {
		return nil, fmt.Errorf("unknown tileset %q", def.Tileset)
	}
	if len(ts.Tiles) == 0 {
		return nil, fmt.Errorf("tileset %q has no tiles", def.Tileset)
	}
	n.size = 1
	if def.Periodic != nil {
		n.periodic = *def.Periodic
	}
	full := ts.FullSymmetry

	_, s, sy, sz, err := rule.Parse(ts.Tiles[0].Data)
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", ts.Tiles[0].Name, err)
	}
	if s != sy {
		return nil, fmt.Errorf("tiles should be square shaped: %d != %d", s, sy)
	}
	if full && s != sz {
		return nil, fmt.Errorf("tiles should be cubes for full symmetry: %d != %d", s, sz)
	}
	mode := &tileMode{s: s, sz: sz, overlap: def.Overlap, overlapZ: def.OverlapZ}
	if mode.overlap < 0 || mode.overlap >= s || mode.overlapZ < 0 || mode.overlapZ >= sz {
		return nil, fmt.Errorf("overlap %d/%d does not fit tiles of size %dx%d", mode.overlap, mode.overlapZ, s, sz)
	}
	values := def.Values
	if values == "" {
		values = b.model.Values
	}
	out, err := newGrid(
		(s-mode.overlap)*in.MX+mode.overlap,
		(s-mode.overlap)*in.MY+mode.overlap,
		(sz-mode.overlapZ)*in.MZ+mode.overlapZ,
		values, def.Unions, "", b.model.Folder)
	if err != nil {
		return nil, fmt.Errorf("output grid: %w", err)
	}

	ops := tileOps{s, sz}
	named := map[string][][]uint8{}
	positions := map[string][]int{}
	for _, tile := range ts.Tiles {
		raw, tx, ty, tz, err := rule.Parse(tile.Data)
		if err != nil {
			return nil, fmt.Errorf("tile %s: %w", tile.Name, err)
		}
		if tx != s || ty != s || tz != sz {
			return nil, fmt.Errorf("tile %s is %dx%dx%d, want %dx%dx%d", tile.Name, tx, ty, tz, s, s, sz)
		}
		if _, dup := named[tile.Name]; dup {
			return nil, fmt.Errorf("repeating tile %q", tile.Name)
		}
		flat := make([]uint8, len(raw))
		for i, c := range raw {
			v, ok := out.Values[c]
			if !ok {
				return nil, fmt.Errorf("tile %s: symbol %q is not an output value", tile.Name, c)
			}
			flat[i] = v
		}
		weight := 1.0
		if tile.Weight != nil {
			weight = *tile.Weight
		}
		var variants [][]uint8
		if full {
			variants = symmetry.Cube(flat, ops.zRotate, ops.yRotate, ops.xReflect, slices.Equal[[]uint8], nil)
		} else {
			variants = symmetry.Square(flat, ops.zRotate, ops.xReflect, slices.Equal[[]uint8], nil)
		}
		named[tile.Name] = variants
		for _, v := range variants {
			positions[tile.Name] = append(positions[tile.Name], len(mode.tiles))
			mode.tiles = append(mode.tiles, v)
			n.weights = append(n.weights, weight)
		}
	}
	n.p = len(mode.tiles)

	for i, rd := range def.Rules {
		iv, err := lookupValue(in.Values, rd.In, "input")
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		allowed := make([]bool, n.p)
		for _, name := range strings.Split(rd.Out, "|") {
			pos, ok := positions[name]
			if !ok {
				return nil, fmt.Errorf("rule %d: unknown tile %q", i, name)
			}
			for _, t := range pos {
				allowed[t] = true
			}
		}
		n.allowed[iv] = allowed
	}
	if _, ok := n.allowed[0]; !ok {
		n.allowed[0] = allTrue(n.p)
	}

	index := func(p []uint8) (int, error) {
		for i, t := range mode.tiles {
			if slices.Equal(p, t) {
				return i, nil
			}
		}
		return 0, fmt.Errorf("tile variant not found")
	}
	ref := func(attr string) ([]uint8, error) {
		fields := strings.Fields(attr)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, fmt.Errorf("bad tile reference %q", attr)
		}
		variants, ok := named[fields[len(fields)-1]]
		if !ok {
			return nil, fmt.Errorf("unknown tile %q", fields[len(fields)-1])
		}
		t := variants[0]
		if len(fields) == 1 {
			return t, nil
		}
		action := fields[0]
		for i := len(action) - 1; i >= 0; i-- {
			switch action[i] {
			case 'x':
				if !full {
					return nil, fmt.Errorf("x rotation in %q needs full symmetry", attr)
				}
				t = ops.xRotate(t)
			case 'y':
				if !full {
					return nil, fmt.Errorf("y rotation in %q needs full symmetry", attr)
				}
				t = ops.yRotate(t)
			case 'z':
				t = ops.zRotate(t)
			default:
				return nil, fmt.Errorf("unknown rotation %q in %q", action[i], attr)
			}
		}
		return t, nil
	}

	dense := make([][][]bool, 6)
	for d := range dense {
		dense[d] = make([][]bool, n.p)
		for t := range dense[d] {
			dense[d][t] = make([]bool, n.p)
		}
	}
	var setErr error
	set := func(d int, a, b []uint8) {
		if setErr != nil {
			return
		}
		i, err := index(a)
		if err != nil {
			setErr = err
			return
		}
		j, err := index(b)
		if err != nil {
			setErr = err
			return
		}
		dense[d][i][j] = true
	}

	for k, nb := range ts.Neighbors {
		switch {
		case full:
			if nb.Left == "" || nb.Right == "" {
				return nil, fmt.Errorf("neighbor %d: full symmetry needs left and right", k)
			}
			l, err := ref(nb.Left)
			if err != nil {
				return nil, fmt.Errorf("neighbor %d: %w", k, err)
			}
			r, err := ref(nb.Right)
			if err != nil {
				return nil, fmt.Errorf("neighbor %d: %w", k, err)
			}
			lsym := symmetry.Square(l, ops.xRotate, ops.yReflect, distinct, nil)
			rsym := symmetry.Square(r, ops.xRotate, ops.yReflect, distinct, nil)
			for i, v := range lsym {
				set(0, v, rsym[i])
				set(0, ops.xReflect(rsym[i]), ops.xReflect(v))
			}
			dsym := symmetry.Square(ops.zRotate(l), ops.yRotate, ops.zReflect, distinct, nil)
			usym := symmetry.Square(ops.zRotate(r), ops.yRotate, ops.zReflect, distinct, nil)
			for i, v := range dsym {
				set(1, v, usym[i])
				set(1, ops.yReflect(usym[i]), ops.yReflect(v))
			}
			bsym := symmetry.Square(ops.yRotate(l), ops.zRotate, ops.xReflect, distinct, nil)
			tsym := symmetry.Square(ops.yRotate(r), ops.zRotate, ops.xReflect, distinct, nil)
			for i, v := range bsym {
				set(4, v, tsym[i])
				set(4, ops.zReflect(tsym[i]), ops.zReflect(v))
			}
		case nb.Left != "" || nb.Right != "":
			l, err := ref(nb.Left)
			if err != nil {
				return nil, fmt.Errorf("neighbor %d: %w", k, err)
			}
			r, err := ref(nb.Right)
			if err != nil {
				return nil, fmt.Errorf("neighbor %d: %w", k, err)
			}
			set(0, l, r)
			set(0, ops.yReflect(l), ops.yReflect(r))
			set(0, ops.xReflect(r), ops.xReflect(l))
			set(0, ops.yReflect(ops.xReflect(r)), ops.yReflect(ops.xReflect(l)))
			d, u := ops.zRotate(l), ops.zRotate(r)
			set(1, d, u)
			set(1, ops.xReflect(d), ops.xReflect(u))
			set(1, ops.yReflect(u), ops.yReflect(d))
			set(1, ops.xReflect(ops.yReflect(u)), ops.xReflect(ops.yReflect(d)))
		default:
			t, err := ref(nb.Top)
			if err != nil {
				return nil, fmt.Errorf("neighbor %d: %w", k, err)
			}
			bt, err := ref(nb.Bottom)
			if err != nil {
				return nil, fmt.Errorf("neighbor %d: %w", k, err)
			}
			tsym := symmetry.Square(t, ops.zRotate, ops.xReflect, distinct, nil)
			bsym := symmetry.Square(bt, ops.zRotate, ops.xReflect, distinct, nil)
			for i, v := range tsym {
				set(4, bsym[i], v)
			}
		}
		if setErr != nil {
			return nil, fmt.Errorf("neighbor %d: %w", k, setErr)
		}
	}
	for p2 := 0; p2 < n.p; p2++ {
		for p1 := 0; p1 < n.p; p1++ {
			dense[2][p2][p1] = dense[0][p1][p2]
			dense[3][p2][p1] = dense[1][p1][p2]
			dense[5][p2][p1] = dense[4][p1][p2]
		}
	}
	n.propagator = make([][][]int, 6)
	for d := range dense {
		n.propagator[d] = make([][]int, n.p)
		for p1 := range dense[d] {
			list := []int{}
			for p2, ok := range dense[d][p1] {
				if ok {
					list = append(list, p2)
				}
			}
			n.propagator[d][p1] = list
		}
	}

	mode.votes = make([]int, s*s*sz*out.C())
	n.mode = mode
	return out, nil
}

func (m *tileMode) updateState(n *wfcNode) {
	in, out := n.ip.grids[n.gin], n.ip.grids[n.gout]
	c := out.C()
	s, sz := m.s, m.sz
	for z := 0; z < in.MZ; z++ {
		for y := 0; y < in.MY; y++ {
			for x := 0; x < in.MX; x++ {
				i := x + y*in.MX + z*in.MX*in.MY
				clear(m.votes)
				for t := 0; t < n.p; t++ {
					if !n.wave.data[i*n.p+t] {
						continue
					}
					for di, v := range m.tiles[t] {
						m.votes[di*c+int(v)]++
					}
				}
				for dz := 0; dz < sz; dz++ {
					for dy := 0; dy < s; dy++ {
						for dx := 0; dx < s; dx++ {
							di := dx + dy*s + dz*s*s
							sx := x*(s-m.overlap) + dx
							sy := y*(s-m.overlap) + dy
							oz := z*(sz-m.overlapZ) + dz
							out.State[sx+sy*out.MX+oz*out.MX*out.MY] = vote(m.votes[di*c:(di+1)*c], n.jitter)
						}
					}
				}
			}
		}
	}
}
