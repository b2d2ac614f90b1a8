package engine

import (
	"fmt"
	"math"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/rng"
)

// pathNode draws one shortest path per activation from a start cell to the
// nearest (or farthest) finish cell through substrate cells.
type pathNode struct {
	ip *Interpreter
	gi int

	start, finish, substrate uint32
	value                    uint8

	inertia, longest, edges, vertices bool

	generations []int
}

func buildPath(b *builder, def *model.Node, path string, sym []bool, gi int) (Node, error) {
	g := b.ip.grids[gi]
	n := &pathNode{
		ip:       b.ip,
		gi:       gi,
		inertia:  def.Inertia,
		longest:  def.Longest,
		edges:    def.Edges,
		vertices: def.Vertices,
	}
	var err error
	if def.From == "" || def.To == "" || def.On == "" {
		return nil, fmt.Errorf("path needs from, to and on")
	}
	if n.start, err = g.Wave(def.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if n.finish, err = g.Wave(def.To); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if n.substrate, err = g.Wave(def.On); err != nil {
		return nil, fmt.Errorf("on: %w", err)
	}
	color := def.Color
	if color == "" {
		color = def.From[:1]
	}
	c, err := symbol(color, "path color")
	if err != nil {
		return nil, err
	}
	v, ok := g.Values[c]
	if !ok {
		return nil, fmt.Errorf("unknown path color %q", color)
	}
	n.value = v
	n.generations = make([]int, g.Len())
	return n, nil
}

func (n *pathNode) reset() {}

type pos struct{ x, y, z int }

type wavefront struct {
	t int
	pos
}

func (n *pathNode) step() bool {
	g := n.ip.grids[n.gi]
	mx, my, mz := g.MX, g.MY, g.MZ
	gen := n.generations

	var frontier []wavefront
	var starts []pos
	for z := 0; z < mz; z++ {
		for y := 0; y < my; y++ {
			for x := 0; x < mx; x++ {
				i := x + y*mx + z*mx*my
				gen[i] = -1
				s := g.State[i]
				if n.start&(1<<s) != 0 {
					starts = append(starts, pos{x, y, z})
				}
				if n.finish&(1<<s) != 0 {
					gen[i] = 0
					frontier = append(frontier, wavefront{0, pos{x, y, z}})
				}
			}
		}
	}
	if len(starts) == 0 || len(frontier) == 0 {
		return false
	}

	var dirs []pos
	for head := 0; head < len(frontier); head++ {
		f := frontier[head]
		dirs = directions(dirs[:0], f.x, f.y, f.z, mx, my, mz, n.edges, n.vertices)
		for _, d := range dirs {
			x, y, z := f.x+d.x, f.y+d.y, f.z+d.z
			i := x + y*mx + z*mx*my
			v := g.State[i]
			if gen[i] != -1 {
				continue
			}
			if n.substrate&(1<<v) != 0 {
				gen[i] = f.t + 1
				frontier = append(frontier, wavefront{f.t + 1, pos{x, y, z}})
			} else if n.start&(1<<v) != 0 {
				gen[i] = f.t + 1
			}
		}
	}

	rand := rng.New(n.ip.rand.Seed())
	lo, hi := float64(mx*my*mz), -2.0
	argmin, argmax := pos{-1, -1, -1}, pos{-1, -1, -1}
	for _, p := range starts {
		gp := gen[p.x+p.y*mx+p.z*mx*my]
		if gp <= 0 {
			continue
		}
		score := float64(gp) + 0.1*rand.Float64()
		if score < lo {
			lo, argmin = score, p
		}
		if score > hi {
			hi, argmax = score, p
		}
	}
	pen := argmin
	if n.longest {
		pen = argmax
	}
	if pen.x < 0 {
		return false
	}

	d := n.direction(g, pen, pos{}, rand)
	pen = pos{pen.x + d.x, pen.y + d.y, pen.z + d.z}
	for gen[pen.x+pen.y*mx+pen.z*mx*my] != 0 {
		g.State[pen.x+pen.y*mx+pen.z*mx*my] = n.value
		n.ip.record(pen.x, pen.y, pen.z)
		d = n.direction(g, pen, d, rand)
		pen = pos{pen.x + d.x, pen.y + d.y, pen.z + d.z}
	}
	return true
}

// direction picks the next step toward generation g-1. With inertia the
// previous direction d is kept when possible.
func (n *pathNode) direction(g *grid.Grid, p, d pos, rand *rng.Stream) pos {
	mx, my, mz := g.MX, g.MY, g.MZ
	gen := n.generations
	cur := gen[p.x+p.y*mx+p.z*mx*my]
	moving := d.x != 0 || d.y != 0 || d.z != 0

	var candidates []pos
	add := func(c pos) {
		if gen[p.x+c.x+(p.y+c.y)*mx+(p.z+c.z)*mx*my] == cur-1 {
			candidates = append(candidates, c)
		}
	}

	if !n.vertices && !n.edges {
		if n.inertia && moving {
			cx, cy, cz := p.x+d.x, p.y+d.y, p.z+d.z
			if cx >= 0 && cy >= 0 && cz >= 0 && cx < mx && cy < my && cz < mz && gen[cx+cy*mx+cz*mx*my] == cur-1 {
				return d
			}
		}
		if p.x > 0 {
			add(pos{-1, 0, 0})
		}
		if p.x < mx-1 {
			add(pos{1, 0, 0})
		}
		if p.y > 0 {
			add(pos{0, -1, 0})
		}
		if p.y < my-1 {
			add(pos{0, 1, 0})
		}
		if p.z > 0 {
			add(pos{0, 0, -1})
		}
		if p.z < mz-1 {
			add(pos{0, 0, 1})
		}
		if len(candidates) == 0 {
			panic("engine: path lost its gradient")
		}
		return candidates[rand.Intn(len(candidates))]
	}

	for _, c := range directions(nil, p.x, p.y, p.z, mx, my, mz, n.edges, n.vertices) {
		add(c)
	}
	if len(candidates) == 0 {
		panic("engine: path lost its gradient")
	}
	if !n.inertia || !moving {
		return candidates[rand.Intn(len(candidates))]
	}
	best, result := -4.0, candidates[0]
	dd := float64(d.x*d.x + d.y*d.y + d.z*d.z)
	for _, c := range candidates {
		noise := 0.1 * rand.Float64()
		cc := float64(c.x*c.x + c.y*c.y + c.z*c.z)
		cos := float64(c.x*d.x+c.y*d.y+c.z*d.z) / math.Sqrt(cc*dd)
		if cos+noise > best {
			best, result = cos+noise, c
		}
	}
	return result
}

// directions appends the in-bounds neighbor offsets of (x, y, z). edges adds
// face diagonals, vertices adds the 3D corner diagonals.
func directions(out []pos, x, y, z, mx, my, mz int, edges, vertices bool) []pos {
	if x > 0 {
		out = append(out, pos{-1, 0, 0})
	}
	if x < mx-1 {
		out = append(out, pos{1, 0, 0})
	}
	if y > 0 {
		out = append(out, pos{0, -1, 0})
	}
	if y < my-1 {
		out = append(out, pos{0, 1, 0})
	}
	if mz == 1 {
		if edges {
			out = appendEdgesXY(out, x, y, mx, my)
		}
		return out
	}
	if z > 0 {
		out = append(out, pos{0, 0, -1})
	}
	if z < mz-1 {
		out = append(out, pos{0, 0, 1})
	}
	if edges {
		out = appendEdgesXY(out, x, y, mx, my)
		if x > 0 && z > 0 {
			out = append(out, pos{-1, 0, -1})
		}
		if x > 0 && z < mz-1 {
			out = append(out, pos{-1, 0, 1})
		}
		if x < mx-1 && z > 0 {
			out = append(out, pos{1, 0, -1})
		}
		if x < mx-1 && z < mz-1 {
			out = append(out, pos{1, 0, 1})
		}
		if y > 0 && z > 0 {
			out = append(out, pos{0, -1, -1})
		}
		if y > 0 && z < mz-1 {
			out = append(out, pos{0, -1, 1})
		}
		if y < my-1 && z > 0 {
			out = append(out, pos{0, 1, -1})
		}
		if y < my-1 && z < mz-1 {
			out = append(out, pos{0, 1, 1})
		}
	}
	if vertices {
		for _, dx := range [2]int{-1, 1} {
			for _, dy := range [2]int{-1, 1} {
				for _, dz := range [2]int{-1, 1} {
					if inside(x+dx, mx) && inside(y+dy, my) && inside(z+dz, mz) {
						out = append(out, pos{dx, dy, dz})
					}
				}
			}
		}
	}
	return out
}

func appendEdgesXY(out []pos, x, y, mx, my int) []pos {
	if x > 0 && y > 0 {
		out = append(out, pos{-1, -1, 0})
	}
	if x > 0 && y < my-1 {
		out = append(out, pos{-1, 1, 0})
	}
	if x < mx-1 && y > 0 {
		out = append(out, pos{1, -1, 0})
	}
	if x < mx-1 && y < my-1 {
		out = append(out, pos{1, 1, 0})
	}
	return out
}

func inside(v, m int) bool { return v >= 0 && v < m }
