package engine

import (
	"fmt"
	"strconv"
	"strings"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/rule"
)

// mapNode rewrites its input grid into a fresh, rescaled grid and then runs
// its children on the new grid.
type mapNode struct {
	branch
	gin, gout  int
	rules      []*rule.Rule
	nx, ny, nz int
	dx, dy, dz int
}

func buildMap(b *builder, def *model.Node, path string, sym []bool, gi int) (Node, error) {
	in := b.ip.grids[gi]
	n := &mapNode{gin: gi}
	n.root = true
	scales := strings.Fields(def.Scale)
	if len(scales) != 3 {
		return nil, fmt.Errorf("scale %q should have 3 components", def.Scale)
	}
	var err error
	if n.nx, n.dx, err = readScale(scales[0]); err != nil {
		return nil, err
	}
	if n.ny, n.dy, err = readScale(scales[1]); err != nil {
		return nil, err
	}
	if n.nz, n.dz, err = readScale(scales[2]); err != nil {
		return nil, err
	}
	values := def.Values
	if values == "" {
		values = b.model.Values
	}
	out, err := newGrid(in.MX*n.nx/n.dx, in.MY*n.ny/n.dy, in.MZ*n.nz/n.dz, values, def.Unions, "", b.model.Folder)
	if err != nil {
		return nil, fmt.Errorf("output grid: %w", err)
	}
	n.gout = b.ip.addGrid(out)

	if err := n.loadChildren(b, def, path, sym, n.gout); err != nil {
		return nil, err
	}

	is2D := in.MZ == 1
	msym, err := b.symmetry(def.Symmetry, sym, gi)
	if err != nil {
		return nil, err
	}
	for i, rd := range def.Rules {
		r, err := rule.Compile(rd.In, rd.Out, in, out, rd.Probability())
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		r.Original = true
		rsym, err := b.symmetry(rd.Symmetry, msym, gi)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		n.rules = append(n.rules, r.Symmetries(rsym, is2D)...)
	}
	return n, nil
}

func readScale(s string) (int, int, error) {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("bad scale component %q", s)
	}
	if !found {
		return n, 1, nil
	}
	d, err := strconv.Atoi(den)
	if err != nil || d <= 0 {
		return 0, 0, fmt.Errorf("bad scale component %q", s)
	}
	return n, d, nil
}

func (n *mapNode) reset() {
	n.resetChildren()
	n.n = -1
}

func (n *mapNode) step() bool {
	if n.n >= 0 {
		return n.run(n)
	}
	in, out := n.ip.grids[n.gin], n.ip.grids[n.gout]
	out.Clear()
	for _, r := range n.rules {
		for z := 0; z < in.MZ; z++ {
			for y := 0; y < in.MY; y++ {
				for x := 0; x < in.MX; x++ {
					if periodicMatch(r, x, y, z, in) {
						periodicApply(r, x*n.nx/n.dx, y*n.ny/n.dy, z*n.nz/n.dz, out)
					}
				}
			}
		}
	}
	n.ip.gi = n.gout
	n.n++
	return true
}

func periodicMatch(r *rule.Rule, x, y, z int, g *grid.Grid) bool {
	mx, my, mz := g.MX, g.MY, g.MZ
	for dz := 0; dz < r.IMZ; dz++ {
		for dy := 0; dy < r.IMY; dy++ {
			for dx := 0; dx < r.IMX; dx++ {
				sx, sy, sz := (x+dx)%mx, (y+dy)%my, (z+dz)%mz
				if r.Input[dx+dy*r.IMX+dz*r.IMX*r.IMY]&(1<<g.State[sx+sy*mx+sz*mx*my]) == 0 {
					return false
				}
			}
		}
	}
	return true
}

func periodicApply(r *rule.Rule, x, y, z int, g *grid.Grid) {
	mx, my, mz := g.MX, g.MY, g.MZ
	for dz := 0; dz < r.OMZ; dz++ {
		for dy := 0; dy < r.OMY; dy++ {
			for dx := 0; dx < r.OMX; dx++ {
				v := r.Output[dx+dy*r.OMX+dz*r.OMX*r.OMY]
				if v == rule.Wildcard {
					continue
				}
				sx, sy, sz := (x+dx)%mx, (y+dy)%my, (z+dz)%mz
				g.State[sx+sy*mx+sz*mx*my] = v
			}
		}
	}
}
