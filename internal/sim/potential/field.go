package potential

import (
	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/rule"
)

// Field is a distance field over substrate cells toward zero cells. Inversed
// fields (declared with "from") push away from their zeros instead.
type Field struct {
	Substrate uint32
	Zero      uint32
	Inversed  bool
	Recompute bool
	Essential bool
}

// Compute fills potential with BFS distances from zero cells through 6-neighbors
// lying on the substrate. It reports false when the grid has no zero cell.
func (f *Field) Compute(potential []int, g *grid.Grid) bool {
	mx, my, mz := g.MX, g.MY, g.MZ
	var front []cell
	ix, iy, iz := 0, 0, 0
	for i, v := range g.State {
		potential[i] = -1
		if f.Zero&(1<<v) != 0 {
			potential[i] = 0
			front = append(front, cell{0, ix, iy, iz})
		}
		ix++
		if ix == mx {
			ix = 0
			iy++
			if iy == my {
				iy = 0
				iz++
			}
		}
	}
	if len(front) == 0 {
		return false
	}
	var nb [6][3]int
	for head := 0; head < len(front); head++ {
		q := front[head]
		for _, n := range neighbors(nb[:0], q.x, q.y, q.z, mx, my, mz) {
			i := n[0] + n[1]*mx + n[2]*mx*my
			if potential[i] == -1 && f.Substrate&(1<<g.State[i]) != 0 {
				front = append(front, cell{q.c + 1, n[0], n[1], n[2]})
				potential[i] = q.c + 1
			}
		}
	}
	return true
}

func neighbors(out [][3]int, x, y, z, mx, my, mz int) [][3]int {
	if x > 0 {
		out = append(out, [3]int{x - 1, y, z})
	}
	if x < mx-1 {
		out = append(out, [3]int{x + 1, y, z})
	}
	if y > 0 {
		out = append(out, [3]int{x, y - 1, z})
	}
	if y < my-1 {
		out = append(out, [3]int{x, y + 1, z})
	}
	if z > 0 {
		out = append(out, [3]int{x, y, z - 1})
	}
	if z < mz-1 {
		out = append(out, [3]int{x, y, z + 1})
	}
	return out
}

// DeltaPointwise estimates how applying r at (x, y, z) changes the summed
// potential of the grid. ok is false when r would write a color whose
// potential is unreachable at that cell. fields is indexed by color and may be nil.
func DeltaPointwise(state []uint8, r *rule.Rule, x, y, z int, fields []*Field, potentials [][]int, mx, my int) (int, bool) {
	sum := 0
	dx, dy, dz := 0, 0, 0
	for di, in := range r.Input {
		nv := r.Output[di]
		if nv != rule.Wildcard && in&(1<<nv) == 0 {
			i := x + dx + (y+dy)*mx + (z+dz)*mx*my
			np := potentials[nv][i]
			if np == -1 {
				return 0, false
			}
			ov := state[i]
			op := potentials[ov][i]
			sum += np - op
			if fields != nil {
				if of := fields[ov]; of != nil && of.Inversed {
					sum += 2 * op
				}
				if nf := fields[nv]; nf != nil && nf.Inversed {
					sum -= 2 * np
				}
			}
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
	return sum, true
}
