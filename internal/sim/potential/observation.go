package potential

import "voxelrule.ai/internal/sim/rule"

// Observation constrains the goal of a rule node: cells currently colored
// with the observed value are rewritten to From and must end in To.
type Observation struct {
	From uint8
	To   uint32
}

// ComputeFutureSetPresent fills future with the goal mask of every cell and
// rewrites observed cells to their From color. It reports false when some
// observed color does not occur on the grid. observations is indexed by color;
// nil entries are unobserved.
func ComputeFutureSetPresent(future []uint32, state []uint8, observations []*Observation) bool {
	mask := make([]bool, len(observations))
	for c, o := range observations {
		if o == nil {
			mask[c] = true
		}
	}
	for i, v := range state {
		o := observations[v]
		mask[v] = true
		if o != nil {
			future[i] = o.To
			state[i] = o.From
		} else {
			future[i] = 1 << v
		}
	}
	for _, m := range mask {
		if !m {
			return false
		}
	}
	return true
}

// New allocates a C x cells potential table.
func New(c, cells int) [][]int {
	p := make([][]int, c)
	for i := range p {
		p[i] = make([]int, cells)
	}
	return p
}

// ComputeForwardPotentials sets potentials[c][i] to the minimum number of
// rewrites that can place color c at cell i starting from state, or -1.
func ComputeForwardPotentials(potentials [][]int, state []uint8, mx, my, mz int, rules []*rule.Rule) {
	for _, p := range potentials {
		for i := range p {
			p[i] = -1
		}
	}
	for i, v := range state {
		potentials[v][i] = 0
	}
	compute(potentials, mx, my, mz, rules, false)
}

// ComputeBackwardPotentials measures, for every color and cell, how many
// rewrites separate it from a state inside future.
func ComputeBackwardPotentials(potentials [][]int, future []uint32, mx, my, mz int, rules []*rule.Rule) {
	for c, p := range potentials {
		for i, f := range future {
			if f&(1<<c) != 0 {
				p[i] = 0
			} else {
				p[i] = -1
			}
		}
	}
	compute(potentials, mx, my, mz, rules, true)
}

type cell struct {
	c, x, y, z int
}

func compute(potentials [][]int, mx, my, mz int, rules []*rule.Rule, backwards bool) {
	var queue []cell
	for c, p := range potentials {
		for i, v := range p {
			if v == 0 {
				queue = append(queue, cell{c, i % mx, (i % (mx * my)) / mx, i / (mx * my)})
			}
		}
	}
	cells := mx * my * mz
	matchMask := make([][]bool, len(rules))
	for r := range matchMask {
		matchMask[r] = make([]bool, cells)
	}

	for head := 0; head < len(queue); head++ {
		q := queue[head]
		t := potentials[q.c][q.x+q.y*mx+q.z*mx*my]
		for r, rl := range rules {
			maskr := matchMask[r]
			var shifts []rule.Shift
			if backwards {
				shifts = rl.OShifts[q.c]
			} else {
				shifts = rl.IShifts[q.c]
			}
			for _, s := range shifts {
				sx, sy, sz := q.x-s.X, q.y-s.Y, q.z-s.Z
				if sx < 0 || sy < 0 || sz < 0 || sx+rl.IMX > mx || sy+rl.IMY > my || sz+rl.IMZ > mz {
					continue
				}
				si := sx + sy*mx + sz*mx*my
				if !maskr[si] && forwardMatches(rl, sx, sy, sz, potentials, t, mx, my, backwards) {
					maskr[si] = true
					queue = applyForward(rl, sx, sy, sz, potentials, t, mx, my, backwards, queue)
				}
			}
		}
	}
}

func forwardMatches(r *rule.Rule, x, y, z int, potentials [][]int, t, mx, my int, backwards bool) bool {
	dx, dy, dz := 0, 0, 0
	n := len(r.Input)
	for di := 0; di < n; di++ {
		var value uint8
		if backwards {
			value = r.Output[di]
		} else {
			value = r.BInput[di]
		}
		if value != rule.Wildcard {
			current := potentials[value][x+dx+(y+dy)*mx+(z+dz)*mx*my]
			if current > t || current == -1 {
				return false
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
	return true
}

func applyForward(r *rule.Rule, x, y, z int, potentials [][]int, t, mx, my int, backwards bool, queue []cell) []cell {
	a := r.Output
	if backwards {
		a = r.BInput
	}
	for dz := 0; dz < r.IMZ; dz++ {
		zdz := z + dz
		for dy := 0; dy < r.IMY; dy++ {
			ydy := y + dy
			for dx := 0; dx < r.IMX; dx++ {
				xdx := x + dx
				idi := xdx + ydy*mx + zdz*mx*my
				o := a[dx+dy*r.IMX+dz*r.IMX*r.IMY]
				if o != rule.Wildcard && potentials[o][idi] == -1 {
					potentials[o][idi] = t + 1
					queue = append(queue, cell{int(o), xdx, ydy, zdz})
				}
			}
		}
	}
	return queue
}

func IsGoalReached(present []uint8, future []uint32) bool {
	for i, p := range present {
		if (1<<p)&future[i] == 0 {
			return false
		}
	}
	return true
}

// ForwardPointwise scores a future against forward potentials: the sum over
// cells of the cheapest acceptable color, or -1 when some cell is unreachable.
func ForwardPointwise(potentials [][]int, future []uint32) int {
	sum := 0
	for i, f := range future {
		min, argmin := 1000, -1
		for c := range potentials {
			p := potentials[c][i]
			if f&1 == 1 && p >= 0 && p < min {
				min, argmin = p, c
			}
			f >>= 1
		}
		if argmin < 0 {
			return -1
		}
		sum += min
	}
	return sum
}

// BackwardPointwise scores a present state against backward potentials.
func BackwardPointwise(potentials [][]int, present []uint8) int {
	sum := 0
	for i, v := range present {
		p := potentials[v][i]
		if p < 0 {
			return -1
		}
		sum += p
	}
	return sum
}
