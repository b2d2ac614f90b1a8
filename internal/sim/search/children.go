package search

import "voxelrule.ai/internal/sim/rule"

func matches(r *rule.Rule, x, y, z int, state []uint8, mx, my, mz int) bool {
	if x+r.IMX > mx || y+r.IMY > my || z+r.IMZ > mz {
		return false
	}
	dx, dy, dz := 0, 0, 0
	for _, w := range r.Input {
		if w&(1<<state[x+dx+(y+dy)*mx+(z+dz)*mx*my]) == 0 {
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

func applyRule(r *rule.Rule, x, y, z int, state []uint8, mx, my int) {
	for dz := 0; dz < r.OMZ; dz++ {
		for dy := 0; dy < r.OMY; dy++ {
			for dx := 0; dx < r.OMX; dx++ {
				v := r.Output[dx+dy*r.OMX+dz*r.OMX*r.OMY]
				if v != rule.Wildcard {
					state[x+dx+(y+dy)*mx+(z+dz)*mx*my] = v
				}
			}
		}
	}
}

// OneChildStates returns one successor per matching (rule, position) pair.
func OneChildStates(state []uint8, mx, my, mz int, rules []*rule.Rule) [][]uint8 {
	var out [][]uint8
	for _, r := range rules {
		for z := 0; z < mz; z++ {
			for y := 0; y < my; y++ {
				for x := 0; x < mx; x++ {
					if matches(r, x, y, z, state, mx, my, mz) {
						child := clone(state)
						applyRule(r, x, y, z, child, mx, my)
						out = append(out, child)
					}
				}
			}
		}
	}
	return out
}

type tile struct {
	r       *rule.Rule
	x, y, z int
}

func (t tile) contains(x, y, z int) bool {
	return t.x <= x && x < t.x+t.r.IMX &&
		t.y <= y && y < t.y+t.r.IMY &&
		t.z <= z && z < t.z+t.r.IMZ
}

func (t tile) overlaps(o tile) bool {
	return t.x < o.x+o.r.IMX && o.x < t.x+t.r.IMX &&
		t.y < o.y+o.r.IMY && o.y < t.y+t.r.IMY &&
		t.z < o.z+o.r.IMZ && o.z < t.z+t.r.IMZ
}

type enumerator struct {
	state      []uint8
	mx, my, mz int
	tiles      []tile
	amounts    []int
	visible    []bool
	solution   []int
	children   [][]uint8
}

// AllChildStates returns the result of every maximal set of pairwise
// non-overlapping matches, applied simultaneously.
func AllChildStates(state []uint8, mx, my, mz int, rules []*rule.Rule) [][]uint8 {
	e := &enumerator{
		state:   state,
		mx:      mx,
		my:      my,
		mz:      mz,
		amounts: make([]int, len(state)),
	}
	for i := range state {
		x, y, z := i%mx, (i%(mx*my))/mx, i/(mx*my)
		for _, r := range rules {
			if !matches(r, x, y, z, state, mx, my, mz) {
				continue
			}
			e.tiles = append(e.tiles, tile{r: r, x: x, y: y, z: z})
			e.cover(tile{r: r, x: x, y: y, z: z}, 1)
		}
	}
	e.visible = make([]bool, len(e.tiles))
	for i := range e.visible {
		e.visible[i] = true
	}
	e.enumerate()
	return e.children
}

func (e *enumerator) cover(t tile, delta int) {
	for dz := 0; dz < t.r.IMZ; dz++ {
		for dy := 0; dy < t.r.IMY; dy++ {
			for dx := 0; dx < t.r.IMX; dx++ {
				e.amounts[t.x+dx+(t.y+dy)*e.mx+(t.z+dz)*e.mx*e.my] += delta
			}
		}
	}
}

func (e *enumerator) hide(l int) {
	e.visible[l] = false
	e.cover(e.tiles[l], -1)
}

func (e *enumerator) unhide(l int) {
	e.visible[l] = true
	e.cover(e.tiles[l], 1)
}

func maxPositiveIndex(amounts []int) int {
	best, index := 0, -1
	for i, a := range amounts {
		if a > best {
			best, index = a, i
		}
	}
	return index
}

func (e *enumerator) enumerate() {
	index := maxPositiveIndex(e.amounts)
	if index < 0 {
		child := clone(e.state)
		for _, l := range e.solution {
			t := e.tiles[l]
			applyRule(t.r, t.x, t.y, t.z, child, e.mx, e.my)
		}
		e.children = append(e.children, child)
		return
	}
	x, y, z := index%e.mx, (index%(e.mx*e.my))/e.mx, index/(e.mx*e.my)

	var cover []int
	for l, t := range e.tiles {
		if e.visible[l] && t.contains(x, y, z) {
			cover = append(cover, l)
		}
	}
	for _, l := range cover {
		e.solution = append(e.solution, l)
		var intersecting []int
		for k, t := range e.tiles {
			if e.visible[k] && e.tiles[l].overlaps(t) {
				intersecting = append(intersecting, k)
			}
		}
		for _, k := range intersecting {
			e.hide(k)
		}
		e.enumerate()
		for _, k := range intersecting {
			e.unhide(k)
		}
		e.solution = e.solution[:len(e.solution)-1]
	}
}
