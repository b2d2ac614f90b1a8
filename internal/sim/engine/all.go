package engine

import (
	"math"
	"sort"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/potential"
	"voxelrule.ai/internal/sim/rule"
)

// allNode applies a maximal set of non-overlapping matches per activation.
type allNode struct{ ruleNode }

func buildAll(b *builder, def *model.Node, path string, sym []bool, gi int) (Node, error) {
	n := &allNode{}
	n.allChildren = true
	if err := n.load(b, def, sym, gi); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *allNode) reset() { n.ruleNode.reset() }

type keyedMatch struct {
	k   int
	key float64
}

// boltzmannKey is the selection key of a match with heuristic h, given the
// first heuristic h0 and a uniform u. Larger keys are applied first.
func boltzmannKey(u, h, h0, temperature float64, floor bool) float64 {
	if temperature <= 0 {
		return -h + 0.001*u
	}
	e := (h - h0) / temperature
	if floor {
		e = math.Floor(e)
	}
	return math.Pow(u, math.Exp(e))
}

func (n *allNode) step() bool {
	if !n.prepare(n.add) {
		return false
	}
	ip := n.ip
	n.lastMatchedTurn = ip.counter
	g := n.grid()
	if n.trajectory != nil {
		return n.replayTrajectory(g)
	}
	if n.matchCount == 0 {
		return false
	}
	mx, my := g.MX, g.MY

	if n.potentials != nil {
		first, firstComputed := 0.0, false
		var order []keyedMatch
		for k := 0; k < n.matchCount; k++ {
			m := n.matches[k]
			n.matchMask[m.r][m.x+m.y*mx+m.z*mx*my] = false
			d, ok := potential.DeltaPointwise(g.State, n.rules[m.r], m.x, m.y, m.z, n.fields, n.potentials, mx, my)
			if !ok {
				continue
			}
			h := float64(d)
			if !firstComputed {
				first, firstComputed = h, true
			}
			key := boltzmannKey(ip.rand.Float64(), h, first, n.temperature, ip.opts.BoltzmannFloorDivision)
			order = append(order, keyedMatch{k, key})
		}
		sort.SliceStable(order, func(i, j int) bool { return order[i].key > order[j].key })
		for _, o := range order {
			m := n.matches[o.k]
			n.fit(g, n.rules[m.r], m.x, m.y, m.z)
		}
	} else {
		shuffle := make([]int, n.matchCount)
		for i := range shuffle {
			shuffle[i] = i
		}
		ip.rand.Shuffle(len(shuffle), func(i, j int) { shuffle[i], shuffle[j] = shuffle[j], shuffle[i] })
		for _, k := range shuffle {
			m := n.matches[k]
			n.matchMask[m.r][m.x+m.y*mx+m.z*mx*my] = false
			n.fit(g, n.rules[m.r], m.x, m.y, m.z)
		}
	}

	for _, ch := range ip.changes[ip.first[n.lastMatchedTurn]:] {
		g.Mask[ch.X+ch.Y*mx+ch.Z*mx*my] = false
	}
	n.counter++
	n.matchCount = 0
	return true
}

// fit applies r at (x, y, z) unless one of its written cells was already
// written during this activation.
func (n *allNode) fit(g *grid.Grid, r *rule.Rule, x, y, z int) {
	mx, my := g.MX, g.MY
	for dz := 0; dz < r.OMZ; dz++ {
		for dy := 0; dy < r.OMY; dy++ {
			for dx := 0; dx < r.OMX; dx++ {
				v := r.Output[dx+dy*r.OMX+dz*r.OMX*r.OMY]
				if v != rule.Wildcard && g.Mask[x+dx+(y+dy)*mx+(z+dz)*mx*my] {
					return
				}
			}
		}
	}
	for dz := 0; dz < r.OMZ; dz++ {
		for dy := 0; dy < r.OMY; dy++ {
			for dx := 0; dx < r.OMX; dx++ {
				v := r.Output[dx+dy*r.OMX+dz*r.OMX*r.OMY]
				if v == rule.Wildcard {
					continue
				}
				sx, sy, sz := x+dx, y+dy, z+dz
				i := sx + sy*mx + sz*mx*my
				g.Mask[i] = true
				g.State[i] = v
				n.ip.record(sx, sy, sz)
			}
		}
	}
}
