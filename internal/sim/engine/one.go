package engine

import (
	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/potential"
	"voxelrule.ai/internal/sim/rule"
)

// oneNode applies a single matching rule per activation.
type oneNode struct{ ruleNode }

func buildOne(b *builder, def *model.Node, path string, sym []bool, gi int) (Node, error) {
	n := &oneNode{}
	if err := n.load(b, def, sym, gi); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *oneNode) reset() { n.ruleNode.reset() }

func (n *oneNode) step() bool {
	if !n.prepare(n.add) {
		return false
	}
	n.lastMatchedTurn = n.ip.counter
	g := n.grid()
	if n.trajectory != nil {
		return n.replayTrajectory(g)
	}
	m, ok := n.randomMatch(g)
	if !ok {
		return false
	}
	n.apply(g, n.rules[m.r], m.x, m.y, m.z)
	n.counter++
	return true
}

// apply writes r's output at (x, y, z) and logs the cells that change.
func (n *oneNode) apply(g *grid.Grid, r *rule.Rule, x, y, z int) {
	mx, my := g.MX, g.MY
	for dz := 0; dz < r.OMZ; dz++ {
		for dy := 0; dy < r.OMY; dy++ {
			for dx := 0; dx < r.OMX; dx++ {
				v := r.Output[dx+dy*r.OMX+dz*r.OMX*r.OMY]
				if v == rule.Wildcard {
					continue
				}
				sx, sy, sz := x+dx, y+dy, z+dz
				i := sx + sy*mx + sz*mx*my
				if g.State[i] != v {
					g.State[i] = v
					n.ip.record(sx, sy, sz)
				}
			}
		}
	}
}

func (n *oneNode) randomMatch(g *grid.Grid) (match, bool) {
	rand := n.ip.rand
	mx, my := g.MX, g.MY
	if n.potentials == nil {
		for n.matchCount > 0 {
			k := rand.Intn(n.matchCount)
			m := n.matches[k]
			n.matchMask[m.r][m.x+m.y*mx+m.z*mx*my] = false
			n.matches[k] = n.matches[n.matchCount-1]
			n.matchCount--
			if g.Matches(n.rules[m.r], m.x, m.y, m.z) {
				return m, true
			}
		}
		return match{}, false
	}

	if n.observations != nil && potential.IsGoalReached(g.State, n.future) {
		n.futureComputed = false
		return match{}, false
	}
	best, argmax := -1000.0, -1
	first, firstComputed := 0.0, false
	for k := 0; k < n.matchCount; k++ {
		m := n.matches[k]
		if !g.Matches(n.rules[m.r], m.x, m.y, m.z) {
			n.matchMask[m.r][m.x+m.y*mx+m.z*mx*my] = false
			n.matches[k] = n.matches[n.matchCount-1]
			n.matchCount--
			k--
			continue
		}
		d, ok := potential.DeltaPointwise(g.State, n.rules[m.r], m.x, m.y, m.z, n.fields, n.potentials, mx, my)
		if !ok {
			continue
		}
		h := float64(d)
		if !firstComputed {
			first, firstComputed = h, true
		}
		key := boltzmannKey(rand.Float64(), h, first, n.temperature, false)
		if key > best {
			best, argmax = key, k
		}
	}
	if argmax < 0 {
		return match{}, false
	}
	return n.matches[argmax], true
}
