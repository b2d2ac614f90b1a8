package engine

import (
	"fmt"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/rule"
)

// parallelNode applies every match independently against the state at the
// start of the activation. Later writes to a cell win.
type parallelNode struct {
	ruleNode
	newState []uint8
}

func buildParallel(b *builder, def *model.Node, path string, sym []bool, gi int) (Node, error) {
	if len(def.Observe) > 0 {
		return nil, fmt.Errorf("prl nodes do not support observe")
	}
	n := &parallelNode{}
	if err := n.load(b, def, sym, gi); err != nil {
		return nil, err
	}
	n.newState = make([]uint8, b.ip.grids[gi].Len())
	return n, nil
}

func (n *parallelNode) reset() { n.ruleNode.reset() }

func (n *parallelNode) add(g *grid.Grid, r, x, y, z int, maskr []bool) {
	rl := n.rules[r]
	if n.ip.rand.Float64() > rl.P {
		return
	}
	mx, my := g.MX, g.MY
	for dz := 0; dz < rl.OMZ; dz++ {
		for dy := 0; dy < rl.OMY; dy++ {
			for dx := 0; dx < rl.OMX; dx++ {
				v := rl.Output[dx+dy*rl.OMX+dz*rl.OMX*rl.OMY]
				i := x + dx + (y+dy)*mx + (z+dz)*mx*my
				if v != rule.Wildcard && v != g.State[i] {
					n.newState[i] = v
					n.ip.record(x+dx, y+dy, z+dz)
				}
			}
		}
	}
	n.matchCount++
}

func (n *parallelNode) step() bool {
	ip := n.ip
	// earlier nodes of this turn may have logged cells too; commit only ours
	begin := len(ip.changes)
	if !n.prepare(n.add) {
		return false
	}
	g := n.grid()
	for _, ch := range ip.changes[begin:] {
		i := ch.X + ch.Y*g.MX + ch.Z*g.MX*g.MY
		g.State[i] = n.newState[i]
	}
	n.counter++
	return n.matchCount > 0
}
