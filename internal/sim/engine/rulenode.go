package engine

import (
	"fmt"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/potential"
	"voxelrule.ai/internal/sim/rule"
	"voxelrule.ai/internal/sim/search"
)

type match struct{ r, x, y, z int }

// addFunc receives every newly found match; maskr is the match mask of rule r.
type addFunc func(g *grid.Grid, r, x, y, z int, maskr []bool)

// ruleNode is the shared matching machinery of one, all and prl nodes.
type ruleNode struct {
	ip    *Interpreter
	gi    int
	rules []*rule.Rule

	steps   int
	counter int

	matches         []match
	matchCount      int
	lastMatchedTurn int
	matchMask       [][]bool

	temperature  float64
	fields       []*potential.Field
	potentials   [][]int
	observations []*potential.Observation
	future       []uint32

	futureComputed bool

	search           bool
	allChildren      bool
	limit            int
	depthCoefficient float64
	trajectory       [][]uint8
}

func (n *ruleNode) load(b *builder, def *model.Node, parentSym []bool, gi int) error {
	n.ip = b.ip
	n.gi = gi
	g := b.ip.grids[gi]
	is2D := g.MZ == 1
	sym, err := b.symmetry(def.Symmetry, parentSym, gi)
	if err != nil {
		return err
	}
	for i, rd := range def.Rules {
		r, err := rule.Compile(rd.In, rd.Out, g, g, rd.Probability())
		if err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		r.Original = true
		rsym, err := b.symmetry(rd.Symmetry, sym, gi)
		if err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		n.rules = append(n.rules, r.Symmetries(rsym, is2D)...)
	}
	if len(n.rules) == 0 {
		return fmt.Errorf("no rules")
	}
	n.steps = def.Steps
	if def.Temperature != nil {
		n.temperature = *def.Temperature
	}

	cells := g.Len()
	n.matchMask = make([][]bool, len(n.rules))
	for r := range n.matchMask {
		n.matchMask[r] = make([]bool, cells)
	}

	c := g.C()
	if len(def.Fields) > 0 {
		n.fields = make([]*potential.Field, c)
		n.potentials = potential.New(c, cells)
		for _, fd := range def.Fields {
			s, err := symbol(fd.For, "field value")
			if err != nil {
				return err
			}
			v, ok := g.Values[s]
			if !ok {
				return fmt.Errorf("unknown field value %q", fd.For)
			}
			f, err := newField(fd, g)
			if err != nil {
				return fmt.Errorf("field %s: %w", fd.For, err)
			}
			n.fields[v] = f
		}
	}

	if len(def.Observe) > 0 {
		n.observations = make([]*potential.Observation, c)
		for _, od := range def.Observe {
			s, err := symbol(od.Value, "observed value")
			if err != nil {
				return err
			}
			v, ok := g.Values[s]
			if !ok {
				return fmt.Errorf("unknown observed value %q", od.Value)
			}
			from := od.From
			if from == "" {
				from = od.Value
			}
			fs, err := symbol(from, "observation from")
			if err != nil {
				return err
			}
			fv, ok := g.Values[fs]
			if !ok {
				return fmt.Errorf("unknown observation from %q", from)
			}
			to, err := g.Wave(od.To)
			if err != nil {
				return fmt.Errorf("observe %s: %w", od.Value, err)
			}
			n.observations[v] = &potential.Observation{From: fv, To: to}
		}
		n.search = def.Search
		if n.search {
			n.limit = -1
			if def.Limit != nil {
				n.limit = *def.Limit
			}
			n.depthCoefficient = 0.5
			if def.DepthCoefficient != nil {
				n.depthCoefficient = *def.DepthCoefficient
			}
		} else {
			n.potentials = potential.New(c, cells)
		}
		n.future = make([]uint32, cells)
	}
	return nil
}

func newField(fd model.Field, g *grid.Grid) (*potential.Field, error) {
	substrate, err := g.Wave(fd.On)
	if err != nil {
		return nil, err
	}
	f := &potential.Field{Substrate: substrate, Recompute: fd.Recompute, Essential: fd.Essential}
	zeros := fd.To
	if fd.From != "" {
		f.Inversed = true
		zeros = fd.From
	}
	if zeros == "" {
		return nil, fmt.Errorf("field needs from or to")
	}
	if f.Zero, err = g.Wave(zeros); err != nil {
		return nil, err
	}
	return f, nil
}

func (n *ruleNode) grid() *grid.Grid { return n.ip.grids[n.gi] }

func (n *ruleNode) reset() {
	n.lastMatchedTurn = -1
	n.counter = 0
	n.futureComputed = false
	if n.matchCount != 0 {
		for _, m := range n.matchMask {
			clear(m)
		}
		n.matchCount = 0
	}
}

// add stores a match and marks it in the mask.
func (n *ruleNode) add(g *grid.Grid, r, x, y, z int, maskr []bool) {
	maskr[x+y*g.MX+z*g.MX*g.MY] = true
	m := match{r, x, y, z}
	if n.matchCount < len(n.matches) {
		n.matches[n.matchCount] = m
	} else {
		n.matches = append(n.matches, m)
	}
	n.matchCount++
}

// prepare runs the common part of an activation: step limit, goal and
// search setup, match collection and field computation. It reports false
// when the node cannot apply this turn.
func (n *ruleNode) prepare(add addFunc) bool {
	if n.steps > 0 && n.counter >= n.steps {
		return false
	}
	ip := n.ip
	g := n.grid()
	mx, my, mz := g.MX, g.MY, g.MZ

	if n.observations != nil && !n.futureComputed {
		n.recordObserved(g)
		if !potential.ComputeFutureSetPresent(n.future, g.State, n.observations) {
			return false
		}
		n.futureComputed = true
		if n.search {
			n.runSearch(g)
		} else {
			potential.ComputeBackwardPotentials(n.potentials, n.future, mx, my, mz, n.rules)
		}
	}
	if n.search && n.trajectory == nil {
		return false
	}

	if n.lastMatchedTurn >= 0 {
		for _, ch := range ip.changes[ip.first[n.lastMatchedTurn]:] {
			value := g.State[ch.X+ch.Y*mx+ch.Z*mx*my]
			for r, rl := range n.rules {
				maskr := n.matchMask[r]
				for _, s := range rl.IShifts[value] {
					sx, sy, sz := ch.X-s.X, ch.Y-s.Y, ch.Z-s.Z
					if sx < 0 || sy < 0 || sz < 0 || sx+rl.IMX > mx || sy+rl.IMY > my || sz+rl.IMZ > mz {
						continue
					}
					if !maskr[sx+sy*mx+sz*mx*my] && g.Matches(rl, sx, sy, sz) {
						add(g, r, sx, sy, sz, maskr)
					}
				}
			}
		}
	} else {
		n.matchCount = 0
		for r, rl := range n.rules {
			maskr := n.matchMask[r]
			for z := rl.IMZ - 1; z < mz; z += rl.IMZ {
				for y := rl.IMY - 1; y < my; y += rl.IMY {
					for x := rl.IMX - 1; x < mx; x += rl.IMX {
						value := g.State[x+y*mx+z*mx*my]
						for _, s := range rl.IShifts[value] {
							sx, sy, sz := x-s.X, y-s.Y, z-s.Z
							if sx < 0 || sy < 0 || sz < 0 || sx+rl.IMX > mx || sy+rl.IMY > my || sz+rl.IMZ > mz {
								continue
							}
							if g.Matches(rl, sx, sy, sz) {
								add(g, r, sx, sy, sz, maskr)
							}
						}
					}
				}
			}
		}
	}

	if n.fields != nil {
		anySuccess, anyComputation := false, false
		for c, f := range n.fields {
			if f == nil || (n.counter != 0 && !f.Recompute) {
				continue
			}
			ok := f.Compute(n.potentials[c], g)
			if !ok && f.Essential {
				return false
			}
			anySuccess = anySuccess || ok
			anyComputation = true
		}
		if anyComputation && !anySuccess {
			return false
		}
	}
	return true
}

// recordObserved logs the cells the future computation is about to rewrite.
func (n *ruleNode) recordObserved(g *grid.Grid) {
	for i, v := range g.State {
		if o := n.observations[v]; o != nil && o.From != v {
			n.ip.recordIndex(g, i)
		}
	}
}

func (n *ruleNode) runSearch(g *grid.Grid) {
	ip := n.ip
	n.trajectory = nil
	tries := 20
	if n.limit < 0 {
		tries = 1
	}
	for k := 0; k < tries && n.trajectory == nil; k++ {
		res := search.Run(search.Problem{
			Present:          g.State,
			Future:           n.future,
			Rules:            n.rules,
			MX:               g.MX,
			MY:               g.MY,
			MZ:               g.MZ,
			C:                g.C(),
			All:              n.allChildren,
			Limit:            n.limit,
			DepthCoefficient: n.depthCoefficient,
			Logger:           ip.logger,
		}, ip.rand.Seed())
		if ip.opts.Hooks.Search != nil {
			ip.opts.Hooks.Search(res.Found, res.Visited)
		}
		if res.Found {
			n.trajectory = res.Trajectory
		}
	}
	if n.trajectory == nil {
		ip.logger.Printf("search returned no trajectory")
	}
}

// replayTrajectory copies the next precomputed search state onto the grid.
func (n *ruleNode) replayTrajectory(g *grid.Grid) bool {
	if n.counter >= len(n.trajectory) {
		return false
	}
	n.ip.replay(g, n.trajectory[n.counter])
	n.counter++
	return true
}
