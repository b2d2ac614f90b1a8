package engine

import (
	"fmt"
	"strconv"
	"strings"

	"voxelrule.ai/internal/model"
)

var kernels2D = map[string][]int{
	"VonNeumann": {0, 1, 0, 1, 0, 1, 0, 1, 0},
	"Moore":      {1, 1, 1, 1, 0, 1, 1, 1, 1},
}

var kernels3D = map[string][]int{
	"VonNeumann": {0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 1, 0, 1, 0, 1, 0, 1, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0},
	"NoCorners":  {0, 1, 0, 1, 1, 1, 0, 1, 0, 1, 1, 1, 1, 0, 1, 1, 1, 1, 0, 1, 0, 1, 1, 1, 0, 1, 0},
}

type convRule struct {
	input, output uint8
	p             float64
	values        []uint8
	// sums[k] accepts a neighbor count of k; nil accepts every count.
	sums []bool
}

// convolutionNode rewrites every cell by the first rule whose neighbor count
// over its kernel is accepted.
type convolutionNode struct {
	ip       *Interpreter
	gi       int
	rules    []convRule
	kernel   []int
	steps    int
	periodic bool
	counter  int
	sumfield [][]int
}

func buildConvolution(b *builder, def *model.Node, path string, sym []bool, gi int) (Node, error) {
	g := b.ip.grids[gi]
	n := &convolutionNode{ip: b.ip, gi: gi, steps: def.Steps}
	if def.Periodic != nil {
		n.periodic = *def.Periodic
	}
	kernels := kernels2D
	if g.MZ != 1 {
		kernels = kernels3D
	}
	k, ok := kernels[def.Neighborhood]
	if !ok {
		return nil, fmt.Errorf("unknown neighborhood %q", def.Neighborhood)
	}
	n.kernel = k
	if len(def.Rules) == 0 {
		return nil, fmt.Errorf("no rules")
	}
	for i, rd := range def.Rules {
		cr, err := compileConvRule(rd, g.Values)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		n.rules = append(n.rules, cr)
	}
	n.sumfield = make([][]int, g.Len())
	for i := range n.sumfield {
		n.sumfield[i] = make([]int, g.C())
	}
	return n, nil
}

func compileConvRule(rd model.Rule, values map[byte]uint8) (convRule, error) {
	cr := convRule{p: rd.Probability()}
	lookup := func(s, what string) (uint8, error) {
		c, err := symbol(s, what)
		if err != nil {
			return 0, err
		}
		v, ok := values[c]
		if !ok {
			return 0, fmt.Errorf("unknown %s %q", what, s)
		}
		return v, nil
	}
	var err error
	if cr.input, err = lookup(rd.In, "input"); err != nil {
		return cr, err
	}
	if cr.output, err = lookup(rd.Out, "output"); err != nil {
		return cr, err
	}
	if (rd.Values == "") != (rd.Sum == "") {
		return cr, fmt.Errorf("values and sum must be given together")
	}
	if rd.Values == "" {
		return cr, nil
	}
	for i := 0; i < len(rd.Values); i++ {
		v, ok := values[rd.Values[i]]
		if !ok {
			return cr, fmt.Errorf("unknown value %q", rd.Values[i])
		}
		cr.values = append(cr.values, v)
	}
	cr.sums = make([]bool, 28)
	for _, part := range strings.Split(rd.Sum, ",") {
		lo, hi, err := interval(part)
		if err != nil {
			return cr, err
		}
		for k := lo; k <= hi; k++ {
			cr.sums[k] = true
		}
	}
	return cr, nil
}

// interval parses "a..b" or a single count "a".
func interval(s string) (int, int, error) {
	a, b, found := strings.Cut(s, "..")
	lo, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, fmt.Errorf("bad sum %q", s)
	}
	hi := lo
	if found {
		if hi, err = strconv.Atoi(strings.TrimSpace(b)); err != nil {
			return 0, 0, fmt.Errorf("bad sum %q", s)
		}
	}
	if lo < 0 || hi > 27 || lo > hi {
		return 0, 0, fmt.Errorf("sum %q out of range", s)
	}
	return lo, hi, nil
}

func (n *convolutionNode) reset() { n.counter = 0 }

func (n *convolutionNode) step() bool {
	if n.steps > 0 && n.counter >= n.steps {
		return false
	}
	g := n.ip.grids[n.gi]
	mx, my, mz := g.MX, g.MY, g.MZ
	for _, s := range n.sumfield {
		clear(s)
	}

	if mz == 1 {
		for y := 0; y < my; y++ {
			for x := 0; x < mx; x++ {
				sums := n.sumfield[x+y*mx]
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						sx, okx := wrapOne(x+dx, mx, n.periodic)
						sy, oky := wrapOne(y+dy, my, n.periodic)
						if !okx || !oky {
							continue
						}
						sums[g.State[sx+sy*mx]] += n.kernel[dx+1+(dy+1)*3]
					}
				}
			}
		}
	} else {
		for z := 0; z < mz; z++ {
			for y := 0; y < my; y++ {
				for x := 0; x < mx; x++ {
					sums := n.sumfield[x+y*mx+z*mx*my]
					for dz := -1; dz <= 1; dz++ {
						for dy := -1; dy <= 1; dy++ {
							for dx := -1; dx <= 1; dx++ {
								sx, okx := wrapOne(x+dx, mx, n.periodic)
								sy, oky := wrapOne(y+dy, my, n.periodic)
								sz, okz := wrapOne(z+dz, mz, n.periodic)
								if !okx || !oky || !okz {
									continue
								}
								sums[g.State[sx+sy*mx+sz*mx*my]] += n.kernel[dx+1+(dy+1)*3+(dz+1)*9]
							}
						}
					}
				}
			}
		}
	}

	change := false
	for i, sums := range n.sumfield {
		in := g.State[i]
		for _, r := range n.rules {
			if in != r.input || r.output == in {
				continue
			}
			if r.p < 1 && n.ip.rand.Float64() >= r.p {
				continue
			}
			if r.sums != nil {
				sum := 0
				for _, v := range r.values {
					sum += sums[v]
				}
				if !r.sums[sum] {
					continue
				}
			}
			g.State[i] = r.output
			n.ip.recordIndex(g, i)
			change = true
			break
		}
	}
	n.counter++
	return change
}

// wrapOne maps coordinate v into [0, m) when periodic, or reports false when
// it falls outside.
func wrapOne(v, m int, periodic bool) (int, bool) {
	if periodic {
		if v < 0 {
			v += m
		} else if v >= m {
			v -= m
		}
		return v, true
	}
	return v, v >= 0 && v < m
}
