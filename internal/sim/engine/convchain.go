package engine

import (
	"fmt"
	"math"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/symmetry"
)

// convChainNode fills substrate cells with two colors by Metropolis sampling
// so that local NxN windows resemble a binary sample. 2D only.
type convChainNode struct {
	ip *Interpreter
	gi int

	n           int
	steps       int
	temperature float64
	weights     []float64

	c0, c1, on uint8
	substrate  []bool
	counter    int
}

func buildConvChain(b *builder, def *model.Node, path string, sym []bool, gi int) (Node, error) {
	g := b.ip.grids[gi]
	if g.MZ != 1 {
		return nil, fmt.Errorf("convchain works only on 2d grids")
	}
	if len(def.Sample) == 0 {
		return nil, fmt.Errorf("convchain needs a sample")
	}
	n := &convChainNode{ip: b.ip, gi: gi, n: 3, steps: def.Steps, temperature: 1}
	if def.N > 0 {
		n.n = def.N
	}
	if n.n > 4 {
		return nil, fmt.Errorf("convchain n=%d is larger than 4", n.n)
	}
	if def.Temperature != nil {
		n.temperature = *def.Temperature
	}
	var err error
	if n.c0, err = lookupValue(g.Values, def.Black, "black"); err != nil {
		return nil, err
	}
	if n.c1, err = lookupValue(g.Values, def.White, "white"); err != nil {
		return nil, err
	}
	if n.on, err = lookupValue(g.Values, def.On, "on"); err != nil {
		return nil, err
	}
	nsym, err := b.symmetry(def.Symmetry, sym, gi)
	if err != nil {
		return nil, err
	}

	smx, smy := len(def.Sample[0]), len(def.Sample)
	sample := make([]bool, smx*smy)
	for y, row := range def.Sample {
		if len(row) != smx {
			return nil, fmt.Errorf("sample row %d has length %d, want %d", y, len(row), smx)
		}
		for x := 0; x < smx; x++ {
			sample[x+y*smx] = row[x] == def.White[0]
		}
	}

	N := n.n
	n.weights = make([]float64, 1<<(N*N))
	for y := 0; y < smy; y++ {
		for x := 0; x < smx; x++ {
			p := make([]bool, N*N)
			for dy := 0; dy < N; dy++ {
				for dx := 0; dx < N; dx++ {
					p[dx+dy*N] = sample[(x+dx)%smx+(y+dy)%smy*smx]
				}
			}
			rot := func(q []bool) []bool { return rotatedPattern(q, N) }
			ref := func(q []bool) []bool { return reflectedPattern(q, N) }
			for _, q := range symmetry.Square(p, rot, ref, func(a, b []bool) bool { return false }, nsym) {
				n.weights[bitIndex(q)]++
			}
		}
	}
	for i, w := range n.weights {
		if w <= 0 {
			n.weights[i] = 0.1
		}
	}
	n.substrate = make([]bool, g.Len())
	return n, nil
}

func lookupValue(values map[byte]uint8, s, what string) (uint8, error) {
	c, err := symbol(s, what)
	if err != nil {
		return 0, err
	}
	v, ok := values[c]
	if !ok {
		return 0, fmt.Errorf("unknown %s value %q", what, s)
	}
	return v, nil
}

func bitIndex(p []bool) int {
	i := 0
	for k, b := range p {
		if b {
			i |= 1 << k
		}
	}
	return i
}

func (n *convChainNode) reset() {
	clear(n.substrate)
	n.counter = 0
}

func (n *convChainNode) toggle(state []uint8, i int) {
	if state[i] == n.c0 {
		state[i] = n.c1
	} else {
		state[i] = n.c0
	}
}

func (n *convChainNode) step() bool {
	if n.steps > 0 && n.counter >= n.steps {
		return false
	}
	ip := n.ip
	g := ip.grids[n.gi]
	mx, my := g.MX, g.MY
	state := g.State

	if n.counter == 0 {
		found := false
		for i, v := range state {
			if v != n.on {
				continue
			}
			if ip.rand.Intn(2) == 0 {
				state[i] = n.c0
			} else {
				state[i] = n.c1
			}
			n.substrate[i] = true
			ip.recordIndex(g, i)
			found = true
		}
		n.counter++
		return found
	}

	N := n.n
	for range state {
		r := ip.rand.Intn(len(state))
		if !n.substrate[r] {
			continue
		}
		x, y := r%mx, r/mx
		q := 1.0
		for sy := y - N + 1; sy <= y+N-1; sy++ {
			for sx := x - N + 1; sx <= x+N-1; sx++ {
				ind, diff := 0, 0
				for dy := 0; dy < N; dy++ {
					for dx := 0; dx < N; dx++ {
						X := ((sx+dx)%mx + mx) % mx
						Y := ((sy+dy)%my + my) % my
						power := 1 << (dx + dy*N)
						white := state[X+Y*mx] == n.c1
						if white {
							ind += power
						}
						if X == x && Y == y {
							if white {
								diff = power
							} else {
								diff = -power
							}
						}
					}
				}
				q *= n.weights[ind-diff] / n.weights[ind]
			}
		}
		if q >= 1 {
			n.toggle(state, r)
			ip.recordIndex(g, r)
			continue
		}
		if n.temperature != 1 {
			q = math.Pow(q, 1/n.temperature)
		}
		if q > ip.rand.Float64() {
			n.toggle(state, r)
			ip.recordIndex(g, r)
		}
	}
	n.counter++
	return true
}
