package engine

import (
	"fmt"
	"math"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/rng"
)

var (
	wfcDX       = [6]int{1, 0, -1, 0, 0, 0}
	wfcDY       = [6]int{0, 1, 0, -1, 0, 0}
	wfcDZ       = [6]int{0, 0, 0, 0, 1, -1}
	wfcOpposite = [6]int{2, 3, 0, 1, 5, 4}
)

// wave holds, per cell, which patterns are still possible and how many
// supports each pattern has left in every direction.
type wave struct {
	p, d int

	data       []bool // cell*p + t
	compatible []int  // (cell*p + t)*d + dir
	sumsOfOnes []int

	sumsOfWeights []float64
	sumsOfWLW     []float64
	entropies     []float64
}

func newWave(cells, p, d int, shannon bool) *wave {
	w := &wave{
		p:          p,
		d:          d,
		data:       make([]bool, cells*p),
		compatible: make([]int, cells*p*d),
		sumsOfOnes: make([]int, cells),
	}
	if shannon {
		w.sumsOfWeights = make([]float64, cells)
		w.sumsOfWLW = make([]float64, cells)
		w.entropies = make([]float64, cells)
	}
	return w
}

func (w *wave) init(propagator [][][]int, sumW, sumWLW, entropy float64) {
	for i := range w.sumsOfOnes {
		for t := 0; t < w.p; t++ {
			w.data[i*w.p+t] = true
			for d := 0; d < w.d; d++ {
				w.compatible[(i*w.p+t)*w.d+d] = len(propagator[wfcOpposite[d]][t])
			}
		}
		w.sumsOfOnes[i] = w.p
		if w.entropies != nil {
			w.sumsOfWeights[i] = sumW
			w.sumsOfWLW[i] = sumWLW
			w.entropies[i] = entropy
		}
	}
}

func (w *wave) copyFrom(o *wave) {
	copy(w.data, o.data)
	copy(w.compatible, o.compatible)
	copy(w.sumsOfOnes, o.sumsOfOnes)
	copy(w.sumsOfWeights, o.sumsOfWeights)
	copy(w.sumsOfWLW, o.sumsOfWLW)
	copy(w.entropies, o.entropies)
}

type banned struct{ i, t int }

// wfcMode renders the current wave into the output grid.
type wfcMode interface {
	updateState(n *wfcNode)
}

// wfcNode solves a constraint problem over the cells of its input grid and
// writes the result into a new grid, then runs its children on that grid.
type wfcNode struct {
	branch
	gin, gout int
	mode      wfcMode

	p, dirs    int
	weights    []float64
	propagator [][][]int
	allowed    map[uint8][]bool

	// pattern side: 1 for tiles
	size     int
	periodic bool
	shannon  bool
	tries    int

	wave, startWave *wave
	stack           []banned
	contradiction   bool
	distribution    []float64

	wlw                   []float64
	sumW, sumWLW, entropy float64

	firstGo bool
	rand    *rng.Stream
	jitter  *rng.Stream
}

func buildWFC(b *builder, def *model.Node, path string, sym []bool, gi int) (Node, error) {
	in := b.ip.grids[gi]
	n := &wfcNode{gin: gi, tries: 1000, shannon: def.Shannon, allowed: map[uint8][]bool{}}
	n.root = true
	if def.Tries > 0 {
		n.tries = def.Tries
	}
	var (
		out *grid.Grid
		err error
	)
	switch {
	case def.Tileset != "":
		out, err = loadTiles(b, def, n, in)
	case len(def.Sample) > 0:
		out, err = loadOverlap(b, def, n, in, sym)
	default:
		err = fmt.Errorf("wfc needs a sample or a tileset")
	}
	if err != nil {
		return nil, err
	}
	if n.p == 0 {
		return nil, fmt.Errorf("wfc has no patterns")
	}
	n.gout = b.ip.addGrid(out)

	cells := in.Len()
	n.dirs = len(n.propagator)
	n.wave = newWave(cells, n.p, n.dirs, n.shannon)
	n.startWave = newWave(cells, n.p, n.dirs, n.shannon)
	n.distribution = make([]float64, n.p)
	if n.shannon {
		n.wlw = make([]float64, n.p)
		for t, w := range n.weights {
			n.wlw[t] = w * math.Log(w)
			n.sumW += w
			n.sumWLW += n.wlw[t]
		}
		n.entropy = math.Log(n.sumW) - n.sumWLW/n.sumW
	}
	if err := n.loadChildren(b, def, path, sym, n.gout); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *wfcNode) reset() {
	n.resetChildren()
	n.n = -1
	n.firstGo = true
}

func (n *wfcNode) step() bool {
	if n.n >= 0 {
		return n.run(n)
	}
	ip := n.ip
	if n.firstGo {
		n.wave.init(n.propagator, n.sumW, n.sumWLW, n.entropy)
		n.stack = n.stack[:0]
		n.contradiction = false
		for i, v := range ip.grids[n.gin].State {
			a, ok := n.allowed[v]
			if !ok {
				continue
			}
			for t := 0; t < n.p; t++ {
				if !a[t] && n.wave.data[i*n.p+t] {
					n.ban(i, t)
				}
			}
		}
		if !n.propagate() {
			ip.logger.Printf("wfc initial conditions are contradictive")
			ip.pop(n)
			return false
		}
		n.startWave.copyFrom(n.wave)
		seed, ok := n.goodSeed()
		if !ok {
			ip.pop(n)
			return false
		}
		n.rand = rng.New(seed)
		n.jitter = rng.Derive(seed, 1)
		n.restore()
		n.firstGo = false
		ip.grids[n.gout].Clear()
		ip.gi = n.gout
		return true
	}

	if node := n.nextUnobserved(n.rand); node >= 0 {
		n.observe(node, n.rand)
		n.propagate()
	} else {
		n.n++
	}
	if n.n >= 0 || ip.gif {
		n.mode.updateState(n)
	}
	return true
}

func (n *wfcNode) restore() {
	n.stack = n.stack[:0]
	n.wave.copyFrom(n.startWave)
	n.contradiction = false
}

// goodSeed searches for a seed whose full solve from the start wave ends
// without contradiction.
func (n *wfcNode) goodSeed() (int64, bool) {
	ip := n.ip
	for k := 0; k < n.tries; k++ {
		observations := 0
		seed := ip.rand.Seed()
		local := rng.New(seed)
		n.restore()
		for {
			node := n.nextUnobserved(local)
			if node < 0 {
				ip.logger.Printf("wfc found a good seed %d on try %d with %d observations", seed, k, observations)
				if h := ip.opts.Hooks.WFC; h != nil {
					h(true, k+1)
				}
				return seed, true
			}
			n.observe(node, local)
			observations++
			if !n.propagate() {
				ip.logger.Printf("wfc contradiction on try %d with %d observations", k, observations)
				break
			}
		}
	}
	ip.logger.Printf("wfc failed to find a good seed in %d tries", n.tries)
	if h := ip.opts.Hooks.WFC; h != nil {
		h(false, n.tries)
	}
	return 0, false
}

// nextUnobserved returns the undecided cell with the lowest entropy, or -1
// once every cell is decided.
func (n *wfcNode) nextUnobserved(r *rng.Stream) int {
	g := n.ip.grids[n.gin]
	mx, my, mz := g.MX, g.MY, g.MZ
	w := n.wave
	lowest, argmin := 1e4, -1
	for z := 0; z < mz; z++ {
		for y := 0; y < my; y++ {
			for x := 0; x < mx; x++ {
				if !n.periodic && (x+n.size > mx || y+n.size > my || z+1 > mz) {
					continue
				}
				i := x + y*mx + z*mx*my
				remaining := w.sumsOfOnes[i]
				entropy := float64(remaining)
				if n.shannon {
					entropy = w.entropies[i]
				}
				if remaining > 1 && entropy <= lowest {
					noise := 1e-6 * r.Float64()
					if entropy+noise < lowest {
						lowest, argmin = entropy+noise, i
					}
				}
			}
		}
	}
	return argmin
}

func (n *wfcNode) observe(node int, r *rng.Stream) {
	w := n.wave
	for t := 0; t < n.p; t++ {
		if w.data[node*n.p+t] {
			n.distribution[t] = n.weights[t]
		} else {
			n.distribution[t] = 0
		}
	}
	chosen := r.Pick(n.distribution)
	for t := 0; t < n.p; t++ {
		if w.data[node*n.p+t] != (t == chosen) {
			n.ban(node, t)
		}
	}
}

// propagate drains the ban stack and reports false if some cell ran out of
// patterns.
func (n *wfcNode) propagate() bool {
	g := n.ip.grids[n.gin]
	mx, my, mz := g.MX, g.MY, g.MZ
	w := n.wave
	for len(n.stack) > 0 {
		top := n.stack[len(n.stack)-1]
		n.stack = n.stack[:len(n.stack)-1]
		x1, y1, z1 := top.i%mx, top.i%(mx*my)/mx, top.i/(mx*my)
		for d := 0; d < n.dirs; d++ {
			x2, y2, z2 := x1+wfcDX[d], y1+wfcDY[d], z1+wfcDZ[d]
			if !n.periodic && (x2 < 0 || y2 < 0 || z2 < 0 || x2+n.size > mx || y2+n.size > my || z2+1 > mz) {
				continue
			}
			x2, y2, z2 = (x2+mx)%mx, (y2+my)%my, (z2+mz)%mz
			i2 := x2 + y2*mx + z2*mx*my
			for _, t2 := range n.propagator[d][top.t] {
				c := &w.compatible[(i2*n.p+t2)*n.dirs+d]
				*c--
				if *c == 0 {
					n.ban(i2, t2)
				}
			}
		}
	}
	return !n.contradiction
}

func (n *wfcNode) ban(i, t int) {
	w := n.wave
	k := i*n.p + t
	w.data[k] = false
	clear(w.compatible[k*n.dirs : (k+1)*n.dirs])
	n.stack = append(n.stack, banned{i, t})
	w.sumsOfOnes[i]--
	if w.sumsOfOnes[i] == 0 {
		n.contradiction = true
	}
	if !n.shannon {
		return
	}
	sum := w.sumsOfWeights[i]
	w.entropies[i] += w.sumsOfWLW[i]/sum - math.Log(sum)
	w.sumsOfWeights[i] -= n.weights[t]
	w.sumsOfWLW[i] -= n.wlw[t]
	sum = w.sumsOfWeights[i]
	w.entropies[i] -= w.sumsOfWLW[i]/sum - math.Log(sum)
}

// vote returns the color with the most votes, breaking ties by jitter.
func vote(votes []int, jitter *rng.Stream) uint8 {
	best, argmax := -1.0, 0
	for c, v := range votes {
		value := float64(v) + 0.1*jitter.Float64()
		if value > best {
			best, argmax = value, c
		}
	}
	return uint8(argmax)
}
