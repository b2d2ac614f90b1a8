package engine

import (
	"fmt"
	"strings"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/symmetry"
)

// overlapMode learns NxN patterns from a sample; each wave cell is the
// top-left corner of one pattern.
type overlapMode struct {
	patterns [][]uint8
	votes    []int
}

func loadOverlap(b *builder, def *model.Node, n *wfcNode, in *grid.Grid, parentSym []bool) (*grid.Grid, error) {
	if in.MZ != 1 {
		return nil, fmt.Errorf("overlapping wfc works only on 2d grids")
	}
	N := 3
	if def.N > 0 {
		N = def.N
	}
	n.size = N
	n.periodic = true
	if def.Periodic != nil {
		n.periodic = *def.Periodic
	}
	periodicInput := true
	if def.PeriodicInput != nil {
		periodicInput = *def.PeriodicInput
	}
	sym, err := b.symmetry(def.Symmetry, parentSym, n.gin)
	if err != nil {
		return nil, err
	}
	values := def.Values
	if values == "" {
		values = b.model.Values
	}
	out, err := newGrid(in.MX, in.MY, in.MZ, values, def.Unions, "", b.model.Folder)
	if err != nil {
		return nil, fmt.Errorf("output grid: %w", err)
	}

	smx, smy := len(def.Sample[0]), len(def.Sample)
	sample := make([]uint8, smx*smy)
	for y, row := range def.Sample {
		if len(row) != smx {
			return nil, fmt.Errorf("sample row %d has length %d, want %d", y, len(row), smx)
		}
		for x := 0; x < smx; x++ {
			v, ok := out.Values[row[x]]
			if !ok {
				return nil, fmt.Errorf("sample symbol %q is not an output value", row[x])
			}
			sample[x+y*smx] = v
		}
	}

	xmax, ymax := smx, smy
	if !periodicInput {
		xmax, ymax = smx-N+1, smy-N+1
	}
	mode := &overlapMode{}
	index := map[string]int{}
	rot := func(q []uint8) []uint8 { return rotatedPattern(q, N) }
	ref := func(q []uint8) []uint8 { return reflectedPattern(q, N) }
	never := func(a, b []uint8) bool { return false }
	for y := 0; y < ymax; y++ {
		for x := 0; x < xmax; x++ {
			p := make([]uint8, N*N)
			for dy := 0; dy < N; dy++ {
				for dx := 0; dx < N; dx++ {
					p[dx+dy*N] = sample[(x+dx)%smx+(y+dy)%smy*smx]
				}
			}
			for _, q := range symmetry.Square(p, rot, ref, never, sym) {
				key := string(q)
				if t, ok := index[key]; ok {
					n.weights[t]++
					continue
				}
				index[key] = len(mode.patterns)
				mode.patterns = append(mode.patterns, q)
				n.weights = append(n.weights, 1)
			}
		}
	}
	n.p = len(mode.patterns)

	n.propagator = make([][][]int, 4)
	for d := 0; d < 4; d++ {
		n.propagator[d] = make([][]int, n.p)
		for t := 0; t < n.p; t++ {
			list := []int{}
			for t2 := 0; t2 < n.p; t2++ {
				if agrees(mode.patterns[t], mode.patterns[t2], wfcDX[d], wfcDY[d], N) {
					list = append(list, t2)
				}
			}
			n.propagator[d][t] = list
		}
	}

	for i, rd := range def.Rules {
		iv, err := lookupValue(in.Values, rd.In, "input")
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		var outs []uint8
		for _, s := range strings.Split(rd.Out, "|") {
			ov, err := lookupValue(out.Values, s, "output")
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			outs = append(outs, ov)
		}
		allowed := make([]bool, n.p)
		for t, p := range mode.patterns {
			for _, ov := range outs {
				if p[0] == ov {
					allowed[t] = true
				}
			}
		}
		n.allowed[iv] = allowed
	}
	if _, ok := n.allowed[0]; !ok {
		n.allowed[0] = allTrue(n.p)
	}
	mode.votes = make([]int, out.Len()*out.C())
	n.mode = mode
	return out, nil
}

// agrees reports whether p2 shifted by (dx, dy) matches p1 on their overlap.
func agrees(p1, p2 []uint8, dx, dy, n int) bool {
	xmin, xmax := max(dx, 0), n
	if dx < 0 {
		xmax = dx + n
	}
	ymin, ymax := max(dy, 0), n
	if dy < 0 {
		ymax = dy + n
	}
	for y := ymin; y < ymax; y++ {
		for x := xmin; x < xmax; x++ {
			if p1[x+y*n] != p2[x-dx+(y-dy)*n] {
				return false
			}
		}
	}
	return true
}

func (m *overlapMode) updateState(n *wfcNode) {
	out := n.ip.grids[n.gout]
	mx, my, c := out.MX, out.MY, out.C()
	N := n.size
	clear(m.votes)
	for i := range n.wave.sumsOfOnes {
		x, y := i%mx, i/mx
		for t := 0; t < n.p; t++ {
			if !n.wave.data[i*n.p+t] {
				continue
			}
			p := m.patterns[t]
			for dy := 0; dy < N; dy++ {
				ydy := (y + dy) % my
				for dx := 0; dx < N; dx++ {
					xdx := (x + dx) % mx
					m.votes[(xdx+ydy*mx)*c+int(p[dx+dy*N])]++
				}
			}
		}
	}
	for i := range out.State {
		out.State[i] = vote(m.votes[i*c:(i+1)*c], n.jitter)
	}
}

func rotatedPattern[T any](p []T, n int) []T {
	out := make([]T, len(p))
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			out[x+y*n] = p[n-1-y+x*n]
		}
	}
	return out
}

func reflectedPattern[T any](p []T, n int) []T {
	out := make([]T, len(p))
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			out[x+y*n] = p[n-1-x+y*n]
		}
	}
	return out
}

func allTrue(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}
