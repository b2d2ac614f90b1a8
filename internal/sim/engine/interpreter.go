package engine

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/grid"
	"voxelrule.ai/internal/sim/rng"
	"voxelrule.ai/internal/sim/symmetry"
)

// Change is one cell write recorded in the interpreter change log.
type Change struct{ X, Y, Z int }

// Hooks receive counters from inside a run. Nil hooks are skipped.
type Hooks struct {
	Search func(found bool, visited int)
	WFC    func(found bool, tries int)
}

type Options struct {
	Logger *log.Logger
	Hooks  Hooks

	// BoltzmannFloorDivision floors the exponent (h-h0)/T when the all node
	// orders matches by heuristic. One-node selection always uses true division.
	BoltzmannFloorDivision bool
}

// LoadError reports a node that could not be built, with its path in the tree.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return e.Path + ": " + e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }

// Interpreter executes one model. It owns every grid the model can switch to
// and is not safe for concurrent use; run independent models on independent
// interpreters.
type Interpreter struct {
	name   string
	grids  []*grid.Grid
	root   branchNode
	origin bool
	logger *log.Logger
	opts   Options

	gi      int
	stack   []branchNode
	halted  bool
	changes []Change
	first   []int
	counter int
	rand    *rng.Stream
	gif     bool
}

// New builds the node tree of m over a grid of the given size. Zero sizes
// fall back to the model's own size.
func New(m *model.Model, mx, my, mz int, opts Options) (*Interpreter, error) {
	mx, my, mz = m.Dims(mx, my, mz)
	g, err := newGrid(mx, my, mz, m.Values, m.Unions, m.Transparent, m.Folder)
	if err != nil {
		return nil, &LoadError{Path: "grid", Err: err}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ip := &Interpreter{
		name:   m.Name,
		grids:  []*grid.Grid{g},
		origin: m.Origin,
		logger: logger,
		opts:   opts,
	}
	is2D := mz == 1
	sym, ok := symmetry.Get(is2D, m.Symmetry, symmetry.Full(is2D))
	if !ok {
		return nil, &LoadError{Path: "root", Err: fmt.Errorf("unknown symmetry %q", m.Symmetry)}
	}
	b := &builder{ip: ip, model: m}
	top, err := b.build(&m.Root, "root", sym, 0)
	if err != nil {
		return nil, err
	}
	if br, ok := top.(branchNode); ok {
		ip.root = br
	} else {
		mk := &markovNode{}
		mk.ip = ip
		mk.children = []Node{top}
		ip.root = mk
	}
	return ip, nil
}

func newGrid(mx, my, mz int, values string, unions []model.Union, transparent, folder string) (*grid.Grid, error) {
	gu := make([]grid.Union, 0, len(unions))
	for _, u := range unions {
		if len(u.Symbol) != 1 {
			return nil, fmt.Errorf("union symbol %q must be one character", u.Symbol)
		}
		gu = append(gu, grid.Union{Symbol: u.Symbol[0], Values: u.Values})
	}
	return grid.New(mx, my, mz, values, gu, transparent, folder)
}

func (ip *Interpreter) Name() string { return ip.name }

// StartGrid returns the grid every run starts on.
func (ip *Interpreter) StartGrid() *grid.Grid { return ip.grids[0] }

// Grid returns the grid the run is currently rewriting.
func (ip *Interpreter) Grid() *grid.Grid { return ip.grids[ip.gi] }

// Counter is the number of steps executed by the current run.
func (ip *Interpreter) Counter() int { return ip.counter }

func (ip *Interpreter) addGrid(g *grid.Grid) int {
	ip.grids = append(ip.grids, g)
	return len(ip.grids) - 1
}

func (ip *Interpreter) record(x, y, z int) {
	ip.changes = append(ip.changes, Change{x, y, z})
}

func (ip *Interpreter) recordIndex(g *grid.Grid, i int) {
	ip.record(i%g.MX, i%(g.MX*g.MY)/g.MX, i/(g.MX*g.MY))
}

// replay overwrites g with state, logging every cell that changes.
func (ip *Interpreter) replay(g *grid.Grid, state []uint8) {
	for i, v := range state {
		if g.State[i] != v {
			g.State[i] = v
			ip.recordIndex(g, i)
		}
	}
}

func (ip *Interpreter) push(b branchNode) { ip.stack = append(ip.stack, b) }

func (ip *Interpreter) pop(b branchNode) {
	if len(ip.stack) == 0 || ip.stack[len(ip.stack)-1] != b {
		panic("engine: branch stack out of order")
	}
	ip.stack = ip.stack[:len(ip.stack)-1]
}

// halt ends the run: a map or wfc branch ran out of children.
func (ip *Interpreter) halt() {
	ip.halted = true
	ip.stack = ip.stack[:0]
}

func (ip *Interpreter) active(steps int) bool {
	return !ip.halted && len(ip.stack) > 0 && (steps <= 0 || ip.counter < steps)
}

// advance executes one step of the innermost active branch.
func (ip *Interpreter) advance() {
	top := ip.stack[len(ip.stack)-1]
	if !top.step() && !ip.halted && len(ip.stack) > 0 {
		// top finished while called directly; its parent moves past it.
		ip.stack[len(ip.stack)-1].advance()
	}
	ip.counter++
	ip.first = append(ip.first, len(ip.changes))
}

// Frame is one grid snapshot yielded by a run.
type Frame struct {
	State      []uint8
	Legend     string
	MX, MY, MZ int
	Step       int
}

func (f Frame) Digest() string { return grid.Digest(f.MX, f.MY, f.MZ, f.State) }

// String renders the frame like grid.Grid.String, using Legend symbols.
func (f Frame) String() string {
	var b strings.Builder
	for z := 0; z < f.MZ; z++ {
		if z > 0 {
			b.WriteByte('\n')
		}
		for y := 0; y < f.MY; y++ {
			for x := 0; x < f.MX; x++ {
				v := int(f.State[x+y*f.MX+z*f.MX*f.MY])
				if v < len(f.Legend) {
					b.WriteByte(f.Legend[v])
				} else {
					b.WriteByte('?')
				}
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (ip *Interpreter) snapshot() Frame {
	g := ip.grids[ip.gi]
	state := make([]uint8, len(g.State))
	copy(state, g.State)
	return Frame{State: state, Legend: g.Legend(), MX: g.MX, MY: g.MY, MZ: g.MZ, Step: ip.counter}
}

// Run iterates the frames of one execution. It is finite and cannot be
// rewound; call Interpreter.Run again to start over.
type Run struct {
	ip      *Interpreter
	steps   int
	gif     bool
	pending bool
	done    bool
	frame   Frame
}

// Run resets the interpreter and starts an execution seeded by seed. steps
// <= 0 means unbounded. With gif set every step yields a frame, otherwise
// only the final state is yielded.
func (ip *Interpreter) Run(seed int64, steps int, gif bool) *Run {
	ip.gi = 0
	g := ip.grids[0]
	g.Clear()
	if ip.origin {
		g.State[g.MX/2+(g.MY/2)*g.MX+(g.MZ/2)*g.MX*g.MY] = 1
	}
	ip.changes = ip.changes[:0]
	ip.first = append(ip.first[:0], 0)
	ip.root.reset()
	ip.stack = append(ip.stack[:0], ip.root)
	ip.halted = false
	ip.rand = rng.New(seed)
	ip.gif = gif
	ip.counter = 0
	return &Run{ip: ip, steps: steps, gif: gif}
}

// Next advances to the next frame. It reports false once the final frame
// has been consumed.
func (r *Run) Next() bool {
	if r.done {
		return false
	}
	ip := r.ip
	if r.pending {
		ip.advance()
		r.pending = false
	}
	for ip.active(r.steps) {
		if r.gif {
			r.frame = ip.snapshot()
			r.pending = true
			return true
		}
		ip.advance()
	}
	r.frame = ip.snapshot()
	r.done = true
	return true
}

func (r *Run) Frame() Frame { return r.frame }

// Done reports whether the final frame has been produced.
func (r *Run) Done() bool { return r.done }

// Final drains the run and returns its last frame.
func (r *Run) Final() Frame {
	for r.Next() {
	}
	return r.frame
}

// IsLoadError reports whether err came from building a node tree.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
