package engine

import (
	"errors"
	"fmt"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/symmetry"
)

// Node is a step of the program tree. The set of node kinds is closed: all
// implementations live in this package.
type Node interface {
	reset()
	// step performs one activation and reports whether anything was applied.
	step() bool
}

// branchNode is a node that delegates to children and may sit on the
// interpreter's branch stack.
type branchNode interface {
	Node
	// advance moves past the current child after it finished on its own.
	advance()
}

type buildFunc func(b *builder, def *model.Node, path string, sym []bool, gi int) (Node, error)

var builders map[string]buildFunc

func init() {
	builders = map[string]buildFunc{
		"markov":      buildMarkov,
		"sequence":    buildSequence,
		"one":         buildOne,
		"all":         buildAll,
		"prl":         buildParallel,
		"path":        buildPath,
		"map":         buildMap,
		"convolution": buildConvolution,
		"convchain":   buildConvChain,
		"wfc":         buildWFC,
	}
}

type builder struct {
	ip    *Interpreter
	model *model.Model
}

// build constructs def over grid gi. sym is the symmetry inherited from the
// parent node.
func (b *builder) build(def *model.Node, path string, sym []bool, gi int) (Node, error) {
	fn, ok := builders[def.Kind]
	if !ok {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("unknown node kind %q", def.Kind)}
	}
	n, err := fn(b, def, path, sym, gi)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			return nil, err
		}
		return nil, &LoadError{Path: path, Err: err}
	}
	return n, nil
}

func (b *builder) symmetry(name string, parent []bool, gi int) ([]bool, error) {
	is2D := b.ip.grids[gi].MZ == 1
	s, ok := symmetry.Get(is2D, name, parent)
	if !ok {
		return nil, fmt.Errorf("unknown symmetry %q", name)
	}
	return s, nil
}

func symbol(s, what string) (byte, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("%s %q must be one symbol", what, s)
	}
	return s[0], nil
}
