package engine

import (
	"voxelrule.ai/internal/model"
)

type branch struct {
	ip       *Interpreter
	children []Node
	n        int
	// root branches (map, wfc) end the run when their children are exhausted.
	root bool
}

func (b *branch) loadChildren(bld *builder, def *model.Node, path string, parentSym []bool, gi int) error {
	sym, err := bld.symmetry(def.Symmetry, parentSym, gi)
	if err != nil {
		return err
	}
	b.ip = bld.ip
	for i := range def.Children {
		c := &def.Children[i]
		child, err := bld.build(c, model.ChildPath(path, c.Kind, i), sym, gi)
		if err != nil {
			return err
		}
		b.children = append(b.children, child)
	}
	return nil
}

// run delegates to children from n on. self is the concrete node embedding b.
func (b *branch) run(self branchNode) bool {
	for ; b.n < len(b.children); b.n++ {
		child := b.children[b.n]
		if cb, ok := child.(branchNode); ok {
			b.ip.push(cb)
		}
		if child.step() {
			return true
		}
		if b.ip.halted {
			return false
		}
	}
	if b.root {
		b.ip.halt()
	} else {
		b.ip.pop(self)
	}
	self.reset()
	return false
}

func (b *branch) advance() { b.n++ }

func (b *branch) resetChildren() {
	b.n = 0
	for _, c := range b.children {
		c.reset()
	}
}

// sequenceNode runs its children in order, each until it stops applying.
type sequenceNode struct{ branch }

func buildSequence(b *builder, def *model.Node, path string, sym []bool, gi int) (Node, error) {
	n := &sequenceNode{}
	if err := n.loadChildren(b, def, path, sym, gi); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *sequenceNode) step() bool { return n.run(n) }
func (n *sequenceNode) reset()     { n.resetChildren() }

// markovNode applies the first child that can apply, restarting from the
// first child on every activation.
type markovNode struct{ branch }

func buildMarkov(b *builder, def *model.Node, path string, sym []bool, gi int) (Node, error) {
	n := &markovNode{}
	if err := n.loadChildren(b, def, path, sym, gi); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *markovNode) step() bool {
	n.n = 0
	return n.run(n)
}

func (n *markovNode) reset() { n.resetChildren() }
