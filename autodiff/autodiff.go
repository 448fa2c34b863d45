// Package autodiff implements reverse-mode automatic differentiation over
// tensor values as an explicit computation graph.
//
// Each differentiable result is a Variable produced by an Operation. An
// Operation records its input Variables during the forward pass and computes
// the per-input gradients during the backward pass. Backward walks the graph
// in reverse topological order and accumulates gradients on the leaves.
//
// Operations may return nil for an input slot whose gradient is not
// implemented; the nil propagates as "no gradient" rather than an error.
package autodiff

import (
	"fmt"

	"github.com/sofroniewn/dqc/tensor"
)

// Operation computes the gradients of its inputs given the gradient of its
// output. Entries of the returned slice correspond to Inputs(); a nil entry
// means no gradient flows to that input.
type Operation interface {
	Backward(outputGrad *tensor.Dense) []*tensor.Dense
	Inputs() []*Variable
}

// Variable is a node in the computation graph: a tensor value, optionally a
// gradient accumulator, and the operation that produced it (nil for leaves).
type Variable struct {
	value        *tensor.Dense
	grad         *tensor.Dense
	requiresGrad bool
	op           Operation
}

// NewLeaf wraps a tensor as a graph leaf.
func NewLeaf(v *tensor.Dense, requiresGrad bool) *Variable {
	return &Variable{value: v, requiresGrad: requiresGrad}
}

// FromOp wraps the result of an operation. The node requires a gradient if
// any of the operation's inputs does.
func FromOp(v *tensor.Dense, op Operation) *Variable {
	req := false
	for _, in := range op.Inputs() {
		if in != nil && in.requiresGrad {
			req = true
			break
		}
	}
	if !req {
		// constant result, no need to keep the graph alive
		return &Variable{value: v}
	}
	return &Variable{value: v, requiresGrad: true, op: op}
}

// Value returns the node's tensor.
func (v *Variable) Value() *tensor.Dense { return v.value }

// Grad returns the accumulated gradient, or nil if none has been computed.
func (v *Variable) Grad() *tensor.Dense { return v.grad }

// RequiresGrad reports whether gradients are tracked for this node.
func (v *Variable) RequiresGrad() bool { return v.requiresGrad }

// Detach returns a leaf holding the same value with gradient tracking off.
func (v *Variable) Detach() *Variable {
	return &Variable{value: v.value}
}

// ZeroGrad clears the accumulated gradient.
func (v *Variable) ZeroGrad() { v.grad = nil }

func (v *Variable) accumulate(g *tensor.Dense) {
	if g == nil {
		return
	}
	if v.grad == nil {
		v.grad = g.Clone()
		return
	}
	v.grad = tensor.Add(v.grad, g)
}

// Backward propagates seed (dL/droot) from root down to the leaves. A nil
// seed is allowed for single-element roots and defaults to 1.
func Backward(root *Variable, seed *tensor.Dense) error {
	if !root.requiresGrad {
		return fmt.Errorf("autodiff: backward on a node that does not require grad")
	}
	if seed == nil {
		if root.value.Size() != 1 {
			return fmt.Errorf("autodiff: backward without seed requires a scalar root, got shape %v", root.value.Shape())
		}
		seed = tensor.FromSlice([]float64{1}, root.value.Shape()...)
	}
	if !tensor.EqualShapes(seed.Shape(), root.value.Shape()) {
		return fmt.Errorf("autodiff: seed shape %v does not match root shape %v", seed.Shape(), root.value.Shape())
	}

	order := topoOrder(root)
	root.accumulate(seed)
	// reverse topological order: every node's gradient is complete before
	// its operation runs
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.op == nil || node.grad == nil {
			continue
		}
		grads := node.op.Backward(node.grad)
		inputs := node.op.Inputs()
		if len(grads) != len(inputs) {
			return fmt.Errorf("autodiff: operation returned %d gradients for %d inputs", len(grads), len(inputs))
		}
		for j, in := range inputs {
			if in == nil || !in.requiresGrad {
				continue
			}
			in.accumulate(grads[j])
		}
	}
	return nil
}

// topoOrder returns the nodes reachable from root in topological order
// (inputs before outputs).
func topoOrder(root *Variable) []*Variable {
	var order []*Variable
	seen := map[*Variable]bool{}
	var visit func(v *Variable)
	visit = func(v *Variable) {
		if v == nil || seen[v] {
			return
		}
		seen[v] = true
		if v.op != nil {
			for _, in := range v.op.Inputs() {
				visit(in)
			}
		}
		order = append(order, v)
	}
	visit(root)
	return order
}
