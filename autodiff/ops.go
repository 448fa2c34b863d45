package autodiff

import "github.com/sofroniewn/dqc/tensor"

// addOp: out = a + b, gradient flows unchanged to both inputs.
type addOp struct {
	a, b *Variable
}

func (op *addOp) Inputs() []*Variable { return []*Variable{op.a, op.b} }

func (op *addOp) Backward(g *tensor.Dense) []*tensor.Dense {
	return []*tensor.Dense{g, g}
}

// Add returns a + b elementwise.
func Add(a, b *Variable) *Variable {
	out := tensor.Add(a.value, b.value)
	return FromOp(out, &addOp{a: a, b: b})
}

// mulOp: out = a * b, d(out)/da = b and d(out)/db = a.
type mulOp struct {
	a, b *Variable
}

func (op *mulOp) Inputs() []*Variable { return []*Variable{op.a, op.b} }

func (op *mulOp) Backward(g *tensor.Dense) []*tensor.Dense {
	return []*tensor.Dense{
		tensor.MulElem(g, op.b.value),
		tensor.MulElem(g, op.a.value),
	}
}

// Mul returns a * b elementwise.
func Mul(a, b *Variable) *Variable {
	out := tensor.MulElem(a.value, b.value)
	return FromOp(out, &mulOp{a: a, b: b})
}

// scaleOp: out = s * a for a constant s.
type scaleOp struct {
	a *Variable
	s float64
}

func (op *scaleOp) Inputs() []*Variable { return []*Variable{op.a} }

func (op *scaleOp) Backward(g *tensor.Dense) []*tensor.Dense {
	return []*tensor.Dense{g.Clone().Scale(op.s)}
}

// Scale returns s * a.
func Scale(a *Variable, s float64) *Variable {
	return FromOp(a.value.Clone().Scale(s), &scaleOp{a: a, s: s})
}

// rowOp: out = a[i, :] for a 2-d input; the gradient scatters back into
// row i of a zero tensor.
type rowOp struct {
	a *Variable
	i int
}

func (op *rowOp) Inputs() []*Variable { return []*Variable{op.a} }

func (op *rowOp) Backward(g *tensor.Dense) []*tensor.Dense {
	grad := tensor.New(op.a.value.Shape()...)
	m := op.a.value.Dim(1)
	copy(grad.Data()[op.i*m:(op.i+1)*m], g.Data())
	return []*tensor.Dense{grad}
}

// Row returns row i of a 2-d variable as a 1-d variable.
func Row(a *Variable, i int) *Variable {
	m := a.value.Dim(1)
	data := make([]float64, m)
	copy(data, a.value.Data()[i*m:(i+1)*m])
	return FromOp(tensor.FromSlice(data, m), &rowOp{a: a, i: i})
}

// sumOp: out = sum of all elements; the gradient broadcasts back.
type sumOp struct {
	a *Variable
}

func (op *sumOp) Inputs() []*Variable { return []*Variable{op.a} }

func (op *sumOp) Backward(g *tensor.Dense) []*tensor.Dense {
	grad := tensor.New(op.a.value.Shape()...)
	gv := g.Value()
	d := grad.Data()
	for i := range d {
		d[i] = gv
	}
	return []*tensor.Dense{grad}
}

// Sum reduces a to a scalar.
func Sum(a *Variable) *Variable {
	return FromOp(a.value.Sum(), &sumOp{a: a})
}
