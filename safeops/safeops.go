// Package safeops provides numerically guarded elementary operations used
// around near-zero densities and fractional occupations: powers of nearly
// vanishing bases, vector norms, and occupation number vectors with a
// well-defined gradient.
package safeops

import (
	"errors"
	"fmt"
	"math"

	"github.com/sofroniewn/dqc/autodiff"
	"github.com/sofroniewn/dqc/tensor"
)

const (
	// EpsPow softens the base of Safepow.
	EpsPow = 1e-12
	// EpsNorm pads the summands of Safenorm.
	EpsNorm = 1e-15
)

var ErrNegativeBase = errors.New("safeops: negative base")

// Safepow raises a to the scalar power p with the base soft-clipped away
// from zero, so the gradient stays finite for p < 1 at a = 0. All elements
// of a must be non-negative.
func Safepow(a *autodiff.Variable, p float64) (*autodiff.Variable, error) {
	ad := a.Value().Data()
	for _, v := range ad {
		if v < 0 {
			return nil, ErrNegativeBase
		}
	}
	res := tensor.New(a.Value().Shape()...)
	rd := res.Data()
	for i, v := range ad {
		base := math.Sqrt(v*v + EpsPow*EpsPow)
		rd[i] = math.Pow(base, p)
	}
	return autodiff.FromOp(res, &safepowOp{a: a, p: p}), nil
}

type safepowOp struct {
	a *autodiff.Variable
	p float64
}

func (op *safepowOp) Inputs() []*autodiff.Variable { return []*autodiff.Variable{op.a} }

func (op *safepowOp) Backward(g *tensor.Dense) []*tensor.Dense {
	ad := op.a.Value().Data()
	grad := tensor.New(op.a.Value().Shape()...)
	gd := grad.Data()
	for i, v := range ad {
		base := math.Sqrt(v*v + EpsPow*EpsPow)
		// d(base^p)/da = p*base^(p-1) * a/base
		gd[i] = g.Data()[i] * op.p * math.Pow(base, op.p-2) * v
	}
	return []*tensor.Dense{grad}
}

// Safenorm computes the 2-norm of a along axis with the summands padded by
// EpsNorm squared, keeping the gradient defined at the origin. Negative
// axes count from the end.
func Safenorm(a *autodiff.Variable, axis int) (*autodiff.Variable, error) {
	shape := a.Value().Shape()
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, fmt.Errorf("safeops: axis %d out of range for shape %v", axis, shape)
	}
	outer, n, inner := splitAxis(shape, axis)
	outShape := append(append([]int{}, shape[:axis]...), shape[axis+1:]...)
	if len(outShape) == 0 {
		outShape = []int{1}
	}
	res := tensor.New(outShape...)
	rd := res.Data()
	ad := a.Value().Data()
	for o := 0; o < outer; o++ {
		for q := 0; q < inner; q++ {
			s := 0.0
			for k := 0; k < n; k++ {
				v := ad[(o*n+k)*inner+q]
				s += v*v + EpsNorm*EpsNorm
			}
			rd[o*inner+q] = math.Sqrt(s)
		}
	}
	return autodiff.FromOp(res, &safenormOp{a: a, axis: axis, res: res}), nil
}

type safenormOp struct {
	a    *autodiff.Variable
	axis int
	res  *tensor.Dense
}

func (op *safenormOp) Inputs() []*autodiff.Variable { return []*autodiff.Variable{op.a} }

func (op *safenormOp) Backward(g *tensor.Dense) []*tensor.Dense {
	shape := op.a.Value().Shape()
	outer, n, inner := splitAxis(shape, op.axis)
	grad := tensor.New(shape...)
	gd := grad.Data()
	ad := op.a.Value().Data()
	for o := 0; o < outer; o++ {
		for q := 0; q < inner; q++ {
			gr := g.Data()[o*inner+q] / op.res.Data()[o*inner+q]
			for k := 0; k < n; k++ {
				idx := (o*n+k)*inner + q
				gd[idx] = gr * ad[idx]
			}
		}
	}
	return []*tensor.Dense{grad}
}

func splitAxis(shape []int, axis int) (outer, n, inner int) {
	outer, inner = 1, 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[axis], inner
}

// OccNumber returns an occupation vector of length n summing to a, with
// ones filled from the front and the fractional remainder at position
// ceil(a)-1. If n is negative the length defaults to ceil(a). When a is a
// differentiable scalar the gradient of the result with respect to a flows
// through the fractional slot.
func OccNumber(a *autodiff.Variable, n int) (*autodiff.Variable, error) {
	if a.Value().Size() != 1 {
		return nil, fmt.Errorf("safeops: occupation total must be scalar, got shape %v", a.Value().Shape())
	}
	av := a.Value().Data()[0]
	floorA := int(math.Floor(av))
	ceilA := int(math.Ceil(av))
	if n < 0 {
		n = ceilA
	}
	if n < ceilA {
		return nil, fmt.Errorf("safeops: occupation length %d shorter than ceil(%g)", n, av)
	}
	res := constructOccNumber(av, floorA, ceilA, n)
	if !a.RequiresGrad() {
		return autodiff.NewLeaf(res, false), nil
	}
	return autodiff.FromOp(res, &occNumberOp{a: a, ceilA: ceilA}), nil
}

func constructOccNumber(a float64, floorA, ceilA, n int) *tensor.Dense {
	res := tensor.New(n)
	rd := res.Data()
	for i := 0; i < floorA; i++ {
		rd[i] = 1
	}
	if ceilA > floorA {
		rd[ceilA-1] = a - float64(floorA)
	}
	return res
}

type occNumberOp struct {
	a     *autodiff.Variable
	ceilA int
}

func (op *occNumberOp) Inputs() []*autodiff.Variable { return []*autodiff.Variable{op.a} }

func (op *occNumberOp) Backward(g *tensor.Dense) []*tensor.Dense {
	grad := tensor.New(op.a.Value().Shape()...)
	if op.ceilA >= 1 {
		grad.Data()[0] = g.Data()[op.ceilA-1]
	}
	return []*tensor.Dense{grad}
}
