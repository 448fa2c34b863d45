package intor

import (
	"fmt"
	"strings"

	"github.com/sofroniewn/dqc/autodiff"
	"github.com/sofroniewn/dqc/cint"
	"github.com/sofroniewn/dqc/tensor"
)

// The differentiable layer wraps the raw drivers in autodiff operations
// whose backward rules recurse into the derivative integrals: the basis
// derivatives are obtained by computing the "ip"-marked integral and flipping
// the sign (the native derivative is with respect to the spatial coordinate,
// not the basis center), then scattering per-ao contributions into atom
// slots. Gradients with respect to contraction coefficients and exponents
// are not implemented and come back as "no gradient".
//
// A native failure during backward is fatal and panics; there is no retry.

// Overlap returns the (nao, nao) overlap matrix.
func Overlap(w Wrapper) (*autodiff.Variable, error) {
	return Int1e(w, "ovlp")
}

// Kinetic returns the (nao, nao) kinetic energy matrix.
func Kinetic(w Wrapper) (*autodiff.Variable, error) {
	return Int1e(w, "kin")
}

// NuclAttr returns the (nao, nao) nuclear attraction matrix. With fractional
// nuclear charges the integer charge table cannot be used, so the matrix is
// assembled from per-atom rinv integrals scaled by the exact charges.
func NuclAttr(w Wrapper) (*autodiff.Variable, error) {
	if !w.FracZ() {
		return Int1e(w, "nuc")
	}
	_, _, poss := w.Params()
	var res *autodiff.Variable
	for ia := 0; ia < w.NAtoms(); ia++ {
		term, err := Rinv(w, autodiff.Row(poss, ia))
		if err != nil {
			return nil, err
		}
		term = autodiff.Scale(term, -w.AtomZ(ia))
		if res == nil {
			res = term
		} else {
			res = autodiff.Add(res, term)
		}
	}
	return res, nil
}

// Rinv returns the (nao, nao) integral of 1/|r - c| centered on c, a (3,)
// variable. Gradients flow to both the basis centers and c.
func Rinv(w Wrapper, centre *autodiff.Variable) (*autodiff.Variable, error) {
	if !tensor.EqualShapes(centre.Value().Shape(), []int{cint.NDim}) {
		return nil, fmt.Errorf("%w: rinv centre shape %v, want (%d,)",
			ErrInvalidBasis, centre.Value().Shape(), cint.NDim)
	}
	coeffs, alphas, poss := w.Params()
	return int1eApply(w, "rinv", coeffs, alphas, poss, centre)
}

// ElRep returns the (nao, nao, nao, nao) electron repulsion tensor.
func ElRep(w Wrapper) (*autodiff.Variable, error) {
	return Int2e(w, "ar12b")
}

// Int1e computes the one-electron integral named by shortname with gradient
// tracking. For "nuc"-type names the centering parameter is the full atom
// position tensor.
func Int1e(w Wrapper, shortname string) (*autodiff.Variable, error) {
	coeffs, alphas, poss := w.Params()
	return int1eApply(w, shortname, coeffs, alphas, poss, poss)
}

// Int2e computes the two-electron integral named by shortname with gradient
// tracking.
func Int2e(w Wrapper, shortname string) (*autodiff.Variable, error) {
	coeffs, alphas, poss := w.Params()
	out, err := Int2eRaw(w, shortname)
	if err != nil {
		return nil, err
	}
	op := &int2eOp{coeffs: coeffs, alphas: alphas, poss: poss, w: w, shortname: shortname}
	return autodiff.FromOp(out, op), nil
}

// EvalAO evaluates the orbitals on the grid, returning (nao, ngrid).
func EvalAO(w Wrapper, rgrid *autodiff.Variable) (*autodiff.Variable, error) {
	return EvalGTO(w, "", rgrid)
}

// EvalGradAO evaluates the orbital spatial gradients, returning
// (3, nao, ngrid).
func EvalGradAO(w Wrapper, rgrid *autodiff.Variable) (*autodiff.Variable, error) {
	return EvalGTO(w, "ip", rgrid)
}

// EvalLaplAO evaluates the orbital laplacians, returning (nao, ngrid).
func EvalLaplAO(w Wrapper, rgrid *autodiff.Variable) (*autodiff.Variable, error) {
	return EvalGTO(w, "lapl", rgrid)
}

// EvalGTO evaluates the grid operation named by shortname with gradient
// tracking; rgrid is a (ngrid, 3) variable.
func EvalGTO(w Wrapper, shortname string, rgrid *autodiff.Variable) (*autodiff.Variable, error) {
	coeffs, alphas, poss := w.Params()
	out, err := EvalGTORaw(w, shortname, rgrid.Value())
	if err != nil {
		return nil, err
	}
	op := &evalGTOOp{
		alphas: alphas, coeffs: coeffs, poss: poss, rgrid: rgrid,
		w: w, shortname: shortname,
	}
	return autodiff.FromOp(out, op), nil
}

// scatterAOGrad accumulates a (3, nao) per-ao gradient into per-atom rows,
// returning (natm, 3).
func scatterAOGrad(g *tensor.Dense, aoToAtom []int, natm int) *tensor.Dense {
	out := tensor.New(natm, cint.NDim)
	d := out.Data()
	gd := g.Data()
	nao := g.Dim(1)
	for x := 0; x < cint.NDim; x++ {
		for ao, ia := range aoToAtom {
			d[ia*cint.NDim+x] += gd[x*nao+ao]
		}
	}
	return out
}

// int1eOp is the one-electron integral node. ratoms is the centering
// parameter: the atom position tensor for "nuc" names, the (3,) centre for
// "rinv" names; unused otherwise.
type int1eOp struct {
	coeffs, alphas, poss, ratoms *autodiff.Variable
	w                            Wrapper
	shortname                    string
}

func int1eApply(w Wrapper, shortname string, coeffs, alphas, poss, ratoms *autodiff.Variable) (*autodiff.Variable, error) {
	var out *tensor.Dense
	var err error
	if strings.Contains(shortname, "rinv") {
		out, err = func() (*tensor.Dense, error) {
			restore := w.centreOn(ratoms.Value().Data())
			defer restore()
			return Int1eRaw(w, shortname)
		}()
	} else {
		out, err = Int1eRaw(w, shortname)
	}
	if err != nil {
		return nil, err
	}
	op := &int1eOp{coeffs: coeffs, alphas: alphas, poss: poss, ratoms: ratoms, w: w, shortname: shortname}
	return autodiff.FromOp(out, op), nil
}

func (op *int1eOp) Inputs() []*autodiff.Variable {
	return []*autodiff.Variable{op.coeffs, op.alphas, op.poss, op.ratoms}
}

// recompute evaluates a derivative integral of this node, centering on the
// node's own centre for rinv names.
func (op *int1eOp) recompute(shortname string) *tensor.Dense {
	if strings.Contains(shortname, "rinv") {
		return op.recomputeAt(shortname, op.ratoms.Value().Data())
	}
	t, err := Int1eRaw(op.w, shortname)
	if err != nil {
		panic(err)
	}
	return t
}

// recomputeAt evaluates a rinv-type derivative integral centered on r.
func (op *int1eOp) recomputeAt(shortname string, r []float64) *tensor.Dense {
	restore := op.w.centreOn(r)
	defer restore()
	t, err := Int1eRaw(op.w, shortname)
	if err != nil {
		panic(err)
	}
	return t
}

func (op *int1eOp) Backward(g *tensor.Dense) []*tensor.Dense {
	nao := g.Dim(-1)

	var gradPos *tensor.Dense
	if op.poss.RequiresGrad() {
		derivName, _ := int1eDerivName(op.shortname, "r1")
		derivNameT, _ := int1eDerivName(op.shortname, "r2")
		doutDpos := op.recompute(derivName) // (3, ..., nao, nao)
		var doutDposT *tensor.Dense
		if int1eEquiv(derivName, derivNameT) {
			DebugLogger.Printf("int1e backward: %s is a transpose of %s", derivNameT, derivName)
			doutDposT = doutDpos.SwapAxes(-2, -1)
		} else {
			doutDposT = op.recompute(derivNameT)
		}

		negG := g.Neg()
		gradDpos := tensor.MulLeading(doutDpos, negG)
		gradDposT := tensor.MulLeading(doutDposT, negG)
		ndim := doutDpos.Dim(0)
		gradJ := gradDpos.Reshape(ndim, -1, nao, nao).Sum(1, 3) // (3, nao)
		gradI := gradDposT.Reshape(ndim, -1, nao).Sum(1)        // (3, nao)
		gradPos = scatterAOGrad(tensor.Add(gradI, gradJ), op.w.AOToAtom(), op.w.NAtoms())
	}

	var gradRatoms *tensor.Dense
	switch {
	case op.ratoms.RequiresGrad() && strings.Contains(op.shortname, "nuc"):
		// the centering parameter is the (natm, 3) atom positions; each
		// atom contributes its charge-scaled rinv derivative
		natoms := op.ratoms.Value().Dim(0)
		snameRinv := strings.ReplaceAll(op.shortname, "nuc", "rinv")
		derivName, _ := int1eDerivName(snameRinv, "r1")
		derivNameT, _ := int1eDerivName(snameRinv, "r2")
		equiv := int1eEquiv(derivName, derivNameT)

		gradRatoms = tensor.New(natoms, cint.NDim)
		for ia := 0; ia < natoms; ia++ {
			atomz := op.w.AtomZ(ia)
			centre := op.ratoms.Value().Data()[ia*cint.NDim : (ia+1)*cint.NDim]
			doutDat1 := op.recomputeAt(derivName, centre) // (3, ..., nao, nao)
			var doutDat2 *tensor.Dense
			if equiv {
				doutDat2 = doutDat1.SwapAxes(-2, -1)
			} else {
				doutDat2 = op.recomputeAt(derivNameT, centre)
			}
			gradDat := tensor.MulLeading(tensor.Add(doutDat1, doutDat2), g)
			v := gradDat.Reshape(cint.NDim, -1).Sum(1) // (3,)
			for x := 0; x < cint.NDim; x++ {
				gradRatoms.Set(-atomz*v.At(x), ia, x)
			}
		}

	case op.ratoms.RequiresGrad() && strings.Contains(op.shortname, "rinv"):
		// the centering parameter is the (3,) centre itself
		derivName, _ := int1eDerivName(op.shortname, "r1")
		derivNameT, _ := int1eDerivName(op.shortname, "r2")
		doutDat1 := op.recompute(derivName)
		var doutDat2 *tensor.Dense
		if int1eEquiv(derivName, derivNameT) {
			doutDat2 = doutDat1.SwapAxes(-2, -1)
		} else {
			doutDat2 = op.recompute(derivNameT)
		}
		gradDat := tensor.MulLeading(tensor.Add(doutDat1, doutDat2), g)
		gradRatoms = gradDat.Reshape(cint.NDim, -1).Sum(1) // (3,)
	}

	// coefficient and exponent gradients are not implemented
	return []*tensor.Dense{nil, nil, gradPos, gradRatoms}
}

// int2eOp is the two-electron integral node.
type int2eOp struct {
	coeffs, alphas, poss *autodiff.Variable
	w                    Wrapper
	shortname            string
}

func (op *int2eOp) Inputs() []*autodiff.Variable {
	return []*autodiff.Variable{op.coeffs, op.alphas, op.poss}
}

func (op *int2eOp) recompute(shortname string) *tensor.Dense {
	t, err := Int2eRaw(op.w, shortname)
	if err != nil {
		panic(err)
	}
	return t
}

func (op *int2eOp) Backward(g *tensor.Dense) []*tensor.Dense {
	if !op.poss.RequiresGrad() {
		return []*tensor.Dense{nil, nil, nil}
	}
	nao := g.Dim(-1)

	nameA1, _ := int2eDerivName(op.shortname, "ra1")
	nameA2, _ := int2eDerivName(op.shortname, "ra2")
	nameB1, _ := int2eDerivName(op.shortname, "rb1")
	nameB2, _ := int2eDerivName(op.shortname, "rb2")

	doutDposA1 := op.recompute(nameA1) // (3, ..., nao^4)

	// derivative at the left pair's second center
	var doutDposA2 *tensor.Dense
	if axes, ok := int2eEquiv(nameA1, nameA2); ok {
		doutDposA2 = transposeAxes(doutDposA1, axes)
	} else {
		doutDposA2 = op.recompute(nameA2)
	}

	// derivative at the right pair's first center
	var doutDposB1 *tensor.Dense
	if axes, ok := int2eEquiv(nameA1, nameB1); ok {
		doutDposB1 = transposeAxes(doutDposA1, axes)
	} else if axes, ok := int2eEquiv(nameA2, nameB1); ok {
		doutDposB1 = transposeAxes(doutDposA2, axes)
	} else {
		doutDposB1 = op.recompute(nameB1)
	}

	// derivative at the right pair's second center
	var doutDposB2 *tensor.Dense
	if axes, ok := int2eEquiv(nameB1, nameB2); ok {
		doutDposB2 = transposeAxes(doutDposB1, axes)
	} else if axes, ok := int2eEquiv(nameA1, nameB2); ok {
		doutDposB2 = transposeAxes(doutDposA1, axes)
	} else if axes, ok := int2eEquiv(nameA2, nameB2); ok {
		doutDposB2 = transposeAxes(doutDposA2, axes)
	} else {
		doutDposB2 = op.recompute(nameB2)
	}

	gradA1 := contract2e(doutDposA1, g, nao, 0)
	gradA2 := contract2e(doutDposA2, g, nao, 1)
	gradB1 := contract2e(doutDposB1, g, nao, 2)
	gradB2 := contract2e(doutDposB2, g, nao, 3)
	gradAll := tensor.Add(tensor.Add(gradA1, gradA2), tensor.Add(gradB1, gradB2))

	gradPos := scatterAOGrad(gradAll, op.w.AOToAtom(), op.w.NAtoms())
	return []*tensor.Dense{nil, nil, gradPos}
}

// contract2e contracts a derivative tensor (3, ..., nao, nao, nao, nao)
// against the upstream gradient over all orbital axes except the free one,
// with the spatial-vs-center sign flip applied, returning (3, nao).
func contract2e(dout, g *tensor.Dense, nao, free int) *tensor.Dense {
	n4 := nao * nao * nao * nao
	ndim := dout.Dim(0)
	batch := dout.Size() / (ndim * n4)
	out := tensor.New(ndim, nao)
	od := out.Data()
	dd := dout.Data()
	gd := g.Data()

	naoPow := [4]int{nao * nao * nao, nao * nao, nao, 1}
	stride := naoPow[free]
	for d := 0; d < ndim; d++ {
		base := d * batch * n4
		p := 0
		for z := 0; z < batch; z++ {
			for q := 0; q < n4; q++ {
				fi := (q / stride) % nao
				od[d*nao+fi] -= dd[base+p] * gd[p]
				p++
			}
		}
	}
	return out
}

// evalGTOOp is the grid evaluation node.
type evalGTOOp struct {
	alphas, coeffs, poss, rgrid *autodiff.Variable
	w                           Wrapper
	shortname                   string
}

func (op *evalGTOOp) Inputs() []*autodiff.Variable {
	return []*autodiff.Variable{op.alphas, op.coeffs, op.poss, op.rgrid}
}

func (op *evalGTOOp) Backward(g *tensor.Dense) []*tensor.Dense {
	if !op.rgrid.RequiresGrad() && !op.poss.RequiresGrad() {
		return []*tensor.Dense{nil, nil, nil, nil}
	}
	derivName, _ := evalGTODerivName(op.shortname, "r")
	dresDr, err := EvalGTORaw(op.w, derivName, op.rgrid.Value()) // (3, ..., nao, ngrid)
	if err != nil {
		panic(err)
	}
	gradR := tensor.MulLeading(dresDr, g)
	ngrid := dresDr.Dim(-1)
	nao := dresDr.Dim(-2)

	var gradRgrid *tensor.Dense
	if op.rgrid.RequiresGrad() {
		gradRgrid = gradR.Reshape(cint.NDim, -1, ngrid).Sum(1).SwapAxes(-2, -1) // (ngrid, 3)
	}

	var gradPos *tensor.Dense
	if op.poss.RequiresGrad() {
		perAO := gradR.Reshape(cint.NDim, -1, nao, ngrid).Sum(1, 3).Neg() // (3, nao)
		gradPos = scatterAOGrad(perAO, op.w.AOToAtom(), op.w.NAtoms())
	}

	return []*tensor.Dense{nil, nil, gradPos, gradRgrid}
}
