package xc

import (
	"fmt"

	"github.com/sofroniewn/dqc/autodiff"
	"github.com/sofroniewn/dqc/tensor"
)

// Compute evaluates the functional differentiably. inps are 1-D variables
// over the grid points, in family order: unpolarized [rho], [rho, sigma] or
// [rho, sigma, lapl, tau]; polarized [rho_u, rho_d], [rho_u, rho_d,
// sigma_uu, sigma_ud, sigma_dd] or the nine-input meta-GGA extension.
// One variable is returned per key of the family's table at the given
// order. The backward rule re-invokes the oracle at order deriv+1 and
// contracts the upstream gradients through the derivative index tables; a
// backward at an order beyond the tables is fatal.
func Compute(fcn Functional, inps []*autodiff.Variable, deriv int) ([]*autodiff.Variable, error) {
	vals := make([][]float64, len(inps))
	for i, in := range inps {
		if in.Value().NDim() != 1 {
			return nil, fmt.Errorf("%w: input %d has shape %v, want 1-d", ErrBadInput, i, in.Value().Shape())
		}
		vals[i] = in.Value().Data()
	}
	outs, err := ComputeRaw(fcn, vals, deriv)
	if err != nil {
		return nil, err
	}
	res := make([]*autodiff.Variable, len(outs))
	for j := range outs {
		op := &xcOp{fcn: fcn, inps: inps, deriv: deriv, jout: j}
		res[j] = autodiff.FromOp(outs[j], op)
	}
	return res, nil
}

// pairDerivIdxs maps (input i, output j) to the index in the order deriv+1
// output list whose array is d(out j)/d(in i), for unpolarized functionals.
func pairDerivIdxs(family Family, deriv int) ([][]int, bool) {
	switch family {
	case FamilyLDA:
		if deriv >= 0 && deriv <= 3 {
			return [][]int{{0}}, true
		}
	case FamilyGGA:
		switch deriv {
		case 0:
			return [][]int{{0}, {1}}, true
		case 1:
			return [][]int{{0, 1}, {1, 2}}, true
		case 2:
			return [][]int{{0, 1, 2}, {1, 2, 3}}, true
		case 3:
			return [][]int{{0, 1, 2, 3}, {1, 2, 3, 4}}, true
		}
	case FamilyMGGA:
		switch deriv {
		case 0:
			return [][]int{{0}, {1}, {2}, {3}}, true
		case 1:
			return [][]int{
				{0, 1, 2, 3},
				{1, 4, 5, 6},
				{2, 5, 7, 8},
				{3, 6, 8, 9},
			}, true
		case 2:
			return [][]int{
				{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
				{1, 4, 5, 6, 10, 11, 12, 13, 14, 15},
				{2, 5, 7, 8, 11, 13, 14, 16, 17, 18},
				{3, 6, 8, 9, 12, 14, 15, 17, 18, 19},
			}, true
		case 3:
			return [][]int{
				{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19},
				{1, 4, 5, 6, 10, 11, 12, 13, 14, 15, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29},
				{2, 5, 7, 8, 11, 13, 14, 16, 17, 18, 21, 23, 24, 26, 27, 28, 30, 31, 32, 33},
				{3, 6, 8, 9, 12, 14, 15, 17, 18, 19, 22, 24, 25, 27, 28, 29, 31, 32, 33, 34},
			}, true
		}
	}
	return nil, false
}

// spinDerivIdxs returns, for polarized functionals, both the derivative
// index table and the spin row selections: gradInp[i] accumulates, for each
// output j and each of its spin rows r, gradOut[j][r] * derivs[didxs[i][j]]
// row spinIdxs[i][j][r].
func spinDerivIdxs(family Family, deriv int) (didxs [][]int, sidxs [][][]int, ok bool) {
	switch family {
	case FamilyLDA:
		switch deriv {
		case 0:
			return [][]int{{0}, {0}}, [][][]int{{{0}}, {{1}}}, true
		case 1:
			return [][]int{{0}, {0}}, [][][]int{{{0, 1}}, {{1, 2}}}, true
		case 2:
			return [][]int{{0}, {0}}, [][][]int{{{0, 1, 2}}, {{1, 2, 3}}}, true
		case 3:
			return [][]int{{0}, {0}}, [][][]int{{{0, 1, 2, 3}}, {{1, 2, 3, 4}}}, true
		}
	case FamilyGGA:
		switch deriv {
		case 0:
			return [][]int{{0}, {0}, {1}, {1}, {1}},
				[][][]int{{{0}}, {{1}}, {{0}}, {{1}}, {{2}}}, true
		case 1:
			return [][]int{{0, 1}, {0, 1}, {1, 2}, {1, 2}, {1, 2}},
				[][][]int{
					{{0, 1}, {0, 1, 2}},
					{{1, 2}, {3, 4, 5}},
					{{0, 3}, {0, 1, 2}},
					{{1, 4}, {1, 3, 4}},
					{{2, 5}, {2, 4, 5}},
				}, true
		case 2:
			return [][]int{{0, 1, 2}, {0, 1, 2}, {1, 2, 3}, {1, 2, 3}, {1, 2, 3}},
				[][][]int{
					{{0, 1, 2}, {0, 1, 2, 3, 4, 5}, {0, 1, 2, 3, 4, 5}},
					{{1, 2, 3}, {3, 4, 5, 6, 7, 8}, {6, 7, 8, 9, 10, 11}},
					{{0, 3, 6}, {0, 1, 2, 6, 7, 8}, {0, 1, 2, 3, 4, 5}},
					{{1, 4, 7}, {1, 3, 4, 7, 9, 10}, {1, 3, 4, 6, 7, 8}},
					{{2, 5, 8}, {2, 4, 5, 8, 10, 11}, {2, 4, 5, 7, 8, 9}},
				}, true
		case 3:
			return [][]int{{0, 1, 2, 3}, {0, 1, 2, 3}, {1, 2, 3, 4}, {1, 2, 3, 4}, {1, 2, 3, 4}},
				[][][]int{
					{{0, 1, 2, 3}, {0, 1, 2, 3, 4, 5, 6, 7, 8},
						{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, {0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
					{{1, 2, 3, 4}, {3, 4, 5, 6, 7, 8, 9, 10, 11},
						{6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17},
						{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}},
					{{0, 3, 6, 9}, {0, 1, 2, 6, 7, 8, 12, 13, 14},
						{0, 1, 2, 3, 4, 5, 10, 11, 12, 13, 14, 15},
						{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
					{{1, 4, 7, 10}, {1, 3, 4, 7, 9, 10, 13, 15, 16},
						{1, 3, 4, 6, 7, 8, 11, 13, 14, 16, 17, 18},
						{1, 3, 4, 6, 7, 8, 10, 11, 12, 13}},
					{{2, 5, 8, 11}, {2, 4, 5, 8, 10, 11, 14, 16, 17},
						{2, 4, 5, 7, 8, 9, 12, 14, 15, 17, 18, 19},
						{2, 4, 5, 7, 8, 9, 11, 12, 13, 14}},
				}, true
		}
	case FamilyMGGA:
		switch deriv {
		case 0:
			return [][]int{{0}, {0}, {1}, {1}, {1}, {2}, {2}, {3}, {3}},
				[][][]int{
					{{0}}, {{1}}, {{0}}, {{1}}, {{2}}, {{0}}, {{1}}, {{0}}, {{1}},
				}, true
		case 1:
			return [][]int{
					{0, 1, 2, 3}, {0, 1, 2, 3}, {1, 4, 5, 6}, {1, 4, 5, 6},
					{1, 4, 5, 6}, {2, 5, 7, 8}, {2, 5, 7, 8}, {3, 6, 8, 9},
					{3, 6, 8, 9},
				},
				[][][]int{
					{{0, 1}, {0, 1, 2}, {0, 1}, {0, 1}},
					{{1, 2}, {3, 4, 5}, {2, 3}, {2, 3}},
					{{0, 3}, {0, 1, 2}, {0, 1}, {0, 1}},
					{{1, 4}, {1, 3, 4}, {2, 3}, {2, 3}},
					{{2, 5}, {2, 4, 5}, {4, 5}, {4, 5}},
					{{0, 2}, {0, 2, 4}, {0, 1}, {0, 1}},
					{{1, 3}, {1, 3, 5}, {1, 2}, {2, 3}},
					{{0, 2}, {0, 2, 4}, {0, 2}, {0, 1}},
					{{1, 3}, {1, 3, 5}, {1, 3}, {1, 2}},
				}, true
		case 2:
			return [][]int{
					{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
					{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
					{1, 4, 5, 6, 10, 11, 12, 13, 14, 15},
					{1, 4, 5, 6, 10, 11, 12, 13, 14, 15},
					{1, 4, 5, 6, 10, 11, 12, 13, 14, 15},
					{2, 5, 7, 8, 11, 13, 14, 16, 17, 18},
					{2, 5, 7, 8, 11, 13, 14, 16, 17, 18},
					{3, 6, 8, 9, 12, 14, 15, 17, 18, 19},
					{3, 6, 8, 9, 12, 14, 15, 17, 18, 19},
				},
				[][][]int{
					{{0, 1, 2}, {0, 1, 2, 3, 4, 5}, {0, 1, 2, 3}, {0, 1, 2, 3},
						{0, 1, 2, 3, 4, 5}, {0, 1, 2, 3, 4, 5}, {0, 1, 2, 3, 4, 5},
						{0, 1, 2}, {0, 1, 2, 3}, {0, 1, 2}},
					{{1, 2, 3}, {3, 4, 5, 6, 7, 8}, {2, 3, 4, 5}, {2, 3, 4, 5},
						{6, 7, 8, 9, 10, 11}, {6, 7, 8, 9, 10, 11}, {6, 7, 8, 9, 10, 11},
						{3, 4, 5}, {4, 5, 6, 7}, {3, 4, 5}},
					{{0, 3, 6}, {0, 1, 2, 6, 7, 8}, {0, 1, 6, 7}, {0, 1, 6, 7},
						{0, 1, 2, 3, 4, 5}, {0, 1, 2, 3, 4, 5}, {0, 1, 2, 3, 4, 5},
						{0, 1, 2}, {0, 1, 2, 3}, {0, 1, 2}},
					{{1, 4, 7}, {1, 3, 4, 7, 9, 10}, {2, 3, 8, 9}, {2, 3, 8, 9},
						{1, 3, 4, 6, 7, 8}, {2, 3, 6, 7, 8, 9}, {2, 3, 6, 7, 8, 9},
						{3, 4, 5}, {4, 5, 6, 7}, {3, 4, 5}},
					{{2, 5, 8}, {2, 4, 5, 8, 10, 11}, {4, 5, 10, 11}, {4, 5, 10, 11},
						{2, 4, 5, 7, 8, 9}, {4, 5, 8, 9, 10, 11}, {4, 5, 8, 9, 10, 11},
						{6, 7, 8}, {8, 9, 10, 11}, {6, 7, 8}},
					{{0, 2, 4}, {0, 2, 4, 6, 8, 10}, {0, 1, 3, 4}, {0, 1, 4, 5},
						{0, 2, 4, 6, 8, 10}, {0, 1, 3, 4, 6, 7}, {0, 1, 4, 5, 8, 9},
						{0, 1, 2}, {0, 1, 2, 3}, {0, 1, 2}},
					{{1, 3, 5}, {1, 3, 5, 7, 9, 11}, {1, 2, 4, 5}, {2, 3, 6, 7},
						{1, 3, 5, 7, 9, 11}, {1, 2, 4, 5, 7, 8}, {2, 3, 6, 7, 10, 11},
						{1, 2, 3}, {2, 3, 4, 5}, {3, 4, 5}},
					{{0, 2, 4}, {0, 2, 4, 6, 8, 10}, {0, 2, 4, 6}, {0, 1, 3, 4},
						{0, 2, 4, 6, 8, 10}, {0, 2, 4, 6, 8, 10}, {0, 1, 3, 4, 6, 7},
						{0, 2, 4}, {0, 1, 3, 4}, {0, 1, 2}},
					{{1, 3, 5}, {1, 3, 5, 7, 9, 11}, {1, 3, 5, 7}, {1, 2, 4, 5},
						{1, 3, 5, 7, 9, 11}, {1, 3, 5, 7, 9, 11}, {1, 2, 4, 5, 7, 8},
						{1, 3, 5}, {1, 2, 4, 5}, {1, 2, 3}},
				}, true
		}
	}
	return nil, nil, false
}

// xcOp is one named output of a functional evaluation.
type xcOp struct {
	fcn   Functional
	inps  []*autodiff.Variable
	deriv int
	jout  int
}

func (op *xcOp) Inputs() []*autodiff.Variable { return op.inps }

func (op *xcOp) Backward(g *tensor.Dense) []*tensor.Dense {
	vals := make([][]float64, len(op.inps))
	for i, in := range op.inps {
		vals[i] = in.Value().Data()
	}
	derivs, err := ComputeRaw(op.fcn, vals, op.deriv+1)
	if err != nil {
		panic(err)
	}

	grads := make([]*tensor.Dense, len(op.inps))
	npoints := len(vals[0])

	if !op.fcn.Polarized() {
		didxs, ok := pairDerivIdxs(op.fcn.Family(), op.deriv)
		if !ok {
			panic(fmt.Errorf("%w: backward at deriv %d for family %d",
				ErrUnsupportedDeriv, op.deriv, op.fcn.Family()))
		}
		for i := range op.inps {
			if !op.inps[i].RequiresGrad() {
				continue
			}
			grad := tensor.New(npoints)
			gd := grad.Data()
			d := derivs[didxs[i][op.jout]].Data()
			for p := 0; p < npoints; p++ {
				gd[p] = g.Data()[p] * d[p]
			}
			grads[i] = grad
		}
		return grads
	}

	didxs, sidxs, ok := spinDerivIdxs(op.fcn.Family(), op.deriv)
	if !ok {
		panic(fmt.Errorf("%w: polarized backward at deriv %d for family %d",
			ErrUnsupportedDeriv, op.deriv, op.fcn.Family()))
	}
	for i := range op.inps {
		if !op.inps[i].RequiresGrad() {
			continue
		}
		grad := tensor.New(npoints)
		gd := grad.Data()
		dt := derivs[didxs[i][op.jout]]
		rows := sidxs[i][op.jout]
		for r, srow := range rows {
			// g row r against the selected spin row of the derivative
			goff := r * npoints
			if g.NDim() == 1 {
				goff = 0
			}
			doff := srow * npoints
			if dt.NDim() == 1 {
				doff = 0
			}
			for p := 0; p < npoints; p++ {
				gd[p] += g.Data()[goff+p] * dt.Data()[doff+p]
			}
		}
		grads[i] = grad
	}
	return grads
}
