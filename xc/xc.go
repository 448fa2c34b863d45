// Package xc defines the exchange-correlation oracle contract and makes its
// outputs differentiable.
//
// The functional evaluator itself is external: a Functional takes named flat
// arrays (density, contracted gradient, laplacian, kinetic energy density)
// and a derivative order 0-4 and returns the named derivative arrays of its
// family's key table. This package owns the key tables, the spin packing
// convention, the energy-density rescale at order 0, and the backward rules
// that chain an order-n result to the order-n+1 arrays.
//
// Spin-polarized quantities pack per grid point: rho, lapl and tau as
// (point, 2) rows of [up, down]; sigma as (point, 3) rows of [uu, ud, dd].
package xc

import (
	"errors"
	"fmt"

	"github.com/sofroniewn/dqc/tensor"
)

// Family is the libxc functional family.
type Family int

const (
	FamilyLDA  Family = 1
	FamilyGGA  Family = 2
	FamilyMGGA Family = 4
)

// ErrUnsupportedDeriv marks a derivative order beyond the key or dispatch
// tables.
var ErrUnsupportedDeriv = errors.New("xc: unsupported derivative order")

// ErrBadInput marks malformed oracle inputs or outputs.
var ErrBadInput = errors.New("xc: bad input")

// Functional is the external evaluator. Compute receives the named input
// arrays (packed per grid point when polarized) and the derivative order,
// and returns the arrays named by the family's key table at that order.
type Functional interface {
	Family() Family
	Polarized() bool
	Compute(inp map[string][]float64, deriv int) (map[string][]float64, error)
}

// key tables per derivative order, in the order the outputs are returned
var ldaKeys = [][]string{
	{"zk"},
	{"vrho"},
	{"v2rho2"},
	{"v3rho3"},
	{"v4rho4"},
}

var ggaKeys = [][]string{
	{"zk"},
	{"vrho", "vsigma"},
	{"v2rho2", "v2rhosigma", "v2sigma2"},
	{"v3rho3", "v3rho2sigma", "v3rhosigma2", "v3sigma3"},
	{"v4rho4", "v4rho3sigma", "v4rho2sigma2", "v4rhosigma3", "v4sigma4"},
}

var mggaKeys = [][]string{
	{"zk"},
	{"vrho", "vsigma", "vlapl", "vtau"},
	{"v2rho2", "v2rhosigma", "v2rholapl", "v2rhotau", "v2sigma2",
		"v2sigmalapl", "v2sigmatau", "v2lapl2", "v2lapltau", "v2tau2"},
	{"v3rho3", "v3rho2sigma", "v3rho2lapl", "v3rho2tau", "v3rhosigma2",
		"v3rhosigmalapl", "v3rhosigmatau", "v3rholapl2", "v3rholapltau",
		"v3rhotau2", "v3sigma3", "v3sigma2lapl", "v3sigma2tau", "v3sigmalapl2",
		"v3sigmalapltau", "v3sigmatau2", "v3lapl3", "v3lapl2tau", "v3lapltau2",
		"v3tau3"},
	{"v4rho4", "v4rho3sigma", "v4rho3lapl", "v4rho3tau", "v4rho2sigma2",
		"v4rho2sigmalapl", "v4rho2sigmatau", "v4rho2lapl2", "v4rho2lapltau",
		"v4rho2tau2", "v4rhosigma3", "v4rhosigma2lapl", "v4rhosigma2tau",
		"v4rhosigmalapl2", "v4rhosigmalapltau", "v4rhosigmatau2", "v4rholapl3",
		"v4rholapl2tau", "v4rholapltau2", "v4rhotau3", "v4sigma4", "v4sigma3lapl",
		"v4sigma3tau", "v4sigma2lapl2", "v4sigma2lapltau", "v4sigma2tau2",
		"v4sigmalapl3", "v4sigmalapl2tau", "v4sigmalapltau2", "v4sigmatau3",
		"v4lapl4", "v4lapl3tau", "v4lapl2tau2", "v4lapltau3", "v4tau4"},
}

// Keys returns the output names of a family at the given derivative order.
func Keys(family Family, deriv int) ([]string, error) {
	var table [][]string
	switch family {
	case FamilyLDA:
		table = ldaKeys
	case FamilyGGA:
		table = ggaKeys
	case FamilyMGGA:
		table = mggaKeys
	default:
		return nil, fmt.Errorf("%w: unknown family %d", ErrBadInput, family)
	}
	if deriv < 0 || deriv >= len(table) {
		return nil, fmt.Errorf("%w: deriv %d for family %d", ErrUnsupportedDeriv, deriv, family)
	}
	return table[deriv], nil
}

// PackSpin interleaves per-spin columns into per-point rows: out[p*n+c] is
// column c at point p.
func PackSpin(cols ...[]float64) []float64 {
	n := len(cols)
	np := len(cols[0])
	out := make([]float64, np*n)
	for c, col := range cols {
		for p, v := range col {
			out[p*n+c] = v
		}
	}
	return out
}

// UnpackSpin splits a packed per-point array back into its columns.
func UnpackSpin(packed []float64, ncols int) [][]float64 {
	np := len(packed) / ncols
	out := make([][]float64, ncols)
	for c := range out {
		out[c] = make([]float64, np)
		for p := 0; p < np; p++ {
			out[c][p] = packed[p*ncols+c]
		}
	}
	return out
}

// inputNames lists the oracle input keys per family.
func inputNames(family Family) []string {
	switch family {
	case FamilyLDA:
		return []string{"rho"}
	case FamilyGGA:
		return []string{"rho", "sigma"}
	default:
		return []string{"rho", "sigma", "lapl", "tau"}
	}
}

// spin column counts per input name when polarized
var spinCols = map[string]int{"rho": 2, "sigma": 3, "lapl": 2, "tau": 2}

// ComputeRaw invokes the oracle and returns the outputs of the key table at
// the requested order, one tensor per key: (npoints) arrays when
// unpolarized, (ncomp, npoints) when polarized (the per-point packing is
// transposed). Following the libxc convention the order-0 energy density is
// per particle; it is rescaled here by the total density so the returned
// value is per volume. No gradient is tracked.
func ComputeRaw(fcn Functional, vals [][]float64, deriv int) ([]*tensor.Dense, error) {
	keys, err := Keys(fcn.Family(), deriv)
	if err != nil {
		return nil, err
	}
	names := inputNames(fcn.Family())

	inp := map[string][]float64{}
	npoints := 0
	if !fcn.Polarized() {
		if len(vals) != len(names) {
			return nil, fmt.Errorf("%w: %d inputs for family %d, want %d",
				ErrBadInput, len(vals), fcn.Family(), len(names))
		}
		for i, name := range names {
			inp[name] = vals[i]
		}
		npoints = len(vals[0])
	} else {
		k := 0
		for _, name := range names {
			nc := spinCols[name]
			if k+nc > len(vals) {
				return nil, fmt.Errorf("%w: too few polarized inputs for family %d",
					ErrBadInput, fcn.Family())
			}
			inp[name] = PackSpin(vals[k : k+nc]...)
			k += nc
		}
		if k != len(vals) {
			return nil, fmt.Errorf("%w: %d polarized inputs for family %d, want %d",
				ErrBadInput, len(vals), fcn.Family(), k)
		}
		npoints = len(vals[0])
	}

	res, err := fcn.Compute(inp, deriv)
	if err != nil {
		return nil, fmt.Errorf("xc compute deriv %d: %w", deriv, err)
	}

	out := make([]*tensor.Dense, len(keys))
	for j, key := range keys {
		data, ok := res[key]
		if !ok {
			return nil, fmt.Errorf("%w: oracle did not return %q", ErrBadInput, key)
		}
		if len(data)%npoints != 0 {
			return nil, fmt.Errorf("%w: %q has %d values for %d points", ErrBadInput, key, len(data), npoints)
		}
		ncomp := len(data) / npoints
		if !fcn.Polarized() || ncomp == 1 {
			out[j] = tensor.FromSlice(append([]float64(nil), data...), len(data))
		} else {
			// transpose (point, comp) rows into (comp, point)
			t := tensor.New(ncomp, npoints)
			td := t.Data()
			for p := 0; p < npoints; p++ {
				for c := 0; c < ncomp; c++ {
					td[c*npoints+p] = data[p*ncomp+c]
				}
			}
			out[j] = t
		}
	}

	// zk is energy per particle; everything else is per volume
	if deriv == 0 {
		zk := out[0].Data()
		if !fcn.Polarized() {
			for p, r := range vals[0] {
				zk[p] *= r
			}
		} else {
			for p := range zk {
				zk[p] *= vals[0][p] + vals[1][p]
			}
		}
	}
	return out, nil
}
