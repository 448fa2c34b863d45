// Package cint defines the call contract of the native multi-center Gaussian
// integral evaluator: the packed atom/shell/environment table layout, the
// opaque per-operation optimizer resource, and the Evaluator interface the
// integral drivers call into.
//
// The table layout follows the libcint convention: atm records of 6 ints,
// bas records of 8 ints, and a flat float64 environment buffer with a
// reserved header region. Offsets into env are stored in the integer tables.
package cint

import "errors"

const (
	// NDim is the spatial dimensionality.
	NDim = 3

	// PtrRinvOrig is the env offset of the mutable 3-component origin used
	// by rinv-type integrals. Callers mutate it only under a scoped
	// save/restore.
	PtrRinvOrig = 4

	// PtrEnvStart is the first env offset available for atom and shell
	// data; everything below is reserved header.
	PtrEnvStart = 20
)

// atm record slots
const (
	AtmSlots = 6

	ChargeOf = 0 // nuclear charge
	PtrCoord = 1 // env offset of the 3 coordinates
	NucMod   = 2 // nuclear model tag
)

// bas record slots
const (
	BasSlots = 8

	AtomOf   = 0 // owning atom index
	AngOf    = 1 // angular momentum
	NPrimOf  = 2 // number of primitives
	NCtrOf   = 3 // number of contractions
	KappaOf  = 4
	PtrExp   = 5 // env offset of the exponents
	PtrCoeff = 6 // env offset of the normalized coefficients
)

// ErrNativeCall marks an opaque failure inside the native evaluator. It is
// never retried; the wrapper surfaces it to the caller.
var ErrNativeCall = errors.New("cint: native call failed")

// Tables is the packed data handed to every native call.
type Tables struct {
	Atm []int     // natm rows of AtmSlots ints
	Bas []int     // nbas rows of BasSlots ints
	Env []float64 // flat buffer referenced by the integer tables
}

// NAtm returns the number of atom records.
func (t *Tables) NAtm() int { return len(t.Atm) / AtmSlots }

// NBas returns the number of shell records.
func (t *Tables) NBas() int { return len(t.Bas) / BasSlots }

// BasField returns field f of shell record sh.
func (t *Tables) BasField(sh, f int) int { return t.Bas[sh*BasSlots+f] }

// AtmField returns field f of atom record ia.
func (t *Tables) AtmField(ia, f int) int { return t.Atm[ia*AtmSlots+f] }

// CGTOSize returns the number of atomic orbitals of shell sh under the given
// angular convention.
func (t *Tables) CGTOSize(sh int, spherical bool) int {
	l := t.BasField(sh, AngOf)
	nctr := t.BasField(sh, NCtrOf)
	if spherical {
		return (2*l + 1) * nctr
	}
	return (l + 1) * (l + 2) / 2 * nctr
}

// Optimizer is an opaque per-operation resource handed back to the native
// calls that produced it. Release must be called when the owning driver call
// finishes; implementations must tolerate multiple calls.
type Optimizer interface {
	Release()
}

// NoOptimizer is the optimizer used by evaluators that do not precompute
// anything per operation.
type NoOptimizer struct{}

// Release implements Optimizer.
func (NoOptimizer) Release() {}

// Evaluator evaluates batched integrals over shell ranges. Output buffers
// are filled in the native axis order: derivative components first, then
// (column, row) per operand pair for two-center integrals, and plain
// (i, j, k, l) for the four-center fill; the wrapper owns any reordering
// into the caller's convention.
type Evaluator interface {
	// Int1e fills out with ncomp blocks of (naoj, naoi) for the shell
	// ranges shls = [ish0, ish1, jsh0, jsh1). aoLoc is the full
	// shell-to-orbital offset table.
	Int1e(opname string, out []float64, ncomp int, shls [4]int, aoLoc []int, opt Optimizer, tbl *Tables) error

	// Int2e fills out with ncomp blocks of (naoi, naoj, naok, naol) for
	// shls = [ish0, ish1, jsh0, jsh1, ksh0, ksh1, lsh0, lsh1).
	Int2e(opname string, out []float64, ncomp int, shls [8]int, aoLoc []int, opt Optimizer, tbl *Tables) error

	// EvalGTO fills out with ncomp blocks of (nao, ngrid) orbital values
	// on coords (ngrid rows of 3).
	EvalGTO(opname string, out []float64, shls [2]int, aoLoc []int, coords []float64, tbl *Tables) error

	// Optimizer acquires the per-operation optimizer resource.
	Optimizer(opname string, tbl *Tables) (Optimizer, error)
}
