package intor

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"

	"github.com/sofroniewn/dqc/autodiff"
	"github.com/sofroniewn/dqc/cint"
	"github.com/sofroniewn/dqc/tensor"
)

// CGTO is one contracted shell: an angular momentum with matched lists of
// primitive exponents and contraction coefficients.
type CGTO struct {
	AngMom int
	Alphas []float64
	Coeffs []float64
}

// AtomBasis is one atom's nuclear charge (possibly fractional), position in
// Bohr, and its ordered shells.
type AtomBasis struct {
	AtomZ  float64
	Pos    []float64
	Shells []CGTO
}

// Wrapper is the capability set shared by a full basis environment and its
// shell-subset views. A subset forwards everything except the shell range
// and the derived counters to its parent; the atm/bas/env tables and the
// differentiable parameters are always those of the root environment.
type Wrapper interface {
	// Spherical reports whether aos use the spherical convention
	// (2l+1 components per shell) rather than cartesian.
	Spherical() bool

	// FracZ reports whether any atom carries a fractional nuclear charge.
	FracZ() bool

	// Evaluator returns the native integral backend.
	Evaluator() cint.Evaluator

	// Tables returns the packed atm/bas/env tables of the root
	// environment. The env buffer is immutable except for the reserved
	// rinv-origin region, which is mutated only under centreOn.
	Tables() *cint.Tables

	// ShellIdxs returns this view's half-open shell range in absolute
	// indices into Tables.
	ShellIdxs() (int, int)

	// NShells returns the number of shells in this view.
	NShells() int

	// NAO returns the number of atomic orbitals in this view.
	NAO() int

	// NAtoms returns the number of atoms of the root environment.
	NAtoms() int

	// FullShellToAOLoc returns the absolute shell-to-ao offset table of
	// the root environment, with len(total shells)+1 entries starting
	// at 0.
	FullShellToAOLoc() []int

	// AOIdxs returns this view's half-open ao range in absolute indices.
	AOIdxs() (int, int)

	// AOToAtom maps this view's relative ao index to the absolute atom
	// index, for scattering per-ao gradients into atom slots.
	AOToAtom() []int

	// AOToShell maps this view's relative ao index to the absolute shell
	// index.
	AOToShell() []int

	// NGaussAtShell returns the primitive count per absolute shell of the
	// root environment.
	NGaussAtShell() []int

	// AtomZ returns atom ia's nuclear charge, fractional charges
	// included.
	AtomZ(ia int) float64

	// Params returns the differentiable parameters of the root
	// environment: normalized coefficients (ngauss), exponents (ngauss)
	// and positions (natom, 3).
	Params() (coeffs, alphas, poss *autodiff.Variable)

	// Uncontracted returns the view where every primitive is its own
	// shell, plus the map from each uncontracted ao to the relative ao of
	// this view. The result is cached on the root environment.
	Uncontracted() (Wrapper, []int, error)

	// centreOn installs r as the rinv origin in the env scratch region
	// and returns the restore function. The caller must run the restore
	// on every exit path.
	centreOn(r []float64) func()
}

// Env is the full basis environment: the packed native tables plus the index
// maps and differentiable parameters derived from a list of AtomBasis. It is
// immutable after construction except for the scoped rinv-origin scratch.
type Env struct {
	atombases []AtomBasis
	spherical bool
	fracz     bool
	eval      cint.Evaluator

	tbl    cint.Tables
	atomZs []float64

	nshells       int
	shellToAtom   []int
	shellToAOLoc  []int
	aoToAtom      []int
	aoToShell     []int
	ngaussAtShell []int

	coeffs *autodiff.Variable // (ngauss)
	alphas *autodiff.Variable // (ngauss)
	poss   *autodiff.Variable // (natom, 3)

	// uncontracted expansion, built on demand
	uncontr    *Env
	uncontrMap []int
}

// normalization factors per angular momentum, from CINTgto_norm:
// 2^(2l+3) (l+1)! / ((2l+2)! sqrt(pi))
var normFactor = [7]float64{
	2.256758334191025,     // 0
	1.5045055561273502,    // 1
	0.6018022224509401,    // 2
	0.17194349212884005,   // 3
	0.03820966491752001,   // 4
	0.006947211803185456,  // 5
	0.0010688018158746854, // 6
}

func normalizeBasis(alphas, coeffs []float64, angmom int) ([]float64, error) {
	if angmom < 0 || angmom >= len(normFactor) {
		return nil, fmt.Errorf("%w: angular momentum %d is outside the normalization table",
			ErrUnsupportedAngularMomentum, angmom)
	}
	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = c * math.Sqrt(normFactor[angmom]*math.Pow(2*alphas[i], float64(angmom)+1.5))
	}
	return out, nil
}

// New builds the basis environment from the per-atom shell lists. ev is the
// native backend; nil selects the pure-Go reference evaluator.
func New(atombases []AtomBasis, spherical bool, ev cint.Evaluator) (*Env, error) {
	if len(atombases) == 0 {
		return nil, fmt.Errorf("%w: no atoms", ErrInvalidBasis)
	}
	if ev == nil {
		ev = cint.NewGTO()
	}

	w := &Env{atombases: atombases, spherical: spherical, eval: ev}
	ptrEnv := cint.PtrEnvStart
	env := make([]float64, ptrEnv)
	var atm, bas []int
	var allAlphas, allCoeffs, allPos []float64

	for iatom, ab := range atombases {
		if len(ab.Pos) != cint.NDim {
			return nil, fmt.Errorf("%w: atom %d position has %d components, want %d",
				ErrInvalidBasis, iatom, len(ab.Pos), cint.NDim)
		}
		if ab.AtomZ != math.Trunc(ab.AtomZ) {
			w.fracz = true
		}
		w.atomZs = append(w.atomZs, ab.AtomZ)

		atm = append(atm, int(ab.AtomZ), ptrEnv, 1, ptrEnv+cint.NDim, 0, 0)
		env = append(env, ab.Pos...)
		env = append(env, 0)
		ptrEnv += cint.NDim + 1
		allPos = append(allPos, ab.Pos...)

		if len(ab.Shells) == 0 {
			return nil, fmt.Errorf("%w: atom %d has no shells", ErrInvalidBasis, iatom)
		}
		for ish, shell := range ab.Shells {
			if len(shell.Alphas) == 0 || len(shell.Alphas) != len(shell.Coeffs) {
				return nil, fmt.Errorf("%w: atom %d shell %d has %d exponents and %d coefficients",
					ErrInvalidBasis, iatom, ish, len(shell.Alphas), len(shell.Coeffs))
			}
			normCoeff, err := normalizeBasis(shell.Alphas, shell.Coeffs, shell.AngMom)
			if err != nil {
				return nil, err
			}
			ngauss := len(shell.Alphas)
			bas = append(bas, iatom, shell.AngMom, ngauss, 1, 0, ptrEnv, ptrEnv+ngauss, 0)
			env = append(env, shell.Alphas...)
			env = append(env, normCoeff...)
			ptrEnv += 2 * ngauss

			allAlphas = append(allAlphas, shell.Alphas...)
			allCoeffs = append(allCoeffs, normCoeff...)
			w.shellToAtom = append(w.shellToAtom, iatom)
			w.ngaussAtShell = append(w.ngaussAtShell, ngauss)
			w.nshells++
		}
	}
	w.tbl = cint.Tables{Atm: atm, Bas: bas, Env: env}

	// ao bookkeeping over the full shell list
	w.shellToAOLoc = []int{0}
	for sh := 0; sh < w.nshells; sh++ {
		nao := w.tbl.CGTOSize(sh, spherical)
		w.shellToAOLoc = append(w.shellToAOLoc, w.shellToAOLoc[sh]+nao)
		for k := 0; k < nao; k++ {
			w.aoToAtom = append(w.aoToAtom, w.shellToAtom[sh])
			w.aoToShell = append(w.aoToShell, sh)
		}
	}

	natom := len(atombases)
	w.coeffs = autodiff.NewLeaf(tensor.FromSlice(allCoeffs, len(allCoeffs)), false)
	w.alphas = autodiff.NewLeaf(tensor.FromSlice(allAlphas, len(allAlphas)), false)
	w.poss = autodiff.NewLeaf(tensor.FromSlice(allPos, natom, cint.NDim), true)

	DebugLogger.Printf("built environment: %d atoms, %d shells, %d aos", natom, w.nshells, w.NAO())
	return w, nil
}

func (w *Env) Spherical() bool            { return w.spherical }
func (w *Env) FracZ() bool                { return w.fracz }
func (w *Env) Evaluator() cint.Evaluator  { return w.eval }
func (w *Env) Tables() *cint.Tables       { return &w.tbl }
func (w *Env) ShellIdxs() (int, int)      { return 0, w.nshells }
func (w *Env) NShells() int               { return w.nshells }
func (w *Env) NAtoms() int                { return len(w.atomZs) }
func (w *Env) FullShellToAOLoc() []int    { return w.shellToAOLoc }
func (w *Env) NGaussAtShell() []int       { return w.ngaussAtShell }
func (w *Env) AtomZ(ia int) float64       { return w.atomZs[ia] }

// NAO returns the total number of atomic orbitals.
func (w *Env) NAO() int { return w.shellToAOLoc[w.nshells] }

// AOIdxs returns the full ao range.
func (w *Env) AOIdxs() (int, int) { return 0, w.NAO() }

// AOToAtom maps each ao to its atom.
func (w *Env) AOToAtom() []int { return w.aoToAtom }

// AOToShell maps each ao to its shell.
func (w *Env) AOToShell() []int { return w.aoToShell }

// Params returns the differentiable parameter leaves.
func (w *Env) Params() (coeffs, alphas, poss *autodiff.Variable) {
	return w.coeffs, w.alphas, w.poss
}

// centreOn installs r as the rinv origin and returns the restore func.
func (w *Env) centreOn(r []float64) func() {
	prev := slices.Clone(w.tbl.Env[cint.PtrRinvOrig : cint.PtrRinvOrig+cint.NDim])
	copy(w.tbl.Env[cint.PtrRinvOrig:cint.PtrRinvOrig+cint.NDim], r)
	return func() {
		copy(w.tbl.Env[cint.PtrRinvOrig:cint.PtrRinvOrig+cint.NDim], prev)
	}
}

// Slice returns the read-only view of the shells [start, stop) of w.
// Negative indices resolve relative to the shell count. Slicing a view that
// is already a subset is not supported.
func Slice(w Wrapper, start, stop int) (Wrapper, error) {
	if _, ok := w.(*Subset); ok {
		return nil, fmt.Errorf("%w: slicing an already-sliced wrapper", ErrNotImplemented)
	}
	n := w.NShells()
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 || stop > n || start >= stop {
		return nil, fmt.Errorf("%w: [%d, %d) of %d shells", ErrInvalidShellRange, start, stop, n)
	}
	return &Subset{parent: w, start: start, stop: stop}, nil
}
