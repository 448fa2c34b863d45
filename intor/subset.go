package intor

import (
	"github.com/sofroniewn/dqc/autodiff"
	"github.com/sofroniewn/dqc/cint"
)

// Subset is the read-only restriction of an environment to a contiguous
// shell range. It shares the parent's tables and parameters; only the shell
// range and the counters derived from it differ. Integrals over a Subset
// cover only its shells.
type Subset struct {
	parent      Wrapper
	start, stop int // absolute shell indices, half-open

	// cached uncontracted view
	uncontr    Wrapper
	uncontrMap []int
}

func (s *Subset) Spherical() bool           { return s.parent.Spherical() }
func (s *Subset) FracZ() bool               { return s.parent.FracZ() }
func (s *Subset) Evaluator() cint.Evaluator { return s.parent.Evaluator() }
func (s *Subset) Tables() *cint.Tables      { return s.parent.Tables() }
func (s *Subset) NAtoms() int               { return s.parent.NAtoms() }
func (s *Subset) FullShellToAOLoc() []int   { return s.parent.FullShellToAOLoc() }
func (s *Subset) NGaussAtShell() []int      { return s.parent.NGaussAtShell() }
func (s *Subset) AtomZ(ia int) float64      { return s.parent.AtomZ(ia) }

func (s *Subset) Params() (coeffs, alphas, poss *autodiff.Variable) {
	return s.parent.Params()
}

func (s *Subset) centreOn(r []float64) func() {
	return s.parent.centreOn(r)
}

// ShellIdxs returns the absolute shell range of this view.
func (s *Subset) ShellIdxs() (int, int) { return s.start, s.stop }

// NShells returns the number of shells in the range.
func (s *Subset) NShells() int { return s.stop - s.start }

// AOIdxs returns the absolute ao range covered by the shell range.
func (s *Subset) AOIdxs() (int, int) {
	aoLoc := s.parent.FullShellToAOLoc()
	return aoLoc[s.start], aoLoc[s.stop]
}

// NAO returns the number of aos in the range.
func (s *Subset) NAO() int {
	a0, a1 := s.AOIdxs()
	return a1 - a0
}

// AOToAtom maps this view's relative ao index to the absolute atom index.
func (s *Subset) AOToAtom() []int {
	a0, a1 := s.AOIdxs()
	return s.parent.AOToAtom()[a0:a1]
}

// AOToShell maps this view's relative ao index to the absolute shell index.
func (s *Subset) AOToShell() []int {
	a0, a1 := s.AOIdxs()
	return s.parent.AOToShell()[a0:a1]
}

// Uncontracted returns the primitive view of this shell range: the parent's
// uncontracted environment sliced to the primitives of the range, plus the
// map from each uncontracted ao to the relative ao of this view.
func (s *Subset) Uncontracted() (Wrapper, []int, error) {
	if s.uncontr != nil {
		return s.uncontr, s.uncontrMap, nil
	}
	pu, _, err := s.parent.Uncontracted()
	if err != nil {
		return nil, nil, err
	}

	// the range's shells expand to a contiguous primitive range because
	// the uncontracted environment keeps shell order
	ngauss := s.parent.NGaussAtShell()
	g0, g1 := 0, 0
	for sh := 0; sh < s.stop; sh++ {
		if sh < s.start {
			g0 += ngauss[sh]
		}
		g1 += ngauss[sh]
	}
	uw, err := Slice(pu, g0, g1)
	if err != nil {
		return nil, nil, err
	}

	aoLoc := s.parent.FullShellToAOLoc()
	var uao2ao []int
	idxAO := 0
	for sh := s.start; sh < s.stop; sh++ {
		nao := aoLoc[sh+1] - aoLoc[sh]
		for g := 0; g < ngauss[sh]; g++ {
			for k := 0; k < nao; k++ {
				uao2ao = append(uao2ao, idxAO+k)
			}
		}
		idxAO += nao
	}
	s.uncontr, s.uncontrMap = uw, uao2ao
	return uw, uao2ao, nil
}
