package intor

// Uncontracted returns the environment where every primitive gaussian is its
// own single-primitive shell, plus the map from each uncontracted ao index
// to the ao index of the originating contracted shell. Normalization is per
// primitive, so summing an integral over the expansion through the map
// reproduces the contracted integral. The expansion is built once and
// cached.
func (w *Env) Uncontracted() (Wrapper, []int, error) {
	if w.uncontr != nil {
		return w.uncontr, w.uncontrMap, nil
	}

	newBases := make([]AtomBasis, 0, len(w.atombases))
	for _, ab := range w.atombases {
		var shells []CGTO
		for _, shell := range ab.Shells {
			for k := range shell.Alphas {
				shells = append(shells, CGTO{
					AngMom: shell.AngMom,
					Alphas: shell.Alphas[k : k+1],
					Coeffs: shell.Coeffs[k : k+1],
				})
			}
		}
		newBases = append(newBases, AtomBasis{AtomZ: ab.AtomZ, Pos: ab.Pos, Shells: shells})
	}
	uw, err := New(newBases, w.spherical, w.eval)
	if err != nil {
		return nil, nil, err
	}

	var uao2ao []int
	idxAO := 0
	for sh := 0; sh < w.nshells; sh++ {
		nao := w.shellToAOLoc[sh+1] - w.shellToAOLoc[sh]
		for g := 0; g < w.ngaussAtShell[sh]; g++ {
			for k := 0; k < nao; k++ {
				uao2ao = append(uao2ao, idxAO+k)
			}
		}
		idxAO += nao
	}
	w.uncontr, w.uncontrMap = uw, uao2ao
	return uw, uao2ao, nil
}
