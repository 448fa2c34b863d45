package basis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofroniewn/dqc/intor"
)

func TestAtomZ(t *testing.T) {
	z, err := AtomZ("H")
	require.NoError(t, err)
	assert.Equal(t, 1, z)
	z, err = AtomZ("O")
	require.NoError(t, err)
	assert.Equal(t, 8, z)

	_, err = AtomZ("Xx")
	assert.ErrorIs(t, err, ErrUnknownElement)
	_, err = AtomZ("X")
	assert.ErrorIs(t, err, ErrUnknownElement)

	sym, err := Symbol(6)
	require.NoError(t, err)
	assert.Equal(t, "C", sym)
	_, err = Symbol(0)
	assert.ErrorIs(t, err, ErrUnknownElement)
}

func TestParse(t *testing.T) {
	const table = `
# comment line
element H
1
0 2
1.5 0.6
0.3 0.5

element C
2
0 1
2.0 1.0
1 1
0.8 1.0
`
	set, err := Parse(strings.NewReader(table))
	require.NoError(t, err)
	require.Len(t, set, 2)

	h := set["H"]
	require.Len(t, h, 1)
	assert.Equal(t, 0, h[0].AngMom)
	assert.Equal(t, []float64{1.5, 0.3}, h[0].Alphas)
	assert.Equal(t, []float64{0.6, 0.5}, h[0].Coeffs)

	c := set["C"]
	require.Len(t, c, 2)
	assert.Equal(t, 1, c[1].AngMom)
}

func TestParseErrors(t *testing.T) {
	for _, bad := range []string{
		"H\n1\n0 1\n1.0 1.0\n",          // missing element keyword
		"element Xx\n1\n0 1\n1.0 1.0\n", // unknown element
		"element H\n1\n0 2\n1.0 1.0\n",  // truncated shell
		"element H\n1\n0 1\nzz 1.0\n",   // bad number
		"element H\n",                   // truncated header
	} {
		_, err := Parse(strings.NewReader(bad))
		assert.Errorf(t, err, "%q", bad)
	}
}

func TestSTO3GBuiltIn(t *testing.T) {
	set := STO3GSet()
	for _, sym := range []string{"H", "He", "Li", "C", "N", "O", "F"} {
		_, ok := set[sym]
		assert.Truef(t, ok, "%s", sym)
	}
	require.Len(t, set["H"], 1)
	assert.Len(t, set["H"][0].Alphas, 3)
	require.Len(t, set["O"], 3)
	assert.Equal(t, 1, set["O"][2].AngMom)
}

func TestAtoms(t *testing.T) {
	set := STO3GSet()
	atoms, err := set.Atoms([]string{"H", "H"}, [][]float64{{0, 0, 0}, {0, 0, 1.4}})
	require.NoError(t, err)
	require.Len(t, atoms, 2)
	assert.Equal(t, 1.0, atoms[0].AtomZ)
	assert.Equal(t, []float64{0, 0, 1.4}, atoms[1].Pos)
	require.Len(t, atoms[0].Shells, 1)

	// shells are cloned, not aliased
	atoms[0].Shells[0].Alphas[0] = 99
	assert.NotEqual(t, 99.0, set["H"][0].Alphas[0])

	_, err = set.Atoms([]string{"H"}, [][]float64{{0, 0}, {0, 0, 1}})
	assert.Error(t, err)
	_, err = set.Atoms([]string{"Ne"}, [][]float64{{0, 0, 0}})
	assert.ErrorIs(t, err, ErrNoBasis)
	_, err = set.Atoms([]string{"H"}, [][]float64{{0, 0}})
	assert.Error(t, err)
}

func TestAtomsFeedWrapper(t *testing.T) {
	set := STO3GSet()
	atoms, err := set.Atoms([]string{"H", "H"}, [][]float64{{0, 0, 0}, {0, 0, 1.4}})
	require.NoError(t, err)
	w, err := intor.New(atoms, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, w.NAO())

	s, err := intor.Overlap(w)
	require.NoError(t, err)
	// the published STO-3G contraction is normalized
	assert.InDelta(t, 1.0, s.Value().At(0, 0), 1e-4)
	assert.InDelta(t, s.Value().At(0, 1), s.Value().At(1, 0), 1e-13)
}
