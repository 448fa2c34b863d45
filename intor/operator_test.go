package intor

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sofroniewn/dqc/autodiff"
	"github.com/sofroniewn/dqc/cint"
	"github.com/sofroniewn/dqc/tensor"
)

// prim1Bases builds one single-primitive s shell per atom.
func prim1Bases(alphas []float64, poss [][]float64) []AtomBasis {
	out := make([]AtomBasis, len(alphas))
	for i := range alphas {
		out[i] = AtomBasis{
			AtomZ: 1,
			Pos:   append([]float64{}, poss[i]...),
			Shells: []CGTO{
				{AngMom: 0, Alphas: []float64{alphas[i]}, Coeffs: []float64{1}},
			},
		}
	}
	return out
}

var testAlphas = []float64{0.6, 1.4}
var testPoss = [][]float64{{0.1, 0.2, -0.3}, {1.0, -0.5, 0.7}}

// weights fills a deterministic non-uniform seed so gradient tests catch
// axis mix-ups that a uniform seed would hide.
func weights(shape ...int) *tensor.Dense {
	w := tensor.New(shape...)
	for i := range w.Data() {
		w.Data()[i] = math.Sin(float64(i) + 1)
	}
	return w
}

func TestOverlapValues(t *testing.T) {
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	s, err := Overlap(w)
	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, s.Value().Shape())

	assert.InDelta(t, 1.0, s.Value().At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, s.Value().At(1, 1), 1e-12)
	assert.InDelta(t, s.Value().At(0, 1), s.Value().At(1, 0), 1e-14)
	assert.Greater(t, s.Value().At(0, 1), 0.0)
}

func TestKineticValues(t *testing.T) {
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	k, err := Kinetic(w)
	require.NoError(t, err)
	assert.InDelta(t, 1.5*testAlphas[0], k.Value().At(0, 0), 1e-12)
	assert.InDelta(t, 1.5*testAlphas[1], k.Value().At(1, 1), 1e-12)
	assert.InDelta(t, k.Value().At(0, 1), k.Value().At(1, 0), 1e-14)
}

func TestSpectrumInvariantUnderAtomOrder(t *testing.T) {
	spectrum := func(bases []AtomBasis) []float64 {
		w, err := New(bases, true, nil)
		require.NoError(t, err)
		s, err := Overlap(w)
		require.NoError(t, err)
		var eig mat.EigenSym
		sym := mat.NewSymDense(w.NAO(), s.Value().Data())
		require.True(t, eig.Factorize(sym, false))
		return eig.Values(nil)
	}
	fwd := spectrum(prim1Bases(testAlphas, testPoss))
	rev := spectrum(prim1Bases(
		[]float64{testAlphas[1], testAlphas[0]},
		[][]float64{testPoss[1], testPoss[0]},
	))
	require.Len(t, rev, len(fwd))
	for i := range fwd {
		assert.InDelta(t, fwd[i], rev[i], 1e-12)
	}
}

func TestInt1eTransposeReuse(t *testing.T) {
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)

	r1, err := Int1eRaw(w, "ipovlp")
	require.NoError(t, err)
	r2, err := Int1eRaw(w, "ovlpip")
	require.NoError(t, err)
	// single-primitive shells: the two derivative tensors agree exactly
	// under axis transposition
	assert.True(t, tensor.Equal(r1.SwapAxes(-2, -1), r2))

	n1, err := Int1eRaw(w, "ipnuc")
	require.NoError(t, err)
	n2, err := Int1eRaw(w, "nucip")
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(n1.SwapAxes(-2, -1), n2, 1e-14))
}

func TestInt2eTransposeEquivalences(t *testing.T) {
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)

	a1, err := Int2eRaw(w, "ipar12b")
	require.NoError(t, err)
	for _, name := range []string{"aipr12b", "ar12ipb", "ar12bip"} {
		direct, err := Int2eRaw(w, name)
		require.NoError(t, err)
		axes, ok := int2eEquiv("ipar12b", name)
		require.Truef(t, ok, "%s", name)
		assert.Truef(t, tensor.AllClose(transposeAxes(a1, axes), direct, 1e-14), "%s", name)
	}
}

// fdSeeded builds the weighted sum of an integral over rebuilt bases so
// gradients can be checked by central differences.
func fdSeeded(t *testing.T, bases []AtomBasis, seed *tensor.Dense,
	op func(Wrapper) (*autodiff.Variable, error)) float64 {
	t.Helper()
	w, err := New(bases, true, nil)
	require.NoError(t, err)
	v, err := op(w)
	require.NoError(t, err)
	return tensor.MulElem(v.Value(), seed).Sum().Value()
}

func movedBases(ia, x int, h float64) []AtomBasis {
	poss := [][]float64{
		append([]float64{}, testPoss[0]...),
		append([]float64{}, testPoss[1]...),
	}
	poss[ia][x] += h
	return prim1Bases(testAlphas, poss)
}

func checkPosGradient(t *testing.T, op func(Wrapper) (*autodiff.Variable, error), shape []int) {
	t.Helper()
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	v, err := op(w)
	require.NoError(t, err)
	require.Equal(t, shape, v.Value().Shape())

	seed := weights(shape...)
	require.NoError(t, autodiff.Backward(v, seed))
	_, _, poss := w.Params()
	grad := poss.Grad()
	require.NotNil(t, grad)
	require.Equal(t, []int{2, 3}, grad.Shape())

	h := 1e-6
	for ia := 0; ia < 2; ia++ {
		for x := 0; x < 3; x++ {
			up := fdSeeded(t, movedBases(ia, x, h), seed, op)
			dn := fdSeeded(t, movedBases(ia, x, -h), seed, op)
			fd := (up - dn) / (2 * h)
			assert.InDeltaf(t, fd, grad.At(ia, x), 1e-5, "atom %d x=%d", ia, x)
		}
	}
}

func TestOverlapPosGradient(t *testing.T) {
	checkPosGradient(t, Overlap, []int{2, 2})
}

func TestKineticPosGradient(t *testing.T) {
	checkPosGradient(t, Kinetic, []int{2, 2})
}

func TestNuclAttrPosGradient(t *testing.T) {
	// moving an atom moves both its shell and its charge; the graph
	// accumulates both paths into the same position leaf
	checkPosGradient(t, NuclAttr, []int{2, 2})
}

func TestElRepPosGradient(t *testing.T) {
	checkPosGradient(t, ElRep, []int{2, 2, 2, 2})
}

func TestRinvCentreGradient(t *testing.T) {
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	cvals := []float64{0.3, -0.1, 0.2}
	centre := autodiff.NewLeaf(tensor.FromSlice(cvals, 3), true)
	v, err := Rinv(w, centre)
	require.NoError(t, err)

	seed := weights(2, 2)
	require.NoError(t, autodiff.Backward(v, seed))
	grad := centre.Grad()
	require.NotNil(t, grad)
	require.Equal(t, []int{3}, grad.Shape())

	h := 1e-6
	at := func(c []float64) float64 {
		v, err := Rinv(w, autodiff.NewLeaf(tensor.FromSlice(c, 3), false))
		require.NoError(t, err)
		return tensor.MulElem(v.Value(), seed).Sum().Value()
	}
	for x := 0; x < 3; x++ {
		up := append([]float64{}, cvals...)
		dn := append([]float64{}, cvals...)
		up[x] += h
		dn[x] -= h
		fd := (at(up) - at(dn)) / (2 * h)
		assert.InDeltaf(t, fd, grad.At(x), 1e-5, "x=%d", x)
	}
}

func TestRinvBadCentreShape(t *testing.T) {
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	_, err = Rinv(w, autodiff.NewLeaf(tensor.New(2), false))
	assert.ErrorIs(t, err, ErrInvalidBasis)
}

func TestRinvCentreScopedRestore(t *testing.T) {
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	env := w.Tables().Env

	centre := autodiff.NewLeaf(tensor.FromSlice([]float64{1, 2, 3}, 3), true)
	v, err := Rinv(w, centre)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, env[cint.PtrRinvOrig:cint.PtrRinvOrig+3])

	// the backward pass re-centres for the derivative integrals and must
	// also restore
	require.NoError(t, autodiff.Backward(v, weights(2, 2)))
	assert.Equal(t, []float64{0, 0, 0}, env[cint.PtrRinvOrig:cint.PtrRinvOrig+3])
}

// failingEvaluator fails every integral call.
type failingEvaluator struct{}

func (failingEvaluator) Optimizer(string, *cint.Tables) (cint.Optimizer, error) {
	return cint.NoOptimizer{}, nil
}

func (failingEvaluator) Int1e(string, []float64, int, [4]int, []int, cint.Optimizer, *cint.Tables) error {
	return fmt.Errorf("%w: injected failure", cint.ErrNativeCall)
}

func (failingEvaluator) Int2e(string, []float64, int, [8]int, []int, cint.Optimizer, *cint.Tables) error {
	return fmt.Errorf("%w: injected failure", cint.ErrNativeCall)
}

func (failingEvaluator) EvalGTO(string, []float64, [2]int, []int, []float64, *cint.Tables) error {
	return fmt.Errorf("%w: injected failure", cint.ErrNativeCall)
}

func TestRinvRestoresOnFailure(t *testing.T) {
	w, err := New(prim1Bases(testAlphas, testPoss), true, failingEvaluator{})
	require.NoError(t, err)
	env := w.Tables().Env

	centre := autodiff.NewLeaf(tensor.FromSlice([]float64{1, 2, 3}, 3), false)
	_, err = Rinv(w, centre)
	assert.ErrorIs(t, err, cint.ErrNativeCall)
	assert.Equal(t, []float64{0, 0, 0}, env[cint.PtrRinvOrig:cint.PtrRinvOrig+3])
}

func TestFracZNuclAttr(t *testing.T) {
	bases := prim1Bases(testAlphas, testPoss)
	bases[0].AtomZ = 2.5
	w, err := New(bases, true, nil)
	require.NoError(t, err)
	require.True(t, w.FracZ())

	got, err := NuclAttr(w)
	require.NoError(t, err)

	// assemble the expectation from raw rinv integrals
	want := tensor.New(2, 2)
	for ia := 0; ia < 2; ia++ {
		restore := w.centreOn(testPoss[ia])
		r, err := Int1eRaw(w, "rinv")
		restore()
		require.NoError(t, err)
		want = tensor.Add(want, r.Scale(-w.AtomZ(ia)))
	}
	assert.True(t, tensor.AllClose(got.Value(), want, 1e-13))
}

func TestFracZNuclAttrGradient(t *testing.T) {
	fracBases := func(ia, x int, h float64) []AtomBasis {
		b := movedBases(ia, x, h)
		b[0].AtomZ = 2.5
		return b
	}

	w, err := New(fracBases(0, 0, 0), true, nil)
	require.NoError(t, err)
	v, err := NuclAttr(w)
	require.NoError(t, err)
	seed := weights(2, 2)
	require.NoError(t, autodiff.Backward(v, seed))
	_, _, poss := w.Params()
	grad := poss.Grad()
	require.NotNil(t, grad)

	h := 1e-6
	for ia := 0; ia < 2; ia++ {
		for x := 0; x < 3; x++ {
			up := fdSeeded(t, fracBases(ia, x, h), seed, NuclAttr)
			dn := fdSeeded(t, fracBases(ia, x, -h), seed, NuclAttr)
			fd := (up - dn) / (2 * h)
			assert.InDeltaf(t, fd, grad.At(ia, x), 1e-5, "atom %d x=%d", ia, x)
		}
	}
}

func TestEvalGTOShapes(t *testing.T) {
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	rgrid := autodiff.NewLeaf(weights(4, 3), false)

	ao, err := EvalAO(w, rgrid)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, ao.Value().Shape())

	grd, err := EvalGradAO(w, rgrid)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 4}, grd.Value().Shape())

	lap, err := EvalLaplAO(w, rgrid)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, lap.Value().Shape())

	_, err = EvalAO(w, autodiff.NewLeaf(tensor.New(4, 2), false))
	assert.ErrorIs(t, err, ErrInvalidBasis)
}

func TestEvalAOGradients(t *testing.T) {
	gridVals := []float64{
		0.4, 0.5, -0.6,
		-0.2, 0.1, 0.9,
	}
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	rgrid := autodiff.NewLeaf(tensor.FromSlice(gridVals, 2, 3), true)
	ao, err := EvalAO(w, rgrid)
	require.NoError(t, err)

	seed := weights(2, 2)
	require.NoError(t, autodiff.Backward(ao, seed))
	_, _, poss := w.Params()

	gGrid := rgrid.Grad()
	require.NotNil(t, gGrid)
	require.Equal(t, []int{2, 3}, gGrid.Shape())
	gPos := poss.Grad()
	require.NotNil(t, gPos)
	require.Equal(t, []int{2, 3}, gPos.Shape())

	h := 1e-6
	atGrid := func(vals []float64) float64 {
		v, err := EvalAO(w, autodiff.NewLeaf(tensor.FromSlice(vals, 2, 3), false))
		require.NoError(t, err)
		return tensor.MulElem(v.Value(), seed).Sum().Value()
	}
	for g := 0; g < 2; g++ {
		for x := 0; x < 3; x++ {
			up := append([]float64{}, gridVals...)
			dn := append([]float64{}, gridVals...)
			up[g*3+x] += h
			dn[g*3+x] -= h
			fd := (atGrid(up) - atGrid(dn)) / (2 * h)
			assert.InDeltaf(t, fd, gGrid.At(g, x), 1e-5, "grid %d x=%d", g, x)
		}
	}

	rgridFixed := autodiff.NewLeaf(tensor.FromSlice(gridVals, 2, 3), false)
	atPos := func(bases []AtomBasis) float64 {
		wm, err := New(bases, true, nil)
		require.NoError(t, err)
		v, err := EvalAO(wm, rgridFixed)
		require.NoError(t, err)
		return tensor.MulElem(v.Value(), seed).Sum().Value()
	}
	for ia := 0; ia < 2; ia++ {
		for x := 0; x < 3; x++ {
			fd := (atPos(movedBases(ia, x, h)) - atPos(movedBases(ia, x, -h))) / (2 * h)
			assert.InDeltaf(t, fd, gPos.At(ia, x), 1e-5, "atom %d x=%d", ia, x)
		}
	}
}

func TestEvalGradAOBackward(t *testing.T) {
	gridVals := []float64{0.4, 0.5, -0.6}
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	rgrid := autodiff.NewLeaf(tensor.FromSlice(gridVals, 1, 3), true)
	grd, err := EvalGradAO(w, rgrid)
	require.NoError(t, err)

	seed := weights(3, 2, 1)
	require.NoError(t, autodiff.Backward(grd, seed))
	gGrid := rgrid.Grad()
	require.NotNil(t, gGrid)

	h := 1e-5
	at := func(vals []float64) float64 {
		v, err := EvalGradAO(w, autodiff.NewLeaf(tensor.FromSlice(vals, 1, 3), false))
		require.NoError(t, err)
		return tensor.MulElem(v.Value(), seed).Sum().Value()
	}
	for x := 0; x < 3; x++ {
		up := append([]float64{}, gridVals...)
		dn := append([]float64{}, gridVals...)
		up[x] += h
		dn[x] -= h
		fd := (at(up) - at(dn)) / (2 * h)
		assert.InDeltaf(t, fd, gGrid.At(0, x), 1e-5, "x=%d", x)
	}
}

func TestEvalLaplAOBackward(t *testing.T) {
	gridVals := []float64{
		0.4, 0.5, -0.6,
		-0.2, 0.1, 0.9,
	}
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	rgrid := autodiff.NewLeaf(tensor.FromSlice(gridVals, 2, 3), true)
	lap, err := EvalLaplAO(w, rgrid)
	require.NoError(t, err)

	seed := weights(2, 2)
	require.NoError(t, autodiff.Backward(lap, seed))
	_, _, poss := w.Params()

	gGrid := rgrid.Grad()
	require.NotNil(t, gGrid)
	gPos := poss.Grad()
	require.NotNil(t, gPos)

	h := 1e-5
	atGrid := func(vals []float64) float64 {
		v, err := EvalLaplAO(w, autodiff.NewLeaf(tensor.FromSlice(vals, 2, 3), false))
		require.NoError(t, err)
		return tensor.MulElem(v.Value(), seed).Sum().Value()
	}
	for g := 0; g < 2; g++ {
		for x := 0; x < 3; x++ {
			up := append([]float64{}, gridVals...)
			dn := append([]float64{}, gridVals...)
			up[g*3+x] += h
			dn[g*3+x] -= h
			fd := (atGrid(up) - atGrid(dn)) / (2 * h)
			assert.InDeltaf(t, fd, gGrid.At(g, x), 1e-5, "grid %d x=%d", g, x)
		}
	}

	rgridFixed := autodiff.NewLeaf(tensor.FromSlice(gridVals, 2, 3), false)
	atPos := func(bases []AtomBasis) float64 {
		wm, err := New(bases, true, nil)
		require.NoError(t, err)
		v, err := EvalLaplAO(wm, rgridFixed)
		require.NoError(t, err)
		return tensor.MulElem(v.Value(), seed).Sum().Value()
	}
	for ia := 0; ia < 2; ia++ {
		for x := 0; x < 3; x++ {
			fd := (atPos(movedBases(ia, x, h)) - atPos(movedBases(ia, x, -h))) / (2 * h)
			assert.InDeltaf(t, fd, gPos.At(ia, x), 1e-5, "atom %d x=%d", ia, x)
		}
	}
}

func TestSubsetIntegralsAreBlocks(t *testing.T) {
	bases := []AtomBasis{
		{AtomZ: 1, Pos: []float64{0, 0, 0}, Shells: []CGTO{
			{AngMom: 0, Alphas: []float64{0.6}, Coeffs: []float64{1}},
			{AngMom: 0, Alphas: []float64{1.8}, Coeffs: []float64{1}},
		}},
		{AtomZ: 1, Pos: []float64{1.0, -0.5, 0.7}, Shells: []CGTO{
			{AngMom: 0, Alphas: []float64{1.4}, Coeffs: []float64{1}},
		}},
	}
	w, err := New(bases, true, nil)
	require.NoError(t, err)
	full, err := Overlap(w)
	require.NoError(t, err)

	s, err := Slice(w, 1, 3)
	require.NoError(t, err)
	sub, err := Overlap(s)
	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, sub.Value().Shape())
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.Equal(t, full.Value().At(i+1, j+1), sub.Value().At(i, j))
		}
	}
}

func TestUncontractedSinglePrimitiveIdentity(t *testing.T) {
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	u, uao2ao, err := w.Uncontracted()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, uao2ao)

	sw, err := Overlap(w)
	require.NoError(t, err)
	su, err := Overlap(u)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(sw.Value(), su.Value(), 1e-14))
}

func TestUncontractedContractionRoundTrip(t *testing.T) {
	w, err := New(h2Bases(1.4), true, nil)
	require.NoError(t, err)
	u, uao2ao, err := w.Uncontracted()
	require.NoError(t, err)
	require.Equal(t, 6, u.NAO())

	sw, err := Overlap(w)
	require.NoError(t, err)
	su, err := Overlap(u)
	require.NoError(t, err)

	// primitives keep their contracted coefficients, so scatter-adding the
	// uncontracted integral over the map reproduces the contracted one
	nao := w.NAO()
	back := tensor.New(nao, nao)
	for ui, i := range uao2ao {
		for uj, j := range uao2ao {
			back.Set(back.At(i, j)+su.Value().At(ui, uj), i, j)
		}
	}
	assert.True(t, tensor.AllClose(back, sw.Value(), 1e-10))
}

func TestUnsupportedDerivativeOrderSurfaces(t *testing.T) {
	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	_, err = Int1e(w, "ipipovlp")
	assert.ErrorIs(t, err, cint.ErrNativeCall)
}

func TestDebugLogging(t *testing.T) {
	var buf bytes.Buffer
	SetDebugOutput(&buf)
	defer SetDebugOutput(io.Discard)

	w, err := New(prim1Bases(testAlphas, testPoss), true, nil)
	require.NoError(t, err)
	_, err = Overlap(w)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "int1e_ovlp_sph")
}
