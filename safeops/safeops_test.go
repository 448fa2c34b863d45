package safeops

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofroniewn/dqc/autodiff"
	"github.com/sofroniewn/dqc/tensor"
)

func TestSafepowMatchesPowAwayFromZero(t *testing.T) {
	a := autodiff.NewLeaf(tensor.FromSlice([]float64{0.5, 2.0, 10.0}, 3), false)
	r, err := Safepow(a, 1.0/3)
	require.NoError(t, err)
	for i, v := range []float64{0.5, 2.0, 10.0} {
		assert.InDelta(t, math.Pow(v, 1.0/3), r.Value().Data()[i], 1e-10)
	}
}

func TestSafepowFiniteAtZero(t *testing.T) {
	a := autodiff.NewLeaf(tensor.FromSlice([]float64{0}, 1), true)
	r, err := Safepow(a, -0.5)
	require.NoError(t, err)
	assert.False(t, math.IsInf(r.Value().Data()[0], 0))
	require.NoError(t, autodiff.Backward(autodiff.Sum(r), nil))
	assert.False(t, math.IsNaN(a.Grad().Data()[0]))
}

func TestSafepowRejectsNegative(t *testing.T) {
	a := autodiff.NewLeaf(tensor.FromSlice([]float64{-1}, 1), false)
	_, err := Safepow(a, 2)
	assert.ErrorIs(t, err, ErrNegativeBase)
}

func TestSafepowGradient(t *testing.T) {
	vals := []float64{0.3, 1.7}
	p := 1.0 / 3
	a := autodiff.NewLeaf(tensor.FromSlice(vals, 2), true)
	r, err := Safepow(a, p)
	require.NoError(t, err)
	seed := tensor.FromSlice([]float64{1, 2}, 2)
	require.NoError(t, autodiff.Backward(r, seed))

	h := 1e-7
	for i, v := range vals {
		fd := (math.Pow(v+h, p) - math.Pow(v-h, p)) / (2 * h) * seed.Data()[i]
		assert.InDeltaf(t, fd, a.Grad().Data()[i], 1e-6, "i=%d", i)
	}
}

func TestSafenorm(t *testing.T) {
	a := autodiff.NewLeaf(tensor.FromSlice([]float64{3, 4, 0, 0, 5, 12}, 2, 3), false)
	r, err := Safenorm(a, -1)
	require.NoError(t, err)
	require.Equal(t, []int{2}, r.Value().Shape())
	assert.InDelta(t, 5.0, r.Value().At(0), 1e-10)
	assert.InDelta(t, 13.0, r.Value().At(1), 1e-10)

	_, err = Safenorm(a, 2)
	assert.Error(t, err)
}

func TestSafenormAxis0(t *testing.T) {
	a := autodiff.NewLeaf(tensor.FromSlice([]float64{3, 0, 4, 1}, 2, 2), false)
	r, err := Safenorm(a, 0)
	require.NoError(t, err)
	require.Equal(t, []int{2}, r.Value().Shape())
	assert.InDelta(t, 5.0, r.Value().At(0), 1e-10)
	assert.InDelta(t, 1.0, r.Value().At(1), 1e-10)
}

func TestSafenormGradientDefinedAtOrigin(t *testing.T) {
	a := autodiff.NewLeaf(tensor.New(1, 3), true)
	r, err := Safenorm(a, 1)
	require.NoError(t, err)
	require.NoError(t, autodiff.Backward(autodiff.Sum(r), nil))
	for _, g := range a.Grad().Data() {
		assert.False(t, math.IsNaN(g))
	}
}

func TestSafenormGradient(t *testing.T) {
	vals := []float64{0.3, -1.2, 0.7}
	a := autodiff.NewLeaf(tensor.FromSlice(vals, 1, 3), true)
	r, err := Safenorm(a, 1)
	require.NoError(t, err)
	require.NoError(t, autodiff.Backward(autodiff.Sum(r), nil))

	norm := math.Sqrt(0.3*0.3 + 1.2*1.2 + 0.7*0.7)
	for i, v := range vals {
		assert.InDeltaf(t, v/norm, a.Grad().Data()[i], 1e-9, "i=%d", i)
	}
}

func TestOccNumberInteger(t *testing.T) {
	a := autodiff.NewLeaf(tensor.Scalar(3), false)
	r, err := OccNumber(a, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 0, 0}, r.Value().Data())
}

func TestOccNumberFractional(t *testing.T) {
	a := autodiff.NewLeaf(tensor.Scalar(2.3), false)
	r, err := OccNumber(a, -1)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, r.Value().At(2)-0.3, 1e-12)
	assert.Equal(t, 1.0, r.Value().At(0))
	assert.Equal(t, 1.0, r.Value().At(1))
	assert.InDelta(t, 2.3, r.Value().Sum().Value(), 1e-12)
}

func TestOccNumberErrors(t *testing.T) {
	_, err := OccNumber(autodiff.NewLeaf(tensor.Scalar(2.3), false), 2)
	assert.Error(t, err)
	_, err = OccNumber(autodiff.NewLeaf(tensor.New(2), false), 3)
	assert.Error(t, err)
}

func TestOccNumberGradient(t *testing.T) {
	a := autodiff.NewLeaf(tensor.Scalar(2.3), true)
	r, err := OccNumber(a, 4)
	require.NoError(t, err)
	seed := tensor.FromSlice([]float64{10, 20, 30, 40}, 4)
	require.NoError(t, autodiff.Backward(r, seed))
	// only the fractional slot (ceil-1 = 2) feeds the total
	assert.Equal(t, 30.0, a.Grad().Data()[0])
}
