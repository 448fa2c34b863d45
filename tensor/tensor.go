// Package tensor provides a dense float64 n-dimensional array used by the
// integral wrappers. gonum's mat package is 2-D only and the two-electron
// integral tensors are 4-D and 5-D, so the shape bookkeeping lives here; the
// elementwise kernels below delegate to gonum/floats.
package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dense is a contiguous row-major n-dimensional float64 array.
type Dense struct {
	shape []int
	data  []float64
}

// New allocates a zero-filled tensor with the given shape.
func New(shape ...int) *Dense {
	n := numElements(shape)
	return &Dense{shape: append([]int(nil), shape...), data: make([]float64, n)}
}

// FromSlice wraps data into a tensor with the given shape. The slice is
// borrowed, not copied; the caller must not alias it afterwards.
func FromSlice(data []float64, shape ...int) *Dense {
	if n := numElements(shape); n != len(data) {
		panic(fmt.Sprintf("tensor: shape %v needs %d elements, got %d", shape, n, len(data)))
	}
	return &Dense{shape: append([]int(nil), shape...), data: data}
}

// Scalar returns a 0-d tensor holding v.
func Scalar(v float64) *Dense {
	return &Dense{shape: []int{}, data: []float64{v}}
}

func numElements(shape []int) int {
	n := 1
	for _, s := range shape {
		if s < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in shape %v", shape))
		}
		n *= s
	}
	return n
}

// Shape returns the dimensions. The returned slice must not be modified.
func (t *Dense) Shape() []int { return t.shape }

// NDim returns the number of axes.
func (t *Dense) NDim() int { return len(t.shape) }

// Size returns the total number of elements.
func (t *Dense) Size() int { return len(t.data) }

// Data returns the backing slice in row-major order.
func (t *Dense) Data() []float64 { return t.data }

// Dim returns the size of axis i; negative i counts from the end.
func (t *Dense) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// At returns the element at the given multi-index.
func (t *Dense) At(idx ...int) float64 {
	return t.data[t.flatIndex(idx)]
}

// Set assigns the element at the given multi-index.
func (t *Dense) Set(v float64, idx ...int) {
	t.data[t.flatIndex(idx)] = v
}

func (t *Dense) flatIndex(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index %v does not match shape %v", idx, t.shape))
	}
	flat := 0
	for i, ix := range idx {
		if ix < 0 || ix >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		flat = flat*t.shape[i] + ix
	}
	return flat
}

// Clone returns a deep copy.
func (t *Dense) Clone() *Dense {
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return FromSlice(data, t.shape...)
}

// Reshape returns a tensor sharing t's data with a new shape. One dimension
// may be -1 and is inferred from the rest.
func (t *Dense) Reshape(shape ...int) *Dense {
	shape = append([]int(nil), shape...)
	infer := -1
	known := 1
	for i, s := range shape {
		if s == -1 {
			if infer >= 0 {
				panic("tensor: at most one inferred dimension")
			}
			infer = i
		} else {
			known *= s
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			panic(fmt.Sprintf("tensor: cannot infer dimension for shape %v from %d elements", shape, len(t.data)))
		}
		shape[infer] = len(t.data) / known
	} else if known != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape %v to %v", t.shape, shape))
	}
	return &Dense{shape: shape, data: t.data}
}

// SwapAxes returns a contiguous copy of t with axes a and b exchanged.
// Negative axes count from the end. A materialized copy keeps downstream
// index arithmetic on Data() valid.
func (t *Dense) SwapAxes(a, b int) *Dense {
	nd := len(t.shape)
	if a < 0 {
		a += nd
	}
	if b < 0 {
		b += nd
	}
	if a == b {
		return t.Clone()
	}
	outShape := append([]int(nil), t.shape...)
	outShape[a], outShape[b] = outShape[b], outShape[a]
	out := New(outShape...)

	strides := rowMajorStrides(t.shape)
	inStrides := append([]int(nil), strides...)
	inStrides[a], inStrides[b] = inStrides[b], inStrides[a]

	idx := make([]int, nd)
	for flat := range out.data {
		src := 0
		for d := 0; d < nd; d++ {
			src += idx[d] * inStrides[d]
		}
		out.data[flat] = t.data[src]
		for d := nd - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < outShape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// Scale multiplies every element by s in place and returns t.
func (t *Dense) Scale(s float64) *Dense {
	floats.Scale(s, t.data)
	return t
}

// Neg returns a negated copy.
func (t *Dense) Neg() *Dense {
	out := t.Clone()
	floats.Scale(-1, out.data)
	return out
}

// Add returns a + b elementwise. Shapes must match.
func Add(a, b *Dense) *Dense {
	mustSameShape("Add", a, b)
	out := a.Clone()
	floats.Add(out.data, b.data)
	return out
}

// Sub returns a - b elementwise.
func Sub(a, b *Dense) *Dense {
	mustSameShape("Sub", a, b)
	out := a.Clone()
	floats.Sub(out.data, b.data)
	return out
}

// MulElem returns a * b elementwise.
func MulElem(a, b *Dense) *Dense {
	mustSameShape("MulElem", a, b)
	out := a.Clone()
	floats.Mul(out.data, b.data)
	return out
}

// MulLeading multiplies a by b where b's element count divides a's: b is
// tiled along a's leading axes. Used to contract derivative tensors with an
// upstream gradient that lacks the derivative component axis.
func MulLeading(a, b *Dense) *Dense {
	if b.Size() == 0 || a.Size()%b.Size() != 0 {
		panic(fmt.Sprintf("tensor: MulLeading size mismatch %v vs %v", a.shape, b.shape))
	}
	out := a.Clone()
	n := b.Size()
	for off := 0; off < len(out.data); off += n {
		floats.Mul(out.data[off:off+n], b.data)
	}
	return out
}

func mustSameShape(op string, a, b *Dense) {
	if !EqualShapes(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: %s shape mismatch %v vs %v", op, a.shape, b.shape))
	}
}

// EqualShapes reports whether two shapes are identical.
func EqualShapes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Sum reduces t over the listed axes (negative axes allowed) and returns the
// tensor over the remaining axes in their original order. With no axes it
// returns a 0-d total.
func (t *Dense) Sum(axes ...int) *Dense {
	nd := len(t.shape)
	reduce := make([]bool, nd)
	if len(axes) == 0 {
		for i := range reduce {
			reduce[i] = true
		}
	}
	for _, ax := range axes {
		if ax < 0 {
			ax += nd
		}
		if ax < 0 || ax >= nd {
			panic(fmt.Sprintf("tensor: Sum axis out of range for shape %v", t.shape))
		}
		reduce[ax] = true
	}
	var outShape []int
	for i, s := range t.shape {
		if !reduce[i] {
			outShape = append(outShape, s)
		}
	}
	out := New(outShape...)

	outStrides := make([]int, nd)
	acc := 1
	for i := nd - 1; i >= 0; i-- {
		if reduce[i] {
			outStrides[i] = 0
		} else {
			outStrides[i] = acc
			acc *= t.shape[i]
		}
	}
	idx := make([]int, nd)
	for _, v := range t.data {
		dst := 0
		for d := 0; d < nd; d++ {
			dst += idx[d] * outStrides[d]
		}
		out.data[dst] += v
		for d := nd - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < t.shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// Value returns the single element of a 0-d or 1-element tensor.
func (t *Dense) Value() float64 {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("tensor: Value on tensor with %d elements", len(t.data)))
	}
	return t.data[0]
}

// Mat2D views a 2-D tensor as a gonum matrix backed by the same data.
func (t *Dense) Mat2D() *mat.Dense {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("tensor: Mat2D on shape %v", t.shape))
	}
	return mat.NewDense(t.shape[0], t.shape[1], t.data)
}

// FromMat copies a gonum matrix into a 2-D tensor.
func FromMat(m mat.Matrix) *Dense {
	r, c := m.Dims()
	out := New(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.data[i*c+j] = m.At(i, j)
		}
	}
	return out
}

// AllClose reports whether a and b have the same shape and elements within
// absolute tolerance tol.
func AllClose(a, b *Dense, tol float64) bool {
	if !EqualShapes(a.shape, b.shape) {
		return false
	}
	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > tol {
			return false
		}
	}
	return true
}

// Equal reports exact elementwise equality, used by the transposition-reuse
// tests that require bit-for-bit agreement.
func Equal(a, b *Dense) bool {
	if !EqualShapes(a.shape, b.shape) {
		return false
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}
