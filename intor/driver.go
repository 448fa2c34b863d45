package intor

import (
	"fmt"
	"strings"

	"github.com/sofroniewn/dqc/cint"
	"github.com/sofroniewn/dqc/tensor"
)

// The raw drivers below invoke the native evaluator over the wrapper's whole
// shell range in one batched call and reshape the buffer into the caller's
// axis convention. No gradient is tracked here; the differentiable layer in
// operator.go sits on top.

func intxeOpName(x int, shortname string, spherical bool) string {
	suffix := ""
	if shortname != "" {
		suffix = "_" + shortname
	}
	cartsph := "cart"
	if spherical {
		cartsph = "sph"
	}
	return fmt.Sprintf("int%de%s_%s", x, suffix, cartsph)
}

func evalGTOOpName(shortname string, spherical bool) string {
	sname := ""
	if shortname != "" {
		sname = "_" + shortname
	}
	suffix := "_cart"
	if spherical {
		suffix = "_sph"
	}
	return "GTOval" + sname + suffix
}

func pow3(n int) int {
	out := 1
	for i := 0; i < n; i++ {
		out *= 3
	}
	return out
}

// Int1eRaw computes the one-electron integral named by shortname over all
// shell pairs of w and returns the (3, ..., nao, nao) tensor, one leading
// axis of size 3 per "ip" marker. The last two axes follow the (row, column)
// convention, i.e. the native output is transposed.
func Int1eRaw(w Wrapper, shortname string) (*tensor.Dense, error) {
	opname := intxeOpName(1, shortname, w.Spherical())
	nIP := strings.Count(shortname, "ip")
	ncomp := pow3(nIP)
	nao := w.NAO()
	sh0, sh1 := w.ShellIdxs()
	aoLoc := w.FullShellToAOLoc()

	opt, err := w.Evaluator().Optimizer(opname, w.Tables())
	if err != nil {
		return nil, fmt.Errorf("int1e %s: %w", opname, err)
	}
	defer opt.Release()

	buf := make([]float64, ncomp*nao*nao)
	shls := [4]int{sh0, sh1, sh0, sh1}
	if err := w.Evaluator().Int1e(opname, buf, ncomp, shls, aoLoc, opt, w.Tables()); err != nil {
		return nil, fmt.Errorf("int1e %s: %w", opname, err)
	}
	DebugLogger.Printf("int1e %s over shells [%d, %d): %d components, %d aos", opname, sh0, sh1, ncomp, nao)

	shape := make([]int, 0, nIP+2)
	for i := 0; i < nIP; i++ {
		shape = append(shape, cint.NDim)
	}
	shape = append(shape, nao, nao)
	// the native buffer is (components, column, row)
	return tensor.FromSlice(buf, shape...).SwapAxes(-2, -1), nil
}

// Int2eRaw computes the two-electron integral named by shortname over all
// shell quadruplets of w with the plain s1 fill and returns the
// (3, ..., nao, nao, nao, nao) tensor.
func Int2eRaw(w Wrapper, shortname string) (*tensor.Dense, error) {
	opname := intxeOpName(2, shortname, w.Spherical())
	nIP := strings.Count(shortname, "ip")
	ncomp := pow3(nIP)
	nao := w.NAO()
	sh0, sh1 := w.ShellIdxs()
	aoLoc := w.FullShellToAOLoc()

	opt, err := w.Evaluator().Optimizer(opname, w.Tables())
	if err != nil {
		return nil, fmt.Errorf("int2e %s: %w", opname, err)
	}
	defer opt.Release()

	buf := make([]float64, ncomp*nao*nao*nao*nao)
	shls := [8]int{sh0, sh1, sh0, sh1, sh0, sh1, sh0, sh1}
	if err := w.Evaluator().Int2e(opname, buf, ncomp, shls, aoLoc, opt, w.Tables()); err != nil {
		return nil, fmt.Errorf("int2e %s: %w", opname, err)
	}
	DebugLogger.Printf("int2e %s over shells [%d, %d): %d components, %d aos", opname, sh0, sh1, ncomp, nao)

	shape := make([]int, 0, nIP+4)
	for i := 0; i < nIP; i++ {
		shape = append(shape, cint.NDim)
	}
	shape = append(shape, nao, nao, nao, nao)
	return tensor.FromSlice(buf, shape...), nil
}

// EvalGTORaw evaluates the orbitals (or the derivative named by shortname)
// on the grid, rgrid holding (ngrid, 3) coordinates, and returns the
// (3, ..., nao, ngrid) tensor. Only leading "ip" markers add output axes.
func EvalGTORaw(w Wrapper, shortname string, rgrid *tensor.Dense) (*tensor.Dense, error) {
	if rgrid.NDim() != 2 || rgrid.Dim(1) != cint.NDim {
		return nil, fmt.Errorf("%w: grid shape %v, want (ngrid, %d)", ErrInvalidBasis, rgrid.Shape(), cint.NDim)
	}
	opname := evalGTOOpName(shortname, w.Spherical())
	nIP := countRunStart(shortname, "ip")
	ncomp := pow3(nIP)
	nao := w.NAO()
	ngrid := rgrid.Dim(0)
	sh0, sh1 := w.ShellIdxs()
	aoLoc := w.FullShellToAOLoc()

	buf := make([]float64, ncomp*nao*ngrid)
	shls := [2]int{sh0, sh1}
	if err := w.Evaluator().EvalGTO(opname, buf, shls, aoLoc, rgrid.Data(), w.Tables()); err != nil {
		return nil, fmt.Errorf("evalgto %s: %w", opname, err)
	}
	DebugLogger.Printf("evalgto %s over shells [%d, %d): %d components, %d aos, %d points", opname, sh0, sh1, ncomp, nao, ngrid)

	shape := make([]int, 0, nIP+2)
	for i := 0; i < nIP; i++ {
		shape = append(shape, cint.NDim)
	}
	shape = append(shape, nao, ngrid)
	return tensor.FromSlice(buf, shape...), nil
}
