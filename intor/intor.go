// Package intor provides contracted Gaussian integrals over a packed basis
// environment and makes them differentiable with respect to the continuous
// basis parameters.
//
// Terminology:
//   - gauss: one primitive gaussian (several primitives contract into one shell)
//   - shell: one contracted basis function group with a fixed angular momentum
//   - ao: one atomic orbital, i.e. a shell split into its angular components
//     (a spherical p-shell gives 3 aos)
//
// The Wrapper owns the atm/bas/env tables in the layout the native evaluator
// expects and the index maps between shells, aos, and atoms. The integral
// entry points (Overlap, Kinetic, NuclAttr, ElRep, EvalAO and friends) return
// autodiff Variables whose backward rules are implemented by recursing into
// the derivative integrals, reusing transposed tensors where the derivative
// name algebra proves two requests equivalent.
package intor

import (
	"errors"
	"io"
	"log"
)

var (
	// ErrInvalidBasis marks a malformed atom or shell specification.
	ErrInvalidBasis = errors.New("intor: invalid basis")

	// ErrUnsupportedAngularMomentum marks a shell whose angular momentum
	// exceeds the normalization table (l > 6).
	ErrUnsupportedAngularMomentum = errors.New("intor: unsupported angular momentum")

	// ErrInvalidShellRange marks an out-of-bounds shell slice.
	ErrInvalidShellRange = errors.New("intor: invalid shell range")

	// ErrUnsupportedDerivativeOrder marks a derivative request beyond the
	// supported name algebra.
	ErrUnsupportedDerivativeOrder = errors.New("intor: unsupported derivative order")

	// ErrNotImplemented marks an operation that is deliberately not
	// supported, such as slicing an already-sliced wrapper.
	ErrNotImplemented = errors.New("intor: not implemented")
)

// DebugLogger receives trace lines from the integral drivers (operation
// names, tensor shapes, transpose reuse decisions). It is silent unless
// redirected with SetDebugOutput.
var DebugLogger = log.New(io.Discard, "INTOR: ", log.Ldate|log.Ltime)

// SetDebugOutput redirects the driver trace log, typically to os.Stderr or a
// calculation output file.
func SetDebugOutput(w io.Writer) {
	DebugLogger.SetOutput(w)
}
