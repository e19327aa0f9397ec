// Package kferr holds the error taxonomy shared by the state-space
// container and the recursion kernel: shape/validation errors raised at
// construction, the not-initialized guard before the first step, numerical
// errors surfaced with the failing time index, unsupported filter methods,
// and the benign end-of-sequence signal from Step.
package kferr

import "fmt"

// InvalidShapeError reports a system matrix whose dimensions don't match
// what the container expects.
type InvalidShapeError struct {
	Name     string
	Expected [2]int
	Got      [2]int
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("kf: invalid shape for %s: expected %dx%d, got %dx%d",
		e.Name, e.Expected[0], e.Expected[1], e.Got[0], e.Got[1])
}

// NotInitializedError is raised when a filter is run against a model that
// has not been given an initial state via one of InitializeKnown,
// InitializeApproximateDiffuse or InitializeStationary.
type NotInitializedError struct{}

func (e *NotInitializedError) Error() string {
	return "kf: state-space model is not initialized"
}

// InvalidMethodError is raised when a caller selects a filter method other
// than CONVENTIONAL; the other bits are reserved hooks per spec.
type InvalidMethodError struct {
	Method uint32
}

func (e *InvalidMethodError) Error() string {
	return fmt.Sprintf("kf: unsupported filter method: 0x%02x", e.Method)
}

// LinAlgError reports a factorization failure at a specific time index:
// a non-positive-definite forecast-error covariance (Cholesky path) or a
// singular one (LU path).
type LinAlgError struct {
	Period int
	Kind   string
	Err    error
}

func (e *LinAlgError) Error() string {
	return fmt.Sprintf("kf: linear algebra error at t=%d (%s): %v", e.Period, e.Kind, e.Err)
}

func (e *LinAlgError) Unwrap() error { return e.Err }

// MissingSolverError is raised by InitializeStationary when called with a
// nil LyapunovSolver. The container defines the pluggable interface but
// does not implement it (see DESIGN.md); callers must supply a concrete
// solver.
type MissingSolverError struct{}

func (e *MissingSolverError) Error() string {
	return "kf: InitializeStationary requires a non-nil LyapunovSolver"
}

// EndOfSequenceError is returned by Filter.Step once t has advanced past
// nobs. It is a benign termination signal for Run, not a failure.
type EndOfSequenceError struct{}

func (e *EndOfSequenceError) Error() string { return "kf: end of sequence" }
