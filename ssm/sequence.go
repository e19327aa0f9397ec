package ssm

import "gonum.org/v1/gonum/mat"

// Sequence is a system matrix whose trailing time dimension is either 1
// (time-invariant) or nobs (time-varying), matching every one of Z, d, H,
// T, c, R, Q in the state-space container.
type Sequence struct {
	mats      []*mat.Dense
	invariant bool
}

// NewSequence wraps one or more slices as a time-indexed system matrix.
// A single slice is time-invariant; nobs slices make it time-varying.
// Any other length is a caller error and is rejected by Model.New.
func NewSequence(mats ...*mat.Dense) *Sequence {
	return &Sequence{mats: mats, invariant: len(mats) == 1}
}

// At returns the slice effective at period t.
func (s *Sequence) At(t int) *mat.Dense {
	if s.invariant {
		return s.mats[0]
	}
	return s.mats[t]
}

// Len returns the number of slices actually stored (1 or nobs).
func (s *Sequence) Len() int { return len(s.mats) }

// Invariant reports whether the sequence is time-invariant.
func (s *Sequence) Invariant() bool { return s.invariant }

// validLen reports whether the sequence's length is legal given nobs:
// it must be either 1 or nobs.
func (s *Sequence) validLen(nobs int) bool {
	return len(s.mats) == 1 || len(s.mats) == nobs
}
