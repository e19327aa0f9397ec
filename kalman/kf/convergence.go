package kf

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/go-ssm/kalman/la"
)

// checkConvergence implements C6: after phase P, for a time-invariant
// model with no missing observations at t, tests whether the covariance
// recursion has reached its fixed point. D = P_t − P_{t+1}, flattened to a
// length-m² vector; convergence is declared when |D'·D| < tolerance, via
// the same unconjugated dot-product reduction the spec calls out for the
// complex-field path (see DESIGN.md for the resolution of that open
// question in a real-only instantiation).
func (f *Filter) checkConvergence(t int) {
	m := f.model.M()
	pt := f.ws.PriorCov(t)
	pNext := f.ws.NextCov(t)

	d := mat.NewVecDense(m*m, nil)
	k := 0
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			d.SetVec(k, pt.At(i, j)-pNext.At(i, j))
			k++
		}
	}

	mag := la.Dot(d, d)
	if math.Abs(mag) < f.cfg.Tolerance {
		f.ws.snapshot(t)
	}
}
