// Package synth builds synthetic state-space scenarios for the recursion
// kernel's tests: local-level, AR(1) and constant-level series, with
// optional partial or all-missing tails. It is grounded on the teacher's
// model.Base LTI simulator (propagate/observe) and its noise package
// (Gaussian, Zero, None samplers), the same way the teacher's own tests
// build the systems they filter.
package synth

import (
	"math"

	"gonum.org/v1/gonum/mat"

	filter "github.com/go-ssm/kalman"
	"github.com/go-ssm/kalman/model"
	"github.com/go-ssm/kalman/noise"
	"github.com/go-ssm/kalman/ssm"
)

// Scenario bundles a state-space container (not yet initialized) with the
// latent truth trajectory used to generate it and the observed series
// actually handed to Model.New, so a test can assert against ground truth
// the filter itself never sees.
type Scenario struct {
	Z, D, H, Trans, C, Sel, Q *ssm.Sequence
	Y                         *mat.Dense // p x nobs, possibly NaN-masked
	Truth                     *mat.Dense // m x nobs, unmasked latent state
}

// NewModel wraps the scenario's sequences and observed series into an
// uninitialized ssm.Model.
func (s *Scenario) NewModel() (*ssm.Model, error) {
	return ssm.New(s.Z, s.D, s.H, s.Trans, s.C, s.Sel, s.Q, s.Y)
}

// LocalLevel builds the canonical random-walk-plus-noise scenario:
// x_t = x_{t-1} + η_t, y_t = x_t + ε_t, with η ~ N(0, sigmaEta²) and
// ε ~ N(0, sigmaEps²).
func LocalLevel(nobs int, sigmaEta, sigmaEps float64, seed uint64) (*Scenario, error) {
	eta, err := noise.NewGaussian(make([]float64, 1), mat.NewSymDense(1, []float64{sigmaEta * sigmaEta}), seed)
	if err != nil {
		return nil, err
	}
	return simulate(nobs, mat.NewDense(1, 1, []float64{1}), eta, sigmaEta*sigmaEta, sigmaEps, seed+1)
}

// AR1 builds a stationary AR(1)-plus-noise scenario: x_t = phi x_{t-1} +
// η_t, y_t = x_t + ε_t. |phi| < 1 is required for InitializeStationary to
// have a fixed point, but is not checked here.
func AR1(nobs int, phi, sigmaEta, sigmaEps float64, seed uint64) (*Scenario, error) {
	eta, err := noise.NewGaussian(make([]float64, 1), mat.NewSymDense(1, []float64{sigmaEta * sigmaEta}), seed)
	if err != nil {
		return nil, err
	}
	return simulate(nobs, mat.NewDense(1, 1, []float64{phi}), eta, sigmaEta*sigmaEta, sigmaEps, seed+1)
}

// ConstantLevel builds a degenerate local-level scenario with no process
// noise at all: x_t = x_{t-1}, y_t = x_t + ε_t, i.e. an unknown constant
// observed through noise. Unlike LocalLevel/AR1, η is sampled from
// noise.None rather than a zero-valued noise.Gaussian/noise.Zero: None's
// Sample() returns a zero-length vector, so model.Base.Propagate's own
// length check (it only adds the noise vector when it matches the state
// dimension) skips the addition entirely, which is exactly the "no
// process noise" case None documents itself as representing.
func ConstantLevel(nobs int, sigmaEps float64, seed uint64) (*Scenario, error) {
	eta, err := noise.NewNone()
	if err != nil {
		return nil, err
	}
	return simulate(nobs, mat.NewDense(1, 1, []float64{1}), eta, 0, sigmaEps, seed)
}

// simulate drives model.Base.Propagate/Observe one step at a time, the way
// the teacher's own fixtures exercise Base, to build a scalar-state,
// scalar-observation scenario around transition matrix a. eta supplies the
// process noise sample each step; qVal is the process noise variance
// reported in the resulting Scenario's Q sequence (distinct from eta's own
// covariance when eta is noise.None, which has none).
func simulate(nobs int, a *mat.Dense, eta filter.Noise, qVal, sigmaEps float64, seed uint64) (*Scenario, error) {
	const m, p = 1, 1

	b := mat.NewDense(m, p, nil)
	c := mat.NewDense(p, m, []float64{1})
	d := mat.NewDense(p, p, nil)

	base, err := model.NewBase(a, b, c, d)
	if err != nil {
		return nil, err
	}

	eps, err := noise.NewGaussian(make([]float64, p), mat.NewSymDense(p, []float64{sigmaEps * sigmaEps}), seed)
	if err != nil {
		return nil, err
	}

	// model.Base.Propagate/Observe require a control vector whose length
	// matches the observation dimension (the teacher's own Dims()
	// convention, see DESIGN.md); B and D are zero so it never
	// contributes, and noise.Zero's Sample() is exactly the zero-valued,
	// correctly-sized dummy that quirk calls for.
	ctrl, err := noise.NewZero(p)
	if err != nil {
		return nil, err
	}
	u := ctrl.Sample()

	truth := mat.NewDense(m, nobs, nil)
	y := mat.NewDense(p, nobs, nil)

	x := mat.NewVecDense(m, nil)
	for t := 0; t < nobs; t++ {
		truth.SetCol(t, x.RawVector().Data)

		obs, err := base.Observe(x, u, eps.Sample())
		if err != nil {
			return nil, err
		}
		for i := 0; i < p; i++ {
			y.Set(i, t, obs.AtVec(i))
		}

		next, err := base.Propagate(x, u, eta.Sample())
		if err != nil {
			return nil, err
		}
		x = mat.NewVecDense(m, nil)
		for i := 0; i < m; i++ {
			x.SetVec(i, next.AtVec(i))
		}
	}

	return &Scenario{
		Z:     ssm.NewSequence(c),
		D:     ssm.NewSequence(mat.NewDense(p, 1, nil)),
		H:     ssm.NewSequence(mat.NewDense(p, p, []float64{sigmaEps * sigmaEps})),
		Trans: ssm.NewSequence(a),
		C:     ssm.NewSequence(mat.NewDense(m, 1, nil)),
		Sel:   ssm.NewSequence(mat.NewDense(m, m, []float64{1})),
		Q:     ssm.NewSequence(mat.NewDense(m, m, []float64{qVal})),
		Y:     y,
		Truth: truth,
	}, nil
}

// MaskPartial sets y[row][t] to NaN for every (row, t) named in pattern,
// simulating intermittently missing observations.
func MaskPartial(y *mat.Dense, pattern map[int][]int) {
	for t, rows := range pattern {
		for _, row := range rows {
			y.Set(row, t, math.NaN())
		}
	}
}

// MaskAllFromTail sets every row of y to NaN for t >= from, simulating an
// all-missing forecast tail.
func MaskAllFromTail(y *mat.Dense, from int) {
	p, nobs := y.Dims()
	for t := from; t < nobs; t++ {
		for i := 0; i < p; i++ {
			y.Set(i, t, math.NaN())
		}
	}
}
