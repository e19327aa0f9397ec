// Package ssm implements the state-space container (component C2 of the
// Kalman filter engine): it stores and validates the system matrices of a
// possibly time-varying linear Gaussian state-space model, derives the
// missing-observation mask, computes the selected state covariance
// R Q R', and offers the three initialization strategies the recursion
// kernel needs before it can take a first step.
package ssm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/go-ssm/kalman/kferr"
	"github.com/go-ssm/kalman/la"
	"github.com/go-ssm/kalman/matrix"
)

// Model is the state-space container. Dimensions follow the spec's
// notation: p = k_endog, m = k_states, r = k_posdef, nobs = length of the
// observed series. System matrices are borrowed, not copied: the caller
// may mutate them between filter runs, and Model reads them afresh at
// every step (this is how a likelihood-maximization loop drives it). The
// one exception is R Q R' when both R and Q are time-invariant: New
// computes it once, so later changes to R or Q do not reach it.
type Model struct {
	p, m, r, nobs int

	obs *mat.Dense // p x nobs

	z     *Sequence // p x m
	d     *Sequence // p x 1
	h     *Sequence // p x p
	trans *Sequence // m x m
	c     *Sequence // m x 1
	sel   *Sequence // m x r
	q     *Sequence // r x r

	selStateCov     []*mat.SymDense // Q*_t, length 1 or nobs
	selStateCovFull bool            // true iff selection or state_cov is time-varying

	missing  [][]bool // [t][p]
	nmissing []int    // [nobs]

	timeInvariant bool

	a1          *mat.VecDense
	p1          *mat.SymDense
	initialized bool
}

// New validates the supplied system matrices and returns a Model. p is
// derived from y's row count, m and r from sel's dimensions, nobs from y's
// column count. Every sequence's trailing dimension must be 1 or nobs.
func New(z, d, h, trans, c, sel, q *Sequence, y *mat.Dense) (*Model, error) {
	p, nobs := y.Dims()
	m, r := sel.At(0).Dims()

	checks := []struct {
		name string
		seq  *Sequence
		rows int
		cols int
	}{
		{"design Z", z, p, m},
		{"obs_intercept d", d, p, 1},
		{"obs_cov H", h, p, p},
		{"transition T", trans, m, m},
		{"state_intercept c", c, m, 1},
		{"selection R", sel, m, r},
		{"state_cov Q", q, r, r},
	}
	for _, chk := range checks {
		if !chk.seq.validLen(nobs) {
			return nil, &kferr.InvalidShapeError{Name: chk.name + " (time dim)", Expected: [2]int{1, nobs}, Got: [2]int{chk.seq.Len(), 0}}
		}
		for i := 0; i < chk.seq.Len(); i++ {
			rows, cols := chk.seq.mats[i].Dims()
			if rows != chk.rows || cols != chk.cols {
				return nil, &kferr.InvalidShapeError{Name: chk.name, Expected: [2]int{chk.rows, chk.cols}, Got: [2]int{rows, cols}}
			}
		}
	}

	mdl := &Model{
		p: p, m: m, r: r, nobs: nobs,
		obs: y,
		z: z, d: d, h: h, trans: trans, c: c, sel: sel, q: q,
	}
	mdl.timeInvariant = z.Invariant() && d.Invariant() && h.Invariant() &&
		trans.Invariant() && c.Invariant() && sel.Invariant() && q.Invariant()

	mdl.computeMissing()
	mdl.computeSelectedStateCov()

	return mdl, nil
}

func (mdl *Model) computeMissing() {
	maskCols := mat.NewDense(mdl.p, mdl.nobs, nil)
	mdl.missing = make([][]bool, mdl.nobs)
	for t := 0; t < mdl.nobs; t++ {
		row := make([]bool, mdl.p)
		for i := 0; i < mdl.p; i++ {
			if math.IsNaN(mdl.obs.At(i, t)) {
				row[i] = true
				maskCols.Set(i, t, 1)
			}
		}
		mdl.missing[t] = row
	}
	sums := matrix.ColSums(maskCols)
	mdl.nmissing = make([]int, mdl.nobs)
	for t, s := range sums {
		mdl.nmissing[t] = int(s)
	}
}

func (mdl *Model) computeSelectedStateCov() {
	mdl.selStateCovFull = !mdl.sel.Invariant() || !mdl.q.Invariant()
	n := 1
	if mdl.selStateCovFull {
		n = mdl.nobs
	}
	mdl.selStateCov = make([]*mat.SymDense, n)
	for t := 0; t < n; t++ {
		mdl.selStateCov[t] = mdl.computeQStar(t)
	}
}

func (mdl *Model) computeQStar(t int) *mat.SymDense {
	r := mdl.sel.At(t)
	q := mdl.q.At(t)
	rows, cols := r.Dims()
	tmp := mat.NewDense(rows, cols, nil)
	la.Gemm(1, false, false, r, q, 0, tmp)
	out := mat.NewDense(rows, rows, nil)
	la.Gemm(1, false, true, tmp, r, 0, out)
	sym := mat.NewSymDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := i; j < rows; j++ {
			sym.SetSym(i, j, out.At(i, j))
		}
	}
	return sym
}

// SelectedStateCov returns Q*_t = R_t Q_t R_t', recomputed every call when
// either R or Q is time-varying and cached otherwise.
func (mdl *Model) SelectedStateCov(t int) *mat.SymDense {
	if mdl.selStateCovFull {
		mdl.selStateCov[t] = mdl.computeQStar(t)
		return mdl.selStateCov[t]
	}
	return mdl.selStateCov[0]
}

// InitializeKnown sets a known initial state and covariance.
func (mdl *Model) InitializeKnown(a1 mat.Vector, p1 mat.Symmetric) error {
	if a1.Len() != mdl.m {
		return &kferr.InvalidShapeError{Name: "initial_state", Expected: [2]int{mdl.m, 1}, Got: [2]int{a1.Len(), 1}}
	}
	if p1.SymmetricDim() != mdl.m {
		return &kferr.InvalidShapeError{Name: "initial_state_cov", Expected: [2]int{mdl.m, mdl.m}, Got: [2]int{p1.SymmetricDim(), p1.SymmetricDim()}}
	}
	a := mat.NewVecDense(mdl.m, nil)
	a.CloneFromVec(a1)
	p := mat.NewSymDense(mdl.m, nil)
	p.CopySym(p1)
	mdl.a1, mdl.p1, mdl.initialized = a, p, true
	return nil
}

// InitializeApproximateDiffuse sets a₁ = 0 and P₁ = variance·I. This loses
// precision relative to an exact-diffuse treatment (not implemented, see
// spec Non-goals) and is intended for exploratory use only.
func (mdl *Model) InitializeApproximateDiffuse(variance float64) error {
	if variance <= 0 {
		variance = 1e2
	}
	a := mat.NewVecDense(mdl.m, nil)
	p := mat.NewSymDense(mdl.m, nil)
	for i := 0; i < mdl.m; i++ {
		p.SetSym(i, i, variance)
	}
	mdl.a1, mdl.p1, mdl.initialized = a, p, true
	return nil
}

// LyapunovSolver solves the discrete Lyapunov equation X = A X A' + Q for
// X, as used by InitializeStationary. The engine itself implements no
// solver (per spec design notes, "external Lyapunov solver" is an
// explicit re-architecting pattern); callers supply one.
type LyapunovSolver interface {
	Solve(a *mat.Dense, q *mat.SymDense) (*mat.SymDense, error)
}

// InitializeStationary sets a₁ = 0 and solves P₁ − T₀ P₁ T₀' = Q*₀ for P₁
// via the supplied solver. Index 0 is the adopted convention for which
// slice of a time-varying T and Q*₀ feeds the equation (see DESIGN.md).
func (mdl *Model) InitializeStationary(solver LyapunovSolver) error {
	if solver == nil {
		return &kferr.MissingSolverError{}
	}
	qstar := mdl.SelectedStateCov(0)
	p1, err := solver.Solve(mdl.trans.At(0), qstar)
	if err != nil {
		return err
	}
	mdl.a1 = mat.NewVecDense(mdl.m, nil)
	mdl.p1 = p1
	mdl.initialized = true
	return nil
}

// Accessors used by the recursion kernel and the missing-observation
// dispatcher. Each reads the container's matrices afresh; none copy, since
// the kernel treats every view as read-only within a step.

func (mdl *Model) P() int    { return mdl.p }
func (mdl *Model) M() int    { return mdl.m }
func (mdl *Model) R() int    { return mdl.r }
func (mdl *Model) Nobs() int { return mdl.nobs }

func (mdl *Model) TimeInvariant() bool { return mdl.timeInvariant }
func (mdl *Model) Initialized() bool   { return mdl.initialized }

func (mdl *Model) InitialState() *mat.VecDense    { return mdl.a1 }
func (mdl *Model) InitialStateCov() *mat.SymDense { return mdl.p1 }

func (mdl *Model) NMissing(t int) int    { return mdl.nmissing[t] }
func (mdl *Model) MissingMask(t int) []bool { return mdl.missing[t] }

func (mdl *Model) Obs(t int) *mat.VecDense {
	return mat.VecDenseCopyOf(mdl.obs.ColView(t))
}

func (mdl *Model) Design(t int) *mat.Dense         { return mdl.z.At(t) }
func (mdl *Model) ObsIntercept(t int) *mat.VecDense { return colVec(mdl.d.At(t)) }
func (mdl *Model) ObsCov(t int) *mat.SymDense       { return denseToSym(mdl.h.At(t)) }
func (mdl *Model) Transition(t int) *mat.Dense      { return mdl.trans.At(t) }
func (mdl *Model) StateIntercept(t int) *mat.VecDense { return colVec(mdl.c.At(t)) }

func colVec(d *mat.Dense) *mat.VecDense {
	rows, _ := d.Dims()
	v := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		v.SetVec(i, d.At(i, 0))
	}
	return v
}

func denseToSym(d *mat.Dense) *mat.SymDense {
	n, _ := d.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, d.At(i, j))
		}
	}
	return s
}
