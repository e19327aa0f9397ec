package kf

import (
	"gonum.org/v1/gonum/mat"

	"github.com/go-ssm/kalman/estimate"
)

// Workspace owns every output buffer and scratch matrix the recursion
// kernel touches during a step. Under the NO_* conservation bits, the
// per-t output families collapse from nobs columns to a small rotating
// buffer: 2 columns for forecast/filtered (this step, previous step), 3
// for predicted (predict writes t+1 while t is still needed).
type Workspace struct {
	p, m, nobs int
	conserve   Conserve
	burn       int

	forecast         []*mat.VecDense
	forecastError    []*mat.VecDense
	forecastErrorCov []*mat.SymDense
	det              []float64

	filteredState    []*mat.VecDense
	filteredStateCov []*mat.SymDense

	predictedState    []*mat.VecDense
	predictedStateCov []*mat.SymDense

	loglik      []float64
	loglikAccum bool

	// scratch, fixed at the container's full p/m dimensions regardless of
	// the effective p_eff a given step's missing-observation pattern uses.
	tmp0 *mat.Dense // m x m
	tmp1 *mat.Dense // m x p
	tmp2 *mat.VecDense
	tmp3 *mat.Dense // p x m
	fac  *mat.SymDense
	ipiv []int
	work *mat.Dense // p x p

	// rawPredCov holds the raw (possibly asymmetric, by floating-point
	// rounding) T_t P_{t|t} T_t' + Q*_t computed by predict, before
	// symmetrize projects it into the published NextCov. Scratch between
	// the two phases of a single step; not meaningful once symmetrize has
	// run.
	rawPredCov *mat.Dense // m x m

	converged   bool
	convergedAt int
	snapF       *mat.SymDense
	snapPfilt   *mat.SymDense
	snapPpred   *mat.SymDense
	snapDet     float64
}

func newWorkspace(p, m, nobs int, cfg Config) *Workspace {
	fCols := nobs
	if cfg.Conserve&NoForecast != 0 {
		fCols = 2
	}
	ffCols := nobs
	if cfg.Conserve&NoFiltered != 0 {
		ffCols = 2
	}
	pCols := nobs + 1
	if cfg.Conserve&NoPredicted != 0 {
		pCols = 3
	}
	lCols := nobs
	accum := false
	if cfg.Conserve&NoLikelihood != 0 {
		lCols = 1
		accum = true
	}

	w := &Workspace{
		p: p, m: m, nobs: nobs,
		conserve: cfg.Conserve, burn: cfg.LoglikelihoodBurn,
		loglikAccum: accum,
		convergedAt: -1,
	}

	w.forecast = makeVecs(fCols, p)
	w.forecastError = makeVecs(fCols, p)
	w.forecastErrorCov = makeSyms(fCols, p)
	w.det = make([]float64, fCols)

	w.filteredState = makeVecs(ffCols, m)
	w.filteredStateCov = makeSyms(ffCols, m)

	w.predictedState = makeVecs(pCols, m)
	w.predictedStateCov = makeSyms(pCols, m)

	w.loglik = make([]float64, lCols)

	w.tmp0 = mat.NewDense(m, m, nil)
	w.tmp1 = mat.NewDense(m, p, nil)
	w.tmp2 = mat.NewVecDense(p, nil)
	w.tmp3 = mat.NewDense(p, m, nil)
	w.fac = mat.NewSymDense(p, nil)
	w.ipiv = make([]int, p)
	w.work = mat.NewDense(p, p, nil)
	w.rawPredCov = mat.NewDense(m, m, nil)

	w.snapF = mat.NewSymDense(p, nil)
	w.snapPfilt = mat.NewSymDense(m, nil)
	w.snapPpred = mat.NewSymDense(m, nil)

	return w
}

func makeVecs(n, size int) []*mat.VecDense {
	out := make([]*mat.VecDense, n)
	for i := range out {
		out[i] = mat.NewVecDense(size, nil)
	}
	return out
}

func makeSyms(n, size int) []*mat.SymDense {
	out := make([]*mat.SymDense, n)
	for i := range out {
		out[i] = mat.NewSymDense(size, nil)
	}
	return out
}

func (w *Workspace) fIdx(t int) int {
	if w.conserve&NoForecast != 0 {
		return 1
	}
	return t
}

func (w *Workspace) ffIdx(t int) int {
	if w.conserve&NoFiltered != 0 {
		return 1
	}
	return t
}

func (w *Workspace) curPredIdx(t int) int {
	if w.conserve&NoPredicted != 0 {
		return 1
	}
	return t
}

func (w *Workspace) nextPredIdx(t int) int {
	if w.conserve&NoPredicted != 0 {
		return 2
	}
	return t + 1
}

// PriorState/PriorCov are a_t, P_t: the predicted state produced by the
// previous step's predict phase (or the seeded a1/P1 at t=0).
func (w *Workspace) PriorState(t int) *mat.VecDense { return w.predictedState[w.curPredIdx(t)] }
func (w *Workspace) PriorCov(t int) *mat.SymDense   { return w.predictedStateCov[w.curPredIdx(t)] }

func (w *Workspace) NextState(t int) *mat.VecDense { return w.predictedState[w.nextPredIdx(t)] }
func (w *Workspace) NextCov(t int) *mat.SymDense   { return w.predictedStateCov[w.nextPredIdx(t)] }

// PredictedState/PredictedStateCov are the public accessors for a_{t}, P_t,
// i.e. the prior produced by the previous step (an alias of PriorState).
func (w *Workspace) PredictedState(t int) *mat.VecDense { return w.PriorState(t) }
func (w *Workspace) PredictedStateCov(t int) *mat.SymDense { return w.PriorCov(t) }

func (w *Workspace) Forecast(t int) *mat.VecDense            { return w.forecast[w.fIdx(t)] }
func (w *Workspace) ForecastError(t int) *mat.VecDense       { return w.forecastError[w.fIdx(t)] }
func (w *Workspace) ForecastErrorCov(t int) *mat.SymDense    { return w.forecastErrorCov[w.fIdx(t)] }
func (w *Workspace) Det(t int) float64                       { return w.det[w.fIdx(t)] }
func (w *Workspace) setDet(t int, v float64)                 { w.det[w.fIdx(t)] = v }

func (w *Workspace) FilteredState(t int) *mat.VecDense    { return w.filteredState[w.ffIdx(t)] }
func (w *Workspace) FilteredStateCov(t int) *mat.SymDense { return w.filteredStateCov[w.ffIdx(t)] }

func (w *Workspace) seedInitial(a1 *mat.VecDense, p1 *mat.SymDense) {
	idx := w.curPredIdx(0)
	w.predictedState[idx].CopyVec(a1)
	w.predictedStateCov[idx].CopySym(p1)
}

func (w *Workspace) setLoglik(t int, val float64) {
	if w.loglikAccum {
		if t >= w.burn {
			w.loglik[0] += val
		}
		return
	}
	w.loglik[t] = val
}

// Loglik returns ℓ_t; under NO_LIKELIHOOD this is the running accumulator,
// not the per-step value (history is not retained).
func (w *Workspace) Loglik(t int) float64 {
	if w.loglikAccum {
		return w.loglik[0]
	}
	return w.loglik[t]
}

// TotalLoglik returns Σ_{t>=burn} ℓ_t.
func (w *Workspace) TotalLoglik() float64 {
	if w.loglikAccum {
		return w.loglik[0]
	}
	sum := 0.0
	for t := w.burn; t < len(w.loglik); t++ {
		sum += w.loglik[t]
	}
	return sum
}

// rotate slides rotating-buffer columns forward at the end of a step:
// column 1 -> column 0 for conserved forecast/filtered families, and
// additionally column 2 -> column 1 for conserved predicted (since predict
// writes t+1).
func (w *Workspace) rotate() {
	if w.conserve&NoForecast != 0 {
		w.forecast[0].CopyVec(w.forecast[1])
		w.forecastError[0].CopyVec(w.forecastError[1])
		w.forecastErrorCov[0].CopySym(w.forecastErrorCov[1])
		w.det[0] = w.det[1]
	}
	if w.conserve&NoFiltered != 0 {
		w.filteredState[0].CopyVec(w.filteredState[1])
		w.filteredStateCov[0].CopySym(w.filteredStateCov[1])
	}
	if w.conserve&NoPredicted != 0 {
		w.predictedState[0].CopyVec(w.predictedState[1])
		w.predictedStateCov[0].CopySym(w.predictedStateCov[1])
		w.predictedState[1].CopyVec(w.predictedState[2])
		w.predictedStateCov[1].CopySym(w.predictedStateCov[2])
	}
}

func (w *Workspace) snapshot(t int) {
	w.snapF.CopySym(w.ForecastErrorCov(t))
	w.snapPfilt.CopySym(w.FilteredStateCov(t))
	w.snapPpred.CopySym(w.NextCov(t))
	w.snapDet = w.Det(t)
	w.converged = true
	w.convergedAt = t
}

// Converged reports whether the steady state has been detected, and at
// which period it was first detected (-1 if not yet).
func (w *Workspace) Converged() (bool, int) { return w.converged, w.convergedAt }

// FilteredEstimate returns the filtered (posterior) state a_{t|t}, P_{t|t}
// as a defensively-copied value object, in the teacher's own
// estimate.Base copy-on-read discipline.
func (w *Workspace) FilteredEstimate(t int) (*estimate.Base, error) {
	return estimate.NewBaseWithCov(w.FilteredState(t), w.FilteredStateCov(t))
}

// PredictedEstimate returns the predicted (prior) state a_t, P_t as a
// defensively-copied value object.
func (w *Workspace) PredictedEstimate(t int) (*estimate.Base, error) {
	return estimate.NewBaseWithCov(w.PredictedState(t), w.PredictedStateCov(t))
}

// ForecastEstimate returns the one-step-ahead forecast ŷ_t, F_t as a
// defensively-copied value object.
func (w *Workspace) ForecastEstimate(t int) (*estimate.Base, error) {
	return estimate.NewBaseWithCov(w.Forecast(t), w.ForecastErrorCov(t))
}
