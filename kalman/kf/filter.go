// Package kf implements the Kalman recursion step kernel (C4), the
// missing-observation dispatcher (C5), the steady-state convergence
// controller (C6) and the iteration driver (C7) on top of an
// github.com/go-ssm/kalman/ssm.Model. Filter is bound to exactly one
// model and owns a Workspace of output buffers and scratch matrices.
package kf

import (
	"fmt"

	"github.com/go-ssm/kalman/kferr"
	"github.com/go-ssm/kalman/ssm"
)

// runState is the filter's lifecycle state machine: Fresh (not yet bound
// to an initialized model) -> Ready (initialized, not yet stepping) ->
// Stepping (0 <= t < nobs) -> Done (t == nobs).
type runState int

const (
	stateFresh runState = iota
	stateReady
	stateStepping
	stateDone
)

// Filter drives the recursion over one state-space model. It is not safe
// for concurrent use: the recursion is strictly sequential in time.
type Filter struct {
	model *ssm.Model
	ws    *Workspace
	cfg   Config

	t  int
	st runState
}

// New binds a Filter to an initialized model and configuration. It is an
// error to call New before the model has been given an initial state via
// one of its Initialize* methods, or to request a filter method other
// than CONVENTIONAL.
func New(model *ssm.Model, cfg Config) (*Filter, error) {
	if !model.Initialized() {
		return nil, &kferr.NotInitializedError{}
	}
	if cfg.Filter != MethodConventional {
		return nil, &kferr.InvalidMethodError{Method: uint32(cfg.Filter)}
	}

	ws := newWorkspace(model.P(), model.M(), model.Nobs(), cfg)
	return &Filter{model: model, ws: ws, cfg: cfg, st: stateReady}, nil
}

// Seek positions the filter at period t. resetConvergence clears the
// steady-state flag (used by callers that changed the container's system
// matrices since the last run and need reconvergence from scratch).
// Entering Stepping from Ready seeds the predicted column used as the
// prior at t=0 with the model's a1, P1.
func (f *Filter) Seek(t int, resetConvergence bool) error {
	if t < 0 || t > f.model.Nobs() {
		return fmt.Errorf("kf: seek out of range: %d (nobs=%d)", t, f.model.Nobs())
	}
	if resetConvergence {
		f.ws.converged = false
		f.ws.convergedAt = -1
	}
	f.t = t
	if t == 0 {
		f.ws.seedInitial(f.model.InitialState(), f.model.InitialStateCov())
	}
	if t == f.model.Nobs() {
		f.st = stateDone
	} else {
		f.st = stateStepping
	}
	return nil
}

// Step advances the filter by one period, running the five-phase kernel
// (forecast, factorize, update, loglikelihood, predict) plus the
// stability symmetrization and the convergence check. It returns
// EndOfSequenceError once t has advanced past nobs.
func (f *Filter) Step() error {
	if f.st == stateFresh {
		return &kferr.NotInitializedError{}
	}
	if f.t >= f.model.Nobs() {
		f.st = stateDone
		return &kferr.EndOfSequenceError{}
	}

	t := f.t
	eff := f.dispatch(t)
	wasConverged := f.ws.converged
	effConv := wasConverged && eff.full()

	f.forecast(t, eff, effConv)
	det, err := f.factorize(t, eff, effConv)
	if err != nil {
		return err
	}
	f.update(t, eff, effConv)
	f.loglikelihood(t, eff, det)
	f.predict(t, effConv)
	f.symmetrize(t, effConv)

	if f.model.TimeInvariant() && !wasConverged && eff.full() {
		f.checkConvergence(t)
	}

	f.ws.rotate()
	f.t++
	if f.t == f.model.Nobs() {
		f.st = stateDone
	}
	return nil
}

// Run seeks to 0 (resetting convergence) and steps until the sequence is
// exhausted.
func (f *Filter) Run() error {
	if err := f.Seek(0, true); err != nil {
		return err
	}
	for {
		err := f.Step()
		if _, ok := err.(*kferr.EndOfSequenceError); ok {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Workspace exposes the filter's output buffers to callers.
func (f *Filter) Workspace() *Workspace { return f.ws }

// Converged reports whether steady state has been detected, and the
// period at which it was first detected (-1 if not yet).
func (f *Filter) Converged() (bool, int) { return f.ws.Converged() }

// TotalLoglikelihood returns Σ_{t>=burn} ℓ_t.
func (f *Filter) TotalLoglikelihood() float64 { return f.ws.TotalLoglik() }
