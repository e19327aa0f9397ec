package synth

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultLyapunovSolver solves the discrete Lyapunov equation X = A X A' + Q
// via the doubling (Smith) iteration: starting from X₀ = Q, A₀ = A, it
// repeatedly forms X_{k+1} = X_k + A_k X_k A_k' and A_{k+1} = A_k A_k, which
// converges quadratically to X = Σ A^i Q (A^i)' whenever A is stable. No
// example in the retrieved pack ships a discrete Lyapunov solver wired to
// gonum types; ssm.Model.InitializeStationary itself implements no solver
// (per spec design notes), so this lives in the test-fixture package that
// actually needs one (see DESIGN.md).
type DefaultLyapunovSolver struct {
	MaxIter int
	Tol     float64
}

// Solve returns the fixed point of X = A X A' + Q.
func (s DefaultLyapunovSolver) Solve(a *mat.Dense, q *mat.SymDense) (*mat.SymDense, error) {
	maxIter := s.MaxIter
	if maxIter == 0 {
		maxIter = 100
	}
	tol := s.Tol
	if tol == 0 {
		tol = 1e-13
	}

	n, _ := a.Dims()
	ak := mat.DenseCopyOf(a)
	xk := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			xk.Set(i, j, q.At(i, j))
		}
	}

	for iter := 0; iter < maxIter; iter++ {
		axa := new(mat.Dense)
		axa.Mul(ak, xk)
		axa.Mul(axa, ak.T())

		xNext := new(mat.Dense)
		xNext.Add(xk, axa)

		aNext := new(mat.Dense)
		aNext.Mul(ak, ak)

		diff := new(mat.Dense)
		diff.Sub(xNext, xk)
		if mat.Norm(diff, 2) < tol {
			return symmetrize(xNext), nil
		}

		xk, ak = xNext, aNext
	}

	return nil, fmt.Errorf("synth: discrete Lyapunov iteration failed to converge in %d steps", maxIter)
}

func symmetrize(d *mat.Dense) *mat.SymDense {
	n, _ := d.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(d.At(i, j)+d.At(j, i)))
		}
	}
	return sym
}
