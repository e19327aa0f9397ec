package kf

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/go-ssm/kalman/kferr"
	"github.com/go-ssm/kalman/la"
)

const log2pi = 1.8378770664093453 // math.Log(2 * math.Pi)

// forecast is phase F: ŷ_t = Z_t a_t + d_t, v_t = y_t − ŷ_t, and (unless the
// step is running the post-convergence fast path) F_t = Z_t P_t Z_t' + H_t.
func (f *Filter) forecast(t int, eff effective, effConv bool) {
	fc := f.ws.Forecast(t)
	fe := f.ws.ForecastError(t)
	fcov := f.ws.ForecastErrorCov(t)

	if eff.pEff == 0 {
		fc.Zero()
		fe.Zero()
		fcov.Zero()
		f.ws.tmp1.Zero()
		return
	}

	a := f.ws.PriorState(t)
	p := f.ws.PriorCov(t)
	d := selectRows(f.model.ObsIntercept(t), eff.rows)

	yhat := mat.NewVecDense(eff.pEff, nil)
	la.Gemv(1, false, eff.z, a, 0, yhat)
	yhat.AddVec(yhat, d)

	v := mat.NewVecDense(eff.pEff, nil)
	v.SubVec(eff.y, yhat)

	// tmp1 := P_t Z_t'
	pDense := denseOfSym(p)
	tmp1 := mat.NewDense(f.model.M(), eff.pEff, nil)
	la.Gemm(1, false, true, pDense, eff.z, 0, tmp1)
	copyTmp1(f.ws.tmp1, tmp1)

	if !effConv {
		work := mat.NewDense(eff.pEff, eff.pEff, nil)
		la.Gemm(1, false, false, eff.z, tmp1, 0, work)
		hd := denseOfSym(eff.h)
		work.Add(work, hd)
		scatterSym(fcov, work, eff.rows)
	} else {
		fcov.CopySym(f.ws.snapF)
	}

	scatterVec(fc, yhat, eff.rows)
	scatterVec(fe, v, eff.rows)
}

func copyTmp1(dst, src *mat.Dense) {
	rows, cols := src.Dims()
	dst.Zero()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst.Set(i, j, src.At(i, j))
		}
	}
}

// factorize is phase I: selects an inversion strategy for F_t (or reuses
// the cached univariate scalar / skips entirely on the post-convergence
// fast path) and produces tmp2 = F_t^{-1} v_t, tmp3 = F_t^{-1} Z_t, and the
// determinant.
func (f *Filter) factorize(t int, eff effective, effConv bool) (float64, error) {
	if eff.pEff == 0 {
		return 0, nil
	}

	v := selectRows(f.ws.ForecastError(t), eff.rows)
	z := eff.z

	if effConv {
		if eff.pEff == 1 {
			return f.univariate(t, eff, v, z)
		}
		return f.ws.snapDet, nil
	}

	method := pickInversion(f.cfg.Inversion, eff.pEff)
	switch method {
	case InvertUnivariate:
		return f.univariate(t, eff, v, z)
	case SolveCholesky:
		return f.solveCholesky(t, eff, v, z)
	case InvertCholesky:
		return f.invertCholesky(t, eff, v, z)
	case SolveLU:
		return f.solveLU(t, eff, v, z)
	case InvertLU:
		return f.invertLU(t, eff, v, z)
	default:
		return 0, &kferr.InvalidMethodError{Method: uint32(f.cfg.Inversion)}
	}
}

func (f *Filter) univariate(t int, eff effective, v *mat.VecDense, z *mat.Dense) (float64, error) {
	fcov := selectSubSym(f.ws.ForecastErrorCov(t), 1, eff.rows)
	det := fcov.At(0, 0)
	if det == 0 {
		return 0, &kferr.LinAlgError{Period: t, Kind: "univariate", Err: errors.New("zero forecast-error variance")}
	}
	inv := 1 / det
	tmp2 := f.ws.tmp2
	tmp2.Zero()
	tmp2.SetVec(0, inv*v.AtVec(0))
	tmp3 := f.ws.tmp3
	tmp3.Zero()
	for j := 0; j < f.model.M(); j++ {
		tmp3.Set(0, j, inv*z.At(0, j))
	}
	return det, nil
}

// selectSubSym returns the pEff x pEff effective forecast-error covariance
// packed densely at the origin regardless of which rows it came from.
func selectSubSym(full *mat.SymDense, pEff int, rows []int) *mat.SymDense {
	if rows == nil {
		n := full.SymmetricDim()
		if n == pEff {
			return full
		}
	}
	out := mat.NewSymDense(pEff, nil)
	if rows == nil {
		for i := 0; i < pEff; i++ {
			for j := i; j < pEff; j++ {
				out.SetSym(i, j, full.At(i, j))
			}
		}
		return out
	}
	for a, i := range rows {
		for b, j := range rows {
			if j < i {
				continue
			}
			out.SetSym(a, b, full.At(i, j))
		}
	}
	return out
}

func (f *Filter) solveCholesky(t int, eff effective, v *mat.VecDense, z *mat.Dense) (float64, error) {
	fcov := selectSubSym(f.ws.ForecastErrorCov(t), eff.pEff, eff.rows)
	fac := mat.NewSymDense(eff.pEff, nil)
	fac.CopySym(fcov)

	if !la.Potrf(fac) {
		return 0, &kferr.LinAlgError{Period: t, Kind: "potrf", Err: errors.New("forecast-error covariance is not positive definite")}
	}
	det := la.CholDet(fac)

	rhs := mat.NewDense(eff.pEff, 1+f.model.M(), nil)
	for i := 0; i < eff.pEff; i++ {
		rhs.Set(i, 0, v.AtVec(i))
		for j := 0; j < f.model.M(); j++ {
			rhs.Set(i, 1+j, z.At(i, j))
		}
	}
	la.Potrs(fac, rhs)

	writeTmp23(f.ws, eff.pEff, f.model.M(), rhs)
	return det, nil
}

func (f *Filter) invertCholesky(t int, eff effective, v *mat.VecDense, z *mat.Dense) (float64, error) {
	fcov := selectSubSym(f.ws.ForecastErrorCov(t), eff.pEff, eff.rows)
	fac := mat.NewSymDense(eff.pEff, nil)
	fac.CopySym(fcov)

	if !la.Potrf(fac) {
		return 0, &kferr.LinAlgError{Period: t, Kind: "potrf", Err: errors.New("forecast-error covariance is not positive definite")}
	}
	det := la.CholDet(fac)

	if !la.Potri(fac) {
		return 0, &kferr.LinAlgError{Period: t, Kind: "potri", Err: errors.New("failed to invert forecast-error covariance")}
	}
	inv := denseOfSym(fac) // F^{-1}, both triangles read from fac's upper triangle
	la.ReflectUpper(inv)

	tmp2 := mat.NewVecDense(eff.pEff, nil)
	la.Gemv(1, false, inv, v, 0, tmp2)
	tmp3 := mat.NewDense(eff.pEff, f.model.M(), nil)
	la.Gemm(1, false, false, inv, z, 0, tmp3)

	writeTmp23Direct(f.ws, eff.pEff, f.model.M(), tmp2, tmp3)
	return det, nil
}

func (f *Filter) solveLU(t int, eff effective, v *mat.VecDense, z *mat.Dense) (float64, error) {
	fcov := selectSubSym(f.ws.ForecastErrorCov(t), eff.pEff, eff.rows)
	fac := denseOfSym(fcov)
	ipiv := make([]int, eff.pEff)

	if !la.Getrf(fac, ipiv) {
		return 0, &kferr.LinAlgError{Period: t, Kind: "getrf", Err: errors.New("forecast-error covariance is singular")}
	}
	det := la.LUDet(fac, ipiv)

	rhs := mat.NewDense(eff.pEff, 1+f.model.M(), nil)
	for i := 0; i < eff.pEff; i++ {
		rhs.Set(i, 0, v.AtVec(i))
		for j := 0; j < f.model.M(); j++ {
			rhs.Set(i, 1+j, z.At(i, j))
		}
	}
	la.Getrs(false, fac, rhs, ipiv)

	writeTmp23(f.ws, eff.pEff, f.model.M(), rhs)
	return det, nil
}

func (f *Filter) invertLU(t int, eff effective, v *mat.VecDense, z *mat.Dense) (float64, error) {
	fcov := selectSubSym(f.ws.ForecastErrorCov(t), eff.pEff, eff.rows)
	fac := denseOfSym(fcov)
	ipiv := make([]int, eff.pEff)

	if !la.Getrf(fac, ipiv) {
		return 0, &kferr.LinAlgError{Period: t, Kind: "getrf", Err: errors.New("forecast-error covariance is singular")}
	}
	det := la.LUDet(fac, ipiv)

	if !la.Getri(fac, ipiv) {
		return 0, &kferr.LinAlgError{Period: t, Kind: "getri", Err: errors.New("failed to invert forecast-error covariance")}
	}

	tmp2 := mat.NewVecDense(eff.pEff, nil)
	la.Gemv(1, false, fac, v, 0, tmp2)
	tmp3 := mat.NewDense(eff.pEff, f.model.M(), nil)
	la.Gemm(1, false, false, fac, z, 0, tmp3)

	writeTmp23Direct(f.ws, eff.pEff, f.model.M(), tmp2, tmp3)
	return det, nil
}

func writeTmp23(w *Workspace, pEff, m int, rhs *mat.Dense) {
	w.tmp2.Zero()
	w.tmp3.Zero()
	for i := 0; i < pEff; i++ {
		w.tmp2.SetVec(i, rhs.At(i, 0))
		for j := 0; j < m; j++ {
			w.tmp3.Set(i, j, rhs.At(i, 1+j))
		}
	}
}

func writeTmp23Direct(w *Workspace, pEff, m int, tmp2 *mat.VecDense, tmp3 *mat.Dense) {
	w.tmp2.Zero()
	w.tmp3.Zero()
	for i := 0; i < pEff; i++ {
		w.tmp2.SetVec(i, tmp2.AtVec(i))
		for j := 0; j < m; j++ {
			w.tmp3.Set(i, j, tmp3.At(i, j))
		}
	}
}

// update is phase U: a_{t|t} = a_t + tmp1 tmp2, and (unless running the
// post-convergence fast path) P_{t|t} = P_t − tmp1 tmp3 P_t.
func (f *Filter) update(t int, eff effective, effConv bool) {
	a := f.ws.PriorState(t)
	p := f.ws.PriorCov(t)
	af := f.ws.FilteredState(t)
	pf := f.ws.FilteredStateCov(t)

	if eff.pEff == 0 {
		af.CopyVec(a)
		pf.CopySym(p)
		return
	}

	m := f.model.M()
	tmp1 := mat.NewDense(m, eff.pEff, nil)
	copySubDense(tmp1, f.ws.tmp1, m, eff.pEff)
	tmp2 := mat.NewVecDense(eff.pEff, nil)
	for i := 0; i < eff.pEff; i++ {
		tmp2.SetVec(i, f.ws.tmp2.AtVec(i))
	}

	corr := mat.NewVecDense(m, nil)
	la.Gemv(1, false, tmp1, tmp2, 0, corr)
	af.AddVec(a, corr)

	if !effConv {
		tmp3 := mat.NewDense(eff.pEff, m, nil)
		copySubDense(tmp3, f.ws.tmp3, eff.pEff, m)

		tmp0 := mat.NewDense(m, m, nil)
		la.Gemm(1, false, false, tmp1, tmp3, 0, tmp0)

		pDense := denseOfSym(p)
		kp := new(mat.Dense)
		kp.Mul(tmp0, pDense)

		corrCov := new(mat.Dense)
		corrCov.Sub(pDense, kp)

		for i := 0; i < m; i++ {
			for j := i; j < m; j++ {
				pf.SetSym(i, j, corrCov.At(i, j))
			}
		}
	} else {
		pf.CopySym(f.ws.snapPfilt)
	}
}

func copySubDense(dst, src *mat.Dense, rows, cols int) {
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst.Set(i, j, src.At(i, j))
		}
	}
}

// loglikelihood is phase L: ℓ_t = -1/2 (p_eff log 2π + log det_t + v_t' tmp2).
func (f *Filter) loglikelihood(t int, eff effective, det float64) {
	if eff.pEff == 0 {
		f.ws.setLoglik(t, 0)
		f.ws.setDet(t, 0)
		return
	}
	v := selectRows(f.ws.ForecastError(t), eff.rows)
	tmp2 := mat.NewVecDense(eff.pEff, nil)
	for i := 0; i < eff.pEff; i++ {
		tmp2.SetVec(i, f.ws.tmp2.AtVec(i))
	}
	quad := la.Dot(v, tmp2)
	ll := -0.5 * (float64(eff.pEff)*log2pi + math.Log(det) + quad)
	f.ws.setLoglik(t, ll)
	f.ws.setDet(t, det)
}

// predict is phase P: a_{t+1} = T_t a_{t|t} + c_t, and (unless running the
// post-convergence fast path) P_{t+1} = T_t P_{t|t} T_t' + Q*_t. The raw
// product is left in ws.rawPredCov, both triangles intact, for symmetrize
// to project into the published NextCov; predict itself never writes
// NextCov except on the converged fast path, where the snapshot is already
// exactly symmetric.
func (f *Filter) predict(t int, effConv bool) {
	trans := f.model.Transition(t)
	c := f.model.StateIntercept(t)
	af := f.ws.FilteredState(t)

	aNext := mat.NewVecDense(f.model.M(), nil)
	la.Gemv(1, false, trans, af, 0, aNext)
	aNext.AddVec(aNext, c)
	f.ws.NextState(t).CopyVec(aNext)

	if effConv {
		f.ws.NextCov(t).CopySym(f.ws.snapPpred)
		return
	}

	pf := f.ws.FilteredStateCov(t)
	tmp0 := new(mat.Dense)
	tmp0.Mul(trans, pf)

	pOut := f.ws.rawPredCov
	pOut.Mul(tmp0, trans.T())

	qstar := f.model.SelectedStateCov(t)
	m := f.model.M()
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			pOut.Set(i, j, pOut.At(i, j)+qstar.At(i, j))
		}
	}
}

// symmetrize is phase N: projects ws.rawPredCov into the published NextCov.
// When STABILITY_FORCE_SYMMETRY is set, each entry is the average of the
// raw matrix with its transpose, cancelling accumulated rounding asymmetry;
// otherwise the raw upper triangle is copied through unaveraged, leaving
// whatever asymmetry predict's arithmetic produced. On the converged fast
// path predict has already written an exactly symmetric snapshot copy
// directly into NextCov, so there is nothing left to project.
func (f *Filter) symmetrize(t int, effConv bool) {
	if effConv {
		return
	}
	pNext := f.ws.NextCov(t)
	raw := f.ws.rawPredCov
	force := f.cfg.Stability&StabilityForceSymmetry != 0
	n := f.model.M()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := raw.At(i, j)
			if force {
				v = 0.5 * (raw.At(i, j) + raw.At(j, i))
			}
			pNext.SetSym(i, j, v)
		}
	}
}
