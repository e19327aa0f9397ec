// Package la is a thin, typed surface over the BLAS3/LAPACK routines the
// Kalman recursion kernel needs: gemm, gemv, axpy, copy, scal, dot for the
// per-step arithmetic, and potrf/potrs/potri, getrf/getri/getrs for the
// forecast-error covariance factorization and inversion strategies.
//
// Every function here operates on raw blas64 views pulled out of gonum
// mat.Dense/mat.SymDense/mat.VecDense values, mirroring how the kernel
// itself is specified: mat types are the caller-facing container, blas64
// and lapack64 are what the kernel actually calls.
package la

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"
	"gonum.org/v1/gonum/mat"
)

func xpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

// Gemm computes c = alpha*op(a)*op(b) + beta*c.
func Gemm(alpha float64, transA, transB bool, a, b *mat.Dense, beta float64, c *mat.Dense) {
	blas64.Gemm(xpose(transA), xpose(transB), alpha, a.RawMatrix(), b.RawMatrix(), beta, c.RawMatrix())
}

// Gemv computes y = alpha*op(a)*x + beta*y.
func Gemv(alpha float64, transA bool, a *mat.Dense, x *mat.VecDense, beta float64, y *mat.VecDense) {
	blas64.Gemv(xpose(transA), alpha, a.RawMatrix(), x.RawVector(), beta, y.RawVector())
}

// Axpy computes y += alpha*x.
func Axpy(alpha float64, x, y *mat.VecDense) {
	blas64.Axpy(alpha, x.RawVector(), y.RawVector())
}

// Copy copies src into dst.
func Copy(dst, src *mat.VecDense) {
	blas64.Copy(src.RawVector(), dst.RawVector())
}

// Scal scales x in place by alpha.
func Scal(alpha float64, x *mat.VecDense) {
	blas64.Scal(alpha, x.RawVector())
}

// Dot returns the unconjugated inner product of x and y. The real field
// paths rely on this directly; a conjugated variant is the documented
// open point for any future complex-field instantiation (see DESIGN.md).
func Dot(x, y *mat.VecDense) float64 {
	return blas64.Dot(x.RawVector(), y.RawVector())
}

// triFromSym views a's raw symmetric storage as the upper-triangular
// factorization produced by Potrf, sharing the same backing data.
func triFromSym(a *mat.SymDense) blas64.Triangular {
	sym := a.RawSymmetric()
	return blas64.Triangular{
		Uplo:   sym.Uplo,
		Diag:   blas.NonUnit,
		N:      sym.N,
		Data:   sym.Data,
		Stride: sym.Stride,
	}
}

// Potrf computes the Cholesky factorization A = U'U in place, upper
// triangular. It returns false when A is not positive definite.
func Potrf(a *mat.SymDense) bool {
	_, ok := lapack64.Potrf(a.RawSymmetric())
	return ok
}

// Potrs solves A*X = B for X using the factorization left by Potrf,
// overwriting B with the solution.
func Potrs(a *mat.SymDense, b *mat.Dense) {
	lapack64.Potrs(triFromSym(a), b.RawMatrix())
}

// Potri computes the inverse of A in place from the factorization left by
// Potrf, upper triangular only; callers must reflect into the lower half.
func Potri(a *mat.SymDense) bool {
	_, ok := lapack64.Potri(triFromSym(a))
	return ok
}

// Getrf computes the LU factorization of A in place with partial pivoting,
// recording the pivot permutation in ipiv. It returns false when A is
// singular.
func Getrf(a *mat.Dense, ipiv []int) bool {
	return lapack64.Getrf(a.RawMatrix(), ipiv)
}

// Getrs solves A*X = B (or A'*X = B) for X using the factorization left by
// Getrf, overwriting B with the solution.
func Getrs(transA bool, a *mat.Dense, b *mat.Dense, ipiv []int) {
	lapack64.Getrs(xpose(transA), a.RawMatrix(), b.RawMatrix(), ipiv)
}

// Getri computes the inverse of A in place from the factorization left by
// Getrf.
func Getri(a *mat.Dense, ipiv []int) bool {
	raw := a.RawMatrix()
	work := make([]float64, 1)
	lapack64.Getri(raw, ipiv, work, -1)
	lwork := int(work[0])
	if lwork < 1 {
		lwork = 1
	}
	work = make([]float64, lwork)
	return lapack64.Getri(raw, ipiv, work, lwork)
}

// CholDet returns the determinant of the matrix already factorized in
// place by Potrf: the squared product of the diagonal of U.
func CholDet(a *mat.SymDense) float64 {
	n := a.SymmetricDim()
	prod := 1.0
	for i := 0; i < n; i++ {
		prod *= a.At(i, i)
	}
	return prod * prod
}

// LUDet returns the determinant of the matrix already factorized in place
// by Getrf, folding in the sign of the pivot permutation.
func LUDet(a *mat.Dense, ipiv []int) float64 {
	n, _ := a.Dims()
	det := 1.0
	for i := 0; i < n; i++ {
		det *= a.At(i, i)
		if ipiv[i] != i {
			det = -det
		}
	}
	return det
}

// ReflectUpper copies the upper triangle of a symmetric-storage Dense (as
// left by Potri/Getri on a matrix known to be symmetric) into the lower
// triangle in place.
func ReflectUpper(a *mat.Dense) {
	n, _ := a.Dims()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a.Set(j, i, a.At(i, j))
		}
	}
}
