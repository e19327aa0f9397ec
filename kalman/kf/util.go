package kf

import "gonum.org/v1/gonum/mat"

// scatterVec writes src (length len(rows), or full length if rows is nil)
// into dst at the original row positions, zeroing the rows the effective
// subsystem didn't cover.
func scatterVec(dst, src *mat.VecDense, rows []int) {
	dst.Zero()
	if rows == nil {
		dst.CopyVec(src)
		return
	}
	for i, r := range rows {
		dst.SetVec(r, src.AtVec(i))
	}
}

// scatterSym writes src (size len(rows) square, or full size if rows is
// nil) into dst at the original row/column positions.
func scatterSym(dst *mat.SymDense, src mat.Matrix, rows []int) {
	dst.Zero()
	n := dst.SymmetricDim()
	if rows == nil {
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				dst.SetSym(i, j, src.At(i, j))
			}
		}
		return
	}
	for a, i := range rows {
		for b, j := range rows {
			if j < i {
				continue
			}
			dst.SetSym(i, j, src.At(a, b))
		}
	}
}

// selectRows returns the subvector of v at the given row indices, or v
// itself when rows is nil (the no-missing case).
func selectRows(v *mat.VecDense, rows []int) *mat.VecDense {
	if rows == nil {
		return v
	}
	out := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		out.SetVec(i, v.AtVec(r))
	}
	return out
}

func denseOfSym(s *mat.SymDense) *mat.Dense {
	n := s.SymmetricDim()
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d.Set(i, j, s.At(i, j))
		}
	}
	return d
}
