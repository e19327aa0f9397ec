package kf

import "gonum.org/v1/gonum/mat"

// effective is the per-step, possibly reshaped observation subspace the
// missing-observation dispatcher (C5) hands to the recursion kernel:
// y_t, Z_t, H_t re-selected to the rows actually observed at t.
type effective struct {
	pEff int
	rows []int // nil => every row observed (no reselection needed)
	y    *mat.VecDense
	z    *mat.Dense
	h    *mat.SymDense
}

// full reports whether this step observed every row (nmissing[t] == 0).
func (e effective) full() bool { return e.rows == nil }

// dispatch re-selects y_t, Z_t, H_t for period t according to nmissing[t]:
// none missing runs the standard kernel unmodified, all missing degenerates
// to a zero-dimensional observation subspace, and partial missing compacts
// the unmasked rows into freshly allocated p_eff-sized y, Z and H.
func (f *Filter) dispatch(t int) effective {
	p := f.model.P()
	nmiss := f.model.NMissing(t)

	switch {
	case nmiss == 0:
		return effective{
			pEff: p,
			rows: nil,
			y:    f.model.Obs(t),
			z:    f.model.Design(t),
			h:    f.model.ObsCov(t),
		}
	case nmiss == p:
		return effective{pEff: 0, rows: []int{}}
	default:
		return f.selectPartial(t, p-nmiss)
	}
}

func (f *Filter) selectPartial(t, pEff int) effective {
	mask := f.model.MissingMask(t)
	m := f.model.M()

	rows := make([]int, 0, pEff)
	for i, miss := range mask {
		if !miss {
			rows = append(rows, i)
		}
	}

	yFull := f.model.Obs(t)
	zFull := f.model.Design(t)
	hFull := f.model.ObsCov(t)

	y := mat.NewVecDense(pEff, nil)
	z := mat.NewDense(pEff, m, nil)
	h := mat.NewSymDense(pEff, nil)

	for a, i := range rows {
		y.SetVec(a, yFull.AtVec(i))
		for j := 0; j < m; j++ {
			z.Set(a, j, zFull.At(i, j))
		}
	}
	for a, i := range rows {
		for b, j := range rows {
			if j < i {
				continue
			}
			h.SetSym(a, b, hFull.At(i, j))
		}
	}

	return effective{pEff: pEff, rows: rows, y: y, z: z, h: h}
}
