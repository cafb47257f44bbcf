package arpick

import "math"

// triangle is the upper-triangular factor R of the lagged design matrix
//
//	[ x[t-1] x[t-2] ... x[t-k] | x[t] ]
//
// built up one block of rows at a time. Absorbing a block stacks it under R
// and re-triangularizes with Householder reflections, so the cost depends
// only on the block height and k, never on how many rows came before.
type triangle struct {
	n    int       // columns, k+1
	r    []float64 // n*n row-major, upper triangular
	rows int       // equations absorbed so far
	vbuf []float64
}

func newTriangle(order int) *triangle {
	n := order + 1
	return &triangle{n: n, r: make([]float64, n*n)}
}

// absorbLagged adds the equations for targets t in [from, to) of x.
// The caller guarantees from >= n-1.
func (tr *triangle) absorbLagged(x []float64, from, to int) {
	q := to - from
	if q <= 0 {
		return
	}
	n := tr.n
	k := n - 1
	block := make([]float64, q*n)
	for i := 0; i < q; i++ {
		t := from + i
		row := block[i*n : (i+1)*n]
		for j := 0; j < k; j++ {
			row[j] = x[t-1-j]
		}
		row[k] = x[t]
	}
	tr.absorb(block, q)
}

// absorb folds q rows (row-major, n columns) into R.
func (tr *triangle) absorb(block []float64, q int) {
	n := tr.n
	if cap(tr.vbuf) < q {
		tr.vbuf = make([]float64, q)
	}
	v := tr.vbuf[:q]

	for j := 0; j < n; j++ {
		rjj := tr.r[j*n+j]
		norm := rjj * rjj
		for i := 0; i < q; i++ {
			v[i] = block[i*n+j]
			norm += v[i] * v[i]
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		alpha := -norm
		if rjj < 0 {
			alpha = norm
		}
		v0 := rjj - alpha
		beta := v0 * v0
		for i := 0; i < q; i++ {
			beta += v[i] * v[i]
		}
		if beta == 0 {
			continue
		}

		for c := j + 1; c < n; c++ {
			s := v0 * tr.r[j*n+c]
			for i := 0; i < q; i++ {
				s += v[i] * block[i*n+c]
			}
			tau := 2 * s / beta
			tr.r[j*n+c] -= tau * v0
			for i := 0; i < q; i++ {
				block[i*n+c] -= tau * v[i]
			}
		}
		tr.r[j*n+j] = alpha
		for i := 0; i < q; i++ {
			block[i*n+j] = 0
		}
	}
	tr.rows += q
}

// rss returns the residual sum of squares of the least-squares fit that
// uses only the first order lag columns.
func (tr *triangle) rss(order int) float64 {
	n := tr.n
	var s float64
	for i := order; i < n; i++ {
		v := tr.r[i*n+n-1]
		s += v * v
	}
	return s
}

// minAIC returns the smallest AIC over AR orders 0..k for the current
// factor.
func (tr *triangle) minAIC() float64 {
	m := float64(tr.rows)
	best := math.Inf(1)
	for j := 0; j < tr.n; j++ {
		variance := tr.rss(j) / m
		if variance < math.SmallestNonzeroFloat64 {
			variance = math.SmallestNonzeroFloat64
		}
		aic := m*math.Log(variance) + 2*float64(j+1)
		if aic < best {
			best = aic
		}
	}
	return best
}
