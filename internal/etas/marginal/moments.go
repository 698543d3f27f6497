package marginal

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Moments are probability-weighted statistics of the axis values.
type Moments struct {
	Mean     []float64
	Variance []float64

	// Covariance has Variance on its diagonal and the pairwise covariances
	// computed from the joint marginals off it.
	Covariance *mat.SymDense
}

// Moments computes the mean, variance and covariance of the grid, where
// values[k][i] is the value at bin i of axis k.
func (r *Result) Moments(values [][]float64) (*Moments, error) {
	if len(values) != len(r.Dims) {
		return nil, fmt.Errorf("%w: %d value arrays for %d axes", ErrDims, len(values), len(r.Dims))
	}
	for a, v := range values {
		if len(v) != r.Dims[a] {
			return nil, fmt.Errorf("%w: axis %d has %d values, want %d", ErrDims, a, len(v), r.Dims[a])
		}
	}
	if !(r.TotalProbability > 0) {
		return nil, ErrNoProbability
	}

	k := len(r.Dims)
	m := &Moments{
		Mean:       make([]float64, k),
		Variance:   make([]float64, k),
		Covariance: mat.NewSymDense(k, nil),
	}
	for a := range r.Dims {
		mean := floats.Dot(r.Marginals[a], values[a]) / r.TotalProbability
		var v float64
		for i, p := range r.Marginals[a] {
			d := values[a][i] - mean
			v += p * d * d
		}
		m.Mean[a] = mean
		m.Variance[a] = v / r.TotalProbability
		m.Covariance.SetSym(a, a, m.Variance[a])
	}
	for _, pr := range r.Pairs {
		var c float64
		for i := 0; i < r.Dims[pr.I]; i++ {
			di := values[pr.I][i] - m.Mean[pr.I]
			for j := 0; j < r.Dims[pr.J]; j++ {
				c += pr.Prob.At(i, j) * di * (values[pr.J][j] - m.Mean[pr.J])
			}
		}
		m.Covariance.SetSym(pr.I, pr.J, c/r.TotalProbability)
	}
	return m, nil
}
