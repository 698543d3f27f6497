// Package marginal reduces an N-dimensional probability grid to its global
// peak, one-dimensional and pairwise two-dimensional marginals, modes and
// moment statistics.
//
// Probabilities can be streamed into a Builder one grid cell at a time, so
// that grids too large to hold in memory can still be reduced, or a dense
// Grid can be reduced in one call with Reduce.
package marginal

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ProbFloor is the smallest probability kept. Anything below it is stored
// as exactly zero in every table.
const ProbFloor = 1e-98

var (
	// ErrDims is returned for invalid or mismatched grid dimensions.
	ErrDims = errors.New("invalid marginal dimensions")

	// ErrNoProbability is returned when moments are requested from a grid
	// with zero total probability.
	ErrNoProbability = errors.New("grid has zero total probability")
)

// Pair is the joint marginal of axes I < J.
type Pair struct {
	I, J int

	// Prob has Dims[I] rows and Dims[J] columns.
	Prob *mat.Dense

	// Mode is the (row, column) of the largest entry.
	Mode [2]int
}

// Result holds the reduction of one grid.
type Result struct {
	Dims []int

	TotalProbability float64
	PeakProbability  float64
	PeakIndex        []int

	// Marginals[k][i] sums every cell whose k-th index is i.
	Marginals [][]float64

	// BinPeaks[k][i] is the largest cell with k-th index i, and
	// BinPeakIndex[k][i] its full index. The index is nil when every such
	// cell is zero.
	BinPeaks     [][]float64
	BinPeakIndex [][][]int

	// Modes[k] is the arg-max of Marginals[k].
	Modes []int

	// Pairs lists every axis pair in order (0,1), (0,2), ..., (k-2,k-1).
	Pairs []Pair
}

func validDims(dims []int) error {
	if len(dims) == 0 {
		return fmt.Errorf("%w: no axes", ErrDims)
	}
	for k, d := range dims {
		if d <= 0 {
			return fmt.Errorf("%w: axis %d has size %d", ErrDims, k, d)
		}
	}
	return nil
}

// pairNumber returns the position of pair (i, j), i < j, among k axes.
func pairNumber(k, i, j int) int {
	return i*(2*k-i-1)/2 + (j - i - 1)
}

func newResult(dims []int) *Result {
	k := len(dims)
	r := &Result{
		Dims:         append([]int(nil), dims...),
		PeakIndex:    make([]int, k),
		Marginals:    make([][]float64, k),
		BinPeaks:     make([][]float64, k),
		BinPeakIndex: make([][][]int, k),
		Modes:        make([]int, k),
	}
	for a, d := range dims {
		r.Marginals[a] = make([]float64, d)
		r.BinPeaks[a] = make([]float64, d)
		r.BinPeakIndex[a] = make([][]int, d)
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			r.Pairs = append(r.Pairs, Pair{I: i, J: j, Prob: mat.NewDense(dims[i], dims[j], nil)})
		}
	}
	return r
}

// Joint returns the joint marginal of axes i and j, with i's bins as rows.
// The returned matrix must not be modified.
func (r *Result) Joint(i, j int) (mat.Matrix, error) {
	k := len(r.Dims)
	if i < 0 || j < 0 || i >= k || j >= k || i == j {
		return nil, fmt.Errorf("%w: no pair (%d, %d) among %d axes", ErrDims, i, j, k)
	}
	if i < j {
		return r.Pairs[pairNumber(k, i, j)].Prob, nil
	}
	return r.Pairs[pairNumber(k, j, i)].Prob.T(), nil
}

// JointMode returns the arg-max of the joint marginal of axes i and j, as
// (bin of i, bin of j).
func (r *Result) JointMode(i, j int) ([2]int, error) {
	k := len(r.Dims)
	if i < 0 || j < 0 || i >= k || j >= k || i == j {
		return [2]int{}, fmt.Errorf("%w: no pair (%d, %d) among %d axes", ErrDims, i, j, k)
	}
	if i < j {
		return r.Pairs[pairNumber(k, i, j)].Mode, nil
	}
	m := r.Pairs[pairNumber(k, j, i)].Mode
	return [2]int{m[1], m[0]}, nil
}

func clampFloor(xs []float64) {
	for i, x := range xs {
		if x < ProbFloor {
			xs[i] = 0
		}
	}
}

// finalize clamps every table to the floor and recomputes the modes.
func (r *Result) finalize() {
	if r.PeakProbability < ProbFloor {
		r.PeakProbability = 0
	}
	for a := range r.Dims {
		clampFloor(r.Marginals[a])
		clampFloor(r.BinPeaks[a])
		r.Modes[a] = floats.MaxIdx(r.Marginals[a])
	}
	for p := range r.Pairs {
		pr := &r.Pairs[p]
		raw := pr.Prob.RawMatrix()
		best := math.Inf(-1)
		for row := 0; row < raw.Rows; row++ {
			data := raw.Data[row*raw.Stride : row*raw.Stride+raw.Cols]
			clampFloor(data)
			col := floats.MaxIdx(data)
			if data[col] > best {
				best = data[col]
				pr.Mode = [2]int{row, col}
			}
		}
	}
}

// Builder accumulates a Result one grid cell at a time. It is not safe for
// concurrent use; give each goroutine its own Builder and Merge the results.
type Builder struct {
	res      *Result
	pairData [][]float64
	finished bool
}

// NewBuilder returns a Builder for a grid with the given axis sizes.
func NewBuilder(dims []int) (*Builder, error) {
	if err := validDims(dims); err != nil {
		return nil, err
	}
	b := &Builder{res: newResult(dims)}
	b.pairData = make([][]float64, len(b.res.Pairs))
	for p := range b.res.Pairs {
		b.pairData[p] = b.res.Pairs[p].Prob.RawMatrix().Data
	}
	return b, nil
}

// Dims returns the axis sizes.
func (b *Builder) Dims() []int { return b.res.Dims }

// Add accumulates one cell with the given probability. Probabilities below
// ProbFloor count as zero.
func (b *Builder) Add(index []int, prob float64) {
	if b.finished {
		panic("marginal: Add after Finish")
	}
	r := b.res
	if len(index) != len(r.Dims) {
		panic(fmt.Sprintf("marginal: index has %d axes, grid has %d", len(index), len(r.Dims)))
	}
	if !(prob >= ProbFloor) {
		prob = 0
	}

	r.TotalProbability += prob
	if prob > r.PeakProbability {
		r.PeakProbability = prob
		copy(r.PeakIndex, index)
	}
	for a, i := range index {
		r.Marginals[a][i] += prob
		if prob > r.BinPeaks[a][i] {
			r.BinPeaks[a][i] = prob
			pi := r.BinPeakIndex[a][i]
			if pi == nil {
				pi = make([]int, len(index))
				r.BinPeakIndex[a][i] = pi
			}
			copy(pi, index)
		}
	}
	if prob == 0 {
		return
	}
	for p := range r.Pairs {
		pr := &r.Pairs[p]
		b.pairData[p][index[pr.I]*r.Dims[pr.J]+index[pr.J]] += prob
	}
}

// AddLog accumulates one cell given as a log value, converted to the
// probability exp(logValue - maxLog).
func (b *Builder) AddLog(index []int, logValue, maxLog float64) {
	b.Add(index, math.Exp(logValue-maxLog))
}

// Finish clamps the tables, computes the modes and returns the Result. The
// Builder cannot be used afterwards.
func (b *Builder) Finish() *Result {
	if !b.finished {
		b.finished = true
		b.res.finalize()
	}
	return b.res
}

// Merge combines results of the same grid accumulated by separate
// builders over disjoint cells. Sums are added; peaks are re-maximized and
// modes recomputed from the merged sums.
func Merge(results ...*Result) (*Result, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: nothing to merge", ErrDims)
	}
	dims := results[0].Dims
	for n, r := range results[1:] {
		if !equalDims(dims, r.Dims) {
			return nil, fmt.Errorf("%w: result %d has dims %v, want %v", ErrDims, n+1, r.Dims, dims)
		}
	}

	out := newResult(dims)
	for _, r := range results {
		out.TotalProbability += r.TotalProbability
		if r.PeakProbability > out.PeakProbability {
			out.PeakProbability = r.PeakProbability
			copy(out.PeakIndex, r.PeakIndex)
		}
		for a := range dims {
			floats.Add(out.Marginals[a], r.Marginals[a])
			for i, v := range r.BinPeaks[a] {
				if v > out.BinPeaks[a][i] {
					out.BinPeaks[a][i] = v
					out.BinPeakIndex[a][i] = append([]int(nil), r.BinPeakIndex[a][i]...)
				}
			}
		}
		for p := range out.Pairs {
			out.Pairs[p].Prob.Add(out.Pairs[p].Prob, r.Pairs[p].Prob)
		}
	}
	out.finalize()
	return out, nil
}

func equalDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
