package marginal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Grid is a dense N-dimensional array stored row-major: the last axis
// varies fastest.
type Grid struct {
	Dims []int
	Data []float64
}

// NewGrid allocates a zeroed grid.
func NewGrid(dims ...int) (*Grid, error) {
	if err := validDims(dims); err != nil {
		return nil, err
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	return &Grid{Dims: append([]int(nil), dims...), Data: make([]float64, n)}, nil
}

// GridFromRows builds a two-dimensional grid, rows being axis 0.
func GridFromRows(rows [][]float64) (*Grid, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrDims)
	}
	g, err := NewGrid(len(rows), len(rows[0]))
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) != g.Dims[1] {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrDims, i, len(row), g.Dims[1])
		}
		copy(g.Data[i*g.Dims[1]:], row)
	}
	return g, nil
}

// Offset returns the flat position of a full index.
func (g *Grid) Offset(index []int) int {
	off := 0
	for a, i := range index {
		off = off*g.Dims[a] + i
	}
	return off
}

func (g *Grid) At(index ...int) float64 { return g.Data[g.Offset(index)] }

func (g *Grid) Set(v float64, index ...int) { g.Data[g.Offset(index)] = v }

func (g *Grid) validate() error {
	if err := validDims(g.Dims); err != nil {
		return err
	}
	n := 1
	for _, d := range g.Dims {
		n *= d
	}
	if len(g.Data) != n {
		return fmt.Errorf("%w: %d values for dims %v", ErrDims, len(g.Data), g.Dims)
	}
	return nil
}

// Reduce computes the marginals of g. When hasProb is false the values are
// log-probabilities and are converted to exp(v - max) before summing, so
// that the peak has probability 1. When inPlace is true g.Data is
// overwritten with the clamped probabilities.
func Reduce(g *Grid, hasProb, inPlace bool) (*Result, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	maxVal := g.Data[floats.MaxIdx(g.Data)]

	b, err := NewBuilder(g.Dims)
	if err != nil {
		return nil, err
	}
	index := make([]int, len(g.Dims))
	for off, v := range g.Data {
		p := v
		if !hasProb {
			p = math.Exp(v - maxVal)
		}
		if !(p >= ProbFloor) {
			p = 0
		}
		if inPlace {
			g.Data[off] = p
		}
		b.Add(index, p)

		for a := len(index) - 1; a >= 0; a-- {
			index[a]++
			if index[a] < g.Dims[a] {
				break
			}
			index[a] = 0
		}
	}
	return b.Finish(), nil
}
