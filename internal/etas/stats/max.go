package stats

import (
	"math"

	"github.com/banshee-data/etasfit/internal/etas/combo"
)

// MaxTracker records the largest weighted log density of every model. It
// runs as a first pass over the grid to supply the maxima a
// MarginalAccumulator needs; the maxima passed to its own Begin are
// ignored.
type MaxTracker struct {
	lifecycle

	weights [NumModels]float64
	max     [NumModels]float64
	count   int
}

// NewMaxTracker returns a tracker with every maximum at -Inf.
func NewMaxTracker() *MaxTracker {
	t := &MaxTracker{}
	for i := range t.max {
		t.max[i] = math.Inf(-1)
	}
	return t
}

func (t *MaxTracker) Begin(activeWeight float64, _ [NumModels]float64) error {
	if err := t.begin(); err != nil {
		return err
	}
	t.weights = Weights(activeWeight)
	return nil
}

func (t *MaxTracker) SetPoint(combo.Voxel) error { return t.setPoint() }

func (t *MaxTracker) AddData(_ int, bayLogDensity, _ float64, logLikelihood float64) error {
	if err := t.addData(); err != nil {
		return err
	}
	for m, w := range t.weights {
		// NaN never compares greater, so it cannot become the maximum.
		if v := WeightedLogDensity(w, bayLogDensity, logLikelihood); v > t.max[m] {
			t.max[m] = v
		}
	}
	t.count++
	return nil
}

func (t *MaxTracker) End() error { return t.end() }

// Max returns the maxima. It fails until End has run.
func (t *MaxTracker) Max() ([NumModels]float64, error) {
	if err := t.result(); err != nil {
		return [NumModels]float64{}, err
	}
	return t.max, nil
}

// Count returns the number of sub-voxels seen.
func (t *MaxTracker) Count() int { return t.count }

// CombineMax returns the element-wise maximum of several trackers'
// results.
func CombineMax(maxes ...[NumModels]float64) [NumModels]float64 {
	var out [NumModels]float64
	for i := range out {
		out[i] = math.Inf(-1)
	}
	for _, m := range maxes {
		for i, v := range m {
			if v > out[i] {
				out[i] = v
			}
		}
	}
	return out
}

var _ Accumulator = (*MaxTracker)(nil)
