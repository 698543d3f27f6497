package stats

import (
	"fmt"
	"math"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/combo"
	"github.com/banshee-data/etasfit/internal/etas/marginal"
)

// MarginalOptions selects what a MarginalAccumulator builds.
type MarginalOptions struct {
	// Models to accumulate. Empty means Bayesian only.
	Models []Model

	// DualCritical additionally accumulates every model with
	// super-critical points zeroed.
	DualCritical bool
}

// MarginalAccumulator builds marginal distributions over the free axes of
// a grid for each requested weighting model.
type MarginalAccumulator struct {
	lifecycle

	grid   *combo.Grid
	models []Model
	dual   bool
	vars   []etas.Param
	values [][]float64
	subPos []int // positions of zams and zmu in vars

	weights [NumModels]float64
	maxes   [NumModels]float64

	builders    []*marginal.Builder
	subBuilders []*marginal.Builder

	voxel         combo.Voxel
	superCritical bool
	index         []int

	set *MarginalSet
}

// NewMarginalAccumulator prepares an accumulator for grid. Forced axes
// carry no information and are left out of the marginals.
func NewMarginalAccumulator(grid *combo.Grid, opts MarginalOptions) (*MarginalAccumulator, error) {
	if grid == nil {
		return nil, fmt.Errorf("%w: nil grid", combo.ErrConfig)
	}
	models := opts.Models
	if len(models) == 0 {
		models = []Model{Bayesian}
	}
	seen := make(map[Model]bool)
	for _, m := range models {
		if m < 0 || int(m) >= NumModels {
			return nil, fmt.Errorf("%w: invalid model %d", combo.ErrConfig, int(m))
		}
		if seen[m] {
			return nil, fmt.Errorf("%w: model %s requested twice", combo.ErrConfig, m)
		}
		seen[m] = true
	}

	a := &MarginalAccumulator{
		grid:   grid,
		models: append([]Model(nil), models...),
		dual:   opts.DualCritical,
	}
	for _, p := range etas.AllParams() {
		values := grid.SepValues(p)
		if values == nil {
			continue
		}
		if p == etas.ParamZams || p == etas.ParamZmu {
			a.subPos = append(a.subPos, len(a.vars))
		}
		a.vars = append(a.vars, p)
		a.values = append(a.values, values)
	}
	a.index = make([]int, len(a.vars))
	return a, nil
}

// Vars returns the parameters of the marginal axes, in axis order.
func (a *MarginalAccumulator) Vars() []etas.Param { return a.vars }

func (a *MarginalAccumulator) dims() []int {
	dims := make([]int, len(a.values))
	for i, v := range a.values {
		dims[i] = len(v)
	}
	return dims
}

func (a *MarginalAccumulator) Begin(activeWeight float64, maxLogDensity [NumModels]float64) error {
	if err := a.begin(); err != nil {
		return err
	}
	a.weights = Weights(activeWeight)
	a.maxes = maxLogDensity

	dims := a.dims()
	a.builders = make([]*marginal.Builder, len(a.models))
	if a.dual {
		a.subBuilders = make([]*marginal.Builder, len(a.models))
	}
	for i := range a.models {
		b, err := marginal.NewBuilder(dims)
		if err != nil {
			return err
		}
		a.builders[i] = b
		if a.dual {
			if a.subBuilders[i], err = marginal.NewBuilder(dims); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *MarginalAccumulator) SetPoint(v combo.Voxel) error {
	if err := a.setPoint(); err != nil {
		return err
	}
	g := a.grid
	if v.BAlpha < 0 || v.BAlpha >= g.BAlpha.ComboCount() ||
		v.CP < 0 || v.CP >= g.CP.ComboCount() ||
		v.N < 0 || v.N >= g.N.ComboCount() {
		a.hasPoint = false
		return fmt.Errorf("%w: voxel %+v", ErrOutOfRange, v)
	}
	a.voxel = v
	for k, p := range a.vars {
		if p != etas.ParamZams && p != etas.ParamZmu {
			a.index[k] = g.SepIndex(p, v, 0)
		}
	}
	if a.dual {
		a.superCritical = g.N.Value(combo.AxisN, v.N) >= SuperCriticalBranchRatio
	}
	return nil
}

func (a *MarginalAccumulator) AddData(sub int, bayLogDensity, bayVoxVolume, logLikelihood float64) error {
	if err := a.addData(); err != nil {
		return err
	}
	if sub < 0 || sub >= a.grid.SubVoxelCount() {
		return fmt.Errorf("%w: sub-voxel %d", ErrOutOfRange, sub)
	}
	for _, k := range a.subPos {
		a.index[k] = a.grid.SepIndex(a.vars[k], a.voxel, sub)
	}
	for i, m := range a.models {
		w := a.weights[m]
		prob := math.Exp(WeightedLogDensity(w, bayLogDensity, logLikelihood)-a.maxes[m]) * bayVoxVolume
		a.builders[i].Add(a.index, prob)
		if a.dual && !a.superCritical {
			a.subBuilders[i].Add(a.index, prob)
		}
	}
	return nil
}

func (a *MarginalAccumulator) End() error {
	if err := a.end(); err != nil {
		return err
	}
	set := &MarginalSet{
		Vars:    a.vars,
		Values:  a.values,
		Models:  a.models,
		Results: make([]*marginal.Result, len(a.models)),
	}
	if a.dual {
		set.SubCritical = make([]*marginal.Result, len(a.models))
	}
	for i := range a.models {
		set.Results[i] = a.builders[i].Finish()
		if a.dual {
			set.SubCritical[i] = a.subBuilders[i].Finish()
		}
	}
	a.set = set
	return nil
}

// Result returns the accumulated marginals. It fails until End has run.
func (a *MarginalAccumulator) Result() (*MarginalSet, error) {
	if err := a.result(); err != nil {
		return nil, err
	}
	return a.set, nil
}

// MarginalSet holds the marginal distributions of one fit.
type MarginalSet struct {
	// Vars names the parameter of each marginal axis.
	Vars []etas.Param

	// Values[k] holds the parameter values of the bins of axis k.
	Values [][]float64

	// Models lists the accumulated models; Results and SubCritical are
	// parallel to it.
	Models  []Model
	Results []*marginal.Result

	// SubCritical is nil unless dual tracking was enabled.
	SubCritical []*marginal.Result
}

func (s *MarginalSet) modelPos(m Model) int {
	for i, have := range s.Models {
		if have == m {
			return i
		}
	}
	return -1
}

// Result returns the marginals of model m.
func (s *MarginalSet) Result(m Model) (*marginal.Result, bool) {
	i := s.modelPos(m)
	if i < 0 {
		return nil, false
	}
	return s.Results[i], true
}

// SubCriticalResult returns the sub-critical marginals of model m.
func (s *MarginalSet) SubCriticalResult(m Model) (*marginal.Result, bool) {
	i := s.modelPos(m)
	if i < 0 || s.SubCritical == nil {
		return nil, false
	}
	return s.SubCritical[i], true
}

// Axis returns the marginal axis of parameter p, or false if p is forced.
func (s *MarginalSet) Axis(p etas.Param) (int, bool) {
	for k, v := range s.Vars {
		if v == p {
			return k, true
		}
	}
	return -1, false
}

// Moments returns the parameter moments under model m.
func (s *MarginalSet) Moments(m Model) (*marginal.Moments, error) {
	r, ok := s.Result(m)
	if !ok {
		return nil, fmt.Errorf("model %s was not accumulated", m)
	}
	return r.Moments(s.Values)
}

// MergeSets combines sets accumulated over disjoint voxels of the same
// grid with the same options.
func MergeSets(sets ...*MarginalSet) (*MarginalSet, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: nothing to merge", marginal.ErrDims)
	}
	first := sets[0]
	for n, s := range sets[1:] {
		if len(s.Models) != len(first.Models) || len(s.Vars) != len(first.Vars) ||
			(s.SubCritical == nil) != (first.SubCritical == nil) {
			return nil, fmt.Errorf("%w: set %d differs in layout", marginal.ErrDims, n+1)
		}
		for i := range s.Models {
			if s.Models[i] != first.Models[i] {
				return nil, fmt.Errorf("%w: set %d has model %s, want %s", marginal.ErrDims, n+1, s.Models[i], first.Models[i])
			}
		}
	}

	out := &MarginalSet{
		Vars:    first.Vars,
		Values:  first.Values,
		Models:  first.Models,
		Results: make([]*marginal.Result, len(first.Models)),
	}
	if first.SubCritical != nil {
		out.SubCritical = make([]*marginal.Result, len(first.Models))
	}
	parts := make([]*marginal.Result, len(sets))
	for i := range first.Models {
		for n, s := range sets {
			parts[n] = s.Results[i]
		}
		r, err := marginal.Merge(parts...)
		if err != nil {
			return nil, err
		}
		out.Results[i] = r
		if out.SubCritical != nil {
			for n, s := range sets {
				parts[n] = s.SubCritical[i]
			}
			if out.SubCritical[i], err = marginal.Merge(parts...); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

var _ Accumulator = (*MarginalAccumulator)(nil)
