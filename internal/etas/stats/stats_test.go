package stats

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/combo"
	"github.com/banshee-data/etasfit/internal/etas/marginal"
)

func TestWeightedLogDensity(t *testing.T) {
	cases := []struct {
		w, bay, like, want float64
	}{
		{0, -3, -5, -5},
		{0.5, -3, -5, -6.5},
		{1, -3, -5, -8},
		{1.5, -3, -5, -5.5},
		{2, -3, -5, -3},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("w=%g", tc.w), func(t *testing.T) {
			assert.Equal(t, tc.want, WeightedLogDensity(tc.w, tc.bay, tc.like))
		})
	}
}

func TestWeightedLogDensity_BoundaryAtOne(t *testing.T) {
	for _, bay := range []float64{-12.5, -1, 0, 0.25, 3} {
		for _, like := range []float64{-1e4, -7.75, 0, 2.5} {
			got := WeightedLogDensity(1, bay, like)
			assert.Equal(t, bay+like, got)
			assert.Equal(t, bay*1+like, got)
			assert.Equal(t, bay+like*(2-1), got)
		}
	}
}

func TestModel(t *testing.T) {
	assert.Equal(t, [NumModels]float64{2, 0, 1, 0.4}, Weights(0.4))
	assert.Equal(t, "seq_spec", SeqSpec.String())
	assert.Equal(t, "Model(7)", Model(7).String())

	m, err := ParseModel(" Bayesian ")
	require.NoError(t, err)
	assert.Equal(t, Bayesian, m)
	_, err = ParseModel("frequentist")
	assert.Error(t, err)
	assert.Len(t, AllModels(), NumModels)
}

// testGrid has alpha forced to b and zmu forced to zero, so the marginal
// axes are b, c, p, n and zams.
func testGrid(t *testing.T) *combo.Grid {
	t.Helper()
	ba, err := combo.BAlphaFromValues([]float64{0.9, 1.1}, nil)
	require.NoError(t, err)
	cp, err := combo.CPFromValues([]float64{0.01}, []float64{1.1})
	require.NoError(t, err)
	n, err := combo.NFromValues([]float64{0.5, 1.0})
	require.NoError(t, err)
	zz, err := combo.ZamsZmuFromValues([]float64{-1, 0, 1}, nil)
	require.NoError(t, err)
	g, err := combo.NewGrid(ba, cp, n, zz)
	require.NoError(t, err)
	return g
}

func testPrior(pt etas.GridPoint) float64 {
	return -(pt.B-1.02)*(pt.B-1.02)/0.02 - 0.5*(pt.Zams-0.2)*(pt.Zams-0.2) - 0.5*(pt.N-0.7)*(pt.N-0.7)
}

func testLike(pt etas.GridPoint) float64 {
	return -3*(pt.N-0.6)*(pt.N-0.6) - 10*(pt.B-0.95)*(pt.B-0.95) + pt.Zams
}

// drive feeds every voxel accepted by keep to acc.
func drive(t *testing.T, acc Accumulator, g *combo.Grid, active float64, max [NumModels]float64, keep func(int) bool) {
	t.Helper()
	require.NoError(t, acc.Begin(active, max))
	for i := 0; i < g.VoxelCount(); i++ {
		if keep != nil && !keep(i) {
			continue
		}
		v := g.Voxel(i)
		require.NoError(t, acc.SetPoint(v))
		for sub := 0; sub < g.SubVoxelCount(); sub++ {
			pt := g.Point(v, sub)
			require.NoError(t, acc.AddData(sub, testPrior(pt), g.Volume(v, sub).Product(), testLike(pt)))
		}
	}
	require.NoError(t, acc.End())
}

func trackMax(t *testing.T, g *combo.Grid, active float64) [NumModels]float64 {
	t.Helper()
	mt := NewMaxTracker()
	drive(t, mt, g, active, [NumModels]float64{}, nil)
	max, err := mt.Max()
	require.NoError(t, err)
	assert.Equal(t, g.VoxelCount()*g.SubVoxelCount(), mt.Count())
	return max
}

// denseResult computes the expected marginals of model m directly.
func denseResult(t *testing.T, g *combo.Grid, w, max float64, subCriticalOnly bool) *marginal.Result {
	t.Helper()
	dense, err := marginal.NewGrid(2, 1, 1, 2, 3)
	require.NoError(t, err)
	for i := 0; i < g.VoxelCount(); i++ {
		v := g.Voxel(i)
		for sub := 0; sub < g.SubVoxelCount(); sub++ {
			pt := g.Point(v, sub)
			if subCriticalOnly && pt.N >= SuperCriticalBranchRatio {
				continue
			}
			prob := math.Exp(WeightedLogDensity(w, testPrior(pt), testLike(pt))-max) * g.Volume(v, sub).Product()
			dense.Set(prob,
				g.SepIndex(etas.ParamB, v, sub), 0, 0,
				g.SepIndex(etas.ParamN, v, sub),
				g.SepIndex(etas.ParamZams, v, sub))
		}
	}
	r, err := marginal.Reduce(dense, true, false)
	require.NoError(t, err)
	return r
}

func assertSameResult(t *testing.T, want, got *marginal.Result) {
	t.Helper()
	assert.InDelta(t, want.TotalProbability, got.TotalProbability, 1e-12)
	assert.InDelta(t, want.PeakProbability, got.PeakProbability, 1e-12)
	assert.Equal(t, want.PeakIndex, got.PeakIndex)
	assert.Equal(t, want.Modes, got.Modes)
	for a := range want.Marginals {
		assert.InDeltaSlice(t, want.Marginals[a], got.Marginals[a], 1e-12, "axis %d", a)
	}
}

func TestMaxTracker(t *testing.T) {
	g := testGrid(t)
	max := trackMax(t, g, 0.5)

	want := CombineMax()
	for i := 0; i < g.VoxelCount(); i++ {
		for sub := 0; sub < g.SubVoxelCount(); sub++ {
			pt := g.Point(g.Voxel(i), sub)
			for m, w := range Weights(0.5) {
				want[m] = math.Max(want[m], WeightedLogDensity(w, testPrior(pt), testLike(pt)))
			}
		}
	}
	assert.Equal(t, want, max)
}

func TestCombineMax(t *testing.T) {
	inf := math.Inf(-1)
	assert.Equal(t, [NumModels]float64{inf, inf, inf, inf}, CombineMax())
	got := CombineMax([NumModels]float64{1, 5, inf, 0}, [NumModels]float64{2, 4, -3, 0})
	assert.Equal(t, [NumModels]float64{2, 5, -3, 0}, got)
}

func TestMarginalAccumulator(t *testing.T) {
	g := testGrid(t)
	const active = 0.4
	max := trackMax(t, g, active)

	acc, err := NewMarginalAccumulator(g, MarginalOptions{Models: AllModels()})
	require.NoError(t, err)
	assert.Equal(t, []etas.Param{etas.ParamB, etas.ParamC, etas.ParamP, etas.ParamN, etas.ParamZams}, acc.Vars())

	drive(t, acc, g, active, max, nil)
	set, err := acc.Result()
	require.NoError(t, err)
	assert.Nil(t, set.SubCritical)

	for _, m := range AllModels() {
		t.Run(m.String(), func(t *testing.T) {
			got, ok := set.Result(m)
			require.True(t, ok)
			assertSameResult(t, denseResult(t, g, Weights(active)[m], max[m], false), got)
		})
	}

	k, ok := set.Axis(etas.ParamN)
	assert.True(t, ok)
	assert.Equal(t, 3, k)
	_, ok = set.Axis(etas.ParamAlpha)
	assert.False(t, ok)

	mom, err := set.Moments(Bayesian)
	require.NoError(t, err)
	assert.Greater(t, mom.Mean[0], 0.9)
	assert.Less(t, mom.Mean[0], 1.1)
	assert.InDelta(t, 0.01, mom.Mean[1], 1e-15)
	assert.InDelta(t, 0, mom.Variance[1], 1e-15)
}

func TestMarginalAccumulator_DualCritical(t *testing.T) {
	g := testGrid(t)
	max := trackMax(t, g, 0)

	acc, err := NewMarginalAccumulator(g, MarginalOptions{Models: []Model{Bayesian, Generic}, DualCritical: true})
	require.NoError(t, err)
	drive(t, acc, g, 0, max, nil)
	set, err := acc.Result()
	require.NoError(t, err)

	_, ok := set.Result(SeqSpec)
	assert.False(t, ok)

	for _, m := range []Model{Bayesian, Generic} {
		all, ok := set.Result(m)
		require.True(t, ok)
		sub, ok := set.SubCriticalResult(m)
		require.True(t, ok)

		assertSameResult(t, denseResult(t, g, Weights(0)[m], max[m], false), all)
		assertSameResult(t, denseResult(t, g, Weights(0)[m], max[m], true), sub)

		// n = 1.0 sits exactly on the threshold and counts as super-critical.
		assert.Equal(t, 0.0, sub.Marginals[3][1])
		assert.Greater(t, all.Marginals[3][1], 0.0)
		assert.InDelta(t, all.Marginals[3][0], sub.Marginals[3][0], 1e-12)
	}
}

func TestMergeSets(t *testing.T) {
	g := testGrid(t)
	max := trackMax(t, g, 0.3)
	opts := MarginalOptions{Models: []Model{Bayesian, Active}, DualCritical: true}

	whole, err := NewMarginalAccumulator(g, opts)
	require.NoError(t, err)
	drive(t, whole, g, 0.3, max, nil)
	want, err := whole.Result()
	require.NoError(t, err)

	var parts []*MarginalSet
	for w := 0; w < 3; w++ {
		acc, err := NewMarginalAccumulator(g, opts)
		require.NoError(t, err)
		drive(t, acc, g, 0.3, max, func(i int) bool { return i%3 == w })
		set, err := acc.Result()
		require.NoError(t, err)
		parts = append(parts, set)
	}
	got, err := MergeSets(parts...)
	require.NoError(t, err)

	for i := range want.Models {
		assertSameResult(t, want.Results[i], got.Results[i])
		assertSameResult(t, want.SubCritical[i], got.SubCritical[i])
	}

	_, err = MergeSets()
	assert.Error(t, err)

	other, err := NewMarginalAccumulator(g, MarginalOptions{Models: []Model{Active, Bayesian}, DualCritical: true})
	require.NoError(t, err)
	drive(t, other, g, 0.3, max, nil)
	otherSet, err := other.Result()
	require.NoError(t, err)
	_, err = MergeSets(want, otherSet)
	assert.ErrorIs(t, err, marginal.ErrDims)
}

func TestNewMarginalAccumulator_Errors(t *testing.T) {
	g := testGrid(t)
	_, err := NewMarginalAccumulator(nil, MarginalOptions{})
	assert.ErrorIs(t, err, combo.ErrConfig)
	_, err = NewMarginalAccumulator(g, MarginalOptions{Models: []Model{Bayesian, Bayesian}})
	assert.ErrorIs(t, err, combo.ErrConfig)
	_, err = NewMarginalAccumulator(g, MarginalOptions{Models: []Model{Model(9)}})
	assert.ErrorIs(t, err, combo.ErrConfig)

	acc, err := NewMarginalAccumulator(g, MarginalOptions{})
	require.NoError(t, err)
	drive(t, acc, g, 0, trackMax(t, g, 0), nil)
	set, err := acc.Result()
	require.NoError(t, err)
	assert.Equal(t, []Model{Bayesian}, set.Models)
	_, err = set.Moments(Generic)
	assert.Error(t, err)
}

func TestProtocol(t *testing.T) {
	g := testGrid(t)
	var max [NumModels]float64
	newAccs := map[string]func() Accumulator{
		"marginal": func() Accumulator {
			a, err := NewMarginalAccumulator(g, MarginalOptions{})
			require.NoError(t, err)
			return a
		},
		"max": func() Accumulator { return NewMaxTracker() },
	}

	steps := map[string]func(a Accumulator) error{
		"set before begin": func(a Accumulator) error { return a.SetPoint(combo.Voxel{}) },
		"add before begin": func(a Accumulator) error { return a.AddData(0, 0, 1, 0) },
		"end before begin": func(a Accumulator) error { return a.End() },
		"add before set": func(a Accumulator) error {
			require.NoError(t, a.Begin(1, max))
			return a.AddData(0, 0, 1, 0)
		},
		"begin twice": func(a Accumulator) error {
			require.NoError(t, a.Begin(1, max))
			return a.Begin(1, max)
		},
		"add after end": func(a Accumulator) error {
			require.NoError(t, a.Begin(1, max))
			require.NoError(t, a.SetPoint(combo.Voxel{}))
			require.NoError(t, a.End())
			return a.AddData(0, 0, 1, 0)
		},
		"end twice": func(a Accumulator) error {
			require.NoError(t, a.Begin(1, max))
			require.NoError(t, a.End())
			return a.End()
		},
	}

	for accName, newAcc := range newAccs {
		for stepName, step := range steps {
			t.Run(accName+"/"+stepName, func(t *testing.T) {
				assert.ErrorIs(t, step(newAcc()), ErrProtocol)
			})
		}
	}

	acc := newAccs["marginal"]().(*MarginalAccumulator)
	_, err := acc.Result()
	assert.ErrorIs(t, err, ErrProtocol)
	_, err = NewMaxTracker().Max()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestMarginalAccumulator_OutOfRange(t *testing.T) {
	g := testGrid(t)
	acc, err := NewMarginalAccumulator(g, MarginalOptions{})
	require.NoError(t, err)
	require.NoError(t, acc.Begin(1, [NumModels]float64{}))

	assert.ErrorIs(t, acc.SetPoint(combo.Voxel{N: 2}), ErrOutOfRange)
	// A rejected voxel leaves no current point.
	assert.ErrorIs(t, acc.AddData(0, 0, 1, 0), ErrProtocol)

	require.NoError(t, acc.SetPoint(combo.Voxel{N: 1}))
	assert.ErrorIs(t, acc.AddData(3, 0, 1, 0), ErrOutOfRange)
	assert.NoError(t, acc.AddData(2, 0, 1, 0))
}

// recorder logs every call it receives into a shared log.
type recorder struct {
	name string
	log  *[]string
	fail string
}

func (r *recorder) call(method string) error {
	*r.log = append(*r.log, r.name+"."+method)
	if method == r.fail {
		return errors.New(r.name + " failed")
	}
	return nil
}

func (r *recorder) Begin(float64, [NumModels]float64) error      { return r.call("Begin") }
func (r *recorder) SetPoint(combo.Voxel) error                   { return r.call("SetPoint") }
func (r *recorder) AddData(int, float64, float64, float64) error { return r.call("AddData") }
func (r *recorder) End() error                                   { return r.call("End") }

func TestNewMulti(t *testing.T) {
	assert.Equal(t, Null{}, NewMulti())
	assert.Equal(t, Null{}, NewMulti(nil, nil))

	var log []string
	a := &recorder{name: "a", log: &log}
	assert.Same(t, a, NewMulti(nil, a))

	b := &recorder{name: "b", log: &log}
	m := NewMulti(a, nil, b)
	require.IsType(t, &Multi{}, m)
	assert.Len(t, m.(*Multi).Children(), 2)

	require.NoError(t, m.Begin(1, [NumModels]float64{}))
	require.NoError(t, m.SetPoint(combo.Voxel{}))
	require.NoError(t, m.AddData(0, 0, 1, 0))
	require.NoError(t, m.End())
	assert.Equal(t, []string{
		"a.Begin", "b.Begin",
		"a.SetPoint", "b.SetPoint",
		"a.AddData", "b.AddData",
		"a.End", "b.End",
	}, log)
}

func TestMulti_StopsAtFirstError(t *testing.T) {
	var log []string
	a := &recorder{name: "a", log: &log, fail: "SetPoint"}
	b := &recorder{name: "b", log: &log}
	m := NewMulti(a, b)

	require.NoError(t, m.Begin(1, [NumModels]float64{}))
	assert.EqualError(t, m.SetPoint(combo.Voxel{}), "a failed")
	assert.Equal(t, []string{"a.Begin", "b.Begin", "a.SetPoint"}, log)
}

func TestNull(t *testing.T) {
	var n Null
	assert.NoError(t, n.AddData(0, 0, 0, 0))
	assert.NoError(t, n.End())
	assert.NoError(t, n.Begin(0, [NumModels]float64{}))
	assert.NoError(t, n.SetPoint(combo.Voxel{}))
}
