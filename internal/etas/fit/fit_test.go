package fit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/combo"
	"github.com/banshee-data/etasfit/internal/etas/fitctx"
	"github.com/banshee-data/etasfit/internal/etas/prior"
	"github.com/banshee-data/etasfit/internal/etas/stats"
	"github.com/banshee-data/etasfit/internal/testutil"
	"github.com/banshee-data/etasfit/internal/timeutil"
)

func testGrid(t *testing.T) *combo.Grid {
	t.Helper()
	ba, err := combo.BAlphaFromValues([]float64{0.8, 1.0, 1.2}, []float64{0.9, 1.1})
	require.NoError(t, err)
	cp, err := combo.CPFromValues([]float64{0.001, 0.01, 0.1}, []float64{0.9, 1.1})
	require.NoError(t, err)
	n, err := combo.NFromValues([]float64{0.2, 0.5, 0.9, 1.2})
	require.NoError(t, err)
	zz, err := combo.ZamsZmuFromValues([]float64{-1, 0, 0.5}, []float64{0, 1})
	require.NoError(t, err)
	g, err := combo.NewGrid(ba, cp, n, zz)
	require.NoError(t, err)
	return g
}

func testContext(t *testing.T) *fitctx.Context {
	t.Helper()
	c, err := fitctx.New(fitctx.Params{MRef: 3, MSup: 9.5, MagMin: 3, MagMax: 9.5, MagMain: 7.1, TIntBR: 365})
	require.NoError(t, err)
	return c
}

var testLike = LikelihoodFunc(func(pt etas.GridPoint) float64 {
	lc := math.Log10(pt.C) + 2.3
	return -(20*(pt.B-0.97)*(pt.B-0.97) + 10*(pt.P-1.04)*(pt.P-1.04) + lc*lc +
		5*(pt.N-0.43)*(pt.N-0.43) + (pt.Zams-0.1)*(pt.Zams-0.1) + 0.3*pt.Zmu + 0.7*pt.Alpha)
})

// direct runs both passes on the calling goroutine.
func direct(t *testing.T, g *combo.Grid, ctx *fitctx.Context, p prior.Prior, opts Options) ([stats.NumModels]float64, *stats.MarginalSet) {
	t.Helper()
	pass := func(acc stats.Accumulator, maxLog [stats.NumModels]float64) {
		require.NoError(t, acc.Begin(opts.ActiveWeight, maxLog))
		for i := 0; i < g.VoxelCount(); i++ {
			v := g.Voxel(i)
			require.NoError(t, acc.SetPoint(v))
			for sub := 0; sub < g.SubVoxelCount(); sub++ {
				pt := g.Point(v, sub)
				val := p.Evaluate(ctx, pt, g.Volume(v, sub))
				require.NoError(t, acc.AddData(sub, val.LogDensity, val.VoxVolume, testLike(pt)))
			}
		}
		require.NoError(t, acc.End())
	}

	mt := stats.NewMaxTracker()
	pass(mt, [stats.NumModels]float64{})
	maxLog, err := mt.Max()
	require.NoError(t, err)

	acc, err := stats.NewMarginalAccumulator(g, stats.MarginalOptions{Models: opts.Models, DualCritical: opts.DualCritical})
	require.NoError(t, err)
	pass(acc, maxLog)
	set, err := acc.Result()
	require.NoError(t, err)
	return maxLog, set
}

func TestFitter_MatchesDirect(t *testing.T) {
	testutil.MuteLogs(t)
	g := testGrid(t)
	ctx := testContext(t)
	gauss, err := prior.NewGaussAPC(prior.DefaultGaussAPCParams())
	require.NoError(t, err)

	base := Options{ActiveWeight: 0.6, Models: stats.AllModels(), DualCritical: true}
	wantMax, want := direct(t, g, ctx, gauss, base)

	for _, mode := range []Mode{HandOff, PerWorker} {
		for _, workers := range []int{1, 3, 8} {
			opts := base
			opts.Mode = mode
			opts.Workers = workers
			t.Run(fmt.Sprintf("%s/%d", mode, workers), func(t *testing.T) {
				f, err := New(g, ctx, gauss, testLike, opts)
				require.NoError(t, err)
				res, err := f.Run(context.Background())
				require.NoError(t, err)

				assert.Equal(t, wantMax, res.Max)
				assert.Equal(t, g.VoxelCount(), res.Voxels)
				assert.Equal(t, 12, res.SubVoxels)
				assert.NotEqual(t, [16]byte{}, [16]byte(res.ID))

				got := res.Marginals
				assert.Equal(t, want.Vars, got.Vars)
				for i := range want.Models {
					w, h := want.Results[i], got.Results[i]
					assert.InDelta(t, w.TotalProbability, h.TotalProbability, 1e-9*w.TotalProbability)
					assert.Equal(t, w.PeakProbability, h.PeakProbability)
					assert.Equal(t, w.PeakIndex, h.PeakIndex)
					assert.Equal(t, w.Modes, h.Modes)
					for a := range w.Marginals {
						for b, v := range w.Marginals[a] {
							assert.InDelta(t, v, h.Marginals[a][b], 1e-9*w.TotalProbability)
						}
					}
					ws, hs := want.SubCritical[i], got.SubCritical[i]
					assert.InDelta(t, ws.TotalProbability, hs.TotalProbability, 1e-9*w.TotalProbability)
				}
			})
		}
	}
}

func TestFitter_UniformPriorZeroLikelihood(t *testing.T) {
	testutil.MuteLogs(t)
	g := testGrid(t)
	epoch := time.Date(2016, 11, 13, 11, 2, 56, 0, time.UTC)
	clock := timeutil.NewMockClock(epoch, 3*time.Second)
	f, err := New(g, testContext(t), prior.NewUniform(), nil, Options{Models: []stats.Model{stats.Generic}, Clock: clock})
	require.NoError(t, err)

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [stats.NumModels]float64{0, 0, 0, 0}, res.Max)
	assert.Equal(t, epoch, res.Started)
	assert.Equal(t, 3*time.Second, res.Elapsed)

	// Every cell has probability equal to its volume, so the total is the
	// volume of the whole grid.
	var total float64
	for i := 0; i < g.VoxelCount(); i++ {
		for sub := 0; sub < g.SubVoxelCount(); sub++ {
			total += g.Volume(g.Voxel(i), sub).Product()
		}
	}
	r, ok := res.Marginals.Result(stats.Generic)
	require.True(t, ok)
	testutil.AssertRelDelta(t, "total", total, r.TotalProbability, 1e-12)
}

type failingLikelihood struct{ at int }

var errLikelihood = errors.New("catalog window empty")

func (f failingLikelihood) Evaluate(v combo.Voxel, _ []etas.GridPoint, out []float64) error {
	if v.N == f.at {
		return errLikelihood
	}
	for i := range out {
		out[i] = -1
	}
	return nil
}

func TestFitter_LikelihoodError(t *testing.T) {
	testutil.MuteLogs(t)
	g := testGrid(t)
	for _, mode := range []Mode{HandOff, PerWorker} {
		t.Run(mode.String(), func(t *testing.T) {
			f, err := New(g, testContext(t), prior.NewUniform(), failingLikelihood{at: 2}, Options{Mode: mode, Workers: 4})
			require.NoError(t, err)
			_, err = f.Run(context.Background())
			assert.ErrorIs(t, err, errLikelihood)
		})
	}
}

func TestFitter_Cancelled(t *testing.T) {
	testutil.MuteLogs(t)
	g := testGrid(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, mode := range []Mode{HandOff, PerWorker} {
		t.Run(mode.String(), func(t *testing.T) {
			f, err := New(g, testContext(t), prior.NewUniform(), nil, Options{Mode: mode, Workers: 2})
			require.NoError(t, err)
			_, err = f.Run(ctx)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestSweep_Multi(t *testing.T) {
	g := testGrid(t)
	f, err := New(g, testContext(t), prior.NewUniform(), testLike, Options{Workers: 3})
	require.NoError(t, err)

	a, b := stats.NewMaxTracker(), stats.NewMaxTracker()
	acc := stats.NewMulti(a, nil, b)
	require.NoError(t, acc.Begin(0, [stats.NumModels]float64{}))
	require.NoError(t, f.Sweep(context.Background(), acc))
	require.NoError(t, acc.End())

	assert.Equal(t, g.VoxelCount()*g.SubVoxelCount(), a.Count())
	ma, err := a.Max()
	require.NoError(t, err)
	mb, err := b.Max()
	require.NoError(t, err)
	assert.Equal(t, ma, mb)
}

func TestNew_Errors(t *testing.T) {
	g := testGrid(t)
	ctx := testContext(t)
	u := prior.NewUniform()

	_, err := New(nil, ctx, u, nil, Options{})
	assert.Error(t, err)
	_, err = New(g, nil, u, nil, Options{})
	assert.Error(t, err)
	_, err = New(g, ctx, nil, nil, Options{})
	assert.Error(t, err)
	_, err = New(g, ctx, u, nil, Options{Mode: Mode(5)})
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": HandOff, "handoff": HandOff, "per_worker": PerWorker} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("gpu")
	assert.Error(t, err)
	assert.Equal(t, "Mode(4)", Mode(4).String())
}
