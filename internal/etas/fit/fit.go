// Package fit sweeps a parameter grid, evaluating the prior and the
// likelihood of every sub-voxel concurrently and feeding the results to
// statistics accumulators.
//
// A fit runs in two passes: the first finds the largest weighted log
// density of every model, the second accumulates marginals normalized by
// those maxima.
package fit

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/combo"
	"github.com/banshee-data/etasfit/internal/etas/fitctx"
	"github.com/banshee-data/etasfit/internal/etas/prior"
	"github.com/banshee-data/etasfit/internal/etas/stats"
	"github.com/banshee-data/etasfit/internal/monitoring"
	"github.com/banshee-data/etasfit/internal/timeutil"
)

// LogLikelihood evaluates the log likelihood of every sub-voxel of a voxel.
// Implementations must be safe for concurrent use.
type LogLikelihood interface {
	// Evaluate fills out[i] with the log likelihood of pts[i], the
	// sub-voxels of v in order.
	Evaluate(v combo.Voxel, pts []etas.GridPoint, out []float64) error
}

// ZeroLikelihood assigns log likelihood 0 everywhere, leaving the prior
// alone to shape the marginals.
type ZeroLikelihood struct{}

func (ZeroLikelihood) Evaluate(_ combo.Voxel, _ []etas.GridPoint, out []float64) error {
	for i := range out {
		out[i] = 0
	}
	return nil
}

// LikelihoodFunc adapts a pointwise function to LogLikelihood.
type LikelihoodFunc func(pt etas.GridPoint) float64

func (f LikelihoodFunc) Evaluate(_ combo.Voxel, pts []etas.GridPoint, out []float64) error {
	for i, pt := range pts {
		out[i] = f(pt)
	}
	return nil
}

// Mode selects how workers reach the accumulators.
type Mode int

const (
	// HandOff has workers send evaluated voxels to a single goroutine
	// that owns one accumulator.
	HandOff Mode = iota
	// PerWorker gives every worker its own accumulator and merges the
	// results at the end.
	PerWorker
)

func (m Mode) String() string {
	switch m {
	case HandOff:
		return "handoff"
	case PerWorker:
		return "per_worker"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name as returned by String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "handoff", "hand_off", "":
		return HandOff, nil
	case "per_worker", "perworker":
		return PerWorker, nil
	}
	return 0, fmt.Errorf("unknown sweep mode %q", s)
}

// Options configure a fit.
type Options struct {
	// Workers is the number of evaluating goroutines; zero means
	// GOMAXPROCS.
	Workers int
	Mode    Mode

	// ActiveWeight is the weight of stats.Active.
	ActiveWeight float64

	Models       []stats.Model
	DualCritical bool

	// Clock times the fit; nil means the wall clock.
	Clock timeutil.Clock
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Fitter runs fits over one grid.
type Fitter struct {
	grid  *combo.Grid
	fit   *fitctx.Context
	prior prior.Prior
	like  LogLikelihood
	opts  Options
}

// New checks the inputs of a fit.
func New(grid *combo.Grid, fit *fitctx.Context, p prior.Prior, like LogLikelihood, opts Options) (*Fitter, error) {
	switch {
	case grid == nil:
		return nil, errors.New("fit: nil grid")
	case fit == nil:
		return nil, errors.New("fit: nil fit context")
	case p == nil:
		return nil, errors.New("fit: nil prior")
	}
	if like == nil {
		like = ZeroLikelihood{}
	}
	if opts.Mode != HandOff && opts.Mode != PerWorker {
		return nil, fmt.Errorf("fit: invalid mode %d", int(opts.Mode))
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Fitter{grid: grid, fit: fit, prior: p, like: like, opts: opts}, nil
}

// Result is the outcome of one fit.
type Result struct {
	ID      uuid.UUID
	Started time.Time
	Elapsed time.Duration

	Voxels    int
	SubVoxels int

	// Max is the largest weighted log density per model.
	Max [stats.NumModels]float64

	Marginals *stats.MarginalSet
}

// Run performs both passes of the fit. Cancelling ctx stops the sweep.
func (f *Fitter) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		ID:        uuid.New(),
		Started:   f.opts.Clock.Now(),
		Voxels:    f.grid.VoxelCount(),
		SubVoxels: f.grid.SubVoxelCount(),
	}
	monitoring.Logf("[fit %s] %d voxels x %d sub-voxels, prior %s, %d workers (%s)",
		res.ID, res.Voxels, res.SubVoxels, f.prior.Kind(), f.opts.workers(), f.opts.Mode)

	maxLog, err := f.maxima(ctx)
	if err != nil {
		return nil, fmt.Errorf("fit %s: max pass: %w", res.ID, err)
	}
	res.Max = maxLog

	set, err := f.marginals(ctx, maxLog)
	if err != nil {
		return nil, fmt.Errorf("fit %s: marginal pass: %w", res.ID, err)
	}
	res.Marginals = set
	res.Elapsed = f.opts.Clock.Since(res.Started)
	monitoring.Logf("[fit %s] done in %s", res.ID, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (f *Fitter) maxima(ctx context.Context) ([stats.NumModels]float64, error) {
	defer monitoring.Stage("max pass")()
	var zero [stats.NumModels]float64

	if f.opts.Mode == HandOff {
		t := stats.NewMaxTracker()
		if err := t.Begin(f.opts.ActiveWeight, zero); err != nil {
			return zero, err
		}
		if err := f.Sweep(ctx, t); err != nil {
			return zero, err
		}
		if err := t.End(); err != nil {
			return zero, err
		}
		return t.Max()
	}

	trackers := make([]*stats.MaxTracker, f.opts.workers())
	accs := make([]stats.Accumulator, len(trackers))
	for i := range trackers {
		trackers[i] = stats.NewMaxTracker()
		accs[i] = trackers[i]
	}
	if err := f.sweepPerWorker(ctx, accs, zero); err != nil {
		return zero, err
	}
	maxes := make([][stats.NumModels]float64, len(trackers))
	for i, t := range trackers {
		m, err := t.Max()
		if err != nil {
			return zero, err
		}
		maxes[i] = m
	}
	return stats.CombineMax(maxes...), nil
}

func (f *Fitter) marginals(ctx context.Context, maxLog [stats.NumModels]float64) (*stats.MarginalSet, error) {
	defer monitoring.Stage("marginal pass")()
	opts := stats.MarginalOptions{Models: f.opts.Models, DualCritical: f.opts.DualCritical}

	if f.opts.Mode == HandOff {
		acc, err := stats.NewMarginalAccumulator(f.grid, opts)
		if err != nil {
			return nil, err
		}
		if err := acc.Begin(f.opts.ActiveWeight, maxLog); err != nil {
			return nil, err
		}
		if err := f.Sweep(ctx, acc); err != nil {
			return nil, err
		}
		if err := acc.End(); err != nil {
			return nil, err
		}
		return acc.Result()
	}

	marg := make([]*stats.MarginalAccumulator, f.opts.workers())
	accs := make([]stats.Accumulator, len(marg))
	for i := range marg {
		acc, err := stats.NewMarginalAccumulator(f.grid, opts)
		if err != nil {
			return nil, err
		}
		marg[i] = acc
		accs[i] = acc
	}
	if err := f.sweepPerWorker(ctx, accs, maxLog); err != nil {
		return nil, err
	}
	sets := make([]*stats.MarginalSet, len(marg))
	for i, acc := range marg {
		set, err := acc.Result()
		if err != nil {
			return nil, err
		}
		sets[i] = set
	}
	return stats.MergeSets(sets...)
}

// batch holds the evaluated sub-voxels of one voxel.
type batch struct {
	voxel combo.Voxel
	pts   []etas.GridPoint
	vols  []etas.GridVolume
	vals  []prior.Value
	like  []float64
}

func (f *Fitter) newBatch() *batch {
	n := f.grid.SubVoxelCount()
	return &batch{
		pts:  make([]etas.GridPoint, n),
		vols: make([]etas.GridVolume, n),
		vals: make([]prior.Value, n),
		like: make([]float64, n),
	}
}

func (f *Fitter) evaluate(b *batch, voxel int) error {
	b.voxel = f.grid.Voxel(voxel)
	f.grid.Fill(b.voxel, b.pts, b.vols)
	f.prior.EvaluateBatch(f.fit, b.pts, b.vols, b.vals)
	if err := f.like.Evaluate(b.voxel, b.pts, b.like); err != nil {
		return fmt.Errorf("likelihood at voxel %+v: %w", b.voxel, err)
	}
	return nil
}

func feed(acc stats.Accumulator, b *batch) error {
	if err := acc.SetPoint(b.voxel); err != nil {
		return err
	}
	for sub, v := range b.vals {
		if err := acc.AddData(sub, v.LogDensity, v.VoxVolume, b.like[sub]); err != nil {
			return err
		}
	}
	return nil
}

// enumerate sends every voxel number on the returned channel, stopping
// early if ctx is done.
func (f *Fitter) enumerate(ctx context.Context, g *errgroup.Group) <-chan int {
	voxels := make(chan int)
	g.Go(func() error {
		defer close(voxels)
		n := f.grid.VoxelCount()
		for i := 0; i < n; i++ {
			select {
			case voxels <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	return voxels
}

// Sweep evaluates every voxel on worker goroutines and feeds the results,
// one voxel at a time, to acc from a single goroutine. The caller owns
// acc's Begin and End.
func (f *Fitter) Sweep(ctx context.Context, acc stats.Accumulator) error {
	g, gctx := errgroup.WithContext(ctx)
	voxels := f.enumerate(gctx, g)
	workers := f.opts.workers()
	batches := make(chan *batch, workers)
	free := make(chan *batch, 2*workers)

	var producers sync.WaitGroup
	producers.Add(workers)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			defer producers.Done()
			for i := range voxels {
				var b *batch
				select {
				case b = <-free:
				default:
					b = f.newBatch()
				}
				if err := f.evaluate(b, i); err != nil {
					return err
				}
				select {
				case batches <- b:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		producers.Wait()
		close(batches)
		return nil
	})
	g.Go(func() error {
		for b := range batches {
			if err := feed(acc, b); err != nil {
				return err
			}
			select {
			case free <- b:
			default:
			}
		}
		return gctx.Err()
	})
	return g.Wait()
}

// sweepPerWorker begins every accumulator, shares the voxels among them
// with one goroutine each, and ends them.
func (f *Fitter) sweepPerWorker(ctx context.Context, accs []stats.Accumulator, maxLog [stats.NumModels]float64) error {
	for _, acc := range accs {
		if err := acc.Begin(f.opts.ActiveWeight, maxLog); err != nil {
			return err
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	voxels := f.enumerate(gctx, g)
	for _, acc := range accs {
		acc := acc
		g.Go(func() error {
			b := f.newBatch()
			for i := range voxels {
				if err := f.evaluate(b, i); err != nil {
					return err
				}
				if err := feed(acc, b); err != nil {
					return err
				}
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			return acc.End()
		})
	}
	return g.Wait()
}
