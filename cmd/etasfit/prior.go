package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/etasfit/internal/config"
	"github.com/banshee-data/etasfit/internal/etas/fit"
	"github.com/banshee-data/etasfit/internal/etas/prior"
	"github.com/banshee-data/etasfit/internal/etas/regimes"
	"github.com/banshee-data/etasfit/internal/fsutil"
	"github.com/banshee-data/etasfit/internal/monitoring"
	"github.com/banshee-data/etasfit/internal/security"
	"github.com/banshee-data/etasfit/internal/version"
)

// paramSummary describes the marginal of one free parameter.
type paramSummary struct {
	Param  string  `json:"param"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Mode   float64 `json:"mode"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Bins   int     `json:"bins"`
}

type modelSummary struct {
	Model            string         `json:"model"`
	TotalProbability float64        `json:"total_probability"`
	Params           []paramSummary `json:"params"`
	Covariance       [][]float64    `json:"covariance"`

	// SubCriticalFraction is the share of the probability on points with
	// branch ratio below 1, reported when dual tracking is enabled.
	SubCriticalFraction *float64 `json:"sub_critical_fraction,omitempty"`
}

type priorReport struct {
	FitID          string         `json:"fit_id"`
	Version        string         `json:"version"`
	Prior          prior.Kind     `json:"prior"`
	Regime         string         `json:"regime,omitempty"`
	Voxels         int            `json:"voxels"`
	SubVoxels      int            `json:"sub_voxels"`
	Started        time.Time      `json:"started"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Models         []modelSummary `json:"models"`
}

func newPriorReport(res *fit.Result, p prior.Prior) (*priorReport, error) {
	rep := &priorReport{
		FitID:          res.ID.String(),
		Version:        version.Version,
		Prior:          p.Kind(),
		Voxels:         res.Voxels,
		SubVoxels:      res.SubVoxels,
		Started:        res.Started.UTC(),
		ElapsedSeconds: res.Elapsed.Seconds(),
	}
	if g, ok := p.(*prior.GaussAPC); ok {
		rep.Regime = g.Params().Regime
	}

	set := res.Marginals
	for i, model := range set.Models {
		r := set.Results[i]
		m, err := set.Moments(model)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", model, err)
		}
		ms := modelSummary{
			Model:            model.String(),
			TotalProbability: r.TotalProbability,
			Covariance:       make([][]float64, len(set.Vars)),
		}
		for k, param := range set.Vars {
			values := set.Values[k]
			ms.Params = append(ms.Params, paramSummary{
				Param:  param.String(),
				Mean:   m.Mean[k],
				StdDev: math.Sqrt(math.Max(m.Variance[k], 0)),
				Mode:   values[r.Modes[k]],
				Min:    values[0],
				Max:    values[len(values)-1],
				Bins:   len(values),
			})
			ms.Covariance[k] = make([]float64, len(set.Vars))
			for j := range set.Vars {
				ms.Covariance[k][j] = m.Covariance.At(k, j)
			}
		}
		if sub, ok := set.SubCriticalResult(model); ok && r.TotalProbability > 0 {
			frac := sub.TotalProbability / r.TotalProbability
			ms.SubCriticalFraction = &frac
		}
		rep.Models = append(rep.Models, ms)
	}
	return rep, nil
}

// openParamsSource opens at most one regime source. A nil source means
// the built-in default parameters.
func openParamsSource(fsys fsutil.FileSystem, tablePath, dbPath string) (prior.ParamsSource, func() error, error) {
	noop := func() error { return nil }
	switch {
	case tablePath != "" && dbPath != "":
		return nil, noop, errors.New("-regimes and -db are mutually exclusive")
	case tablePath != "":
		t, err := regimes.LoadTable(fsys, tablePath)
		if err != nil {
			return nil, noop, err
		}
		return t, noop, nil
	case dbPath != "":
		s, err := regimes.OpenStore(dbPath)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	}
	return nil, noop, nil
}

func runPrior(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("prior", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Fit configuration JSON (built-in defaults when empty)")
	tablePath := fs.String("regimes", "", "Regime table JSON")
	dbPath := fs.String("db", "", "Regime database")
	outPath := fs.String("out", "", "Output JSON path (stdout when empty)")
	outDir := fs.String("out-dir", "", "Write <regime>.prior.json into this existing directory")
	verbose := fs.Bool("v", false, "Log pipeline stages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outPath != "" && *outDir != "" {
		return errors.New("-out and -out-dir are mutually exclusive")
	}
	monitoring.SetVerbose(*verbose)

	fsys := fsutil.OSFileSystem{}
	cfg := config.DefaultFitConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFitConfig(fsys, *configPath); err != nil {
			return err
		}
	}

	src, closeSrc, err := openParamsSource(fsys, *tablePath, *dbPath)
	if err != nil {
		return err
	}
	defer closeSrc()

	grid, err := cfg.BuildGrid()
	if err != nil {
		return err
	}
	fctx, err := cfg.FitContext()
	if err != nil {
		return err
	}
	factory, err := cfg.PriorFactory(src)
	if err != nil {
		return err
	}
	p, err := factory.MakePrior(cfg.FactoryParams(fctx))
	if err != nil {
		return err
	}
	opts, err := cfg.FitOptions()
	if err != nil {
		return err
	}
	fitter, err := fit.New(grid, fctx, p, nil, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := fitter.Run(ctx)
	if err != nil {
		return err
	}

	rep, err := newPriorReport(res, p)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dest := *outPath
	if *outDir != "" {
		name := rep.Regime
		if name == "" {
			name = string(rep.Prior)
		}
		dest = filepath.Join(*outDir, security.SanitizeFilename(name)+".prior.json")
		if err := security.ValidatePathWithinDirectory(dest, *outDir); err != nil {
			return err
		}
	}
	if dest == "" {
		_, err := stdout.Write(data)
		return err
	}
	if *outDir == "" {
		if err := security.ValidateOutputPath(dest); err != nil {
			return err
		}
	}
	if err := fsys.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	monitoring.Logf("[prior] wrote %s", dest)
	return nil
}
