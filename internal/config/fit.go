package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/combo"
	"github.com/banshee-data/etasfit/internal/etas/fit"
	"github.com/banshee-data/etasfit/internal/etas/fitctx"
	"github.com/banshee-data/etasfit/internal/etas/paramrange"
	"github.com/banshee-data/etasfit/internal/etas/prior"
	"github.com/banshee-data/etasfit/internal/etas/stats"
	"github.com/banshee-data/etasfit/internal/fsutil"
)

// DefaultConfigPath is the path to the canonical fit defaults file.
const DefaultConfigPath = "config/fit.defaults.json"

// maxFileSize bounds the size of a config file.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// ErrInvalidConfig is returned by Validate and wraps every validation
// failure.
var ErrInvalidConfig = errors.New("invalid fit configuration")

// FitConfig is the JSON configuration of one fit. Every field is optional;
// the Get* methods supply defaults for fields left out of the file.
//
// Range fields accept the forms understood by paramrange.ParseRange. An
// empty alpha range forces alpha equal to b and an empty zmu range forces
// zmu to zero.
type FitConfig struct {
	// Fit context constants
	MRef    *float64 `json:"mref,omitempty"`
	MSup    *float64 `json:"msup,omitempty"`
	MagMin  *float64 `json:"mag_min,omitempty"`
	MagMax  *float64 `json:"mag_max,omitempty"`
	MagMain *float64 `json:"mag_main,omitempty"`
	TIntBR  *float64 `json:"tint_br,omitempty"` // days

	// Grid ranges
	B     *string `json:"b,omitempty"`
	Alpha *string `json:"alpha,omitempty"`
	C     *string `json:"c,omitempty"`
	P     *string `json:"p,omitempty"`
	N     *string `json:"n,omitempty"`
	Zams  *string `json:"zams,omitempty"`
	Zmu   *string `json:"zmu,omitempty"`

	// Sweep
	ActiveWeight *float64 `json:"active_weight,omitempty"`
	DualCritical *bool    `json:"dual_critical,omitempty"`
	Workers      *int     `json:"workers,omitempty"`
	SweepMode    *string  `json:"sweep_mode,omitempty"` // "handoff" or "per_worker"
	Models       []string `json:"models,omitempty"`

	// Prior is a persisted prior factory envelope. A missing prior
	// selects the Gaussian prior by mainshock location.
	Prior     json.RawMessage `json:"prior,omitempty"`
	Mainshock *etas.Location  `json:"mainshock,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyFitConfig returns a FitConfig with all fields unset.
func EmptyFitConfig() *FitConfig {
	return &FitConfig{}
}

// DefaultFitConfig returns a FitConfig with every field set to its
// default.
func DefaultFitConfig() *FitConfig {
	return &FitConfig{
		MRef:         ptrFloat64(3.0),
		MSup:         ptrFloat64(9.5),
		MagMin:       ptrFloat64(3.0),
		MagMax:       ptrFloat64(9.5),
		MagMain:      ptrFloat64(7.0),
		TIntBR:       ptrFloat64(365),
		B:            ptrString("1.0"),
		Alpha:        ptrString(""),
		C:            ptrString("1e-5:1:21:log"),
		P:            ptrString("0.5:2.0:16"),
		N:            ptrString("0.01:1.5:20:log"),
		Zams:         ptrString("-4.5:0.5:21"),
		Zmu:          ptrString(""),
		ActiveWeight: ptrFloat64(0),
		DualCritical: ptrBool(false),
		Workers:      ptrInt(0),
		SweepMode:    ptrString("handoff"),
		Models:       []string{"generic", "bayesian"},
	}
}

// LoadFitConfig loads a FitConfig from a JSON file on fsys.
// The file must have a .json extension and be under the max file size.
// Fields omitted from the file keep their defaults, so partial configs
// are safe.
func LoadFitConfig(fsys fsutil.FileSystem, path string) (*FitConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFitConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical fit defaults from
// DefaultConfigPath, searching the current directory and its parents.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *FitConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/etas/*/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadFitConfig(fsutil.OSFileSystem{}, path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every set field. Range strings are parsed, and the fit
// context constants are checked together.
func (c *FitConfig) Validate() error {
	if _, err := fitctx.New(c.FitParams()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	for name, s := range c.rangeFields() {
		if s == nil {
			continue
		}
		if strings.TrimSpace(*s) == "" {
			if name == "alpha" || name == "zmu" {
				continue
			}
			return fmt.Errorf("%w: %s range must not be empty", ErrInvalidConfig, name)
		}
		if _, err := paramrange.ParseRange(*s); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}

	if c.ActiveWeight != nil {
		w := *c.ActiveWeight
		if math.IsNaN(w) || w < 0 || w > 2 {
			return fmt.Errorf("%w: active_weight must be between 0 and 2, got %g", ErrInvalidConfig, w)
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidConfig, *c.Workers)
	}
	if c.SweepMode != nil {
		if _, err := fit.ParseMode(*c.SweepMode); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if _, err := c.GetModels(); err != nil {
		return err
	}
	if c.Mainshock != nil && !c.Mainshock.Valid() {
		return fmt.Errorf("%w: mainshock location %s out of range", ErrInvalidConfig, c.Mainshock)
	}
	return nil
}

func (c *FitConfig) rangeFields() map[string]*string {
	return map[string]*string{
		"b": c.B, "alpha": c.Alpha, "c": c.C, "p": c.P,
		"n": c.N, "zams": c.Zams, "zmu": c.Zmu,
	}
}

func getString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// FitParams returns the fit context constants with defaults filled in.
func (c *FitConfig) FitParams() fitctx.Params {
	return fitctx.Params{
		MRef:    c.GetMRef(),
		MSup:    c.GetMSup(),
		MagMin:  c.GetMagMin(),
		MagMax:  c.GetMagMax(),
		MagMain: c.GetMagMain(),
		TIntBR:  c.GetTIntBR(),
	}
}

// GetMRef returns the mref value or the default.
func (c *FitConfig) GetMRef() float64 {
	if c.MRef == nil {
		return 3.0
	}
	return *c.MRef
}

// GetMSup returns the msup value or the default.
func (c *FitConfig) GetMSup() float64 {
	if c.MSup == nil {
		return 9.5
	}
	return *c.MSup
}

// GetMagMin returns the mag_min value or the default.
func (c *FitConfig) GetMagMin() float64 {
	if c.MagMin == nil {
		return 3.0
	}
	return *c.MagMin
}

// GetMagMax returns the mag_max value or the default.
func (c *FitConfig) GetMagMax() float64 {
	if c.MagMax == nil {
		return 9.5
	}
	return *c.MagMax
}

// GetMagMain returns the mag_main value or the default.
func (c *FitConfig) GetMagMain() float64 {
	if c.MagMain == nil {
		return 7.0
	}
	return *c.MagMain
}

// GetTIntBR returns the tint_br value or the default.
func (c *FitConfig) GetTIntBR() float64 {
	if c.TIntBR == nil {
		return 365
	}
	return *c.TIntBR
}

// GetActiveWeight returns the active_weight value or the default.
func (c *FitConfig) GetActiveWeight() float64 {
	if c.ActiveWeight == nil {
		return 0
	}
	return *c.ActiveWeight
}

// GetDualCritical returns the dual_critical value or the default.
func (c *FitConfig) GetDualCritical() bool {
	if c.DualCritical == nil {
		return false
	}
	return *c.DualCritical
}

// GetWorkers returns the workers value or the default (0, meaning one per
// CPU).
func (c *FitConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetSweepMode returns the parsed sweep_mode, falling back to the default
// on a missing or unparseable value.
func (c *FitConfig) GetSweepMode() fit.Mode {
	m, err := fit.ParseMode(getString(c.SweepMode, "handoff"))
	if err != nil {
		return fit.HandOff
	}
	return m
}

// GetModels parses the models list. A missing list selects the generic and
// Bayesian models.
func (c *FitConfig) GetModels() ([]stats.Model, error) {
	if len(c.Models) == 0 {
		return []stats.Model{stats.Generic, stats.Bayesian}, nil
	}
	out := make([]stats.Model, 0, len(c.Models))
	seen := make(map[stats.Model]bool)
	for _, s := range c.Models {
		m, err := stats.ParseModel(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if seen[m] {
			return nil, fmt.Errorf("%w: model %s listed twice", ErrInvalidConfig, m)
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

func parseAxis(name, spec string) (paramrange.Range, error) {
	r, err := paramrange.ParseRange(spec)
	if err != nil {
		return paramrange.Range{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
	}
	return r, nil
}

// optionalAxis parses an axis that is forced when its spec is empty.
func optionalAxis(name, spec string, forced combo.Axis) (combo.Axis, error) {
	if strings.TrimSpace(spec) == "" {
		return forced, nil
	}
	r, err := parseAxis(name, spec)
	if err != nil {
		return combo.Axis{}, err
	}
	return combo.FreeAxis(r), nil
}

// BuildGrid discretizes the configured ranges into a fit grid.
func (c *FitConfig) BuildGrid() (*combo.Grid, error) {
	d := DefaultFitConfig()
	b, err := parseAxis("b", getString(c.B, *d.B))
	if err != nil {
		return nil, err
	}
	alpha, err := optionalAxis("alpha", getString(c.Alpha, *d.Alpha), combo.ForcedEqualAxis())
	if err != nil {
		return nil, err
	}
	cr, err := parseAxis("c", getString(c.C, *d.C))
	if err != nil {
		return nil, err
	}
	p, err := parseAxis("p", getString(c.P, *d.P))
	if err != nil {
		return nil, err
	}
	n, err := parseAxis("n", getString(c.N, *d.N))
	if err != nil {
		return nil, err
	}
	zams, err := parseAxis("zams", getString(c.Zams, *d.Zams))
	if err != nil {
		return nil, err
	}
	zmu, err := optionalAxis("zmu", getString(c.Zmu, *d.Zmu), combo.ForcedZeroAxis())
	if err != nil {
		return nil, err
	}

	ba, err := combo.BAlphaBuilder{B: b, Alpha: alpha}.Build()
	if err != nil {
		return nil, err
	}
	cp, err := combo.CPBuilder{C: cr, P: p}.Build()
	if err != nil {
		return nil, err
	}
	nx, err := combo.NBuilder{N: n}.Build()
	if err != nil {
		return nil, err
	}
	zz, err := combo.ZamsZmuBuilder{Zams: zams, Zmu: zmu}.Build()
	if err != nil {
		return nil, err
	}
	return combo.NewGrid(ba, cp, nx, zz)
}

// FitContext returns the validated fit context.
func (c *FitConfig) FitContext() (*fitctx.Context, error) {
	return fitctx.New(c.FitParams())
}

// FitOptions returns the sweep options.
func (c *FitConfig) FitOptions() (fit.Options, error) {
	models, err := c.GetModels()
	if err != nil {
		return fit.Options{}, err
	}
	return fit.Options{
		Workers:      c.GetWorkers(),
		Mode:         c.GetSweepMode(),
		ActiveWeight: c.GetActiveWeight(),
		Models:       models,
		DualCritical: c.GetDualCritical(),
	}, nil
}

// PriorFactory decodes the configured prior factory. src backs the regime
// and location lookups and may be nil.
func (c *FitConfig) PriorFactory(src prior.ParamsSource) (prior.Factory, error) {
	if len(c.Prior) == 0 || string(c.Prior) == "null" {
		return prior.NewGaussAPCByMainshock(src), nil
	}
	return prior.UnmarshalFactory(c.Prior, src)
}

// FactoryParams returns what the prior factory may consult.
func (c *FitConfig) FactoryParams(fctx *fitctx.Context) prior.FactoryParams {
	fp := prior.FactoryParams{Fit: fctx}
	if c.Mainshock != nil {
		loc := *c.Mainshock
		fp.Mainshock = &loc
	}
	return fp
}
