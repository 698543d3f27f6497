package prior

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/fitctx"
	"github.com/banshee-data/etasfit/internal/monitoring"
)

// ParamsSource resolves regional Gaussian prior parameters. Lookups report
// found=false when nothing matches; errors are reserved for failures of the
// underlying store.
type ParamsSource interface {
	ForRegime(name string) (p GaussAPCParams, found bool, err error)
	ForLocation(loc etas.Location) (p GaussAPCParams, found bool, err error)
	Default() (GaussAPCParams, error)
}

// FactoryParams carries what a factory may consult when building a prior.
type FactoryParams struct {
	Fit       *fitctx.Context
	Mainshock *etas.Location
}

// Factory selects and builds the prior for a fit.
//
// The set of implementations is closed: Fixed, UniformFactory and
// GaussAPCFactory.
type Factory interface {
	Kind() Kind
	MakePrior(fp FactoryParams) (Prior, error)
	sealed()
}

// Fixed always returns the prior it was given.
type Fixed struct {
	prior Prior
}

// NewFixed wraps p. It fails if p is nil.
func NewFixed(p Prior) (*Fixed, error) {
	if p == nil {
		return nil, errors.New("fixed prior factory needs a prior")
	}
	return &Fixed{prior: p}, nil
}

func (f *Fixed) Kind() Kind   { return KindFixed }
func (f *Fixed) Prior() Prior { return f.prior }

func (f *Fixed) MakePrior(FactoryParams) (Prior, error) { return f.prior, nil }

func (f *Fixed) sealed() {}

// UniformFactory always returns the uniform prior.
type UniformFactory struct{}

func NewUniformFactory() UniformFactory { return UniformFactory{} }

func (UniformFactory) Kind() Kind                             { return KindUniform }
func (UniformFactory) MakePrior(FactoryParams) (Prior, error) { return Uniform{}, nil }
func (UniformFactory) sealed()                                {}

// GaussAPCMode selects how a GaussAPCFactory finds its parameters.
type GaussAPCMode int

const (
	// ByMainshock resolves the mainshock location supplied at MakePrior.
	ByMainshock GaussAPCMode = iota
	// ByRegime looks up a regime by name.
	ByRegime
	// ByLocation resolves a location fixed at construction.
	ByLocation
	// ByParams uses parameters supplied at construction.
	ByParams
)

var modeNames = map[GaussAPCMode]string{
	ByMainshock: "mainshock",
	ByRegime:    "regime",
	ByLocation:  "location",
	ByParams:    "params",
}

func (m GaussAPCMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("GaussAPCMode(%d)", int(m))
}

func parseGaussAPCMode(s string) (GaussAPCMode, bool) {
	for m, name := range modeNames {
		if name == s {
			return m, true
		}
	}
	return 0, false
}

// GaussAPCFactory builds Gaussian (a, p, c) priors. Every mode falls back
// to the default parameters when its selector is missing or unknown.
type GaussAPCFactory struct {
	mode   GaussAPCMode
	src    ParamsSource
	regime string
	loc    *etas.Location
	params *GaussAPCParams
}

// NewGaussAPCByMainshock resolves the mainshock location at MakePrior
// time, falling back to the default when the location is absent or maps to
// no regime.
func NewGaussAPCByMainshock(src ParamsSource) *GaussAPCFactory {
	return &GaussAPCFactory{mode: ByMainshock, src: src}
}

// NewGaussAPCByRegime looks up a named regime, falling back to the default
// when the name is blank or unknown.
func NewGaussAPCByRegime(src ParamsSource, regime string) *GaussAPCFactory {
	return &GaussAPCFactory{mode: ByRegime, src: src, regime: regime}
}

// NewGaussAPCByLocation resolves loc, falling back to the default when loc
// is nil or maps to no regime.
func NewGaussAPCByLocation(src ParamsSource, loc *etas.Location) *GaussAPCFactory {
	f := &GaussAPCFactory{mode: ByLocation, src: src}
	if loc != nil {
		l := *loc
		f.loc = &l
	}
	return f
}

// NewGaussAPCByParams uses a private copy of params, or the default when
// params is nil.
func NewGaussAPCByParams(params *GaussAPCParams) *GaussAPCFactory {
	return &GaussAPCFactory{mode: ByParams, params: params.Clone()}
}

func (f *GaussAPCFactory) Kind() Kind         { return KindGaussAPC }
func (f *GaussAPCFactory) Mode() GaussAPCMode { return f.mode }
func (f *GaussAPCFactory) sealed()            {}

// Resolve returns the parameters the factory would use.
func (f *GaussAPCFactory) Resolve(fp FactoryParams) (GaussAPCParams, error) {
	switch f.mode {
	case ByMainshock:
		return f.lookupLocation(fp.Mainshock, "mainshock")
	case ByRegime:
		name := strings.TrimSpace(f.regime)
		if name == "" || f.src == nil {
			return f.defaults("no regime name")
		}
		p, found, err := f.src.ForRegime(name)
		if err != nil {
			return GaussAPCParams{}, fmt.Errorf("regime %q lookup: %w", name, err)
		}
		if !found {
			return f.defaults(fmt.Sprintf("regime %q not found", name))
		}
		return p, nil
	case ByLocation:
		return f.lookupLocation(f.loc, "location")
	case ByParams:
		if f.params == nil {
			return f.defaults("no parameters supplied")
		}
		return *f.params, nil
	}
	return GaussAPCParams{}, fmt.Errorf("unknown gauss_apc mode %d", int(f.mode))
}

func (f *GaussAPCFactory) lookupLocation(loc *etas.Location, what string) (GaussAPCParams, error) {
	if loc == nil || !loc.Valid() || f.src == nil {
		return f.defaults("no " + what + " location")
	}
	p, found, err := f.src.ForLocation(*loc)
	if err != nil {
		return GaussAPCParams{}, fmt.Errorf("%s location %v lookup: %w", what, *loc, err)
	}
	if !found {
		return f.defaults(fmt.Sprintf("%s location %v has no regime", what, *loc))
	}
	return p, nil
}

func (f *GaussAPCFactory) defaults(reason string) (GaussAPCParams, error) {
	monitoring.Logf("[prior] gauss_apc %s: %s, using default parameters", f.mode, reason)
	if f.src == nil {
		return DefaultGaussAPCParams(), nil
	}
	p, err := f.src.Default()
	if err != nil {
		return GaussAPCParams{}, fmt.Errorf("default parameters: %w", err)
	}
	return p, nil
}

// MakePrior resolves the parameters and builds a prior from a copy of
// them.
func (f *GaussAPCFactory) MakePrior(fp FactoryParams) (Prior, error) {
	p, err := f.Resolve(fp)
	if err != nil {
		return nil, err
	}
	g, err := NewGaussAPC(p)
	if err != nil {
		return nil, err
	}
	return g, nil
}

var (
	_ Factory = (*Fixed)(nil)
	_ Factory = UniformFactory{}
	_ Factory = (*GaussAPCFactory)(nil)
	_ Prior   = Uniform{}
	_ Prior   = (*GaussAPC)(nil)
)
