package prior

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/etasfit/internal/etas"
)

// ErrUnknownFactory is returned when a persisted factory has an unknown
// kind, mode or version, or is otherwise corrupt.
var ErrUnknownFactory = errors.New("unknown prior factory")

// factoryVersion is the current persisted envelope version.
const factoryVersion = 1

type priorEnvelope struct {
	Kind   Kind            `json:"kind"`
	Params *GaussAPCParams `json:"params,omitempty"`
}

type factoryEnvelope struct {
	Kind     Kind            `json:"kind"`
	Version  int             `json:"version"`
	Mode     string          `json:"mode,omitempty"`
	Regime   string          `json:"regime,omitempty"`
	Location *etas.Location  `json:"location,omitempty"`
	Params   *GaussAPCParams `json:"params,omitempty"`
	Prior    *priorEnvelope  `json:"prior,omitempty"`
}

// MarshalFactory encodes a factory as a versioned JSON envelope. The
// parameter source of a GaussAPCFactory is not persisted; it is supplied
// again to UnmarshalFactory.
func MarshalFactory(f Factory) ([]byte, error) {
	env := factoryEnvelope{Kind: f.Kind(), Version: factoryVersion}
	switch v := f.(type) {
	case UniformFactory:
	case *Fixed:
		pe, err := encodePrior(v.prior)
		if err != nil {
			return nil, err
		}
		env.Prior = pe
	case *GaussAPCFactory:
		env.Mode = v.mode.String()
		env.Regime = v.regime
		env.Location = v.loc
		env.Params = v.params
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrUnknownFactory, f)
	}
	return json.Marshal(env)
}

func encodePrior(p Prior) (*priorEnvelope, error) {
	switch v := p.(type) {
	case Uniform:
		return &priorEnvelope{Kind: KindUniform}, nil
	case *GaussAPC:
		params := v.Params()
		return &priorEnvelope{Kind: KindGaussAPC, Params: &params}, nil
	}
	return nil, fmt.Errorf("%w: cannot encode prior %T", ErrUnknownFactory, p)
}

// UnmarshalFactory decodes a factory envelope. src backs the lookup modes
// of a gauss_apc factory and may be nil, in which case those modes use the
// built-in default parameters.
func UnmarshalFactory(data []byte, src ParamsSource) (Factory, error) {
	var env factoryEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFactory, err)
	}
	if env.Version != factoryVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrUnknownFactory, env.Version)
	}

	switch env.Kind {
	case KindUniform:
		return NewUniformFactory(), nil
	case KindFixed:
		if env.Prior == nil {
			return nil, fmt.Errorf("%w: fixed factory without prior", ErrUnknownFactory)
		}
		p, err := decodePrior(env.Prior)
		if err != nil {
			return nil, err
		}
		return NewFixed(p)
	case KindGaussAPC:
		mode, ok := parseGaussAPCMode(env.Mode)
		if !ok {
			return nil, fmt.Errorf("%w: unknown gauss_apc mode %q", ErrUnknownFactory, env.Mode)
		}
		switch mode {
		case ByMainshock:
			return NewGaussAPCByMainshock(src), nil
		case ByRegime:
			return NewGaussAPCByRegime(src, env.Regime), nil
		case ByLocation:
			return NewGaussAPCByLocation(src, env.Location), nil
		default:
			return NewGaussAPCByParams(env.Params), nil
		}
	}
	return nil, fmt.Errorf("%w: kind %q", ErrUnknownFactory, env.Kind)
}

func decodePrior(pe *priorEnvelope) (Prior, error) {
	switch pe.Kind {
	case KindUniform:
		return Uniform{}, nil
	case KindGaussAPC:
		if pe.Params == nil {
			return nil, fmt.Errorf("%w: gauss_apc prior without params", ErrUnknownFactory)
		}
		return NewGaussAPC(*pe.Params)
	}
	return nil, fmt.Errorf("%w: prior kind %q", ErrUnknownFactory, pe.Kind)
}
