// Package prior provides the Bayesian priors used to weight the ETAS
// parameter grid and the factories that select a prior for a fit.
//
// Priors are pure functions of their inputs and hold no mutable state, so
// one prior may be evaluated from any number of goroutines.
package prior

import (
	"errors"
	"fmt"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/fitctx"
)

var (
	// ErrNumerical is returned when prior parameters cannot be used
	// numerically, such as a covariance that is not positive definite.
	ErrNumerical = errors.New("prior numerical error")

	// ErrInvalidParams is returned for malformed prior parameters.
	ErrInvalidParams = errors.New("invalid prior parameters")
)

// Kind names a prior or factory variant.
type Kind string

const (
	KindUniform  Kind = "uniform"
	KindFixed    Kind = "fixed"
	KindGaussAPC Kind = "gauss_apc"
)

// Value is the result of evaluating a prior at one sub-voxel. The
// probability contribution of the sub-voxel is exp(LogDensity)*VoxVolume.
type Value struct {
	LogDensity float64
	VoxVolume  float64
}

// Prior evaluates the prior at grid points.
//
// The set of implementations is closed: Uniform and GaussAPC.
type Prior interface {
	// Kind returns the variant name.
	Kind() Kind

	// Evaluate returns the prior value of one sub-voxel.
	Evaluate(ctx *fitctx.Context, pt etas.GridPoint, vol etas.GridVolume) Value

	// EvaluateBatch fills out[i] with Evaluate(ctx, pts[i], vols[i]). All
	// points must share the same coarse (b, alpha, c, p, n) coordinates.
	// Results are identical to repeated Evaluate calls.
	EvaluateBatch(ctx *fitctx.Context, pts []etas.GridPoint, vols []etas.GridVolume, out []Value)

	sealed()
}

func checkBatch(pts []etas.GridPoint, vols []etas.GridVolume, out []Value) {
	if len(pts) != len(vols) || len(pts) != len(out) {
		panic(fmt.Sprintf("prior: batch length mismatch: %d points, %d volumes, %d outputs", len(pts), len(vols), len(out)))
	}
}

// Uniform is the flat prior: log density 0 everywhere, with the voxel
// volume taken from the parameter ranges.
type Uniform struct{}

// NewUniform returns the uniform prior.
func NewUniform() Uniform { return Uniform{} }

func (Uniform) Kind() Kind { return KindUniform }

func (Uniform) Evaluate(_ *fitctx.Context, _ etas.GridPoint, vol etas.GridVolume) Value {
	return Value{LogDensity: 0, VoxVolume: vol.Product()}
}

func (u Uniform) EvaluateBatch(ctx *fitctx.Context, pts []etas.GridPoint, vols []etas.GridVolume, out []Value) {
	checkBatch(pts, vols, out)
	for i := range pts {
		out[i] = u.Evaluate(ctx, pts[i], vols[i])
	}
}

func (Uniform) sealed() {}
