package prior

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/fitctx"
)

// GaussAPCParams are the regional parameters of the Gaussian prior on
// (a, p, log10 c) and on ams.
type GaussAPCParams struct {
	Regime   string  `json:"regime"`
	AMean    float64 `json:"a_mean"`
	ASigma   float64 `json:"a_sigma"`
	PMean    float64 `json:"p_mean"`
	LogCMean float64 `json:"log_c_mean"`

	// Cov is the empirical covariance of (a, p, log10 c) across the
	// sequences of the regime, and NumSeq the number of those sequences.
	Cov    [3][3]float64 `json:"cov"`
	NumSeq int           `json:"num_seq"`

	AmsMean  float64 `json:"ams_mean"`
	AmsSigma float64 `json:"ams_sigma"`
}

// DefaultRegime is the regime name of the global default parameters.
const DefaultRegime = "GLOBAL-AVERAGE"

// DefaultGaussAPCParams returns the global default parameters, used when no
// regional parameters apply.
func DefaultGaussAPCParams() GaussAPCParams {
	return GaussAPCParams{
		Regime:   DefaultRegime,
		AMean:    -2.2,
		ASigma:   0.8,
		PMean:    0.95,
		LogCMean: -2.5,
		Cov: [3][3]float64{
			{0.005, 0.0004, 0.002},
			{0.0004, 0.0005, 0.001},
			{0.002, 0.001, 0.02},
		},
		NumSeq:   40,
		AmsMean:  -2.0,
		AmsSigma: 0.6,
	}
}

// Clone returns a private copy. A nil receiver yields nil.
func (p *GaussAPCParams) Clone() *GaussAPCParams {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Validate checks the parameters for obvious errors. It does not check
// positive definiteness; NewGaussAPC does.
func (p GaussAPCParams) Validate() error {
	finite := []float64{p.AMean, p.ASigma, p.PMean, p.LogCMean, p.AmsMean, p.AmsSigma}
	for i := 0; i < 3; i++ {
		finite = append(finite, p.Cov[i][:]...)
	}
	for _, v := range finite {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: regime %q has a non-finite value", ErrInvalidParams, p.Regime)
		}
	}
	if p.ASigma <= 0 {
		return fmt.Errorf("%w: regime %q a_sigma must be positive, got %g", ErrInvalidParams, p.Regime, p.ASigma)
	}
	if p.AmsSigma <= 0 {
		return fmt.Errorf("%w: regime %q ams_sigma must be positive, got %g", ErrInvalidParams, p.Regime, p.AmsSigma)
	}
	if p.NumSeq < 1 {
		return fmt.Errorf("%w: regime %q num_seq must be at least 1, got %d", ErrInvalidParams, p.Regime, p.NumSeq)
	}
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			if p.Cov[i][j] != p.Cov[j][i] {
				return fmt.Errorf("%w: regime %q covariance is not symmetric at (%d, %d)", ErrInvalidParams, p.Regime, i, j)
			}
		}
	}
	return nil
}

// PriorCovariance returns the covariance used by the prior. The a variance
// is the wide a_sigma squared; every other entry is the empirical
// covariance scaled by the number of sequences.
func (p GaussAPCParams) PriorCovariance() [3][3]float64 {
	var c [3][3]float64
	scale := float64(p.NumSeq)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c[i][j] = p.Cov[i][j] * scale
		}
	}
	c[0][0] = p.ASigma * p.ASigma
	return c
}

// GaussAPC is a multivariate Gaussian prior on (a, p, log10 c) combined
// with an independent Gaussian on ams. a is derived from the branch ratio
// through the fit context, and ams = zams + a.
type GaussAPC struct {
	params GaussAPCParams

	mean    [3]float64
	inv     [3][3]float64
	logNorm float64
	ams     distuv.Normal
}

// NewGaussAPC builds the prior from a private copy of params. It returns
// ErrNumerical if the prior covariance is not positive definite.
func NewGaussAPC(params GaussAPCParams) (*GaussAPC, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	cov := params.PriorCovariance()
	sym := mat.NewSymDense(3, []float64{
		cov[0][0], cov[0][1], cov[0][2],
		cov[1][0], cov[1][1], cov[1][2],
		cov[2][0], cov[2][1], cov[2][2],
	})
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, fmt.Errorf("%w: regime %q prior covariance is not positive definite", ErrNumerical, params.Regime)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: regime %q prior covariance inverse: %v", ErrNumerical, params.Regime, err)
	}
	logDet := chol.LogDet()
	if math.IsNaN(logDet) || math.IsInf(logDet, 0) {
		return nil, fmt.Errorf("%w: regime %q prior covariance determinant is degenerate", ErrNumerical, params.Regime)
	}

	g := &GaussAPC{
		params:  params,
		mean:    [3]float64{params.AMean, params.PMean, params.LogCMean},
		logNorm: -0.5 * (3*math.Log(2*math.Pi) + logDet),
		ams:     distuv.Normal{Mu: params.AmsMean, Sigma: params.AmsSigma},
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			g.inv[i][j] = inv.At(i, j)
		}
	}
	return g, nil
}

func (g *GaussAPC) Kind() Kind { return KindGaussAPC }

// Params returns a copy of the parameters the prior was built from.
func (g *GaussAPC) Params() GaussAPCParams { return g.params }

// LogNormAPC returns the log normalization of the (a, p, log10 c) Gaussian,
// -0.5*log((2π)^3 det Σ).
func (g *GaussAPC) LogNormAPC() float64 { return g.logNorm }

// LogPriorLikelihoodAPC returns the log density of the (a, p, log10 c)
// Gaussian at (a, p, c).
func (g *GaussAPC) LogPriorLikelihoodAPC(a, p, c float64) float64 {
	d := [3]float64{a - g.mean[0], p - g.mean[1], math.Log10(c) - g.mean[2]}
	var q float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			q += d[i] * g.inv[i][j] * d[j]
		}
	}
	return -0.5*q + g.logNorm
}

// LogPriorLikelihoodAms returns the log density of the ams Gaussian.
func (g *GaussAPC) LogPriorLikelihoodAms(ams float64) float64 {
	return g.ams.LogProb(ams)
}

func (g *GaussAPC) coarse(ctx *fitctx.Context, pt etas.GridPoint) (a, apc float64) {
	a = ctx.AFromBranchRatio(pt.N, pt.B, pt.Alpha, pt.P, pt.C)
	return a, g.LogPriorLikelihoodAPC(a, pt.P, pt.C)
}

func (g *GaussAPC) value(ctx *fitctx.Context, a, apc float64, pt etas.GridPoint, vol etas.GridVolume) Value {
	ams := ctx.AmsFromZams(pt.Zams, a)
	return Value{
		LogDensity: apc + g.LogPriorLikelihoodAms(ams),
		VoxVolume:  vol.Product(),
	}
}

func (g *GaussAPC) Evaluate(ctx *fitctx.Context, pt etas.GridPoint, vol etas.GridVolume) Value {
	a, apc := g.coarse(ctx, pt)
	return g.value(ctx, a, apc, pt, vol)
}

// EvaluateBatch computes a and the (a, p, c) term once for the shared
// coarse coordinates.
func (g *GaussAPC) EvaluateBatch(ctx *fitctx.Context, pts []etas.GridPoint, vols []etas.GridVolume, out []Value) {
	checkBatch(pts, vols, out)
	if len(pts) == 0 {
		return
	}
	a, apc := g.coarse(ctx, pts[0])
	for i := range pts {
		out[i] = g.value(ctx, a, apc, pts[i], vols[i])
	}
}

func (g *GaussAPC) sealed() {}
