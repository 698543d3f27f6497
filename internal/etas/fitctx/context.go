// Package fitctx holds the immutable per-fit constants and the conversions
// between relative and absolute ETAS productivity parameterizations.
package fitctx

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidContext is returned when fit constants are inconsistent.
var ErrInvalidContext = errors.New("invalid fit context")

// Params are the raw constants of one fit.
type Params struct {
	MRef    float64 // reference magnitude
	MSup    float64 // maximum magnitude for productivity integrals
	MagMin  float64 // minimum simulated magnitude
	MagMax  float64 // maximum simulated magnitude
	MagMain float64 // mainshock magnitude
	TIntBR  float64 // branch ratio time window, in days
}

// Context is the validated, read-only form of Params. It is safe for
// concurrent use.
type Context struct {
	p Params
}

// New validates params and returns a Context.
func New(p Params) (*Context, error) {
	for name, v := range map[string]float64{
		"mref": p.MRef, "msup": p.MSup, "mag_min": p.MagMin,
		"mag_max": p.MagMax, "mag_main": p.MagMain, "tint_br": p.TIntBR,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s is not finite", ErrInvalidContext, name)
		}
	}
	if p.MSup <= p.MRef {
		return nil, fmt.Errorf("%w: msup %g must exceed mref %g", ErrInvalidContext, p.MSup, p.MRef)
	}
	if p.MagMax < p.MagMin {
		return nil, fmt.Errorf("%w: mag_max %g below mag_min %g", ErrInvalidContext, p.MagMax, p.MagMin)
	}
	if p.TIntBR <= 0 {
		return nil, fmt.Errorf("%w: tint_br must be positive, got %g", ErrInvalidContext, p.TIntBR)
	}
	return &Context{p: p}, nil
}

// Params returns a copy of the constants.
func (c *Context) Params() Params { return c.p }

func (c *Context) MRef() float64    { return c.p.MRef }
func (c *Context) MSup() float64    { return c.p.MSup }
func (c *Context) MagMin() float64  { return c.p.MagMin }
func (c *Context) MagMax() float64  { return c.p.MagMax }
func (c *Context) MagMain() float64 { return c.p.MagMain }
func (c *Context) TIntBR() float64  { return c.p.TIntBR }

// OmoriIntegral returns the integral of (t+c)^-p over [0, tint_br].
func (c *Context) OmoriIntegral(p, cv float64) float64 {
	t := c.p.TIntBR
	if math.Abs(p-1) < 1e-9 {
		return math.Log((t + cv) / cv)
	}
	q := 1 - p
	return (math.Pow(t+cv, q) - math.Pow(cv, q)) / q
}

// MagIntegral returns the expected productivity-weighted magnitude density
// between mref and msup:
//
//	∫ b ln10 10^((alpha-b)(m-mref)) dm
func (c *Context) MagIntegral(b, alpha float64) float64 {
	span := c.p.MSup - c.p.MRef
	d := alpha - b
	if math.Abs(d) < 1e-9 {
		return b * math.Ln10 * span
	}
	return b * (math.Pow(10, d*span) - 1) / d
}

// BranchRatio converts productivity a to branch ratio n.
func (c *Context) BranchRatio(a, b, alpha, p, cv float64) float64 {
	return math.Pow(10, a) * c.OmoriIntegral(p, cv) * c.MagIntegral(b, alpha)
}

// AFromBranchRatio converts branch ratio n to productivity a. It is the
// inverse of BranchRatio; n <= 0 yields -Inf.
func (c *Context) AFromBranchRatio(n, b, alpha, p, cv float64) float64 {
	if n <= 0 {
		return math.Inf(-1)
	}
	return math.Log10(n) - math.Log10(c.OmoriIntegral(p, cv)*c.MagIntegral(b, alpha))
}

// AmsFromZams converts relative mainshock productivity to absolute.
func (c *Context) AmsFromZams(zams, a float64) float64 { return zams + a }

// ZamsFromAms converts absolute mainshock productivity to relative.
func (c *Context) ZamsFromAms(ams, a float64) float64 { return ams - a }

// MainshockRate returns the aftershock rate coefficient of the mainshock,
// 10^(ams + alpha(mag_main - mref)).
func (c *Context) MainshockRate(ams, alpha float64) float64 {
	return math.Pow(10, ams+alpha*(c.p.MagMain-c.p.MRef))
}

// MuFromZmu converts the background rate above mref to the rate above the
// minimum simulated magnitude.
func (c *Context) MuFromZmu(zmu, b float64) float64 {
	return zmu * math.Pow(10, -b*(c.p.MagMin-c.p.MRef))
}

// ZmuFromMu is the inverse of MuFromZmu.
func (c *Context) ZmuFromMu(mu, b float64) float64 {
	return mu * math.Pow(10, b*(c.p.MagMin-c.p.MRef))
}

func (c *Context) String() string {
	return fmt.Sprintf("mref=%.2f msup=%.2f mag=[%.2f, %.2f] main=%.2f tint=%g",
		c.p.MRef, c.p.MSup, c.p.MagMin, c.p.MagMax, c.p.MagMain, c.p.TIntBR)
}
