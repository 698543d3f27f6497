package prior

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/fitctx"
)

func testFitContext(t *testing.T) *fitctx.Context {
	t.Helper()
	c, err := fitctx.New(fitctx.Params{MRef: 3, MSup: 9.5, MagMin: 3, MagMax: 9.5, MagMain: 7.1, TIntBR: 365})
	require.NoError(t, err)
	return c
}

// testBatch returns points sharing one coarse voxel with varying zams/zmu.
func testBatch() ([]etas.GridPoint, []etas.GridVolume) {
	coarse := etas.GridPoint{B: 1.0, Alpha: 0.9, C: 0.004, P: 1.02, N: 0.35}
	var pts []etas.GridPoint
	var vols []etas.GridVolume
	for i, zams := range []float64{-1.0, -0.4, 0, 0.3, 0.9} {
		for j, zmu := range []float64{0, 0.5, 1.5} {
			pt := coarse
			pt.Zams = zams
			pt.Zmu = zmu
			pts = append(pts, pt)
			vol := etas.UnitVolume()
			vol[etas.ParamB] = 0.05
			vol[etas.ParamC] = 0.25
			vol[etas.ParamZams] = 0.1 + float64(i)*0.01
			vol[etas.ParamZmu] = 0.5 + float64(j)*0.1
			vols = append(vols, vol)
		}
	}
	return pts, vols
}

func TestUniform(t *testing.T) {
	ctx := testFitContext(t)
	pts, vols := testBatch()
	u := NewUniform()
	assert.Equal(t, KindUniform, u.Kind())

	for i := range pts {
		v := u.Evaluate(ctx, pts[i], vols[i])
		assert.Equal(t, 0.0, v.LogDensity)
		assert.InDelta(t, vols[i].Product(), v.VoxVolume, 0)
	}
}

func TestGaussAPC_AtMeanEqualsLogNorm(t *testing.T) {
	params := DefaultGaussAPCParams()
	params.LogCMean = -2
	g, err := NewGaussAPC(params)
	require.NoError(t, err)

	got := g.LogPriorLikelihoodAPC(params.AMean, params.PMean, math.Pow(10, params.LogCMean))
	assert.Equal(t, g.LogNormAPC(), got)
}

func TestGaussAPC_LogNorm(t *testing.T) {
	params := DefaultGaussAPCParams()
	g, err := NewGaussAPC(params)
	require.NoError(t, err)

	c := params.PriorCovariance()
	det := c[0][0]*(c[1][1]*c[2][2]-c[1][2]*c[2][1]) -
		c[0][1]*(c[1][0]*c[2][2]-c[1][2]*c[2][0]) +
		c[0][2]*(c[1][0]*c[2][1]-c[1][1]*c[2][0])
	want := -0.5 * math.Log(math.Pow(2*math.Pi, 3)*det)
	assert.InDelta(t, want, g.LogNormAPC(), 1e-12)

	// Moving p away from its mean lowers the density.
	assert.Less(t, g.LogPriorLikelihoodAPC(params.AMean, params.PMean+0.2, math.Pow(10, params.LogCMean)), g.LogNormAPC())
}

func TestGaussAPC_PriorCovariance(t *testing.T) {
	params := DefaultGaussAPCParams()
	c := params.PriorCovariance()
	assert.Equal(t, params.ASigma*params.ASigma, c[0][0])
	n := float64(params.NumSeq)
	assert.Equal(t, params.Cov[0][1]*n, c[0][1])
	assert.Equal(t, params.Cov[1][0]*n, c[1][0])
	assert.Equal(t, params.Cov[1][1]*n, c[1][1])
	assert.Equal(t, params.Cov[1][2]*n, c[1][2])
	assert.Equal(t, params.Cov[2][2]*n, c[2][2])
}

func TestGaussAPC_NotPositiveDefinite(t *testing.T) {
	params := DefaultGaussAPCParams()
	params.ASigma = 0.01
	params.NumSeq = 1
	params.Cov[0][1], params.Cov[1][0] = 0.1, 0.1
	params.Cov[1][1] = 0.01

	_, err := NewGaussAPC(params)
	assert.ErrorIs(t, err, ErrNumerical)
}

func TestGaussAPC_InvalidParams(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *GaussAPCParams)
	}{
		{"zero a sigma", func(p *GaussAPCParams) { p.ASigma = 0 }},
		{"zero ams sigma", func(p *GaussAPCParams) { p.AmsSigma = 0 }},
		{"no sequences", func(p *GaussAPCParams) { p.NumSeq = 0 }},
		{"asymmetric", func(p *GaussAPCParams) { p.Cov[0][2] = 0.5 }},
		{"nan", func(p *GaussAPCParams) { p.PMean = math.NaN() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultGaussAPCParams()
			tc.mutate(&p)
			_, err := NewGaussAPC(p)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestGaussAPC_Evaluate(t *testing.T) {
	ctx := testFitContext(t)
	g, err := NewGaussAPC(DefaultGaussAPCParams())
	require.NoError(t, err)
	pts, vols := testBatch()

	pt := pts[4]
	a := ctx.AFromBranchRatio(pt.N, pt.B, pt.Alpha, pt.P, pt.C)
	want := g.LogPriorLikelihoodAPC(a, pt.P, pt.C) + g.LogPriorLikelihoodAms(pt.Zams+a)
	v := g.Evaluate(ctx, pt, vols[4])
	assert.Equal(t, want, v.LogDensity)
	assert.Equal(t, vols[4].Product(), v.VoxVolume)

	ams := -1.5
	wantAms := -math.Log(0.6) - 0.5*math.Log(2*math.Pi) - (ams+2.0)*(ams+2.0)/(2*0.36)
	assert.InDelta(t, wantAms, g.LogPriorLikelihoodAms(ams), 1e-12)
}

func TestEvaluateBatch_MatchesSingle(t *testing.T) {
	ctx := testFitContext(t)
	g, err := NewGaussAPC(DefaultGaussAPCParams())
	require.NoError(t, err)
	pts, vols := testBatch()

	for _, p := range []Prior{NewUniform(), g} {
		t.Run(string(p.Kind()), func(t *testing.T) {
			out := make([]Value, len(pts))
			p.EvaluateBatch(ctx, pts, vols, out)
			for i := range pts {
				single := p.Evaluate(ctx, pts[i], vols[i])
				// Bit-identical, not merely close.
				assert.Equal(t, math.Float64bits(single.LogDensity), math.Float64bits(out[i].LogDensity), "point %d", i)
				assert.Equal(t, math.Float64bits(single.VoxVolume), math.Float64bits(out[i].VoxVolume), "point %d", i)
			}

			p.EvaluateBatch(ctx, nil, nil, nil)
			assert.Panics(t, func() { p.EvaluateBatch(ctx, pts, vols, out[:1]) })
		})
	}
}

func TestGaussAPC_ParamsAreCopied(t *testing.T) {
	params := DefaultGaussAPCParams()
	g, err := NewGaussAPC(params)
	require.NoError(t, err)
	params.AMean = 5
	params.Cov[2][2] = 99
	assert.Equal(t, DefaultGaussAPCParams(), g.Params())
}
