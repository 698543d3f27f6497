package combo

import (
	"fmt"

	"github.com/banshee-data/etasfit/internal/etas"
)

// Voxel identifies one coarse (b, alpha, c, p, n) combination by the combo
// index of each coarse index.
type Voxel struct {
	BAlpha int
	CP     int
	N      int
}

// Grid bundles the four indexes of one fit.
type Grid struct {
	BAlpha  *BAlpha
	CP      *CP
	N       *N
	ZamsZmu *ZamsZmu
}

// NewGrid checks that all indexes are present.
func NewGrid(ba *BAlpha, cp *CP, n *N, zz *ZamsZmu) (*Grid, error) {
	switch {
	case ba == nil:
		return nil, fmt.Errorf("%w: missing b/alpha index", ErrConfig)
	case cp == nil:
		return nil, fmt.Errorf("%w: missing c/p index", ErrConfig)
	case n == nil:
		return nil, fmt.Errorf("%w: missing n index", ErrConfig)
	case zz == nil:
		return nil, fmt.Errorf("%w: missing zams/zmu index", ErrConfig)
	}
	return &Grid{BAlpha: ba, CP: cp, N: n, ZamsZmu: zz}, nil
}

// VoxelCount returns the number of coarse voxels.
func (g *Grid) VoxelCount() int {
	return g.BAlpha.ComboCount() * g.CP.ComboCount() * g.N.ComboCount()
}

// SubVoxelCount returns the number of sub-voxels in every voxel.
func (g *Grid) SubVoxelCount() int { return g.ZamsZmu.ComboCount() }

// Voxel unflattens a voxel number. The b/alpha combination varies fastest,
// then c/p, then n, following the shared convention.
func (g *Grid) Voxel(i int) Voxel {
	nba := g.BAlpha.ComboCount()
	ncp := g.CP.ComboCount()
	return Voxel{
		BAlpha: i % nba,
		CP:     (i / nba) % ncp,
		N:      i / (nba * ncp),
	}
}

// VoxelNumber flattens a voxel.
func (g *Grid) VoxelNumber(v Voxel) int {
	nba := g.BAlpha.ComboCount()
	ncp := g.CP.ComboCount()
	return (v.N*ncp+v.CP)*nba + v.BAlpha
}

// CenterVoxel returns the voxel at the centre combination of each index.
func (g *Grid) CenterVoxel() Voxel {
	return Voxel{
		BAlpha: g.BAlpha.CenterComboIndex(),
		CP:     g.CP.CenterComboIndex(),
		N:      g.N.CenterComboIndex(),
	}
}

// CoarsePoint returns the voxel's parameters with zams and zmu left at zero.
func (g *Grid) CoarsePoint(v Voxel) etas.GridPoint {
	return etas.GridPoint{
		B:     g.BAlpha.B(v.BAlpha),
		Alpha: g.BAlpha.Alpha(v.BAlpha),
		C:     g.CP.C(v.CP),
		P:     g.CP.P(v.CP),
		N:     g.N.Value(AxisN, v.N),
	}
}

// Point returns the full parameter point of a sub-voxel.
func (g *Grid) Point(v Voxel, sub int) etas.GridPoint {
	pt := g.CoarsePoint(v)
	pt.Zams = g.ZamsZmu.Zams(sub)
	pt.Zmu = g.ZamsZmu.Zmu(sub)
	return pt
}

// Volume returns the per-axis volume contributions of a sub-voxel.
func (g *Grid) Volume(v Voxel, sub int) etas.GridVolume {
	var vol etas.GridVolume
	vol[etas.ParamB] = g.BAlpha.Volume(AxisB, v.BAlpha)
	vol[etas.ParamAlpha] = g.BAlpha.Volume(AxisAlpha, v.BAlpha)
	vol[etas.ParamC] = g.CP.Volume(AxisC, v.CP)
	vol[etas.ParamP] = g.CP.Volume(AxisP, v.CP)
	vol[etas.ParamN] = g.N.Volume(AxisN, v.N)
	vol[etas.ParamZams] = g.ZamsZmu.Volume(AxisZams, sub)
	vol[etas.ParamZmu] = g.ZamsZmu.Volume(AxisZmu, sub)
	return vol
}

// Fill writes the points and volumes of every sub-voxel of v into pts and
// vols, which must have length SubVoxelCount.
func (g *Grid) Fill(v Voxel, pts []etas.GridPoint, vols []etas.GridVolume) {
	coarse := g.CoarsePoint(v)
	for sub := range pts {
		pt := coarse
		pt.Zams = g.ZamsZmu.Zams(sub)
		pt.Zmu = g.ZamsZmu.Zmu(sub)
		pts[sub] = pt
		vols[sub] = g.Volume(v, sub)
	}
}

// Param locates a grid parameter in the indexes.
type Param struct {
	Index Index
	Axis  int
}

// ParamIndex returns the index and axis holding a grid parameter.
func (g *Grid) ParamIndex(p etas.Param) Param {
	switch p {
	case etas.ParamB:
		return Param{g.BAlpha, AxisB}
	case etas.ParamAlpha:
		return Param{g.BAlpha, AxisAlpha}
	case etas.ParamC:
		return Param{g.CP, AxisC}
	case etas.ParamP:
		return Param{g.CP, AxisP}
	case etas.ParamN:
		return Param{g.N, AxisN}
	case etas.ParamZams:
		return Param{g.ZamsZmu, AxisZams}
	case etas.ParamZmu:
		return Param{g.ZamsZmu, AxisZmu}
	}
	panic(fmt.Sprintf("combo: invalid parameter %d", int(p)))
}

// SepValues returns the separate values of a parameter; nil for a forced
// axis.
func (g *Grid) SepValues(p etas.Param) []float64 {
	loc := g.ParamIndex(p)
	n := loc.Index.SepCount(loc.Axis)
	if n == 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = loc.Index.SepValue(loc.Axis, i)
	}
	return out
}

// SepIndex returns the separate index of parameter p for a sub-voxel.
func (g *Grid) SepIndex(p etas.Param, v Voxel, sub int) int {
	loc := g.ParamIndex(p)
	switch p {
	case etas.ParamB, etas.ParamAlpha:
		return loc.Index.SepIndex(loc.Axis, v.BAlpha)
	case etas.ParamC, etas.ParamP:
		return loc.Index.SepIndex(loc.Axis, v.CP)
	case etas.ParamN:
		return v.N
	}
	return loc.Index.SepIndex(loc.Axis, sub)
}
