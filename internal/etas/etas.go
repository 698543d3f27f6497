// Package etas holds the value types shared by the ETAS parameter
// estimation packages.
//
// Responsibilities: the seven-parameter grid point, per-axis voxel volume
// contributions, parameter naming, and geographic locations used for
// regional prior lookup.
//
// Dependency rule: this package imports nothing from the rest of the
// module. Subpackages (paramrange, combo, fitctx, prior, stats, marginal,
// fit) build on it in that order.
package etas

import (
	"fmt"
	"math"
)

// Param identifies one of the seven ETAS grid parameters.
type Param int

const (
	ParamB     Param = iota // Gutenberg-Richter b-value
	ParamAlpha              // ETAS magnitude-scaling exponent
	ParamC                  // Omori c-value (days)
	ParamP                  // Omori p-value
	ParamN                  // branch ratio
	ParamZams               // mainshock productivity, relative to branch ratio
	ParamZmu                // background rate

	NumParams = 7
)

var paramNames = [NumParams]string{"b", "alpha", "c", "p", "n", "zams", "zmu"}

// String returns the short parameter name used in output tables.
func (p Param) String() string {
	if p < 0 || int(p) >= NumParams {
		return fmt.Sprintf("Param(%d)", int(p))
	}
	return paramNames[p]
}

// AllParams lists the parameters in canonical order.
func AllParams() []Param {
	return []Param{ParamB, ParamAlpha, ParamC, ParamP, ParamN, ParamZams, ParamZmu}
}

// GridPoint is a point in ETAS parameter space.
type GridPoint struct {
	B     float64
	Alpha float64
	C     float64
	P     float64
	N     float64
	Zams  float64
	Zmu   float64
}

// Get returns the value of one parameter.
func (g GridPoint) Get(p Param) float64 {
	switch p {
	case ParamB:
		return g.B
	case ParamAlpha:
		return g.Alpha
	case ParamC:
		return g.C
	case ParamP:
		return g.P
	case ParamN:
		return g.N
	case ParamZams:
		return g.Zams
	case ParamZmu:
		return g.Zmu
	}
	panic(fmt.Sprintf("etas: invalid parameter %d", int(p)))
}

// SameVoxel reports whether two points share the coarse coordinates
// (b, alpha, c, p, n).
func (g GridPoint) SameVoxel(o GridPoint) bool {
	return g.B == o.B && g.Alpha == o.Alpha && g.C == o.C && g.P == o.P && g.N == o.N
}

// GridVolume holds the volume contribution of each axis for one sub-voxel.
// Axes that are forced (alpha equal to b, zmu equal to zero) contribute 1.
type GridVolume [NumParams]float64

// UnitVolume returns a volume with every axis contributing 1.
func UnitVolume() GridVolume {
	var v GridVolume
	for i := range v {
		v[i] = 1
	}
	return v
}

// Product multiplies the per-axis contributions.
func (v GridVolume) Product() float64 {
	prod := 1.0
	for _, x := range v {
		prod *= x
	}
	return prod
}

// Location is a geographic point in degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinates are finite and in range.
// Longitudes are accepted in either the [-180, 180] or [0, 360] convention.
func (l Location) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 360
}

// NormalizedLon returns the longitude folded into [-180, 180).
func (l Location) NormalizedLon() float64 {
	lon := math.Mod(l.Lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func (l Location) String() string {
	return fmt.Sprintf("(%.4f, %.4f)", l.Lat, l.Lon)
}
