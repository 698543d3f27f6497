package combo

import (
	"fmt"

	"github.com/banshee-data/etasfit/internal/etas/paramrange"
)

// Axis numbers for each index.
const (
	AxisB     = 0
	AxisAlpha = 1

	AxisC = 0
	AxisP = 1

	AxisN = 0

	AxisZams = 0
	AxisZmu  = 1
)

// BAlpha indexes (b, alpha) combinations. Alpha may be forced equal to b.
type BAlpha struct{ pair }

// BAlphaBuilder collects the inputs for a BAlpha index.
type BAlphaBuilder struct {
	B     paramrange.Range
	Alpha Axis
}

// Build validates the inputs and returns the immutable index.
func (b BAlphaBuilder) Build() (*BAlpha, error) {
	p, err := newPair([2]string{"b", "alpha"}, b.B, b.Alpha, ForcedEqual)
	if err != nil {
		return nil, err
	}
	return &BAlpha{p}, nil
}

// BAlphaFromValues builds a BAlpha index from separate value arrays. A nil
// alpha slice forces alpha equal to b.
func BAlphaFromValues(b, alpha []float64) (*BAlpha, error) {
	br, err := valuesRange("b", b, paramrange.Linear)
	if err != nil {
		return nil, err
	}
	ax := ForcedEqualAxis()
	if alpha != nil {
		ar, err := valuesRange("alpha", alpha, paramrange.Linear)
		if err != nil {
			return nil, err
		}
		ax = FreeAxis(ar)
	}
	return BAlphaBuilder{B: br, Alpha: ax}.Build()
}

// BAlphaFromCombos builds a BAlpha index from per-combination arrays, where
// bCount is the number of distinct b values.
func BAlphaFromCombos(b, alpha []float64, bCount int) (*BAlpha, error) {
	p, err := fromFlattened([2]string{"b", "alpha"}, b, alpha, bCount, ForcedEqual, [2]paramrange.Scale{paramrange.Linear, paramrange.Linear})
	if err != nil {
		return nil, err
	}
	return &BAlpha{p}, nil
}

// AlphaForced reports whether alpha is forced equal to b.
func (x *BAlpha) AlphaForced() bool { return x.forced() }

// B returns the b value of a combination.
func (x *BAlpha) B(combo int) float64 { return x.Value(AxisB, combo) }

// Alpha returns the alpha value of a combination.
func (x *BAlpha) Alpha(combo int) float64 { return x.Value(AxisAlpha, combo) }

// CP indexes (c, p) combinations.
type CP struct{ pair }

// CPBuilder collects the inputs for a CP index.
type CPBuilder struct {
	C paramrange.Range
	P paramrange.Range
}

// Build validates the inputs and returns the immutable index.
func (b CPBuilder) Build() (*CP, error) {
	p, err := newPair([2]string{"c", "p"}, b.C, FreeAxis(b.P), Free)
	if err != nil {
		return nil, err
	}
	return &CP{p}, nil
}

// CPFromValues builds a CP index from separate value arrays. The c values
// get log-scaled cells.
func CPFromValues(c, p []float64) (*CP, error) {
	cr, err := valuesRange("c", c, paramrange.Log)
	if err != nil {
		return nil, err
	}
	pr, err := valuesRange("p", p, paramrange.Linear)
	if err != nil {
		return nil, err
	}
	return CPBuilder{C: cr, P: pr}.Build()
}

// C returns the c value of a combination.
func (x *CP) C(combo int) float64 { return x.Value(AxisC, combo) }

// P returns the p value of a combination.
func (x *CP) P(combo int) float64 { return x.Value(AxisP, combo) }

// N indexes the branch ratio. It has a single axis; the combination index
// equals the separate index.
type N struct {
	r paramrange.Range
}

// NBuilder collects the inputs for an N index.
type NBuilder struct {
	N paramrange.Range
}

// Build validates the input and returns the immutable index.
func (b NBuilder) Build() (*N, error) {
	if b.N.Empty() {
		return nil, fmt.Errorf("%w: n range is empty", ErrConfig)
	}
	return &N{r: b.N}, nil
}

// NFromValues builds an N index from a value array.
func NFromValues(n []float64) (*N, error) {
	r, err := valuesRange("n", n, paramrange.Log)
	if err != nil {
		return nil, err
	}
	return NBuilder{N: r}.Build()
}

func (x *N) check(axis int) {
	if axis != AxisN {
		panic(fmt.Sprintf("combo: axis %d out of range for n index", axis))
	}
}

func (x *N) Axes() int                    { return 1 }
func (x *N) ComboCount() int              { return x.r.Len() }
func (x *N) SepCount(axis int) int        { x.check(axis); return x.r.Len() }
func (x *N) NonzeroSepCount(axis int) int { return x.SepCount(axis) }
func (x *N) SepValue(axis, sep int) float64 {
	x.check(axis)
	return x.r.Value(sep)
}
func (x *N) Value(axis, combo int) float64 { x.check(axis); return x.r.Value(combo) }
func (x *N) ComboIndex(seps ...int) int {
	if len(seps) != 1 {
		panic(fmt.Sprintf("combo: n index needs 1 sep index, got %d", len(seps)))
	}
	return seps[0]
}
func (x *N) SepIndex(axis, combo int) int { x.check(axis); return combo }
func (x *N) CenterComboIndex() int        { return x.r.Len() / 2 }
func (x *N) Volume(axis, combo int) float64 {
	x.check(axis)
	return x.r.Element(combo).Volume()
}

// ZamsZmu indexes the sub-voxel (zams, zmu) combinations. Zmu may be forced
// to zero.
type ZamsZmu struct{ pair }

// ZamsZmuBuilder collects the inputs for a ZamsZmu index.
type ZamsZmuBuilder struct {
	Zams paramrange.Range
	Zmu  Axis
}

// Build validates the inputs and returns the immutable index.
func (b ZamsZmuBuilder) Build() (*ZamsZmu, error) {
	p, err := newPair([2]string{"zams", "zmu"}, b.Zams, b.Zmu, ForcedZero)
	if err != nil {
		return nil, err
	}
	return &ZamsZmu{p}, nil
}

// ZamsZmuFromValues builds a ZamsZmu index from separate value arrays. A nil
// zmu slice forces zmu to zero.
func ZamsZmuFromValues(zams, zmu []float64) (*ZamsZmu, error) {
	zr, err := valuesRange("zams", zams, paramrange.Linear)
	if err != nil {
		return nil, err
	}
	ax := ForcedZeroAxis()
	if zmu != nil {
		mr, err := valuesRange("zmu", zmu, paramrange.Linear)
		if err != nil {
			return nil, err
		}
		ax = FreeAxis(mr)
	}
	return ZamsZmuBuilder{Zams: zr, Zmu: ax}.Build()
}

// ZamsZmuFromCombos builds a ZamsZmu index from per-combination arrays,
// where zamsCount is the number of distinct zams values.
func ZamsZmuFromCombos(zams, zmu []float64, zamsCount int) (*ZamsZmu, error) {
	p, err := fromFlattened([2]string{"zams", "zmu"}, zams, zmu, zamsCount, ForcedZero, [2]paramrange.Scale{paramrange.Linear, paramrange.Linear})
	if err != nil {
		return nil, err
	}
	return &ZamsZmu{p}, nil
}

// ZmuForced reports whether zmu is forced to zero.
func (x *ZamsZmu) ZmuForced() bool { return x.forced() }

// Zams returns the zams value of a combination.
func (x *ZamsZmu) Zams(combo int) float64 { return x.Value(AxisZams, combo) }

// Zmu returns the zmu value of a combination.
func (x *ZamsZmu) Zmu(combo int) float64 { return x.Value(AxisZmu, combo) }

func valuesRange(name string, values []float64, scale paramrange.Scale) (paramrange.Range, error) {
	if len(values) == 0 {
		return paramrange.Range{}, fmt.Errorf("%w: %s range is empty", ErrConfig, name)
	}
	r, err := paramrange.FromValues(values, scale)
	if err != nil {
		return paramrange.Range{}, fmt.Errorf("%w: %s: %v", ErrConfig, name, err)
	}
	return r, nil
}

var (
	_ Index = (*BAlpha)(nil)
	_ Index = (*CP)(nil)
	_ Index = (*N)(nil)
	_ Index = (*ZamsZmu)(nil)
)
