// Package combo maps between per-axis parameter indices and flattened
// combination indices.
//
// Four indexes are used by a fit: BAlpha (b and alpha, alpha optionally
// forced equal to b), CP (c and p), N (branch ratio alone) and ZamsZmu
// (zams and zmu, zmu optionally forced to zero). All share one flattening
// convention:
//
//	combo     = secondary*primaryCount + primary
//	primary   = combo % primaryCount
//	secondary = combo / primaryCount
//
// Indexes are immutable once built and safe for concurrent reads.
package combo

import (
	"errors"
	"fmt"

	"github.com/banshee-data/etasfit/internal/etas/paramrange"
)

// ErrConfig is returned when an index cannot be built from its inputs.
var ErrConfig = errors.New("combo configuration error")

// AxisMode describes how an optional axis is populated.
type AxisMode int

const (
	// Free axes are discretized by their own range.
	Free AxisMode = iota
	// ForcedEqual axes take the primary axis value (alpha == b).
	ForcedEqual
	// ForcedZero axes are fixed at zero (zmu == 0).
	ForcedZero
)

func (m AxisMode) String() string {
	switch m {
	case Free:
		return "free"
	case ForcedEqual:
		return "forced-equal"
	case ForcedZero:
		return "forced-zero"
	}
	return fmt.Sprintf("AxisMode(%d)", int(m))
}

// Axis specifies the discretization of an optional secondary axis.
type Axis struct {
	Mode  AxisMode
	Range paramrange.Range
}

// FreeAxis returns an axis discretized by r.
func FreeAxis(r paramrange.Range) Axis { return Axis{Mode: Free, Range: r} }

// ForcedEqualAxis returns an axis that mirrors the primary axis.
func ForcedEqualAxis() Axis { return Axis{Mode: ForcedEqual} }

// ForcedZeroAxis returns an axis fixed at zero.
func ForcedZeroAxis() Axis { return Axis{Mode: ForcedZero} }

// Forced reports whether the axis has no discretization of its own.
func (a Axis) Forced() bool { return a.Mode != Free }

// Index is the contract shared by all combinatorial indexes.
type Index interface {
	// Axes returns the number of axes (1 or 2).
	Axes() int
	// ComboCount returns the number of combinations.
	ComboCount() int
	// SepCount returns the number of separate values on an axis; 0 for a
	// forced axis.
	SepCount(axis int) int
	// NonzeroSepCount is SepCount but reports 1 for a forced axis.
	NonzeroSepCount(axis int) int
	// SepValue returns the sep-th value on an axis.
	SepValue(axis, sep int) float64
	// Value returns the value of an axis at a combination.
	Value(axis, combo int) float64
	// ComboIndex flattens per-axis indices. Forced axes take index 0.
	ComboIndex(seps ...int) int
	// SepIndex returns the per-axis index of a combination.
	SepIndex(axis, combo int) int
	// CenterComboIndex returns the combination at count/2 on every axis.
	CenterComboIndex() int
	// Volume returns the element volume of an axis at a combination;
	// forced axes contribute 1.
	Volume(axis, combo int) float64
}

// pair is the two-axis index shared by BAlpha, CP and ZamsZmu.
type pair struct {
	primary   paramrange.Range
	secondary paramrange.Range
	mode      AxisMode
	names     [2]string
}

func newPair(names [2]string, primary paramrange.Range, secondary Axis, allowed AxisMode) (pair, error) {
	if primary.Empty() {
		return pair{}, fmt.Errorf("%w: %s range is empty", ErrConfig, names[0])
	}
	switch secondary.Mode {
	case Free:
		if secondary.Range.Empty() {
			return pair{}, fmt.Errorf("%w: %s range is empty", ErrConfig, names[1])
		}
	case allowed:
	default:
		return pair{}, fmt.Errorf("%w: %s axis cannot be %s", ErrConfig, names[1], secondary.Mode)
	}
	p := pair{primary: primary, mode: secondary.Mode, names: names}
	if secondary.Mode == Free {
		p.secondary = secondary.Range
	}
	return p, nil
}

func (p *pair) forced() bool { return p.mode != Free }

func (p *pair) checkAxis(axis int) {
	if axis != 0 && axis != 1 {
		panic(fmt.Sprintf("combo: axis %d out of range for %s/%s index", axis, p.names[0], p.names[1]))
	}
}

func (p *pair) Axes() int { return 2 }

func (p *pair) ComboCount() int {
	if p.forced() {
		return p.primary.Len()
	}
	return p.primary.Len() * p.secondary.Len()
}

func (p *pair) SepCount(axis int) int {
	p.checkAxis(axis)
	if axis == 0 {
		return p.primary.Len()
	}
	if p.forced() {
		return 0
	}
	return p.secondary.Len()
}

func (p *pair) NonzeroSepCount(axis int) int {
	if n := p.SepCount(axis); n > 0 {
		return n
	}
	return 1
}

func (p *pair) SepValue(axis, sep int) float64 {
	p.checkAxis(axis)
	if axis == 0 {
		return p.primary.Value(sep)
	}
	switch p.mode {
	case ForcedZero:
		if sep != 0 {
			panic(fmt.Sprintf("combo: sep index %d out of range for forced %s axis", sep, p.names[1]))
		}
		return 0
	case ForcedEqual:
		panic(fmt.Sprintf("combo: forced %s axis has no separate values", p.names[1]))
	}
	return p.secondary.Value(sep)
}

func (p *pair) ComboIndex(seps ...int) int {
	if len(seps) != 2 {
		panic(fmt.Sprintf("combo: %s/%s index needs 2 sep indices, got %d", p.names[0], p.names[1], len(seps)))
	}
	if p.forced() {
		return seps[0]
	}
	return seps[1]*p.primary.Len() + seps[0]
}

func (p *pair) SepIndex(axis, combo int) int {
	p.checkAxis(axis)
	if p.forced() {
		if axis == 0 {
			return combo
		}
		return 0
	}
	n := p.primary.Len()
	if axis == 0 {
		return combo % n
	}
	return combo / n
}

func (p *pair) CenterComboIndex() int {
	return p.ComboIndex(p.primary.Len()/2, p.SepCount(1)/2)
}

func (p *pair) Value(axis, combo int) float64 {
	p.checkAxis(axis)
	prim := p.primary.Value(p.SepIndex(0, combo))
	if axis == 0 {
		return prim
	}
	switch p.mode {
	case ForcedEqual:
		return prim
	case ForcedZero:
		return 0
	}
	return p.secondary.Value(p.SepIndex(1, combo))
}

func (p *pair) Volume(axis, combo int) float64 {
	p.checkAxis(axis)
	if axis == 0 {
		return p.primary.Element(p.SepIndex(0, combo)).Volume()
	}
	if p.forced() {
		return 1
	}
	return p.secondary.Element(p.SepIndex(1, combo)).Volume()
}

// Mode returns the secondary axis mode.
func (p *pair) Mode() AxisMode { return p.mode }

// fromFlattened rebuilds separate ranges from per-combination arrays laid
// out with the shared convention. Lengths must match and the arrays must
// form a product grid, or (when allowed) a forced secondary axis.
func fromFlattened(names [2]string, prim, sec []float64, primaryCount int, forcedMode AxisMode, scale [2]paramrange.Scale) (pair, error) {
	if len(prim) != len(sec) {
		return pair{}, fmt.Errorf("%w: %s has %d values but %s has %d", ErrConfig, names[0], len(prim), names[1], len(sec))
	}
	if len(prim) == 0 {
		return pair{}, fmt.Errorf("%w: %s/%s arrays are empty", ErrConfig, names[0], names[1])
	}
	if primaryCount <= 0 || len(prim)%primaryCount != 0 {
		return pair{}, fmt.Errorf("%w: %d combinations is not a multiple of %s count %d", ErrConfig, len(prim), names[0], primaryCount)
	}
	secondaryCount := len(prim) / primaryCount

	primVals := append([]float64(nil), prim[:primaryCount]...)
	pr, err := paramrange.FromValues(primVals, scale[0])
	if err != nil {
		return pair{}, fmt.Errorf("%w: %s: %v", ErrConfig, names[0], err)
	}

	if secondaryCount == 1 {
		switch {
		case forcedMode == ForcedEqual && equalSlices(prim, sec):
			return newPair(names, pr, ForcedEqualAxis(), forcedMode)
		case forcedMode == ForcedZero && allZero(sec):
			return newPair(names, pr, ForcedZeroAxis(), forcedMode)
		}
	}

	secVals := make([]float64, secondaryCount)
	for s := 0; s < secondaryCount; s++ {
		secVals[s] = sec[s*primaryCount]
	}
	for c := range prim {
		if prim[c] != primVals[c%primaryCount] || sec[c] != secVals[c/primaryCount] {
			return pair{}, fmt.Errorf("%w: %s/%s arrays are not a product grid at combination %d", ErrConfig, names[0], names[1], c)
		}
	}
	sr, err := paramrange.FromValues(secVals, scale[1])
	if err != nil {
		return pair{}, fmt.Errorf("%w: %s: %v", ErrConfig, names[1], err)
	}
	return newPair(names, pr, FreeAxis(sr), forcedMode)
}

func equalSlices(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func allZero(a []float64) bool {
	for _, v := range a {
		if v != 0 {
			return false
		}
	}
	return true
}
