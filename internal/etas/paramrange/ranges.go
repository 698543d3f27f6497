// Package paramrange provides discretized scalar parameter ranges.
//
// A Range is an ordered, finite list of values. Each value carries an
// Element describing the cell it represents, so that callers can compute
// the volume a grid voxel occupies in parameter space.
package paramrange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidRange is returned when a range specification cannot produce
// a usable discretization.
var ErrInvalidRange = errors.New("invalid parameter range")

// maxValues bounds the number of values one range may hold.
const maxValues = 10000

// Scale selects the coordinate in which cells are equally sized.
type Scale int

const (
	// Linear cells are equal width in the parameter itself.
	Linear Scale = iota
	// Log cells are equal width in log10 of the parameter.
	Log
)

func (s Scale) String() string {
	if s == Log {
		return "log"
	}
	return "linear"
}

// Element is the cell represented by one discretized value.
type Element struct {
	Value float64
	Lo    float64
	Hi    float64
	Scale Scale
}

// Volume returns the cell width in the range's coordinate. A degenerate
// cell (a single fixed value) has volume 1 so that it does not affect a
// product of contributions.
func (e Element) Volume() float64 {
	if e.Hi <= e.Lo {
		return 1
	}
	if e.Scale == Log {
		return math.Log10(e.Hi / e.Lo)
	}
	return e.Hi - e.Lo
}

// Range is an immutable ordered set of discretized values.
type Range struct {
	elems []Element
	scale Scale
}

// Len returns the number of values.
func (r Range) Len() int { return len(r.elems) }

// Empty reports whether the range holds no values.
func (r Range) Empty() bool { return len(r.elems) == 0 }

// Scale returns the range's cell scale.
func (r Range) Scale() Scale { return r.scale }

// Value returns the i-th value.
func (r Range) Value(i int) float64 { return r.elems[i].Value }

// Element returns the i-th element.
func (r Range) Element(i int) Element { return r.elems[i] }

// Values returns a copy of the values.
func (r Range) Values() []float64 {
	out := make([]float64, len(r.elems))
	for i, e := range r.elems {
		out[i] = e.Value
	}
	return out
}

// Min returns the lower edge of the first cell.
func (r Range) Min() float64 {
	if r.Empty() {
		return math.NaN()
	}
	return r.elems[0].Lo
}

// Max returns the upper edge of the last cell.
func (r Range) Max() float64 {
	if r.Empty() {
		return math.NaN()
	}
	return r.elems[len(r.elems)-1].Hi
}

// Single returns a range holding one fixed value with unit volume.
func Single(v float64) Range {
	return Range{elems: []Element{{Value: v, Lo: v, Hi: v, Scale: Linear}}, scale: Linear}
}

// NewLinear divides [min, max] into count equal cells and places one value
// at the centre of each.
func NewLinear(min, max float64, count int) (Range, error) {
	return newUniform(min, max, count, Linear)
}

// NewLog divides [min, max] into count cells of equal width in log10 and
// places one value at the log-centre of each. Both bounds must be positive.
func NewLog(min, max float64, count int) (Range, error) {
	if min <= 0 || max <= 0 {
		return Range{}, fmt.Errorf("%w: log range bounds must be positive, got %g:%g", ErrInvalidRange, min, max)
	}
	return newUniform(min, max, count, Log)
}

func newUniform(min, max float64, count int, scale Scale) (Range, error) {
	if count <= 0 || count > maxValues {
		return Range{}, fmt.Errorf("%w: count must be in 1..%d, got %d", ErrInvalidRange, maxValues, count)
	}
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return Range{}, fmt.Errorf("%w: bounds must be finite", ErrInvalidRange)
	}
	if min > max {
		return Range{}, fmt.Errorf("%w: min %g exceeds max %g", ErrInvalidRange, min, max)
	}
	if min == max {
		if count != 1 {
			return Range{}, fmt.Errorf("%w: zero-width range needs count 1, got %d", ErrInvalidRange, count)
		}
		return Single(min), nil
	}

	lo, hi := min, max
	if scale == Log {
		lo, hi = math.Log10(min), math.Log10(max)
	}
	width := (hi - lo) / float64(count)
	elems := make([]Element, count)
	for i := range elems {
		a := lo + float64(i)*width
		b := lo + float64(i+1)*width
		if i == count-1 {
			b = hi
		}
		mid := (a + b) / 2
		if scale == Log {
			elems[i] = Element{Value: math.Pow(10, mid), Lo: math.Pow(10, a), Hi: math.Pow(10, b), Scale: Log}
		} else {
			elems[i] = Element{Value: mid, Lo: a, Hi: b, Scale: Linear}
		}
	}
	if scale == Log {
		elems[0].Lo = min
		elems[count-1].Hi = max
	}
	return Range{elems: elems, scale: scale}, nil
}

// FromValues builds a range from explicit, strictly increasing values.
// Cell edges are placed midway between neighbours (in the scale's
// coordinate); the outer cells extend by half their inner gap. A single
// value yields a degenerate unit-volume cell.
func FromValues(values []float64, scale Scale) (Range, error) {
	n := len(values)
	if n == 0 {
		return Range{}, fmt.Errorf("%w: no values", ErrInvalidRange)
	}
	if n > maxValues {
		return Range{}, fmt.Errorf("%w: %d values exceeds limit %d", ErrInvalidRange, n, maxValues)
	}
	coord := make([]float64, n)
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Range{}, fmt.Errorf("%w: value %d is not finite", ErrInvalidRange, i)
		}
		if scale == Log {
			if v <= 0 {
				return Range{}, fmt.Errorf("%w: log range value %g must be positive", ErrInvalidRange, v)
			}
			coord[i] = math.Log10(v)
		} else {
			coord[i] = v
		}
		if i > 0 && coord[i] <= coord[i-1] {
			return Range{}, fmt.Errorf("%w: values must be strictly increasing at index %d", ErrInvalidRange, i)
		}
	}
	if n == 1 {
		r := Single(values[0])
		r.scale = scale
		r.elems[0].Scale = scale
		return r, nil
	}

	back := func(x float64) float64 {
		if scale == Log {
			return math.Pow(10, x)
		}
		return x
	}
	elems := make([]Element, n)
	for i := range values {
		var lo, hi float64
		if i == 0 {
			lo = coord[0] - (coord[1]-coord[0])/2
		} else {
			lo = (coord[i-1] + coord[i]) / 2
		}
		if i == n-1 {
			hi = coord[n-1] + (coord[n-1]-coord[n-2])/2
		} else {
			hi = (coord[i] + coord[i+1]) / 2
		}
		elems[i] = Element{Value: values[i], Lo: back(lo), Hi: back(hi), Scale: scale}
	}
	return Range{elems: elems, scale: scale}, nil
}

// Spec is a parsed range specification.
type Spec struct {
	Min   float64
	Max   float64
	Count int
	Scale Scale
}

// ParseSpec parses a range specification. Accepted forms:
//
//	"v"                  a single fixed value
//	"min:max:count"      count linear cells
//	"min:max:count:log"  count cells equal in log10
//	"v1,v2,v3"           explicit values (linear cells)
//
// Returns a Spec with Count 0 for the explicit-list form; use ParseRange to
// build ranges from any form.
func ParseSpec(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Spec{}, fmt.Errorf("%w: empty specification", ErrInvalidRange)
	}
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: invalid value %q: %v", ErrInvalidRange, parts[0], err)
		}
		return Spec{Min: v, Max: v, Count: 1, Scale: Linear}, nil
	case 3, 4:
	default:
		return Spec{}, fmt.Errorf("%w: invalid range format %q: expected min:max:count[:log]", ErrInvalidRange, s)
	}

	min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: invalid min value %q: %v", ErrInvalidRange, parts[0], err)
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: invalid max value %q: %v", ErrInvalidRange, parts[1], err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return Spec{}, fmt.Errorf("%w: invalid count %q: %v", ErrInvalidRange, parts[2], err)
	}
	if count <= 0 {
		return Spec{}, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidRange, count)
	}
	scale := Linear
	if len(parts) == 4 {
		switch strings.ToLower(strings.TrimSpace(parts[3])) {
		case "log":
			scale = Log
		case "lin", "linear":
		default:
			return Spec{}, fmt.Errorf("%w: unknown scale %q", ErrInvalidRange, parts[3])
		}
	}
	return Spec{Min: min, Max: max, Count: count, Scale: scale}, nil
}

// Build discretizes the specification.
func (s Spec) Build() (Range, error) {
	if s.Count == 1 && s.Min == s.Max {
		r := Single(s.Min)
		return r, nil
	}
	if s.Scale == Log {
		return NewLog(s.Min, s.Max, s.Count)
	}
	return NewLinear(s.Min, s.Max, s.Count)
}

// ParseRange parses any accepted specification form and builds the range.
func ParseRange(s string) (Range, error) {
	if strings.Contains(s, ",") {
		values, err := parseCSVFloat64s(s)
		if err != nil {
			return Range{}, err
		}
		return FromValues(values, Linear)
	}
	spec, err := ParseSpec(s)
	if err != nil {
		return Range{}, err
	}
	return spec.Build()
}

func parseCSVFloat64s(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid float '%s': %v", ErrInvalidRange, p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
