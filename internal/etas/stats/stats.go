// Package stats accumulates weighted probabilities over a fit grid.
//
// An Accumulator is driven in a fixed order: Begin once, then any number of
// SetPoint calls each followed by AddData for the sub-voxels of that voxel,
// then End once. Calls out of that order return ErrProtocol.
package stats

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/etasfit/internal/etas/combo"
)

// ErrProtocol is returned when accumulator methods are called out of order.
var ErrProtocol = errors.New("accumulator protocol violation")

// ErrOutOfRange is returned for a voxel or sub-voxel outside the grid.
var ErrOutOfRange = errors.New("grid position out of range")

// SuperCriticalBranchRatio is the branch ratio at and above which a point
// is super-critical.
const SuperCriticalBranchRatio = 1.0

// Model is a weighting of prior against likelihood.
type Model int

const (
	// Generic uses the prior alone.
	Generic Model = iota
	// SeqSpec uses the sequence-specific likelihood alone.
	SeqSpec
	// Bayesian adds prior and likelihood.
	Bayesian
	// Active uses the weight given to Begin.
	Active
)

// NumModels is the number of weighting models.
const NumModels = 4

var modelNames = [NumModels]string{"generic", "seq_spec", "bayesian", "active"}

func (m Model) String() string {
	if m < 0 || int(m) >= NumModels {
		return fmt.Sprintf("Model(%d)", int(m))
	}
	return modelNames[m]
}

// ParseModel parses a model name as returned by String.
func ParseModel(s string) (Model, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modelNames {
		if s == name {
			return Model(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weighting model %q", s)
}

// AllModels returns every model in order.
func AllModels() []Model { return []Model{Generic, SeqSpec, Bayesian, Active} }

// Model weights. Active has no fixed weight.
const (
	GenericWeight  = 2.0
	SeqSpecWeight  = 0.0
	BayesianWeight = 1.0
)

// Weights returns the weight of every model, using active for Active.
func Weights(active float64) [NumModels]float64 {
	return [NumModels]float64{GenericWeight, SeqSpecWeight, BayesianWeight, active}
}

// WeightedLogDensity blends a prior log density with a log likelihood
// under weight w. Up to w = 1 the prior is scaled by w; beyond it the
// likelihood is scaled by 2 - w. At w = 1 both forms reduce to bay + like.
func WeightedLogDensity(w, bay, like float64) float64 {
	if w <= 1 {
		return bay*w + like
	}
	return bay + like*(2-w)
}

// Accumulator consumes the prior and likelihood of every sub-voxel of a
// fit. Implementations are not safe for concurrent use.
type Accumulator interface {
	// Begin starts accumulation. maxLogDensity holds, per model, the
	// largest weighted log density over the grid.
	Begin(activeWeight float64, maxLogDensity [NumModels]float64) error

	// SetPoint selects the voxel for subsequent AddData calls.
	SetPoint(v combo.Voxel) error

	// AddData adds one sub-voxel of the current voxel.
	AddData(sub int, bayLogDensity, bayVoxVolume, logLikelihood float64) error

	// End finishes accumulation.
	End() error
}

type state int

const (
	notStarted state = iota
	accumulating
	ended
)

func (s state) String() string {
	switch s {
	case notStarted:
		return "not started"
	case accumulating:
		return "accumulating"
	}
	return "ended"
}

// lifecycle enforces the call order shared by every accumulator.
type lifecycle struct {
	st       state
	hasPoint bool
}

func (l *lifecycle) begin() error {
	if l.st != notStarted {
		return fmt.Errorf("%w: Begin while %s", ErrProtocol, l.st)
	}
	l.st = accumulating
	return nil
}

func (l *lifecycle) setPoint() error {
	if l.st != accumulating {
		return fmt.Errorf("%w: SetPoint while %s", ErrProtocol, l.st)
	}
	l.hasPoint = true
	return nil
}

func (l *lifecycle) addData() error {
	if l.st != accumulating {
		return fmt.Errorf("%w: AddData while %s", ErrProtocol, l.st)
	}
	if !l.hasPoint {
		return fmt.Errorf("%w: AddData before SetPoint", ErrProtocol)
	}
	return nil
}

func (l *lifecycle) end() error {
	if l.st != accumulating {
		return fmt.Errorf("%w: End while %s", ErrProtocol, l.st)
	}
	l.st = ended
	return nil
}

func (l *lifecycle) result() error {
	if l.st != ended {
		return fmt.Errorf("%w: result requested while %s", ErrProtocol, l.st)
	}
	return nil
}

// Null accepts and discards every call.
type Null struct{}

func (Null) Begin(float64, [NumModels]float64) error      { return nil }
func (Null) SetPoint(combo.Voxel) error                   { return nil }
func (Null) AddData(int, float64, float64, float64) error { return nil }
func (Null) End() error                                   { return nil }

// Multi forwards every call, in order, to its children and stops at the
// first error.
type Multi struct {
	children []Accumulator
}

// NewMulti combines accumulators. Nil children are skipped; a single
// child is returned as is and no children yield Null.
func NewMulti(children ...Accumulator) Accumulator {
	var kept []Accumulator
	for _, c := range children {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return Null{}
	case 1:
		return kept[0]
	}
	return &Multi{children: kept}
}

// Children returns the accumulators fed by m.
func (m *Multi) Children() []Accumulator { return m.children }

func (m *Multi) Begin(activeWeight float64, maxLogDensity [NumModels]float64) error {
	for _, c := range m.children {
		if err := c.Begin(activeWeight, maxLogDensity); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) SetPoint(v combo.Voxel) error {
	for _, c := range m.children {
		if err := c.SetPoint(v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) AddData(sub int, bayLogDensity, bayVoxVolume, logLikelihood float64) error {
	for _, c := range m.children {
		if err := c.AddData(sub, bayLogDensity, bayVoxVolume, logLikelihood); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) End() error {
	for _, c := range m.children {
		if err := c.End(); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ Accumulator = Null{}
	_ Accumulator = (*Multi)(nil)
)
