// Package regimes stores the regional parameters of the Gaussian prior and
// resolves a location to the tectonic regime that covers it.
//
// Two sources are provided: Table, an immutable in-memory table usually
// loaded from a JSON file, and Store, a SQLite database. Both implement
// prior.ParamsSource.
package regimes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/prior"
	"github.com/banshee-data/etasfit/internal/fsutil"
)

// ErrInvalidTable is returned when regime data is inconsistent.
var ErrInvalidTable = errors.New("invalid regime table")

const maxFileSize = 4 * 1024 * 1024 // 4MB

// Region is a latitude/longitude box in degrees. A box whose MinLon
// exceeds its MaxLon wraps across the antimeridian.
type Region struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

func normLon(lon float64) float64 {
	return etas.Location{Lon: lon}.NormalizedLon()
}

// Contains reports whether loc lies inside the box, edges included.
func (r Region) Contains(loc etas.Location) bool {
	if loc.Lat < r.MinLat || loc.Lat > r.MaxLat {
		return false
	}
	lon := loc.NormalizedLon()
	lo, hi := normLon(r.MinLon), normLon(r.MaxLon)
	if r.MaxLon-r.MinLon >= 360 {
		return true
	}
	if lo <= hi {
		return lon >= lo && lon <= hi
	}
	return lon >= lo || lon <= hi
}

func (r Region) validate() error {
	for _, v := range []float64{r.MinLat, r.MaxLat, r.MinLon, r.MaxLon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("non-finite bound")
		}
	}
	if r.MinLat < -90 || r.MaxLat > 90 || r.MinLat > r.MaxLat {
		return fmt.Errorf("latitude bounds [%g, %g] out of order or range", r.MinLat, r.MaxLat)
	}
	if r.MinLon < -180 || r.MaxLon > 360 || r.MinLon > 360 || r.MaxLon < -180 {
		return fmt.Errorf("longitude bounds [%g, %g] out of range", r.MinLon, r.MaxLon)
	}
	return nil
}

// Entry is one regime: its prior parameters and the regions it covers.
type Entry struct {
	prior.GaussAPCParams
	Regions []Region `json:"regions,omitempty"`
}

// File is the JSON layout of a regime table.
type File struct {
	// Default names the regime used when nothing else matches. Empty means
	// the built-in global parameters.
	Default string  `json:"default,omitempty"`
	Regimes []Entry `json:"regimes"`
}

// Table is an immutable regime table. Regions are searched in file order,
// so more specific regions should be listed first. It is safe for
// concurrent use.
type Table struct {
	entries []Entry
	byName  map[string]int
	def     int // -1 for the built-in default
}

// NewTable validates f and builds a table from a copy of it.
func NewTable(f *File) (*Table, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil file", ErrInvalidTable)
	}
	t := &Table{
		entries: make([]Entry, len(f.Regimes)),
		byName:  make(map[string]int, len(f.Regimes)),
		def:     -1,
	}
	for i, e := range f.Regimes {
		name := strings.TrimSpace(e.Regime)
		if name == "" {
			return nil, fmt.Errorf("%w: regime %d has no name", ErrInvalidTable, i)
		}
		if _, dup := t.byName[name]; dup {
			return nil, fmt.Errorf("%w: regime %q listed twice", ErrInvalidTable, name)
		}
		e.Regime = name
		if _, err := prior.NewGaussAPC(e.GaussAPCParams); err != nil {
			return nil, fmt.Errorf("%w: regime %q: %v", ErrInvalidTable, name, err)
		}
		for j, r := range e.Regions {
			if err := r.validate(); err != nil {
				return nil, fmt.Errorf("%w: regime %q region %d: %v", ErrInvalidTable, name, j, err)
			}
		}
		e.Regions = append([]Region(nil), e.Regions...)
		t.entries[i] = e
		t.byName[name] = i
	}
	if d := strings.TrimSpace(f.Default); d != "" {
		i, ok := t.byName[d]
		if !ok {
			return nil, fmt.Errorf("%w: default regime %q not listed", ErrInvalidTable, d)
		}
		t.def = i
	}
	return t, nil
}

// ParseTable decodes a JSON regime table.
func ParseTable(data []byte) (*Table, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	return NewTable(&f)
}

// ReadFile reads and decodes a JSON regime file without validating it.
// The file must have a .json extension and be under the max file size.
func ReadFile(fsys fsutil.FileSystem, path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("regime file must have .json extension, got %q", ext)
	}
	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat regime file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("regime file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read regime file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTable, cleanPath, err)
	}
	return &f, nil
}

// LoadTable reads a JSON regime file and builds a table from it.
func LoadTable(fsys fsutil.FileSystem, path string) (*Table, error) {
	f, err := ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	return NewTable(f)
}

// Len returns the number of regimes.
func (t *Table) Len() int { return len(t.entries) }

// Names lists the regimes in table order.
func (t *Table) Names() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Regime
	}
	return out
}

// File returns a copy of the table in its JSON layout.
func (t *Table) File() *File {
	f := &File{Regimes: make([]Entry, len(t.entries))}
	for i, e := range t.entries {
		e.Regions = append([]Region(nil), e.Regions...)
		f.Regimes[i] = e
	}
	if t.def >= 0 {
		f.Default = t.entries[t.def].Regime
	}
	return f
}

func (t *Table) ForRegime(name string) (prior.GaussAPCParams, bool, error) {
	i, ok := t.byName[strings.TrimSpace(name)]
	if !ok {
		return prior.GaussAPCParams{}, false, nil
	}
	return t.entries[i].GaussAPCParams, true, nil
}

func (t *Table) ForLocation(loc etas.Location) (prior.GaussAPCParams, bool, error) {
	if !loc.Valid() {
		return prior.GaussAPCParams{}, false, nil
	}
	for _, e := range t.entries {
		for _, r := range e.Regions {
			if r.Contains(loc) {
				return e.GaussAPCParams, true, nil
			}
		}
	}
	return prior.GaussAPCParams{}, false, nil
}

func (t *Table) Default() (prior.GaussAPCParams, error) {
	if t.def < 0 {
		return prior.DefaultGaussAPCParams(), nil
	}
	return t.entries[t.def].GaussAPCParams, nil
}

var _ prior.ParamsSource = (*Table)(nil)
