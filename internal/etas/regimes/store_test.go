package regimes

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/prior"
	"github.com/banshee-data/etasfit/internal/fsutil"
	"github.com/banshee-data/etasfit/internal/testutil"
	"github.com/banshee-data/etasfit/internal/timeutil"
)

var importEpoch = time.Date(2016, 11, 13, 11, 2, 56, 0, time.UTC)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	testutil.MuteLogs(t)
	if path == "" {
		path = filepath.Join(t.TempDir(), "regimes.db")
	}
	s, err := openStore(path, timeutil.NewMockClock(importEpoch, time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func readTestFile(t *testing.T) *File {
	t.Helper()
	f, err := ReadFile(fsutil.OSFileSystem{}, testdataFile)
	require.NoError(t, err)
	return f
}

func TestStore_SchemaVersion(t *testing.T) {
	s := openTestStore(t, "")
	version, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Migrating an up-to-date database is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestStore_Empty(t *testing.T) {
	s := openTestStore(t, "")
	ctx := context.Background()

	_, found, err := s.ForRegime("ANSR-SHALCON")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.ForLocation(etas.Location{Lat: 35.77, Lon: -117.6})
	require.NoError(t, err)
	assert.False(t, found)

	def, err := s.Default()
	require.NoError(t, err)
	assert.Equal(t, prior.DefaultGaussAPCParams(), def)

	_, ok, err := s.LastImport(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	f, err := s.Export(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.Regimes)
}

func TestStore_ImportAndLookup(t *testing.T) {
	s := openTestStore(t, "")
	ctx := context.Background()
	want := readTestFile(t)

	run, err := s.Import(ctx, want, testdataFile)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Regimes)
	assert.Equal(t, 3, run.Regions)
	assert.True(t, importEpoch.Equal(run.Imported))

	last, ok, err := s.LastImport(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, testdataFile, last.Source)
	assert.True(t, run.Imported.Equal(last.Imported))

	got, err := s.Export(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("export mismatch (-want +got):\n%s", diff)
	}

	t.Run("location", func(t *testing.T) { checkLocations(t, s) })

	p, found, err := s.ForRegime("ANSR-SHALCON")
	require.NoError(t, err)
	require.True(t, found)
	tbl := loadTestTable(t)
	tp, _, err := tbl.ForRegime("ANSR-SHALCON")
	require.NoError(t, err)
	assert.Equal(t, tp, p)

	def, err := s.Default()
	require.NoError(t, err)
	assert.Equal(t, "GLOBAL-AVERAGE", def.Regime)

	snap, err := s.Table(ctx)
	require.NoError(t, err)
	assert.Equal(t, tbl.Names(), snap.Names())
}

func TestStore_ReimportReplaces(t *testing.T) {
	s := openTestStore(t, "")
	ctx := context.Background()
	_, err := s.Import(ctx, readTestFile(t), "first")
	require.NoError(t, err)

	only := prior.DefaultGaussAPCParams()
	only.Regime = "ACR-DEEP"
	second := &File{Regimes: []Entry{{GaussAPCParams: only, Regions: []Region{{MinLat: -10, MaxLat: 10, MinLon: 100, MaxLon: 110}}}}}
	run, err := s.Import(ctx, second, "second")
	require.NoError(t, err)

	_, found, err := s.ForRegime("ANSR-SHALCON")
	require.NoError(t, err)
	assert.False(t, found)

	p, found, err := s.ForLocation(etas.Location{Lat: 0, Lon: 105})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ACR-DEEP", p.Regime)

	def, err := s.Default()
	require.NoError(t, err)
	assert.Equal(t, prior.DefaultRegime, def.Regime, "no default listed")

	last, ok, err := s.LastImport(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, "second", last.Source)
}

func TestStore_InvalidImportKeepsData(t *testing.T) {
	s := openTestStore(t, "")
	ctx := context.Background()
	_, err := s.Import(ctx, readTestFile(t), "good")
	require.NoError(t, err)

	bad := readTestFile(t)
	bad.Regimes[1].Regime = bad.Regimes[0].Regime
	_, err = s.Import(ctx, bad, "bad")
	assert.ErrorIs(t, err, ErrInvalidTable)

	_, found, err := s.ForRegime("SZ-GENERIC")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regimes.db")
	s := openTestStore(t, path)
	_, err := s.Import(context.Background(), readTestFile(t), "seed")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	again := openTestStore(t, path)
	p, found, err := again.ForLocation(etas.Location{Lat: 38.3, Lon: 142.4})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "SZ-GENERIC", p.Regime)
}

func TestStore_CancelledImport(t *testing.T) {
	s := openTestStore(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Import(ctx, readTestFile(t), "cancelled")
	assert.Error(t, err)

	_, ok, err := s.LastImport(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
