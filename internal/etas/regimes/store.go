package regimes

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/prior"
	"github.com/banshee-data/etasfit/internal/monitoring"
	"github.com/banshee-data/etasfit/internal/timeutil"
)

// migrationsFS holds the schema migrations, applied by OpenStore.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Store keeps regime tables in a SQLite database. Lookups read the
// database on every call, so a concurrent Import is seen by the next
// lookup.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// ImportRun records one Import.
type ImportRun struct {
	ID       uuid.UUID
	Source   string
	Regimes  int
	Regions  int
	Imported time.Time
}

// OpenStore opens or creates the database at path and migrates it to the
// latest schema.
func OpenStore(path string) (*Store, error) {
	return openStore(path, timeutil.RealClock{})
}

func openStore(path string, clock timeutil.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection; one connection keeps them in force.
	db.SetMaxOpenConns(1)
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	s := &Store{db: db, clock: clock}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// MigrateUp runs all pending migrations. It is a no-op on an up-to-date
// database.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the current migration version and dirty state.
// Returns 0, false, nil if no migrations have been applied.
func (s *Store) SchemaVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return monitoring.Verbose() }

// Import validates f and replaces the stored regimes with it in one
// transaction. source is recorded with the run.
func (s *Store) Import(ctx context.Context, f *File, source string) (ImportRun, error) {
	t, err := NewTable(f)
	if err != nil {
		return ImportRun{}, err
	}
	f = t.File()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ImportRun{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range []string{`DELETE FROM regime_regions`, `DELETE FROM regimes`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return ImportRun{}, fmt.Errorf("failed to clear regimes: %w", err)
		}
	}

	run := ImportRun{ID: uuid.New(), Source: source, Regimes: len(f.Regimes), Imported: s.clock.Now()}
	priority := 0
	for pos, e := range f.Regimes {
		cov, err := json.Marshal(e.Cov)
		if err != nil {
			return ImportRun{}, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO regimes (name, a_mean, a_sigma, p_mean, log_c_mean, cov_json, num_seq, ams_mean, ams_sigma, position, is_default)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Regime, e.AMean, e.ASigma, e.PMean, e.LogCMean, string(cov), e.NumSeq, e.AmsMean, e.AmsSigma,
			pos, e.Regime == f.Default)
		if err != nil {
			return ImportRun{}, fmt.Errorf("failed to insert regime %q: %w", e.Regime, err)
		}
		for _, r := range e.Regions {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO regime_regions (regime, priority, min_lat, max_lat, min_lon, max_lon)
				VALUES (?, ?, ?, ?, ?, ?)`,
				e.Regime, priority, r.MinLat, r.MaxLat, r.MinLon, r.MaxLon)
			if err != nil {
				return ImportRun{}, fmt.Errorf("failed to insert region of %q: %w", e.Regime, err)
			}
			priority++
		}
	}
	run.Regions = priority

	_, err = tx.ExecContext(ctx, `
		INSERT INTO import_runs (run_id, source, regimes, regions, imported_ns)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID.String(), run.Source, run.Regimes, run.Regions, run.Imported.UnixNano())
	if err != nil {
		return ImportRun{}, fmt.Errorf("failed to record import: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ImportRun{}, err
	}
	monitoring.Logf("[regimes] import %s: %d regimes, %d regions from %s", run.ID, run.Regimes, run.Regions, source)
	return run, nil
}

// LastImport returns the most recent import, or false if nothing has been
// imported.
func (s *Store) LastImport(ctx context.Context) (ImportRun, bool, error) {
	var (
		run ImportRun
		id  string
		ns  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, source, regimes, regions, imported_ns
		FROM import_runs ORDER BY imported_ns DESC LIMIT 1`).
		Scan(&id, &run.Source, &run.Regimes, &run.Regions, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return ImportRun{}, false, nil
	}
	if err != nil {
		return ImportRun{}, false, err
	}
	if run.ID, err = uuid.Parse(id); err != nil {
		return ImportRun{}, false, fmt.Errorf("import run id %q: %w", id, err)
	}
	run.Imported = time.Unix(0, ns).UTC()
	return run, true, nil
}

const paramColumns = `r.name, r.a_mean, r.a_sigma, r.p_mean, r.log_c_mean, r.cov_json, r.num_seq, r.ams_mean, r.ams_sigma`

type scanner interface {
	Scan(dest ...any) error
}

func scanParams(row scanner, extra ...any) (prior.GaussAPCParams, error) {
	var (
		p   prior.GaussAPCParams
		cov string
	)
	dest := append([]any{&p.Regime, &p.AMean, &p.ASigma, &p.PMean, &p.LogCMean, &cov, &p.NumSeq, &p.AmsMean, &p.AmsSigma}, extra...)
	if err := row.Scan(dest...); err != nil {
		return prior.GaussAPCParams{}, err
	}
	if err := json.Unmarshal([]byte(cov), &p.Cov); err != nil {
		return prior.GaussAPCParams{}, fmt.Errorf("regime %q covariance: %w", p.Regime, err)
	}
	return p, nil
}

// Export reads the stored regimes back in their JSON layout.
func (s *Store) Export(ctx context.Context) (*File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+paramColumns+`, r.is_default FROM regimes r ORDER BY r.position`)
	if err != nil {
		return nil, err
	}
	f := &File{Regimes: []Entry{}}
	index := make(map[string]int)
	for rows.Next() {
		var isDefault bool
		p, err := scanParams(rows, &isDefault)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if isDefault {
			f.Default = p.Regime
		}
		index[p.Regime] = len(f.Regimes)
		f.Regimes = append(f.Regimes, Entry{GaussAPCParams: p})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT regime, min_lat, max_lat, min_lon, max_lon
		FROM regime_regions ORDER BY priority`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name string
			r    Region
		)
		if err := rows.Scan(&name, &r.MinLat, &r.MaxLat, &r.MinLon, &r.MaxLon); err != nil {
			return nil, err
		}
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("region references unknown regime %q", name)
		}
		f.Regimes[i].Regions = append(f.Regimes[i].Regions, r)
	}
	return f, rows.Err()
}

// Table snapshots the stored regimes into an in-memory table.
func (s *Store) Table(ctx context.Context) (*Table, error) {
	f, err := s.Export(ctx)
	if err != nil {
		return nil, err
	}
	return NewTable(f)
}

func (s *Store) ForRegime(name string) (prior.GaussAPCParams, bool, error) {
	row := s.db.QueryRow(`SELECT `+paramColumns+` FROM regimes r WHERE r.name = ?`, strings.TrimSpace(name))
	p, err := scanParams(row)
	if errors.Is(err, sql.ErrNoRows) {
		return prior.GaussAPCParams{}, false, nil
	}
	if err != nil {
		return prior.GaussAPCParams{}, false, err
	}
	return p, true, nil
}

// ForLocation returns the regime of the first region, in import order,
// that contains loc.
func (s *Store) ForLocation(loc etas.Location) (prior.GaussAPCParams, bool, error) {
	if !loc.Valid() {
		return prior.GaussAPCParams{}, false, nil
	}
	rows, err := s.db.Query(`
		SELECT `+paramColumns+`, g.min_lat, g.max_lat, g.min_lon, g.max_lon
		FROM regime_regions g JOIN regimes r ON r.name = g.regime
		WHERE g.min_lat <= ? AND g.max_lat >= ?
		ORDER BY g.priority`, loc.Lat, loc.Lat)
	if err != nil {
		return prior.GaussAPCParams{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var r Region
		p, err := scanParams(rows, &r.MinLat, &r.MaxLat, &r.MinLon, &r.MaxLon)
		if err != nil {
			return prior.GaussAPCParams{}, false, err
		}
		if r.Contains(loc) {
			return p, true, nil
		}
	}
	return prior.GaussAPCParams{}, false, rows.Err()
}

func (s *Store) Default() (prior.GaussAPCParams, error) {
	row := s.db.QueryRow(`SELECT ` + paramColumns + ` FROM regimes r WHERE r.is_default = 1`)
	p, err := scanParams(row)
	if errors.Is(err, sql.ErrNoRows) {
		return prior.DefaultGaussAPCParams(), nil
	}
	return p, err
}

var _ prior.ParamsSource = (*Store)(nil)
