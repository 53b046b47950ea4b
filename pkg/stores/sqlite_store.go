package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/agent/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path string

	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database, creating its directory if needed. File
// databases use WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.cfg.Path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o750); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)",
		s.cfg.Path, s.cfg.BusyTimeout.Milliseconds())
	if s.cfg.Path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One agent process writes at a time, and an in-memory database only
	// exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveReport records a run report with its entries and driver failures in
// one transaction.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *engine.Report) error {
	if report.RunID == "" {
		return fmt.Errorf("report has no run id")
	}
	blob, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, revision, state, dry_run, only_important, total, good, bad,
			modified, extra, failures, started_at, finished_at, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		report.Revision,
		string(report.State),
		report.Flags.DryRun,
		report.Flags.OnlyImportant,
		report.Total,
		report.GoodCount,
		report.BadCount,
		report.ModifiedCount,
		report.ExtraCount,
		len(report.DriverFailures),
		toUnix(report.StartedAt),
		toUnix(report.FinishedAt),
		string(blob),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	classes := []struct {
		class   EntryClass
		entries []*engine.Entry
	}{
		{EntryClassGood, report.Good},
		{EntryClassBad, report.Bad},
		{EntryClassModified, report.Modified},
		{EntryClassExtra, report.Extra},
	}
	for _, c := range classes {
		for seq, e := range c.entries {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO run_entries (run_id, class, seq, kind, name) VALUES (?, ?, ?, ?, ?)`,
				report.RunID, string(c.class), seq, e.Kind, e.Name)
			if err != nil {
				return fmt.Errorf("failed to insert %s entry %s: %w", c.class, e.ID(), err)
			}
		}
	}

	for seq, f := range report.DriverFailures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_failures (run_id, seq, driver, phase, entry, bundle, class, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, report.RunID, seq, f.Driver, string(f.Phase), f.Entry, f.Bundle, string(f.Class), f.Message)
		if err != nil {
			return fmt.Errorf("failed to insert driver failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `id, revision, state, dry_run, only_important, total, good, bad,
	modified, extra, failures, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run              Run
		state            string
		started, finished int64
	)
	err := row.Scan(
		&run.ID,
		&run.Revision,
		&state,
		&run.DryRun,
		&run.OnlyImportant,
		&run.Total,
		&run.Good,
		&run.Bad,
		&run.Modified,
		&run.Extra,
		&run.Failures,
		&started,
		&finished,
	)
	if err != nil {
		return nil, err
	}
	run.State = engine.RunState(state)
	run.StartedAt = fromUnix(started)
	run.FinishedAt = fromUnix(finished)
	return &run, nil
}

// ListRuns lists runs with pagination, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetReport returns the report recorded for a run.
func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*engine.Report, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report engine.Report
	if err := json.Unmarshal([]byte(blob), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
	}
	return &report, nil
}

// EntryHistory returns the report rows naming an entry, newest run first.
func (s *SQLiteStore) EntryHistory(ctx context.Context, kind, name string, limit int) ([]*RunEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.run_id, e.class, e.kind, e.name
		FROM run_entries e
		JOIN runs r ON r.id = e.run_id
		WHERE e.kind = ? AND e.name = ?
		ORDER BY r.started_at DESC, e.class
		LIMIT ?
	`, kind, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry history: %w", err)
	}
	defer rows.Close()

	var out []*RunEntry
	for rows.Next() {
		var (
			re    RunEntry
			class string
		)
		if err := rows.Scan(&re.RunID, &class, &re.Kind, &re.Name); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		re.Class = EntryClass(class)
		out = append(out, &re)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep runs and returns how many were
// deleted. A keep of zero or less deletes nothing.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
