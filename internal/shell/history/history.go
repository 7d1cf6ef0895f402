// Package history persists a summary of every pipeline run so the operator
// can see what was deployed where, when, and how it ended. One row per run;
// rows are never updated after the run finishes.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/stevedore/internal/core/pipeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound is returned when no run matches the query.
	ErrNotFound = errors.New("run not found")

	// ErrConnectionFailed is returned when the database cannot be opened.
	ErrConnectionFailed = errors.New("history database connection failed")

	// ErrMigrationFailed is returned when schema migration fails.
	ErrMigrationFailed = errors.New("history database migration failed")
)

// StoreError wraps history failures with the operation and run involved.
type StoreError struct {
	Op      string
	RunID   string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s run %s: %s", e.Op, e.RunID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func newStoreError(op, runID, message string, err error) *StoreError {
	return &StoreError{Op: op, RunID: runID, Message: message, Err: err}
}

// =============================================================================
// Record
// =============================================================================

// Record is the persisted summary of one pipeline run.
type Record struct {
	ID        string             `json:"id"`
	AppName   string             `json:"app_name"`
	RepoURL   string             `json:"repo_url"`
	Branch    string             `json:"branch"`
	Commit    string             `json:"commit,omitempty"`
	Host      string             `json:"host"`
	Stage     pipeline.Stage     `json:"stage"`
	Status    pipeline.RunStatus `json:"status"`
	Error     string             `json:"error,omitempty"`
	StartedAt time.Time          `json:"started_at"`

	// FinishedAt is nil only for a run cut short before it could be marked
	// done or failed (e.g. the process was killed mid-pipeline).
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns the run's elapsed time, zero when it never finished.
func (r *Record) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// runRow is the database shape of a Record. Timestamps are stored as RFC3339
// strings, as every SQLite-backed date in this codebase is.
type runRow struct {
	ID         string  `db:"id"`
	AppName    string  `db:"app_name"`
	RepoURL    string  `db:"repo_url"`
	Branch     string  `db:"branch"`
	CommitHash string  `db:"commit_hash"`
	Host       string  `db:"host"`
	Stage      string  `db:"stage"`
	Status     string  `db:"status"`
	ErrorMsg   string  `db:"error_message"`
	StartedAt  string  `db:"started_at"`
	FinishedAt *string `db:"finished_at"`
}

// =============================================================================
// Store
// =============================================================================

// Store records pipeline runs in SQLite.
type Store struct {
	db *sqlx.DB
}

// NewStore opens (creating if necessary) the history database at dsn and
// brings its schema up to date.
func NewStore(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, newStoreError("NewStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, newStoreError("NewStore", "", "failed to ping database", ErrConnectionFailed)
	}

	// SQLite allows one writer; serializing through one connection avoids
	// SQLITE_BUSY when serve mode records runs while history is being read.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, newStoreError("NewStore", "", err.Error(), ErrMigrationFailed)
	}

	return &Store{db: db}, nil
}

// runMigrations applies the embedded SQL migrations.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Operations
// =============================================================================

// Append inserts the record of a finished (or rejected) run.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	var finishedAt *string
	if rec.FinishedAt != nil {
		f := rec.FinishedAt.UTC().Format(time.RFC3339)
		finishedAt = &f
	}

	query := `
		INSERT INTO runs (
			id, app_name, repo_url, branch, commit_hash, host,
			stage, status, error_message, started_at, finished_at
		) VALUES (
			:id, :app_name, :repo_url, :branch, :commit_hash, :host,
			:stage, :status, :error_message, :started_at, :finished_at
		)`

	row := map[string]any{
		"id":            rec.ID,
		"app_name":      rec.AppName,
		"repo_url":      rec.RepoURL,
		"branch":        rec.Branch,
		"commit_hash":   rec.Commit,
		"host":          rec.Host,
		"stage":         string(rec.Stage),
		"status":        string(rec.Status),
		"error_message": rec.Error,
		"started_at":    rec.StartedAt.UTC().Format(time.RFC3339),
		"finished_at":   finishedAt,
	}

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return newStoreError("Append", rec.ID, err.Error(), err)
	}
	return nil
}

// List returns the most recent runs, newest first. A non-positive limit
// falls back to 20.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT * FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, newStoreError("List", "", err.Error(), err)
	}

	records := make([]Record, 0, len(rows))
	for i := range rows {
		rec, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// ListByApp returns the most recent runs for one application, newest first.
func (s *Store) ListByApp(ctx context.Context, appName string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT * FROM runs WHERE app_name = ? ORDER BY started_at DESC, id DESC LIMIT ?`

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, appName, limit); err != nil {
		return nil, newStoreError("ListByApp", "", err.Error(), err)
	}

	records := make([]Record, 0, len(rows))
	for i := range rows {
		rec, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Latest returns the newest run for an application, or ErrNotFound.
func (s *Store) Latest(ctx context.Context, appName string) (*Record, error) {
	query := `SELECT * FROM runs WHERE app_name = ? ORDER BY started_at DESC, id DESC LIMIT 1`

	var row runRow
	err := s.db.GetContext(ctx, &row, query, appName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newStoreError("Latest", "", "no runs recorded for "+appName, ErrNotFound)
		}
		return nil, newStoreError("Latest", "", err.Error(), err)
	}

	return rowToRecord(&row)
}

// =============================================================================
// Row Conversion
// =============================================================================

func rowToRecord(row *runRow) (*Record, error) {
	startedAt, err := time.Parse(time.RFC3339, row.StartedAt)
	if err != nil {
		return nil, newStoreError("rowToRecord", row.ID, "failed to parse started_at", err)
	}

	var finishedAt *time.Time
	if row.FinishedAt != nil && *row.FinishedAt != "" {
		t, err := time.Parse(time.RFC3339, *row.FinishedAt)
		if err != nil {
			return nil, newStoreError("rowToRecord", row.ID, "failed to parse finished_at", err)
		}
		finishedAt = &t
	}

	return &Record{
		ID:         row.ID,
		AppName:    row.AppName,
		RepoURL:    row.RepoURL,
		Branch:     row.Branch,
		Commit:     row.CommitHash,
		Host:       row.Host,
		Stage:      pipeline.Stage(row.Stage),
		Status:     pipeline.RunStatus(row.Status),
		Error:      row.ErrorMsg,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}
