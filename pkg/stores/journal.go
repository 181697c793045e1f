package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/shakenfist/ostrich/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteJournal records step executions in a SQLite database
type SQLiteJournal struct {
	db          *sql.DB
	path        string
	busyTimeout time.Duration
}

// JournalConfig holds SQLite journal configuration
type JournalConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// NewSQLiteJournal creates a new SQLite journal instance
func NewSQLiteJournal(cfg JournalConfig) (*SQLiteJournal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	return &SQLiteJournal{path: cfg.Path, busyTimeout: cfg.BusyTimeout}, nil
}

// OpenJournal creates, initializes and migrates a journal at path.
func OpenJournal(ctx context.Context, path string) (*SQLiteJournal, error) {
	j, err := NewSQLiteJournal(JournalConfig{Path: path})
	if err != nil {
		return nil, err
	}
	if err := j.Init(ctx); err != nil {
		return nil, err
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

// Init opens the database connection and enables WAL mode.
func (j *SQLiteJournal) Init(ctx context.Context) error {
	if j.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		j.path, j.busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases and WAL writers coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	j.db = db
	return nil
}

// Close closes the database connection
func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (j *SQLiteJournal) Migrate(_ context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(j.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// StartRun creates a run record in the running state
func (j *SQLiteJournal) StartRun(ctx context.Context, id, planPath string, startedAt time.Time) error {
	query := `
		INSERT INTO runs (id, plan_path, status, started_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := j.db.ExecContext(ctx, query, id, planPath, RunStatusRunning, startedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun sets the final status of a run
func (j *SQLiteJournal) FinishRun(ctx context.Context, id string, status RunStatus, runErr error) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	result, err := j.db.ExecContext(ctx, query, status, errMsg, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// GetRun retrieves a run by ID
func (j *SQLiteJournal) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, plan_path, status, started_at, completed_at, error
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(j.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs, newest first
func (j *SQLiteJournal) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, plan_path, status, started_at, completed_at, error
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := j.db.QueryContext(ctx, query, limit)
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
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// RecordExecution appends a step attempt to the journal. It satisfies
// engine.Journal.
func (j *SQLiteJournal) RecordExecution(ctx context.Context, runID string, exec engine.Execution) error {
	query := `
		INSERT INTO executions (
			run_id, counter, step, depends, attempt, outcome, truthy,
			started_at, duration_ms, log_id, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := j.db.ExecContext(ctx, query,
		runID,
		exec.Counter,
		exec.Step,
		exec.Depends,
		exec.Attempt,
		exec.Outcome.String(),
		exec.Outcome.Truthy(),
		exec.StartedAt.UnixMilli(),
		exec.Duration.Milliseconds(),
		exec.LogID,
		exec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// ListExecutions lists journaled attempts in the order they were made
func (j *SQLiteJournal) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	query := `
		SELECT id, run_id, counter, step, depends, attempt, outcome, truthy,
			   started_at, duration_ms, log_id, error
		FROM executions
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Step != "" {
		query += " AND step = ?"
		args = append(args, filter.Step)
	}

	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	records := []*ExecutionRecord{}
	for rows.Next() {
		rec := &ExecutionRecord{}
		var startedAt, durationMS int64
		err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.Counter,
			&rec.Step,
			&rec.Depends,
			&rec.Attempt,
			&rec.Outcome,
			&rec.Truthy,
			&startedAt,
			&durationMS,
			&rec.LogID,
			&rec.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return records, nil
}

// HealthCheck verifies the database connection is healthy
func (j *SQLiteJournal) HealthCheck(ctx context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return j.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var startedAt int64
	var completedAt sql.NullInt64
	var errMsg sql.NullString

	if err := row.Scan(&run.ID, &run.PlanPath, &run.Status, &startedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}

	run.StartedAt = time.UnixMilli(startedAt)
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64)
		run.CompletedAt = &t
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return run, nil
}
