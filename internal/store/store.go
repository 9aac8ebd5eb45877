// Package store provides SQLite-backed persistence for the installer's
// run history, installs and audit trail.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dcc-ex/exinstaller/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store provides access to the installer SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode so the CLI can read history while the TUI writes
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		tool TEXT NOT NULL,
		name TEXT NOT NULL,
		args TEXT,
		status TEXT NOT NULL,
		topic TEXT,
		data TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS installs (
		id TEXT PRIMARY KEY,
		product TEXT NOT NULL,
		version TEXT NOT NULL,
		device TEXT NOT NULL,
		fqbn TEXT NOT NULL,
		port TEXT NOT NULL,
		installed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_installs_product ON installs(product);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Run Operations ---

// SaveRun inserts a finished worker task.
func (s *Store) SaveRun(ctx context.Context, run models.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	argsJSON, err := json.Marshal(run.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, tool, name, args, status, topic, data, started_at, ended_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Tool, run.Name, string(argsJSON), string(run.Status), run.Topic, run.Data,
		run.StartedAt.UTC(), run.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tool, name, args, status, topic, data, started_at, ended_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool, name, args, status, topic, data, started_at, ended_at FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*models.Run, error) {
	var run models.Run
	var argsJSON, topic, data sql.NullString
	var status string
	if err := sc.Scan(&run.ID, &run.Tool, &run.Name, &argsJSON, &status, &topic, &data, &run.StartedAt, &run.EndedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = models.Status(status)
	run.Topic = topic.String
	run.Data = data.String
	if argsJSON.Valid && argsJSON.String != "" {
		if err := json.Unmarshal([]byte(argsJSON.String), &run.Args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
	}
	return &run, nil
}

// --- Install Operations ---

// SaveInstall records a successful upload.
func (s *Store) SaveInstall(ctx context.Context, in models.Install) (*models.Install, error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.InstalledAt.IsZero() {
		in.InstalledAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO installs (id, product, version, device, fqbn, port, installed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Product, in.Version, in.Device, in.FQBN, in.Port, in.InstalledAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert install: %w", err)
	}
	return &in, nil
}

// ListInstalls returns installs, newest first. An empty product lists all.
func (s *Store) ListInstalls(ctx context.Context, product string, limit int) ([]models.Install, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, product, version, device, fqbn, port, installed_at FROM installs`
	args := []any{}
	if product != "" {
		query += ` WHERE product = ?`
		args = append(args, product)
	}
	query += ` ORDER BY installed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query installs: %w", err)
	}
	defer rows.Close()

	var installs []models.Install
	for rows.Next() {
		var in models.Install
		if err := rows.Scan(&in.ID, &in.Product, &in.Version, &in.Device, &in.FQBN, &in.Port, &in.InstalledAt); err != nil {
			return nil, fmt.Errorf("scan install: %w", err)
		}
		installs = append(installs, in)
	}
	return installs, rows.Err()
}

// --- Audit Operations ---

// WriteAudit writes an audit entry.
func (s *Store) WriteAudit(ctx context.Context, action, inputsHash, outcome, details string) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (id, action, inputs_hash, outcome, details, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.InputsHash, entry.Outcome, entry.Details, entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit: %w", err)
	}
	return entry, nil
}

// ListAudit returns audit entries, newest first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, inputs_hash, outcome, details, timestamp FROM audit ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
