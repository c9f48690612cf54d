// Package catalog keeps a SQLite history of capture sessions.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = errors.New("catalog: session not found")

// Record is one row in the session history.
type Record struct {
	ID          string    `json:"id"`
	Phase       string    `json:"phase"`
	Mode        string    `json:"mode"`
	SampleCount int       `json:"sample_count"`
	StartLat    *float64  `json:"start_lat,omitempty"`
	StartLon    *float64  `json:"start_lon,omitempty"`
	EndLat      *float64  `json:"end_lat,omitempty"`
	EndLon      *float64  `json:"end_lon,omitempty"`
	OutputPath  string    `json:"output_path,omitempty"`
	Failure     string    `json:"failure,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store wraps the database connection with serialized writes.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the catalog database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}
	return s, nil
}

// NewWithDB uses an existing connection; the schema must already exist.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		mode TEXT NOT NULL,
		sample_count INTEGER NOT NULL DEFAULT 0,
		start_lat REAL,
		start_lon REAL,
		end_lat REAL,
		end_lon REAL,
		output_path TEXT NOT NULL DEFAULT '',
		failure TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

const upsertSession = `INSERT INTO sessions (id, phase, mode, sample_count, start_lat, start_lon, end_lat, end_lon, output_path, failure, started_at, finished_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	phase = excluded.phase,
	mode = excluded.mode,
	sample_count = excluded.sample_count,
	start_lat = COALESCE(excluded.start_lat, sessions.start_lat),
	start_lon = COALESCE(excluded.start_lon, sessions.start_lon),
	end_lat = COALESCE(excluded.end_lat, sessions.end_lat),
	end_lon = COALESCE(excluded.end_lon, sessions.end_lon),
	output_path = excluded.output_path,
	failure = excluded.failure,
	finished_at = excluded.finished_at,
	updated_at = excluded.updated_at`

// RecordSession inserts or updates the row for r.ID. Coordinates already
// stored are kept when r leaves them nil.
func (s *Store) RecordSession(ctx context.Context, r Record) error {
	if r.ID == "" {
		return fmt.Errorf("catalog: record without id")
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, upsertSession,
		r.ID, r.Phase, r.Mode, r.SampleCount,
		nullFloat(r.StartLat), nullFloat(r.StartLon), nullFloat(r.EndLat), nullFloat(r.EndLon),
		r.OutputPath, r.Failure, r.StartedAt, nullTime(r.FinishedAt), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", r.ID, err)
	}
	return nil
}

const selectSession = `SELECT id, phase, mode, sample_count, start_lat, start_lon, end_lat, end_lon, output_path, failure, started_at, finished_at, updated_at FROM sessions`

// Get returns the record for id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectSession+` WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return r, nil
}

// ListSessions returns the most recently started sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectSession+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                                  Record
		startLat, startLon, endLat, endLon sql.NullFloat64
		finished                           sql.NullTime
	)
	err := sc.Scan(&r.ID, &r.Phase, &r.Mode, &r.SampleCount,
		&startLat, &startLon, &endLat, &endLon,
		&r.OutputPath, &r.Failure, &r.StartedAt, &finished, &r.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	r.StartLat = floatPtr(startLat)
	r.StartLon = floatPtr(startLon)
	r.EndLat = floatPtr(endLat)
	r.EndLon = floatPtr(endLon)
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return r, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
