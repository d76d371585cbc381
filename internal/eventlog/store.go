package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file inside a run's logs directory.
const FileName = "events.db"

// Well-known metadata keys.
const (
	MetaSessionID = "session_id"
	MetaStartedAt = "started_at"
	MetaModel     = "model"
	MetaSeed      = "seed"
	MetaMaxSteps  = "max_steps"
)

// Scalar is one recorded value.
type Scalar struct {
	Tag      string
	Step     int
	Value    float64
	WallTime time.Time
}

// Store is an open event database.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Open creates or opens dir/events.db.
func Open(ctx context.Context, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	return open(ctx, filepath.Join(dir, FileName), false)
}

// OpenReadOnly opens an existing events.db in dir without creating it.
func OpenReadOnly(ctx context.Context, dir string) (*Store, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return open(ctx, path, true)
}

func open(ctx context.Context, path string, readOnly bool) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	if readOnly {
		pragmas = []string{"PRAGMA busy_timeout = 5000", "PRAGMA query_only = ON"}
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(ctx, readOnly); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetMeta stores a run metadata value, replacing any previous one.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return s.exec(ctx,
		"INSERT INTO run_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
}

// Meta returns all run metadata.
func (s *Store) Meta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM run_meta")
	if err != nil {
		return nil, fmt.Errorf("query run meta: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// AddScalar records value for tag at step, stamped with the current time.
func (s *Store) AddScalar(ctx context.Context, tag string, step int, value float64) error {
	if strings.TrimSpace(tag) == "" {
		return errors.New("scalar tag is required")
	}
	return s.exec(ctx,
		"INSERT INTO scalars (tag, step, value, wall_time) VALUES (?, ?, ?, ?)",
		tag, step, value, s.now().UTC().Format(time.RFC3339Nano))
}

// Scalars returns every value recorded for tag in step order.
func (s *Store) Scalars(ctx context.Context, tag string) ([]Scalar, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tag, step, value, wall_time FROM scalars WHERE tag = ? ORDER BY step, id", tag)
	if err != nil {
		return nil, fmt.Errorf("query scalars: %w", err)
	}
	defer rows.Close()
	var out []Scalar
	for rows.Next() {
		var (
			sc   Scalar
			wall string
		)
		if err := rows.Scan(&sc.Tag, &sc.Step, &sc.Value, &wall); err != nil {
			return nil, err
		}
		if sc.WallTime, err = time.Parse(time.RFC3339Nano, wall); err != nil {
			return nil, fmt.Errorf("parse wall time %q: %w", wall, err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Tags lists recorded tags alphabetically.
func (s *Store) Tags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT tag FROM scalars ORDER BY tag")
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

// Summary aggregates one tag.
type Summary struct {
	Count    int
	Min      float64
	Max      float64
	Mean     float64
	LastStep int
	Last     float64
}

// Summarize aggregates the values recorded for tag. Count is zero when none exist.
func (s *Store) Summarize(ctx context.Context, tag string) (Summary, error) {
	var (
		sum   Summary
		minV  sql.NullFloat64
		maxV  sql.NullFloat64
		meanV sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1), MIN(value), MAX(value), AVG(value) FROM scalars WHERE tag = ?", tag,
	).Scan(&sum.Count, &minV, &maxV, &meanV)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize %s: %w", tag, err)
	}
	if sum.Count == 0 {
		return sum, nil
	}
	sum.Min, sum.Max, sum.Mean = minV.Float64, maxV.Float64, meanV.Float64
	err = s.db.QueryRowContext(ctx,
		"SELECT step, value FROM scalars WHERE tag = ? ORDER BY step DESC, id DESC LIMIT 1", tag,
	).Scan(&sum.LastStep, &sum.Last)
	if err != nil {
		return Summary{}, fmt.Errorf("last %s: %w", tag, err)
	}
	return sum, nil
}
