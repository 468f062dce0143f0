package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"streamcast/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped on incompatible schema changes. Old journals must
// be deleted; session history is not worth a migration framework.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by a different
// streamcast version.
var ErrSchemaMismatch = errors.New("journal schema version mismatch")

// ErrSessionNotFound reports an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

const timeLayout = time.RFC3339Nano

// Session is one streaming run from go-live to stop.
type Session struct {
	ID            string
	StartedAt     time.Time
	EndedAt       time.Time
	FrameCount    uint64
	DroppedFrames uint64
	AvgFPS        float64
	EndReason     string
}

// Active reports whether the session has not ended yet.
func (s Session) Active() bool { return s.EndedAt.IsZero() }

// Incident is a noteworthy pipeline event during a session.
type Incident struct {
	ID         int64
	SessionID  string
	OccurredAt time.Time
	Kind       string
	Detail     string
	Fatal      bool
}

// Store persists sessions and incidents in SQLite.
type Store struct {
	db   *sql.DB
	path string
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

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Open initializes or connects to the journal database under the data dir.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "journal.db"))
}

// OpenPath opens the journal at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the backing database file.
func (s *Store) Path() string { return s.path }

// BeginSession records a new active session.
func (s *Store) BeginSession(ctx context.Context, id string, startedAt time.Time) error {
	return s.execWithRetry(ctx,
		"INSERT INTO sessions (id, started_at) VALUES (?, ?)",
		id, startedAt.UTC().Format(timeLayout))
}

// EndSession closes a session with its final counters.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time, frames, dropped uint64, avgFPS float64, reason string) error {
	err := s.execWithRetry(ctx,
		`UPDATE sessions
		 SET ended_at = ?, frame_count = ?, dropped_frames = ?, avg_fps = ?, end_reason = ?
		 WHERE id = ?`,
		endedAt.UTC().Format(timeLayout), frames, dropped, avgFPS, reason, id)
	if err != nil {
		return err
	}
	return nil
}

// RecordIncident appends one incident to a session.
func (s *Store) RecordIncident(ctx context.Context, sessionID, kind, detail string, fatal bool, at time.Time) error {
	fatalInt := 0
	if fatal {
		fatalInt = 1
	}
	return s.execWithRetry(ctx,
		"INSERT INTO incidents (session_id, occurred_at, kind, detail, fatal) VALUES (?, ?, ?, ?, ?)",
		sessionID, at.UTC().Format(timeLayout), kind, detail, fatalInt)
}

// Session fetches one session by id.
func (s *Store) Session(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, frame_count, dropped_frames, avg_fps, end_reason
		 FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, err
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, frame_count, dropped_frames, avg_fps, end_reason
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Incidents returns a session's incidents in occurrence order.
func (s *Store) Incidents(ctx context.Context, sessionID string) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, occurred_at, kind, detail, fatal
		 FROM incidents WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		var (
			inc        Incident
			occurredAt string
			fatal      int
		)
		if err := rows.Scan(&inc.ID, &inc.SessionID, &occurredAt, &inc.Kind, &inc.Detail, &fatal); err != nil {
			return nil, err
		}
		inc.OccurredAt, _ = time.Parse(timeLayout, occurredAt)
		inc.Fatal = fatal != 0
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Prune removes finished sessions older than the cutoff. Incidents cascade.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			"DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?",
			cutoff.UTC().Format(timeLayout))
		if execErr != nil {
			return execErr
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		session   Session
		startedAt string
		endedAt   sql.NullString
	)
	if err := row.Scan(&session.ID, &startedAt, &endedAt, &session.FrameCount,
		&session.DroppedFrames, &session.AvgFPS, &session.EndReason); err != nil {
		return Session{}, err
	}
	session.StartedAt, _ = time.Parse(timeLayout, startedAt)
	if endedAt.Valid && endedAt.String != "" {
		session.EndedAt, _ = time.Parse(timeLayout, endedAt.String)
	}
	return session, nil
}
