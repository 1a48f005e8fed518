package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/calgenie/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements EventStore and SessionRepository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	meetingMu sync.Mutex // serializes compare-and-swap writers to avoid SQLITE_BUSY
	sessionMu sync.Mutex
}

// NewSQLite opens (and creates if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS meetings (
		position INTEGER PRIMARY KEY,
		meeting_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		location TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		participants_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_meetings_id ON meetings(meeting_id);

	CREATE TABLE IF NOT EXISTS store_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO store_meta (id, version) VALUES (1, 0);

	CREATE TABLE IF NOT EXISTS negotiation_sessions (
		session_id TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_negotiation_sessions_updated ON negotiation_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Load reads every meeting in insertion order with the current version.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := withBusyRetry(ctx, "load meetings", func() error {
		var err error
		snap, err = s.loadOnce(ctx)
		return err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return snap, nil
}

func (s *SQLiteStore) loadOnce(ctx context.Context) (Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM store_meta WHERE id = 1`).Scan(&version); err != nil {
		return Snapshot{}, fmt.Errorf("read version: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT meeting_id, title, description, location, start_time, end_time, participants_json
		FROM meetings ORDER BY position`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query meetings: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close meeting rows", "error", closeErr)
		}
	}()

	meetings := []domain.Meeting{}
	for rows.Next() {
		var m domain.Meeting
		var participantsJSON string
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.Location,
			&m.StartTime, &m.EndTime, &participantsJSON); err != nil {
			return Snapshot{}, fmt.Errorf("scan meeting row: %w", err)
		}
		if err := json.Unmarshal([]byte(participantsJSON), &m.Participants); err != nil {
			return Snapshot{}, fmt.Errorf("decode participants for %s: %w", m.ID, err)
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate meetings: %w", err)
	}
	return Snapshot{Meetings: meetings, Version: strconv.FormatInt(version, 10)}, nil
}

// Save replaces the meeting table in one transaction when expectedVersion is
// still current.
func (s *SQLiteStore) Save(ctx context.Context, meetings []domain.Meeting, expectedVersion string) (string, error) {
	s.meetingMu.Lock()
	defer s.meetingMu.Unlock()

	var version string
	err := withBusyRetry(ctx, "save meetings", func() error {
		var err error
		version, err = s.saveOnce(ctx, meetings, expectedVersion)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return version, nil
}

func (s *SQLiteStore) saveOnce(ctx context.Context, meetings []domain.Meeting, expectedVersion string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM store_meta WHERE id = 1`).Scan(&current); err != nil {
		return "", fmt.Errorf("read version: %w", err)
	}
	if cur := strconv.FormatInt(current, 10); cur != expectedVersion {
		return "", &ConflictError{Expected: expectedVersion, Current: cur}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM meetings`); err != nil {
		return "", fmt.Errorf("clear meetings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO meetings (position, meeting_id, title, description, location, start_time, end_time, participants_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, m := range meetings {
		participants := m.Participants
		if participants == nil {
			participants = []domain.Participant{}
		}
		pj, err := json.Marshal(participants)
		if err != nil {
			return "", fmt.Errorf("encode participants for %s: %w", m.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, m.ID, m.Title, m.Description, m.Location,
			m.StartTime, m.EndTime, string(pj)); err != nil {
			return "", fmt.Errorf("insert meeting %s: %w", m.ID, err)
		}
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx, `UPDATE store_meta SET version = ? WHERE id = 1`, next); err != nil {
		return "", fmt.Errorf("bump version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit meetings: %w", err)
	}
	return strconv.FormatInt(next, 10), nil
}

// GetSession retrieves negotiation state for a session.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, state_json, created_at, updated_at
		FROM negotiation_sessions WHERE session_id = ?`, sessionID)

	var rec SessionRecord
	var stateJSON string
	var createdAt, updatedAt int64
	err := row.Scan(&rec.SessionID, &stateJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan negotiation session: %w", err)
	}
	rec.StateJSON = []byte(stateJSON)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// UpsertSession creates or updates negotiation state.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *SessionRecord) error {
	return withBusyRetry(ctx, "upsert session", func() error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()

		updated := rec.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		created := rec.CreatedAt
		if created.IsZero() {
			created = updated
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO negotiation_sessions (session_id, state_json, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				state_json = excluded.state_json,
				updated_at = excluded.updated_at`,
			rec.SessionID, string(rec.StateJSON), created.Unix(), updated.Unix())
		if err != nil {
			return fmt.Errorf("upsert negotiation session: %w", err)
		}
		return nil
	})
}

// DeleteSession removes negotiation state.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return withBusyRetry(ctx, "delete session", func() error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()
		if _, err := s.db.ExecContext(ctx, `DELETE FROM negotiation_sessions WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete negotiation session: %w", err)
		}
		return nil
	})
}

// CleanupExpiredSessions removes sessions idle longer than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM negotiation_sessions WHERE updated_at < ? RETURNING session_id`, threshold)
	if err != nil {
		return nil, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired session rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return ids, nil
}

// withBusyRetry retries op with exponential backoff while SQLite reports lock
// contention.
func withBusyRetry(ctx context.Context, name string, op func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil || !isLockContention(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("sqlite busy, retrying",
			"op", name,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, maxRetries, err)
}
