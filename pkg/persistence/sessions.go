package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session status constants.
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed" // phase chain ended
)

// Session is the resumable state of one interview.
type Session struct {
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	SessionID    string    `json:"session_id"`
	CurrentPhase string    `json:"current_phase"`
	Status       string    `json:"status"`
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// CreateSession creates a new active session record positioned at phase.
func CreateSession(ctx context.Context, db *sql.DB, sessionID, phase string) error {
	ts := now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, current_phase, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, phase, SessionStatusActive, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateSessionPhase records the session's current phase and status.
func UpdateSessionPhase(ctx context.Context, db *sql.DB, sessionID, phase, status string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE sessions SET current_phase = ?, status = ?, updated_at = ?
		WHERE session_id = ?
	`, phase, status, now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session phase: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession scans a session row into a Session struct.
func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var startedAt, updatedAt string
	err := row.Scan(&session.SessionID, &session.CurrentPhase, &session.Status, &startedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if session.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
	}
	if session.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at %q: %w", updatedAt, err)
	}
	return &session, nil
}

// GetSession retrieves a session by id.
func GetSession(ctx context.Context, db *sql.DB, sessionID string) (*Session, error) {
	row := db.QueryRowContext(ctx, `
		SELECT session_id, current_phase, status, started_at, updated_at
		FROM sessions WHERE session_id = ?
	`, sessionID)
	return scanSession(row)
}

// ListSessions returns all sessions, most recently updated first.
func ListSessions(ctx context.Context, db *sql.DB) ([]*Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, current_phase, status, started_at, updated_at
		FROM sessions ORDER BY updated_at DESC, session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}
