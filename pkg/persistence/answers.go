package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"phasedoc/pkg/answers"
	"phasedoc/pkg/proto"
)

// AnswerStore is an answers.Store backed by the answers table.
type AnswerStore struct {
	db *sql.DB
}

var _ answers.Store = (*AnswerStore)(nil)

// NewAnswerStore wraps an opened database (see Open).
func NewAnswerStore(db *sql.DB) *AnswerStore {
	return &AnswerStore{db: db}
}

// Append inserts a as the newest row of the session.
func (s *AnswerStore) Append(ctx context.Context, sessionID string, a proto.Answer) error {
	if sessionID == "" {
		return answers.ErrEmptySession
	}

	var metadata sql.NullString
	if len(a.Metadata) > 0 {
		raw, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal answer metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO answers (id, session_id, question_id, text, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), sessionID, a.QuestionID, a.Text, metadata, createdAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to append answer: %w", err)
	}
	return nil
}

// List returns the session's answers in insertion order.
func (s *AnswerStore) List(ctx context.Context, sessionID string) ([]proto.Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id, text, metadata_json, created_at
		FROM answers WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []proto.Answer{}
	for rows.Next() {
		var a proto.Answer
		var metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&a.QuestionID, &a.Text, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal answer metadata: %w", err)
			}
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate answers: %w", err)
	}
	return out, nil
}

// Clear deletes every answer of the session in one transaction.
func (s *AnswerStore) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return answers.ErrEmptySession
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM answers WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear answers: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}
