package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sandevgo/tuskmem/internal/core"
)

// SaveSession creates or overwrites the (session_id, owner) record.
func (s *Store) SaveSession(ctx context.Context, rec core.SessionRecord) error {
	if rec.SessionID == "" || rec.Owner == "" {
		return errors.New("session id and owner are required")
	}
	msgs := rec.Messages
	if msgs == nil {
		msgs = []core.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err = s.exec(ctx,
		`INSERT INTO sessions (session_id, owner, messages, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, owner) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at`,
		rec.SessionID, rec.Owner, string(data), nanos(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", rec.SessionID, err)
	}
	return nil
}

// LoadLatestSession returns the owner's most recently saved session.
func (s *Store) LoadLatestSession(ctx context.Context, owner string) (core.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, owner, messages, updated_at FROM sessions
		 WHERE owner = ? ORDER BY updated_at DESC, rowid DESC LIMIT 1`, owner)
	return scanSession(row)
}

func (s *Store) LoadSession(ctx context.Context, owner, sessionID string) (core.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, owner, messages, updated_at FROM sessions
		 WHERE owner = ? AND session_id = ?`, owner, sessionID)
	return scanSession(row)
}

// ListSessions returns the owner's sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context, owner string) ([]core.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, owner, json_array_length(messages), updated_at FROM sessions
		 WHERE owner = ? ORDER BY updated_at DESC, rowid DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []core.SessionSummary
	for rows.Next() {
		var sum core.SessionSummary
		var updatedAt int64
		if err := rows.Scan(&sum.SessionID, &sum.Owner, &sum.MessageCount, &updatedAt); err != nil {
			return nil, err
		}
		sum.UpdatedAt = fromNanos(updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, owner, sessionID string) error {
	res, err := s.exec(ctx, `DELETE FROM sessions WHERE owner = ? AND session_id = ?`, owner, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// PruneSessions keeps the owner's keep most recently active sessions.
func (s *Store) PruneSessions(ctx context.Context, owner string, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("invalid keep count %d", keep)
	}
	res, err := s.exec(ctx,
		`DELETE FROM sessions WHERE owner = ? AND rowid IN (
			SELECT rowid FROM sessions WHERE owner = ?
			ORDER BY updated_at DESC, rowid DESC
			LIMIT -1 OFFSET ?
		)`, owner, owner, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanSession(row *sql.Row) (core.SessionRecord, error) {
	var rec core.SessionRecord
	var data string
	var updatedAt int64
	err := row.Scan(&rec.SessionID, &rec.Owner, &data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SessionRecord{}, core.ErrNotFound
	}
	if err != nil {
		return core.SessionRecord{}, fmt.Errorf("failed to load session: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &rec.Messages); err != nil {
		return core.SessionRecord{}, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	rec.UpdatedAt = fromNanos(updatedAt)
	return rec, nil
}
