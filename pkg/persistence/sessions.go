package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionRecord is one archived session: the JSON document the memory ledger
// produced, stamped with when the session ran and when it was archived.
type SessionRecord struct {
	SessionID  string
	StartedAt  time.Time
	ArchivedAt time.Time
	Document   string
}

// ArchiveSession stores a session document under its session ID. Archiving
// the same session twice replaces the document.
func (s *Store) ArchiveSession(ctx context.Context, sessionID string, startedAt time.Time, document string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (session_id, started_at, archived_at, document)
		VALUES (?, ?, ?, ?)
	`, sessionID, formatTime(startedAt), formatTime(time.Now()), document)
	if err != nil {
		return fmt.Errorf("failed to archive session %s: %w", sessionID, err)
	}
	s.logger.Info("archived session %s (%d bytes)", sessionID, len(document))
	return nil
}

// GetSession returns one archived session, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, started_at, archived_at, document
		FROM sessions WHERE session_id = ?
	`, sessionID)

	var rec SessionRecord
	var started, archived string
	err := row.Scan(&rec.SessionID, &started, &archived, &rec.Document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	rec.StartedAt = parseTime(started)
	rec.ArchivedAt = parseTime(archived)
	return &rec, nil
}

// ListSessions returns the most recently archived sessions, newest first.
// A limit of 0 or less means no limit.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	query := `
		SELECT session_id, started_at, archived_at, document
		FROM sessions ORDER BY archived_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var started, archived string
		if err := rows.Scan(&rec.SessionID, &started, &archived, &rec.Document); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec.StartedAt = parseTime(started)
		rec.ArchivedAt = parseTime(archived)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session row iteration failed: %w", err)
	}
	return out, nil
}

// timeLayout has a fixed-width fraction so lexicographic ORDER BY on the
// stored text matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime reads a stored RFC3339 timestamp; a zero time marks a value
// something else wrote.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
