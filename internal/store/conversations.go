package store

import (
	"context"
	"fmt"
	"time"

	"github.com/54b3r/primaria-go/internal/domain"
)

// Message is a single persisted turn in a conversation.
type Message struct {
	// Role is the author of the message.
	Role domain.Role
	// Content is the text of the message.
	Content string
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time
}

// Append persists a single message for the given session.
func (s *SQLiteStore) Append(ctx context.Context, sessionID, tenantID string, role domain.Role, content string) error {
	const q = `INSERT INTO conversations (session_id, tenant_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sessionID, tenantID, string(role), content, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n messages of the session within tenantID,
// ordered oldest-first so they can be replayed as history directly.
// If fewer than n messages exist, all are returned.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID, tenantID string, n int) ([]Message, error) {
	const q = `
SELECT role, content, created_at FROM (
    SELECT id, role, content, created_at
    FROM   conversations
    WHERE  session_id = ? AND tenant_id = ?
    ORDER  BY id DESC
    LIMIT  ?
) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, tenantID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		var role string
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		m.Role = domain.Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return msgs, nil
}

// RecentTurns is Recent projected onto domain turns.
func (s *SQLiteStore) RecentTurns(ctx context.Context, sessionID, tenantID string, n int) ([]domain.Turn, error) {
	msgs, err := s.Recent(ctx, sessionID, tenantID, n)
	if err != nil {
		return nil, err
	}
	turns := make([]domain.Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = domain.Turn{Role: m.Role, Content: m.Content}
	}
	return turns, nil
}
