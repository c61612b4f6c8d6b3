package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageKind discriminates regular messages from structured handoffs.
type MessageKind string

const (
	MessageKindMessage MessageKind = "message"
	MessageKindHandoff MessageKind = "handoff"
)

// Message is a durable inter-account delivery (spec §3). Once persisted,
// (From, To, Timestamp, Content) is immutable; only Read mutates.
type Message struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Kind      MessageKind       `json:"type"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Read      bool              `json:"read"`
	Context   map[string]string `json:"context,omitempty"`
}

var messageSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		context TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, timestamp DESC);`,
}

// MessageStore persists Message rows.
type MessageStore struct{ *base }

// OpenMessageStore opens (or creates) the messages database at path.
func OpenMessageStore(path string) (*MessageStore, error) {
	b, err := openBase(path, messageSchema)
	if err != nil {
		return nil, err
	}
	return &MessageStore{base: b}, nil
}

// AddMessage persists msg, assigning it a fresh id when msg.ID is empty.
func (s *MessageStore) AddMessage(ctx context.Context, msg Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	var ctxJSON any
	if len(msg.Context) > 0 {
		data, err := json.Marshal(msg.Context)
		if err != nil {
			return "", err
		}
		ctxJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender, recipient, kind, content, timestamp, read, context)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.From, msg.To, msg.Kind, msg.Content, msg.Timestamp.Format(time.RFC3339Nano), boolToInt(msg.Read), ctxJSON)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// GetMessages returns newest-first messages addressed to `to`, optionally
// paginated.
func (s *MessageStore) GetMessages(ctx context.Context, to string, limit, offset int) ([]Message, error) {
	query := `SELECT id, sender, recipient, kind, content, timestamp, read, context
	          FROM messages WHERE recipient = ? ORDER BY timestamp DESC`
	args := []any{to}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetUnreadMessages returns all unread messages addressed to `to`.
func (s *MessageStore) GetUnreadMessages(ctx context.Context, to string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, recipient, kind, content, timestamp, read, context
		 FROM messages WHERE recipient = ? AND read = 0 ORDER BY timestamp DESC`, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// CountUnread counts unread messages addressed to `to`.
func (s *MessageStore) CountUnread(ctx context.Context, to string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE recipient = ? AND read = 0`, to).Scan(&n)
	return n, err
}

// MarkRead marks a single message read. Idempotent.
func (s *MessageStore) MarkRead(ctx context.Context, to, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET read = 1 WHERE recipient = ? AND id = ?`, to, id)
	return err
}

// MarkAllRead marks every message addressed to `to` as read. Idempotent.
func (s *MessageStore) MarkAllRead(ctx context.Context, to string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET read = 1 WHERE recipient = ?`, to)
	return err
}

// GetHandoffs returns handoff-typed messages addressed to `to`.
func (s *MessageStore) GetHandoffs(ctx context.Context, to string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, recipient, kind, content, timestamp, read, context
		 FROM messages WHERE recipient = ? AND kind = ? ORDER BY timestamp DESC`, to, MessageKindHandoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ArchiveOld deletes read messages older than `days` days and returns the
// count removed.
func (s *MessageStore) ArchiveOld(ctx context.Context, days int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -days).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE read = 1 AND timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanMessages(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var (
			m         Message
			ts        string
			read      int
			ctxJSON   *string
		)
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Kind, &m.Content, &ts, &read, &ctxJSON); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		m.Timestamp = parsed
		m.Read = read != 0
		if ctxJSON != nil {
			var ctxMap map[string]string
			if err := json.Unmarshal([]byte(*ctxJSON), &ctxMap); err == nil {
				m.Context = ctxMap
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
