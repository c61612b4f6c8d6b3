package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

var knowledgeSchema = []string{
	`CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS task_links (
		task_id TEXT NOT NULL,
		note_id TEXT NOT NULL,
		PRIMARY KEY (task_id, note_id)
	);`,
}

// Note is a free-text knowledge-base entry (spec §12 supplement).
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// KnowledgeStore backs search_knowledge, index_note, link_task, and
// get_task_links. Search is a naive case-insensitive substring match over
// note content — the teacher's internal/search/index.go builds a real
// inverted index, but no embedding/vector dependency appears anywhere in
// the example pack, so this stays at LIKE-query scale deliberately (see
// DESIGN.md).
type KnowledgeStore struct {
	*base
	ctx context.Context
}

func OpenKnowledgeStore(path string) (*KnowledgeStore, error) {
	b, err := openBase(path, knowledgeSchema)
	if err != nil {
		return nil, err
	}
	return &KnowledgeStore{base: b, ctx: context.Background()}, nil
}

// IndexNote persists a note and returns its id.
func (s *KnowledgeStore) IndexNote(content string, tags []string, now time.Time) (string, error) {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(s.ctx,
		`INSERT INTO notes (id, content, tags, created_at) VALUES (?, ?, ?, ?)`,
		id, content, string(tagsJSON), now.Format(time.RFC3339Nano))
	if err != nil {
		return "", err
	}
	return id, nil
}

// SearchKnowledge returns notes whose content contains query
// (case-insensitive).
func (s *KnowledgeStore) SearchKnowledge(query string) ([]Note, error) {
	rows, err := s.db.QueryContext(s.ctx,
		`SELECT id, content, tags, created_at FROM notes WHERE LOWER(content) LIKE ?`,
		"%"+strings.ToLower(query)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var (
			n        Note
			tagsJSON string
			ts       string
		)
		if err := rows.Scan(&n.ID, &n.Content, &tagsJSON, &ts); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tagsJSON), &n.Tags)
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		n.CreatedAt = parsed
		out = append(out, n)
	}
	return out, rows.Err()
}

// LinkTask associates noteID with taskID.
func (s *KnowledgeStore) LinkTask(taskID, noteID string) error {
	_, err := s.db.ExecContext(s.ctx,
		`INSERT OR IGNORE INTO task_links (task_id, note_id) VALUES (?, ?)`, taskID, noteID)
	return err
}

// GetTaskLinks returns the notes linked to taskID.
func (s *KnowledgeStore) GetTaskLinks(taskID string) ([]Note, error) {
	rows, err := s.db.QueryContext(s.ctx,
		`SELECT n.id, n.content, n.tags, n.created_at FROM notes n
		 JOIN task_links l ON l.note_id = n.id WHERE l.task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var (
			n        Note
			tagsJSON string
			ts       string
		)
		if err := rows.Scan(&n.ID, &n.Content, &tagsJSON, &ts); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tagsJSON), &n.Tags)
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		n.CreatedAt = parsed
		out = append(out, n)
	}
	return out, rows.Err()
}
