package store

import (
	"context"
	"time"
)

var sessionSchema = []string{
	`CREATE TABLE IF NOT EXISTS session_links (
		session_id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		expected_files TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL
	);`,
}

// SessionStore durably persists the session-id <-> task-id correlation
// the session watcher (spec §4.11) builds at runtime, so a restarted
// daemon does not lose the mapping for sessions still in flight.
type SessionStore struct {
	*base
	ctx context.Context
}

func OpenSessionStore(path string) (*SessionStore, error) {
	b, err := openBase(path, sessionSchema)
	if err != nil {
		return nil, err
	}
	return &SessionStore{base: b, ctx: context.Background()}, nil
}

// Link records (or replaces) the task and expected-files set a session
// id correlates to.
func (s *SessionStore) Link(sessionID, taskID string, expectedFilesJSON string, now time.Time) error {
	_, err := s.db.ExecContext(s.ctx,
		`INSERT INTO session_links (session_id, task_id, expected_files, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET task_id = excluded.task_id,
			expected_files = excluded.expected_files, updated_at = excluded.updated_at`,
		sessionID, taskID, expectedFilesJSON, now.Format(time.RFC3339Nano))
	return err
}

// TaskFor returns the task id linked to sessionID.
func (s *SessionStore) TaskFor(sessionID string) (string, bool, error) {
	var taskID string
	err := s.db.QueryRowContext(s.ctx, `SELECT task_id FROM session_links WHERE session_id = ?`, sessionID).Scan(&taskID)
	if err != nil {
		return "", false, nil
	}
	return taskID, true, nil
}

// Unlink removes a session's correlation, e.g. once its task completes.
func (s *SessionStore) Unlink(sessionID string) error {
	_, err := s.db.ExecContext(s.ctx, `DELETE FROM session_links WHERE session_id = ?`, sessionID)
	return err
}
