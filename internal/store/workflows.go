package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var workflowSchema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
}

var retroSchema = []string{
	`CREATE TABLE IF NOT EXISTS retros (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		summary TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`,
}

var activitySchema = []string{
	`CREATE TABLE IF NOT EXISTS activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		kind TEXT NOT NULL,
		account TEXT,
		detail TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity(timestamp DESC);`,
}

// WorkflowStage is the stage a delegated task's workflow record is in.
// The daemon holds the workflow and retro stores side by side; neither
// store references the other, and no engine drives stage transitions
// beyond the handlers that call SetStage.
type WorkflowStage string

// WorkflowStore tracks a task's workflow stage.
type WorkflowStore struct {
	*base
	ctx context.Context
}

func OpenWorkflowStore(path string) (*WorkflowStore, error) {
	b, err := openBase(path, workflowSchema)
	if err != nil {
		return nil, err
	}
	return &WorkflowStore{base: b, ctx: context.Background()}, nil
}

func (s *WorkflowStore) SetStage(taskID string, stage WorkflowStage, now time.Time) error {
	_, err := s.db.ExecContext(s.ctx,
		`INSERT INTO workflows (id, task_id, stage, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET stage = excluded.stage, updated_at = excluded.updated_at`,
		taskID, taskID, string(stage), now.Format(time.RFC3339Nano))
	return err
}

func (s *WorkflowStore) Stage(taskID string) (WorkflowStage, bool, error) {
	var stage string
	err := s.db.QueryRowContext(s.ctx, `SELECT stage FROM workflows WHERE task_id = ?`, taskID).Scan(&stage)
	if err != nil {
		return "", false, nil
	}
	return WorkflowStage(stage), true, nil
}

// RetroStore persists post-task retrospective summaries.
type RetroStore struct {
	*base
	ctx context.Context
}

func OpenRetroStore(path string) (*RetroStore, error) {
	b, err := openBase(path, retroSchema)
	if err != nil {
		return nil, err
	}
	return &RetroStore{base: b, ctx: context.Background()}, nil
}

func (s *RetroStore) Record(taskID, summary string, now time.Time) error {
	_, err := s.db.ExecContext(s.ctx,
		`INSERT INTO retros (id, task_id, summary, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), taskID, summary, now.Format(time.RFC3339Nano))
	return err
}

func (s *RetroStore) ForTask(taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(s.ctx, `SELECT summary FROM retros WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// ActivityStore is an append-only log of daemon activity (quarantine
// actions, reassignments, escalations) used by get_analytics.
type ActivityStore struct {
	*base
	ctx context.Context
}

func OpenActivityStore(path string) (*ActivityStore, error) {
	b, err := openBase(path, activitySchema)
	if err != nil {
		return nil, err
	}
	return &ActivityStore{base: b, ctx: context.Background()}, nil
}

func (s *ActivityStore) Log(kind, account, detail string, now time.Time) error {
	_, err := s.db.ExecContext(s.ctx,
		`INSERT INTO activity (timestamp, kind, account, detail) VALUES (?, ?, ?, ?)`,
		now.Format(time.RFC3339Nano), kind, account, detail)
	return err
}

func (s *ActivityStore) Recent(limit int) ([]ActivityEntry, error) {
	rows, err := s.db.QueryContext(s.ctx,
		`SELECT timestamp, kind, account, detail FROM activity ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActivityEntry
	for rows.Next() {
		var (
			e       ActivityEntry
			ts      string
			account *string
			detail  *string
		)
		if err := rows.Scan(&ts, &e.Kind, &account, &detail); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = parsed
		if account != nil {
			e.Account = *account
		}
		if detail != nil {
			e.Detail = *detail
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ActivityEntry is one row of the activity log.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Account   string    `json:"account,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}
