package store

import (
	"context"
	"time"

	"github.com/boshu2/agentctl/internal/workspace"
)

var workspaceSchema = []string{
	`CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		repo_path TEXT NOT NULL,
		branch TEXT NOT NULL,
		path TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		handoff_id TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_workspaces_key ON workspaces(repo_path, branch, status);`,
	`CREATE TABLE IF NOT EXISTS workspace_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id),
		timestamp TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_workspace_events_ws ON workspace_events(workspace_id);`,
}

// WorkspaceStore persists workspace.Workspace rows and implements
// workspace.Store.
type WorkspaceStore struct {
	*base
	ctx context.Context
}

// OpenWorkspaceStore opens (or creates) the workspaces database at path.
func OpenWorkspaceStore(path string) (*WorkspaceStore, error) {
	b, err := openBase(path, workspaceSchema)
	if err != nil {
		return nil, err
	}
	return &WorkspaceStore{base: b, ctx: context.Background()}, nil
}

func (s *WorkspaceStore) Create(w workspace.Workspace) error {
	var handoff any
	if w.HandoffID != "" {
		handoff = w.HandoffID
	}
	_, err := s.db.ExecContext(s.ctx,
		`INSERT INTO workspaces (id, account, repo_path, branch, path, status, created_at, updated_at, handoff_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Account, w.RepoPath, w.Branch, w.Path, string(w.Status),
		w.CreatedAt.Format(time.RFC3339Nano), w.UpdatedAt.Format(time.RFC3339Nano), handoff)
	if err != nil {
		return err
	}
	for _, e := range w.Events {
		if err := s.AddEvent(w.ID, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *WorkspaceStore) UpdateStatus(id string, status workspace.Status, updatedAt time.Time) error {
	_, err := s.db.ExecContext(s.ctx, `UPDATE workspaces SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), updatedAt.Format(time.RFC3339Nano), id)
	return err
}

func (s *WorkspaceStore) AddEvent(id string, e workspace.Event) error {
	var detail any
	if e.Detail != "" {
		detail = e.Detail
	}
	_, err := s.db.ExecContext(s.ctx,
		`INSERT INTO workspace_events (workspace_id, timestamp, kind, detail) VALUES (?, ?, ?, ?)`,
		id, e.Timestamp.Format(time.RFC3339Nano), e.Kind, detail)
	return err
}

func (s *WorkspaceStore) GetByID(id string) (workspace.Workspace, bool, error) {
	row := s.db.QueryRowContext(s.ctx,
		`SELECT id, account, repo_path, branch, path, status, created_at, updated_at, handoff_id
		 FROM workspaces WHERE id = ?`, id)
	w, err := scanWorkspaceRow(row)
	if err != nil {
		return workspace.Workspace{}, false, nil
	}
	events, err := s.eventsFor(id)
	if err != nil {
		return workspace.Workspace{}, false, err
	}
	w.Events = events
	return w, true, nil
}

func (s *WorkspaceStore) GetActiveByKey(repoPath, branch string) (workspace.Workspace, bool, error) {
	rows, err := s.db.QueryContext(s.ctx,
		`SELECT id, account, repo_path, branch, path, status, created_at, updated_at, handoff_id
		 FROM workspaces WHERE repo_path = ? AND branch = ?
		 AND status IN (?, ?, ?) LIMIT 1`,
		repoPath, branch, string(workspace.StatusPreparing), string(workspace.StatusReady), string(workspace.StatusCleaning))
	if err != nil {
		return workspace.Workspace{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return workspace.Workspace{}, false, nil
	}
	w, err := scanWorkspaceRow(rows)
	if err != nil {
		return workspace.Workspace{}, false, err
	}
	events, err := s.eventsFor(w.ID)
	if err != nil {
		return workspace.Workspace{}, false, err
	}
	w.Events = events
	return w, true, nil
}

func (s *WorkspaceStore) GetByStatus(status workspace.Status) ([]workspace.Workspace, error) {
	rows, err := s.db.QueryContext(s.ctx,
		`SELECT id, account, repo_path, branch, path, status, created_at, updated_at, handoff_id
		 FROM workspaces WHERE status = ?`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workspace.Workspace
	for rows.Next() {
		w, err := scanWorkspaceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *WorkspaceStore) Delete(id string) error {
	if _, err := s.db.ExecContext(s.ctx, `DELETE FROM workspace_events WHERE workspace_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(s.ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	return err
}

func (s *WorkspaceStore) eventsFor(id string) ([]workspace.Event, error) {
	rows, err := s.db.QueryContext(s.ctx,
		`SELECT timestamp, kind, detail FROM workspace_events WHERE workspace_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workspace.Event
	for rows.Next() {
		var (
			ts     string
			kind   string
			detail *string
		)
		if err := rows.Scan(&ts, &kind, &detail); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		e := workspace.Event{Timestamp: parsed, Kind: kind}
		if detail != nil {
			e.Detail = *detail
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(...any) error
}

func scanWorkspaceRow(row scanner) (workspace.Workspace, error) {
	var (
		w         workspace.Workspace
		status    string
		createdAt string
		updatedAt string
		handoff   *string
	)
	if err := row.Scan(&w.ID, &w.Account, &w.RepoPath, &w.Branch, &w.Path, &status, &createdAt, &updatedAt, &handoff); err != nil {
		return workspace.Workspace{}, err
	}
	w.Status = workspace.Status(status)
	ca, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return workspace.Workspace{}, err
	}
	ua, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return workspace.Workspace{}, err
	}
	w.CreatedAt, w.UpdatedAt = ca, ua
	if handoff != nil {
		w.HandoffID = *handoff
	}
	return w, nil
}
