package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/boshu2/agentctl/internal/git"
)

// PrepareRequest is the input to PrepareWorktree.
type PrepareRequest struct {
	Account   string
	RepoPath  string
	Branch    string
	HandoffID string
}

// Manager owns the git-worktree lifecycle. It is safe for concurrent use;
// callers provide the git executor and store, both of which already
// serialize internally (exec spawns a fresh process per call; the store
// is a SQLite connection in WAL mode).
type Manager struct {
	store Store
	git   git.Executor
	now   func() time.Time
}

// New returns a Manager backed by store and the given git executor. now
// defaults to time.Now when nil.
func New(store Store, exec git.Executor, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, git: exec, now: now}
}

// PrepareWorktree validates req, returns the existing active workspace
// for (repoPath, branch) unchanged if one exists (idempotent), or
// creates a preparing row and invokes the git executor to create the
// worktree, settling on ready or failed.
func (m *Manager) PrepareWorktree(ctx context.Context, req PrepareRequest) (Workspace, error) {
	if req.RepoPath == "" {
		return Workspace{}, ErrRepoPathRequired
	}
	if err := ValidateBranch(req.Branch); err != nil {
		return Workspace{}, err
	}

	if existing, ok, err := m.store.GetActiveByKey(req.RepoPath, req.Branch); err != nil {
		return Workspace{}, err
	} else if ok {
		return existing, nil
	}

	now := m.now()
	ws := Workspace{
		ID:        uuid.NewString(),
		Account:   req.Account,
		RepoPath:  req.RepoPath,
		Branch:    req.Branch,
		Path:      DerivePath(req.RepoPath, req.Branch),
		Status:    StatusPreparing,
		CreatedAt: now,
		UpdatedAt: now,
		Events:    []Event{{Timestamp: now, Kind: "workspace_preparing"}},
		HandoffID: req.HandoffID,
	}
	if err := m.store.Create(ws); err != nil {
		return Workspace{}, err
	}

	result, err := git.AddWorktree(ctx, m.git, req.RepoPath, ws.Path, req.Branch)
	if err != nil {
		return m.fail(ws, fmt.Sprintf("git worktree add failed to start: %v", err))
	}
	if !result.Success() {
		return m.fail(ws, result.Stderr)
	}

	ws.Status = StatusReady
	ws.UpdatedAt = m.now()
	if err := m.store.UpdateStatus(ws.ID, StatusReady, ws.UpdatedAt); err != nil {
		return Workspace{}, err
	}
	ev := Event{Timestamp: ws.UpdatedAt, Kind: "workspace_ready", Detail: result.Stdout}
	if err := m.store.AddEvent(ws.ID, ev); err != nil {
		return Workspace{}, err
	}
	ws.Events = append(ws.Events, ev)
	return ws, nil
}

func (m *Manager) fail(ws Workspace, detail string) (Workspace, error) {
	ws.Status = StatusFailed
	ws.UpdatedAt = m.now()
	_ = m.store.UpdateStatus(ws.ID, StatusFailed, ws.UpdatedAt)
	ev := Event{Timestamp: ws.UpdatedAt, Kind: "workspace_failed", Detail: detail}
	_ = m.store.AddEvent(ws.ID, ev)
	ws.Events = append(ws.Events, ev)
	return ws, &FailedWorkspaceError{Workspace: ws, Reason: detail}
}

// CleanupWorkspace transitions id to cleaning, invokes `git worktree
// remove --force`, and on success deletes the row and its events. On git
// failure it transitions to failed and returns an error.
func (m *Manager) CleanupWorkspace(ctx context.Context, id string) error {
	ws, ok, err := m.store.GetByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	if err := m.store.UpdateStatus(id, StatusCleaning, m.now()); err != nil {
		return err
	}

	result, err := git.RemoveWorktree(ctx, m.git, ws.RepoPath, ws.Path)
	if err != nil || !result.Success() {
		detail := result.Stderr
		if err != nil {
			detail = err.Error()
		}
		_ = m.store.UpdateStatus(id, StatusFailed, m.now())
		_ = m.store.AddEvent(id, Event{Timestamp: m.now(), Kind: "workspace_failed", Detail: detail})
		return fmt.Errorf("workspace: cleanup failed: %s", detail)
	}

	return m.store.Delete(id)
}

// GetWorkspace looks up a workspace by id.
func (m *Manager) GetWorkspace(id string) (Workspace, bool, error) {
	return m.store.GetByID(id)
}

// GetWorkspaceByKey looks up the active workspace for (repoPath, branch).
func (m *Manager) GetWorkspaceByKey(repoPath, branch string) (Workspace, bool, error) {
	return m.store.GetActiveByKey(repoPath, branch)
}

// RecoverStaleWorkspaces forces every row still in preparing to failed,
// recording a recovery event. Callers run this exactly once at daemon
// start (spec §3 Lifecycle: "preparing is never valid across restarts").
func (m *Manager) RecoverStaleWorkspaces() (int, error) {
	stale, err := m.store.GetByStatus(StatusPreparing)
	if err != nil {
		return 0, err
	}
	for _, ws := range stale {
		now := m.now()
		if err := m.store.UpdateStatus(ws.ID, StatusFailed, now); err != nil {
			return 0, err
		}
		if err := m.store.AddEvent(ws.ID, Event{Timestamp: now, Kind: "workspace_failed", Detail: "recovered from preparing at daemon start"}); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
