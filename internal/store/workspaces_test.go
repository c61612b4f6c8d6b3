package store

import (
	"testing"
	"time"

	"github.com/boshu2/agentctl/internal/workspace"
)

func TestWorkspaceStoreCreateGetDelete(t *testing.T) {
	s, err := OpenWorkspaceStore(":memory:")
	if err != nil {
		t.Fatalf("OpenWorkspaceStore() error = %v", err)
	}
	defer s.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ws := workspace.Workspace{
		ID: "w1", Account: "bob", RepoPath: "/tmp/r", Branch: "feature/x",
		Path: "/tmp/r/.worktrees/feature-x", Status: workspace.StatusPreparing,
		CreatedAt: now, UpdatedAt: now,
		Events: []workspace.Event{{Timestamp: now, Kind: "workspace_preparing"}},
	}
	if err := s.Create(ws); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, ok, err := s.GetByID("w1")
	if err != nil || !ok {
		t.Fatalf("GetByID() ok=%v err=%v", ok, err)
	}
	if got.Status != workspace.StatusPreparing || len(got.Events) != 1 {
		t.Fatalf("GetByID() = %+v", got)
	}

	if err := s.UpdateStatus("w1", workspace.StatusReady, now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	active, ok, err := s.GetActiveByKey("/tmp/r", "feature/x")
	if err != nil || !ok || active.Status != workspace.StatusReady {
		t.Fatalf("GetActiveByKey() active=%+v ok=%v err=%v", active, ok, err)
	}

	if err := s.Delete("w1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.GetByID("w1"); ok {
		t.Error("workspace should be gone after Delete")
	}
}

func TestWorkspaceStoreGetActiveByKeyExcludesFailed(t *testing.T) {
	s, err := OpenWorkspaceStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	now := time.Now()

	if err := s.Create(workspace.Workspace{ID: "w1", RepoPath: "/r", Branch: "b", Status: workspace.StatusFailed, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}

	_, ok, err := s.GetActiveByKey("/r", "b")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("GetActiveByKey() should exclude failed workspaces")
	}
}

func TestWorkspaceStoreGetByStatus(t *testing.T) {
	s, err := OpenWorkspaceStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	now := time.Now()

	if err := s.Create(workspace.Workspace{ID: "w1", RepoPath: "/r", Branch: "a", Status: workspace.StatusPreparing, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(workspace.Workspace{ID: "w2", RepoPath: "/r", Branch: "b", Status: workspace.StatusReady, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}

	stale, err := s.GetByStatus(workspace.StatusPreparing)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != "w1" {
		t.Errorf("GetByStatus(preparing) = %+v, want [w1]", stale)
	}
}
