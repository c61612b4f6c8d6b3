package task

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestAddTaskAppendsWithTodoStatus(t *testing.T) {
	b := NewBoard()
	b, created, err := AddTask(b, now, "write docs", "bob", AddOptions{})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if created.Status != StatusTodo {
		t.Errorf("status = %s, want todo", created.Status)
	}
	if len(created.Events) != 0 {
		t.Errorf("events = %v, want empty", created.Events)
	}
	if _, ok := b.Tasks[created.ID]; !ok {
		t.Error("new task not present on returned board")
	}
}

func TestAddTaskRequiresTitle(t *testing.T) {
	if _, _, err := AddTask(NewBoard(), now, "", "bob", AddOptions{}); !errors.Is(err, ErrTitleRequired) {
		t.Errorf("error = %v, want ErrTitleRequired", err)
	}
}

func TestUpdateTaskStatusValidAndInvalid(t *testing.T) {
	b, created, _ := AddTask(NewBoard(), now, "t", "bob", AddOptions{})

	b, err := UpdateTaskStatus(b, now, created.ID, StatusInProgress)
	if err != nil {
		t.Fatalf("todo->in_progress error = %v", err)
	}
	if b.Tasks[created.ID].Status != StatusInProgress {
		t.Fatalf("status = %s, want in_progress", b.Tasks[created.ID].Status)
	}

	if _, err := UpdateTaskStatus(b, now, created.ID, StatusAccepted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("error = %v, want ErrInvalidTransition", err)
	}

	if _, err := UpdateTaskStatus(b, now, "missing", StatusInProgress); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("error = %v, want ErrTaskNotFound", err)
	}
}

func TestRejectTaskCompoundSequence(t *testing.T) {
	b, created, _ := AddTask(NewBoard(), now, "t", "bob", AddOptions{})
	b, _ = UpdateTaskStatus(b, now, created.ID, StatusInProgress)
	b, _ = SubmitForReview(b, now, created.ID, nil)

	b, err := RejectTask(b, now, created.ID, "needs more tests")
	if err != nil {
		t.Fatalf("RejectTask() error = %v", err)
	}
	final := b.Tasks[created.ID]
	if final.Status != StatusInProgress {
		t.Fatalf("final status = %s, want in_progress", final.Status)
	}

	events := final.Events[len(final.Events)-3:]
	if events[0].Kind != "status_changed" || events[0].To != StatusRejected {
		t.Errorf("event[0] = %+v, want status_changed -> rejected", events[0])
	}
	if events[1].Kind != "review_rejected" || events[1].Reason != "needs more tests" {
		t.Errorf("event[1] = %+v, want review_rejected with reason", events[1])
	}
	if events[2].Kind != "status_changed" || events[2].To != StatusInProgress {
		t.Errorf("event[2] = %+v, want status_changed -> in_progress", events[2])
	}
}

func TestRejectTaskRequiresReasonAndReadyForReview(t *testing.T) {
	b, created, _ := AddTask(NewBoard(), now, "t", "bob", AddOptions{})
	if _, err := RejectTask(b, now, created.ID, "reason"); !errors.Is(err, ErrNotReadyForReview) {
		t.Errorf("error = %v, want ErrNotReadyForReview", err)
	}

	b, _ = UpdateTaskStatus(b, now, created.ID, StatusInProgress)
	b, _ = SubmitForReview(b, now, created.ID, nil)
	if _, err := RejectTask(b, now, created.ID, ""); !errors.Is(err, ErrReasonRequired) {
		t.Errorf("error = %v, want ErrReasonRequired", err)
	}
}

func TestAcceptTaskEmitsCleanupQueuedOnlyWithWorkspace(t *testing.T) {
	b, created, _ := AddTask(NewBoard(), now, "t", "bob", AddOptions{})
	b, _ = UpdateTaskStatus(b, now, created.ID, StatusInProgress)
	ws := &WorkspaceContext{WorkspaceID: "w1", RepoPath: "/tmp/r", Branch: "feature/x"}
	b, _ = SubmitForReview(b, now, created.ID, ws)

	b, err := AcceptTask(b, now, created.ID, "looks good")
	if err != nil {
		t.Fatalf("AcceptTask() error = %v", err)
	}
	final := b.Tasks[created.ID]
	if final.Status != StatusAccepted {
		t.Fatalf("status = %s, want accepted", final.Status)
	}
	last := final.Events[len(final.Events)-1]
	if last.Kind != "cleanup_queued" {
		t.Errorf("last event = %+v, want cleanup_queued", last)
	}
}

func TestSubmitForReviewPreservesPriorWorkspace(t *testing.T) {
	b, created, _ := AddTask(NewBoard(), now, "t", "bob", AddOptions{})
	b, _ = UpdateTaskStatus(b, now, created.ID, StatusInProgress)
	ws := &WorkspaceContext{WorkspaceID: "w1"}
	b, _ = SubmitForReview(b, now, created.ID, ws)
	b, _ = RejectTask(b, now, created.ID, "redo")

	b, err := SubmitForReview(b, now, created.ID, nil)
	if err != nil {
		t.Fatalf("SubmitForReview() error = %v", err)
	}
	if b.Tasks[created.ID].Workspace == nil || b.Tasks[created.ID].Workspace.WorkspaceID != "w1" {
		t.Errorf("workspace context lost across resubmission: %+v", b.Tasks[created.ID].Workspace)
	}
}

func TestSortedStablePriorityOrder(t *testing.T) {
	b := NewBoard()
	b, _, _ = AddTask(b, now, "p2-unset", "", AddOptions{})
	b, _, _ = AddTask(b, now.Add(time.Minute), "p0", "", AddOptions{Priority: PriorityP0})
	b, _, _ = AddTask(b, now.Add(2*time.Minute), "p1", "", AddOptions{Priority: PriorityP1})

	sorted := b.Sorted()
	if sorted[0].Title != "p0" || sorted[1].Title != "p1" || sorted[2].Title != "p2-unset" {
		t.Errorf("sort order wrong: %v", []string{sorted[0].Title, sorted[1].Title, sorted[2].Title})
	}
}

func TestBoardCloneIsolatesMutation(t *testing.T) {
	b, created, _ := AddTask(NewBoard(), now, "t", "bob", AddOptions{})
	before := b.Tasks[created.ID].Status

	if _, err := UpdateTaskStatus(b, now, created.ID, StatusInProgress); err != nil {
		t.Fatal(err)
	}

	if b.Tasks[created.ID].Status != before {
		t.Errorf("original board mutated in place: %s != %s", b.Tasks[created.ID].Status, before)
	}
}
