package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AddOptions configures AddTask.
type AddOptions struct {
	Priority Priority
	DueDate  *time.Time
	Tags     []string
}

// AddTask appends a new task with status todo and an empty event log.
func AddTask(b Board, now time.Time, title, assignee string, opts AddOptions) (Board, Task, error) {
	if title == "" {
		return b, Task{}, ErrTitleRequired
	}
	out := b.clone()
	t := Task{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    StatusTodo,
		Assignee:  assignee,
		CreatedAt: now,
		Priority:  opts.Priority,
		DueDate:   opts.DueDate,
		Tags:      append([]string(nil), opts.Tags...),
		Events:    []Event{},
	}
	out.Tasks[t.ID] = t
	return out, t, nil
}

// UpdateTaskStatus transitions id to target, failing when the task is
// missing or target is not reachable from the current status.
func UpdateTaskStatus(b Board, now time.Time, id string, target Status) (Board, error) {
	t, ok := b.Tasks[id]
	if !ok {
		return b, ErrTaskNotFound
	}
	if !isValidTransition(t.Status, target) {
		return b, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, target)
	}
	out := b.clone()
	ct := out.Tasks[id]
	from := ct.Status
	ct.Status = target
	ct.Events = append(ct.Events, Event{Timestamp: now, Kind: "status_changed", From: from, To: target})
	out.Tasks[id] = ct
	return out, nil
}

// RejectTask requires the task be ready_for_review and reason non-empty.
// It appends the compound event sequence status_changed(->rejected),
// review_rejected(reason), status_changed(->in_progress) and leaves the
// task in in_progress, per spec §3.
func RejectTask(b Board, now time.Time, id, reason string) (Board, error) {
	t, ok := b.Tasks[id]
	if !ok {
		return b, ErrTaskNotFound
	}
	if t.Status != StatusReadyForReview {
		return b, ErrNotReadyForReview
	}
	if reason == "" {
		return b, ErrReasonRequired
	}

	out := b.clone()
	ct := out.Tasks[id]
	ct.Events = append(ct.Events,
		Event{Timestamp: now, Kind: "status_changed", From: StatusReadyForReview, To: StatusRejected},
		Event{Timestamp: now, Kind: "review_rejected", Reason: reason},
		Event{Timestamp: now, Kind: "status_changed", From: StatusRejected, To: StatusInProgress},
	)
	ct.Status = StatusInProgress
	out.Tasks[id] = ct
	return out, nil
}

// AcceptTask requires ready_for_review. It appends status_changed
// (->accepted), review_accepted(justification), and cleanup_queued when
// the task carries a workspace context.
func AcceptTask(b Board, now time.Time, id, justification string) (Board, error) {
	t, ok := b.Tasks[id]
	if !ok {
		return b, ErrTaskNotFound
	}
	if t.Status != StatusReadyForReview {
		return b, ErrNotReadyForReview
	}

	out := b.clone()
	ct := out.Tasks[id]
	ct.Status = StatusAccepted
	ct.Events = append(ct.Events,
		Event{Timestamp: now, Kind: "status_changed", From: StatusReadyForReview, To: StatusAccepted},
		Event{Timestamp: now, Kind: "review_accepted", Reason: justification},
	)
	if ct.Workspace != nil {
		ct.Events = append(ct.Events, Event{Timestamp: now, Kind: "cleanup_queued"})
	}
	out.Tasks[id] = ct
	return out, nil
}

// SubmitForReview requires in_progress. When ws is nil, any existing
// workspace context is preserved.
func SubmitForReview(b Board, now time.Time, id string, ws *WorkspaceContext) (Board, error) {
	t, ok := b.Tasks[id]
	if !ok {
		return b, ErrTaskNotFound
	}
	if t.Status != StatusInProgress {
		return b, ErrNotInProgress
	}

	out := b.clone()
	ct := out.Tasks[id]
	ct.Status = StatusReadyForReview
	ct.Events = append(ct.Events, Event{Timestamp: now, Kind: "status_changed", From: StatusInProgress, To: StatusReadyForReview})
	if ws != nil {
		ct.Workspace = ws
	}
	out.Tasks[id] = ct
	return out, nil
}

// AssignTask sets assignee without a status transition.
func AssignTask(b Board, now time.Time, id, assignee string) (Board, error) {
	t, ok := b.Tasks[id]
	if !ok {
		return b, ErrTaskNotFound
	}
	out := b.clone()
	ct := out.Tasks[id]
	ct.Assignee = assignee
	ct.Events = append(ct.Events, Event{Timestamp: now, Kind: "assigned", Fields: map[string]any{"assignee": assignee}})
	_ = t
	out.Tasks[id] = ct
	return out, nil
}

// RemoveTask deletes id from the board. Missing ids are not an error —
// removal is idempotent.
func RemoveTask(b Board, id string) Board {
	out := b.clone()
	delete(out.Tasks, id)
	return out
}
