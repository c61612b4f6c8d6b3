// Package task implements the pure, immutable task board described in
// spec §3 and §4.5: mutators take a board and return a new board, never
// mutating their argument in place. This mirrors the teacher's
// internal/pool package, which models a similar directory-backed
// candidate lifecycle as a sequence of ChainEvent-shaped records, adapted
// here to the daemon's in-memory board and status graph.
package task

import (
	"sort"
	"time"
)

// Status is one node in the task transition graph.
type Status string

const (
	StatusTodo            Status = "todo"
	StatusInProgress      Status = "in_progress"
	StatusReadyForReview  Status = "ready_for_review"
	StatusAccepted        Status = "accepted"
	StatusRejected        Status = "rejected"
)

// Priority orders tasks; unset sorts as PriorityP2.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

func priorityRank(p Priority) int {
	switch p {
	case PriorityP0:
		return 0
	case PriorityP1:
		return 1
	default:
		return 2
	}
}

// validTransitions is the admissible transition graph from spec §3. A
// rejection is handled specially by RejectTask: it is not a plain
// transition, since it appends a compound event sequence and settles on
// in_progress rather than rejected.
var validTransitions = map[Status][]Status{
	StatusTodo:           {StatusInProgress},
	StatusInProgress:     {StatusReadyForReview},
	StatusReadyForReview: {StatusAccepted, StatusRejected},
}

func isValidTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// WorkspaceContext links a task to its prepared workspace.
type WorkspaceContext struct {
	WorkspaceID string `json:"workspaceId"`
	RepoPath    string `json:"repoPath"`
	Branch      string `json:"branch"`
}

// Event is one entry in a task's append-only log. The event log is the
// source of truth for cycle-time analytics (spec §3, §12).
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	From      Status         `json:"from,omitempty"`
	To        Status         `json:"to,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Task is a unit of delegated work.
type Task struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Status    Status            `json:"status"`
	Assignee  string            `json:"assignee,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	Priority  Priority          `json:"priority,omitempty"`
	DueDate   *time.Time        `json:"dueDate,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Events    []Event           `json:"events"`
	Workspace *WorkspaceContext `json:"workspace,omitempty"`
}

func (t Task) HasTag(tag string) bool {
	for _, g := range t.Tags {
		if g == tag {
			return true
		}
	}
	return false
}

// StatusSince returns the timestamp of the most recent status_changed
// event transitioning into t's current status, falling back to
// t.CreatedAt when no such event exists.
func (t Task) StatusSince() time.Time {
	for i := len(t.Events) - 1; i >= 0; i-- {
		e := t.Events[i]
		if e.Kind == "status_changed" && e.To == t.Status {
			return e.Timestamp
		}
	}
	return t.CreatedAt
}

// Board is the immutable collection of tasks. Every mutator returns a new
// Board value; the caller decides how to persist it (typically via
// internal/filestore.AtomicWrite).
type Board struct {
	Tasks map[string]Task `json:"tasks"`
}

// NewBoard returns an empty board.
func NewBoard() Board {
	return Board{Tasks: make(map[string]Task)}
}

// clone returns a deep-enough copy of b for a mutator to modify safely.
func (b Board) clone() Board {
	out := Board{Tasks: make(map[string]Task, len(b.Tasks))}
	for id, t := range b.Tasks {
		cp := t
		cp.Events = append([]Event(nil), t.Events...)
		cp.Tags = append([]string(nil), t.Tags...)
		out.Tasks[id] = cp
	}
	return out
}

// Sorted returns tasks ordered by priority (P0 < P1 < P2, unset as P2),
// then by creation time, ascending.
func (b Board) Sorted() []Task {
	out := make([]Task, 0, len(b.Tasks))
	for _, t := range b.Tasks {
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := priorityRank(out[i].Priority), priorityRank(out[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
