package task

import "errors"

// Sentinel errors for the task package. Mutators fail loudly on invalid
// input (spec §4.5, §7); callers must handle these with errors.Is.
var (
	ErrTaskNotFound        = errors.New("task: not found")
	ErrInvalidTransition   = errors.New("task: invalid status transition")
	ErrReasonRequired      = errors.New("task: rejection reason is required")
	ErrTitleRequired       = errors.New("task: title is required")
	ErrNotReadyForReview   = errors.New("task: not ready_for_review")
	ErrNotInProgress       = errors.New("task: not in_progress")
)
