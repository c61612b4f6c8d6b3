// Package workspace implements the git-worktree-backed workspace
// lifecycle manager (spec §4.6). The prepare/cleanup/recover flow is
// grounded on the teacher's internal/rpi/worktree.go CreateWorktree,
// MergeWorktree, and RemoveWorktree functions, generalized from a CLI
// command's direct os/exec calls into operations over the injected
// internal/git.Executor and a persistence Store.
package workspace

import (
	"strings"
	"time"
)

// Status is a workspace's lifecycle state.
type Status string

const (
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusFailed    Status = "failed"
	StatusCleaning  Status = "cleaning"
)

// activeStatuses are the statuses counted by the at-most-one-active
// invariant for a given (repo, branch) key.
var activeStatuses = map[Status]bool{
	StatusPreparing: true,
	StatusReady:     true,
	StatusCleaning:  true,
}

// Event is one entry in a workspace's append-only log.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

// Workspace is a managed git worktree.
type Workspace struct {
	ID         string    `json:"id"`
	Account    string    `json:"account"`
	RepoPath   string    `json:"repoPath"`
	Branch     string    `json:"branch"`
	Path       string    `json:"path"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Events     []Event   `json:"events"`
	HandoffID  string    `json:"handoffId,omitempty"`
}

// DerivePath deterministically derives the worktree path from the repo
// path and branch: <repo>/.worktrees/<sanitized-branch>, where
// sanitization replaces '/' with '-'.
func DerivePath(repoPath, branch string) string {
	sanitized := strings.ReplaceAll(branch, "/", "-")
	return strings.TrimRight(repoPath, "/") + "/.worktrees/" + sanitized
}

// ValidateBranch enforces spec §3's branch-string rules.
func ValidateBranch(branch string) error {
	if branch == "" {
		return ErrBranchEmpty
	}
	if len(branch) > 200 {
		return ErrBranchTooLong
	}
	if strings.HasPrefix(branch, "/") {
		return ErrBranchLeadingSlash
	}
	segments := strings.Split(branch, "/")
	for _, seg := range segments {
		if seg == "" {
			return ErrBranchEmptySegment
		}
		if seg == ".." {
			return ErrBranchDotDotSegment
		}
		if strings.HasPrefix(seg, "-") || strings.HasPrefix(seg, ".") {
			return ErrBranchBadSegmentStart
		}
	}
	return nil
}
