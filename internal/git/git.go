// Package git implements the GitExecutor abstraction the workspace
// manager depends on (spec §4.6, §1's "external collaborators"). The
// subprocess-spawning shape — build an *exec.Cmd, capture stdout and
// stderr separately, classify the exit code — is adapted from the teacher's
// internal/rpi/worktree.go, which runs the same git-worktree commands
// directly against os/exec; here that logic is pulled behind an
// interface so the workspace manager can be tested with a fake.
package git

import (
	"context"
	"os/exec"
	"strings"
)

// Result is the outcome of one git invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (r Result) Success() bool { return r.ExitCode == 0 }

// Executor runs git subcommands against a repository working directory.
// The real implementation shells out; tests substitute a fake.
type Executor interface {
	Run(ctx context.Context, repoPath string, args ...string) (Result, error)
}

// ExecExecutor runs git via os/exec.
type ExecExecutor struct {
	// Bin overrides the git binary path; empty uses "git" from $PATH.
	Bin string
}

func (e ExecExecutor) bin() string {
	if e.Bin != "" {
		return e.Bin
	}
	return "git"
}

// Run executes `git <args...>` with repoPath as the working directory.
// A non-zero exit is reported via Result.ExitCode, not via the returned
// error — only a failure to start the process (missing binary, bad
// working directory) is an error, matching the "git errors are reported,
// not retried" contract in spec §4.6.
func (e ExecExecutor) Run(ctx context.Context, repoPath string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, e.bin(), args...)
	cmd.Dir = repoPath

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, err
		}
	}

	return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

// AddWorktree runs `git worktree add <path> <branch>` in repoPath.
func AddWorktree(ctx context.Context, exec Executor, repoPath, path, branch string) (Result, error) {
	return exec.Run(ctx, repoPath, "worktree", "add", path, branch)
}

// RemoveWorktree runs `git worktree remove <path> --force` in repoPath.
func RemoveWorktree(ctx context.Context, exec Executor, repoPath, path string) (Result, error) {
	return exec.Run(ctx, repoPath, "worktree", "remove", path, "--force")
}

// DiffStat runs `git diff --stat` in repoPath to summarize a workspace's
// changes. The review-bundle generator does not call it.
func DiffStat(ctx context.Context, exec Executor, repoPath string) (Result, error) {
	return exec.Run(ctx, repoPath, "diff", "--stat")
}
