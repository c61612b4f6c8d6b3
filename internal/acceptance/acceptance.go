// Package acceptance runs an acceptance suite of shell commands in a
// sandboxed working directory (spec §4.12). Deny-list validation and
// per-command timeout/kill are new — nothing in the teacher shells out
// to a command suite — but the fan-out over the command list reuses
// internal/worker.Pool exactly as the teacher's file-processing commands
// do, just parameterized over CommandResult instead of a file transform.
package acceptance

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/boshu2/agentctl/internal/worker"
)

// MaxCommandBytes is the size above which a command is rejected outright.
const MaxCommandBytes = 1000

// MaxCapturedOutputBytes truncates stdout/stderr capture per command.
const MaxCapturedOutputBytes = 64 * 1024

// denyConstructs are substrings that make a command string unsafe to hand
// to a shell unsandboxed; any match rejects the whole command.
var denyConstructs = []string{";", "|", "`", "$(", "${", ">", "<", "&&", "||", "\n"}

// CommandResult is the outcome of one acceptance-suite command.
type CommandResult struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Rejected bool
	Reason   string
}

// SuiteResult is the aggregate outcome of a full acceptance suite.
type SuiteResult struct {
	Passed  bool
	Results []CommandResult
}

// Options configures a suite run.
type Options struct {
	WorkDir     string
	Timeout     time.Duration
	Concurrency int
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 30 * time.Second
	}
	return o.Timeout
}

// validate rejects a command that contains a deny-listed shell construct
// or exceeds the byte cap, per spec §4.12.
func validate(command string) (reject bool, reason string) {
	if len(command) > MaxCommandBytes {
		return true, fmt.Sprintf("command exceeds %d bytes", MaxCommandBytes)
	}
	for _, construct := range denyConstructs {
		if strings.Contains(command, construct) {
			return true, fmt.Sprintf("command contains disallowed construct %q", construct)
		}
	}
	return false, ""
}

// RunSuite validates and executes every command in commands, in a pool
// sized by opts.Concurrency (runtime.NumCPU() when unset). An empty suite
// is a vacuous pass.
func RunSuite(ctx context.Context, commands []string, opts Options) SuiteResult {
	if len(commands) == 0 {
		return SuiteResult{Passed: true}
	}

	pool := worker.NewPool[CommandResult](opts.Concurrency)
	raw := pool.Process(commands, func(command string) (CommandResult, error) {
		return runOne(ctx, command, opts)
	})

	passed := true
	results := make([]CommandResult, len(raw))
	for i, r := range raw {
		results[i] = r.Value
		if r.Value.ExitCode != 0 {
			passed = false
		}
	}
	return SuiteResult{Passed: passed, Results: results}
}

func runOne(ctx context.Context, command string, opts Options) (CommandResult, error) {
	if reject, reason := validate(command); reject {
		return CommandResult{Command: command, ExitCode: -2, Rejected: true, Reason: reason}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return CommandResult{Command: command, ExitCode: -2, Rejected: true, Reason: "empty command"}, nil
	}

	cmd := exec.CommandContext(runCtx, fields[0], fields[1:]...)
	cmd.Dir = opts.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := CommandResult{
		Command:  command,
		Stdout:   truncate(stdout.String()),
		Stderr:   truncate(stderr.String()),
		Duration: elapsed,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		result.Stderr = truncate(result.Stderr + "\ncommand timed out after " + opts.timeout().String())
		return result, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		result.Stderr = truncate(result.Stderr + "\n" + err.Error())
		return result, nil
	}

	result.ExitCode = 0
	return result, nil
}

func truncate(s string) string {
	if len(s) <= MaxCapturedOutputBytes {
		return s
	}
	return s[:MaxCapturedOutputBytes] + "...(truncated)"
}
