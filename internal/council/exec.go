package council

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// NewExecLLMCaller returns an LLMCaller that invokes command as a
// subprocess per member, the same direct-spawn idiom the teacher uses to
// drive a coding-agent CLI (`<command> -p <prompt>`), adapted here to
// pipe the council's system/user prompts in as one combined prompt and
// capture stdout as the member's raw response. Members select their own
// account by way of the --account flag so a single daemon-managed binary
// can front several LLM-backed accounts.
func NewExecLLMCaller(command string, timeout time.Duration) LLMCaller {
	return func(account, systemPrompt, userPrompt string) (string, error) {
		ctx := context.Background()
		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		prompt := systemPrompt + "\n\n" + userPrompt
		cmd := exec.CommandContext(ctx, command, "-p", prompt, "--account", account)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("council: %s timed out after %s", account, timeout)
		}
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return "", fmt.Errorf("council: %s exited with code %d: %s", account, exitErr.ExitCode(), stderr.String())
			}
			return "", fmt.Errorf("council: %s execution failed: %w", account, err)
		}
		return stdout.String(), nil
	}
}
