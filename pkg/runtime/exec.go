package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after ctx ends. A
// child left behind by a shell wrapper can hold them open indefinitely.
const waitDelay = time.Second

// ExecResult holds the outcome of a finished command
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// RunOptions configures a single command execution
type RunOptions struct {
	// WorkingDir is the directory to run in (default: current directory)
	WorkingDir string

	// Env is appended to the current process environment
	Env map[string]string
}

// Runner executes external programs
type Runner interface {
	Run(ctx context.Context, name string, args []string, opts RunOptions) (*ExecResult, error)
}

// CommandError is returned when a command ran but exited non-zero
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, truncate(stderr, 512))
	}
	return msg
}

// CommandRunner runs commands on the local host
type CommandRunner struct{}

// NewCommandRunner creates a new host command runner
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{}
}

// Run executes name with args, capturing stdout and stderr. A non-zero exit
// returns the captured result together with a *CommandError. When ctx ends
// the whole process group is killed and Run returns within waitDelay.
func (r *CommandRunner) Run(ctx context.Context, name string, args []string, opts RunOptions) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)
	if opts.WorkingDir != "" {
		cmd.Dir = opts.WorkingDir
	}
	if len(opts.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	commandLine := strings.Join(append([]string{name}, args...), " ")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.ExitCode = -1
			return result, fmt.Errorf("command %q aborted: %w", commandLine, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &CommandError{
				Command:  commandLine,
				ExitCode: result.ExitCode,
				Stderr:   result.Stderr,
			}
		}
		result.ExitCode = -1
		return result, fmt.Errorf("failed to run %q: %w", commandLine, err)
	}

	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
