package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/bgctl/pkg/runtime"
	"github.com/cuemby/bgctl/pkg/types"
)

// ExecChecker runs a command inside a service of an environment through the
// Environment Controller. The check passes on exit code 0 and, when Expect is
// set, when stdout contains Expect.
type ExecChecker struct {
	Controller  runtime.Controller
	Environment types.Environment
	Service     string

	// Command is the command to execute (e.g., ["redis-cli", "ping"])
	Command []string

	// Expect is an optional substring stdout must contain (e.g., "PONG")
	Expect string

	// Timeout is the command execution timeout (default: 30 seconds)
	Timeout time.Duration
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(ctrl runtime.Controller, env types.Environment, service string, command []string) *ExecChecker {
	return &ExecChecker{
		Controller:  ctrl,
		Environment: env,
		Service:     service,
		Command:     command,
		Timeout:     30 * time.Second,
	}
}

// Check performs the exec health check
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return failed(start, "no command specified")
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	result, err := e.Controller.Exec(execCtx, e.Environment, e.Service, e.Command)
	message := fmt.Sprintf("Command: %v", e.Command)
	if err != nil {
		return failed(start, fmt.Sprintf("%s, Error: %v", message, err))
	}

	if result.ExitCode != 0 {
		message = fmt.Sprintf("%s, exit code %d", message, result.ExitCode)
		if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
			message = fmt.Sprintf("%s, Stderr: %s", message, truncate(stderr, 200))
		}
		return failed(start, message)
	}

	if e.Expect != "" && !strings.Contains(result.Stdout, e.Expect) {
		return failed(start, fmt.Sprintf("%s, output %q does not contain %q", message, truncate(strings.TrimSpace(result.Stdout), 100), e.Expect))
	}

	if out := strings.TrimSpace(result.Stdout); out != "" {
		message = fmt.Sprintf("%s, Output: %s", message, truncate(out, 100))
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithExpect sets the substring stdout must contain
func (e *ExecChecker) WithExpect(expect string) *ExecChecker {
	e.Expect = expect
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
