package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/bgctl/pkg/log"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/rs/zerolog"
)

// Controller starts, stops and inspects the full service stack of an
// environment. Each environment runs under its own project namespace so both
// can run side by side without sharing containers, networks or volumes.
type Controller interface {
	Build(ctx context.Context, env types.Environment) error
	Start(ctx context.Context, env types.Environment) error
	Stop(ctx context.Context, env types.Environment) error
	IsRunning(ctx context.Context, env types.Environment) (bool, error)

	// Exec runs command in service. A non-zero exit is reported through
	// ExecResult.ExitCode, not as an error.
	Exec(ctx context.Context, env types.Environment, service string, command []string) (*ExecResult, error)

	// Project returns the namespace isolating env
	Project(env types.Environment) string
}

// ComposeConfig configures the docker compose based controller
type ComposeConfig struct {
	// Binary is the docker CLI (default: docker)
	Binary string

	// Files are the compose files passed with -f
	Files []string

	// EnvFile is passed with --env-file when set
	EnvFile string

	// WorkingDir is where compose runs
	WorkingDir string

	// Projects maps each environment to its compose project name
	Projects map[types.Environment]string
}

// ComposeRuntime implements Controller on top of `docker compose -p <project>`
type ComposeRuntime struct {
	runner Runner
	cfg    ComposeConfig
	logger zerolog.Logger
}

// NewComposeRuntime creates a compose controller
func NewComposeRuntime(runner Runner, cfg ComposeConfig) (*ComposeRuntime, error) {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	for _, env := range types.Environments() {
		if cfg.Projects[env] == "" {
			return nil, fmt.Errorf("no compose project configured for %s", env)
		}
	}
	if cfg.Projects[types.Blue] == cfg.Projects[types.Green] {
		return nil, fmt.Errorf("blue and green must use distinct compose projects, both are %q", cfg.Projects[types.Blue])
	}

	return &ComposeRuntime{
		runner: runner,
		cfg:    cfg,
		logger: log.WithComponent("runtime"),
	}, nil
}

func (r *ComposeRuntime) Project(env types.Environment) string {
	return r.cfg.Projects[env]
}

// Build builds the images of env's stack
func (r *ComposeRuntime) Build(ctx context.Context, env types.Environment) error {
	_, err := r.compose(ctx, env, "build")
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", env, err)
	}
	return nil
}

// Start brings env's stack up in the background
func (r *ComposeRuntime) Start(ctx context.Context, env types.Environment) error {
	_, err := r.compose(ctx, env, "up", "-d", "--remove-orphans")
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", env, err)
	}
	return nil
}

// Stop stops env's containers without removing them
func (r *ComposeRuntime) Stop(ctx context.Context, env types.Environment) error {
	_, err := r.compose(ctx, env, "stop")
	if err != nil {
		return fmt.Errorf("failed to stop %s: %w", env, err)
	}
	return nil
}

// IsRunning reports whether any container of env's project is running
func (r *ComposeRuntime) IsRunning(ctx context.Context, env types.Environment) (bool, error) {
	result, err := r.compose(ctx, env, "ps", "--status", "running", "--quiet")
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", env, err)
	}
	return strings.TrimSpace(result.Stdout) != "", nil
}

func (r *ComposeRuntime) Exec(ctx context.Context, env types.Environment, service string, command []string) (*ExecResult, error) {
	if service == "" || len(command) == 0 {
		return nil, fmt.Errorf("exec requires a service and a command")
	}

	args := append([]string{"exec", "-T", service}, command...)
	result, err := r.compose(ctx, env, args...)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return result, nil
		}
		return result, fmt.Errorf("failed to exec in %s/%s: %w", env, service, err)
	}
	return result, nil
}

func (r *ComposeRuntime) compose(ctx context.Context, env types.Environment, args ...string) (*ExecResult, error) {
	project := r.Project(env)
	if project == "" {
		return nil, fmt.Errorf("invalid environment %q", env)
	}

	full := []string{"compose", "-p", project}
	for _, f := range r.cfg.Files {
		full = append(full, "-f", f)
	}
	if r.cfg.EnvFile != "" {
		full = append(full, "--env-file", r.cfg.EnvFile)
	}
	full = append(full, args...)

	r.logger.Debug().
		Str("environment", string(env)).
		Str("project", project).
		Strs("args", args).
		Msg("running compose")

	return r.runner.Run(ctx, r.cfg.Binary, full, RunOptions{
		WorkingDir: r.cfg.WorkingDir,
		Env: map[string]string{
			"BGCTL_ENVIRONMENT": string(env),
		},
	})
}
