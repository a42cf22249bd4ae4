package ingress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/cuemby/bgctl/pkg/log"
	"github.com/cuemby/bgctl/pkg/runtime"
	"github.com/cuemby/bgctl/pkg/storage"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultReloadTimeout bounds a proxy reload or configuration test
const DefaultReloadTimeout = 10 * time.Second

// Config describes the reverse proxy bgctl manages
type Config struct {
	// ConfigPath is the upstream configuration file included by the proxy
	ConfigPath string

	// TemplateFile overrides DefaultTemplate when set
	TemplateFile string

	// TestCommand validates the live configuration (e.g. nginx -t). Optional.
	TestCommand []string

	// ReloadCommand gracefully reloads the proxy (e.g. nginx -s reload)
	ReloadCommand []string

	ReloadTimeout time.Duration

	// Upstreams maps each environment to its upstream name -> host:port table
	Upstreams map[types.Environment]map[string]string
}

// Validate checks the configuration before any file is touched
func (c Config) Validate() error {
	if c.ConfigPath == "" {
		return errors.New("proxy config path is required")
	}
	if len(c.ReloadCommand) == 0 {
		return errors.New("proxy reload command is required")
	}
	if c.ReloadTimeout < 0 {
		return fmt.Errorf("proxy reload timeout must be positive, got %s", c.ReloadTimeout)
	}
	for _, env := range types.Environments() {
		if len(c.Upstreams[env]) == 0 {
			return fmt.Errorf("no upstreams configured for %s", env)
		}
	}
	return nil
}

// Switcher repoints the reverse proxy at an environment and records the new
// active environment in the registry. A whole switch runs under the
// registry lock so concurrent operators are serialized.
type Switcher struct {
	cfg      Config
	registry storage.Registry
	runner   runtime.Runner
	tmpl     *template.Template
	logger   zerolog.Logger

	// OnStage, when set, is called after every stage with its result
	OnStage func(ctx context.Context, stage Stage, target types.Environment, err error)
}

// NewSwitcher creates a traffic switcher
func NewSwitcher(cfg Config, registry storage.Registry, runner runtime.Runner) (*Switcher, error) {
	if cfg.ReloadTimeout == 0 {
		cfg.ReloadTimeout = DefaultReloadTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	text := ""
	if cfg.TemplateFile != "" {
		data, err := os.ReadFile(cfg.TemplateFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read proxy template: %w", err)
		}
		text = string(data)
	}
	tmpl, err := parseTemplate(text)
	if err != nil {
		return nil, err
	}

	return &Switcher{
		cfg:      cfg,
		registry: registry,
		runner:   runner,
		tmpl:     tmpl,
		logger:   log.WithComponent("ingress"),
	}, nil
}

// Render returns the proxy configuration routing to target
func (s *Switcher) Render(target types.Environment) ([]byte, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("invalid environment %q", target)
	}
	return render(s.tmpl, TemplateData{
		Active:    target.String(),
		Standby:   target.Other().String(),
		Upstreams: s.cfg.Upstreams[target],
	})
}

// SwitchTo routes production traffic to target. The registry is written
// only after the proxy has reloaded. Failures before the reload restore the
// previous proxy configuration and match ErrSwitchFailure; failures after it
// match ErrPartialSwitch.
func (s *Switcher) SwitchTo(ctx context.Context, target types.Environment) error {
	if !target.Valid() {
		return &SwitchError{Stage: StageRender, Target: target, Err: fmt.Errorf("invalid environment %q", target)}
	}

	logger := s.logger.With().Str("target", string(target)).Logger()

	return s.registry.Exclusive(ctx, func(tx storage.Tx) error {
		previous, err := tx.Active()
		if err != nil {
			return err
		}
		logger.Info().Str("previous", string(previous)).Msg("Switching traffic")

		rendered, err := s.Render(target)
		if err != nil {
			return s.fail(ctx, StageRender, target, err)
		}
		s.stage(ctx, StageRender, target, nil)

		before, err := takeSnapshot(s.cfg.ConfigPath)
		if err != nil {
			return s.fail(ctx, StageApply, target, fmt.Errorf("failed to read current proxy config: %w", err))
		}
		if err := writeAtomic(s.cfg.ConfigPath, rendered, before.mode); err != nil {
			return s.fail(ctx, StageApply, target, err)
		}
		s.stage(ctx, StageApply, target, nil)

		if err := s.testConfig(ctx); err != nil {
			if rerr := before.restore(s.cfg.ConfigPath); rerr != nil {
				logger.Error().Err(rerr).Msg("Failed to restore previous proxy config")
				err = fmt.Errorf("%w (restore also failed: %v)", err, rerr)
			}
			return s.fail(ctx, StageTest, target, err)
		}
		s.stage(ctx, StageTest, target, nil)

		if err := s.reload(ctx); err != nil {
			return s.fail(ctx, StageReload, target, err)
		}
		s.stage(ctx, StageReload, target, nil)

		if err := tx.SetActive(target); err != nil {
			return s.fail(ctx, StageRecord, target, err)
		}
		s.stage(ctx, StageRecord, target, nil)

		logger.Info().Str("previous", string(previous)).Msg("Traffic switched")
		return nil
	})
}

// RecordActive writes the registry without touching the proxy. It is the
// recovery path after a partial switch.
func (s *Switcher) RecordActive(ctx context.Context, target types.Environment) error {
	if !target.Valid() {
		return fmt.Errorf("invalid environment %q", target)
	}
	if err := s.registry.SetActive(ctx, target); err != nil {
		return fmt.Errorf("failed to record %s as active: %w", target, err)
	}
	s.logger.Info().Str("target", string(target)).Msg("Active environment recorded")
	return nil
}

// CurrentTarget reports the environment the live proxy configuration routes to
func (s *Switcher) CurrentTarget() (types.Environment, error) {
	return ReadMarker(s.cfg.ConfigPath)
}

// TestConfig runs the proxy's own configuration check against the live config
func (s *Switcher) TestConfig(ctx context.Context) error {
	return s.testConfig(ctx)
}

func (s *Switcher) testConfig(ctx context.Context) error {
	if len(s.cfg.TestCommand) == 0 {
		return nil
	}
	return s.run(ctx, s.cfg.TestCommand)
}

func (s *Switcher) reload(ctx context.Context) error {
	return s.run(ctx, s.cfg.ReloadCommand)
}

func (s *Switcher) run(ctx context.Context, command []string) error {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.ReloadTimeout)
	defer cancel()

	_, err := s.runner.Run(runCtx, command[0], command[1:], runtime.RunOptions{})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%s timed out after %s", strings.Join(command, " "), s.cfg.ReloadTimeout)
		}
		return err
	}
	return nil
}

func (s *Switcher) stage(ctx context.Context, stage Stage, target types.Environment, err error) {
	if s.OnStage != nil {
		s.OnStage(ctx, stage, target, err)
	}
}

func (s *Switcher) fail(ctx context.Context, stage Stage, target types.Environment, err error) error {
	s.stage(ctx, stage, target, err)
	s.logger.Error().
		Err(err).
		Str("target", string(target)).
		Str("stage", string(stage)).
		Bool("partial", stage.Partial()).
		Msg("Traffic switch failed")
	return &SwitchError{Stage: stage, Target: target, Err: err}
}
