package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cuemby/bgctl/pkg/config"
	"github.com/cuemby/bgctl/pkg/deploy"
	"github.com/cuemby/bgctl/pkg/events"
	"github.com/cuemby/bgctl/pkg/health"
	"github.com/cuemby/bgctl/pkg/ingress"
	"github.com/cuemby/bgctl/pkg/log"
	"github.com/cuemby/bgctl/pkg/metrics"
	"github.com/cuemby/bgctl/pkg/runtime"
	"github.com/cuemby/bgctl/pkg/smoke"
	"github.com/cuemby/bgctl/pkg/storage"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/spf13/cobra"
)

// app holds the components wired from one configuration
type app struct {
	cfg      *config.Config
	registry *storage.BoltRegistry
	ctrl     *runtime.ComposeRuntime
	switcher *ingress.Switcher
	broker   *events.Broker
	printer  *eventPrinter
	orch     *deploy.Orchestrator
}

// appOptions carry per-command overrides of the configuration
type appOptions struct {
	autoConfirm    bool
	noBuild        bool
	healthTimeout  time.Duration
	healthInterval time.Duration

	in  io.Reader
	out io.Writer
}

// loadApp reads the configuration, re-initializes logging from it and
// wires every component
func loadApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &configError{err: err}
	}
	initLogging(cmd, cfg.Log.Level, cfg.Log.JSON)

	if opts.autoConfirm {
		cfg.Deploy.AutoConfirm = true
	}
	if opts.noBuild {
		cfg.Deploy.Build = false
	}
	if opts.healthTimeout > 0 {
		cfg.Health.Timeout = opts.healthTimeout
	}
	if opts.healthInterval > 0 {
		cfg.Health.Interval = opts.healthInterval
	}
	logger := log.WithComponent("config")
	logger.Debug().Str("path", configPath).Msgf("Effective configuration:\n%s", cfg.String())

	return newApp(cfg, opts)
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	runner := runtime.NewCommandRunner()
	ctrl, err := runtime.NewComposeRuntime(runner, cfg.ComposeConfig())
	if err != nil {
		return nil, &configError{err: err}
	}

	registry := storage.NewBoltRegistry(cfg.Registry.Path, cfg.Registry.LockTimeout)

	switcher, err := ingress.NewSwitcher(cfg.ProxyConfig(), registry, runner)
	if err != nil {
		return nil, &configError{err: err}
	}

	battery := smoke.NewBattery(cfg.SmokeChecks(), smoke.Dependencies{
		Controller: ctrl,
		ServiceURL: cfg.ServiceURL,
		Routes:     switcher.RouteChecker,
	})

	broker := events.NewBroker()
	printer := newEventPrinter(opts.out, broker)
	confirmer := newPromptConfirmer(opts.in, opts.out)
	confirmer.flush = printer.Flush

	orch, err := deploy.NewOrchestrator(deploy.Dependencies{
		Registry:   registry,
		Controller: ctrl,
		Gate:       health.NewGate(cfg.Health.Concurrency),
		Endpoints:  endpointsFor(cfg),
		Smoke:      smoke.NewRunner(battery, cfg.Health.SmokeTimeout),
		Switcher:   switcher,
		Confirmer:  confirmer,
		Broker:     broker,
	}, deploy.Options{
		HealthTimeout:  cfg.Health.Timeout,
		HealthInterval: cfg.Health.Interval,
		Build:          cfg.Deploy.Build,
		AutoConfirm:    cfg.Deploy.AutoConfirm,
	})
	if err != nil {
		return nil, &configError{err: err}
	}

	return &app{
		cfg:      cfg,
		registry: registry,
		ctrl:     ctrl,
		switcher: switcher,
		broker:   broker,
		printer:  printer,
		orch:     orch,
	}, nil
}

// endpointsFor builds the health gate endpoints of an environment. Every
// endpoint must answer with the structured status payload.
func endpointsFor(cfg *config.Config) deploy.EndpointsFunc {
	return func(env types.Environment) []health.Endpoint {
		urls := cfg.Env(env).Endpoints
		names := make([]string, 0, len(urls))
		for name := range urls {
			names = append(names, name)
		}
		sort.Strings(names)

		endpoints := make([]health.Endpoint, 0, len(names))
		for _, name := range names {
			checker := health.NewHTTPChecker(urls[name]).
				WithExpectedPayload(cfg.Health.ExpectedStatus)
			endpoints = append(endpoints, health.Endpoint{Name: name, Checker: checker})
		}
		return endpoints
	}
}

// flushMetrics writes the metrics textfile when one is configured
func (a *app) flushMetrics() {
	if a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		logger := log.WithComponent("metrics")
		logger.Warn().Err(err).Str("path", a.cfg.Metrics.Textfile).Msg("Failed to write metrics textfile")
	}
}

// configError marks a configuration problem found before any operation ran
type configError struct {
	err error
}

func (e *configError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.err)
}

func (e *configError) Unwrap() error {
	return e.err
}
