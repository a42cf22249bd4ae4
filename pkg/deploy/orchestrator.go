package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/bgctl/pkg/events"
	"github.com/cuemby/bgctl/pkg/health"
	"github.com/cuemby/bgctl/pkg/ingress"
	"github.com/cuemby/bgctl/pkg/log"
	"github.com/cuemby/bgctl/pkg/metrics"
	"github.com/cuemby/bgctl/pkg/runtime"
	"github.com/cuemby/bgctl/pkg/smoke"
	"github.com/cuemby/bgctl/pkg/storage"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Prompt is what the operator sees before a deploy switches traffic
type Prompt struct {
	Target   types.Environment
	Previous types.Environment
	Health   types.HealthOutcome
	Smoke    types.SmokeOutcome
}

// Confirmer asks the operator whether to switch traffic
type Confirmer interface {
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// ConfirmFunc adapts a function to the Confirmer interface
type ConfirmFunc func(ctx context.Context, prompt Prompt) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	return f(ctx, prompt)
}

// EndpointsFunc returns the health endpoints of an environment
type EndpointsFunc func(env types.Environment) []health.Endpoint

// Options tune an orchestrator
type Options struct {
	HealthTimeout  time.Duration
	HealthInterval time.Duration

	// Build runs the environment build before starting it
	Build bool

	// AutoConfirm switches traffic without asking once both gates pass
	AutoConfirm bool
}

// Dependencies are the collaborators an orchestrator drives
type Dependencies struct {
	Registry   storage.Registry
	Controller runtime.Controller
	Gate       *health.Gate
	Endpoints  EndpointsFunc
	Smoke      *smoke.Runner
	Switcher   *ingress.Switcher
	Confirmer  Confirmer

	// Broker receives progress events. Optional.
	Broker *events.Broker
}

// Orchestrator sequences deploy, rollback, switch-traffic and status
type Orchestrator struct {
	deps   Dependencies
	opts   Options
	logger zerolog.Logger
}

type attemptKey struct{}

// attemptID returns the attempt an operation context belongs to
func attemptID(ctx context.Context) string {
	id, _ := ctx.Value(attemptKey{}).(string)
	return id
}

// NewOrchestrator validates its dependencies and wires progress reporting
// into the health gate, smoke runner and traffic switch
func NewOrchestrator(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("orchestrator requires a registry")
	case deps.Controller == nil:
		return nil, errors.New("orchestrator requires an environment controller")
	case deps.Gate == nil || deps.Endpoints == nil:
		return nil, errors.New("orchestrator requires a health gate and endpoints")
	case deps.Smoke == nil:
		return nil, errors.New("orchestrator requires a smoke test runner")
	case deps.Switcher == nil:
		return nil, errors.New("orchestrator requires a traffic switcher")
	}
	if opts.HealthTimeout <= 0 || opts.HealthInterval <= 0 {
		return nil, fmt.Errorf("health timeout and interval must be positive, got %s and %s", opts.HealthTimeout, opts.HealthInterval)
	}
	if !opts.AutoConfirm && deps.Confirmer == nil {
		return nil, errors.New("orchestrator requires a confirmer unless auto-confirm is set")
	}

	o := &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: log.WithComponent("deploy"),
	}

	deps.Gate.OnIteration = func(ctx context.Context, iteration int, reports []types.HealthReport) {
		healthy := 0
		var env types.Environment
		for _, r := range reports {
			env = r.Environment
			if r.Healthy {
				healthy++
			}
		}
		o.publish(ctx, events.EventHealthIteration, fmt.Sprintf("iteration %d: %d/%d endpoints healthy", iteration, healthy, len(reports)), map[string]string{
			"environment": string(env),
			"iteration":   fmt.Sprint(iteration),
		})
	}
	deps.Smoke.OnResult = func(ctx context.Context, env types.Environment, r types.CheckResult) {
		status := "passed"
		if !r.Passed {
			status = "failed"
		}
		o.publish(ctx, events.EventSmokeCheck, fmt.Sprintf("%s %s: %s", r.Name, status, r.Message), map[string]string{
			"environment": string(env),
			"check":       r.Name,
			"result":      status,
		})
	}
	deps.Switcher.OnStage = func(ctx context.Context, stage ingress.Stage, target types.Environment, err error) {
		msg := fmt.Sprintf("%s ok", stage)
		result := "ok"
		if err != nil {
			msg = fmt.Sprintf("%s failed: %v", stage, err)
			result = "failed"
		}
		o.publish(ctx, events.EventSwitchStage, msg, map[string]string{
			"environment": string(target),
			"stage":       string(stage),
			"result":      result,
		})
	}

	return o, nil
}

// run is the shared frame of every operation: it creates the attempt and
// its state machine, then settles the outcome, metrics and events
func (o *Orchestrator) run(ctx context.Context, op types.Operation, fn func(ctx context.Context, a *types.DeploymentAttempt, m *Machine) error) (*types.DeploymentAttempt, error) {
	attempt := &types.DeploymentAttempt{
		ID:        uuid.New().String(),
		Operation: op,
		StartedAt: time.Now(),
		Outcome:   types.OutcomePending,
	}
	ctx = context.WithValue(ctx, attemptKey{}, attempt.ID)

	logger := log.WithAttempt(attempt.ID).With().Str("component", "deploy").Str("operation", string(op)).Logger()
	logger.Info().Msg("Operation started")

	m := NewMachine()
	m.OnTransition = func(from, to State, reason error) {
		msg := fmt.Sprintf("%s -> %s", from, to)
		if reason != nil {
			msg = fmt.Sprintf("%s: %v", msg, reason)
		}
		o.publish(ctx, events.EventStateChanged, msg, map[string]string{"from": string(from), "to": string(to)})
		logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("State changed")
	}

	err := fn(ctx, attempt, m)
	if err != nil && m.State() != StateFailed {
		_ = m.Fail(err)
	}

	attempt.FinishedAt = time.Now()
	attempt.Err = err
	attempt.Outcome = Classify(err)
	metrics.RecordOperation(attempt)

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.Str("outcome", string(attempt.Outcome)).
		Str("target", string(attempt.Target)).
		Dur("duration", attempt.Duration()).
		Msg("Operation finished")

	o.publish(ctx, events.EventOperationFinished, string(attempt.Outcome), map[string]string{
		"operation": string(op),
		"outcome":   string(attempt.Outcome),
		"target":    string(attempt.Target),
	})
	return attempt, err
}

// Deploy builds and starts the standby environment, gates it on health and
// smoke tests, asks for confirmation and switches traffic to it. A failed
// gate leaves the standby running for inspection.
func (o *Orchestrator) Deploy(ctx context.Context) (*types.DeploymentAttempt, error) {
	return o.run(ctx, types.OperationDeploy, func(ctx context.Context, a *types.DeploymentAttempt, m *Machine) error {
		active, err := o.deps.Registry.Active(ctx)
		if err != nil {
			return &StepError{Step: StepResolve, Err: err}
		}
		standby := active.Other()
		a.Previous, a.Target = active, standby
		metrics.SetActive(active)

		if err := m.Transition(StateDeploying); err != nil {
			return err
		}
		if o.opts.Build {
			if err := o.step(ctx, StepBuild, standby, func(ctx context.Context) error {
				return o.deps.Controller.Build(ctx, standby)
			}); err != nil {
				return &StepError{Step: StepBuild, Env: standby, Err: fmt.Errorf("%w: %w", ErrBuildFailure, err)}
			}
		}
		if err := o.step(ctx, StepStart, standby, func(ctx context.Context) error {
			return o.deps.Controller.Start(ctx, standby)
		}); err != nil {
			return &StepError{Step: StepStart, Env: standby, Err: fmt.Errorf("%w: %w", ErrBuildFailure, err)}
		}

		if err := m.Transition(StateValidating); err != nil {
			return err
		}
		if err := o.waitHealthy(ctx, a, standby); err != nil {
			return err
		}
		if err := o.runSmoke(ctx, a, standby); err != nil {
			return err
		}

		if err := m.Transition(StateAwaitingConfirmation); err != nil {
			return err
		}
		if err := o.confirm(ctx, a); err != nil {
			return err
		}

		if err := m.Transition(StateSwitching); err != nil {
			return err
		}
		if err := o.switchTo(ctx, standby); err != nil {
			return err
		}
		return m.Transition(StateIdle)
	})
}

// Rollback points traffic back at the previously active environment. The
// environment must still be running and pass the health gate again; it is
// never rebuilt.
func (o *Orchestrator) Rollback(ctx context.Context) (*types.DeploymentAttempt, error) {
	return o.run(ctx, types.OperationRollback, func(ctx context.Context, a *types.DeploymentAttempt, m *Machine) error {
		active, err := o.deps.Registry.Active(ctx)
		if err != nil {
			return &StepError{Step: StepResolve, Err: err}
		}
		target := active.Other()
		a.Previous, a.Target = active, target

		if err := m.Transition(StateRollingBack); err != nil {
			return err
		}

		var running bool
		err = o.step(ctx, StepStatus, target, func(ctx context.Context) error {
			var err error
			running, err = o.deps.Controller.IsRunning(ctx, target)
			if err == nil && !running {
				err = ErrNotRunning
			}
			return err
		})
		if err != nil {
			if errors.Is(err, ErrNotRunning) {
				return &StepError{Step: StepStatus, Env: target, Err: err}
			}
			return &StepError{Step: StepStatus, Env: target, Err: fmt.Errorf("%w: %w", ErrNotRunning, err)}
		}

		if err := o.waitHealthy(ctx, a, target); err != nil {
			return err
		}

		if err := m.Transition(StateSwitching); err != nil {
			return err
		}
		if err := o.switchTo(ctx, target); err != nil {
			return err
		}
		return m.Transition(StateIdle)
	})
}

// SwitchTraffic runs the traffic switch against target without any gating
func (o *Orchestrator) SwitchTraffic(ctx context.Context, target types.Environment) (*types.DeploymentAttempt, error) {
	return o.run(ctx, types.OperationSwitchTraffic, func(ctx context.Context, a *types.DeploymentAttempt, m *Machine) error {
		if !target.Valid() {
			return &StepError{Step: StepSwitch, Env: target, Err: fmt.Errorf("%w: invalid environment %q", ErrSwitchFailure, target)}
		}
		a.Target = target

		if err := m.Transition(StateSwitching); err != nil {
			return err
		}
		if err := o.switchTo(ctx, target); err != nil {
			return err
		}
		return m.Transition(StateIdle)
	})
}

// RecordActive retries only the registry write of a partial switch
func (o *Orchestrator) RecordActive(ctx context.Context, target types.Environment) (*types.DeploymentAttempt, error) {
	return o.run(ctx, types.OperationSwitchTraffic, func(ctx context.Context, a *types.DeploymentAttempt, m *Machine) error {
		a.Target = target
		if err := m.Transition(StateSwitching); err != nil {
			return err
		}
		err := o.step(ctx, StepRecord, target, func(ctx context.Context) error {
			return o.deps.Switcher.RecordActive(ctx, target)
		})
		if err != nil {
			return &StepError{Step: StepRecord, Env: target, Err: err}
		}
		metrics.SetActive(target)
		return m.Transition(StateIdle)
	})
}

func (o *Orchestrator) waitHealthy(ctx context.Context, a *types.DeploymentAttempt, env types.Environment) error {
	o.stepStarted(ctx, StepHealth, env)
	outcome, err := o.deps.Gate.WaitHealthy(ctx, env, o.deps.Endpoints(env), o.opts.HealthTimeout, o.opts.HealthInterval)
	a.Health = &outcome
	if err != nil {
		o.stepFailed(ctx, StepHealth, env, err)
		return &StepError{Step: StepHealth, Env: env, Err: err}
	}
	metrics.RecordHealthGate(env, outcome)
	if !outcome.Healthy {
		err := &HealthTimeoutError{
			Env:       env,
			Elapsed:   outcome.Elapsed,
			Timeout:   o.opts.HealthTimeout,
			Unhealthy: outcome.Unhealthy(),
		}
		o.stepFailed(ctx, StepHealth, env, err)
		return &StepError{Step: StepHealth, Env: env, Err: err}
	}
	o.stepSucceeded(ctx, StepHealth, env)
	return nil
}

func (o *Orchestrator) runSmoke(ctx context.Context, a *types.DeploymentAttempt, env types.Environment) error {
	o.stepStarted(ctx, StepSmoke, env)
	outcome, err := o.deps.Smoke.Run(ctx, env)
	if err != nil {
		o.stepFailed(ctx, StepSmoke, env, err)
		if ctx.Err() != nil {
			return &StepError{Step: StepSmoke, Env: env, Err: err}
		}
		return &StepError{Step: StepSmoke, Env: env, Err: fmt.Errorf("%w: %w", ErrSmokeTestFailure, err)}
	}
	a.Smoke = &outcome
	metrics.RecordSmoke(outcome)
	if !outcome.Passed {
		err := &SmokeFailure{Env: env, Failed: outcome.FailedChecks(), Results: outcome.Results}
		o.stepFailed(ctx, StepSmoke, env, err)
		return &StepError{Step: StepSmoke, Env: env, Err: err}
	}
	o.stepSucceeded(ctx, StepSmoke, env)
	return nil
}

func (o *Orchestrator) confirm(ctx context.Context, a *types.DeploymentAttempt) error {
	if o.opts.AutoConfirm {
		o.publish(ctx, events.EventStepSucceeded, "confirmation skipped (auto-confirm)", map[string]string{"step": string(StepConfirm)})
		return nil
	}

	prompt := Prompt{Target: a.Target, Previous: a.Previous}
	if a.Health != nil {
		prompt.Health = *a.Health
	}
	if a.Smoke != nil {
		prompt.Smoke = *a.Smoke
	}

	ok, err := o.deps.Confirmer.Confirm(ctx, prompt)
	switch {
	case ctx.Err() != nil:
		return &StepError{Step: StepConfirm, Env: a.Target, Err: ctx.Err()}
	case err != nil:
		return &StepError{Step: StepConfirm, Env: a.Target, Err: fmt.Errorf("%w: %w", ErrConfirmationDeclined, err)}
	case !ok:
		return &StepError{Step: StepConfirm, Env: a.Target, Err: ErrConfirmationDeclined}
	}
	return nil
}

func (o *Orchestrator) switchTo(ctx context.Context, target types.Environment) error {
	timer := metrics.NewTimer()
	err := o.step(ctx, StepSwitch, target, func(ctx context.Context) error {
		return o.deps.Switcher.SwitchTo(ctx, target)
	})

	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrPartialSwitch):
		result = "partial"
	default:
		result = "failed"
	}
	timer.ObserveDurationVec(metrics.TrafficSwitchDuration, result)
	metrics.RecordSwitch(target, result)

	if err != nil {
		return &StepError{Step: StepSwitch, Env: target, Err: err}
	}
	metrics.SetActive(target)
	return nil
}

// step runs fn with start, success and failure events around it
func (o *Orchestrator) step(ctx context.Context, step Step, env types.Environment, fn func(ctx context.Context) error) error {
	o.stepStarted(ctx, step, env)
	if err := fn(ctx); err != nil {
		o.stepFailed(ctx, step, env, err)
		return err
	}
	o.stepSucceeded(ctx, step, env)
	return nil
}

func (o *Orchestrator) stepStarted(ctx context.Context, step Step, env types.Environment) {
	o.logger.Info().Str("step", string(step)).Str("environment", string(env)).Msg("Step started")
	o.publish(ctx, events.EventStepStarted, fmt.Sprintf("%s %s", step, env), stepMeta(step, env))
}

func (o *Orchestrator) stepSucceeded(ctx context.Context, step Step, env types.Environment) {
	o.publish(ctx, events.EventStepSucceeded, fmt.Sprintf("%s %s", step, env), stepMeta(step, env))
}

func (o *Orchestrator) stepFailed(ctx context.Context, step Step, env types.Environment, err error) {
	o.logger.Warn().Err(err).Str("step", string(step)).Str("environment", string(env)).Msg("Step failed")
	o.publish(ctx, events.EventStepFailed, fmt.Sprintf("%s %s: %v", step, env, err), stepMeta(step, env))
}

func stepMeta(step Step, env types.Environment) map[string]string {
	return map[string]string{"step": string(step), "environment": string(env)}
}

func (o *Orchestrator) publish(ctx context.Context, typ events.EventType, msg string, meta map[string]string) {
	if o.deps.Broker == nil {
		return
	}
	o.deps.Broker.Publish(&events.Event{
		AttemptID: attemptID(ctx),
		Type:      typ,
		Message:   msg,
		Metadata:  meta,
	})
}
