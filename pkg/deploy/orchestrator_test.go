package deploy

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/bgctl/pkg/events"
	"github.com/cuemby/bgctl/pkg/health"
	"github.com/cuemby/bgctl/pkg/ingress"
	"github.com/cuemby/bgctl/pkg/runtime"
	"github.com/cuemby/bgctl/pkg/runtime/runtimetest"
	"github.com/cuemby/bgctl/pkg/smoke"
	"github.com/cuemby/bgctl/pkg/storage"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// proxy fakes nginx test and reload commands
type proxy struct {
	mu        sync.Mutex
	reloads   int
	reloadErr error
}

func (p *proxy) Run(ctx context.Context, name string, args []string, opts runtime.RunOptions) (*runtime.ExecResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.Join(args, " ") == "-s reload" {
		p.reloads++
		if p.reloadErr != nil {
			return &runtime.ExecResult{ExitCode: 1}, p.reloadErr
		}
	}
	return &runtime.ExecResult{}, nil
}

func (p *proxy) setReloadErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloadErr = err
}

type harness struct {
	registry *storage.MemoryRegistry
	ctrl     *runtimetest.Controller
	proxy    *proxy
	switcher *ingress.Switcher
	healthy  map[types.Environment]*atomic.Bool
	smokeOK  map[types.Environment]*atomic.Bool
	confirms atomic.Int32
	answer   atomic.Bool
	orch     *Orchestrator
}

func newHarness(t *testing.T, active types.Environment, running ...types.Environment) *harness {
	t.Helper()
	h := &harness{
		registry: storage.NewMemoryRegistry(active),
		ctrl:     runtimetest.NewController(running...),
		proxy:    &proxy{},
		healthy:  map[types.Environment]*atomic.Bool{types.Blue: {}, types.Green: {}},
		smokeOK:  map[types.Environment]*atomic.Bool{types.Blue: {}, types.Green: {}},
	}
	h.answer.Store(true)
	for _, env := range types.Environments() {
		h.healthy[env].Store(true)
		h.smokeOK[env].Store(true)
	}

	switcher, err := ingress.NewSwitcher(ingress.Config{
		ConfigPath:    filepath.Join(t.TempDir(), "upstreams.conf"),
		TestCommand:   []string{"nginx", "-t"},
		ReloadCommand: []string{"nginx", "-s", "reload"},
		ReloadTimeout: time.Second,
		Upstreams: map[types.Environment]map[string]string{
			types.Blue:  {"backend": "127.0.0.1:8001"},
			types.Green: {"backend": "127.0.0.1:8002"},
		},
	}, h.registry, h.proxy)
	require.NoError(t, err)
	h.switcher = switcher

	endpoints := func(env types.Environment) []health.Endpoint {
		check := health.CheckerFunc(func(ctx context.Context) health.Result {
			return health.Result{Healthy: h.healthy[env].Load(), CheckedAt: time.Now()}
		})
		return []health.Endpoint{{Name: "backend", Checker: check}, {Name: "frontend", Checker: check}}
	}

	battery := func(env types.Environment) ([]smoke.Check, error) {
		return []smoke.Check{
			{Name: "api", Checker: health.CheckerFunc(func(context.Context) health.Result {
				return health.Result{Healthy: true}
			})},
			{Name: "database", Checker: health.CheckerFunc(func(context.Context) health.Result {
				return health.Result{Healthy: h.smokeOK[env].Load(), Message: "connection refused"}
			})},
		}, nil
	}

	h.orch, err = NewOrchestrator(Dependencies{
		Registry:   h.registry,
		Controller: h.ctrl,
		Gate:       health.NewGate(2),
		Endpoints:  endpoints,
		Smoke:      smoke.NewRunner(battery, time.Second),
		Switcher:   switcher,
		Confirmer: ConfirmFunc(func(ctx context.Context, p Prompt) (bool, error) {
			h.confirms.Add(1)
			return h.answer.Load(), nil
		}),
	}, Options{
		HealthTimeout:  150 * time.Millisecond,
		HealthInterval: 10 * time.Millisecond,
		Build:          true,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) proxyTarget(t *testing.T) types.Environment {
	t.Helper()
	target, err := h.switcher.CurrentTarget()
	require.NoError(t, err)
	return target
}

// TestDeployHealthTimeout covers a standby that never becomes healthy
func TestDeployHealthTimeout(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue)
	h.healthy[types.Green].Store(false)

	attempt, err := h.orch.Deploy(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHealthTimeout)
	assert.Equal(t, types.OutcomeHealthTimeout, attempt.Outcome)
	assert.Equal(t, types.Green, attempt.Target)
	assert.Equal(t, types.Blue, attempt.Previous)

	var timeoutErr *HealthTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.ElementsMatch(t, []string{"backend", "frontend"}, timeoutErr.Unhealthy)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepHealth, stepErr.Step)

	assert.Equal(t, types.Blue, h.registry.Peek(), "pointer unchanged")
	assert.True(t, h.ctrl.Running(types.Green), "standby left running for inspection")
	assert.NotContains(t, h.ctrl.Calls(), "stop green")
	assert.Equal(t, int32(0), h.confirms.Load())
	assert.Equal(t, 0, h.proxy.reloads)
	assert.Contains(t, Remediation(attempt), "left running")
}

// TestDeployAndRollback covers a confirmed deploy followed by a rollback
func TestDeployAndRollback(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue)

	attempt, err := h.orch.Deploy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSucceeded, attempt.Outcome)
	assert.Equal(t, types.Green, h.registry.Peek())
	assert.Equal(t, types.Green, h.proxyTarget(t))
	assert.Equal(t, []string{"build green", "start green"}, h.ctrl.Calls())
	assert.Equal(t, int32(1), h.confirms.Load())
	require.NotNil(t, attempt.Health)
	assert.True(t, attempt.Health.Healthy)
	require.NotNil(t, attempt.Smoke)
	assert.True(t, attempt.Smoke.Passed)

	attempt, err = h.orch.Rollback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSucceeded, attempt.Outcome)
	assert.Equal(t, types.Blue, attempt.Target)
	assert.Equal(t, types.Blue, h.registry.Peek())
	assert.Equal(t, types.Blue, h.proxyTarget(t))

	// Neither environment was torn down or rebuilt
	assert.True(t, h.ctrl.Running(types.Blue))
	assert.True(t, h.ctrl.Running(types.Green))
	assert.Equal(t, []string{"build green", "start green"}, h.ctrl.Calls())
}

func TestDeploySmokeFailure(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue)
	h.smokeOK[types.Green].Store(false)

	attempt, err := h.orch.Deploy(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSmokeTestFailure)
	assert.Equal(t, types.OutcomeSmokeFailed, attempt.Outcome)

	var smokeErr *SmokeFailure
	require.ErrorAs(t, err, &smokeErr)
	assert.Equal(t, []string{"database"}, smokeErr.Failed)
	assert.Contains(t, err.Error(), "database (connection refused)")

	assert.Equal(t, types.Blue, h.registry.Peek())
	assert.True(t, h.ctrl.Running(types.Green))
	assert.Equal(t, int32(0), h.confirms.Load())
}

func TestDeployBuildFailure(t *testing.T) {
	h := newHarness(t, types.Green, types.Green)
	h.ctrl.BuildErr[types.Blue] = errors.New("failed to solve: dockerfile parse error")

	attempt, err := h.orch.Deploy(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildFailure)
	assert.Equal(t, types.OutcomeBuildFailed, attempt.Outcome)
	assert.Contains(t, err.Error(), "dockerfile parse error")
	assert.Equal(t, []string{"build blue"}, h.ctrl.Calls())
	assert.Equal(t, types.Green, h.registry.Peek())
}

func TestDeployStartFailure(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue)
	h.ctrl.StartErr[types.Green] = errors.New("port is already allocated")

	attempt, err := h.orch.Deploy(context.Background())
	require.ErrorIs(t, err, ErrBuildFailure)
	assert.Equal(t, types.OutcomeBuildFailed, attempt.Outcome)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepStart, stepErr.Step)
}

func TestDeployDeclined(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue)
	h.answer.Store(false)

	attempt, err := h.orch.Deploy(context.Background())
	require.ErrorIs(t, err, ErrConfirmationDeclined)
	assert.Equal(t, types.OutcomeDeclined, attempt.Outcome)
	assert.Equal(t, types.Blue, h.registry.Peek())
	assert.True(t, h.ctrl.Running(types.Green))
	assert.Equal(t, 0, h.proxy.reloads)
}

func TestDeployAutoConfirmWithoutBuild(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue)
	h.orch.opts.AutoConfirm = true
	h.orch.opts.Build = false

	attempt, err := h.orch.Deploy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSucceeded, attempt.Outcome)
	assert.Equal(t, int32(0), h.confirms.Load())
	assert.Equal(t, []string{"start green"}, h.ctrl.Calls())
}

func TestDeployRegistryUnavailable(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue)
	h.registry.ReadErr = errors.New("corrupt record")

	attempt, err := h.orch.Deploy(context.Background())
	require.ErrorIs(t, err, ErrRegistryUnavailable)
	assert.Equal(t, types.OutcomeRegistryFailed, attempt.Outcome)
	assert.Empty(t, h.ctrl.Calls(), "no environment is touched without a trustworthy pointer")
}

func TestDeployPartialSwitch(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue)
	h.proxy.setReloadErr(errors.New("nginx: [alert] kill(1234, 1) failed"))

	attempt, err := h.orch.Deploy(context.Background())
	require.ErrorIs(t, err, ErrPartialSwitch)
	assert.Equal(t, types.OutcomePartialSwitch, attempt.Outcome)
	assert.Equal(t, types.Blue, h.registry.Peek())
	assert.Contains(t, Remediation(attempt), "--registry-only")
}

func TestDeployCancelled(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue)
	h.healthy[types.Green].Store(false)
	h.orch.opts.HealthTimeout = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	attempt, err := h.orch.Deploy(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.OutcomeCancelled, attempt.Outcome)
	assert.Equal(t, types.Blue, h.registry.Peek())
}

func TestRollbackNotRunning(t *testing.T) {
	h := newHarness(t, types.Green, types.Green)

	attempt, err := h.orch.Rollback(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, types.OutcomeNotRunning, attempt.Outcome)
	assert.Equal(t, types.Blue, attempt.Target)
	assert.Equal(t, types.Green, h.registry.Peek())
	assert.Empty(t, h.ctrl.Calls(), "rollback never builds or starts")
}

func TestRollbackStatusError(t *testing.T) {
	h := newHarness(t, types.Green, types.Green, types.Blue)
	h.ctrl.StatusErr[types.Blue] = errors.New("cannot connect to the docker daemon")

	attempt, err := h.orch.Rollback(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, types.OutcomeNotRunning, attempt.Outcome)
}

func TestRollbackUnhealthy(t *testing.T) {
	h := newHarness(t, types.Green, types.Green, types.Blue)
	h.healthy[types.Blue].Store(false)

	attempt, err := h.orch.Rollback(context.Background())
	require.ErrorIs(t, err, ErrHealthTimeout)
	assert.Equal(t, types.OutcomeHealthTimeout, attempt.Outcome)
	assert.Equal(t, types.Green, h.registry.Peek())
	assert.Equal(t, 0, h.proxy.reloads)
}

// TestSwitchTrafficPartialThenRetry covers a reload failure after the mapping was written
func TestSwitchTrafficPartialThenRetry(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue, types.Green)
	h.proxy.setReloadErr(errors.New("reload failed"))

	attempt, err := h.orch.SwitchTraffic(context.Background(), types.Green)
	require.ErrorIs(t, err, ErrPartialSwitch)
	assert.Equal(t, types.OutcomePartialSwitch, attempt.Outcome)
	assert.Equal(t, types.Blue, h.registry.Peek())

	st := h.orch.Status(context.Background())
	assert.Equal(t, types.Green, st.ProxyTarget)
	assert.True(t, st.Drift)

	h.proxy.setReloadErr(nil)
	attempt, err = h.orch.SwitchTraffic(context.Background(), types.Green)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSucceeded, attempt.Outcome)
	assert.Equal(t, types.Green, h.registry.Peek())
	assert.False(t, h.orch.Status(context.Background()).Drift)
}

func TestRecordActive(t *testing.T) {
	h := newHarness(t, types.Blue)

	attempt, err := h.orch.RecordActive(context.Background(), types.Green)
	require.NoError(t, err)
	assert.Equal(t, types.OperationSwitchTraffic, attempt.Operation)
	assert.Equal(t, types.Green, h.registry.Peek())
	assert.Equal(t, 0, h.proxy.reloads, "registry-only retry never touches the proxy")

	h.registry.WriteErr = errors.New("read-only file system")
	attempt, err = h.orch.RecordActive(context.Background(), types.Blue)
	require.ErrorIs(t, err, ErrRegistryUnavailable)
	assert.Equal(t, types.OutcomeRegistryFailed, attempt.Outcome)
}

func TestSwitchTrafficInvalidTarget(t *testing.T) {
	h := newHarness(t, types.Blue)
	attempt, err := h.orch.SwitchTraffic(context.Background(), "purple")
	require.ErrorIs(t, err, ErrSwitchFailure)
	assert.Equal(t, types.OutcomeSwitchFailed, attempt.Outcome)
}

// TestConcurrentSwitchTraffic tests that racing switches serialize on the registry lock
func TestConcurrentSwitchTraffic(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue, types.Green)

	var wg sync.WaitGroup
	for _, target := range []types.Environment{types.Green, types.Blue, types.Green, types.Blue} {
		wg.Add(1)
		go func(target types.Environment) {
			defer wg.Done()
			_, err := h.orch.SwitchTraffic(context.Background(), target)
			assert.NoError(t, err)
		}(target)
	}
	wg.Wait()

	active := h.registry.Peek()
	assert.True(t, active.Valid())
	assert.Equal(t, active, h.proxyTarget(t), "last writer wins on both proxy and registry")
}

func TestConcurrentSwitchTrafficEventAttempts(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue, types.Green)
	broker := events.NewBroker()
	broker.Start()
	h.orch.deps.Broker = broker
	sub := broker.Subscribe()

	targets := map[string]types.Environment{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, target := range []types.Environment{types.Green, types.Blue} {
		wg.Add(1)
		go func(target types.Environment) {
			defer wg.Done()
			attempt, err := h.orch.SwitchTraffic(context.Background(), target)
			assert.NoError(t, err)
			mu.Lock()
			targets[attempt.ID] = target
			mu.Unlock()
		}(target)
	}
	wg.Wait()
	broker.Stop()

	stages := 0
	for ev := range sub {
		target, ok := targets[ev.AttemptID]
		require.True(t, ok, "event %s has unknown attempt %q", ev.Type, ev.AttemptID)
		if ev.Type == events.EventSwitchStage {
			stages++
			assert.Equal(t, string(target), ev.Metadata["environment"], "stage event stamped with the wrong attempt")
		}
	}
	assert.Positive(t, stages)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue)

	st := h.orch.Status(context.Background())
	assert.Equal(t, types.Blue, st.Active)
	assert.Equal(t, types.Green, st.Standby)
	assert.Empty(t, st.RegistryErr)
	assert.NotEmpty(t, st.ProxyErr, "no proxy config written yet")
	assert.False(t, st.Drift)
	require.Len(t, st.Environments, 2)
	assert.Equal(t, types.EnvironmentStatus{Name: types.Blue, Project: "test-blue", Running: true}, st.Environments[0])
	assert.Equal(t, types.EnvironmentStatus{Name: types.Green, Project: "test-green", Running: false}, st.Environments[1])

	// Status never switches or starts anything
	assert.Empty(t, h.ctrl.Calls())
	assert.Equal(t, 0, h.proxy.reloads)

	h.registry.ReadErr = errors.New("corrupt")
	st = h.orch.Status(context.Background())
	assert.NotEmpty(t, st.RegistryErr)
	assert.Empty(t, st.Active)
	assert.Len(t, st.Environments, 2)
}

func TestDeployPublishesEvents(t *testing.T) {
	h := newHarness(t, types.Blue, types.Blue)
	broker := events.NewBroker()
	broker.Start()
	h.orch.deps.Broker = broker
	sub := broker.Subscribe()

	attempt, err := h.orch.Deploy(context.Background())
	require.NoError(t, err)
	broker.Stop()

	var states []string
	var seen []events.EventType
	for ev := range sub {
		assert.Equal(t, attempt.ID, ev.AttemptID)
		seen = append(seen, ev.Type)
		if ev.Type == events.EventStateChanged {
			states = append(states, ev.Metadata["to"])
		}
	}

	assert.Equal(t, []string{"deploying", "validating", "awaiting_confirmation", "switching", "idle"}, states)
	assert.Contains(t, seen, events.EventHealthIteration)
	assert.Contains(t, seen, events.EventSmokeCheck)
	assert.Contains(t, seen, events.EventSwitchStage)
	assert.Equal(t, events.EventOperationFinished, seen[len(seen)-1])
}

func TestNewOrchestratorValidation(t *testing.T) {
	h := newHarness(t, types.Blue)
	deps := h.orch.deps
	good := Options{HealthTimeout: time.Second, HealthInterval: time.Second}

	_, err := NewOrchestrator(deps, Options{HealthTimeout: 0, HealthInterval: time.Second})
	assert.Error(t, err, "no wait-forever health gate")

	noConfirm := deps
	noConfirm.Confirmer = nil
	_, err = NewOrchestrator(noConfirm, good)
	assert.Error(t, err)

	good.AutoConfirm = true
	_, err = NewOrchestrator(noConfirm, good)
	assert.NoError(t, err)

	noRegistry := deps
	noRegistry.Registry = nil
	_, err = NewOrchestrator(noRegistry, good)
	assert.Error(t, err)
}
