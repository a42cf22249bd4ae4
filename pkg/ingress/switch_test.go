package ingress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/bgctl/pkg/runtime"
	"github.com/cuemby/bgctl/pkg/storage"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// proxyRunner stands in for nginx: it records commands and fails on demand
type proxyRunner struct {
	mu       sync.Mutex
	commands []string
	testErr  error
	reloadFn func(ctx context.Context) error
}

func (p *proxyRunner) Run(ctx context.Context, name string, args []string, opts runtime.RunOptions) (*runtime.ExecResult, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	p.mu.Lock()
	p.commands = append(p.commands, line)
	testErr, reloadFn := p.testErr, p.reloadFn
	p.mu.Unlock()

	switch line {
	case "nginx -t":
		if testErr != nil {
			return &runtime.ExecResult{ExitCode: 1, Stderr: testErr.Error()}, testErr
		}
	case "nginx -s reload":
		if reloadFn != nil {
			if err := reloadFn(ctx); err != nil {
				return &runtime.ExecResult{ExitCode: -1}, err
			}
		}
	}
	return &runtime.ExecResult{}, nil
}

func (p *proxyRunner) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		ConfigPath:    filepath.Join(t.TempDir(), "upstreams.conf"),
		TestCommand:   []string{"nginx", "-t"},
		ReloadCommand: []string{"nginx", "-s", "reload"},
		ReloadTimeout: time.Second,
		Upstreams: map[types.Environment]map[string]string{
			types.Blue:  {"backend": "127.0.0.1:8001", "frontend": "127.0.0.1:3001"},
			types.Green: {"backend": "127.0.0.1:8002", "frontend": "127.0.0.1:3002"},
		},
	}
}

func newTestSwitcher(t *testing.T, active types.Environment) (*Switcher, *storage.MemoryRegistry, *proxyRunner) {
	t.Helper()
	registry := storage.NewMemoryRegistry(active)
	runner := &proxyRunner{}
	s, err := NewSwitcher(testConfig(t), registry, runner)
	require.NoError(t, err)
	return s, registry, runner
}

func TestRenderDefaultTemplate(t *testing.T) {
	s, _, _ := newTestSwitcher(t, types.Blue)

	out, err := s.Render(types.Green)
	require.NoError(t, err)

	text := string(out)
	assert.True(t, strings.HasPrefix(text, "# bgctl: active=green\n"))
	assert.Contains(t, text, "upstream backend {\n    server 127.0.0.1:8002;")
	assert.Contains(t, text, "upstream frontend {\n    server 127.0.0.1:3002;")
	assert.Contains(t, text, "keepalive 32;")
	assert.NotContains(t, text, "8001")
	assert.Less(t, strings.Index(text, "backend"), strings.Index(text, "frontend"), "upstreams are rendered in name order")

	_, err = s.Render("purple")
	assert.Error(t, err)
}

func TestRenderCustomTemplate(t *testing.T) {
	cfg := testConfig(t)
	cfg.TemplateFile = filepath.Join(t.TempDir(), "upstreams.tmpl")
	tmpl := `# standby is {{ .Standby | upper }}
{{- range $name, $addr := .Upstreams }}
set ${{ $name }}_upstream {{ $addr | quote }};
{{- end }}
`
	require.NoError(t, os.WriteFile(cfg.TemplateFile, []byte(tmpl), 0644))

	s, err := NewSwitcher(cfg, storage.NewMemoryRegistry(types.Blue), &proxyRunner{})
	require.NoError(t, err)

	out, err := s.Render(types.Blue)
	require.NoError(t, err)
	assert.Contains(t, string(out), "# bgctl: active=blue")
	assert.Contains(t, string(out), "# standby is GREEN")
	assert.Contains(t, string(out), `set $backend_upstream "127.0.0.1:8001";`)
}

func TestNewSwitcherValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no config path", mutate: func(c *Config) { c.ConfigPath = "" }},
		{name: "no reload command", mutate: func(c *Config) { c.ReloadCommand = nil }},
		{name: "negative timeout", mutate: func(c *Config) { c.ReloadTimeout = -time.Second }},
		{name: "missing green upstreams", mutate: func(c *Config) { delete(c.Upstreams, types.Green) }},
		{name: "bad template", mutate: func(c *Config) {
			c.TemplateFile = filepath.Join(filepath.Dir(c.ConfigPath), "bad.tmpl")
			_ = os.WriteFile(c.TemplateFile, []byte("{{ .Nope "), 0644)
		}},
		{name: "missing template", mutate: func(c *Config) { c.TemplateFile = "/nonexistent/upstreams.tmpl" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			_, err := NewSwitcher(cfg, storage.NewMemoryRegistry(types.Blue), &proxyRunner{})
			assert.Error(t, err)
		})
	}
}

func TestSwitchToSuccess(t *testing.T) {
	s, registry, runner := newTestSwitcher(t, types.Blue)

	var stages []Stage
	s.OnStage = func(_ context.Context, stage Stage, target types.Environment, err error) {
		assert.NoError(t, err)
		stages = append(stages, stage)
	}

	require.NoError(t, s.SwitchTo(context.Background(), types.Green))

	assert.Equal(t, types.Green, registry.Peek())
	assert.Equal(t, []string{"nginx -t", "nginx -s reload"}, runner.Commands())
	assert.Equal(t, []Stage{StageRender, StageApply, StageTest, StageReload, StageRecord}, stages)

	target, err := s.CurrentTarget()
	require.NoError(t, err)
	assert.Equal(t, types.Green, target)
}

// TestSwitchToCurrentIsNoop tests that switching to the active environment succeeds without a pointer write
func TestSwitchToCurrentIsNoop(t *testing.T) {
	s, registry, _ := newTestSwitcher(t, types.Blue)

	require.NoError(t, s.SwitchTo(context.Background(), types.Blue))
	assert.Equal(t, types.Blue, registry.Peek())
	assert.Equal(t, 0, registry.Writes())
}

func TestSwitchToConfigTestFailureRestores(t *testing.T) {
	s, registry, runner := newTestSwitcher(t, types.Blue)

	// Live config currently routes to blue
	require.NoError(t, s.SwitchTo(context.Background(), types.Blue))
	before, err := os.ReadFile(s.cfg.ConfigPath)
	require.NoError(t, err)

	runner.testErr = errors.New("nginx: [emerg] host not found in upstream")
	err = s.SwitchTo(context.Background(), types.Green)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSwitchFailure)
	assert.NotErrorIs(t, err, ErrPartialSwitch)

	var switchErr *SwitchError
	require.ErrorAs(t, err, &switchErr)
	assert.Equal(t, StageTest, switchErr.Stage)
	assert.Equal(t, types.Green, switchErr.Target)
	assert.Contains(t, err.Error(), "host not found")

	after, err := os.ReadFile(s.cfg.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "previous config must be restored")
	assert.Equal(t, types.Blue, registry.Peek())
	assert.NotContains(t, runner.Commands()[2:], "nginx -s reload")
}

func TestSwitchToConfigTestFailureRemovesNewFile(t *testing.T) {
	s, _, runner := newTestSwitcher(t, types.Blue)
	runner.testErr = errors.New("invalid")

	err := s.SwitchTo(context.Background(), types.Green)
	require.ErrorIs(t, err, ErrSwitchFailure)

	_, statErr := os.Stat(s.cfg.ConfigPath)
	assert.True(t, os.IsNotExist(statErr))
}

// TestSwitchToReloadFailureIsPartial covers a reload that fails after the mapping was written
func TestSwitchToReloadFailureIsPartial(t *testing.T) {
	s, registry, runner := newTestSwitcher(t, types.Blue)
	runner.reloadFn = func(context.Context) error {
		return errors.New("nginx: [error] invalid PID number")
	}

	err := s.SwitchTo(context.Background(), types.Green)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialSwitch)
	assert.NotErrorIs(t, err, ErrSwitchFailure)
	assert.Equal(t, types.Blue, registry.Peek(), "pointer unchanged until an explicit retry")

	target, err := s.CurrentTarget()
	require.NoError(t, err)
	assert.Equal(t, types.Green, target, "mapping was written")

	// Explicit retry once the proxy is fixed
	runner.reloadFn = nil
	require.NoError(t, s.SwitchTo(context.Background(), types.Green))
	assert.Equal(t, types.Green, registry.Peek())
}

func TestSwitchToReloadTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReloadTimeout = 50 * time.Millisecond
	registry := storage.NewMemoryRegistry(types.Blue)
	runner := &proxyRunner{reloadFn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	s, err := NewSwitcher(cfg, registry, runner)
	require.NoError(t, err)

	start := time.Now()
	err = s.SwitchTo(context.Background(), types.Green)
	require.ErrorIs(t, err, ErrPartialSwitch)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), time.Second, "a hung reload must not wedge the switch")
	assert.Equal(t, types.Blue, registry.Peek())
}

func TestSwitchToRegistryWriteFailure(t *testing.T) {
	s, registry, _ := newTestSwitcher(t, types.Blue)
	registry.WriteErr = errors.New("disk full")

	err := s.SwitchTo(context.Background(), types.Green)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialSwitch)
	assert.ErrorIs(t, err, storage.ErrRegistryUnavailable)

	var switchErr *SwitchError
	require.ErrorAs(t, err, &switchErr)
	assert.Equal(t, StageRecord, switchErr.Stage)

	// Registry-only retry
	registry.WriteErr = nil
	require.NoError(t, s.RecordActive(context.Background(), types.Green))
	assert.Equal(t, types.Green, registry.Peek())
}

func TestSwitchToRegistryUnreadable(t *testing.T) {
	s, registry, runner := newTestSwitcher(t, types.Blue)
	registry.ReadErr = errors.New("corrupt")

	err := s.SwitchTo(context.Background(), types.Green)
	require.ErrorIs(t, err, storage.ErrRegistryUnavailable)
	assert.NotErrorIs(t, err, ErrPartialSwitch)
	assert.Empty(t, runner.Commands(), "proxy must not be touched")

	_, statErr := os.Stat(s.cfg.ConfigPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSwitchToInvalidTarget(t *testing.T) {
	s, registry, _ := newTestSwitcher(t, types.Blue)
	err := s.SwitchTo(context.Background(), "purple")
	assert.ErrorIs(t, err, ErrSwitchFailure)
	assert.Equal(t, types.Blue, registry.Peek())
}

// TestConcurrentSwitches tests that racing operators never interleave a switch
func TestConcurrentSwitches(t *testing.T) {
	registry := storage.NewBoltRegistry(filepath.Join(t.TempDir(), "state.db"), time.Second)
	runner := &proxyRunner{}
	s, err := NewSwitcher(testConfig(t), registry, runner)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, target := range []types.Environment{types.Green, types.Blue} {
		wg.Add(1)
		go func(i int, target types.Environment) {
			defer wg.Done()
			errs[i] = s.SwitchTo(context.Background(), target)
		}(i, target)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	active, err := registry.Active(context.Background())
	require.NoError(t, err)
	proxied, err := s.CurrentTarget()
	require.NoError(t, err)
	assert.Equal(t, active, proxied, "proxy and registry agree after serialized switches")

	// Each switch ran test then reload without interleaving
	cmds := runner.Commands()
	require.Len(t, cmds, 4)
	assert.Equal(t, []string{"nginx -t", "nginx -s reload", "nginx -t", "nginx -s reload"}, cmds)
}

func TestReadMarker(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    types.Environment
		wantErr error
	}{
		{name: "green", content: "# bgctl: active=green\nupstream backend {}\n", want: types.Green},
		{name: "indented", content: "\n   # bgctl: active=blue\n", want: types.Blue},
		{name: "missing", content: "upstream backend {}\n", wantErr: ErrNoMarker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".conf")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			got, err := ReadMarker(path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ReadMarker(filepath.Join(dir, "absent.conf"))
	assert.True(t, os.IsNotExist(err))
}
