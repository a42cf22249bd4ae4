package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/bgctl/pkg/ingress"
	"github.com/cuemby/bgctl/pkg/runtime"
	"github.com/cuemby/bgctl/pkg/smoke"
	"github.com/cuemby/bgctl/pkg/storage"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where bgctl looks for its configuration
const DefaultPath = "/etc/bgctl/bgctl.yaml"

// EnvPrefix prefixes every environment override, e.g. BGCTL_HEALTH_TIMEOUT
const EnvPrefix = "bgctl"

type Config struct {
	// App names the application; environment projects default to <app>-blue and <app>-green
	App string `yaml:"app"`

	Log          Log                    `yaml:"log"`
	Registry     Registry               `yaml:"registry"`
	Environments map[string]Environment `yaml:"environments"`
	Compose      Compose                `yaml:"compose"`
	Health       Health                 `yaml:"health"`
	Smoke        []smoke.CheckSpec      `yaml:"smoke"`
	Proxy        Proxy                  `yaml:"proxy"`
	Deploy       Deploy                 `yaml:"deploy"`
	Metrics      Metrics                `yaml:"metrics"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Registry struct {
	Path        string        `yaml:"path"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// Environment describes one of the two deployment slots
type Environment struct {
	// Project is the compose project name isolating the environment
	Project string `yaml:"project"`

	// Endpoints maps endpoint name to the health URL polled by the health gate
	Endpoints map[string]string `yaml:"endpoints"`

	// Services maps service name to its base URL for smoke checks
	Services map[string]string `yaml:"services"`

	// Upstreams maps proxy upstream name to host:port
	Upstreams map[string]string `yaml:"upstreams"`
}

type Compose struct {
	Binary  string   `yaml:"binary"`
	Files   []string `yaml:"files"`
	EnvFile string   `yaml:"env_file"`
	Workdir string   `yaml:"workdir"`
}

type Health struct {
	Timeout        time.Duration `yaml:"timeout"`
	Interval       time.Duration `yaml:"interval"`
	Concurrency    int           `yaml:"concurrency"`
	ExpectedStatus string        `yaml:"expected_status"`
	SmokeTimeout   time.Duration `yaml:"smoke_timeout"`
}

type Proxy struct {
	ConfigPath    string        `yaml:"config_path"`
	Template      string        `yaml:"template"`
	ReloadCommand []string      `yaml:"reload_command"`
	TestCommand   []string      `yaml:"test_command"`
	ReloadTimeout time.Duration `yaml:"reload_timeout"`
}

type Deploy struct {
	AutoConfirm bool `yaml:"auto_confirm"`
	Build       bool `yaml:"build"`
}

type Metrics struct {
	Textfile string `yaml:"textfile"`
}

// Overrides are read from BGCTL_* environment variables and win over the file
type Overrides struct {
	RegistryPath    string        `envconfig:"REGISTRY_PATH"`
	LockTimeout     time.Duration `envconfig:"LOCK_TIMEOUT"`
	HealthTimeout   time.Duration `envconfig:"HEALTH_TIMEOUT"`
	HealthInterval  time.Duration `envconfig:"HEALTH_INTERVAL"`
	ReloadTimeout   time.Duration `envconfig:"RELOAD_TIMEOUT"`
	AutoConfirm     string        `envconfig:"AUTO_CONFIRM"`
	LogLevel        string        `envconfig:"LOG_LEVEL"`
	LogJSON         string        `envconfig:"LOG_JSON"`
	MetricsTextfile string        `envconfig:"METRICS_TEXTFILE"`
}

// Default returns a configuration with every default filled in
func Default() *Config {
	return &Config{
		App: "app",
		Log: Log{Level: "info"},
		Registry: Registry{
			Path:        "/var/lib/bgctl/state.db",
			LockTimeout: storage.DefaultLockTimeout,
		},
		Environments: map[string]Environment{},
		Compose:      Compose{Binary: "docker"},
		Health: Health{
			Timeout:        120 * time.Second,
			Interval:       5 * time.Second,
			Concurrency:    4,
			ExpectedStatus: "healthy",
			SmokeTimeout:   smoke.DefaultCheckTimeout,
		},
		Proxy: Proxy{
			ConfigPath:    "/etc/nginx/conf.d/bgctl-upstreams.conf",
			ReloadCommand: []string{"nginx", "-s", "reload"},
			TestCommand:   []string{"nginx", "-t"},
			ReloadTimeout: ingress.DefaultReloadTimeout,
		},
		Deploy: Deploy{Build: true},
	}
}

// Load reads the configuration file at path, applies BGCTL_* overrides and
// validates the result
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.fillDerived()
	return cfg, nil
}

// ApplyEnv applies BGCTL_* overrides
func (c *Config) ApplyEnv() error {
	var o Overrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}

	if o.RegistryPath != "" {
		c.Registry.Path = o.RegistryPath
	}
	if o.LockTimeout != 0 {
		c.Registry.LockTimeout = o.LockTimeout
	}
	if o.HealthTimeout != 0 {
		c.Health.Timeout = o.HealthTimeout
	}
	if o.HealthInterval != 0 {
		c.Health.Interval = o.HealthInterval
	}
	if o.ReloadTimeout != 0 {
		c.Proxy.ReloadTimeout = o.ReloadTimeout
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.MetricsTextfile != "" {
		c.Metrics.Textfile = o.MetricsTextfile
	}
	if o.AutoConfirm != "" {
		v, err := strconv.ParseBool(o.AutoConfirm)
		if err != nil {
			return fmt.Errorf("invalid BGCTL_AUTO_CONFIRM %q: %w", o.AutoConfirm, err)
		}
		c.Deploy.AutoConfirm = v
	}
	if o.LogJSON != "" {
		v, err := strconv.ParseBool(o.LogJSON)
		if err != nil {
			return fmt.Errorf("invalid BGCTL_LOG_JSON %q: %w", o.LogJSON, err)
		}
		c.Log.JSON = v
	}
	return nil
}

func (c *Config) fillDerived() {
	if c.Environments == nil {
		c.Environments = map[string]Environment{}
	}
	for _, env := range types.Environments() {
		e := c.Environments[string(env)]
		if e.Project == "" && c.App != "" {
			e.Project = c.App + "-" + string(env)
		}
		c.Environments[string(env)] = e
	}
}

// Validate rejects configurations that could break the blue/green invariants
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	for name := range c.Environments {
		if _, err := types.ParseEnvironment(name); err != nil {
			add("environments: %v", err)
		}
	}

	blue, green := c.Environments[string(types.Blue)], c.Environments[string(types.Green)]
	if blue.Project == "" || green.Project == "" {
		add("environments: both blue and green need a project")
	} else if blue.Project == green.Project {
		add("environments: blue and green must use different projects, both are %q", blue.Project)
	}

	for _, env := range types.Environments() {
		e := c.Environments[string(env)]
		if len(e.Endpoints) == 0 {
			add("environments.%s.endpoints: at least one health endpoint is required", env)
		}
		for name, raw := range e.Endpoints {
			if err := validateURL(raw); err != nil {
				add("environments.%s.endpoints.%s: %v", env, name, err)
			}
		}
		for name, raw := range e.Services {
			if err := validateURL(raw); err != nil {
				add("environments.%s.services.%s: %v", env, name, err)
			}
		}
		if len(e.Upstreams) == 0 {
			add("environments.%s.upstreams: at least one upstream is required", env)
		}
	}

	if c.Registry.Path == "" {
		add("registry.path is required")
	}
	if c.Registry.LockTimeout <= 0 {
		add("registry.lock_timeout must be positive")
	}
	if c.Health.Timeout <= 0 {
		add("health.timeout must be positive")
	}
	if c.Health.Interval <= 0 {
		add("health.interval must be positive")
	}
	if c.Health.Concurrency <= 0 {
		add("health.concurrency must be positive")
	}
	if c.Health.SmokeTimeout <= 0 {
		add("health.smoke_timeout must be positive")
	}
	if strings.TrimSpace(c.Health.ExpectedStatus) == "" {
		add("health.expected_status is required; a bare HTTP 200 is not a healthy payload")
	}
	if c.Proxy.ConfigPath == "" {
		add("proxy.config_path is required")
	}
	if len(c.Proxy.ReloadCommand) == 0 {
		add("proxy.reload_command is required")
	}
	if c.Proxy.ReloadTimeout <= 0 {
		add("proxy.reload_timeout must be positive")
	}
	for _, check := range c.SmokeChecks() {
		if err := check.Validate(); err != nil {
			add("smoke: %v", err)
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

// Env returns the configuration of env
func (c *Config) Env(env types.Environment) Environment {
	return c.Environments[string(env)]
}

// SmokeChecks returns the configured battery or the default one
func (c *Config) SmokeChecks() []smoke.CheckSpec {
	if len(c.Smoke) == 0 {
		return smoke.DefaultChecks()
	}
	return c.Smoke
}

// ServiceURL resolves a service base URL for smoke checks
func (c *Config) ServiceURL(env types.Environment, service string) (string, error) {
	u, ok := c.Env(env).Services[service]
	if !ok {
		return "", fmt.Errorf("service %q has no URL in environments.%s.services", service, env)
	}
	return u, nil
}

// ComposeConfig builds the environment controller configuration
func (c *Config) ComposeConfig() runtime.ComposeConfig {
	projects := make(map[types.Environment]string)
	for _, env := range types.Environments() {
		projects[env] = c.Env(env).Project
	}
	return runtime.ComposeConfig{
		Binary:     c.Compose.Binary,
		Files:      c.Compose.Files,
		EnvFile:    c.Compose.EnvFile,
		WorkingDir: c.Compose.Workdir,
		Projects:   projects,
	}
}

// ProxyConfig builds the traffic switch configuration
func (c *Config) ProxyConfig() ingress.Config {
	upstreams := make(map[types.Environment]map[string]string)
	for _, env := range types.Environments() {
		upstreams[env] = c.Env(env).Upstreams
	}
	return ingress.Config{
		ConfigPath:    c.Proxy.ConfigPath,
		TemplateFile:  c.Proxy.Template,
		TestCommand:   c.Proxy.TestCommand,
		ReloadCommand: c.Proxy.ReloadCommand,
		ReloadTimeout: c.Proxy.ReloadTimeout,
		Upstreams:     upstreams,
	}
}

// String returns the configuration in YAML format
func (c *Config) String() string {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	_ = enc.Encode(c)
	return buf.String()
}
