package smoke

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cuemby/bgctl/pkg/health"
	"github.com/cuemby/bgctl/pkg/runtime"
	"github.com/cuemby/bgctl/pkg/types"
)

// CheckKind selects how a smoke check is performed
type CheckKind string

const (
	KindHTTP  CheckKind = "http"
	KindTCP   CheckKind = "tcp"
	KindExec  CheckKind = "exec"
	KindProxy CheckKind = "proxy"
)

// CheckSpec is the configured form of a smoke check
type CheckSpec struct {
	Name string    `yaml:"name"`
	Type CheckKind `yaml:"type"`

	// Service is the base URL key (http) or compose service (exec)
	Service string `yaml:"service,omitempty"`
	Path    string `yaml:"path,omitempty"`

	// ExpectPayload requires a health document on http checks
	ExpectPayload string `yaml:"expect_payload,omitempty"`

	// Addresses maps environment name to host:port (tcp)
	Addresses map[string]string `yaml:"addresses,omitempty"`

	Command []string `yaml:"command,omitempty"`
	Expect  string   `yaml:"expect,omitempty"`
}

// DefaultChecks is the battery used when none is configured: API
// reachability, datastore and cache connectivity, and proxy route sanity.
func DefaultChecks() []CheckSpec {
	return []CheckSpec{
		{Name: "api", Type: KindHTTP, Service: "backend", Path: "/api/"},
		{Name: "database", Type: KindExec, Service: "backend", Command: []string{"python", "manage.py", "check", "--database", "default"}},
		{Name: "cache", Type: KindExec, Service: "redis", Command: []string{"redis-cli", "ping"}, Expect: "PONG"},
		{Name: "routes", Type: KindProxy},
	}
}

// Validate checks a spec without resolving it against an environment
func (s CheckSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("smoke check has no name")
	}
	switch s.Type {
	case KindHTTP:
		if s.Service == "" {
			return fmt.Errorf("smoke check %q: http checks need a service", s.Name)
		}
	case KindTCP:
		for _, env := range types.Environments() {
			if s.Addresses[string(env)] == "" {
				return fmt.Errorf("smoke check %q: tcp checks need an address for %s", s.Name, env)
			}
		}
	case KindExec:
		if s.Service == "" || len(s.Command) == 0 {
			return fmt.Errorf("smoke check %q: exec checks need a service and a command", s.Name)
		}
	case KindProxy:
	default:
		return fmt.Errorf("smoke check %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}

// Dependencies resolves environment-specific parts of a check
type Dependencies struct {
	Controller runtime.Controller

	// ServiceURL returns the base URL of service in env
	ServiceURL func(env types.Environment, service string) (string, error)

	// Routes returns the proxy route sanity checker for env
	Routes func(env types.Environment) health.Checker
}

// NewBattery turns specs into a BatteryFunc
func NewBattery(specs []CheckSpec, deps Dependencies) BatteryFunc {
	return func(env types.Environment) ([]Check, error) {
		checks := make([]Check, 0, len(specs))
		for _, spec := range specs {
			checker, err := spec.build(env, deps)
			if err != nil {
				return nil, err
			}
			checks = append(checks, Check{Name: spec.Name, Checker: checker})
		}
		return checks, nil
	}
}

func (s CheckSpec) build(env types.Environment, deps Dependencies) (health.Checker, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	switch s.Type {
	case KindHTTP:
		if deps.ServiceURL == nil {
			return nil, fmt.Errorf("smoke check %q: no service resolver", s.Name)
		}
		base, err := deps.ServiceURL(env, s.Service)
		if err != nil {
			return nil, fmt.Errorf("smoke check %q: %w", s.Name, err)
		}
		target, err := joinURL(base, s.Path)
		if err != nil {
			return nil, fmt.Errorf("smoke check %q: %w", s.Name, err)
		}
		return health.NewHTTPChecker(target).WithExpectedPayload(s.ExpectPayload), nil

	case KindTCP:
		return health.NewTCPChecker(s.Addresses[string(env)]), nil

	case KindExec:
		if deps.Controller == nil {
			return nil, fmt.Errorf("smoke check %q: no environment controller", s.Name)
		}
		return health.NewExecChecker(deps.Controller, env, s.Service, s.Command).WithExpect(s.Expect), nil

	case KindProxy:
		if deps.Routes == nil {
			return nil, fmt.Errorf("smoke check %q: no proxy route checker", s.Name)
		}
		return deps.Routes(env), nil
	}

	return nil, fmt.Errorf("smoke check %q: unknown type %q", s.Name, s.Type)
}

func joinURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", base)
	}
	if path == "" {
		return u.String(), nil
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String(), nil
}
