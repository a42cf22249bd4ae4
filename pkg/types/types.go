package types

import (
	"fmt"
	"strings"
	"time"
)

// Environment names one of the two fixed release environments
type Environment string

const (
	Blue  Environment = "blue"
	Green Environment = "green"
)

// DefaultActive is the active environment assumed when no pointer has been recorded yet
const DefaultActive = Blue

// Environments returns both environments in a stable order
func Environments() []Environment {
	return []Environment{Blue, Green}
}

// Valid reports whether e is blue or green
func (e Environment) Valid() bool {
	return e == Blue || e == Green
}

// Other returns the opposite environment. It panics on an invalid
// environment since callers must validate first.
func (e Environment) Other() Environment {
	switch e {
	case Blue:
		return Green
	case Green:
		return Blue
	}
	panic(fmt.Sprintf("invalid environment %q", string(e)))
}

func (e Environment) String() string {
	return string(e)
}

// ParseEnvironment validates and normalizes an environment name
func ParseEnvironment(s string) (Environment, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(s)))
	if !env.Valid() {
		return "", fmt.Errorf("invalid environment %q (must be %q or %q)", s, Blue, Green)
	}
	return env, nil
}

// Pointer is a resolved view of the Active Pointer
type Pointer struct {
	Active  Environment
	Standby Environment
}

// NewPointer builds a Pointer from the active environment
func NewPointer(active Environment) Pointer {
	return Pointer{Active: active, Standby: active.Other()}
}

// EnvironmentStatus describes the runtime state of one environment
type EnvironmentStatus struct {
	Name    Environment `json:"name"`
	Project string      `json:"project"`
	Running bool        `json:"running"`
	Error   string      `json:"error,omitempty"`
}

// HealthReport is the transient result of polling one endpoint once
type HealthReport struct {
	Environment Environment
	Endpoint    string
	Healthy     bool
	Message     string
	Timestamp   time.Time
}

// HealthOutcome is the result of a Health Gate run
type HealthOutcome struct {
	Healthy    bool
	Elapsed    time.Duration
	Iterations int
	// Last holds the reports of the final polling iteration
	Last []HealthReport
}

// Unhealthy returns the endpoints that failed in the final iteration
func (o HealthOutcome) Unhealthy() []string {
	var names []string
	for _, r := range o.Last {
		if !r.Healthy {
			names = append(names, r.Endpoint)
		}
	}
	return names
}

// CheckResult is the result of one smoke check
type CheckResult struct {
	Name     string
	Passed   bool
	Message  string
	Duration time.Duration
}

// SmokeOutcome is the result of a complete smoke test battery
type SmokeOutcome struct {
	Passed  bool
	Results []CheckResult
}

// FailedChecks returns the names of failed checks in execution order
func (o SmokeOutcome) FailedChecks() []string {
	var names []string
	for _, r := range o.Results {
		if !r.Passed {
			names = append(names, r.Name)
		}
	}
	return names
}

// Operation names an orchestrator entry point
type Operation string

const (
	OperationDeploy        Operation = "deploy"
	OperationRollback      Operation = "rollback"
	OperationSwitchTraffic Operation = "switch-traffic"
	OperationStatus        Operation = "status"
)

// Outcome is the final disposition of an attempt
type Outcome string

const (
	OutcomePending        Outcome = "pending"
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomeBuildFailed    Outcome = "build_failed"
	OutcomeHealthTimeout  Outcome = "health_timeout"
	OutcomeSmokeFailed    Outcome = "smoke_failed"
	OutcomeDeclined       Outcome = "declined"
	OutcomeNotRunning     Outcome = "not_running"
	OutcomeSwitchFailed   Outcome = "switch_failed"
	OutcomePartialSwitch  Outcome = "partial_switch"
	OutcomeRegistryFailed Outcome = "registry_unavailable"
	OutcomeCancelled      Outcome = "cancelled"
)

// DeploymentAttempt records one invocation for reporting and exit code
// determination. It is never persisted.
type DeploymentAttempt struct {
	ID         string
	Operation  Operation
	Target     Environment
	Previous   Environment
	StartedAt  time.Time
	FinishedAt time.Time
	Health     *HealthOutcome
	Smoke      *SmokeOutcome
	Outcome    Outcome
	Err        error
}

// Duration returns how long the attempt ran
func (a *DeploymentAttempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return time.Since(a.StartedAt)
	}
	return a.FinishedAt.Sub(a.StartedAt)
}
