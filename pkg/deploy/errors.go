package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/bgctl/pkg/ingress"
	"github.com/cuemby/bgctl/pkg/storage"
	"github.com/cuemby/bgctl/pkg/types"
)

var (
	ErrBuildFailure         = errors.New("build failed")
	ErrHealthTimeout        = errors.New("health gate timed out")
	ErrSmokeTestFailure     = errors.New("smoke tests failed")
	ErrNotRunning           = errors.New("environment is not running")
	ErrConfirmationDeclined = errors.New("traffic switch declined by operator")
	ErrInvalidTransition    = errors.New("invalid state transition")

	// Re-exported so callers can classify every outcome from this package
	ErrSwitchFailure       = ingress.ErrSwitchFailure
	ErrPartialSwitch       = ingress.ErrPartialSwitch
	ErrRegistryUnavailable = storage.ErrRegistryUnavailable
)

// Step names a step of an operation
type Step string

const (
	StepResolve Step = "resolve"
	StepBuild   Step = "build"
	StepStart   Step = "start"
	StepStatus  Step = "status"
	StepHealth  Step = "health"
	StepSmoke   Step = "smoke"
	StepConfirm Step = "confirm"
	StepSwitch  Step = "switch"
	StepRecord  Step = "record"
)

// StepError reports which step of an operation failed and against which environment
type StepError struct {
	Step Step
	Env  types.Environment
	Err  error
}

func (e *StepError) Error() string {
	if e.Env == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Step, e.Env, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// HealthTimeoutError is returned when no polling iteration was fully healthy
type HealthTimeoutError struct {
	Env       types.Environment
	Elapsed   time.Duration
	Timeout   time.Duration
	Unhealthy []string
}

func (e *HealthTimeoutError) Error() string {
	msg := fmt.Sprintf("%v: %s not healthy after %s (timeout %s)", ErrHealthTimeout, e.Env, e.Elapsed.Round(time.Millisecond), e.Timeout)
	if len(e.Unhealthy) > 0 {
		msg += "; unhealthy endpoints: " + strings.Join(e.Unhealthy, ", ")
	}
	return msg
}

func (e *HealthTimeoutError) Is(target error) bool {
	return target == ErrHealthTimeout
}

// SmokeFailure lists the smoke checks that failed
type SmokeFailure struct {
	Env     types.Environment
	Failed  []string
	Results []types.CheckResult
}

func (e *SmokeFailure) Error() string {
	var parts []string
	for _, r := range e.Results {
		if !r.Passed {
			parts = append(parts, fmt.Sprintf("%s (%s)", r.Name, r.Message))
		}
	}
	if len(parts) == 0 {
		parts = e.Failed
	}
	return fmt.Sprintf("%v on %s: %s", ErrSmokeTestFailure, e.Env, strings.Join(parts, ", "))
}

func (e *SmokeFailure) Is(target error) bool {
	return target == ErrSmokeTestFailure
}

// Classify maps an operation error to its outcome
func Classify(err error) types.Outcome {
	switch {
	case err == nil:
		return types.OutcomeSucceeded
	case errors.Is(err, ErrPartialSwitch):
		return types.OutcomePartialSwitch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.OutcomeCancelled
	case errors.Is(err, ErrRegistryUnavailable):
		return types.OutcomeRegistryFailed
	case errors.Is(err, ErrBuildFailure):
		return types.OutcomeBuildFailed
	case errors.Is(err, ErrHealthTimeout):
		return types.OutcomeHealthTimeout
	case errors.Is(err, ErrSmokeTestFailure):
		return types.OutcomeSmokeFailed
	case errors.Is(err, ErrConfirmationDeclined):
		return types.OutcomeDeclined
	case errors.Is(err, ErrNotRunning):
		return types.OutcomeNotRunning
	}
	return types.OutcomeSwitchFailed
}
