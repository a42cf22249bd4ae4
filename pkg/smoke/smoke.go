package smoke

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/bgctl/pkg/health"
	"github.com/cuemby/bgctl/pkg/log"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultCheckTimeout bounds a single smoke check
const DefaultCheckTimeout = 30 * time.Second

// Check is one named functional check
type Check struct {
	Name    string
	Checker health.Checker
}

// BatteryFunc builds the ordered check list for an environment
type BatteryFunc func(env types.Environment) ([]Check, error)

// Runner executes a fixed, ordered battery of functional checks. Every check
// runs even after an earlier failure so the report is complete.
type Runner struct {
	battery      BatteryFunc
	checkTimeout time.Duration
	logger       zerolog.Logger

	// OnResult, when set, receives each result as soon as it is known
	OnResult func(ctx context.Context, env types.Environment, result types.CheckResult)
}

// NewRunner creates a smoke test runner
func NewRunner(battery BatteryFunc, checkTimeout time.Duration) *Runner {
	if checkTimeout <= 0 {
		checkTimeout = DefaultCheckTimeout
	}
	return &Runner{
		battery:      battery,
		checkTimeout: checkTimeout,
		logger:       log.WithComponent("smoke"),
	}
}

// Run executes the battery against env. The error is non-nil only when the
// battery cannot be built or ctx is cancelled; failing checks are reported
// in the outcome.
func (r *Runner) Run(ctx context.Context, env types.Environment) (types.SmokeOutcome, error) {
	checks, err := r.battery(env)
	if err != nil {
		return types.SmokeOutcome{}, fmt.Errorf("failed to build smoke battery for %s: %w", env, err)
	}
	if len(checks) == 0 {
		return types.SmokeOutcome{}, errors.New("smoke battery is empty")
	}

	logger := r.logger.With().Str("environment", string(env)).Logger()
	outcome := types.SmokeOutcome{Passed: true}

	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return outcome, fmt.Errorf("smoke tests interrupted: %w", err)
		}

		result := r.runCheck(ctx, check)
		outcome.Results = append(outcome.Results, result)
		if !result.Passed {
			outcome.Passed = false
		}

		event := logger.Info()
		if !result.Passed {
			event = logger.Warn()
		}
		event.Str("check", result.Name).
			Bool("passed", result.Passed).
			Dur("duration", result.Duration).
			Msg(result.Message)

		if r.OnResult != nil {
			r.OnResult(ctx, env, result)
		}
	}

	return outcome, nil
}

func (r *Runner) runCheck(ctx context.Context, check Check) types.CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, r.checkTimeout)
	defer cancel()

	res := check.Checker.Check(checkCtx)
	return types.CheckResult{
		Name:     check.Name,
		Passed:   res.Healthy,
		Message:  res.Message,
		Duration: res.Duration,
	}
}
