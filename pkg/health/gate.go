package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/bgctl/pkg/log"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many endpoints are probed at once per iteration
const DefaultConcurrency = 4

// Endpoint is a named health endpoint inside an environment
type Endpoint struct {
	Name    string
	Checker Checker
}

// Gate polls a set of endpoints until one iteration is fully healthy or the
// timeout elapses. Partial health counts as a failed iteration.
type Gate struct {
	concurrency int

	// OnIteration, when set, receives the reports of every iteration
	OnIteration func(ctx context.Context, iteration int, reports []types.HealthReport)
}

// NewGate creates a gate probing at most concurrency endpoints in parallel
func NewGate(concurrency int) *Gate {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Gate{
		concurrency: concurrency,
	}
}

// WaitHealthy blocks until every endpoint reports healthy in the same
// iteration, or timeout elapses. Timing out is not an error: the outcome
// reports Healthy=false. An error is returned for invalid arguments and when
// ctx itself is cancelled.
func (g *Gate) WaitHealthy(ctx context.Context, env types.Environment, endpoints []Endpoint, timeout, interval time.Duration) (types.HealthOutcome, error) {
	var outcome types.HealthOutcome

	if len(endpoints) == 0 {
		return outcome, errors.New("no health endpoints configured")
	}
	if timeout <= 0 {
		return outcome, fmt.Errorf("health timeout must be positive, got %v", timeout)
	}
	if interval <= 0 {
		return outcome, fmt.Errorf("health poll interval must be positive, got %v", interval)
	}

	logger := log.WithEnvironment(string(env)).With().Str("component", "health-gate").Logger()
	start := time.Now()

	gateCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The ticker fires immediately, then once per interval; it closes its
	// channel when gateCtx is done.
	ticker := backoff.NewTicker(backoff.WithContext(backoff.NewConstantBackOff(interval), gateCtx))
	defer ticker.Stop()

	for {
		select {
		case <-gateCtx.Done():
			return g.finish(ctx, outcome, start, logger)
		case _, ok := <-ticker.C:
			if !ok {
				return g.finish(ctx, outcome, start, logger)
			}
		}

		reports := g.poll(gateCtx, env, endpoints, interval)
		outcome.Iterations++
		outcome.Last = reports

		if g.OnIteration != nil {
			g.OnIteration(ctx, outcome.Iterations, reports)
		}

		if allHealthy(reports) {
			outcome.Healthy = true
			outcome.Elapsed = time.Since(start)
			logger.Info().
				Int("iterations", outcome.Iterations).
				Dur("elapsed", outcome.Elapsed).
				Msg("all endpoints healthy")
			return outcome, nil
		}

		logger.Debug().
			Int("iteration", outcome.Iterations).
			Strs("unhealthy", outcome.Unhealthy()).
			Msg("environment not healthy yet")
	}
}

func (g *Gate) finish(ctx context.Context, outcome types.HealthOutcome, start time.Time, logger zerolog.Logger) (types.HealthOutcome, error) {
	outcome.Elapsed = time.Since(start)
	if err := ctx.Err(); err != nil {
		return outcome, fmt.Errorf("health gate interrupted: %w", err)
	}
	logger.Warn().
		Int("iterations", outcome.Iterations).
		Dur("elapsed", outcome.Elapsed).
		Strs("unhealthy", outcome.Unhealthy()).
		Msg("health gate timed out")
	return outcome, nil
}

// poll probes every endpoint once. Probes run on a bounded pool and share a
// deadline of one interval so an iteration costs about the slowest endpoint.
func (g *Gate) poll(ctx context.Context, env types.Environment, endpoints []Endpoint, interval time.Duration) []types.HealthReport {
	iterCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	reports := make([]types.HealthReport, len(endpoints))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, ep := range endpoints {
		eg.Go(func() error {
			res := ep.Checker.Check(iterCtx)
			reports[i] = types.HealthReport{
				Environment: env,
				Endpoint:    ep.Name,
				Healthy:     res.Healthy,
				Message:     res.Message,
				Timestamp:   res.CheckedAt,
			}
			return nil
		})
	}
	_ = eg.Wait()

	return reports
}

func allHealthy(reports []types.HealthReport) bool {
	for _, r := range reports {
		if !r.Healthy {
			return false
		}
	}
	return len(reports) > 0
}
