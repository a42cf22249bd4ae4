package ingress

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/bgctl/pkg/health"
	"github.com/cuemby/bgctl/pkg/types"
)

// RouteChecker verifies that the proxy could route to env: the upstream
// table renders, every upstream accepts TCP connections and the live proxy
// configuration passes its own test.
type RouteChecker struct {
	switcher *Switcher
	env      types.Environment
	dial     time.Duration
}

// RouteChecker returns a health.Checker for the route table of env
func (s *Switcher) RouteChecker(env types.Environment) health.Checker {
	return &RouteChecker{switcher: s, env: env, dial: 3 * time.Second}
}

func (r *RouteChecker) Check(ctx context.Context) health.Result {
	start := time.Now()
	result := func(ok bool, msg string) health.Result {
		return health.Result{Healthy: ok, Message: msg, CheckedAt: start, Duration: time.Since(start)}
	}

	if _, err := r.switcher.Render(r.env); err != nil {
		return result(false, err.Error())
	}

	upstreams := r.switcher.cfg.Upstreams[r.env]
	names := make([]string, 0, len(upstreams))
	for name := range upstreams {
		names = append(names, name)
	}
	sort.Strings(names)

	var unreachable []string
	for _, name := range names {
		res := health.NewTCPChecker(upstreams[name]).WithTimeout(r.dial).Check(ctx)
		if !res.Healthy {
			unreachable = append(unreachable, fmt.Sprintf("%s (%s)", name, upstreams[name]))
		}
	}
	if len(unreachable) > 0 {
		return result(false, "unreachable upstreams: "+strings.Join(unreachable, ", "))
	}

	if err := r.switcher.TestConfig(ctx); err != nil {
		return result(false, fmt.Sprintf("proxy config test failed: %v", err))
	}

	return result(true, fmt.Sprintf("%d upstreams reachable", len(names)))
}

func (r *RouteChecker) Type() health.CheckType {
	return health.CheckTypeTCP
}
