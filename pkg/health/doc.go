/*
Package health provides the checkers and the Health Gate that decide whether a
freshly started environment may receive production traffic.

Three checker types implement the Checker interface: HTTP, TCP and Exec. The
Gate polls a set of named endpoints until one iteration is fully healthy or a
timeout elapses.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                        Health Gate                          │
	│  WaitHealthy(ctx, env, endpoints, timeout, interval)        │
	└─────┬───────────────────────────────────────────────────────┘
	      │ backoff ticker (constant interval, bound to timeout)
	      ▼
	┌─────────────────────────────────────────────────────────────┐
	│                 One iteration (errgroup, SetLimit)          │
	│  backend ──┐                                                │
	│  frontend ─┼──► all healthy? ──► yes: return Healthy        │
	│  ai ───────┘                     no:  wait for next tick    │
	└─────────────────────────────────────────────────────────────┘

# Health Payload Contract

An HTTP endpoint is healthy only when it answers 2xx with a JSON document
whose status field equals "healthy" (case-insensitive):

	{"status": "healthy"}

A bare 200, a plain-text body containing the word healthy, or any other status
string ("starting", "degraded") is treated as unhealthy. There is no degraded
state in the gate: an iteration with some endpoints down is simply a failed
iteration.

# Timeouts

WaitHealthy never waits forever. Both timeout and interval must be positive.
Each iteration's probes share a deadline of one interval, so a hung endpoint
costs at most one interval. Running out of time is reported through
HealthOutcome.Healthy=false; cancelling the caller's context is reported as an
error so operator interrupts are distinguishable from an unhealthy environment.

# Exec Checks

ExecChecker runs a command inside a service of the target environment through
the runtime.Controller (docker compose exec), for example a datastore
connectivity check:

	checker := health.NewExecChecker(ctrl, types.Green, "backend",
		[]string{"python", "manage.py", "check", "--database", "default"})

	cache := health.NewExecChecker(ctrl, types.Green, "redis",
		[]string{"redis-cli", "ping"}).WithExpect("PONG")
*/
package health
