/*
Package deploy sequences blue/green releases.

An Orchestrator drives the four operator commands against two identical
environments, one serving traffic and one on standby:

	deploy:          resolve -> build -> start -> health -> smoke -> confirm -> switch
	rollback:        resolve -> status -> health -> switch
	switch-traffic:  switch
	status:          read-only

Every operation runs inside a Machine that moves through the release states:

	          ┌──────────────► deploying ──► validating ──► awaiting_confirmation ─┐
	          │                                                                      │
	  idle ───┼──────────────► switching ◄───────────────────────────────────────────┘
	    ▲     │                   ▲  │
	    │     └─► rolling_back ───┘  │
	    └────────────────────────────┘

	  any state ──Fail──► failed (terminal)

# Failure Handling

A failed health or smoke gate never touches traffic and leaves the standby
running for inspection. Errors are wrapped in StepError and mapped to an
outcome with Classify:

	build_failed          build or start of the standby failed
	health_timeout        no polling iteration was fully healthy in time
	smoke_failed          one or more smoke checks failed
	declined              the operator refused the switch
	not_running           rollback target is not running
	switch_failed         the proxy was left on its previous configuration
	partial_switch        the proxy reloaded but the registry was not updated
	registry_unavailable  the active pointer could not be read or written
	cancelled             interrupted by a signal or deadline

Remediation renders the operator-facing follow-up for each outcome.

# Usage

	orch, err := deploy.NewOrchestrator(deploy.Dependencies{
		Registry:   registry,
		Controller: controller,
		Gate:       health.NewGate(4),
		Endpoints:  endpoints,
		Smoke:      smoke.NewRunner(battery, 30*time.Second),
		Switcher:   switcher,
		Confirmer:  confirmer,
		Broker:     broker,
	}, deploy.Options{HealthTimeout: 2 * time.Minute, HealthInterval: 5 * time.Second, Build: true})
	if err != nil {
		return err
	}

	attempt, err := orch.Deploy(ctx)
	if err != nil {
		fmt.Println(deploy.Remediation(attempt))
	}

Status reports drift between the registry and the proxy configuration, the
visible trace of a partial switch.
*/
package deploy
