/*
Package runtime drives the two application environments.

Controller is the contract the orchestrator uses for everything that touches
containers: build, start, stop, is-running and exec. The orchestrator never
inspects containers itself.

# Compose

ComposeRuntime implements Controller with docker compose. Each environment is
its own compose project, which gives it separate containers, networks and
volumes so blue and green can run side by side:

	docker compose -p shop-blue  -f docker-compose.yml up -d --remove-orphans
	docker compose -p shop-green -f docker-compose.yml up -d --remove-orphans

Construction fails when both environments share a project name.

# Commands

Runner abstracts process execution. CommandRunner runs a command bound to a
context, captures stdout and stderr and reports a non-zero exit as a
*CommandError carrying the exit code and the tail of stderr. The traffic
switch uses the same Runner for the proxy's test and reload commands, and
tests substitute fakes.

Package runtimetest provides an in-memory Controller.
*/
package runtime
