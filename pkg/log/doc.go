/*
Package log provides structured logging for bgctl using zerolog.

A single package-level Logger is configured once by Init and shared by every
component. Components derive child loggers that carry their context as
fields:

	logger := log.WithComponent("traffic-switch")
	logger.Info().Str("target", "green").Msg("Switching traffic")

	attemptLog := log.WithAttempt(attempt.ID)
	attemptLog.Error().Err(err).Msg("Operation finished")

# Output

Logs are diagnostics and always go to stderr, leaving stdout for the
operator report printed by the CLI. The console writer with RFC3339
timestamps is the default; JSON output (--log-json or log.json in the
configuration) suits log shippers:

	{"level":"info","component":"health-gate","environment":"green","iterations":3,"time":"2026-01-02T10:04:05Z","message":"all endpoints healthy"}

# Levels

debug, info, warn and error. ParseLevel maps unknown strings to info so a
typo in BGCTL_LOG_LEVEL never silences the tool.

Child loggers copy the global logger when they are created, so Init must
run before components are constructed.
*/
package log
