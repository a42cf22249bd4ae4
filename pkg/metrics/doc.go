/*
Package metrics defines the Prometheus collectors bgctl records during an
operation.

bgctl is not a daemon, so nothing is scraped. Collectors live on a private
Registry, and when metrics.textfile is configured the CLI flushes them with
WriteTextfile before exiting. node_exporter's textfile collector picks the
file up from there:

	node_exporter --collector.textfile.directory=/var/lib/node_exporter/textfile

# Metrics

	bgctl_operations_total{operation,outcome}           counter
	bgctl_operation_duration_seconds{operation}         histogram
	bgctl_health_gate_duration_seconds{environment,result} histogram
	bgctl_smoke_check_failures_total{check}             counter
	bgctl_traffic_switches_total{target,result}         counter
	bgctl_traffic_switch_duration_seconds{result}       histogram
	bgctl_active_environment{environment}               gauge (1 = active)
	bgctl_last_operation_timestamp_seconds              gauge

A useful alert is a partial switch that was never reconciled:

	increase(bgctl_traffic_switches_total{result="partial"}[1h]) > 0

# Timing

	timer := metrics.NewTimer()
	err := switcher.SwitchTo(ctx, target)
	timer.ObserveDurationVec(metrics.TrafficSwitchDuration, "success")
*/
package metrics
