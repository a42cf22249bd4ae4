package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/bgctl/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds bgctl's collectors. It is private so the textfile only
// carries bgctl series, without Go runtime metrics of a short-lived process.
var Registry = prometheus.NewRegistry()

var (
	// Operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgctl_operations_total",
			Help: "Total number of bgctl operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgctl_operation_duration_seconds",
			Help:    "Operation duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"operation"},
	)

	// Gate metrics
	HealthGateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgctl_health_gate_duration_seconds",
			Help:    "Time until the health gate passed or timed out",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"environment", "result"},
	)

	SmokeCheckFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgctl_smoke_check_failures_total",
			Help: "Total number of failed smoke checks by check name",
		},
		[]string{"check"},
	)

	// Switch metrics
	TrafficSwitchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgctl_traffic_switches_total",
			Help: "Total number of traffic switches by target and result",
		},
		[]string{"target", "result"},
	)

	TrafficSwitchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgctl_traffic_switch_duration_seconds",
			Help:    "Time from rendering the proxy configuration to recording the new active environment",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"result"},
	)

	ActiveEnvironment = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgctl_active_environment",
			Help: "Environment receiving production traffic (1 = active, 0 = standby)",
		},
		[]string{"environment"},
	)

	LastOperationTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bgctl_last_operation_timestamp_seconds",
			Help: "Unix time the last operation finished",
		},
	)
)

func init() {
	Registry.MustRegister(OperationsTotal)
	Registry.MustRegister(OperationDuration)
	Registry.MustRegister(HealthGateDuration)
	Registry.MustRegister(SmokeCheckFailures)
	Registry.MustRegister(TrafficSwitchesTotal)
	Registry.MustRegister(TrafficSwitchDuration)
	Registry.MustRegister(ActiveEnvironment)
	Registry.MustRegister(LastOperationTimestamp)
}

// RecordOperation records a finished deployment attempt
func RecordOperation(attempt *types.DeploymentAttempt) {
	OperationsTotal.WithLabelValues(string(attempt.Operation), string(attempt.Outcome)).Inc()
	OperationDuration.WithLabelValues(string(attempt.Operation)).Observe(attempt.Duration().Seconds())
	LastOperationTimestamp.Set(float64(attempt.FinishedAt.Unix()))
}

// RecordHealthGate records how long a health gate ran
func RecordHealthGate(env types.Environment, outcome types.HealthOutcome) {
	result := "healthy"
	if !outcome.Healthy {
		result = "timeout"
	}
	HealthGateDuration.WithLabelValues(string(env), result).Observe(outcome.Elapsed.Seconds())
}

// RecordSmoke counts each failed check of a smoke run
func RecordSmoke(outcome types.SmokeOutcome) {
	for _, name := range outcome.FailedChecks() {
		SmokeCheckFailures.WithLabelValues(name).Inc()
	}
}

// RecordSwitch counts a traffic switch attempt; result is success, failed or partial
func RecordSwitch(target types.Environment, result string) {
	TrafficSwitchesTotal.WithLabelValues(string(target), result).Inc()
}

// SetActive marks env as the active environment
func SetActive(env types.Environment) {
	for _, e := range types.Environments() {
		v := 0.0
		if e == env {
			v = 1
		}
		ActiveEnvironment.WithLabelValues(string(e)).Set(v)
	}
}

// WriteTextfile writes the registry in the node_exporter textfile format.
// The file is replaced atomically.
func WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create textfile directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer measures an operation for a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in histogram
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in histogramVec under labels
func (t *Timer) ObserveDurationVec(histogramVec *prometheus.HistogramVec, labels ...string) {
	t.ObserveDuration(histogramVec.WithLabelValues(labels...))
}
