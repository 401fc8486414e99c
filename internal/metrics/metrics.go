// Package metrics exposes Prometheus instruments for rule runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Batch metrics
var (
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_items_total",
			Help: "Messages processed by rule runs, by outcome",
		},
		[]string{"mode", "status", "reason"},
	)

	ItemTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_item_timeouts_total",
			Help: "Messages abandoned after the per-item timeout",
		},
		[]string{"mode"},
	)

	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_assignments_total",
			Help: "Assignment attempts, by result",
		},
		[]string{"result"},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_batch_duration_seconds",
			Help:    "Wall time of one rule application batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	AuditFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_audit_failures_total",
			Help: "Audit entries dropped because the sink failed",
		},
	)
)

// Sweep metrics
var (
	SweepRulesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_sweep_rules_total",
			Help: "Rules visited by the multi-rule runner",
		},
		[]string{"family"},
	)

	SweepTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_sweep_truncated_total",
			Help: "Sweeps stopped early by the global budget",
		},
	)

	SweepLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_sweep_last_run_timestamp_seconds",
			Help: "Unix time of the last completed sweep",
		},
	)
)

// Mode labels a run as a dry run or a real apply.
func Mode(dryRun bool) string {
	if dryRun {
		return "preview"
	}
	return "apply"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
