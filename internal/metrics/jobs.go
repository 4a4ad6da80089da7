package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsStartedTotal,
		jobsFinishedTotal,
		provisionDuration,
		teardownsTotal,
		jobsReconciledTotal,
	)
}

var (
	jobsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of accepted provisioning jobs.",
		},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that reached a terminal state.",
		},
		[]string{"status"}, // 'completed', 'failed'
	)

	provisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provision_duration_seconds",
			Help:      "Time from job acceptance to a terminal state.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 480, 900},
		},
		[]string{"backend", "status"},
	)

	teardownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardowns_total",
			Help:      "VM teardowns by trigger and outcome.",
		},
		[]string{"reason", "status"}, // reason: 'expired', 'compensation', 'orphaned'
	)

	jobsReconciledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reconciled_total",
			Help:      "Actions taken by the reconciliation loop.",
		},
		[]string{"action"}, // 'orphaned', 'expired', 'cleaned'
	)
)

// IncJobStarted counts an accepted job
func IncJobStarted() {
	jobsStartedTotal.Inc()
}

// ObserveJobFinished records a terminal job and its provisioning time
func ObserveJobFinished(backend, status string, d time.Duration) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
	provisionDuration.WithLabelValues(norm(backend), norm(status)).Observe(d.Seconds())
}

// IncTeardown counts a teardown attempt
func IncTeardown(reason string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	teardownsTotal.WithLabelValues(norm(reason), status).Inc()
}

// AddReconciled counts reconciliation actions
func AddReconciled(action string, n int) {
	if n <= 0 {
		return
	}
	jobsReconciledTotal.WithLabelValues(norm(action)).Add(float64(n))
}
