// Package metrics holds the Prometheus collectors of the provisioning pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tenancy"

var (
	// ProvisioningTotal counts finished saga runs by outcome: completed, retried, rolled_back, failed.
	ProvisioningTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_total",
			Help:      "Total number of provisioning attempts by outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provisioning_stage_duration_seconds",
			Help:      "Duration of provisioning stages in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Total number of compensating rollbacks by outcome",
		},
		[]string{"outcome"},
	)

	MigrationsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_applied_total",
			Help:      "Total number of change-scripts applied to tenant stores",
		},
	)

	QueueRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_retries_total",
			Help:      "Total number of provisioning tasks scheduled for retry",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// TrackStage returns a function that records the duration of a stage.
func TrackStage(stage string) func(startTime time.Time) {
	return func(startTime time.Time) {
		StageDuration.WithLabelValues(stage).Observe(time.Since(startTime).Seconds())
	}
}

func RecordProvisioning(outcome string) {
	ProvisioningTotal.WithLabelValues(outcome).Inc()
}

func RecordRollback(outcome string) {
	RollbacksTotal.WithLabelValues(outcome).Inc()
}
