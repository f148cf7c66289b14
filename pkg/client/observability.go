package client

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acsmail_send_requests_total",
			Help: "Total number of email send submissions",
		},
		[]string{"outcome"},
	)

	sendDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "acsmail_send_duration_seconds",
			Help:    "Duration of email send submissions",
			Buckets: prometheus.DefBuckets,
		},
	)

	pollAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acsmail_poll_attempts_total",
			Help: "Total number of send status poll attempts",
		},
		[]string{"status"},
	)

	operationsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acsmail_operations_tracked",
			Help: "Current number of send operations being tracked",
		},
	)

	operationsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acsmail_operations_completed_total",
			Help: "Total number of tracked send operations by resolution",
		},
		[]string{"resolution"},
	)
)

func recordSendRequest(outcome string, elapsed time.Duration) {
	sendRequestsTotal.WithLabelValues(normalizeMetricLabel(outcome, "unknown")).Inc()
	sendDurationSeconds.Observe(elapsed.Seconds())
}

func recordPollAttempt(status string) {
	pollAttemptsTotal.WithLabelValues(normalizeMetricLabel(status, "unknown")).Inc()
}

func incrementOperationsTracked() {
	operationsTracked.Inc()
}

func decrementOperationsTracked() {
	operationsTracked.Dec()
}

func recordOperationCompleted(resolution string) {
	operationsCompletedTotal.WithLabelValues(normalizeMetricLabel(resolution, "unknown")).Inc()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
