// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IntakeSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_sessions_total",
			Help: "Total number of intake sessions by terminal outcome",
		},
		[]string{"form_key", "outcome"},
	)

	IntakeSessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_session_duration_seconds",
			Help:    "Duration of intake sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"form_key"},
	)

	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisions_total",
			Help: "Total number of decision attempts by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	RoleGrantFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "role_grant_failures_total",
			Help: "Role grants that failed after an accepted decision",
		},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Best-effort notifications that could not be delivered",
		},
		[]string{"kind"},
	)
)
