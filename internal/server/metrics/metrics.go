// Package metrics holds the Prometheus instruments of the gate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Namespace = "passkeygate"

	LabelFlow    = "flow"
	LabelOutcome = "outcome"
	LabelMethod  = "method"
	LabelRoute   = "route"
	LabelStatus  = "status"

	FlowRegistration = "registration"
	FlowLogin        = "login"

	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

var (
	// AuthTotal counts finished ceremonies by flow and outcome.
	AuthTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "auth_total",
			Help:      "Finished passkey ceremonies by flow and outcome",
		},
		[]string{LabelFlow, LabelOutcome},
	)

	LogAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "log_appends_total",
			Help:      "Log entries appended through the API by outcome",
		},
		[]string{LabelOutcome},
	)

	// AuditFailuresTotal counts audit entries that could not be persisted.
	AuditFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "audit_failures_total",
			Help:      "Audit entries dropped because the log store write failed",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelMethod, LabelRoute, LabelStatus},
	)
)

func RecordAuth(flow, outcome string) {
	AuthTotal.WithLabelValues(flow, outcome).Inc()
}

// RecordAppends adds ok successful and failed unsuccessful log appends.
func RecordAppends(ok, failed int) {
	if ok > 0 {
		LogAppendsTotal.WithLabelValues(OutcomeSuccess).Add(float64(ok))
	}
	if failed > 0 {
		LogAppendsTotal.WithLabelValues(OutcomeFailure).Add(float64(failed))
	}
}

func RecordAuditFailure() {
	AuditFailuresTotal.Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
