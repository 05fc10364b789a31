package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenda_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agenda_api_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	levelTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenda_level_transitions_total",
			Help: "Agenda level changes by source and target level",
		},
		[]string{"from", "to"},
	)

	closuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenda_closures_total",
			Help: "Proposals closed, by closure reason",
		},
		[]string{"reason"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenda_notifications_total",
			Help: "Notification deliveries by event, sink and outcome",
		},
		[]string{"event", "sink", "outcome"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agenda_deadline_sweep_duration_seconds",
			Help:    "Duration of a deadline sweep over all open proposals",
			Buckets: prometheus.DefBuckets,
		},
	)

	sweepProposals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenda_deadline_sweep_proposals_total",
			Help: "Proposals visited by the deadline sweep, by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	status := "unknown"
	switch {
	case statusCode >= 500:
		status = "5xx"
	case statusCode >= 400:
		status = "4xx"
	case statusCode >= 300:
		status = "3xx"
	case statusCode >= 200:
		status = "2xx"
	}

	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

func RecordLevelTransition(from, to string) {
	levelTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordClosure(reason string) {
	closuresTotal.WithLabelValues(reason).Inc()
}

func RecordNotification(event, sink, outcome string) {
	notificationsTotal.WithLabelValues(event, sink, outcome).Inc()
}

func ObserveSweep(durationSeconds float64) {
	sweepDuration.Observe(durationSeconds)
}

func RecordSweepProposal(outcome string) {
	sweepProposals.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
