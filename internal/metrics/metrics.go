package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genstudio",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "genstudio",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"method", "route"},
	)

	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genstudio",
			Subsystem: "media_api",
			Name:      "calls_total",
			Help:      "Calls to the generation API by operation and status code",
		},
		[]string{"operation", "status"},
	)

	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "genstudio",
			Subsystem: "media_api",
			Name:      "call_duration_seconds",
			Help:      "Generation API call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genstudio",
			Subsystem: "session",
			Name:      "generations_total",
			Help:      "Generation attempts by media type and outcome",
		},
		[]string{"media_type", "outcome"},
	)

	PollAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genstudio",
			Subsystem: "session",
			Name:      "poll_attempts_total",
			Help:      "Video operation status polls by result",
		},
		[]string{"result"},
	)

	ReferenceUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genstudio",
			Subsystem: "references",
			Name:      "uploads_total",
			Help:      "Reference image uploads by status",
		},
		[]string{"status"},
	)
)

func RecordRequest(method, route string, status int, d time.Duration) {
	RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordAPICall records one outgoing call; status 0 means no response.
func RecordAPICall(operation string, status int, d time.Duration) {
	APICallsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	APICallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func RecordGeneration(mediaType, outcome string) {
	GenerationsTotal.WithLabelValues(mediaType, outcome).Inc()
}

func RecordPoll(result string) {
	PollAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordReferenceUpload status is one of success, error or cached.
func RecordReferenceUpload(status string) {
	ReferenceUploadsTotal.WithLabelValues(status).Inc()
}
