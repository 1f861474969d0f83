// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal tracks handled inbound messages by resolved type.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsagent_messages_total",
			Help: "Total handled messages",
		},
		[]string{"type"},
	)

	// ResponseDuration tracks end-to-end message handling duration.
	ResponseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsagent_response_duration_seconds",
			Help:    "Message handling duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"type"},
	)

	// InputLength tracks inbound message lengths in characters.
	InputLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsagent_input_length_chars",
			Help:    "Inbound message length in characters",
			Buckets: prometheus.ExponentialBuckets(8, 2, 10),
		},
	)

	// OutputLength tracks response lengths in characters.
	OutputLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsagent_output_length_chars",
			Help:    "Response length in characters",
			Buckets: prometheus.ExponentialBuckets(8, 2, 12),
		},
	)

	// ExternalCallErrors tracks failures of external collaborators.
	ExternalCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsagent_external_call_errors_total",
			Help: "Total failed external collaborator calls",
		},
		[]string{"collaborator"},
	)

	// PurgedMessages tracks rows removed by the retention task.
	PurgedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsagent_purged_messages_total",
			Help: "Total messages removed by retention purge",
		},
	)
)

// RecordMessage records metrics for one handled message.
func RecordMessage(msgType string, durationSeconds float64, inputLen, outputLen int) {
	MessagesTotal.WithLabelValues(msgType).Inc()
	ResponseDuration.WithLabelValues(msgType).Observe(durationSeconds)
	InputLength.Observe(float64(inputLen))
	OutputLength.Observe(float64(outputLen))
}

// RecordExternalError records a failed external collaborator call.
func RecordExternalError(collaborator string) {
	ExternalCallErrors.WithLabelValues(collaborator).Inc()
}
