package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты загрузки документа (метка result).
const (
	ResultValid      = "valid"
	ResultInvalid    = "invalid"
	ResultParseError = "parse_error"
)

var (
	documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepgraph_documents_total",
		Help: "Total number of workflow documents loaded, by result",
	}, []string{"source", "result"})

	violationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepgraph_violations_total",
		Help: "Total number of validation violations, by kind",
	}, []string{"kind"})

	validationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stepgraph_validation_duration_seconds",
		Help:    "Time spent parsing and validating a workflow document",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"source"})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stepgraph_events_published_total",
		Help: "Total number of workflow events published to RabbitMQ, by type",
	}, []string{"type"})
)

// ObserveDocument учитывает загрузку документа.
// source — кто загружал: "api", "validator", "audit", "cli".
func ObserveDocument(source, result string, elapsed time.Duration) {
	documentsTotal.WithLabelValues(source, result).Inc()
	validationDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// ObserveViolation учитывает нарушение указанного вида.
func ObserveViolation(kind string) {
	violationsTotal.WithLabelValues(kind).Inc()
}

// ObserveEvent учитывает опубликованное событие.
func ObserveEvent(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}
