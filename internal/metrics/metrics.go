package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldsense_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Parser metrics
	RecordsParsedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_records_parsed_total",
			Help: "Total number of payloads parsed, by resulting datatype",
		},
		[]string{"datatype"},
	)

	RecordsMalformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsense_records_malformed_total",
			Help: "Total number of recognized payloads that failed validation",
		},
	)

	// Alert metrics
	AlertsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_alerts_dispatched_total",
			Help: "Total number of alert emails dispatched",
		},
		[]string{"track", "reason"},
	)

	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by the dedup ledger",
		},
		[]string{"track", "reason"},
	)

	MailSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsense_mail_send_failures_total",
			Help: "Total number of failed alert email deliveries",
		},
	)

	// Ledger metrics
	LedgerFetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsense_ledger_fetch_errors_total",
			Help: "Total number of ledger reads that failed open to empty",
		},
	)

	LedgerPersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsense_ledger_persist_errors_total",
			Help: "Total number of failed ledger writes",
		},
	)

	// Archive metrics
	ArchiveQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsense_archive_queue_size",
			Help: "Current size of the archive queue",
		},
	)

	ArchiveQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsense_archive_queue_capacity",
			Help: "Capacity of the archive queue",
		},
	)

	ArchiveStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsense_archive_stored_total",
			Help: "Total number of records written to the object store",
		},
	)

	ArchiveFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsense_archive_failed_total",
			Help: "Total number of records that failed to archive",
		},
	)

	// Kafka mirror metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_kafka_publish_total",
			Help: "Total number of records mirrored to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsense_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsense_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
