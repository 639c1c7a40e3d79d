package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	operationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_processed_total",
			Help: "Total number of money movement operations by outcome",
		},
		[]string{"operation", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of money movement operations",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
		},
		[]string{"operation"},
	)

	referenceRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_reference_retries_total",
			Help: "Units of work retried after a reference collision",
		},
		[]string{"operation"},
	)

	confirmationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_confirmations_created_total",
			Help: "Total number of confirmations created",
		},
		[]string{"operation", "status"},
	)

	eventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_event_publish_errors_total",
			Help: "Total number of failed event publishes",
		},
		[]string{"sink"},
	)
)
