package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector provides Prometheus metrics collection for gomask operations
type MetricsCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	storageCount      *prometheus.GaugeVec
	matchesTotal      *prometheus.CounterVec
	storeResetsTotal  *prometheus.CounterVec
	registry          *prometheus.Registry
}

var _ Collector = (*MetricsCollector)(nil)

// NewCollector creates a new Prometheus metrics collector with its own registry.
func NewCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gomask_operations_total",
			Help: "Total number of gomask operations by type and status",
		},
		[]string{"operation", "status"},
	)

	// Lock waits dominate under contention, so buckets reach well past a second.
	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gomask_operation_duration_seconds",
			Help:    "Duration of gomask operations by type and stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"operation", "stage"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gomask_errors_total",
			Help: "Total number of errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	storageCount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gomask_storage_count",
			Help: "Current count of stored items by type",
		},
		[]string{"type"},
	)

	matchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gomask_person_matches_total",
			Help: "Tentative persons resolved, by match kind (exact, fuzzy, new, none)",
		},
		[]string{"kind"},
	)

	storeResetsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gomask_store_resets_total",
			Help: "Corrupt store files reset to empty, by file",
		},
		[]string{"file"},
	)

	registry.MustRegister(operationsTotal)
	registry.MustRegister(operationDuration)
	registry.MustRegister(errorsTotal)
	registry.MustRegister(storageCount)
	registry.MustRegister(matchesTotal)
	registry.MustRegister(storeResetsTotal)

	return &MetricsCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		storageCount:      storageCount,
		matchesTotal:      matchesTotal,
		storeResetsTotal:  storeResetsTotal,
		registry:          registry,
	}
}

// RecordOperation records the completion of an operation
func (m *MetricsCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation, "total").Observe(float64(durationMs) / 1000.0)
}

// RecordStage records the duration of a specific stage within an operation
func (m *MetricsCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
	m.operationDuration.WithLabelValues(operation, stage).Observe(float64(durationMs) / 1000.0)
}

// RecordError records an error occurrence
func (m *MetricsCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetStorageCount sets the current count for a storage type
func (m *MetricsCollector) SetStorageCount(ctx context.Context, storageType string, count int64) {
	m.storageCount.WithLabelValues(storageType).Set(float64(count))
}

// RecordMatch counts a resolved tentative person
func (m *MetricsCollector) RecordMatch(ctx context.Context, kind string) {
	m.matchesTotal.WithLabelValues(kind).Inc()
}

// RecordStoreReset counts a corrupt file reset
func (m *MetricsCollector) RecordStoreReset(ctx context.Context, file string) {
	m.storeResetsTotal.WithLabelValues(file).Inc()
}

// Registry returns the Prometheus registry for HTTP exposure
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}
