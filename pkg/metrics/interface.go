package metrics

import "context"

// Collector is the interface for metrics collection.
// Implementations are the Prometheus-backed MetricsCollector and NoopCollector.
// Label values are operation names, stage names and error classes only;
// never PII.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	SetStorageCount(ctx context.Context, storageType string, count int64)

	// RecordMatch counts how a tentative person was resolved: exact, fuzzy,
	// new, or none when every value already had a home elsewhere.
	RecordMatch(ctx context.Context, kind string)

	// RecordStoreReset counts corrupt store or cluster files that were reset.
	RecordStoreReset(ctx context.Context, file string)
}

// Match kinds for RecordMatch.
const (
	MatchExact = "exact"
	MatchFuzzy = "fuzzy"
	MatchNew   = "new"
	MatchNone  = "none"
)
