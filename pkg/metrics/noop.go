package metrics

import "context"

// NoopCollector discards everything. Used when metrics are disabled.
type NoopCollector struct{}

var _ Collector = (*NoopCollector)(nil)

// NewNoopCollector creates a no-op collector
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

func (n *NoopCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
}

func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {}

func (n *NoopCollector) SetStorageCount(ctx context.Context, storageType string, count int64) {}

func (n *NoopCollector) RecordMatch(ctx context.Context, kind string) {}

func (n *NoopCollector) RecordStoreReset(ctx context.Context, file string) {}
