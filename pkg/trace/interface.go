// Package trace exports per-operation timing records as JSON Lines.
package trace

import (
	"context"
	"time"
)

// Exporter writes operation traces somewhere.
// Implementations must be safe for concurrent use.
type Exporter interface {
	// Export writes one trace record.
	Export(ctx context.Context, record *TraceRecord) error

	// Close flushes buffered records and releases resources.
	Close() error
}

// TraceRecord is one finished operation. It must never carry raw PII or
// document text: only ids, counts, timings and error classes.
type TraceRecord struct {
	// Timestamp is the operation start time
	Timestamp time.Time `json:"timestamp"`

	// OperationID correlates log lines and stored documents with this trace
	OperationID string `json:"operationId"`

	// Operation is "resolve", "mask" or "unmask"
	Operation string `json:"operation"`

	DurationMs int64 `json:"durationMs"`

	// Status is "success" or "error"
	Status string `json:"status"`

	Spans []SpanRecord `json:"spans"`

	// ErrorType is the identity.ClassifyError class when Status == "error"
	ErrorType string `json:"errorType,omitempty"`

	// IDs holds identifiers such as the stored document id
	IDs map[string]string `json:"ids,omitempty"`
}

// SpanRecord is a single stage within an operation.
type SpanRecord struct {
	// Name is the stage: load-store, resolve, mask, unmask, record-document
	Name string `json:"name"`

	DurationMs int64 `json:"durationMs"`

	OK bool `json:"ok"`

	ErrorType string `json:"errorType,omitempty"`

	// Counters are stage-specific counts, e.g. placeholders or unknownPlaceholders
	Counters map[string]int64 `json:"counters,omitempty"`
}
