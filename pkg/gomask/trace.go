package gomask

import (
	"time"

	"github.com/dan-solli/gomask/pkg/trace"
)

// Operation names used for metrics labels and trace records.
const (
	opMask   = "mask"
	opUnmask = "unmask"
)

// Span names. They are stable:
//   - "resolve": identity resolution under the store lock
//   - "mask": placeholder substitution
//   - "load-store": reading the identity store for unmasking
//   - "unmask": placeholder restoration
//   - "record-document": writing the document record
const (
	spanResolve        = "resolve"
	spanMask           = "mask"
	spanLoadStore      = "load-store"
	spanUnmask         = "unmask"
	spanRecordDocument = "record-document"
)

// OperationTrace captures per-stage timing of a MaskDocument or Unmask call.
type OperationTrace struct {
	Spans []Span `json:"spans"`

	// TotalDurationMs is the sum of span durations
	TotalDurationMs int64 `json:"totalDurationMs"`
}

// Span is a single timed stage within an operation.
type Span struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"durationMs"`
	OK         bool   `json:"ok"`

	// ErrorType is the ClassifyError class when OK is false. Error messages
	// are not kept since they may quote input.
	ErrorType string `json:"errorType,omitempty"`

	// Counters holds stage counts, e.g. "placeholders" or "personsCreated"
	Counters map[string]int64 `json:"counters,omitempty"`
}

func newTrace() *OperationTrace {
	return &OperationTrace{Spans: make([]Span, 0)}
}

func (t *OperationTrace) addSpan(span Span) {
	t.Spans = append(t.Spans, span)
	t.TotalDurationMs += span.DurationMs
}

// record converts the trace into an exportable record.
func (t *OperationTrace) record(id, operation string, start time.Time, durationMs int64, status, errType string, ids map[string]string) *trace.TraceRecord {
	spans := make([]trace.SpanRecord, len(t.Spans))
	for i, s := range t.Spans {
		spans[i] = trace.SpanRecord{
			Name:       s.Name,
			DurationMs: s.DurationMs,
			OK:         s.OK,
			ErrorType:  s.ErrorType,
			Counters:   s.Counters,
		}
	}
	rec := &trace.TraceRecord{
		Timestamp:   start.UTC(),
		OperationID: id,
		Operation:   operation,
		DurationMs:  durationMs,
		Status:      status,
		Spans:       spans,
		ErrorType:   errType,
	}
	if len(ids) > 0 {
		rec.IDs = ids
	}
	return rec
}

type spanTimer struct {
	name  string
	start time.Time
	trace *OperationTrace
}

func newSpanTimer(name string, tr *OperationTrace) *spanTimer {
	return &spanTimer{name: name, start: time.Now(), trace: tr}
}

// finish records the span; a nil trace makes it a no-op.
func (st *spanTimer) finish(err error, counters map[string]int64) {
	if st.trace == nil {
		return
	}
	span := Span{
		Name:       st.name,
		DurationMs: time.Since(st.start).Milliseconds(),
		OK:         err == nil,
		Counters:   counters,
	}
	if err != nil {
		span.ErrorType = ClassifyError(err)
	}
	st.trace.addSpan(span)
}
