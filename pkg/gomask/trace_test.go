package gomask

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dan-solli/gomask/pkg/store"
)

func TestNewTrace(t *testing.T) {
	tr := newTrace()
	assert.NotNil(t, tr.Spans)
	assert.Empty(t, tr.Spans)
	assert.Equal(t, int64(0), tr.TotalDurationMs)
}

func TestTraceAddSpan(t *testing.T) {
	tr := newTrace()
	tr.addSpan(Span{Name: "resolve", DurationMs: 100, OK: true, Counters: map[string]int64{"persons": 2}})
	tr.addSpan(Span{Name: "mask", DurationMs: 50, OK: false, ErrorType: ErrTypeUnknown})

	assert.Len(t, tr.Spans, 2)
	assert.Equal(t, int64(150), tr.TotalDurationMs)
	assert.Equal(t, "resolve", tr.Spans[0].Name)
	assert.Equal(t, ErrTypeUnknown, tr.Spans[1].ErrorType)
}

func TestSpanTimer_NilTrace(t *testing.T) {
	timer := newSpanTimer("resolve", nil)
	assert.NotPanics(t, func() { timer.finish(nil, nil) })
}

func TestSpanTimer_RecordsErrorClass(t *testing.T) {
	tr := newTrace()
	timer := newSpanTimer("resolve", tr)
	time.Sleep(2 * time.Millisecond)
	timer.finish(errors.Join(errors.New("x"), store.ErrLockTimeout), map[string]int64{"lockWaitMs": 30000})

	assert.Len(t, tr.Spans, 1)
	span := tr.Spans[0]
	assert.False(t, span.OK)
	assert.Equal(t, ErrTypeLockTimeout, span.ErrorType)
	assert.GreaterOrEqual(t, span.DurationMs, int64(2))
	assert.Equal(t, int64(30000), span.Counters["lockWaitMs"])
}

func TestTraceRecord(t *testing.T) {
	tr := newTrace()
	tr.addSpan(Span{Name: "load-store", DurationMs: 3, OK: true})
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	rec := tr.record("op-1", "unmask", start, 7, "success", "", map[string]string{"documentId": "d"})
	assert.Equal(t, "op-1", rec.OperationID)
	assert.Equal(t, "unmask", rec.Operation)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	assert.Equal(t, int64(7), rec.DurationMs)
	assert.Len(t, rec.Spans, 1)
	assert.Equal(t, "d", rec.IDs["documentId"])

	rec = tr.record("op-2", "mask", start, 1, "success", "", map[string]string{})
	assert.Nil(t, rec.IDs)
}
