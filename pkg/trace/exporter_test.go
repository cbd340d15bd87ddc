package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileExporter_BasicExport(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	record := &TraceRecord{
		Timestamp:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		OperationID: "op-1",
		Operation:   "mask",
		DurationMs:  42,
		Status:      "success",
		Spans: []SpanRecord{
			{Name: "resolve", DurationMs: 30, OK: true, Counters: map[string]int64{"personsCreated": 1}},
			{Name: "mask", DurationMs: 2, OK: true, Counters: map[string]int64{"placeholders": 3}},
		},
		IDs: map[string]string{"documentId": "doc-1"},
	}

	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Read trace file failed: %v", err)
	}

	var got TraceRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal trace record failed: %v", err)
	}
	if got.Operation != "mask" {
		t.Errorf("Expected operation 'mask', got '%s'", got.Operation)
	}
	if len(got.Spans) != 2 {
		t.Errorf("Expected 2 spans, got %d", len(got.Spans))
	}
	if got.Spans[1].Counters["placeholders"] != 3 {
		t.Errorf("Expected placeholders counter 3, got %d", got.Spans[1].Counters["placeholders"])
	}
	if got.IDs["documentId"] != "doc-1" {
		t.Errorf("Expected documentId 'doc-1', got '%s'", got.IDs["documentId"])
	}
}

func TestNewExporter_EmptyPathIsNoop(t *testing.T) {
	exporter, err := NewExporter("")
	if err != nil {
		t.Fatalf("NewExporter(\"\") failed: %v", err)
	}
	if _, ok := exporter.(*NoopExporter); !ok {
		t.Fatalf("Expected *NoopExporter, got %T", exporter)
	}
	if err := exporter.Export(context.Background(), &TraceRecord{Operation: "resolve"}); err != nil {
		t.Fatalf("Export on noop exporter should succeed, got: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close on noop exporter should succeed, got: %v", err)
	}
}

func TestNewExporter_PathIsFile(t *testing.T) {
	exporter, err := NewExporter(filepath.Join(t.TempDir(), "t.jsonl"))
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer exporter.Close()
	if _, ok := exporter.(*FileExporter); !ok {
		t.Fatalf("Expected *FileExporter, got %T", exporter)
	}
}

func TestFileExporter_MultipleRecords(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		record := &TraceRecord{
			Timestamp:   time.Now(),
			OperationID: fmt.Sprintf("op-%d", i),
			Operation:   "resolve",
			DurationMs:  int64(i * 10),
			Status:      "success",
		}
		if err := exporter.Export(context.Background(), record); err != nil {
			t.Fatalf("Export %d failed: %v", i, err)
		}
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	file, err := os.Open(tracePath)
	if err != nil {
		t.Fatalf("Open trace file failed: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineCount := 0
	for scanner.Scan() {
		lineCount++
		var record TraceRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Errorf("Unmarshal line %d failed: %v", lineCount, err)
		}
	}
	if lineCount != 3 {
		t.Errorf("Expected 3 lines, got %d", lineCount)
	}
}

func TestFileExporter_Rotation(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath, WithMaxSize(512), WithMaxRotatedFiles(2))
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	for i := 0; i < 20; i++ {
		record := &TraceRecord{
			Timestamp:   time.Now(),
			OperationID: "op-" + strings.Repeat("x", 50),
			Operation:   "mask",
			DurationMs:  100,
			Status:      "success",
			Spans: []SpanRecord{
				{Name: "resolve", DurationMs: 80, OK: true},
				{Name: "record-document", DurationMs: 20, OK: true},
			},
		}
		if err := exporter.Export(context.Background(), record); err != nil {
			t.Fatalf("Export %d failed: %v", i, err)
		}
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	if len(names) != 3 {
		t.Errorf("Expected current + 2 rotated files, got %v", names)
	}
	if _, err := os.Stat(tracePath + ".3"); !os.IsNotExist(err) {
		t.Error("Expected no third rotated file")
	}
}

func TestFileExporter_NoSensitiveFields(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}

	record := &TraceRecord{
		Timestamp:   time.Now(),
		OperationID: "op",
		Operation:   "unmask",
		Status:      "success",
		Spans:       []SpanRecord{{Name: "unmask", OK: true, Counters: map[string]int64{"unknownPlaceholders": 1}}},
	}
	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Read trace file failed: %v", err)
	}
	content := string(data)

	for _, field := range []string{"content", "text", "value", "mapping"} {
		if strings.Contains(content, `"`+field+`"`) {
			t.Errorf("Trace contains prohibited field '%s': %s", field, content)
		}
	}
	for _, field := range []string{"operationId", "operation", "durationMs", "status", "spans"} {
		if !strings.Contains(content, field) {
			t.Errorf("Trace missing expected field '%s'", field)
		}
	}
}

func TestFileExporter_ErrorRecording(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}

	record := &TraceRecord{
		Timestamp:   time.Now(),
		OperationID: "error-op",
		Operation:   "resolve",
		DurationMs:  30000,
		Status:      "error",
		ErrorType:   "lock_timeout",
		Spans: []SpanRecord{
			{Name: "resolve", DurationMs: 30000, OK: false, ErrorType: "lock_timeout"},
		},
	}
	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Read trace file failed: %v", err)
	}
	var got TraceRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.ErrorType != "lock_timeout" {
		t.Errorf("Expected errorType 'lock_timeout', got '%s'", got.ErrorType)
	}
	if got.Spans[0].OK {
		t.Error("Expected span OK=false")
	}
}

func TestFileExporter_CloseIdempotent(t *testing.T) {
	exporter, err := NewFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Errorf("First Close failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestFileExporter_ExportAfterClose(t *testing.T) {
	exporter, err := NewFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	exporter.Close()

	err = exporter.Export(context.Background(), &TraceRecord{})
	if !errors.Is(err, ErrExporterClosed) {
		t.Errorf("Expected ErrExporterClosed, got %v", err)
	}
}

func TestFileExporter_DirectoryCreation(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "nested", "subdir", "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	if _, err := os.Stat(filepath.Dir(tracePath)); os.IsNotExist(err) {
		t.Error("Expected nested directory to be created")
	}
}
