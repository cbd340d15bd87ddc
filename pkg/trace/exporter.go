package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrExporterClosed is returned by Export after Close.
var ErrExporterClosed = errors.New("trace exporter closed")

// Rotation defaults.
const (
	DefaultMaxSizeBytes    = 10 * 1024 * 1024
	DefaultMaxRotatedFiles = 5
)

// FileExporter appends trace records to a JSON Lines file and rotates it to
// <path>.1 ... <path>.N once it grows past the size limit.
type FileExporter struct {
	path            string
	maxSizeBytes    int64
	maxRotatedFiles int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	closed  bool
}

// FileExporterOption configures a FileExporter.
type FileExporterOption func(*FileExporter)

// WithMaxSize sets the size that triggers rotation (default 10MB).
func WithMaxSize(bytes int64) FileExporterOption {
	return func(fe *FileExporter) {
		fe.maxSizeBytes = bytes
	}
}

// WithMaxRotatedFiles sets how many rotated files are kept (default 5).
func WithMaxRotatedFiles(count int) FileExporterOption {
	return func(fe *FileExporter) {
		fe.maxRotatedFiles = count
	}
}

// NewExporter returns a FileExporter for path, or a NoopExporter when path
// is empty.
func NewExporter(path string, opts ...FileExporterOption) (Exporter, error) {
	if path == "" {
		return NewNoopExporter(), nil
	}
	return NewFileExporter(path, opts...)
}

// NewFileExporter opens (or creates) path for appending.
func NewFileExporter(path string, opts ...FileExporterOption) (*FileExporter, error) {
	fe := &FileExporter{
		path:            path,
		maxSizeBytes:    DefaultMaxSizeBytes,
		maxRotatedFiles: DefaultMaxRotatedFiles,
	}
	for _, opt := range opts {
		opt(fe)
	}
	if fe.maxRotatedFiles < 1 {
		fe.maxRotatedFiles = 1
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	if err := fe.open(); err != nil {
		return nil, err
	}
	return fe, nil
}

// Path returns the active trace file.
func (fe *FileExporter) Path() string {
	return fe.path
}

// Export writes record as one line, rotating afterwards if needed.
func (fe *FileExporter) Export(ctx context.Context, record *TraceRecord) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return ErrExporterClosed
	}
	if err := fe.encoder.Encode(record); err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	if err := fe.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotate trace file: %w", err)
	}
	return nil
}

// Close syncs and closes the file. Safe to call more than once.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true

	if err := fe.file.Sync(); err != nil {
		fe.file.Close()
		return fmt.Errorf("sync trace file: %w", err)
	}
	return fe.file.Close()
}

func (fe *FileExporter) open() error {
	file, err := os.OpenFile(fe.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	fe.file = file
	fe.encoder = json.NewEncoder(file)
	return nil
}

// rotateIfNeeded must be called with mu held.
func (fe *FileExporter) rotateIfNeeded() error {
	info, err := fe.file.Stat()
	if err != nil {
		return fmt.Errorf("stat trace file: %w", err)
	}
	if info.Size() < fe.maxSizeBytes {
		return nil
	}

	if err := fe.file.Close(); err != nil {
		return fmt.Errorf("close trace file for rotation: %w", err)
	}
	if err := fe.shift(); err != nil {
		return err
	}
	return fe.open()
}

// shift drops the oldest rotated file and renames .N-1 to .N down to the
// active file becoming .1.
func (fe *FileExporter) shift() error {
	oldest := rotatedName(fe.path, fe.maxRotatedFiles)
	if err := os.Remove(oldest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove oldest rotated file: %w", err)
	}

	for i := fe.maxRotatedFiles - 1; i >= 1; i-- {
		from, to := rotatedName(fe.path, i), rotatedName(fe.path, i+1)
		if err := os.Rename(from, to); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("shift rotated file %s -> %s: %w", from, to, err)
		}
	}

	if err := os.Rename(fe.path, rotatedName(fe.path, 1)); err != nil {
		return fmt.Errorf("rotate current file to .1: %w", err)
	}
	return nil
}

func rotatedName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}
