// Package gomask masks documents with stable, cross-document PII placeholders
// and restores them on demand.
package gomask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dan-solli/gomask/pkg/identity"
	"github.com/dan-solli/gomask/pkg/masking"
	"github.com/dan-solli/gomask/pkg/metrics"
	"github.com/dan-solli/gomask/pkg/store"
	"github.com/dan-solli/gomask/pkg/trace"
)

// Config holds configuration for a Gomask instance
type Config struct {
	// StorePath is the identity store file (default: "data/identity_store.json")
	StorePath string

	// ClusterPath is the fuzzy-merge audit log (default: "data/clusters.json")
	ClusterPath string

	// DBPath is the SQLite file recording masked and unmasked documents
	// (default: "data/documents.db"). Use ":memory:" for a throwaway database.
	DBPath string

	// LockTimeout bounds the wait for the store lock (default: 30s)
	LockTimeout time.Duration

	// FuzzyThreshold is the maximum name edit distance for a match (default: 2)
	FuzzyThreshold int

	// StrictLoad fails on a corrupt store instead of resetting it
	StrictLoad bool

	// TraceEnabled exports one record per operation to TracePath
	TraceEnabled bool

	// TracePath is the JSON Lines trace file (default: "data/traces.jsonl")
	TracePath string

	// MetricsEnabled registers Prometheus collectors, see Metrics
	MetricsEnabled bool
}

// Default configuration values
const (
	DefaultDBPath    = "data/documents.db"
	DefaultTracePath = "data/traces.jsonl"
)

// ConfigFromEnv reads GOMASK_* variables. Unset or unparsable values fall
// back to the defaults New applies.
func ConfigFromEnv() Config {
	cfg := Config{
		StorePath:   os.Getenv("GOMASK_STORE_PATH"),
		ClusterPath: os.Getenv("GOMASK_CLUSTER_PATH"),
		DBPath:      os.Getenv("GOMASK_DB_PATH"),
		TracePath:   os.Getenv("GOMASK_TRACE_PATH"),
	}
	if d, err := time.ParseDuration(os.Getenv("GOMASK_LOCK_TIMEOUT")); err == nil {
		cfg.LockTimeout = d
	}
	if n, err := strconv.Atoi(os.Getenv("GOMASK_FUZZY_THRESHOLD")); err == nil {
		cfg.FuzzyThreshold = n
	}
	cfg.StrictLoad = envBool("GOMASK_STRICT_LOAD")
	cfg.TraceEnabled = envBool("GOMASK_TRACE")
	cfg.MetricsEnabled = envBool("GOMASK_METRICS")
	return cfg
}

func envBool(key string) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && b
}

// Gomask is the main entry point: resolution, masking and the document record.
type Gomask struct {
	config           Config
	resolver         *identity.Resolver
	documents        store.DocumentStore
	traceExporter    trace.Exporter
	metricsCollector metrics.Collector
	registry         *prometheus.Registry
	logger           *slog.Logger
}

// New applies defaults, opens the document database and the trace file.
func New(cfg Config) (*Gomask, error) {
	if cfg.StorePath == "" {
		cfg.StorePath = identity.DefaultStorePath
	}
	if cfg.ClusterPath == "" {
		cfg.ClusterPath = identity.DefaultClusterPath
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	if cfg.TracePath == "" {
		cfg.TracePath = DefaultTracePath
	}

	resolver := identity.NewResolver(identity.Config{
		StorePath:      cfg.StorePath,
		ClusterPath:    cfg.ClusterPath,
		LockTimeout:    cfg.LockTimeout,
		FuzzyThreshold: cfg.FuzzyThreshold,
		StrictLoad:     cfg.StrictLoad,
	})
	rc := resolver.Config()
	cfg.LockTimeout = rc.LockTimeout
	cfg.FuzzyThreshold = rc.FuzzyThreshold

	docs, err := store.NewSQLiteDocumentStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocumentStore, err)
	}

	var exporter trace.Exporter = trace.NewNoopExporter()
	if cfg.TraceEnabled {
		exporter, err = trace.NewExporter(cfg.TracePath)
		if err != nil {
			docs.Close()
			return nil, fmt.Errorf("open trace exporter: %w", err)
		}
	}

	g := &Gomask{
		config:           cfg,
		resolver:         resolver,
		documents:        docs,
		traceExporter:    exporter,
		metricsCollector: metrics.NewNoopCollector(),
	}
	if cfg.MetricsEnabled {
		collector := metrics.NewCollector()
		g.metricsCollector = collector
		g.registry = collector.Registry()
	}
	resolver.WithMetrics(g.metricsCollector)

	return g, nil
}

// WithLogger sets the logger for the instance and its resolver.
// Returns the same instance for chaining.
func (g *Gomask) WithLogger(logger *slog.Logger) *Gomask {
	g.logger = logger
	g.resolver.WithLogger(logger)
	return g
}

// Config returns the effective configuration.
func (g *Gomask) Config() Config {
	return g.config
}

// Metrics returns the Prometheus registry, or nil when metrics are disabled.
func (g *Gomask) Metrics() *prometheus.Registry {
	return g.registry
}

// Documents exposes the document record.
func (g *Gomask) Documents() store.DocumentStore {
	return g.documents
}

// Close releases the document database and the trace file.
func (g *Gomask) Close() error {
	var errs []error
	if err := g.traceExporter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close trace exporter: %w", err))
	}
	if err := g.documents.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close document store: %w", err))
	}
	return errors.Join(errs...)
}

// Resolve resolves batch against the identity store and returns raw value ->
// placeholder. See identity.Resolver.
func (g *Gomask) Resolve(ctx context.Context, batch Batch) (map[string]string, error) {
	return g.resolver.Resolve(ctx, batch)
}

// MaskResult is the outcome of MaskDocument.
type MaskResult struct {
	// Text is the masked document
	Text string

	// DocumentID identifies the stored masked document
	DocumentID string

	// Mapping is raw value -> placeholder for this document
	Mapping map[string]string

	Stats Stats
	Trace *OperationTrace
}

// MaskDocument resolves batch, masks text with the resulting placeholders and
// records the masked document. source is a free-form label such as a file
// name.
func (g *Gomask) MaskDocument(ctx context.Context, text, source string, batch Batch) (*MaskResult, error) {
	op := g.startOperation(ctx, opMask)

	t := newSpanTimer(spanResolve, op.trace)
	mapping, stats, err := g.resolver.ResolveWithStats(ctx, batch)
	t.finish(err, map[string]int64{
		"persons":        int64(stats.Persons),
		"personsCreated": int64(stats.PersonsCreated),
		"valuesAdded":    int64(stats.ValuesAdded + stats.UnlinkedAdded),
		"lockWaitMs":     stats.LockWaitMs,
	})
	if err != nil {
		return nil, op.fail(err)
	}

	t = newSpanTimer(spanMask, op.trace)
	masked := masking.Mask(text, mapping)
	placeholders := len(masking.Placeholders(masked))
	t.finish(nil, map[string]int64{"values": int64(len(mapping)), "placeholders": int64(placeholders)})

	t = newSpanTimer(spanRecordDocument, op.trace)
	doc := &store.Document{
		Kind:             store.DocumentMasked,
		DocHash:          store.ComputeDocHash(text),
		Source:           source,
		Content:          masked,
		PlaceholderCount: placeholders,
	}
	err = g.documents.SaveDocument(ctx, doc)
	t.finish(err, nil)
	if err != nil {
		return nil, op.fail(fmt.Errorf("%w: %w", ErrDocumentStore, err))
	}
	op.ids["documentId"] = doc.ID

	if g.logger != nil {
		g.logger.Info("document masked",
			"operation_id", op.id,
			"document_id", doc.ID,
			"persons", stats.Persons,
			"persons_created", stats.PersonsCreated,
			"placeholders", placeholders,
		)
	}
	op.succeed()

	return &MaskResult{
		Text:       masked,
		DocumentID: doc.ID,
		Mapping:    mapping,
		Stats:      stats,
		Trace:      op.trace,
	}, nil
}

// UnmaskResult is the outcome of Unmask.
type UnmaskResult struct {
	// Text is the restored document
	Text string

	// DocumentID identifies the stored unmasked document
	DocumentID string

	// Unknown lists placeholders found in the text but not in the store
	Unknown []string

	Trace *OperationTrace
}

// Unmask replaces every placeholder in text with its raw value from the
// identity store and records the result. Placeholders the store does not
// know are left in place and reported. The store is read without the lock:
// saves are atomic renames, so a reader always sees a whole file.
func (g *Gomask) Unmask(ctx context.Context, text string) (*UnmaskResult, error) {
	op := g.startOperation(ctx, opUnmask)

	t := newSpanTimer(spanLoadStore, op.trace)
	reverse, err := g.reverseMap()
	t.finish(err, map[string]int64{"entries": int64(len(reverse))})
	if err != nil {
		return nil, op.fail(err)
	}

	t = newSpanTimer(spanUnmask, op.trace)
	restored, unknown := masking.Unmask(text, reverse)
	resolved := 0
	for _, ph := range masking.Placeholders(text) {
		if _, ok := reverse[ph]; ok {
			resolved++
		}
	}
	t.finish(nil, map[string]int64{"placeholders": int64(resolved), "unknownPlaceholders": int64(len(unknown))})
	if g.logger != nil {
		for _, ph := range unknown {
			g.logger.Warn("placeholder not in identity store, left as-is", "operation_id", op.id, "placeholder", ph)
		}
	}

	t = newSpanTimer(spanRecordDocument, op.trace)
	doc := &store.Document{
		Kind:             store.DocumentUnmasked,
		DocHash:          store.ComputeDocHash(text),
		Content:          restored,
		PlaceholderCount: resolved,
	}
	err = g.documents.SaveDocument(ctx, doc)
	t.finish(err, nil)
	if err != nil {
		return nil, op.fail(fmt.Errorf("%w: %w", ErrDocumentStore, err))
	}
	op.ids["documentId"] = doc.ID

	if g.logger != nil {
		g.logger.Info("document unmasked",
			"operation_id", op.id,
			"document_id", doc.ID,
			"unknown_placeholders", len(unknown),
		)
	}
	op.succeed()

	return &UnmaskResult{
		Text:       restored,
		DocumentID: doc.ID,
		Unknown:    unknown,
		Trace:      op.trace,
	}, nil
}

func (g *Gomask) reverseMap() (map[string]string, error) {
	if _, err := os.Stat(g.config.StorePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrStoreNotFound
		}
		return nil, err
	}
	st, err := store.Load(g.config.StorePath)
	if err != nil {
		return nil, err
	}
	return store.ReverseMap(st), nil
}

// operation tracks one facade call for metrics, logs and trace export.
type operation struct {
	g     *Gomask
	ctx   context.Context
	id    string
	name  string
	start time.Time
	trace *OperationTrace
	ids   map[string]string
}

func (g *Gomask) startOperation(ctx context.Context, name string) *operation {
	return &operation{
		g:     g,
		ctx:   ctx,
		id:    uuid.NewString(),
		name:  name,
		start: time.Now(),
		trace: newTrace(),
		ids:   make(map[string]string),
	}
}

func (op *operation) succeed() {
	durationMs := time.Since(op.start).Milliseconds()
	op.g.metricsCollector.RecordOperation(op.ctx, op.name, "success", durationMs)
	op.export("success", "", durationMs)
}

// fail records err and returns it unchanged.
func (op *operation) fail(err error) error {
	durationMs := time.Since(op.start).Milliseconds()
	errType := ClassifyError(err)
	// resolve failures are already counted by the resolver itself
	if !errors.Is(err, identity.ErrResolution) {
		op.g.metricsCollector.RecordError(op.ctx, op.name, errType)
	}
	op.g.metricsCollector.RecordOperation(op.ctx, op.name, "error", durationMs)
	if op.g.logger != nil {
		op.g.logger.Error(op.name+" failed", "operation_id", op.id, "error_type", errType, "error", err)
	}
	op.export("error", errType, durationMs)
	return err
}

func (op *operation) export(status, errType string, durationMs int64) {
	record := op.trace.record(op.id, op.name, op.start, durationMs, status, errType, op.ids)
	if err := op.g.traceExporter.Export(op.ctx, record); err != nil && op.g.logger != nil {
		op.g.logger.Warn("trace export failed", "operation_id", op.id, "error", err)
	}
}
