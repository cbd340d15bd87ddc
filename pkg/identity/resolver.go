// Package identity resolves tentative persons against the identity store and
// allocates the placeholders used to mask their PII.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dan-solli/gomask/pkg/metrics"
	"github.com/dan-solli/gomask/pkg/similarity"
	"github.com/dan-solli/gomask/pkg/store"
)

// exactCategories are matched by equality, in this order; first hit wins.
var exactCategories = []string{"emails", "phones", "nrics", "ssns"}

// nameCategory is the only category matched approximately.
const nameCategory = "names"

const operationResolve = "resolve"

// Config holds resolver configuration.
type Config struct {
	// StorePath is the identity store file (default "data/identity_store.json").
	StorePath string

	// ClusterPath is the cluster audit log file (default "data/clusters.json").
	ClusterPath string

	// LockTimeout bounds the wait for the store lock (default 30s).
	// Negative waits until the context is done.
	LockTimeout time.Duration

	// FuzzyThreshold is the maximum name edit distance for a match
	// (default similarity.DefaultThreshold when <= 0).
	FuzzyThreshold int

	// StrictLoad aborts resolution on a corrupt store instead of resetting it.
	StrictLoad bool
}

// Default configuration values.
const (
	DefaultStorePath   = "data/identity_store.json"
	DefaultClusterPath = "data/clusters.json"
	DefaultLockTimeout = 30 * time.Second
)

// Resolver matches, merges and persists PII under the store lock.
// It is safe for concurrent use; every Resolve call reloads from disk.
type Resolver struct {
	cfg     Config
	lock    *store.FileLock
	logger  *slog.Logger
	metrics metrics.Collector
	now     func() time.Time
}

// NewResolver applies defaults and returns a resolver.
func NewResolver(cfg Config) *Resolver {
	if cfg.StorePath == "" {
		cfg.StorePath = DefaultStorePath
	}
	if cfg.ClusterPath == "" {
		cfg.ClusterPath = DefaultClusterPath
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = similarity.DefaultThreshold
	}

	return &Resolver{
		cfg:     cfg,
		lock:    store.NewFileLock(cfg.StorePath),
		metrics: metrics.NewNoopCollector(),
		now:     time.Now,
	}
}

// WithLogger sets the logger. Returns the same instance for chaining.
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	r.logger = logger
	return r
}

// WithMetrics sets the metrics collector. nil restores the no-op collector.
func (r *Resolver) WithMetrics(c metrics.Collector) *Resolver {
	if c == nil {
		c = metrics.NewNoopCollector()
	}
	r.metrics = c
	return r
}

// Config returns the effective configuration.
func (r *Resolver) Config() Config {
	return r.cfg
}

// Stats describes what one Resolve call did. It carries no PII.
type Stats struct {
	Persons        int
	ExactMatches   int
	FuzzyMatches   int
	PersonsCreated int
	ValuesAdded    int
	UnlinkedAdded  int
	StoreReset     bool
	LockWaitMs     int64
}

// Resolve matches every tentative person in batch against the store, merges
// or creates records, stores unlinked PII and persists the result. It returns
// raw value -> placeholder for every value in the batch.
//
// The whole call runs under the store lock. Nothing is written unless every
// step succeeds.
func (r *Resolver) Resolve(ctx context.Context, batch Batch) (map[string]string, error) {
	out, _, err := r.ResolveWithStats(ctx, batch)
	return out, err
}

// ResolveWithStats is Resolve plus a summary of the work done.
func (r *Resolver) ResolveWithStats(ctx context.Context, batch Batch) (map[string]string, Stats, error) {
	start := r.now()
	out, stats, err := r.resolve(ctx, batch)
	durationMs := r.now().Sub(start).Milliseconds()

	if err != nil {
		errType := ClassifyError(err)
		r.metrics.RecordOperation(ctx, operationResolve, "error", durationMs)
		r.metrics.RecordError(ctx, operationResolve, errType)
		if r.logger != nil {
			r.logger.Error("resolve failed", "error_type", errType, "error", err, "duration_ms", durationMs)
		}
		return nil, stats, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	r.metrics.RecordOperation(ctx, operationResolve, "success", durationMs)
	if r.logger != nil {
		r.logger.Info("resolve complete",
			"persons", stats.Persons,
			"exact_matches", stats.ExactMatches,
			"fuzzy_matches", stats.FuzzyMatches,
			"persons_created", stats.PersonsCreated,
			"values_added", stats.ValuesAdded,
			"unlinked_added", stats.UnlinkedAdded,
			"lock_wait_ms", stats.LockWaitMs,
			"duration_ms", durationMs,
		)
	}
	return out, stats, nil
}

func (r *Resolver) resolve(ctx context.Context, batch Batch) (map[string]string, Stats, error) {
	var stats Stats

	persons, unlinked, err := normalizeBatch(batch)
	if err != nil {
		return nil, stats, err
	}
	stats.Persons = len(persons)

	lockStart := r.now()
	lease, err := r.lock.Acquire(ctx, r.cfg.LockTimeout)
	if err != nil {
		return nil, stats, err
	}
	defer func() {
		if relErr := lease.Release(); relErr != nil && r.logger != nil {
			r.logger.Warn("store lock release failed", "error", relErr)
		}
	}()
	stats.LockWaitMs = r.now().Sub(lockStart).Milliseconds()
	r.metrics.RecordStage(ctx, operationResolve, "lock", stats.LockWaitMs)

	// Reload inside the lock: anything read before acquisition may be stale.
	loadStart := r.now()
	sess, corrupt, err := r.load(&stats)
	if err != nil {
		return nil, stats, err
	}
	r.metrics.RecordStage(ctx, operationResolve, "load", r.now().Sub(loadStart).Milliseconds())

	mergeStart := r.now()
	out := make(map[string]string)
	for _, p := range persons {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		personID, kind := sess.match(p.groups, r.cfg.FuzzyThreshold)
		personID, added := sess.merge(personID, p.groups, out)
		stats.ValuesAdded += added
		if personID == "" {
			kind = metrics.MatchNone
		}
		switch kind {
		case metrics.MatchExact:
			stats.ExactMatches++
		case metrics.MatchFuzzy:
			stats.FuzzyMatches++
		case metrics.MatchNew:
			stats.PersonsCreated++
		}
		r.metrics.RecordMatch(ctx, kind)
		if r.logger != nil {
			r.logger.Debug("tentative person resolved", "key", p.key, "person_id", personID, "match", kind)
		}
	}
	stats.UnlinkedAdded = sess.addUnlinked(unlinked, out)
	r.metrics.RecordStage(ctx, operationResolve, "merge", r.now().Sub(mergeStart).Milliseconds())

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	persistStart := r.now()
	for _, c := range corrupt {
		r.quarantine(ctx, c)
	}
	if err := store.Save(r.cfg.StorePath, sess.st); err != nil {
		return nil, stats, err
	}
	if err := store.SaveClusterLog(r.cfg.ClusterPath, sess.clusters); err != nil {
		return nil, stats, err
	}
	r.metrics.RecordStage(ctx, operationResolve, "persist", r.now().Sub(persistStart).Milliseconds())

	counts := sess.st.Counts()
	r.metrics.SetStorageCount(ctx, "persons", counts.Persons)
	r.metrics.SetStorageCount(ctx, "person_values", counts.PersonEntries)
	r.metrics.SetStorageCount(ctx, "unlinked_values", counts.UnlinkedValues)

	return out, stats, nil
}

// corruptFile is a store or cluster file found unreadable during load. It is
// moved aside only once the replacement is about to be written.
type corruptFile struct {
	file  string
	path  string
	cause error
}

// load reads the store and cluster log. Corrupt files abort in strict mode;
// otherwise they load as empty and are returned for quarantine.
func (r *Resolver) load(stats *Stats) (*session, []corruptFile, error) {
	var corrupt []corruptFile

	st, err := store.Load(r.cfg.StorePath)
	if err != nil {
		if !errors.Is(err, store.ErrCorruptStore) || r.cfg.StrictLoad {
			return nil, nil, err
		}
		corrupt = append(corrupt, corruptFile{file: "store", path: r.cfg.StorePath, cause: err})
		stats.StoreReset = true
	}

	clusters, err := store.LoadClusterLog(r.cfg.ClusterPath)
	if err != nil {
		if !errors.Is(err, store.ErrCorruptStore) || r.cfg.StrictLoad {
			return nil, nil, err
		}
		corrupt = append(corrupt, corruptFile{file: "clusters", path: r.cfg.ClusterPath, cause: err})
	}

	return newSession(st, clusters), corrupt, nil
}

// quarantine moves a corrupt file aside before it is overwritten.
func (r *Resolver) quarantine(ctx context.Context, c corruptFile) {
	r.metrics.RecordStoreReset(ctx, c.file)
	moved, qErr := store.QuarantineCorrupt(c.path, r.now())
	if r.logger == nil {
		return
	}
	if qErr != nil {
		r.logger.Warn("corrupt file reset to empty; could not move it aside",
			"file", c.file, "path", c.path, "error", c.cause, "quarantine_error", qErr)
		return
	}
	r.logger.Warn("corrupt file reset to empty",
		"file", c.file, "path", c.path, "moved_to", moved, "error", c.cause)
}
