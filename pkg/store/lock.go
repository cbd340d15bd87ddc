package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when the store lock could not be obtained within
// the configured wait.
var ErrLockTimeout = errors.New("timed out waiting for store lock")

// lockRetryDelay is how often a contended lock is retried.
const lockRetryDelay = 10 * time.Millisecond

// In-process gates, one per lock path. The OS lock serializes processes; the
// gate keeps goroutines of this process from racing on the same lock file.
var (
	gatesMu sync.Mutex
	gates   = make(map[string]chan struct{})
)

func gateFor(path string) chan struct{} {
	gatesMu.Lock()
	defer gatesMu.Unlock()
	g, ok := gates[path]
	if !ok {
		g = make(chan struct{}, 1)
		gates[path] = g
	}
	return g
}

// FileLock is an exclusive advisory lock scoped to a store file. The lock
// file lives next to the store as <store>.lock.
type FileLock struct {
	path string
	gate chan struct{}
}

// Lease is a held lock. Release must be called exactly once.
type Lease struct {
	fl   *flock.Flock
	gate chan struct{}
	once sync.Once
}

// NewFileLock returns the lock guarding storePath.
func NewFileLock(storePath string) *FileLock {
	path := storePath + ".lock"
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &FileLock{path: path, gate: gateFor(path)}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire blocks until the lock is held, ctx is done or timeout elapses.
// A timeout <= 0 waits for ctx only. Timeout expiry returns ErrLockTimeout.
func (l *FileLock) Acquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case l.gate <- struct{}{}:
	case <-waitCtx.Done():
		return nil, l.waitErr(ctx, waitCtx, timeout)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), dirPerm); err != nil {
		<-l.gate
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(l.path)
	locked, err := fl.TryLockContext(waitCtx, lockRetryDelay)
	if err != nil || !locked {
		<-l.gate
		if waitCtx.Err() != nil {
			return nil, l.waitErr(ctx, waitCtx, timeout)
		}
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return nil, fmt.Errorf("lock %s: %w", l.path, err)
	}

	return &Lease{fl: fl, gate: l.gate}, nil
}

func (l *FileLock) waitErr(parent, waitCtx context.Context, timeout time.Duration) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %s", ErrLockTimeout, timeout, l.path)
	}
	return waitCtx.Err()
}

// Release unlocks the file and frees the in-process gate.
func (h *Lease) Release() error {
	var err error
	h.once.Do(func() {
		err = h.fl.Unlock()
		<-h.gate
	})
	return err
}
