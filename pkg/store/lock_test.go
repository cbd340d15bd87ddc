package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "data", "store.json")
	l := NewFileLock(storePath)
	assert.Equal(t, "store.json.lock", filepath.Base(l.Path()))

	lease, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, lease.Release())
	// Double release is harmless.
	require.NoError(t, lease.Release())

	lease, err = l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, lease.Release())
}

func TestFileLock_TimeoutIsDistinctError(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.json")
	held, err := NewFileLock(storePath).Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer held.Release()

	_, err = NewFileLock(storePath).Acquire(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
}

func TestFileLock_ContextCancel(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.json")
	held, err := NewFileLock(storePath).Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewFileLock(storePath).Acquire(ctx, 0)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrLockTimeout))
}

func TestFileLock_HeldAgainstOtherDescriptors(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.json")
	l := NewFileLock(storePath)
	lease, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	other := flock.New(l.Path())
	ok, err := other.TryLock()
	require.NoError(t, err)
	assert.False(t, ok, "OS lock must be held while the lease is active")

	require.NoError(t, lease.Release())

	ok, err = other.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, other.Unlock())
}

func TestFileLock_WaiterProceedsAfterRelease(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.json")
	held, err := NewFileLock(storePath).Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		lease, err := NewFileLock(storePath).Acquire(context.Background(), 5*time.Second)
		if err == nil {
			err = lease.Release()
		}
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, held.Release())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}
