package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/storage"
)

func openTestDistLock(t *testing.T) (*storage.DistLock, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	lock, err := storage.NewDistLock("redis://"+mr.Addr(), "holon-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lock.Close() })
	return lock, mr.Addr()
}

func TestDistLockAcquireThenHeldReportsTrue(t *testing.T) {
	lock, _ := openTestDistLock(t)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	held, err := lock.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestDistLockSecondAcquireFailsWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	first, err := storage.NewDistLock("redis://"+mr.Addr(), "holon-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })
	ok, err := first.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	second, err := storage.NewDistLock("redis://"+mr.Addr(), "holon-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	ok, err = second.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a second process must not acquire an already-held lease")
}

func TestDistLockReleaseAllowsReacquire(t *testing.T) {
	lock, addr := openTestDistLock(t)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx))

	other, err := storage.NewDistLock("redis://"+addr, "holon-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })
	ok, err = other.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
