package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*PeriodLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPeriodLocker(client, time.Second, 100*time.Millisecond), mr
}

func TestPeriodLockerAcquireRelease(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, 1, 42)
	require.NoError(t, err)
	require.True(t, mr.Exists(PeriodLockKey(1, 42)))

	require.NoError(t, locker.Release(ctx, lease))
	require.False(t, mr.Exists(PeriodLockKey(1, 42)))
}

func TestPeriodLockerContention(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, 1, 42)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, 1, 42)
	require.ErrorIs(t, err, ErrBusy)

	// Distinct periods do not contend.
	other, err := locker.Acquire(ctx, 1, 43)
	require.NoError(t, err)
	require.NoError(t, locker.Release(ctx, other))

	require.NoError(t, locker.Release(ctx, lease))
	relocked, err := locker.Acquire(ctx, 1, 42)
	require.NoError(t, err)
	require.NoError(t, locker.Release(ctx, relocked))
}

func TestPeriodLockerReleaseIsTokenScoped(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, 1, 42)
	require.NoError(t, err)

	// TTL expires while the first holder stalls; a second holder takes over.
	mr.FastForward(2 * time.Second)
	fresh, err := locker.Acquire(ctx, 1, 42)
	require.NoError(t, err)

	// The stale lease must not free the new holder's lock.
	require.NoError(t, locker.Release(ctx, stale))
	require.True(t, mr.Exists(PeriodLockKey(1, 42)))

	require.NoError(t, locker.Release(ctx, fresh))
	require.False(t, mr.Exists(PeriodLockKey(1, 42)))
}

func TestPeriodLockerAcquireHonoursContext(t *testing.T) {
	locker, _ := newTestLocker(t)

	lease, err := locker.Acquire(context.Background(), 1, 42)
	require.NoError(t, err)
	defer func() { _ = locker.Release(context.Background(), lease) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Acquire(ctx, 1, 42)
	require.ErrorIs(t, err, context.Canceled)
}
