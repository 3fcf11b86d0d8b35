package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestAcquire_SecondHolderRejected(t *testing.T) {
	_, client := setup(t)
	ctx := context.Background()

	a := New(client, "collector", time.Minute)
	b := New(client, "collector", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lock")
}

func TestRelease_AllowsReacquire(t *testing.T) {
	_, client := setup(t)
	ctx := context.Background()

	a := New(client, "collector", time.Minute)
	b := New(client, "collector", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	a.Release(ctx)
	assert.False(t, a.IsHeld(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRelease_DoesNotDeleteForeignLock(t *testing.T) {
	_, client := setup(t)
	ctx := context.Background()

	a := New(client, "collector", time.Minute)
	b := New(client, "collector", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// b never acquired; its token differs, so release must be a no-op
	b.Release(ctx)
	assert.True(t, a.IsHeld(ctx), "foreign release must not clear the lock")
}

func TestAcquire_AfterTTLExpiry(t *testing.T) {
	mr, client := setup(t)
	ctx := context.Background()

	a := New(client, "collector", 2*time.Second)
	b := New(client, "collector", 2*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(3 * time.Second)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock must be acquirable")
}

func TestAcquire_FailsClosedOnTransportError(t *testing.T) {
	mr, client := setup(t)
	ctx := context.Background()

	a := New(client, "collector", time.Minute)
	mr.Close()

	ok, err := a.Acquire(ctx)
	assert.Error(t, err)
	assert.False(t, ok)
}
