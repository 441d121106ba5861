package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLease(t *testing.T, ttl time.Duration) (*AccountLease, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAccountLease(zap.NewNop(), client, ttl), mr
}

func TestAccountLease_SingleFlight(t *testing.T) {
	lease, _ := newTestLease(t, time.Minute)
	ctx := context.Background()

	release, ok, err := lease.Acquire(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Second acquisition on the same account loses.
	_, ok, err = lease.Acquire(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// A different account is unaffected.
	_, ok, err = lease.Acquire(ctx, "acc-2")
	require.NoError(t, err)
	assert.True(t, ok)

	// Released lease can be re-acquired.
	release(ctx)
	_, ok, err = lease.Acquire(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAccountLease_TTLBoundsCrashedHolder(t *testing.T) {
	lease, mr := newTestLease(t, time.Minute)
	ctx := context.Background()

	_, ok, err := lease.Acquire(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Holder crashes without releasing; TTL expiry frees the account.
	mr.FastForward(time.Minute + time.Second)

	_, ok, err = lease.Acquire(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAccountLease_StaleReleaseDoesNotFreeSuccessor(t *testing.T) {
	lease, mr := newTestLease(t, time.Minute)
	ctx := context.Background()

	staleRelease, ok, err := lease.Acquire(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, ok)

	// The first holder's lease expires and a second worker takes over.
	mr.FastForward(time.Minute + time.Second)
	_, ok, err = lease.Acquire(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, ok)

	// The crashed holder's deferred release fires late; the token no longer
	// matches, so the successor's lease must survive.
	staleRelease(ctx)

	_, ok, err = lease.Acquire(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
