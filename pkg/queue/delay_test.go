package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/finscope/txsync/pkg/views"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDelayQueue(t *testing.T) (*RedisDelayQueue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDelayQueue(zap.NewNop(), client, DefaultNames().Retry), client
}

func TestDelayQueue_HoldsUntilDue(t *testing.T) {
	d, client := newTestDelayQueue(t)
	ctx := context.Background()

	job := views.SyncJob{UserID: uuid.NewString(), AccountID: uuid.NewString(), RetryCount: 1}
	require.NoError(t, d.Push(ctx, job, time.Hour))

	ready, err := d.PopReady(ctx)
	require.NoError(t, err)
	assert.Empty(t, ready)

	// Entry stays parked.
	depth, err := client.LLen(ctx, d.key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestDelayQueue_PromotesDueEntries(t *testing.T) {
	d, client := newTestDelayQueue(t)
	ctx := context.Background()

	due := views.SyncJob{UserID: uuid.NewString(), AccountID: uuid.NewString(), RetryCount: 2}
	future := views.SyncJob{UserID: uuid.NewString(), AccountID: uuid.NewString()}
	require.NoError(t, d.Push(ctx, due, -time.Second))
	require.NoError(t, d.Push(ctx, future, time.Hour))

	ready, err := d.PopReady(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, due.AccountID, ready[0].AccountID)
	assert.Equal(t, 2, ready[0].RetryCount)

	// Only the future entry remains.
	depth, err := client.LLen(ctx, d.key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestDelayQueue_RetryAtCarriesDelay(t *testing.T) {
	d, client := newTestDelayQueue(t)
	ctx := context.Background()

	require.NoError(t, d.Push(ctx, views.SyncJob{
		UserID:    uuid.NewString(),
		AccountID: uuid.NewString(),
	}, 30*time.Second))

	raw, err := client.LRange(ctx, d.key, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var entry views.RetryEntry
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &entry))
	assert.WithinDuration(t, time.Now().UTC().Add(30*time.Second), entry.RetryAt, 2*time.Second)
}

func TestDelayQueue_DropsMalformedEntries(t *testing.T) {
	d, client := newTestDelayQueue(t)
	ctx := context.Background()

	require.NoError(t, client.LPush(ctx, d.key, "{broken").Err())
	due := views.SyncJob{UserID: uuid.NewString(), AccountID: uuid.NewString()}
	require.NoError(t, d.Push(ctx, due, 0))

	ready, err := d.PopReady(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, due.AccountID, ready[0].AccountID)

	// The malformed entry was removed, not left to wedge every scan.
	depth, err := client.LLen(ctx, d.key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}
