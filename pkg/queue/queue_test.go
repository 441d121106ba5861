package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/views"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) (*JobQueue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewJobQueue(zap.NewNop(), client, DefaultNames()), mr, client
}

func validJob() views.SyncJob {
	return views.SyncJob{
		UserID:    uuid.NewString(),
		AccountID: uuid.NewString(),
	}
}

func TestEnqueueDequeue_RoundTrip(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	since := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	job := validJob()
	job.SinceTS = &since

	require.NoError(t, q.Enqueue(ctx, job))

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, job.UserID, got.UserID)
	assert.Equal(t, job.AccountID, got.AccountID)
	require.NotNil(t, got.SinceTS)
	assert.True(t, since.Equal(*got.SinceTS))
	assert.Equal(t, 0, got.RetryCount)
	// First enqueue stamps the end-to-end latency anchor.
	require.NotNil(t, got.OriginalEnqueueTime)
	assert.WithinDuration(t, time.Now().UTC(), *got.OriginalEnqueueTime, 5*time.Second)
}

func TestEnqueue_PreservesOriginalEnqueueTime(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	anchor := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	job := validJob()
	job.OriginalEnqueueTime = &anchor
	job.RetryCount = 2

	require.NoError(t, q.Enqueue(ctx, job))
	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, anchor.Equal(*got.OriginalEnqueueTime))
	assert.Equal(t, 2, got.RetryCount)
}

func TestEnqueue_RejectsInvalidJob(t *testing.T) {
	q, _, _ := newTestQueue(t)

	err := q.Enqueue(context.Background(), views.SyncJob{UserID: "not-a-uuid", AccountID: uuid.NewString()})
	assert.Error(t, err)
}

func TestDequeue_EmptyQueueReturnsNil(t *testing.T) {
	q, _, _ := newTestQueue(t)

	got, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDequeue_InvalidPayloadGoesToDeadLetter(t *testing.T) {
	q, _, client := newTestQueue(t)
	ctx := context.Background()

	// Garbage JSON and a structurally valid but semantically invalid job.
	require.NoError(t, client.LPush(ctx, q.Names().Main, "{not json").Err())
	require.NoError(t, client.LPush(ctx, q.Names().Main, `{"user_id":"nope","account_id":"nope"}`).Err())

	for i := 0; i < 2; i++ {
		got, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err, "a poison payload must not error the consumer")
		assert.Nil(t, got)
	}

	entries, err := q.DeadLetterEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, pkg.DLQReasonInvalidPayload, entry.Reason)
		assert.NotEmpty(t, entry.Error)
	}
}

func TestRecordOutcome_RoutesAndCaps(t *testing.T) {
	q, _, client := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		require.NoError(t, q.RecordOutcome(ctx, views.JobOutcome{
			UserID:    uuid.NewString(),
			AccountID: uuid.NewString(),
			Success:   true,
		}))
	}
	require.NoError(t, q.RecordOutcome(ctx, views.JobOutcome{
		UserID:    uuid.NewString(),
		AccountID: uuid.NewString(),
		Success:   false,
	}))

	// Rolling window keeps the newest 100 entries.
	completed, err := client.LLen(ctx, q.Names().Completed).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(100), completed)

	failed, err := q.RecentOutcomes(ctx, false, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.False(t, failed[0].Success)
	assert.Equal(t, JobTypeAccountSync, failed[0].JobType)
	assert.False(t, failed[0].CompletedAt.IsZero())
}

func TestPushDeadLetterAndRequeue(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	job := validJob()
	job.RetryCount = 3
	require.NoError(t, q.PushDeadLetter(ctx, job, pkg.DLQReasonMaxRetries, assert.AnError))

	entries, err := q.DeadLetterEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, pkg.DLQReasonMaxRetries, entries[0].Reason)
	assert.Equal(t, 3, entries[0].RetryCount)
	assert.NotEmpty(t, entries[0].Error)

	requeued, err := q.RequeueDeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	// Back on the main queue with a fresh retry budget.
	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.AccountID, got.AccountID)
	assert.Equal(t, 0, got.RetryCount)

	// DLQ is drained.
	entries, err = q.DeadLetterEntries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRequeueDeadLetters_DropsUnrebuildableEntries(t *testing.T) {
	q, _, client := newTestQueue(t)
	ctx := context.Background()

	// An invalid-payload entry has no usable job fields.
	raw, _ := json.Marshal(views.DeadLetterEntry{
		FailedAt: time.Now().UTC(),
		Reason:   pkg.DLQReasonInvalidPayload,
		Error:    "json unmarshal error",
	})
	require.NoError(t, client.LPush(ctx, q.Names().DeadLetter, raw).Err())

	requeued, err := q.RequeueDeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, requeued)

	depth, err := client.LLen(ctx, q.Names().Main).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestSchedulerRuns_RoundTrip(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.PushSchedulerRun(ctx, views.SchedulerRun{
		ScheduledCount: 4,
		SkippedCount:   1,
		TotalAccounts:  5,
	}))

	runs, err := q.RecentSchedulerRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].ScheduledCount)
	assert.Equal(t, 1, runs[0].SkippedCount)
	assert.Equal(t, 5, runs[0].TotalAccounts)
	assert.False(t, runs[0].Timestamp.IsZero())
}

func TestEnqueueCategorize(t *testing.T) {
	q, _, client := newTestQueue(t)
	ctx := context.Background()

	txID, userID := uuid.New(), uuid.New()
	require.NoError(t, q.EnqueueCategorize(ctx, txID, userID))

	raw, err := client.RPop(ctx, q.Names().Categorize).Result()
	require.NoError(t, err)

	var job views.CategorizeJob
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.Equal(t, txID.String(), job.TransactionID)
	assert.Equal(t, userID.String(), job.UserID)
	assert.Equal(t, "categorize_transaction", job.JobType)
}

func TestDepths(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, validJob()))
	require.NoError(t, q.Enqueue(ctx, validJob()))
	require.NoError(t, q.PushDeadLetter(ctx, validJob(), pkg.DLQReasonMaxRetries, nil))

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depths[q.Names().Main])
	assert.Equal(t, int64(1), depths[q.Names().DeadLetter])
	assert.Equal(t, int64(0), depths[q.Names().Retry])
}
