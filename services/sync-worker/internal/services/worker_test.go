package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/ingest"
	"github.com/finscope/txsync/pkg/queue"
	"github.com/finscope/txsync/pkg/views"
	"github.com/finscope/txsync/services/sync-worker/configs"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSyncer struct {
	result ingest.SyncResult
	err    error
	calls  []views.SyncJob
}

func (s *stubSyncer) SyncAccount(_ context.Context, job views.SyncJob) (ingest.SyncResult, error) {
	s.calls = append(s.calls, job)
	return s.result, s.err
}

type workerFixture struct {
	worker *SyncWorkerConfig
	queue  *queue.JobQueue
	delay  *queue.RedisDelayQueue
	lease  *queue.AccountLease
	client *redis.Client
	syncer *stubSyncer
	names  queue.Names
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zap.NewNop()
	names := queue.DefaultNames()
	cfg := &configs.Config{
		MaxRetryCount:      3,
		RetryDelays:        "30s,2m,5m",
		PopTimeout:         100 * time.Millisecond,
		MaxConcurrentSyncs: 2,
		LeaseTTL:           time.Minute,
		LeaseRequeueDelay:  5 * time.Second,
		DepthSampleEvery:   time.Minute,
	}
	f := &workerFixture{
		queue:  queue.NewJobQueue(logger, client, names),
		delay:  queue.NewRedisDelayQueue(logger, client, names.Retry),
		lease:  queue.NewAccountLease(logger, client, cfg.LeaseTTL),
		client: client,
		syncer: &stubSyncer{},
		names:  names,
	}
	f.worker = &SyncWorkerConfig{
		Context: context.Background(),
		Logger:  logger,
		Config:  cfg,
		Queue:   f.queue,
		Delay:   f.delay,
		Lease:   f.lease,
		Syncer:  f.syncer,
	}
	f.worker.retryDelays = []time.Duration{30 * time.Second, 2 * time.Minute, 5 * time.Minute}
	f.worker.syncSem = make(chan struct{}, cfg.MaxConcurrentSyncs)
	return f
}

func (f *workerFixture) retryEntries(t *testing.T) []views.RetryEntry {
	t.Helper()
	raws, err := f.client.LRange(context.Background(), f.names.Retry, 0, -1).Result()
	require.NoError(t, err)
	entries := make([]views.RetryEntry, 0, len(raws))
	for _, raw := range raws {
		var entry views.RetryEntry
		require.NoError(t, json.Unmarshal([]byte(raw), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func testJob() views.SyncJob {
	now := time.Now().UTC()
	return views.SyncJob{
		UserID:              uuid.NewString(),
		AccountID:           uuid.NewString(),
		OriginalEnqueueTime: &now,
	}
}

func TestHandleFailure_FirstFailureWaitsThirtySeconds(t *testing.T) {
	f := newWorkerFixture(t)

	f.worker.handleFailure(testJob(), errors.New("provider down"))

	entries := f.retryEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.WithinDuration(t, time.Now().UTC().Add(30*time.Second), entries[0].RetryAt, 2*time.Second)

	// The attempt shows up on the failed outcome list.
	failed, err := f.queue.RecentOutcomes(context.Background(), false, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.False(t, failed[0].Success)
}

func TestHandleFailure_DelayIndexedByPriorRetries(t *testing.T) {
	f := newWorkerFixture(t)

	job := testJob()
	job.RetryCount = 1
	f.worker.handleFailure(job, errors.New("still down"))

	entries := f.retryEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].RetryCount)
	assert.WithinDuration(t, time.Now().UTC().Add(2*time.Minute), entries[0].RetryAt, 2*time.Second)
}

func TestHandleFailure_LastDelayRepeats(t *testing.T) {
	f := newWorkerFixture(t)
	f.worker.Config.MaxRetryCount = 10

	job := testJob()
	job.RetryCount = 7
	f.worker.handleFailure(job, errors.New("still down"))

	entries := f.retryEntries(t)
	require.Len(t, entries, 1)
	assert.WithinDuration(t, time.Now().UTC().Add(5*time.Minute), entries[0].RetryAt, 2*time.Second)
}

func TestHandleFailure_DeadLettersAfterBudget(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	job := testJob()
	job.RetryCount = 3 // budget of 3 retries already spent
	f.worker.handleFailure(job, errors.New("permanent failure"))

	assert.Empty(t, f.retryEntries(t))

	dead, err := f.queue.DeadLetterEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, pkg.DLQReasonMaxRetries, dead[0].Reason)
	assert.Equal(t, job.AccountID, dead[0].AccountID)
	assert.Contains(t, dead[0].Error, "permanent failure")
}

func TestProcessJob_SuccessRecordsOutcomeAndFreesLease(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	f.syncer.result = ingest.SyncResult{
		Status:        pkg.SyncStatusCompleted,
		InsertedCount: 5,
		SkippedCount:  2,
		SyncLogID:     uuid.New(),
		CorrelationID: uuid.New(),
	}

	job := testJob()
	f.worker.processJob(job)

	require.Len(t, f.syncer.calls, 1)

	completed, err := f.queue.RecentOutcomes(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Success)
	assert.Equal(t, float64(5), completed[0].Result["inserted_count"])

	// Lease released: the account can be synced again immediately.
	_, ok, err := f.lease.Acquire(ctx, job.AccountID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcessJob_FailureGoesThroughRetryPolicy(t *testing.T) {
	f := newWorkerFixture(t)
	f.syncer.err = errors.New("fetch blew up")

	f.worker.processJob(testJob())

	entries := f.retryEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
}

func TestProcessJob_ContendedLeaseDefersJobUntouched(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	job := testJob()
	_, ok, err := f.lease.Acquire(ctx, job.AccountID)
	require.NoError(t, err)
	require.True(t, ok)

	f.worker.processJob(job)

	// Not an attempt: the syncer never ran and the retry counter is intact.
	assert.Empty(t, f.syncer.calls)
	entries := f.retryEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].RetryCount)
	assert.WithinDuration(t, time.Now().UTC().Add(5*time.Second), entries[0].RetryAt, 2*time.Second)

	failed, err := f.queue.RecentOutcomes(ctx, false, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestPromoteReadyRetries_MovesDueJobsToMainQueue(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	due := testJob()
	due.RetryCount = 1
	waiting := testJob()
	require.NoError(t, f.delay.Push(ctx, due, -time.Second))
	require.NoError(t, f.delay.Push(ctx, waiting, time.Hour))

	f.worker.promoteReadyRetries()

	got, err := f.queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, due.AccountID, got.AccountID)
	assert.Equal(t, 1, got.RetryCount)

	// The not-yet-due job stays parked.
	require.Len(t, f.retryEntries(t), 1)
}
