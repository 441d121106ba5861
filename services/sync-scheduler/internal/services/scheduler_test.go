package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finscope/txsync/pkg/models"
	"github.com/finscope/txsync/pkg/views"
	"github.com/finscope/txsync/services/sync-scheduler/configs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAccountSource struct {
	accounts  []models.Account
	err       error
	threshold time.Time
}

func (s *stubAccountSource) FindStale(_ context.Context, threshold time.Time) ([]models.Account, error) {
	s.threshold = threshold
	return s.accounts, s.err
}

type stubSink struct {
	jobs       []views.SyncJob
	runs       []views.SchedulerRun
	enqueueErr map[string]error
	pushErr    error
}

func (s *stubSink) Enqueue(_ context.Context, job views.SyncJob) error {
	if err, ok := s.enqueueErr[job.AccountID]; ok {
		return err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *stubSink) PushSchedulerRun(_ context.Context, run views.SchedulerRun) error {
	if s.pushErr != nil {
		return s.pushErr
	}
	s.runs = append(s.runs, run)
	return nil
}

func testConfig() *configs.Config {
	return &configs.Config{
		Enabled:         true,
		Interval:        15 * time.Minute,
		StaleThreshold:  6 * time.Hour,
		InitialLookback: 168 * time.Hour,
	}
}

func linkedAccount(lastSyncAt *time.Time) models.Account {
	return models.Account{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		ProviderAccountID: "mock-acc-1",
		LastSyncAt:        lastSyncAt,
	}
}

func TestRunOnce_SchedulesStaleAccounts(t *testing.T) {
	watermark := time.Now().UTC().Add(-10 * time.Hour)
	source := &stubAccountSource{accounts: []models.Account{
		linkedAccount(&watermark),
		linkedAccount(nil),
	}}
	sink := &stubSink{}
	s := NewScheduler(zap.NewNop(), testConfig(), source, sink)

	run, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, run.TotalAccounts)
	assert.Equal(t, 2, run.ScheduledCount)
	assert.Zero(t, run.SkippedCount)
	assert.Zero(t, run.ErrorCount)
	require.Len(t, sink.jobs, 2)

	// The stale cutoff passed to the store reflects the configured threshold.
	assert.WithinDuration(t, time.Now().UTC().Add(-6*time.Hour), source.threshold, 2*time.Second)
}

func TestRunOnce_SinceComesFromWatermark(t *testing.T) {
	watermark := time.Now().UTC().Add(-10 * time.Hour)
	source := &stubAccountSource{accounts: []models.Account{linkedAccount(&watermark)}}
	sink := &stubSink{}
	s := NewScheduler(zap.NewNop(), testConfig(), source, sink)

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.jobs, 1)
	require.NotNil(t, sink.jobs[0].SinceTS)
	assert.True(t, sink.jobs[0].SinceTS.Equal(watermark))
}

func TestRunOnce_NeverSyncedAccountGetsLookbackWindow(t *testing.T) {
	source := &stubAccountSource{accounts: []models.Account{linkedAccount(nil)}}
	sink := &stubSink{}
	s := NewScheduler(zap.NewNop(), testConfig(), source, sink)

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.jobs, 1)
	require.NotNil(t, sink.jobs[0].SinceTS)
	assert.WithinDuration(t, time.Now().UTC().Add(-168*time.Hour), *sink.jobs[0].SinceTS, 2*time.Second)
}

func TestRunOnce_SkipsUnlinkedAccounts(t *testing.T) {
	unlinked := linkedAccount(nil)
	unlinked.ProviderAccountID = ""
	source := &stubAccountSource{accounts: []models.Account{unlinked, linkedAccount(nil)}}
	sink := &stubSink{}
	s := NewScheduler(zap.NewNop(), testConfig(), source, sink)

	run, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.SkippedCount)
	assert.Equal(t, 1, run.ScheduledCount)
	require.Len(t, sink.jobs, 1)
}

func TestRunOnce_EnqueueFailureDoesNotStarveOthers(t *testing.T) {
	bad := linkedAccount(nil)
	good := linkedAccount(nil)
	source := &stubAccountSource{accounts: []models.Account{bad, good}}
	sink := &stubSink{enqueueErr: map[string]error{bad.ID.String(): errors.New("redis down")}}
	s := NewScheduler(zap.NewNop(), testConfig(), source, sink)

	run, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.ErrorCount)
	assert.Equal(t, 1, run.ScheduledCount)
	require.Len(t, sink.jobs, 1)
	assert.Equal(t, good.ID.String(), sink.jobs[0].AccountID)
}

func TestRunOnce_PushesRunSummary(t *testing.T) {
	source := &stubAccountSource{accounts: []models.Account{linkedAccount(nil)}}
	sink := &stubSink{}
	s := NewScheduler(zap.NewNop(), testConfig(), source, sink)

	run, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.runs, 1)
	assert.Equal(t, run, sink.runs[0])
}

func TestRunOnce_SummaryPushFailureIsNotFatal(t *testing.T) {
	source := &stubAccountSource{accounts: []models.Account{linkedAccount(nil)}}
	sink := &stubSink{pushErr: errors.New("redis down")}
	s := NewScheduler(zap.NewNop(), testConfig(), source, sink)

	run, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.ScheduledCount)
}

func TestRunOnce_StoreFailureIsFatal(t *testing.T) {
	source := &stubAccountSource{err: errors.New("connection refused")}
	sink := &stubSink{}
	s := NewScheduler(zap.NewNop(), testConfig(), source, sink)

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, sink.jobs)
	assert.Empty(t, sink.runs)
}

func TestStart_DisabledRunsIdle(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	source := &stubAccountSource{accounts: []models.Account{linkedAccount(nil)}}
	sink := &stubSink{}
	s := NewScheduler(zap.NewNop(), cfg, source, sink)

	wait := s.Start(context.Background())
	wait()
	assert.Empty(t, sink.jobs)
}
