package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/audit"
	"github.com/finscope/txsync/pkg/models"
	"github.com/finscope/txsync/pkg/provider"
	"github.com/finscope/txsync/pkg/views"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAccountRepo struct {
	accounts   map[uuid.UUID]models.Account
	byUser     map[uuid.UUID][]models.Account
	watermarks map[uuid.UUID]time.Time
}

func newStubAccountRepo() *stubAccountRepo {
	return &stubAccountRepo{
		accounts:   map[uuid.UUID]models.Account{},
		byUser:     map[uuid.UUID][]models.Account{},
		watermarks: map[uuid.UUID]time.Time{},
	}
}

func (s *stubAccountRepo) add(account models.Account) {
	s.accounts[account.ID] = account
	s.byUser[account.UserID] = append(s.byUser[account.UserID], account)
}

func (s *stubAccountRepo) Create(_ context.Context, account models.Account) error {
	s.add(account)
	return nil
}

func (s *stubAccountRepo) FindById(_ context.Context, accountID uuid.UUID) (models.Account, error) {
	account, ok := s.accounts[accountID]
	if !ok {
		return models.Account{}, errors.New("account not found")
	}
	return account, nil
}

func (s *stubAccountRepo) FindByUserId(_ context.Context, userID uuid.UUID) ([]models.Account, error) {
	return s.byUser[userID], nil
}

func (s *stubAccountRepo) FindByProviderAccountId(_ context.Context, _ string) (models.Account, error) {
	return models.Account{}, errors.New("not implemented")
}

func (s *stubAccountRepo) FindStale(_ context.Context, _ time.Time) ([]models.Account, error) {
	return nil, nil
}

func (s *stubAccountRepo) UpdateLastSyncAt(_ context.Context, accountID uuid.UUID, ts time.Time) error {
	s.watermarks[accountID] = ts
	return nil
}

type stubSyncLogRepo struct {
	created   []models.SyncLog
	completed map[uuid.UUID]int
	failed    map[uuid.UUID]string
	createErr error
}

func newStubSyncLogRepo() *stubSyncLogRepo {
	return &stubSyncLogRepo{completed: map[uuid.UUID]int{}, failed: map[uuid.UUID]string{}}
}

func (s *stubSyncLogRepo) Create(_ context.Context, log models.SyncLog) (uuid.UUID, error) {
	if s.createErr != nil {
		return uuid.Nil, s.createErr
	}
	log.ID = uuid.New()
	s.created = append(s.created, log)
	return log.ID, nil
}

func (s *stubSyncLogRepo) MarkCompleted(_ context.Context, id uuid.UUID, _ time.Time, insertedCount int) error {
	s.completed[id] = insertedCount
	return nil
}

func (s *stubSyncLogRepo) MarkFailed(_ context.Context, id uuid.UUID, _ time.Time, errorText string) error {
	s.failed[id] = errorText
	return nil
}

func (s *stubSyncLogRepo) FindRecent(_ context.Context, _, _ *uuid.UUID, _ int) ([]models.SyncLog, error) {
	return nil, nil
}

func (s *stubSyncLogRepo) ReapRunning(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type stubAuditRepo struct {
	events []models.AuditEvent
}

func (s *stubAuditRepo) Insert(_ context.Context, event models.AuditEvent) (uuid.UUID, error) {
	event.ID = uuid.New()
	s.events = append(s.events, event)
	return event.ID, nil
}

func (s *stubAuditRepo) FindByCorrelationId(_ context.Context, correlationID uuid.UUID) ([]models.AuditEvent, error) {
	var out []models.AuditEvent
	for _, e := range s.events {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubProvider struct {
	transactions map[string][]provider.RawTransaction
	fetchErr     error
	accountErrs  map[string]error
	lastSince    *time.Time
}

func (s *stubProvider) FetchTransactions(_ context.Context, providerAccountID string, since *time.Time, _ int) ([]provider.RawTransaction, error) {
	s.lastSince = since
	if err := s.accountErrs[providerAccountID]; err != nil {
		return nil, &provider.FetchError{ProviderAccountID: providerAccountID, Err: err}
	}
	if s.fetchErr != nil {
		return nil, &provider.FetchError{ProviderAccountID: providerAccountID, Err: s.fetchErr}
	}
	return s.transactions[providerAccountID], nil
}

// stubUpserter maps provider tx ids to programmed outcomes.
type stubUpserter struct {
	outcomes map[string]Outcome
	errs     map[string]error
	seen     []string
}

func (s *stubUpserter) Upsert(_ context.Context, _, _ uuid.UUID, raw provider.RawTransaction) (Outcome, error) {
	s.seen = append(s.seen, raw.ID)
	if err := s.errs[raw.ID]; err != nil {
		return OutcomeSkipped, err
	}
	return s.outcomes[raw.ID], nil
}

type syncerFixture struct {
	syncer   *Syncer
	accounts *stubAccountRepo
	syncLogs *stubSyncLogRepo
	audits   *stubAuditRepo
	provider *stubProvider
	upserter *stubUpserter
}

func newSyncerFixture() *syncerFixture {
	logger := zap.NewNop()
	f := &syncerFixture{
		accounts: newStubAccountRepo(),
		syncLogs: newStubSyncLogRepo(),
		audits:   &stubAuditRepo{},
		provider: &stubProvider{transactions: map[string][]provider.RawTransaction{}, accountErrs: map[string]error{}},
		upserter: &stubUpserter{outcomes: map[string]Outcome{}, errs: map[string]error{}},
	}
	scoper := audit.NewScoper(logger, audit.NewAuditor(logger, f.audits), f.syncLogs)
	f.syncer = NewSyncer(SyncerConfig{
		Logger:      logger,
		AccountRepo: f.accounts,
		Upserter:    f.upserter,
		Provider:    f.provider,
		Scoper:      scoper,
	})
	return f
}

func TestSyncAccount_CountsEveryRecordExactlyOnce(t *testing.T) {
	f := newSyncerFixture()
	userID, accountID := uuid.New(), uuid.New()
	f.accounts.add(models.Account{ID: accountID, UserID: userID, ProviderAccountID: "acc-1"})

	f.provider.transactions["acc-1"] = []provider.RawTransaction{
		{ID: "t1"}, {ID: "t2"}, {ID: "t3"}, {ID: "t4"},
	}
	f.upserter.outcomes["t1"] = OutcomeInserted
	f.upserter.outcomes["t2"] = OutcomeInserted
	f.upserter.outcomes["t3"] = OutcomeSkipped
	f.upserter.errs["t4"] = errors.New("bad record")

	result, err := f.syncer.SyncAccount(context.Background(), views.SyncJob{
		UserID:    userID.String(),
		AccountID: accountID.String(),
	})

	require.NoError(t, err)
	assert.Equal(t, pkg.SyncStatusCompleted, result.Status)
	assert.Equal(t, 2, result.InsertedCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Equal(t, 1, result.ErrorCount)
	// inserted + skipped + errors == fetched
	assert.Equal(t, 4, result.InsertedCount+result.SkippedCount+result.ErrorCount)

	// SyncLog completed with the inserted count, watermark advanced.
	require.Len(t, f.syncLogs.created, 1)
	assert.Equal(t, 2, f.syncLogs.completed[result.SyncLogID])
	assert.Empty(t, f.syncLogs.failed)
	assert.False(t, f.accounts.watermarks[accountID].IsZero())
}

func TestSyncAccount_SecondPassIsIdempotent(t *testing.T) {
	f := newSyncerFixture()
	userID, accountID := uuid.New(), uuid.New()
	f.accounts.add(models.Account{ID: accountID, UserID: userID, ProviderAccountID: "acc-1"})
	f.provider.transactions["acc-1"] = []provider.RawTransaction{{ID: "t1"}, {ID: "t2"}}
	f.upserter.outcomes["t1"] = OutcomeInserted
	f.upserter.outcomes["t2"] = OutcomeInserted

	job := views.SyncJob{UserID: userID.String(), AccountID: accountID.String()}
	first, err := f.syncer.SyncAccount(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, first.InsertedCount)

	// Same window replayed: everything dedups.
	f.upserter.outcomes["t1"] = OutcomeSkipped
	f.upserter.outcomes["t2"] = OutcomeSkipped
	second, err := f.syncer.SyncAccount(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 0, second.InsertedCount)
	assert.Equal(t, 2, second.SkippedCount)
	assert.Equal(t, pkg.SyncStatusCompleted, second.Status)
}

func TestSyncAccount_FetchFailureMarksLogFailed(t *testing.T) {
	f := newSyncerFixture()
	userID, accountID := uuid.New(), uuid.New()
	f.accounts.add(models.Account{ID: accountID, UserID: userID, ProviderAccountID: "acc-1"})
	f.provider.fetchErr = errors.New("upstream 503")

	result, err := f.syncer.SyncAccount(context.Background(), views.SyncJob{
		UserID:    userID.String(),
		AccountID: accountID.String(),
	})

	require.Error(t, err)
	var fetchErr *provider.FetchError
	assert.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, pkg.SyncStatusFailed, result.Status)

	require.Len(t, f.syncLogs.created, 1)
	assert.Contains(t, f.syncLogs.failed[result.SyncLogID], "upstream 503")
	// No watermark movement on failure.
	assert.Empty(t, f.accounts.watermarks)
}

func TestSyncAccount_SinceResolution(t *testing.T) {
	t.Run("explicit job since wins", func(t *testing.T) {
		f := newSyncerFixture()
		userID, accountID := uuid.New(), uuid.New()
		watermark := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		f.accounts.add(models.Account{ID: accountID, UserID: userID, ProviderAccountID: "acc-1", LastSyncAt: &watermark})

		since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		_, err := f.syncer.SyncAccount(context.Background(), views.SyncJob{
			UserID:    userID.String(),
			AccountID: accountID.String(),
			SinceTS:   &since,
		})
		require.NoError(t, err)
		require.NotNil(t, f.provider.lastSince)
		assert.Equal(t, since, *f.provider.lastSince)
	})

	t.Run("falls back to account watermark", func(t *testing.T) {
		f := newSyncerFixture()
		userID, accountID := uuid.New(), uuid.New()
		watermark := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		f.accounts.add(models.Account{ID: accountID, UserID: userID, ProviderAccountID: "acc-1", LastSyncAt: &watermark})

		_, err := f.syncer.SyncAccount(context.Background(), views.SyncJob{
			UserID:    userID.String(),
			AccountID: accountID.String(),
		})
		require.NoError(t, err)
		require.NotNil(t, f.provider.lastSince)
		assert.Equal(t, watermark, *f.provider.lastSince)
	})

	t.Run("never-synced account gets bounded lookback", func(t *testing.T) {
		f := newSyncerFixture()
		userID, accountID := uuid.New(), uuid.New()
		f.accounts.add(models.Account{ID: accountID, UserID: userID, ProviderAccountID: "acc-1"})

		_, err := f.syncer.SyncAccount(context.Background(), views.SyncJob{
			UserID:    userID.String(),
			AccountID: accountID.String(),
		})
		require.NoError(t, err)
		require.NotNil(t, f.provider.lastSince)
		expected := time.Now().UTC().Add(-DefaultInitialSyncWindow)
		assert.WithinDuration(t, expected, *f.provider.lastSince, 5*time.Second)
	})
}

func TestSyncAccount_RejectsForeignAccount(t *testing.T) {
	f := newSyncerFixture()
	owner, intruder, accountID := uuid.New(), uuid.New(), uuid.New()
	f.accounts.add(models.Account{ID: accountID, UserID: owner, ProviderAccountID: "acc-1"})

	_, err := f.syncer.SyncAccount(context.Background(), views.SyncJob{
		UserID:    intruder.String(),
		AccountID: accountID.String(),
	})

	require.Error(t, err)
	// Rejected before any SyncLog is created.
	assert.Empty(t, f.syncLogs.created)
}

func TestSyncAccount_AuditTrailSharesCorrelationID(t *testing.T) {
	f := newSyncerFixture()
	userID, accountID := uuid.New(), uuid.New()
	f.accounts.add(models.Account{ID: accountID, UserID: userID, ProviderAccountID: "acc-1"})

	result, err := f.syncer.SyncAccount(context.Background(), views.SyncJob{
		UserID:    userID.String(),
		AccountID: accountID.String(),
	})
	require.NoError(t, err)

	events, err := f.audits.FindByCorrelationId(context.Background(), result.CorrelationID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, string(audit.EventSyncStart), events[0].EventType)
	assert.Equal(t, string(audit.EventSyncEnd), events[1].EventType)
}

func TestSyncAllAccounts_IsolatesPerAccountFailures(t *testing.T) {
	f := newSyncerFixture()
	userID := uuid.New()
	goodID, badID := uuid.New(), uuid.New()
	f.accounts.add(models.Account{ID: goodID, UserID: userID, ProviderAccountID: "acc-good"})
	f.accounts.add(models.Account{ID: badID, UserID: userID, ProviderAccountID: "acc-bad"})

	f.provider.transactions["acc-good"] = []provider.RawTransaction{{ID: "t1"}}
	f.upserter.outcomes["t1"] = OutcomeInserted
	f.provider.accountErrs["acc-bad"] = errors.New("upstream timeout")

	results, err := f.syncer.SyncAllAccounts(context.Background(), userID)

	require.NoError(t, err)
	require.Len(t, results, 2)

	byStatus := map[pkg.SyncStatus]int{}
	for _, r := range results {
		byStatus[r.Status]++
	}
	assert.Equal(t, 1, byStatus[pkg.SyncStatusCompleted])
	assert.Equal(t, 1, byStatus[pkg.SyncStatusFailed])
}
