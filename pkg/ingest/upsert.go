package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/models"
	"github.com/finscope/txsync/pkg/provider"
	"github.com/finscope/txsync/pkg/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome is the result of one upsert attempt.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeSkipped  Outcome = "skipped"
)

// timestamp layouts accepted from the provider, tried in order.
var acceptedTSLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CategorizeEnqueuer hands newly inserted transactions to the (external)
// categorization pipeline. Best effort; may be nil.
type CategorizeEnqueuer interface {
	EnqueueCategorize(ctx context.Context, transactionID, userID uuid.UUID) error
}

// UpsertStore inserts a transaction exactly once per fingerprint.
// Parse failures are absorbed: the record is skipped and the error is
// returned for the caller's error counter; a bad record never aborts a batch
// and never panics past this boundary.
type UpsertStore struct {
	logger     *zap.Logger
	txRepo     repositories.TransactionRepository
	categorize CategorizeEnqueuer
}

func NewUpsertStore(logger *zap.Logger, txRepo repositories.TransactionRepository, categorize CategorizeEnqueuer) *UpsertStore {
	return &UpsertStore{logger: logger, txRepo: txRepo, categorize: categorize}
}

// Upsert computes the fingerprint for raw and inserts a PersistedTransaction
// when no row with that natural key exists yet.
//
// Returns (Skipped, nil) for duplicates, including the concurrent case where
// another worker wins the insert race: the unique constraint plus ON CONFLICT
// DO NOTHING make that indistinguishable from "found".
// Returns (Skipped, err) for records that fail to parse; storage errors on
// the lookup/insert itself are returned as (Skipped, err) as well.
func (u *UpsertStore) Upsert(ctx context.Context, userID, accountID uuid.UUID, raw provider.RawTransaction) (Outcome, error) {
	naturalKey := Fingerprint(u.logger, userID.String(), accountID.String(), raw.ID, raw.Amount, raw.TS)

	exists, err := u.txRepo.ExistsByNaturalKey(ctx, naturalKey)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("lookup natural key: %w", err)
	}
	if exists {
		u.logger.Debug("transaction already persisted",
			zap.String(pkg.NaturalKey, naturalKey),
			zap.String("provider_tx_id", raw.ID))
		return OutcomeSkipped, nil
	}

	transaction, err := u.parseTransaction(userID, accountID, naturalKey, raw)
	if err != nil {
		u.logger.Warn("malformed provider transaction skipped",
			zap.String("provider_tx_id", raw.ID),
			zap.Error(err))
		return OutcomeSkipped, err
	}

	inserted, err := u.txRepo.Insert(ctx, transaction)
	if err != nil {
		if pkg.IsUniqueViolation(err) {
			// Lost the race to a concurrent worker; same as "found".
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, fmt.Errorf("insert transaction: %w", err)
	}
	if !inserted {
		// ON CONFLICT DO NOTHING hit the unique natural key.
		return OutcomeSkipped, nil
	}

	u.logger.Debug("transaction persisted",
		zap.String(pkg.NaturalKey, naturalKey),
		zap.String("provider_tx_id", raw.ID))

	if u.categorize != nil {
		if err := u.categorize.EnqueueCategorize(ctx, transaction.ID, userID); err != nil {
			u.logger.Warn("failed to enqueue categorization job",
				zap.String("transaction_id", transaction.ID.String()),
				zap.Error(err))
		}
	}
	return OutcomeInserted, nil
}

func (u *UpsertStore) parseTransaction(userID, accountID uuid.UUID, naturalKey string, raw provider.RawTransaction) (models.Transaction, error) {
	ts, err := parseTimestamp(raw.TS)
	if err != nil {
		return models.Transaction{}, err
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(raw.Amount))
	if err != nil {
		return models.Transaction{}, fmt.Errorf("parse amount %q: %w", raw.Amount, err)
	}
	if amount.IsNegative() {
		return models.Transaction{}, fmt.Errorf("amount %s is negative", amount)
	}

	txType := pkg.TransactionType(strings.ToLower(strings.TrimSpace(raw.Type)))
	if txType != pkg.TransactionTypeDebit && txType != pkg.TransactionTypeCredit {
		txType = pkg.TransactionTypeDebit
	}

	return models.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		AccountID:    accountID,
		ProviderTxID: naturalKey,
		TS:           ts,
		Amount:       amount,
		Type:         txType,
		RawDesc:      raw.RawDesc,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range acceptedTSLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
