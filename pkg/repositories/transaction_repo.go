package repositories

import (
	"context"
	"errors"

	"github.com/finscope/txsync/pkg/database"
	"github.com/finscope/txsync/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepository defines the interface for persisted transactions.
// The natural key (provider_tx_id, holding the fingerprint) carries a unique
// constraint; Insert relies on it to make concurrent duplicate inserts safe.
type TransactionRepository interface {
	// ExistsByNaturalKey reports whether a transaction with this fingerprint exists.
	// Reads the primary so a just-inserted row from another worker is visible.
	ExistsByNaturalKey(ctx context.Context, naturalKey string) (bool, error)
	// Insert inserts a new transaction with ON CONFLICT DO NOTHING.
	// Returns false when the natural key already existed (zero rows affected).
	Insert(ctx context.Context, transaction models.Transaction) (bool, error)
	// FindIdByNaturalKey returns the internal id for a fingerprint.
	FindIdByNaturalKey(ctx context.Context, naturalKey string) (uuid.UUID, error)
	// CountByAccountId returns the number of persisted transactions for an account.
	CountByAccountId(ctx context.Context, accountID uuid.UUID) (int64, error)
}

type TransactionRepositoryImpl struct {
	db *database.DB
}

func NewTransactionRepository(db *database.DB) TransactionRepository {
	return &TransactionRepositoryImpl{db: db}
}

func (t TransactionRepositoryImpl) ExistsByNaturalKey(ctx context.Context, naturalKey string) (bool, error) {
	if naturalKey == "" {
		return false, errors.New("natural key cannot be empty")
	}
	var exists bool
	err := t.db.QueryRowPrimary(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE provider_tx_id = $1)`,
		naturalKey,
	).Scan(&exists)
	return exists, err
}

func (t TransactionRepositoryImpl) Insert(ctx context.Context, transaction models.Transaction) (bool, error) {
	tag, err := t.db.Exec(ctx, `
						INSERT INTO transactions (id, user_id, account_id, provider_tx_id, ts, amount, type, raw_desc, created_at)
						VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (provider_tx_id) DO NOTHING`,
		transaction.ID,
		transaction.UserID,
		transaction.AccountID,
		transaction.ProviderTxID,
		transaction.TS,
		transaction.Amount,
		transaction.Type,
		transaction.RawDesc,
		transaction.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t TransactionRepositoryImpl) FindIdByNaturalKey(ctx context.Context, naturalKey string) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.db.QueryRowPrimary(ctx,
		`SELECT id FROM transactions WHERE provider_tx_id = $1`, naturalKey,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}
	return id, err
}

func (t TransactionRepositoryImpl) CountByAccountId(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var count int64
	err := t.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID,
	).Scan(&count)
	return count, err
}
