package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/finscope/txsync/pkg/database"
	"github.com/finscope/txsync/pkg/models"
	"github.com/google/uuid"
)

// AccountRepository defines the interface for account repository.
type AccountRepository interface {
	// Create creates a new account.
	Create(ctx context.Context, account models.Account) error
	// FindById finds an account by ID.
	FindById(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	// FindByUserId returns all accounts owned by a user.
	FindByUserId(ctx context.Context, userID uuid.UUID) ([]models.Account, error)
	// FindByProviderAccountId resolves the internal account for a provider-side id.
	FindByProviderAccountId(ctx context.Context, providerAccountID string) (models.Account, error)
	// FindStale returns accounts of actively-consented users whose watermark is
	// NULL or older than threshold, never-synced first.
	FindStale(ctx context.Context, threshold time.Time) ([]models.Account, error)
	// UpdateLastSyncAt advances the sync watermark.
	UpdateLastSyncAt(ctx context.Context, accountID uuid.UUID, ts time.Time) error
}

type AccountRepositoryImpl struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) AccountRepository {
	return &AccountRepositoryImpl{db: db}
}

const accountColumns = `id, user_id, provider_account_id, display_name, last_sync_at, created_at, updated_at`

func (a AccountRepositoryImpl) Create(ctx context.Context, account models.Account) error {
	_, err := a.db.Exec(ctx, `INSERT INTO accounts (id, user_id, provider_account_id, display_name, last_sync_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`,
		account.ID, account.UserID, account.ProviderAccountID, account.DisplayName,
		account.LastSyncAt, account.CreatedAt, account.UpdatedAt)
	return err
}

func (a AccountRepositoryImpl) FindById(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	if accountID == uuid.Nil {
		return models.Account{}, fmt.Errorf("invalid account ID: %s", accountID.String())
	}
	row := a.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

func (a AccountRepositoryImpl) FindByUserId(ctx context.Context, userID uuid.UUID) ([]models.Account, error) {
	rows, err := a.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (a AccountRepositoryImpl) FindByProviderAccountId(ctx context.Context, providerAccountID string) (models.Account, error) {
	if providerAccountID == "" {
		return models.Account{}, fmt.Errorf("provider account ID cannot be empty")
	}
	row := a.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE provider_account_id = $1`, providerAccountID)
	return scanAccount(row)
}

func (a AccountRepositoryImpl) FindStale(ctx context.Context, threshold time.Time) ([]models.Account, error) {
	rows, err := a.db.Query(ctx, `
		SELECT DISTINCT ac.id, ac.user_id, ac.provider_account_id, ac.display_name, ac.last_sync_at, ac.created_at, ac.updated_at
		FROM accounts ac
		INNER JOIN consents co ON ac.user_id = co.user_id
		WHERE co.status = 'active'
		AND (ac.last_sync_at IS NULL OR ac.last_sync_at < $1)
		ORDER BY ac.last_sync_at ASC NULLS FIRST, ac.created_at ASC`,
		threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (a AccountRepositoryImpl) UpdateLastSyncAt(ctx context.Context, accountID uuid.UUID, ts time.Time) error {
	_, err := a.db.Exec(ctx, `UPDATE accounts SET last_sync_at = $1, updated_at = $2 WHERE id = $3`,
		ts, time.Now().UTC(), accountID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID, &account.UserID, &account.ProviderAccountID, &account.DisplayName,
		&account.LastSyncAt, &account.CreatedAt, &account.UpdatedAt)
	return account, err
}
