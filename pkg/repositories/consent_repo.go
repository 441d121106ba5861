package repositories

import (
	"context"
	"errors"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/database"
	"github.com/finscope/txsync/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ConsentRepository defines the interface for provider consents.
// Consent acquisition lives outside this repo; the pipeline only reads
// (scheduler join, provider token decryption) and seeds for development.
type ConsentRepository interface {
	Create(ctx context.Context, consent models.Consent) error
	// FindActiveByUserId returns the user's active, unexpired consent.
	// Returns pkg.ErrNoActiveConsent when none exists.
	FindActiveByUserId(ctx context.Context, userID uuid.UUID) (models.Consent, error)
}

type ConsentRepositoryImpl struct {
	db *database.DB
}

func NewConsentRepository(db *database.DB) ConsentRepository {
	return &ConsentRepositoryImpl{db: db}
}

func (c ConsentRepositoryImpl) Create(ctx context.Context, consent models.Consent) error {
	_, err := c.db.Exec(ctx, `
		INSERT INTO consents (id, user_id, provider_consent_id, status, encrypted_token, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		consent.ID, consent.UserID, consent.ProviderConsentID, consent.Status,
		consent.EncryptedToken, consent.ExpiresAt, consent.CreatedAt, consent.UpdatedAt)
	return err
}

func (c ConsentRepositoryImpl) FindActiveByUserId(ctx context.Context, userID uuid.UUID) (models.Consent, error) {
	var consent models.Consent
	err := c.db.QueryRow(ctx, `
		SELECT id, user_id, provider_consent_id, status, encrypted_token, expires_at, created_at, updated_at
		FROM consents
		WHERE user_id = $1 AND status = $2 AND (expires_at IS NULL OR expires_at > now())
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, pkg.ConsentStatusActive,
	).Scan(
		&consent.ID, &consent.UserID, &consent.ProviderConsentID, &consent.Status,
		&consent.EncryptedToken, &consent.ExpiresAt, &consent.CreatedAt, &consent.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Consent{}, pkg.ErrNoActiveConsent
	}
	return consent, err
}
