package models

import (
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/google/uuid"
)

// Consent maps to table `consents`. EncryptedToken is the AES-256-GCM
// encrypted provider access token; consent acquisition happens outside this repo.
type Consent struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	ProviderConsentID string
	Status            pkg.ConsentStatus
	EncryptedToken    string
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
