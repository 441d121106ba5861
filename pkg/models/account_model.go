package models

import (
	"time"

	"github.com/google/uuid"
)

// Account maps to table `accounts`: one linked external financial account.
// LastSyncAt is the sync watermark; it is the only field the pipeline mutates.
type Account struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	ProviderAccountID string
	DisplayName       string
	LastSyncAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
