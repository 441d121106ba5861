package models

import (
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction maps to table `transactions`.
// ProviderTxID holds the deterministic fingerprint (the natural key), not the
// provider's raw id. Rows are created exactly once per fingerprint and never
// updated by the sync pipeline.
type Transaction struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	AccountID    uuid.UUID
	ProviderTxID string
	TS           time.Time
	Amount       decimal.Decimal
	Type         pkg.TransactionType
	RawDesc      string
	CreatedAt    time.Time
}
