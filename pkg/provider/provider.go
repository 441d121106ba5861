package provider

import (
	"context"
	"fmt"
	"time"
)

// DefaultFetchLimit caps one fetch batch when the caller passes limit <= 0.
const DefaultFetchLimit = 1000

// RawTransaction is one transaction as received from the aggregation provider.
// Fields stay raw strings on this boundary; parsing and validation belong to
// the upsert store. Duplicate and overlapping results are expected; dedup is
// downstream's job.
type RawTransaction struct {
	ID        string `json:"id"`
	TS        string `json:"ts"`
	Amount    string `json:"amount"`
	Type      string `json:"type"`
	RawDesc   string `json:"raw_desc"`
	AccountID string `json:"account_id,omitempty"`
}

// Client fetches raw transactions for a provider-side account. Implementations
// must be safe to call repeatedly with the same (account, since) window.
type Client interface {
	FetchTransactions(ctx context.Context, providerAccountID string, since *time.Time, limit int) ([]RawTransaction, error)
}

// FetchError wraps any provider fetch failure with enough context for retry
// handling and dead-letter payloads. The worker treats it as transient.
type FetchError struct {
	ProviderAccountID string
	Err               error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("provider fetch failed for account %s: %v", e.ProviderAccountID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
