package provider

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
)

// MockClient serves transactions from a JSON fixture file for development and
// tests. The file maps provider account ids to transaction lists:
//
//	{"provider-acc-1": [{"id": "t1", "ts": "...", "amount": "100.00", ...}]}
//
// Results are filtered by since, sorted by ts ascending and capped at limit,
// matching the shape of real provider responses.
type MockClient struct {
	logger *zap.Logger
	path   string
}

func NewMockClient(logger *zap.Logger, fixturePath string) *MockClient {
	return &MockClient{logger: logger, path: fixturePath}
}

func (m *MockClient) FetchTransactions(ctx context.Context, providerAccountID string, since *time.Time, limit int) ([]RawTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{ProviderAccountID: providerAccountID, Err: err}
	}
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, &FetchError{ProviderAccountID: providerAccountID, Err: err}
	}
	var fixture map[string][]RawTransaction
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return nil, &FetchError{ProviderAccountID: providerAccountID, Err: err}
	}

	transactions := fixture[providerAccountID]
	if since != nil {
		filtered := transactions[:0:0]
		for _, tx := range transactions {
			ts, err := time.Parse(time.RFC3339, tx.TS)
			if err != nil {
				// Malformed fixture timestamps still flow downstream; the
				// upsert store counts them as record errors.
				filtered = append(filtered, tx)
				continue
			}
			if !ts.Before(*since) {
				filtered = append(filtered, tx)
			}
		}
		transactions = filtered
	}

	sort.SliceStable(transactions, func(i, j int) bool { return transactions[i].TS < transactions[j].TS })
	if len(transactions) > limit {
		transactions = transactions[:limit]
	}

	m.logger.Debug("mock provider served transactions",
		zap.String("provider_account_id", providerAccountID),
		zap.Int("count", len(transactions)))
	return transactions, nil
}
