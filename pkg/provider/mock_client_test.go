package provider

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFixture(t *testing.T, fixture map[string][]RawTransaction) string {
	t.Helper()
	raw, err := json.Marshal(fixture)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "mock_transactions.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func fixtureTx(id string, ts time.Time) RawTransaction {
	return RawTransaction{
		ID:      id,
		TS:      ts.UTC().Format(time.RFC3339),
		Amount:  "12.34",
		Type:    "debit",
		RawDesc: "COFFEE SHOP 42",
	}
}

func TestMockClient_FiltersBySince(t *testing.T) {
	now := time.Now().UTC()
	path := writeFixture(t, map[string][]RawTransaction{
		"acc-1": {
			fixtureTx("old", now.Add(-48*time.Hour)),
			fixtureTx("recent", now.Add(-time.Hour)),
			fixtureTx("newest", now),
		},
	})
	client := NewMockClient(zap.NewNop(), path)

	since := now.Add(-2 * time.Hour)
	got, err := client.FetchTransactions(context.Background(), "acc-1", &since, 0)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "recent", got[0].ID)
	assert.Equal(t, "newest", got[1].ID)
}

func TestMockClient_SortsAscendingAndCapsAtLimit(t *testing.T) {
	now := time.Now().UTC()
	path := writeFixture(t, map[string][]RawTransaction{
		"acc-1": {
			fixtureTx("c", now),
			fixtureTx("a", now.Add(-2*time.Hour)),
			fixtureTx("b", now.Add(-time.Hour)),
		},
	})
	client := NewMockClient(zap.NewNop(), path)

	got, err := client.FetchTransactions(context.Background(), "acc-1", nil, 2)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestMockClient_MalformedTimestampSurvivesSinceFilter(t *testing.T) {
	now := time.Now().UTC()
	broken := fixtureTx("broken", now)
	broken.TS = "not-a-timestamp"
	path := writeFixture(t, map[string][]RawTransaction{
		"acc-1": {broken, fixtureTx("old", now.Add(-48 * time.Hour))},
	})
	client := NewMockClient(zap.NewNop(), path)

	since := now.Add(-time.Hour)
	got, err := client.FetchTransactions(context.Background(), "acc-1", &since, 0)
	require.NoError(t, err)

	// The broken record passes through so the upsert store can count it.
	require.Len(t, got, 1)
	assert.Equal(t, "broken", got[0].ID)
}

func TestMockClient_UnknownAccountIsEmpty(t *testing.T) {
	path := writeFixture(t, map[string][]RawTransaction{
		"acc-1": {fixtureTx("t1", time.Now().UTC())},
	})
	client := NewMockClient(zap.NewNop(), path)

	got, err := client.FetchTransactions(context.Background(), "acc-unknown", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMockClient_MissingFixtureIsFetchError(t *testing.T) {
	client := NewMockClient(zap.NewNop(), filepath.Join(t.TempDir(), "missing.json"))

	_, err := client.FetchTransactions(context.Background(), "acc-1", nil, 0)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "acc-1", fetchErr.ProviderAccountID)
}

func TestMockClient_CanceledContextIsFetchError(t *testing.T) {
	path := writeFixture(t, map[string][]RawTransaction{})
	client := NewMockClient(zap.NewNop(), path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchTransactions(ctx, "acc-1", nil, 0)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}
