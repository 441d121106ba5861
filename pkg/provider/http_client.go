package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/finscope/txsync/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPClientConfig holds dependencies and tunables for the real provider client.
type HTTPClientConfig struct {
	Logger  *zap.Logger
	BaseURL string
	Tokens  TokenProvider

	// Rate limit applied ahead of every outbound call (provider quota guard).
	RateLimitPerSec int
	Burst           int

	// Retry tunables for transient failures.
	MaxElapsedTime time.Duration // default 30s
	ClientTimeout  time.Duration // per-request deadline, default from utils
}

// HTTPClient talks to the aggregation provider's REST API:
// GET {base}/v1/accounts/{id}/transactions?since=...&limit=...
// Transient failures (network errors, 5xx, 429) are retried with exponential
// backoff; 4xx responses are permanent. Every failure surfaces as *FetchError.
type HTTPClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	tokens     TokenProvider
	limiter    *rate.Limiter
	maxElapsed time.Duration
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	var limiter *rate.Limiter
	if cfg.RateLimitPerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.RateLimitPerSec
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), burst)
	}
	maxElapsed := cfg.MaxElapsedTime
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	opts := []utils.ClientOption{}
	if cfg.ClientTimeout > 0 {
		opts = append(opts, utils.WithClientTimeout(cfg.ClientTimeout))
	}
	return &HTTPClient{
		logger:     cfg.Logger,
		httpClient: utils.NewHTTPClient(opts...),
		baseURL:    cfg.BaseURL,
		tokens:     cfg.Tokens,
		limiter:    limiter,
		maxElapsed: maxElapsed,
	}
}

func (c *HTTPClient) FetchTransactions(ctx context.Context, providerAccountID string, since *time.Time, limit int) ([]RawTransaction, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{ProviderAccountID: providerAccountID, Err: err}
		}
	}

	token, err := c.tokens.AccessToken(ctx, providerAccountID)
	if err != nil {
		return nil, &FetchError{ProviderAccountID: providerAccountID, Err: err}
	}

	endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions", c.baseURL, url.PathEscape(providerAccountID))
	query := url.Values{"limit": []string{strconv.Itoa(limit)}}
	if since != nil {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	endpoint = endpoint + "?" + query.Encode()

	var transactions []RawTransaction
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // retryable: network/timeout
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			transactions = transactions[:0]
			if err := json.Unmarshal(body, &transactions); err != nil {
				return backoff.Permanent(fmt.Errorf("decode provider response: %w", err))
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("provider returned status %d", resp.StatusCode)
		default:
			// 4xx other than 429: retrying will not help
			return backoff.Permanent(fmt.Errorf("provider returned status %d", resp.StatusCode))
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.maxElapsed
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		c.logger.Warn("provider fetch retrying",
			zap.String("provider_account_id", providerAccountID),
			zap.Duration("next_attempt_in", next),
			zap.Error(err))
	}); err != nil {
		return nil, &FetchError{ProviderAccountID: providerAccountID, Err: err}
	}

	c.logger.Info("fetched transactions from provider",
		zap.String("provider_account_id", providerAccountID),
		zap.Int("count", len(transactions)))
	return transactions, nil
}
