package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lease key only when it still holds our token, so
// a worker whose lease expired mid-sync cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AccountLease is a per-account single-flight guard backed by SET NX PX.
// Only one worker syncs a given account at a time; the TTL bounds how long a
// crashed holder can block the account.
type AccountLease struct {
	logger *zap.Logger
	client *redis.Client
	ttl    time.Duration
}

func NewAccountLease(logger *zap.Logger, client *redis.Client, ttl time.Duration) *AccountLease {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AccountLease{logger: logger, client: client, ttl: ttl}
}

func leaseKey(accountID string) string {
	return "tx_sync_lease:" + accountID
}

// Acquire tries to take the lease for accountID. On success it returns a
// release function bound to this acquisition's token; ok=false means another
// worker holds the lease and the caller should skip or requeue.
func (l *AccountLease) Acquire(ctx context.Context, accountID string) (release func(context.Context), ok bool, err error) {
	token := uuid.NewString()
	key := leaseKey(accountID)

	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire sync lease for account %s: %w", accountID, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release sync lease",
				zap.String("account_id", accountID),
				zap.Error(err))
		}
	}
	return release, true, nil
}
