package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finscope/txsync/pkg/views"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DelayQueue parks jobs until their retry time. The worker pushes failed jobs
// with a delay and polls PopReady each loop iteration to promote the due ones
// back onto the main queue.
type DelayQueue interface {
	Push(ctx context.Context, job views.SyncJob, delay time.Duration) error
	PopReady(ctx context.Context) ([]views.SyncJob, error)
}

// RedisDelayQueue stores RetryEntry documents on a plain list and promotes by
// linear scan: LRANGE everything, LREM the due entries. Retry volume is small
// (bounded by max retries per job), so a scan beats maintaining a sorted set
// with its own promotion script.
type RedisDelayQueue struct {
	logger *zap.Logger
	client *redis.Client
	key    string
}

func NewRedisDelayQueue(logger *zap.Logger, client *redis.Client, key string) *RedisDelayQueue {
	return &RedisDelayQueue{logger: logger, client: client, key: key}
}

func (d *RedisDelayQueue) Push(ctx context.Context, job views.SyncJob, delay time.Duration) error {
	entry := views.RetryEntry{
		SyncJob: job,
		RetryAt: time.Now().UTC().Add(delay),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal retry entry: %w", err)
	}
	if err := d.client.LPush(ctx, d.key, raw).Err(); err != nil {
		return fmt.Errorf("push retry entry: %w", err)
	}
	d.logger.Info("job scheduled for retry",
		zap.String("user_id", job.UserID),
		zap.String("account_id", job.AccountID),
		zap.Int("retry_count", job.RetryCount),
		zap.Time("retry_at", entry.RetryAt))
	return nil
}

// PopReady removes and returns every entry whose retry time has passed.
// Malformed entries are removed and dropped so one bad document cannot wedge
// the promotion loop. LREM with count 1 removes a single matching element,
// which is safe against concurrent promoters double-delivering the same entry.
func (d *RedisDelayQueue) PopReady(ctx context.Context) ([]views.SyncJob, error) {
	raws, err := d.client.LRange(ctx, d.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan retry queue: %w", err)
	}

	now := time.Now().UTC()
	var ready []views.SyncJob
	for _, raw := range raws {
		var entry views.RetryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			d.logger.Warn("dropping malformed retry entry", zap.Error(err))
			d.client.LRem(ctx, d.key, 1, raw)
			continue
		}
		if entry.RetryAt.After(now) {
			continue
		}
		removed, err := d.client.LRem(ctx, d.key, 1, raw).Result()
		if err != nil {
			return ready, fmt.Errorf("remove retry entry: %w", err)
		}
		if removed == 0 {
			// Another promoter claimed it first.
			continue
		}
		ready = append(ready, entry.SyncJob)
	}
	return ready, nil
}
