package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitewise/stockledger/internal/port"
)

const (
	idempotencyKeyPrefix = "ledger:idem:"
	idempotencyKeyTTL    = 24 * time.Hour

	// taskChannel is consumed by the external task component to clear
	// "blocked on material" flags.
	taskChannel = "tasks:material-available"
)

// RedisAdapter carries the two sidecar concerns: idempotency keys for
// mutation replays and the task-unblock signal channel.
type RedisAdapter struct {
	client *redis.Client
}

var (
	_ port.IdempotencyStore = (*RedisAdapter)(nil)
	_ port.TaskNotifier     = (*RedisAdapter)(nil)
)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
}

func (r *RedisAdapter) NotifyMaterialAvailable(ctx context.Context, taskID string) error {
	return r.client.Publish(ctx, taskChannel, taskID).Err()
}
