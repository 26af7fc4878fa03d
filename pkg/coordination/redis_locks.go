package coordination

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockRegistry is a lock registry shared by cooperating workers across
// processes, backed by SET NX PX with per-entry expiry.
type RedisLockRegistry struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedisLockRegistry creates a registry on the given client. Locks expire
// after ttl; every round trip is bounded by timeout.
func NewRedisLockRegistry(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLockRegistry {
	return &RedisLockRegistry{
		client:  client,
		ttl:     ttl,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

func (r *RedisLockRegistry) Acquire(scopeID, taskID, holderID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	key := "flowmend:lock:" + lockKey(scopeID, taskID)

	acquired, err := r.client.SetNX(ctx, key, holderID, r.ttl).Result()
	if err != nil {
		r.logger.ErrorContext(ctx, "Lock acquire failed", "key", key, "error", err)

		return false
	}

	if acquired {
		return true
	}

	// Re-entrant: the current holder extends its own lock.
	current, err := r.client.Get(ctx, key).Result()
	if err != nil || current != holderID {
		return false
	}

	if err := r.client.PExpire(ctx, key, r.ttl).Err(); err != nil {
		r.logger.ErrorContext(ctx, "Lock extend failed", "key", key, "error", err)

		return false
	}

	return true
}

func (r *RedisLockRegistry) Release(scopeID, taskID, holderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	key := "flowmend:lock:" + lockKey(scopeID, taskID)

	if err := releaseScript.Run(ctx, r.client, []string{key}, holderID).Err(); err != nil && err != redis.Nil {
		r.logger.ErrorContext(ctx, "Lock release failed", "key", key, "error", err)
	}
}

func (r *RedisLockRegistry) Holder(scopeID, taskID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	holder, err := r.client.Get(ctx, "flowmend:lock:"+lockKey(scopeID, taskID)).Result()
	if err != nil {
		return ""
	}

	return holder
}
