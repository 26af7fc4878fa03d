package cmd

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/flowmend/flowmend/pkg/config"
	"github.com/flowmend/flowmend/pkg/coordination"
)

// NewLockRegistry creates the lock registry the configuration asks for.
func NewLockRegistry(cfg config.LocksConfig, clock coordination.Clock, logger *slog.Logger) (coordination.LockRegistry, error) {
	switch cfg.Backend {
	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		return coordination.NewRedisLockRegistry(client, cfg.TTL.Std(), logger), nil
	case "", config.LockBackendMemory:
		return coordination.NewTaskLockRegistry(cfg.TTL.Std(), clock), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend: %s", cfg.Backend)
	}
}
