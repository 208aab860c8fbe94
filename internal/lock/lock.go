// Package lock keeps two pipeline runs from working on the same schema at
// once, in process or across hosts.
package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/config"
)

// Locker grants a key to one holder until release is called or ttl passes.
// ok is false when another holder has the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// New returns the locker selected by cfg.Backend.
func New(cfg config.LockConfig) (Locker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("lock: redis backend needs redis_addr")
		}
		return NewRedisLocker(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), nil
	}
	return nil, fmt.Errorf("lock: unknown backend %q", cfg.Backend)
}
