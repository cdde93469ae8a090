package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/gateway-keeper/internal/cache"
)

// Unlock снимает блокировку.
type Unlock func(ctx context.Context) error

// Locker выдаёт взаимоисключающую блокировку по ключу.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// LockKey ключ блокировки пары (identity, node).
func LockKey(identityID, nodeID int64) string {
	return fmt.Sprintf("lock:credential:%d:%d", identityID, nodeID)
}

type redisLocker struct {
	cache *cache.Cache
	ttl   time.Duration
	poll  time.Duration
}

// RedisLocker блокировки в Redis с временем жизни ttl.
func RedisLocker(c *cache.Cache, ttl time.Duration) Locker {
	return redisLocker{cache: c, ttl: ttl, poll: 100 * time.Millisecond}
}

func (l redisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	lock, err := l.cache.Lock(ctx, key, l.ttl, l.poll)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}
