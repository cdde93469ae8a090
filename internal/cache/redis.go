// Package cache подключение к Redis и распределённые блокировки на его основе.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/gateway-keeper/internal/config"
)

// ErrLockHeld блокировка уже занята другим владельцем.
var ErrLockHeld = errors.New("cache: lock is held")

// снимаем блокировку, только если она всё ещё наша
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Cache struct {
	Db *redis.Client
}

func InitServer(ctx context.Context, cfg config.RedisConnection) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Cache{Db: db}, nil
}

// Close закрывает соединение с Redis.
func (c *Cache) Close() error {
	return c.Db.Close()
}

// Lock захваченная блокировка. Освобождается по токену владельца.
type Lock struct {
	db    *redis.Client
	key   string
	token string
}

// TryLock пытается захватить блокировку key на ttl одной командой SET NX PX.
func (c *Cache) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	const op = "cache.TryLock"
	token := uuid.NewString()
	ok, err := c.Db.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{db: c.Db, key: key, token: token}, nil
}

// Lock ждёт освобождения блокировки, опрашивая Redis с интервалом poll,
// пока не истечёт ctx.
func (c *Cache) Lock(ctx context.Context, key string, ttl, poll time.Duration) (*Lock, error) {
	const op = "cache.Lock"
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		l, err := c.TryLock(ctx, key, ttl)
		if !errors.Is(err, ErrLockHeld) {
			return l, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %s: %w", op, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release освобождает блокировку. Чужую или истёкшую блокировку не трогает.
func (l *Lock) Release(ctx context.Context) error {
	const op = "cache.Release"
	if err := releaseScript.Run(ctx, l.db, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Ping проверяет доступность Redis.
func (c *Cache) Ping(ctx context.Context) error {
	return c.Db.Ping(ctx).Err()
}
