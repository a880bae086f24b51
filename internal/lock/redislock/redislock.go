// Package redislock serialises import commits per entity type across
// processes with a Redis lease.
//
// A lock is a key set with SET NX and a TTL holding a random token.
// Release deletes the key only if it still holds the caller's token, so a
// lease that expired and was taken over is never released by its old owner.
package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed holder can block an entity type.
	DefaultTTL = 10 * time.Minute

	defaultRetry = 100 * time.Millisecond
	keyPrefix    = "importer:lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements core.EntityLocker over Redis.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// New creates a locker. A non-positive ttl selects DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{client: client, ttl: ttl, retry: defaultRetry}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client, ttl), nil
}

// Close closes the Redis client.
func (l *Locker) Close() error {
	return l.client.Close()
}

// Lock waits until the entity lock is free or ctx ends.
func (l *Locker) Lock(ctx context.Context, entityType string) (func(), error) {
	key := keyPrefix + entityType
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

func (l *Locker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even when the caller's context is already cancelled.
			if err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Err(); err != nil {
				slog.Warn("redis lock release failed", "key", key, "error", err)
			}
		})
	}
}
