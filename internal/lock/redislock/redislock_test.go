package redislock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	l, err := Dial(context.Background(), addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLock_Exclusive(t *testing.T) {
	l := newTestLocker(t)
	entity := "test-" + t.Name()

	unlock, err := l.Lock(context.Background(), entity)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, entity); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Lock() error = %v, want DeadlineExceeded", err)
	}

	unlock()
	unlock() // second call is a no-op

	unlock2, err := l.Lock(context.Background(), entity)
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	unlock2()
}

func TestLock_StaleOwnerCannotRelease(t *testing.T) {
	l := newTestLocker(t)
	entity := "test-" + t.Name()
	key := keyPrefix + entity
	ctx := context.Background()

	unlock, err := l.Lock(ctx, entity)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	// Simulate the lease expiring and another holder taking over.
	if err := l.client.Set(ctx, key, "someone-else", time.Minute).Err(); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	unlock()

	got, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		t.Fatal("stale unlock deleted the new holder's key")
	}
	if got != "someone-else" {
		t.Errorf("lock value = %q, want %q", got, "someone-else")
	}
	l.client.Del(ctx, key)
}

func TestNew_DefaultTTL(t *testing.T) {
	l := New(redis.NewClient(&redis.Options{Addr: "localhost:0"}), 0)
	defer l.Close()
	if l.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", l.ttl, DefaultTTL)
	}
}
