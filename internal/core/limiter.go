package core

// limiter.go bounds how many import runs commit at the same time across
// all entity types. The per-entity lock keeps runs for one entity apart;
// this limiter keeps the store from being flooded by many entities at once.
// Callers that cannot get a slot within the wait window receive
// ErrTooManyImports. WaitForDrain lets shutdown wait for running commits.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyImports is returned when all execution slots stay busy for the
// whole wait window.
var ErrTooManyImports = errors.New("too many imports in progress, please try again later")

const (
	// DefaultMaxConcurrentImports is the slot count used when none is configured.
	DefaultMaxConcurrentImports = 5

	// DefaultMaxWaitTime is how long Acquire waits for a slot.
	DefaultMaxWaitTime = 30 * time.Second
)

// ImportLimiter is a counting semaphore over import executions.
type ImportLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active int
	idle   *sync.Cond
}

// NewImportLimiter creates a limiter with maxConcurrent slots.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	l := &ImportLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
	l.idle = sync.NewCond(&l.mu)
	return l
}

// Acquire takes a slot, waiting up to the configured window.
// The caller must call Release exactly once after a nil return.
func (l *ImportLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.track(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyImports
	}
}

// Release returns a slot taken by Acquire.
func (l *ImportLimiter) Release() {
	l.track(-1)
	<-l.slots
}

func (l *ImportLimiter) track(delta int) {
	l.mu.Lock()
	l.active += delta
	if l.active == 0 {
		l.idle.Broadcast()
	}
	l.mu.Unlock()
}

// ActiveCount returns the number of running executions.
func (l *ImportLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Available returns the number of free slots.
func (l *ImportLimiter) Available() int {
	return cap(l.slots) - len(l.slots)
}

// WaitForDrain blocks until no execution is running or ctx is done.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		for l.active > 0 && ctx.Err() == nil {
			l.idle.Wait()
		}
		l.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return ctx.Err()
	case <-ctx.Done():
		// Wake the waiter so it observes the cancelled context and exits.
		l.mu.Lock()
		l.idle.Broadcast()
		l.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// LimiterStatus is a snapshot of the limiter for monitoring.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *ImportLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.slots),
	}
}
