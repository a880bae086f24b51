package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// ImportLimiter
// =============================================================================

// fillLimiter takes one slot, failing the test if none is free.
func fillLimiter(t *testing.T, l *ImportLimiter) {
	t.Helper()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
}

func TestImportLimiter_AcquireRelease(t *testing.T) {
	limiter := NewImportLimiter(2, time.Second)
	ctx := context.Background()

	steps := []struct {
		name          string
		op            func() error
		wantActive    int
		wantAvailable int
	}{
		{"first acquire", func() error { return limiter.Acquire(ctx) }, 1, 1},
		{"second acquire", func() error { return limiter.Acquire(ctx) }, 2, 0},
		{"release", func() error { limiter.Release(); return nil }, 1, 1},
		{"release again", func() error { limiter.Release(); return nil }, 0, 2},
	}
	for _, step := range steps {
		if err := step.op(); err != nil {
			t.Fatalf("%s: error = %v", step.name, err)
		}
		if got := limiter.ActiveCount(); got != step.wantActive {
			t.Errorf("%s: ActiveCount = %d, want %d", step.name, got, step.wantActive)
		}
		if got := limiter.Available(); got != step.wantAvailable {
			t.Errorf("%s: Available = %d, want %d", step.name, got, step.wantAvailable)
		}
	}
}

func TestImportLimiter_FullTimesOut(t *testing.T) {
	limiter := NewImportLimiter(1, 50*time.Millisecond)
	fillLimiter(t, limiter)
	defer limiter.Release()

	start := time.Now()
	err := limiter.Acquire(context.Background())
	if !errors.Is(err, ErrTooManyImports) {
		t.Errorf("Acquire() error = %v, want ErrTooManyImports", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Acquire gave up after %v, want about 50ms", elapsed)
	}
}

func TestImportLimiter_ContextCancelled(t *testing.T) {
	limiter := NewImportLimiter(1, time.Minute)
	fillLimiter(t, limiter)
	defer limiter.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestImportLimiter_NeverExceedsCapacity(t *testing.T) {
	const slots = 3
	limiter := NewImportLimiter(slots, time.Second)

	var (
		wg      sync.WaitGroup
		current atomic.Int32
		peak    atomic.Int32
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			limiter.Release()
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > slots {
		t.Errorf("peak concurrency = %d, want <= %d", got, slots)
	}
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after all released = %d, want 0", got)
	}
}

func TestImportLimiter_WaitForDrain(t *testing.T) {
	limiter := NewImportLimiter(2, time.Second)
	fillLimiter(t, limiter)

	go func() {
		time.Sleep(20 * time.Millisecond)
		limiter.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := limiter.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain() error = %v", err)
	}

	fillLimiter(t, limiter)
	defer limiter.Release()
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if err := limiter.WaitForDrain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForDrain() with busy slot error = %v, want context.DeadlineExceeded", err)
	}
}

func TestImportLimiter_Defaults(t *testing.T) {
	status := NewImportLimiter(0, 0).Status()
	want := LimiterStatus{Active: 0, Available: DefaultMaxConcurrentImports, MaxConcurrent: DefaultMaxConcurrentImports}
	if status != want {
		t.Errorf("Status() = %+v, want %+v", status, want)
	}
}

// =============================================================================
// LocalLocker
// =============================================================================

func TestLocalLocker_SerialisesPerEntity(t *testing.T) {
	locks := NewLocalLocker()
	ctx := context.Background()

	unlock, err := locks.Lock(ctx, "students")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	// Another entity type is independent.
	other, err := locks.Lock(ctx, "teachers")
	if err != nil {
		t.Fatalf("Lock(teachers) error = %v", err)
	}
	other()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(short, "students"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Lock(students) error = %v, want context.DeadlineExceeded", err)
	}

	unlock()
	unlock() // a second call is a no-op

	again, err := locks.Lock(ctx, "students")
	if err != nil {
		t.Fatalf("Lock after unlock error = %v", err)
	}
	again()
}
