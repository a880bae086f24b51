package core

import (
	"context"
	"sync"
)

// LocalLocker is an in-process EntityLocker. Each entity type has its own
// single-slot channel so waiting for one entity never blocks another.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker creates an empty locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

// Lock blocks until the entity type is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, entityType string) (func(), error) {
	slot := l.slot(entityType)

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}

func (l *LocalLocker) slot(entityType string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[entityType]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[entityType] = s
	}
	return s
}
