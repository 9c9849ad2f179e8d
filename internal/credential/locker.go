package credential

import (
	"context"
	"sync"
)

// Locker serialises credential refreshes per platform.
type Locker interface {
	Lock(ctx context.Context, platform string) (unlock func(), err error)
}

// LocalLocker serialises refreshes within one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) Lock(ctx context.Context, platform string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[platform]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[platform] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
