package coord

import (
	"context"
	"fmt"
	"sync"
)

// LocalLocker is the in-process lock used when Redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	held chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*localLock{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localLock{held: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.held <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.held
				l.drop(key, entry)
			})
		}, nil
	case <-ctx.Done():
		l.drop(key, entry)
		return nil, fmt.Errorf("lock %s: %w: %v", key, ErrLockTimeout, ctx.Err())
	}
}

func (l *LocalLocker) drop(key string, entry *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}
