package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type LockHandle interface {
	Unlock(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, key string) (LockHandle, error)
}

// KeyedLocker is an in-process mutex per key. Acquire waits for the holder
// or the context; TryAcquire fails immediately when the key is busy.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	slot chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

func (l *KeyedLocker) Acquire(ctx context.Context, key string) (LockHandle, error) {
	entry, key, err := l.reserve(key)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case entry.slot <- struct{}{}:
		return &keyedLockHandle{locker: l, key: key, entry: entry}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}
}

func (l *KeyedLocker) TryAcquire(key string) (LockHandle, error) {
	entry, key, err := l.reserve(key)
	if err != nil {
		return nil, err
	}
	select {
	case entry.slot <- struct{}{}:
		return &keyedLockHandle{locker: l, key: key, entry: entry}, nil
	default:
		l.release(key, entry)
		return nil, fmt.Errorf("auth: lock already held for %q", key)
	}
}

func (l *KeyedLocker) reserve(key string) (*keyedLock, string, error) {
	if l == nil {
		return nil, "", fmt.Errorf("auth: locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, "", fmt.Errorf("auth: lock key is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*keyedLock)
	}
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyedLock{slot: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry, key, nil
}

func (l *KeyedLocker) release(key string, entry *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, key)
	}
}

// held reports how many callers hold or wait on key.
func (l *KeyedLocker) held(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.locks[key]; ok {
		return entry.refs
	}
	return 0
}

type keyedLockHandle struct {
	locker *KeyedLocker
	key    string
	entry  *keyedLock
	once   sync.Once
}

func (h *keyedLockHandle) Unlock(context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		<-h.entry.slot
		h.locker.release(h.key, h.entry)
	})
	return nil
}

var _ Locker = (*KeyedLocker)(nil)
