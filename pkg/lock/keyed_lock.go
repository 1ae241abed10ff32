package lock

import (
	"context"
	"sync"
	"time"
)

// KeyedLocker 进程内按 key 互斥
type KeyedLocker struct {
	mu          sync.Mutex
	slots       map[string]*slot
	waitTimeout time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker 创建进程内锁
func NewKeyedLocker(waitTimeout time.Duration) *KeyedLocker {
	if waitTimeout == 0 {
		waitTimeout = 10 * time.Second
	}
	return &KeyedLocker{
		slots:       make(map[string]*slot),
		waitTimeout: waitTimeout,
	}
}

func (l *KeyedLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *KeyedLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// WithLock 在锁保护下执行函数
func (l *KeyedLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.ref(key)
	defer l.unref(key, s)

	timer := time.NewTimer(l.waitTimeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockAcquireFailed
	}
	defer func() { <-s.ch }()

	return fn(ctx)
}

// Len 当前持有或等待中的 key 数量
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
