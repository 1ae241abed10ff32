// Package lock 提供按 key 互斥的锁，Redis 实现用于多实例部署，进程内实现用于单实例
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotHeld 锁未持有
	ErrLockNotHeld = errors.New("lock not held")
	// ErrLockAcquireFailed 等待超时仍未获取到锁
	ErrLockAcquireFailed = errors.New("failed to acquire lock")
	// ErrLockUnavailable 锁后端不可用
	ErrLockUnavailable = errors.New("lock backend unavailable")
)

// Locker 按 key 互斥执行
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLock Redis 分布式锁
type RedisLock struct {
	client     redis.UniversalClient
	key        string
	value      string
	expiration time.Duration
}

// RedisLocker Redis 分布式锁管理器
type RedisLocker struct {
	client        redis.UniversalClient
	keyPrefix     string
	expiration    time.Duration
	waitTimeout   time.Duration
	retryInterval time.Duration
}

// RedisLockerOptions 锁参数
type RedisLockerOptions struct {
	KeyPrefix     string
	Expiration    time.Duration // 锁自动过期时间，需大于受保护操作的最长耗时
	WaitTimeout   time.Duration // 等待获取锁的最长时间
	RetryInterval time.Duration
}

// NewRedisLocker 创建 Redis 分布式锁管理器
func NewRedisLocker(client redis.UniversalClient, opts RedisLockerOptions) *RedisLocker {
	if opts.Expiration == 0 {
		opts.Expiration = 60 * time.Second
	}
	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = 10 * time.Second
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}
	return &RedisLocker{
		client:        client,
		keyPrefix:     opts.KeyPrefix,
		expiration:    opts.Expiration,
		waitTimeout:   opts.WaitTimeout,
		retryInterval: opts.RetryInterval,
	}
}

// NewLock 创建一个新锁
func (l *RedisLocker) NewLock(key string) *RedisLock {
	return &RedisLock{
		client:     l.client,
		key:        l.keyPrefix + key,
		value:      uuid.New().String(),
		expiration: l.expiration,
	}
}

// Acquire 获取锁 (非阻塞)
func (lock *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := lock.client.SetNX(ctx, lock.key, lock.value, lock.expiration).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	return ok, nil
}

// AcquireOrWait 获取锁，阻塞直到成功、ctx 结束或超过 wait
func (lock *RedisLock) AcquireOrWait(ctx context.Context, wait, retryInterval time.Duration) error {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrLockAcquireFailed
		case <-time.After(retryInterval):
		}
	}
}

// Release 释放锁 (只有持有者才能释放)
func (lock *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend 延长锁的过期时间 (只有持有者才能延长)
func (lock *RedisLock) Extend(ctx context.Context, extension time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client, []string{lock.key}, lock.value, extension.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock failed: %w", err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// WithLock 在锁保护下执行函数，fn 运行期间自动续期，锁丢失时取消 fn 的 ctx
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lock := l.NewLock(key)

	if err := lock.AcquireOrWait(ctx, l.waitTimeout, l.retryInterval); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		lock.keepAlive(runCtx, cancel)
	}()

	defer func() {
		cancel()
		<-renewed
		// 请求 ctx 可能已取消，释放使用独立的短超时
		releaseCtx, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancelRelease()
		_ = lock.Release(releaseCtx)
	}()

	return fn(runCtx)
}

// keepAlive 每 1/3 过期时间续期一次
func (lock *RedisLock) keepAlive(ctx context.Context, lost context.CancelFunc) {
	ticker := time.NewTicker(max(lock.expiration/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lock.Extend(ctx, lock.expiration)
			if errors.Is(err, ErrLockNotHeld) {
				lost()
				return
			}
			// 其他错误等下一轮重试，仍失败则锁自然过期
		}
	}
}
