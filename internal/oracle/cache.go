package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// Cache 链上查询结果的短期缓存
// 过期条目按未命中处理
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Put(ctx context.Context, key string, r Result) error
	Invalidate(ctx context.Context, key string) error
}

// MemoryCache 进程内缓存，多实例之间不共享
type MemoryCache struct {
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache(size int, ttl time.Duration) (*MemoryCache, error) {
	if size <= 0 {
		size = 10000
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: c, ttl: ttl, now: time.Now}, nil
}

// SetClock 替换时钟，测试用
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *MemoryCache) Get(ctx context.Context, key string) (Result, bool, error) {
	v, ok := c.lru.Get(key)
	if !ok {
		return Result{}, false, nil
	}
	r := v.(Result)
	if c.now().Sub(r.ObservedAt) >= c.ttl {
		c.lru.Remove(key)
		return Result{}, false, nil
	}
	return r, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, key string, r Result) error {
	c.lru.Add(key, r)
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Len 缓存条目数
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// RedisCache 多实例共享的缓存
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache 创建 Redis 缓存
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "eidos:faucet:oracle:", ttl: ttl}
}

type redisEntry struct {
	CanClaim         bool   `json:"can_claim"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	Outcome          string `json:"outcome"`
	ObservedAt       int64  `json:"observed_at"`
}

func (c *RedisCache) Get(ctx context.Context, key string) (Result, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}

	var e redisEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return Result{}, false, err
	}
	r := Result{
		CanClaim:          e.CanClaim,
		CooldownRemaining: time.Duration(e.RemainingSeconds) * time.Second,
		Outcome:           OutcomeOK,
		ObservedAt:        time.UnixMilli(e.ObservedAt),
	}
	if e.Outcome == OutcomeNotMetered.String() {
		r.Outcome = OutcomeNotMetered
	}
	return r, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, r Result) error {
	data, err := json.Marshal(redisEntry{
		CanClaim:         r.CanClaim,
		RemainingSeconds: int64(r.CooldownRemaining / time.Second),
		Outcome:          r.Outcome.String(),
		ObservedAt:       r.ObservedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}
