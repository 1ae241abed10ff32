package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/lock"
)

// NonceSource 链上 pending nonce
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager 热钱包 Nonce 分配
// 配置 Redis 时多实例共享计数，并通过分布式锁保证分配互斥；否则使用进程内计数
type NonceManager struct {
	source  NonceSource
	wallet  common.Address
	chainID int64

	redis  redis.UniversalClient
	locker lock.Locker

	mu           sync.Mutex
	local        uint64
	hasLocal     bool
	lastSyncTime time.Time
	syncInterval time.Duration
	now          func() time.Time
}

// NonceManagerConfig 配置
type NonceManagerConfig struct {
	Wallet       common.Address
	ChainID      int64
	LockTimeout  time.Duration
	SyncInterval time.Duration
}

// NewNonceManager 创建 Nonce 管理器，rdb 可为空
func NewNonceManager(source NonceSource, rdb redis.UniversalClient, cfg *NonceManagerConfig) *NonceManager {
	syncInterval := cfg.SyncInterval
	if syncInterval == 0 {
		syncInterval = 5 * time.Minute
	}
	lockTimeout := cfg.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 10 * time.Second
	}

	m := &NonceManager{
		source:       source,
		wallet:       cfg.Wallet,
		chainID:      cfg.ChainID,
		redis:        rdb,
		syncInterval: syncInterval,
		now:          time.Now,
	}
	if rdb != nil {
		m.locker = lock.NewRedisLocker(rdb, lock.RedisLockerOptions{
			KeyPrefix:   "eidos:faucet:nonce:lock:",
			Expiration:  lockTimeout,
			WaitTimeout: lockTimeout,
		})
	}
	return m
}

func (m *NonceManager) nonceKey() string {
	return fmt.Sprintf("eidos:faucet:nonce:%d:%s", m.chainID, m.wallet.Hex())
}

// Next 分配下一个 nonce
func (m *NonceManager) Next(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redis == nil {
		return m.nextLocal(ctx)
	}

	var nonce uint64
	err := m.locker.WithLock(ctx, fmt.Sprintf("%d:%s", m.chainID, m.wallet.Hex()), func(ctx context.Context) error {
		var err error
		nonce, err = m.nextShared(ctx)
		return err
	})
	return nonce, err
}

func (m *NonceManager) nextLocal(ctx context.Context) (uint64, error) {
	if !m.hasLocal || m.needsSync() {
		chainNonce, err := m.source.PendingNonceAt(ctx, m.wallet)
		if err != nil {
			return 0, err
		}
		// 链上 pending nonce 可能滞后于本地已分配的值
		if !m.hasLocal || chainNonce > m.local {
			m.local = chainNonce
		}
		m.hasLocal = true
		m.lastSyncTime = m.now()
	}
	nonce := m.local
	m.local++
	return nonce, nil
}

func (m *NonceManager) nextShared(ctx context.Context) (uint64, error) {
	stored, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	missing := errors.Is(err, redis.Nil)
	if err != nil && !missing {
		return 0, err
	}

	nonce := stored
	if missing || m.needsSync() {
		chainNonce, err := m.source.PendingNonceAt(ctx, m.wallet)
		if err != nil {
			return 0, err
		}
		if missing || chainNonce > nonce {
			nonce = chainNonce
		}
		m.lastSyncTime = m.now()
	}

	if err := m.redis.Set(ctx, m.nonceKey(), nonce+1, 0).Err(); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (m *NonceManager) needsSync() bool {
	return m.now().Sub(m.lastSyncTime) > m.syncInterval
}

// Reset 丢弃已分配计数，下次分配时从链上重新同步
// 交易未能广播或节点返回 nonce too low 时调用
func (m *NonceManager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hasLocal = false
	m.lastSyncTime = time.Time{}
	if m.redis != nil {
		return m.redis.Del(ctx, m.nonceKey()).Err()
	}
	return nil
}
