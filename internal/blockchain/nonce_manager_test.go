package blockchain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNonceSource struct {
	mu    sync.Mutex
	nonce uint64
	calls int
	err   error
}

func (f *fakeNonceSource) PendingNonceAt(ctx context.Context, wallet common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.nonce, f.err
}

func (f *fakeNonceSource) set(n uint64) {
	f.mu.Lock()
	f.nonce = n
	f.mu.Unlock()
}

var testWallet = common.HexToAddress("0x1234567890123456789012345678901234567890")

func newSharedNonceManager(t *testing.T, source NonceSource) (*NonceManager, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewNonceManager(source, rdb, &NonceManagerConfig{Wallet: testWallet, ChainID: 4202}), mr
}

func TestNonceManager_LocalSequential(t *testing.T) {
	src := &fakeNonceSource{nonce: 7}
	nm := NewNonceManager(src, nil, &NonceManagerConfig{Wallet: testWallet, ChainID: 4202})
	ctx := context.Background()

	for want := uint64(7); want < 10; want++ {
		got, err := nm.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 1, src.calls)
}

func TestNonceManager_LocalReset(t *testing.T) {
	src := &fakeNonceSource{nonce: 7}
	nm := NewNonceManager(src, nil, &NonceManagerConfig{Wallet: testWallet, ChainID: 4202})
	ctx := context.Background()

	_, _ = nm.Next(ctx)
	_, _ = nm.Next(ctx) // 8 未成功广播

	require.NoError(t, nm.Reset(ctx))
	got, err := nm.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got)
}

func TestNonceManager_LocalSourceError(t *testing.T) {
	src := &fakeNonceSource{err: errors.New("rpc down")}
	nm := NewNonceManager(src, nil, &NonceManagerConfig{Wallet: testWallet, ChainID: 4202})

	_, err := nm.Next(context.Background())
	assert.Error(t, err)
}

func TestNonceManager_ResyncTakesHigherChainNonce(t *testing.T) {
	src := &fakeNonceSource{nonce: 3}
	nm := NewNonceManager(src, nil, &NonceManagerConfig{Wallet: testWallet, ChainID: 4202, SyncInterval: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	nm.now = func() time.Time { return now }
	ctx := context.Background()

	got, _ := nm.Next(ctx)
	assert.Equal(t, uint64(3), got)

	// 钱包在别处发送过交易
	src.set(10)
	now = now.Add(2 * time.Minute)
	got, _ = nm.Next(ctx)
	assert.Equal(t, uint64(10), got)
}

func TestNonceManager_SharedAcrossInstances(t *testing.T) {
	src := &fakeNonceSource{nonce: 5}
	mr := miniredis.RunT(t)
	newManager := func() *NonceManager {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return NewNonceManager(src, rdb, &NonceManagerConfig{Wallet: testWallet, ChainID: 4202})
	}
	a, b := newManager(), newManager()
	ctx := context.Background()

	n1, err := a.Next(ctx)
	require.NoError(t, err)
	n2, err := b.Next(ctx)
	require.NoError(t, err)
	n3, err := a.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, []uint64{5, 6, 7}, []uint64{n1, n2, n3})
}

func TestNonceManager_SharedConcurrentUnique(t *testing.T) {
	src := &fakeNonceSource{nonce: 0}
	nm, _ := newSharedNonceManager(t, src)

	var (
		mu   sync.Mutex
		seen = map[uint64]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := nm.Next(context.Background())
			require.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}

func TestNonceManager_SharedReset(t *testing.T) {
	src := &fakeNonceSource{nonce: 5}
	nm, mr := newSharedNonceManager(t, src)
	ctx := context.Background()

	_, _ = nm.Next(ctx)
	assert.True(t, mr.Exists("eidos:faucet:nonce:4202:"+testWallet.Hex()))

	require.NoError(t, nm.Reset(ctx))
	assert.False(t, mr.Exists("eidos:faucet:nonce:4202:"+testWallet.Hex()))

	got, err := nm.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got)
}
