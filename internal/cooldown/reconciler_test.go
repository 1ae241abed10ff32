package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/oracle"
)

// stubOracle 固定返回结果并计数
type stubOracle struct {
	res   oracle.Result
	calls int
}

func (o *stubOracle) QueryCooldown(ctx context.Context, q oracle.Query) oracle.Result {
	o.calls++
	return o.res
}

func testQuery() oracle.Query {
	return oracle.Query{
		ChainID:   testKey.ChainID,
		Wallet:    common.HexToAddress("0x1234567890123456789012345678901234567890"),
		AssetType: testKey.AssetType,
		Contract:  common.HexToAddress("0x00000000000000000000000000000000000000f1"),
		Cooldown:  24 * time.Hour,
	}
}

func TestReconciler_ChainAllows(t *testing.T) {
	s, repo, _ := newTestStore()
	o := &stubOracle{res: oracle.Result{CanClaim: true, Outcome: oracle.OutcomeOK}}

	v := NewReconciler(s, o).Reconcile(context.Background(), testKey, testQuery(), 24*time.Hour)
	assert.True(t, v.Allowed)
	assert.Equal(t, oracle.OutcomeOK, v.Outcome)
	assert.Empty(t, repo.Records())
}

func TestReconciler_ChainWins(t *testing.T) {
	s, repo, clock := newTestStore()
	ctx := context.Background()
	remaining := 3 * time.Hour
	o := &stubOracle{res: oracle.Result{CanClaim: false, CooldownRemaining: remaining, Outcome: oracle.OutcomeOK}}

	v := NewReconciler(s, o).Reconcile(ctx, testKey, testQuery(), 24*time.Hour)
	assert.False(t, v.Allowed)
	assert.True(t, v.Backfilled)
	assert.Equal(t, remaining, v.Remaining)
	assert.Equal(t, clock.Now().Add(remaining), v.CooldownEndsAt)
	require.Len(t, repo.Records(), 1)

	// 回填后数据库独立给出与链一致的结果
	limit, err := s.CheckLimit(ctx, testKey, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, limit.Allowed)
	assert.Equal(t, clock.Now().Add(remaining), limit.CooldownEndsAt)
	assert.Equal(t, 1, o.calls)
}

func TestReconciler_BackfillFailureStillDenies(t *testing.T) {
	s, repo, _ := newTestStore()
	repo.SetFailCreate(true)
	o := &stubOracle{res: oracle.Result{CanClaim: false, CooldownRemaining: time.Hour, Outcome: oracle.OutcomeOK}}

	v := NewReconciler(s, o).Reconcile(context.Background(), testKey, testQuery(), 24*time.Hour)
	assert.False(t, v.Allowed)
	assert.False(t, v.Backfilled)
	assert.Equal(t, time.Hour, v.Remaining)
}

func TestReconciler_ChainFailureFailsOpen(t *testing.T) {
	s, repo, _ := newTestStore()
	o := &stubOracle{res: oracle.Result{CanClaim: true, Outcome: oracle.OutcomeChainQueryFailed}}

	v := NewReconciler(s, o).Reconcile(context.Background(), testKey, testQuery(), 24*time.Hour)
	assert.True(t, v.Allowed)
	assert.Equal(t, oracle.OutcomeChainQueryFailed, v.Outcome)
	assert.Empty(t, repo.Records())
}
