package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/repository/repotest"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/errors"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var testKey = model.CooldownKey{UserID: "user-1", AssetType: model.AssetTypeNative, ChainID: 4202}

func newTestStore() (*Store, *repotest.CooldownRepo, *testClock) {
	repo := repotest.NewCooldownRepo()
	clock := &testClock{t: time.UnixMilli(1_700_000_000_000)}
	s := NewStore(repo)
	s.SetClock(clock.Now)
	return s, repo, clock
}

func TestStore_NoRecordAllows(t *testing.T) {
	s, _, _ := newTestStore()

	limit, err := s.CheckLimit(context.Background(), testKey, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, limit.Allowed)
	assert.True(t, limit.CooldownEndsAt.IsZero())
}

func TestStore_CooldownWindow(t *testing.T) {
	s, _, clock := newTestStore()
	ctx := context.Background()
	d := 24 * time.Hour
	claimedAt := clock.Now()

	_, err := s.RecordClaim(ctx, testKey, d)
	require.NoError(t, err)

	for _, offset := range []time.Duration{time.Millisecond, time.Hour, d - time.Millisecond} {
		clock.t = claimedAt.Add(offset)
		limit, err := s.CheckLimit(ctx, testKey, d)
		require.NoError(t, err)
		assert.False(t, limit.Allowed, "offset %s", offset)
		assert.Equal(t, claimedAt.Add(d), limit.CooldownEndsAt)
		assert.Equal(t, claimedAt, limit.LastClaimAt)
		assert.Equal(t, d-offset, limit.Remaining(clock.Now()))
	}

	for _, offset := range []time.Duration{d, d + time.Hour} {
		clock.t = claimedAt.Add(offset)
		limit, err := s.CheckLimit(ctx, testKey, d)
		require.NoError(t, err)
		assert.True(t, limit.Allowed, "offset %s", offset)
	}
}

func TestStore_KeysAreIndependent(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	_, _ = s.RecordClaim(ctx, testKey, time.Hour)

	others := []model.CooldownKey{
		{UserID: "user-2", AssetType: model.AssetTypeNative, ChainID: 4202},
		{UserID: "user-1", AssetType: model.AssetTypeERC20, ChainID: 4202},
		{UserID: "user-1", AssetType: model.AssetTypeNative, ChainID: 11155111},
	}
	for _, k := range others {
		limit, err := s.CheckLimit(ctx, k, time.Hour)
		require.NoError(t, err)
		assert.True(t, limit.Allowed, k.String())
	}
}

func TestStore_CheckLimitFailsClosed(t *testing.T) {
	s, repo, _ := newTestStore()
	repo.SetFailRead(true)

	limit, err := s.CheckLimit(context.Background(), testKey, time.Hour)
	assert.Error(t, err)
	assert.False(t, limit.Allowed)
	assert.True(t, errors.Is(err, errors.ErrInternal))
}

func TestStore_RecordClaimFailure(t *testing.T) {
	s, repo, _ := newTestStore()
	repo.SetFailCreate(true)

	_, err := s.RecordClaim(context.Background(), testKey, time.Hour)
	assert.True(t, errors.Is(err, errors.ErrPersistenceFailure))
	assert.ErrorIs(t, err, repotest.ErrInjected)
}

func TestStore_RecordClaimAppends(t *testing.T) {
	s, repo, clock := newTestStore()
	ctx := context.Background()

	first, err := s.RecordClaim(ctx, testKey, time.Hour)
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	second, err := s.RecordClaim(ctx, testKey, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ClaimCount)
	assert.Equal(t, int64(2), second.ClaimCount)
	assert.Equal(t, clock.Now().Add(time.Hour).UnixMilli(), second.ResetAt)
	assert.Equal(t, model.CooldownSourceClaim, second.Source)
	assert.Len(t, repo.Records(), 2)
}

func TestStore_BackfillFromChain(t *testing.T) {
	s, _, clock := newTestStore()
	ctx := context.Background()
	d := 24 * time.Hour
	remaining := 5 * time.Hour

	rec, err := s.BackfillFromChain(ctx, testKey, d, remaining)
	require.NoError(t, err)
	assert.Equal(t, model.CooldownSourceChainSync, rec.Source)
	assert.Equal(t, clock.Now().Add(-d).Add(remaining).UnixMilli(), rec.LastClaimAt)

	limit, err := s.CheckLimit(ctx, testKey, d)
	require.NoError(t, err)
	assert.False(t, limit.Allowed)
	assert.Equal(t, clock.Now().Add(remaining), limit.CooldownEndsAt)

	clock.Advance(remaining)
	limit, err = s.CheckLimit(ctx, testKey, d)
	require.NoError(t, err)
	assert.True(t, limit.Allowed)
}

func TestStore_Purge(t *testing.T) {
	s, repo, clock := newTestStore()
	ctx := context.Background()

	_, _ = s.RecordClaim(ctx, testKey, time.Hour)
	clock.Advance(8 * 24 * time.Hour)
	_, _ = s.RecordClaim(ctx, testKey, time.Hour)

	n, err := s.Purge(ctx, clock.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, repo.Records(), 1)
}
