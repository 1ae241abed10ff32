package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/cooldown"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/oracle"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/repository/repotest"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/lock"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

func TestClaim_NativeSuccess(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	res, err := h.svc.Claim(ctx, claimReq(model.AssetTypeNative))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ClaimID)
	assert.NotEmpty(t, res.TransactionHash)
	assert.Equal(t, "0.05", res.Amount)
	assert.Empty(t, res.TokenID)
	assert.Equal(t, 12, res.EstimatedConfirmSeconds)

	claims := h.claims.All()
	require.Len(t, claims, 1)
	assert.Equal(t, res.TransactionHash, claims[0].TxHash)
	assert.Equal(t, model.ClaimStatusPending, claims[0].Status)
	assert.Equal(t, faucetAddr.Hex(), claims[0].AssetAddress)

	records := h.cooldowns.Records()
	require.Len(t, records, 1)
	assert.Equal(t, model.CooldownSourceClaim, records[0].Source)
	assert.Equal(t, h.clock.Now().UnixMilli(), records[0].LastClaimAt)

	assert.Equal(t, 1, h.oracle.Calls())
	assert.Len(t, h.oracle.Invalidated(), 1)
	require.Len(t, h.publisher.submitted, 1)
	assert.Equal(t, res.ClaimID, h.publisher.submitted[0].ClaimID)
}

func TestClaim_ERC20UsesConfiguredAmount(t *testing.T) {
	h := newHarness()

	res, err := h.svc.Claim(context.Background(), claimReq(model.AssetTypeERC20))
	require.NoError(t, err)
	assert.Equal(t, "100", res.Amount)
	assert.Equal(t, tokenAddr.Hex(), h.claims.All()[0].AssetAddress)
}

func TestClaim_Validation(t *testing.T) {
	inactive := testChain()
	inactive.ChainID = 5000
	inactive.Active = false
	noToken := testChain()
	noToken.ChainID = 6000
	noToken.ERC20Contract = common.Address{}
	h := newHarness(testChain(), inactive, noToken)

	cases := []struct {
		name string
		req  ClaimRequest
		want *errors.Error
	}{
		{"empty user", ClaimRequest{ChainID: 4202, AssetType: "native", WalletAddress: testWallet}, errors.ErrInvalidRequest},
		{"bad wallet", ClaimRequest{UserID: "u", ChainID: 4202, AssetType: "native", WalletAddress: "0x12"}, errors.ErrInvalidRequest},
		{"bad asset", ClaimRequest{UserID: "u", ChainID: 4202, AssetType: "erc1155", WalletAddress: testWallet}, errors.ErrInvalidRequest},
		{"unknown chain", ClaimRequest{UserID: "u", ChainID: 1, AssetType: "native", WalletAddress: testWallet}, errors.ErrChainUnsupported},
		{"inactive chain", ClaimRequest{UserID: "u", ChainID: 5000, AssetType: "native", WalletAddress: testWallet}, errors.ErrChainInactive},
		{"not deployed", ClaimRequest{UserID: "u", ChainID: 6000, AssetType: "erc20", WalletAddress: testWallet}, errors.ErrAssetNotDeployed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := h.svc.Claim(context.Background(), &req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	assert.Equal(t, 0, h.submitter.Calls())
	assert.Equal(t, 0, h.oracle.Calls())
	assert.Empty(t, h.claims.All())
}

func TestClaim_DeniedByStoreMakesNoChainCalls(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.svc.Claim(ctx, claimReq(model.AssetTypeNative))
	require.NoError(t, err)
	oracleCalls := h.oracle.Calls()

	h.clock.Advance(90 * time.Minute)
	for i := 0; i < 2; i++ {
		_, err := h.svc.Claim(ctx, claimReq(model.AssetTypeNative))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrRateLimitExceeded))
		assert.Equal(t, "22h 30m", errors.FromError(err).Detail("time_remaining"))
	}

	assert.Equal(t, oracleCalls, h.oracle.Calls())
	assert.Equal(t, 1, h.submitter.Calls())
	assert.Len(t, h.claims.All(), 1)
}

func TestClaim_ChainVerdictOverridesStore(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	remaining := 3 * time.Hour
	h.oracle.set(oracle.Result{CanClaim: false, CooldownRemaining: remaining, Outcome: oracle.OutcomeOK})

	_, err := h.svc.Claim(ctx, claimReq(model.AssetTypeNative))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimitExceeded))
	assert.Equal(t, "3h", errors.FromError(err).Detail("time_remaining"))
	assert.Equal(t, 0, h.submitter.Calls())
	assert.Empty(t, h.claims.All())

	// 回填后数据库即与链一致，无需再查链
	key := model.CooldownKey{UserID: "user-1", AssetType: model.AssetTypeNative, ChainID: 4202}
	limit, err := h.store.CheckLimit(ctx, key, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, limit.Allowed)
	assert.WithinDuration(t, h.clock.Now().Add(remaining), limit.CooldownEndsAt, time.Second)

	records := h.cooldowns.Records()
	require.Len(t, records, 1)
	assert.Equal(t, model.CooldownSourceChainSync, records[0].Source)

	_, err = h.svc.Claim(ctx, claimReq(model.AssetTypeNative))
	assert.True(t, errors.Is(err, errors.ErrRateLimitExceeded))
	assert.Equal(t, 1, h.oracle.Calls())
}

func TestClaim_ChainQueryFailureFailsOpen(t *testing.T) {
	h := newHarness()
	h.oracle.set(oracle.Result{CanClaim: true, Outcome: oracle.OutcomeChainQueryFailed, Err: context.DeadlineExceeded})

	res, err := h.svc.Claim(context.Background(), claimReq(model.AssetTypeNative))
	require.NoError(t, err)
	assert.NotEmpty(t, res.TransactionHash)
	assert.Equal(t, 1, h.submitter.Calls())
}

func TestClaim_StoreFailureFailsClosed(t *testing.T) {
	h := newHarness()
	h.cooldowns.SetFailRead(true)

	_, err := h.svc.Claim(context.Background(), claimReq(model.AssetTypeNative))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInternal))
	assert.Equal(t, 0, h.oracle.Calls())
	assert.Equal(t, 0, h.submitter.Calls())
	assert.Empty(t, h.claims.All())
}

func TestClaim_SubmissionFailureRecordsNothing(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.submitter.err = errors.Wrap(errors.ErrInsufficientFaucetBalance, assert.AnError)

	_, err := h.svc.Claim(ctx, claimReq(model.AssetTypeNative))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientFaucetBalance))
	assert.Empty(t, h.claims.All())
	assert.Empty(t, h.cooldowns.Records())
	assert.Empty(t, h.oracle.Invalidated())

	// 冷却未记录，重试可以成功
	h.submitter.err = nil
	_, err = h.svc.Claim(ctx, claimReq(model.AssetTypeNative))
	require.NoError(t, err)
}

func TestClaim_PersistenceFailureIsEscalated(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	defer logger.ReplaceForTest(zap.New(core))()

	h := newHarness()
	h.claims.SetFailCreate(true)

	_, err := h.svc.Claim(context.Background(), claimReq(model.AssetTypeNative))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistenceFailure))

	txHash := errors.FromError(err).Detail("tx_hash")
	assert.NotEmpty(t, txHash)
	assert.NotContains(t, errors.FromError(err).Message, repotest.ErrInjected.Error())

	entries := logs.FilterMessage("CRITICAL: claim submitted on-chain but not recorded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "unrecorded_claim", entries[0].ContextMap()["anomaly"])
	assert.Equal(t, txHash, entries[0].ContextMap()["tx_hash"])

	alerts := h.alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, txHash, alerts[0].Tags["tx_hash"])

	assert.Len(t, h.oracle.Invalidated(), 1)
	assert.Empty(t, h.publisher.submitted)
}

func TestClaim_CooldownWriteFailureIsEscalated(t *testing.T) {
	h := newHarness()
	h.cooldowns.SetFailCreate(true)

	_, err := h.svc.Claim(context.Background(), claimReq(model.AssetTypeNative))
	assert.True(t, errors.Is(err, errors.ErrPersistenceFailure))
	assert.Len(t, h.alerter.Alerts(), 1)
}

func TestClaim_PublishFailureDoesNotFailClaim(t *testing.T) {
	h := newHarness()
	h.publisher.err = assert.AnError

	_, err := h.svc.Claim(context.Background(), claimReq(model.AssetTypeNative))
	require.NoError(t, err)
	assert.Len(t, h.claims.All(), 1)
}

func TestClaim_ConcurrentSameKey(t *testing.T) {
	h := newHarness()
	h.submitter.delay = 10 * time.Millisecond

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		denials   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Claim(context.Background(), claimReq(model.AssetTypeNative))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, errors.ErrRateLimitExceeded) {
				denials++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, denials)
	assert.Equal(t, 1, h.submitter.Calls())
	assert.Len(t, h.claims.All(), 1)
	assert.Len(t, h.cooldowns.Records(), 1)
}

func TestClaim_ConcurrentAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	h := newHarness()
	h.submitter.delay = 10 * time.Millisecond

	newInstance := func() *ClaimService {
		return NewClaimService(ClaimServiceDeps{
			Catalog: newTestCatalog(testChain()),
			Claims:  h.claims,
			Tx:      repotest.Transactor{},
			Store:   h.store,
			Oracle:  h.oracle,
			Locker: cooldown.NewClaimLocker(lock.NewRedisLocker(rdb, lock.RedisLockerOptions{
				KeyPrefix:     "eidos:faucet:lock:",
				Expiration:    10 * time.Second,
				WaitTimeout:   5 * time.Second,
				RetryInterval: 5 * time.Millisecond,
			})),
			Submitter: h.submitter,
		})
	}
	instances := []*ClaimService{newInstance(), newInstance()}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(svc *ClaimService) {
			defer wg.Done()
			if _, err := svc.Claim(context.Background(), claimReq(model.AssetTypeNative)); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(instances[i%2])
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, h.submitter.Calls())
	assert.Len(t, h.claims.All(), 1)
}

func TestClaim_DifferentAssetsAreIndependent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	for _, a := range model.AllAssetTypes {
		_, err := h.svc.Claim(ctx, claimReq(a))
		require.NoError(t, err, a)
	}
	other := claimReq(model.AssetTypeNative)
	other.UserID = "user-2"
	_, err := h.svc.Claim(ctx, other)
	require.NoError(t, err)

	assert.Equal(t, 4, h.submitter.Calls())
}

func TestClaim_NFTMintLimit(t *testing.T) {
	chain := testChain()
	chain.NFTMintLimit = 2
	chain.Cooldowns[model.AssetTypeNFT] = 0
	h := newHarness(chain)
	ctx := context.Background()

	first, err := h.svc.Claim(ctx, claimReq(model.AssetTypeNFT))
	require.NoError(t, err)
	assert.Equal(t, "1", first.TokenID)
	assert.Empty(t, first.Amount)

	second, err := h.svc.Claim(ctx, claimReq(model.AssetTypeNFT))
	require.NoError(t, err)
	assert.Equal(t, "2", second.TokenID)

	_, err = h.svc.Claim(ctx, claimReq(model.AssetTypeNFT))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMintLimitReached))
	assert.False(t, errors.Is(err, errors.ErrRateLimitExceeded))
	assert.Empty(t, errors.FromError(err).Detail("time_remaining"))
	assert.Equal(t, "2", errors.FromError(err).Detail("limit"))
	assert.Equal(t, 2, h.submitter.Calls())

	// 链上失败的铸造不占额度
	require.NoError(t, h.claims.UpdateStatus(ctx, first.ClaimID, model.ClaimStatusFailed, 10, 0))
	_, err = h.svc.Claim(ctx, claimReq(model.AssetTypeNFT))
	require.NoError(t, err)
	assert.Equal(t, 3, h.submitter.Calls())
}

func TestGetLimits(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.svc.Claim(ctx, claimReq(model.AssetTypeNative))
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	calls := h.oracle.Calls()

	limits, err := h.svc.GetLimits(ctx, "user-1", 4202, "")
	require.NoError(t, err)
	require.Len(t, limits, 3)

	assert.Equal(t, model.AssetTypeNative, limits[0].AssetType)
	assert.Equal(t, 0, limits[0].Remaining)
	assert.Equal(t, "23h", limits[0].TimeRemaining)
	require.NotNil(t, limits[0].CooldownEndsAt)
	assert.True(t, h.clock.Now().Add(23*time.Hour).Equal(*limits[0].CooldownEndsAt))
	assert.Equal(t, errors.ErrRateLimitExceeded.Code, limits[0].Reason)

	assert.Equal(t, 1, limits[1].Remaining)
	assert.Equal(t, 1, limits[2].Remaining)
	assert.Equal(t, calls, h.oracle.Calls())
}

func TestGetLimits_ConsultsChainOnlyWhenStoreAllows(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.svc.Claim(ctx, claimReq(model.AssetTypeNative))
	require.NoError(t, err)
	calls := h.oracle.Calls()

	h.oracle.set(oracle.Result{CanClaim: false, CooldownRemaining: 2*time.Hour + 15*time.Minute, Outcome: oracle.OutcomeOK})
	limits, err := h.svc.GetLimits(ctx, "user-1", 4202, testWallet)
	require.NoError(t, err)

	for _, l := range limits {
		assert.Equal(t, 0, l.Remaining, l.AssetType)
	}
	assert.Equal(t, "24h", limits[0].TimeRemaining)
	assert.Equal(t, "2h 15m", limits[1].TimeRemaining)
	assert.Equal(t, "2h 15m", limits[2].TimeRemaining)
	assert.Equal(t, calls+2, h.oracle.Calls())
	assert.Len(t, h.cooldowns.Records(), 1)
}

func TestGetLimits_StoreFailure(t *testing.T) {
	h := newHarness()
	h.cooldowns.SetFailRead(true)

	limits, err := h.svc.GetLimits(context.Background(), "user-1", 4202, testWallet)
	require.NoError(t, err)
	for _, l := range limits {
		assert.Equal(t, 0, l.Remaining)
		assert.Equal(t, errors.ErrInternal.Code, l.Reason)
	}
	assert.Equal(t, 0, h.oracle.Calls())
}

func TestGetLimits_Errors(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.svc.GetLimits(ctx, "user-1", 1, "")
	assert.True(t, errors.Is(err, errors.ErrChainUnsupported))

	_, err = h.svc.GetLimits(ctx, "", 4202, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = h.svc.GetLimits(ctx, "user-1", 4202, "not-an-address")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestGetClaimAndList(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	res, err := h.svc.Claim(ctx, claimReq(model.AssetTypeNative))
	require.NoError(t, err)

	claim, err := h.svc.GetClaim(ctx, res.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, res.TransactionHash, claim.TxHash)

	_, err = h.svc.GetClaim(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	page := &repository.Pagination{Page: 1, PageSize: 10}
	list, err := h.svc.ListClaims(ctx, "user-1", page)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, int64(1), page.Total)
}

func TestFormatRemaining(t *testing.T) {
	for d, want := range map[time.Duration]string{
		-time.Second:                     "0s",
		0:                                "0s",
		30 * time.Second:                 "30s",
		1500 * time.Millisecond:          "2s",
		45 * time.Minute:                 "45m",
		44*time.Minute + time.Second:     "45m",
		time.Hour:                        "1h",
		23 * time.Hour:                   "23h",
		2*time.Hour + 15*time.Minute:     "2h 15m",
		2*time.Hour + 14*time.Minute + 1: "2h 15m",
		59*time.Minute + 30*time.Second:  "1h",
		time.Duration(math.MaxInt64):     "2562047h 48m",
	} {
		assert.Equal(t, want, FormatRemaining(d), d.String())
	}
}
