package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/catalog"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/cooldown"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/oracle"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/repository/repotest"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/alert"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/lock"
)

const (
	testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	testWallet = "0x1234567890123456789012345678901234567890"
)

var (
	faucetAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	tokenAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	nftAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f3")
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testChain() *model.Chain {
	return &model.Chain{
		ChainID:                 4202,
		Name:                    "Lisk Sepolia",
		Active:                  true,
		PrivateKey:              testKeyHex,
		FaucetContract:          faucetAddr,
		ERC20Contract:           tokenAddr,
		NFTContract:             nftAddr,
		NativeAmount:            decimal.RequireFromString("0.05"),
		ERC20Amount:             decimal.NewFromInt(100),
		ERC20Decimals:           18,
		EstimatedConfirmSeconds: 12,
		Cooldowns: map[model.AssetType]time.Duration{
			model.AssetTypeNative: 24 * time.Hour,
			model.AssetTypeERC20:  24 * time.Hour,
			model.AssetTypeNFT:    24 * time.Hour,
		},
	}
}

func newTestCatalog(chains ...*model.Chain) *catalog.Catalog {
	cat := catalog.New()
	for _, c := range chains {
		cat.Register(c)
	}
	return cat
}

// stubOracle 固定返回结果，记录查询与失效次数
type stubOracle struct {
	mu          sync.Mutex
	res         oracle.Result
	calls       int
	invalidated []string
}

func allowAll() *stubOracle {
	return &stubOracle{res: oracle.Result{CanClaim: true, Outcome: oracle.OutcomeOK}}
}

func (o *stubOracle) QueryCooldown(ctx context.Context, q oracle.Query) oracle.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.res
}

func (o *stubOracle) Invalidate(ctx context.Context, q oracle.Query) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invalidated = append(o.invalidated, q.Key())
}

func (o *stubOracle) set(res oracle.Result) {
	o.mu.Lock()
	o.res = res
	o.mu.Unlock()
}

func (o *stubOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *stubOracle) Invalidated() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.invalidated...)
}

// fakeSubmitter 不访问链，生成递增的交易哈希
type fakeSubmitter struct {
	calls   atomic.Int32
	delay   time.Duration
	err     error
	tokenID atomic.Int64
}

func (f *fakeSubmitter) next(asset common.Address, amount decimal.Decimal) (*TxResult, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &TxResult{
		TxHash:       common.HexToHash(fmt.Sprintf("0x%064x", n)),
		AssetAddress: asset,
		Amount:       amount,
	}, nil
}

func (f *fakeSubmitter) ClaimNative(ctx context.Context, chainID int64, recipient common.Address) (*TxResult, error) {
	return f.next(faucetAddr, decimal.RequireFromString("0.05"))
}

func (f *fakeSubmitter) ClaimERC20(ctx context.Context, chainID int64, recipient common.Address) (*TxResult, error) {
	return f.next(tokenAddr, decimal.NewFromInt(100))
}

func (f *fakeSubmitter) ClaimNFT(ctx context.Context, chainID int64, recipient common.Address) (*TxResult, error) {
	res, err := f.next(nftAddr, decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	res.TokenID = big.NewInt(f.tokenID.Add(1))
	return res, nil
}

func (f *fakeSubmitter) Calls() int {
	return int(f.calls.Load())
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu        sync.Mutex
	submitted []*model.ClaimSubmittedEvent
	confirmed []*model.ClaimConfirmedEvent
	err       error
}

func (p *recordingPublisher) PublishClaimSubmitted(ctx context.Context, e *model.ClaimSubmittedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, e)
	return p.err
}

func (p *recordingPublisher) PublishClaimConfirmed(ctx context.Context, e *model.ClaimConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

// recordingAlerter 记录告警
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []*alert.Alert
}

func (a *recordingAlerter) Send(ctx context.Context, al *alert.Alert) error {
	a.SendAsync(al)
	return nil
}

func (a *recordingAlerter) SendAsync(al *alert.Alert) {
	a.mu.Lock()
	a.alerts = append(a.alerts, al)
	a.mu.Unlock()
}

func (a *recordingAlerter) Close() {}

func (a *recordingAlerter) Alerts() []*alert.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*alert.Alert(nil), a.alerts...)
}

// harness 领取服务与其内存依赖
type harness struct {
	svc       *ClaimService
	clock     *testClock
	store     *cooldown.Store
	cooldowns *repotest.CooldownRepo
	claims    *repotest.ClaimRepo
	oracle    *stubOracle
	submitter *fakeSubmitter
	publisher *recordingPublisher
	alerter   *recordingAlerter
}

func newHarness(chains ...*model.Chain) *harness {
	if len(chains) == 0 {
		chains = []*model.Chain{testChain()}
	}
	h := &harness{
		clock:     newTestClock(),
		cooldowns: repotest.NewCooldownRepo(),
		claims:    repotest.NewClaimRepo(),
		oracle:    allowAll(),
		submitter: &fakeSubmitter{},
		publisher: &recordingPublisher{},
		alerter:   &recordingAlerter{},
	}
	h.store = cooldown.NewStore(h.cooldowns)
	h.store.SetClock(h.clock.Now)

	h.svc = NewClaimService(ClaimServiceDeps{
		Catalog:   newTestCatalog(chains...),
		Claims:    h.claims,
		Tx:        repotest.Transactor{},
		Store:     h.store,
		Oracle:    h.oracle,
		Locker:    cooldown.NewClaimLocker(lock.NewKeyedLocker(5 * time.Second)),
		Submitter: h.submitter,
		Publisher: h.publisher,
		Alerter:   h.alerter,
	})
	return h
}

func claimReq(asset model.AssetType) *ClaimRequest {
	return &ClaimRequest{
		UserID:        "user-1",
		ChainID:       4202,
		AssetType:     asset.String(),
		WalletAddress: testWallet,
	}
}
