// Package repotest 提供内存版仓储，供业务层测试使用
package repotest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/repository"
)

// ErrInjected 注入的存储故障
var ErrInjected = errors.New("injected storage failure")

// CooldownRepo 内存冷却记录仓储
type CooldownRepo struct {
	mu      sync.Mutex
	nextID  int64
	records []*model.CooldownRecord
	reads   int

	FailRead   bool
	FailCreate bool
}

// NewCooldownRepo 创建内存冷却记录仓储
func NewCooldownRepo() *CooldownRepo {
	return &CooldownRepo{}
}

var _ repository.CooldownRepository = (*CooldownRepo)(nil)

func (r *CooldownRepo) latest(key model.CooldownKey, since int64, bounded bool) *model.CooldownRecord {
	var best *model.CooldownRecord
	for _, rec := range r.records {
		if rec.UserID != key.UserID || rec.AssetType != key.AssetType || rec.ChainID != key.ChainID {
			continue
		}
		if bounded && rec.LastClaimAt <= since {
			continue
		}
		if best == nil || rec.LastClaimAt > best.LastClaimAt ||
			(rec.LastClaimAt == best.LastClaimAt && rec.ID > best.ID) {
			best = rec
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func (r *CooldownRepo) LatestSince(ctx context.Context, key model.CooldownKey, since int64) (*model.CooldownRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.FailRead {
		return nil, ErrInjected
	}
	return r.latest(key, since, true), nil
}

func (r *CooldownRepo) Latest(ctx context.Context, key model.CooldownKey) (*model.CooldownRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.FailRead {
		return nil, ErrInjected
	}
	return r.latest(key, 0, false), nil
}

func (r *CooldownRepo) Create(ctx context.Context, record *model.CooldownRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate {
		return ErrInjected
	}
	r.nextID++
	record.ID = r.nextID
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().UnixMilli()
	}
	cp := *record
	r.records = append(r.records, &cp)
	return nil
}

func (r *CooldownRepo) PurgeBefore(ctx context.Context, before int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate {
		return 0, ErrInjected
	}
	kept := r.records[:0]
	var n int64
	for _, rec := range r.records {
		if rec.LastClaimAt < before {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return n, nil
}

// Records 所有记录的副本
func (r *CooldownRepo) Records() []model.CooldownRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.CooldownRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// Reads 读取次数
func (r *CooldownRepo) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

// SetFailRead 设置读取故障
func (r *CooldownRepo) SetFailRead(fail bool) {
	r.mu.Lock()
	r.FailRead = fail
	r.mu.Unlock()
}

// SetFailCreate 设置写入故障
func (r *CooldownRepo) SetFailCreate(fail bool) {
	r.mu.Lock()
	r.FailCreate = fail
	r.mu.Unlock()
}

// ClaimRepo 内存领取记录仓储
type ClaimRepo struct {
	mu     sync.Mutex
	claims map[string]*model.ClaimRecord

	FailCreate bool
}

// NewClaimRepo 创建内存领取记录仓储
func NewClaimRepo() *ClaimRepo {
	return &ClaimRepo{claims: make(map[string]*model.ClaimRecord)}
}

var _ repository.ClaimRepository = (*ClaimRepo)(nil)

func (r *ClaimRepo) Create(ctx context.Context, claim *model.ClaimRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreate {
		return ErrInjected
	}
	for _, c := range r.claims {
		if c.TxHash == claim.TxHash {
			return errors.New("duplicate tx_hash")
		}
	}
	if claim.ID == "" {
		claim.ID = uuid.New().String()
	}
	now := time.Now().UnixMilli()
	if claim.CreatedAt == 0 {
		claim.CreatedAt = now
	}
	claim.UpdatedAt = now
	cp := *claim
	r.claims[claim.ID] = &cp
	return nil
}

func (r *ClaimRepo) GetByID(ctx context.Context, id string) (*model.ClaimRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[id]
	if !ok {
		return nil, repository.ErrClaimNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *ClaimRepo) CountActive(ctx context.Context, key model.CooldownKey) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.claims {
		if c.Key() == key && c.Status != model.ClaimStatusFailed {
			n++
		}
	}
	return n, nil
}

func (r *ClaimRepo) sorted(asc bool) []*model.ClaimRecord {
	out := make([]*model.ClaimRecord, 0, len(r.claims))
	for _, c := range r.claims {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID < out[j].ID
		}
		if asc {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

func (r *ClaimRepo) ListPending(ctx context.Context, after repository.PendingCursor, limit int) ([]*model.ClaimRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ClaimRecord
	for _, c := range r.sorted(true) {
		if c.CreatedAt < after.CreatedAt || (c.CreatedAt == after.CreatedAt && c.ID <= after.ID) {
			continue
		}
		if c.Status == model.ClaimStatusPending {
			out = append(out, c)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *ClaimRepo) CountPending(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.claims {
		if c.Status == model.ClaimStatusPending {
			n++
		}
	}
	return n, nil
}

func (r *ClaimRepo) UpdateStatus(ctx context.Context, id string, status model.ClaimStatus, blockNumber, gasUsed int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[id]
	if !ok || c.Status != model.ClaimStatusPending {
		return repository.ErrClaimNotFound
	}
	now := time.Now().UnixMilli()
	c.Status = status
	c.BlockNumber = blockNumber
	c.GasUsed = gasUsed
	c.UpdatedAt = now
	if status.IsTerminal() {
		c.ConfirmedAt = now
	}
	return nil
}

func (r *ClaimRepo) ListByUser(ctx context.Context, userID string, page *repository.Pagination) ([]*model.ClaimRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.ClaimRecord
	for _, c := range r.sorted(false) {
		if c.UserID == userID {
			all = append(all, c)
		}
	}
	page.Total = int64(len(all))
	start := page.Offset()
	if start >= len(all) {
		return nil, nil
	}
	end := start + page.Limit()
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// All 所有领取记录
func (r *ClaimRepo) All() []model.ClaimRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ClaimRecord, 0, len(r.claims))
	for _, c := range r.sorted(true) {
		out = append(out, *c)
	}
	return out
}

// SetFailCreate 设置写入故障
func (r *ClaimRepo) SetFailCreate(fail bool) {
	r.mu.Lock()
	r.FailCreate = fail
	r.mu.Unlock()
}

// Transactor 直接执行回调，不提供回滚
type Transactor struct{}

var _ repository.Transactor = Transactor{}

func (Transactor) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (Transactor) TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
