package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/service"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/errors"
)

// ClaimService 领取服务接口
type ClaimService interface {
	Claim(ctx context.Context, req *service.ClaimRequest) (*service.ClaimResult, error)
	GetLimits(ctx context.Context, userID string, chainID int64, wallet string) ([]service.AssetLimit, error)
	GetClaim(ctx context.Context, id string) (*model.ClaimRecord, error)
	ListClaims(ctx context.Context, userID string, page *repository.Pagination) ([]*model.ClaimRecord, error)
}

// ClaimHandler 领取处理器
type ClaimHandler struct {
	svc ClaimService
}

// NewClaimHandler 创建领取处理器
func NewClaimHandler(svc ClaimService) *ClaimHandler {
	return &ClaimHandler{svc: svc}
}

// Claim 发起领取
// POST /api/v1/claims
func (h *ClaimHandler) Claim(c *gin.Context) {
	var req service.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, errors.Wrap(errors.ErrInvalidRequest, err))
		return
	}
	req.UserID = userID(c, req.UserID)

	res, err := h.svc.Claim(c.Request.Context(), &req)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, res)
}

// LimitsResponse 额度查询响应
type LimitsResponse struct {
	ChainID int64                `json:"chain_id"`
	Limits  []service.AssetLimit `json:"limits"`
}

// GetLimits 查询剩余额度
// GET /api/v1/limits?chain_id=&wallet_address=
func (h *ClaimHandler) GetLimits(c *gin.Context) {
	chainID, err := strconv.ParseInt(c.Query("chain_id"), 10, 64)
	if err != nil {
		Error(c, errors.ErrInvalidRequest.WithDetail("field", "chain_id"))
		return
	}

	limits, err := h.svc.GetLimits(c.Request.Context(), userID(c, c.Query("user_id")), chainID, c.Query("wallet_address"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, &LimitsResponse{ChainID: chainID, Limits: limits})
}

// GetClaim 查询领取记录
// GET /api/v1/claims/:id
func (h *ClaimHandler) GetClaim(c *gin.Context) {
	claim, err := h.svc.GetClaim(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	// 只能查看自己的记录
	if uid := c.GetHeader(HeaderUserID); uid != "" && uid != claim.UserID {
		Error(c, errors.ErrNotFound)
		return
	}
	Success(c, claim)
}

// ClaimListResponse 分页领取记录
type ClaimListResponse struct {
	Items    []*model.ClaimRecord `json:"items"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// ListClaims 查询用户领取记录
// GET /api/v1/claims?page=&page_size=
func (h *ClaimHandler) ListClaims(c *gin.Context) {
	uid := userID(c, c.Query("user_id"))
	if uid == "" {
		Error(c, errors.ErrInvalidRequest.WithDetail("field", "user_id"))
		return
	}
	page := &repository.Pagination{}
	page.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	page.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	claims, err := h.svc.ListClaims(c.Request.Context(), uid, page)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, &ClaimListResponse{Items: claims, Total: page.Total, Page: page.Page, PageSize: page.Limit()})
}
