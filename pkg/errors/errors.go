// Package errors 定义 faucet 对外暴露的业务错误
//
// 所有对调用方可见的错误都来自下方的封闭错误集合，每个错误码对应唯一一条简短的用户提示。
// 合约或数据库的原始错误只保存在 Cause 中用于日志，不会出现在 Message 里。
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error 业务错误
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails 添加详情
func (e *Error) WithDetails(details map[string]string) *Error {
	newErr := e.Copy()
	if newErr.Details == nil {
		newErr.Details = make(map[string]string, len(details))
	}
	for k, v := range details {
		newErr.Details[k] = v
	}
	return newErr
}

// WithDetail 添加单个详情
func (e *Error) WithDetail(key, value string) *Error {
	return e.WithDetails(map[string]string{key: value})
}

// Detail 读取详情
func (e *Error) Detail(key string) string {
	if e.Details == nil {
		return ""
	}
	return e.Details[key]
}

// WithMessage 替换错误消息
func (e *Error) WithMessage(message string) *Error {
	newErr := e.Copy()
	newErr.Message = message
	return newErr
}

// Copy 复制错误
func (e *Error) Copy() *Error {
	newErr := &Error{
		Code:       e.Code,
		Message:    e.Message,
		HTTPStatus: e.HTTPStatus,
		Cause:      e.Cause,
	}
	if e.Details != nil {
		newErr.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			newErr.Details[k] = v
		}
	}
	return newErr
}

// MarshalJSON 只输出对外字段，Cause 不序列化
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal((*Alias)(e))
}

// New 创建新错误
func New(code, message string, httpStatus int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap 包装底层原因
func Wrap(err *Error, cause error) *Error {
	newErr := err.Copy()
	newErr.Cause = cause
	return newErr
}

// FromError 从标准错误转换，未知错误归为内部错误
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr
	}
	return Wrap(ErrInternal, err)
}

// 通用错误码
var (
	ErrInternal       = New("INTERNAL_ERROR", "服务暂时不可用，请稍后重试", http.StatusInternalServerError)
	ErrInvalidRequest = New("INVALID_REQUEST", "请求参数无效", http.StatusBadRequest)
	ErrNotFound       = New("NOT_FOUND", "记录不存在", http.StatusNotFound)
)

// 领取错误码 (封闭集合)
var (
	// 冷却与额度
	ErrRateLimitExceeded = New("RATE_LIMIT_EXCEEDED", "领取过于频繁，请在冷却结束后再试", http.StatusTooManyRequests)
	ErrMintLimitReached  = New("MINT_LIMIT_REACHED", "已达到该资产的领取上限", http.StatusTooManyRequests)
	ErrClaimInProgress   = New("CLAIM_IN_PROGRESS", "该资产的领取正在处理中", http.StatusConflict)

	// 链与资产配置
	ErrChainUnsupported = New("CHAIN_UNSUPPORTED", "暂不支持该网络", http.StatusBadRequest)
	ErrChainInactive    = New("CHAIN_INACTIVE", "该网络的水龙头已暂停", http.StatusServiceUnavailable)
	ErrAssetNotDeployed = New("ASSET_NOT_DEPLOYED", "该资产尚未在此网络部署", http.StatusBadRequest)

	// 链上交易
	ErrInsufficientFaucetBalance = New("INSUFFICIENT_FAUCET_BALANCE", "水龙头余额不足，请稍后再试", http.StatusServiceUnavailable)
	ErrContractReverted          = New("CONTRACT_REVERTED", "链上交易被拒绝", http.StatusUnprocessableEntity)
	ErrTransactionSubmission     = New("TRANSACTION_SUBMISSION_FAILED", "交易提交失败，请稍后重试", http.StatusBadGateway)

	// 持久化与配置
	ErrPersistenceFailure = New("PERSISTENCE_FAILURE", "领取记录保存失败", http.StatusInternalServerError)
	ErrConfiguration      = New("CONFIGURATION_ERROR", "水龙头配置错误", http.StatusInternalServerError)
)

// ToHTTPStatus 获取 HTTP 状态码
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var bizErr *Error
	if errors.As(err, &bizErr) && bizErr.HTTPStatus != 0 {
		return bizErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Is 判断错误类型
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	return errors.Is(err, target)
}

// GetCode 获取错误码
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr.Code
	}
	return "UNKNOWN"
}

// IsDenial 判断是否为预期内的拒绝结果 (不应由系统重试)
func IsDenial(err error) bool {
	return Is(err, ErrRateLimitExceeded) ||
		Is(err, ErrMintLimitReached) ||
		Is(err, ErrChainUnsupported) ||
		Is(err, ErrChainInactive) ||
		Is(err, ErrAssetNotDeployed)
}
