// Package handler 提供水龙头 HTTP 接口
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

// HeaderUserID 上游鉴权层写入的用户标识
const HeaderUserID = "X-User-ID"

// Response 统一响应
type Response struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Data    interface{}       `json:"data,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Success 返回成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, &Response{Code: "OK", Message: "success", Data: data})
}

// Error 返回错误响应，Cause 只记日志不返回
func Error(c *gin.Context, err error) {
	bizErr := errors.FromError(err)
	if bizErr.HTTPStatus >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", bizErr.Code),
			zap.Error(err))
	}
	status := bizErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, &Response{
		Code:    bizErr.Code,
		Message: bizErr.Message,
		Details: bizErr.Details,
	})
}

// userID 优先取鉴权头，其次取请求体
func userID(c *gin.Context, fallback string) string {
	if id := c.GetHeader(HeaderUserID); id != "" {
		return id
	}
	return fallback
}
