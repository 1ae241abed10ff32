package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter 注册路由
func NewRouter(claims *ClaimHandler, health *HealthHandler) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(), Metrics())

	r.GET("/health", health.Ready)
	r.GET("/health/live", health.Live)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/claims", claims.Claim)
		v1.GET("/claims", claims.ListClaims)
		v1.GET("/claims/:id", claims.GetClaim)
		v1.GET("/limits", claims.GetLimits)
	}
	return r
}
