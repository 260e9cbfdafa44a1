// Package api 组装HTTP路由与全局中间件。
package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/mc"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/config"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/health"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/metrics"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/user"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/vote"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Dependencies 是构建路由所需的全部组件，Metrics、Monitor 和 Limiter 可以为 nil
type Dependencies struct {
	Config  *config.Config
	Auth    *user.Authenticator
	Votes   *vote.Handler
	MCs     *mc.Handler
	Limiter *vote.IPLimiter
	Metrics *metrics.Manager
	Monitor *health.Monitor
	Log     logger.Logger
}

// NewRouter 创建 gin 引擎并注册项目的所有路由
func NewRouter(deps Dependencies) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(AccessLog(log.Named("http")))
	router.Use(deps.Metrics.GinMiddleware())

	// 配置CORS中间件
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := deps.Config.Server.Cors.AllowedOrigins
	if len(origins) == 0 || slices.Contains(origins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", healthz(deps.Monitor))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	SetupRoutes(router, deps)
	return router
}

// SetupRoutes 注册 /api 下的业务路由
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	api := router.Group("/api", deps.Auth.LoadIdentityMiddleware())
	{
		deps.Votes.RegisterRoutes(api, deps.Limiter)
		deps.MCs.RegisterRoutes(api, user.RequireAdmin())
	}
}

func healthz(monitor *health.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := "disabled"
		if monitor != nil {
			state = monitor.State().String()
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "redis": state})
	}
}
