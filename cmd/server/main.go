package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/SlpAus/mcbattle-ranking-backend/api"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/mc"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/config"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/database"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/health"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/metrics"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/shutdown"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/startup"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/user"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/vote"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/lifecycle"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/token"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "服务启动失败: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		return err
	}
	log := logger.Named("server")
	gin.SetMode(cfg.Server.Mode)

	// 1. 签名密钥：未配置时生成临时密钥，重启后旧令牌全部失效
	secret, err := loadSecret(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn(ctx, "未配置 auth.jwtSecret，已生成临时密钥")
	}
	issuer, err := token.NewIssuer(secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	// 2. 存储
	db, err := database.OpenDB(cfg.Database)
	if err != nil {
		return err
	}
	rdb, err := database.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("无法注册指标: %w", err)
	}

	manager := lifecycle.NewManager(logger.Named("lifecycle"))
	coordinator := shutdown.NewCoordinator(manager, cfg.Server.ShutdownTimeout, logger.Named("shutdown"))
	coordinator.AddCloser("database", func() error { return database.CloseDB(db) })

	// 3. 缓存层与健康检查；未启用Redis时二者均为 nil
	var (
		monitor *health.Monitor
		cache   *vote.RankingCache
		limiter *vote.IPLimiter
	)
	if rdb != nil {
		coordinator.AddCloser("redis", rdb.Close)
		monitor = health.NewMonitor(logger.Named("health"))
		cache = vote.NewRankingCache(rdb, monitor, cfg.Redis.PageTTL, m, logger.Named("cache"))
		limiter = vote.NewIPLimiter(rdb, monitor, cfg.Limiter, m, logger.Named("limiter"))
	}

	svc := vote.NewService(db,
		vote.WithRankingConfig(cfg.Ranking),
		vote.WithCache(cache),
		vote.WithMetrics(m),
		vote.WithLogger(logger.Named("vote")),
	)

	// 4. 迁移与启动时重算
	if err := startup.InitializeApplication(ctx, db, svc, cfg.Ranking.RebuildOnStartup, logger.Named("startup")); err != nil {
		return fmt.Errorf("应用初始化失败: %w", err)
	}

	// 5. 后台服务
	if rdb != nil {
		if err := startHealthChecker(ctx, rdb, monitor, cache, manager); err != nil {
			return err
		}
	}
	if cfg.Ranking.RebuildCron != "" {
		scheduler, err := vote.NewRebuildScheduler(cfg.Ranking.RebuildCron, svc, logger.Named("scheduler"))
		if err != nil {
			return err
		}
		if err := manager.Go("rebuild-scheduler", scheduler.Run); err != nil {
			return err
		}
	}

	// 6. HTTP
	router := api.NewRouter(api.Dependencies{
		Config:  cfg,
		Auth:    user.NewAuthenticator(issuer, cfg.Auth.AdminIDs, logger.Named("auth")),
		Votes:   vote.NewHandler(svc, logger.Named("vote")),
		MCs:     mc.NewHandler(db, svc.EmptyAggregate(), logger.Named("mc")),
		Limiter: limiter,
		Metrics: m,
		Monitor: monitor,
		Log:     logger.Get(),
	})
	server := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		log.Info(ctx, "服务器已准备就绪，开始监听", logger.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP服务器异常退出", logger.Error(err))
			os.Exit(1)
		}
	}()

	coordinator.ListenForSignalsAndShutdown(server)
	return nil
}

// startHealthChecker 阻塞式获取初始 run_id 并执行一次检查，然后在后台持续检查
func startHealthChecker(ctx context.Context, rdb *redis.Client, monitor *health.Monitor, cache *vote.RankingCache, manager *lifecycle.Manager) error {
	checker := health.NewChecker(rdb, monitor, startup.HandleRedisRecovery(cache, logger.Named("startup")), logger.Named("health"))
	if err := checker.InitializeRunID(ctx); err != nil {
		return fmt.Errorf("无法获取Redis run_id: %w", err)
	}
	checker.PerformCheck(ctx)
	return manager.Go("redis-health", checker.Run)
}

func loadSecret(configured string) ([]byte, error) {
	if configured == "" {
		return token.GenerateSecretKey()
	}
	return token.DecodeSecret(configured), nil
}
