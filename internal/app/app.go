// Package app 提供应用生命周期管理
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/catalog"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/config"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/cooldown"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/handler"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/kafka"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/oracle"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/service"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/alert"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/circuitbreaker"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/lock"
)

// App 应用实例
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	// 基础设施
	db        *gorm.DB
	rdb       redis.UniversalClient
	pool      *blockchain.ClientPool
	publisher kafka.Publisher
	alerter   alert.Alerter

	// 业务组件
	catalog      *catalog.Catalog
	claims       *service.ClaimService
	confirmation *service.ConfirmationService
	retention    *service.RetentionService

	// HTTP
	engine        *gin.Engine
	httpServer    *http.Server
	healthHandler *handler.HealthHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建应用实例
func New(cfg *config.Config, logger *zap.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Start 启动应用
func (a *App) Start(ctx context.Context) error {
	// 1. 初始化存储
	if err := a.initStorage(ctx); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// 2. 初始化业务组件
	if err := a.initServices(); err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	// 3. 初始化 HTTP 服务
	a.initHTTPServer()

	// 4. 启动后台任务
	a.startWorkers()

	// 5. 设置就绪状态
	a.healthHandler.SetReady(true)

	go func() {
		a.logger.Info("starting HTTP server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止应用
func (a *App) Stop(ctx context.Context) error {
	a.logger.Info("stopping application")

	if a.healthHandler != nil {
		a.healthHandler.SetReady(false)
	}

	// 先停止接收请求，再停后台任务
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.pool != nil {
		a.pool.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("kafka producer close error", zap.Error(err))
		}
	}
	if a.alerter != nil {
		a.alerter.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", zap.Error(err))
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.logger.Error("postgres close error", zap.Error(err))
			}
		}
	}

	a.logger.Info("application stopped")
	return nil
}

// WaitForShutdown 等待关闭信号
func (a *App) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	a.logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Stop(ctx); err != nil {
		a.logger.Error("application stop error", zap.Error(err))
	}
}

// initStorage 连接 PostgreSQL 与 Redis
func (a *App) initStorage(ctx context.Context) error {
	pg := a.cfg.Postgres
	db, err := gorm.Open(postgres.Open(pg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(pg.MaxConnections)
	sqlDB.SetMaxIdleConns(pg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(pg.ConnMaxLifetime) * time.Second)
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	a.db = db
	a.logger.Info("postgres connected", zap.String("host", pg.Host), zap.String("database", pg.Database))

	if pg.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		a.logger.Info("database migrated")
	}

	if a.cfg.Redis.Enabled() {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    a.cfg.Redis.Addresses,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			PoolSize: a.cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return fmt.Errorf("redis ping: %w", err)
		}
		a.rdb = rdb
		a.logger.Info("redis connected", zap.Strings("addrs", a.cfg.Redis.Addresses))
	}
	return nil
}

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.CooldownRecord{}, &model.ClaimRecord{})
}

// initServices 组装业务组件，要求 a.db 已就绪，a.rdb 可为空
func (a *App) initServices() error {
	f := a.cfg.Faucet
	a.catalog = catalog.FromConfig(a.cfg.Chains)
	for _, chain := range a.catalog.Chains() {
		a.logger.Info("chain registered",
			zap.Int64("chain_id", chain.ChainID),
			zap.String("name", chain.Name),
			zap.Bool("signer", chain.PrivateKey != ""))
	}

	// 未启用 Redis 时 rdb 为无类型 nil
	rdb := a.rdb

	cooldownRepo := repository.NewCooldownRepository(a.db)
	claimRepo := repository.NewClaimRepository(a.db)
	store := cooldown.NewStore(cooldownRepo)

	a.pool = blockchain.NewClientPool(a.catalog, blockchain.PoolOptions{})

	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{
		FailureThreshold:    f.Breaker.FailureThreshold,
		SuccessThreshold:    2,
		OpenTimeout:         f.Breaker.OpenTimeout,
		MaxHalfOpenRequests: 1,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.RecordBreakerState(name, int(to))
			a.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	chainOracle := oracle.NewChainOracle(oracle.PoolSource{Pool: a.pool}, breakers, f.OracleTimeout)

	var cache oracle.Cache
	switch f.CacheBackend {
	case "redis":
		cache = oracle.NewRedisCache(rdb, f.OracleCacheTTL)
	default:
		mc, err := oracle.NewMemoryCache(f.OracleCacheSize, f.OracleCacheTTL)
		if err != nil {
			return fmt.Errorf("oracle cache: %w", err)
		}
		cache = mc
	}
	cachedOracle := oracle.NewCachedOracle(chainOracle, cache)

	var locker lock.Locker
	switch f.LockBackend {
	case "redis":
		locker = lock.NewRedisLocker(rdb, lock.RedisLockerOptions{
			KeyPrefix:   "faucet:lock:",
			Expiration:  f.LockTTL,
			WaitTimeout: f.LockWait,
		})
	default:
		locker = lock.NewKeyedLocker(f.LockWait)
	}

	submitter := service.NewTransactionService(a.catalog, a.pool, rdb, &service.TransactionServiceConfig{
		GasMultiplier: f.GasMultiplier,
		SubmitTimeout: f.SubmitTimeout,
	})

	if a.publisher == nil {
		a.publisher = kafka.NoopPublisher{}
		if len(a.cfg.Kafka.Brokers) > 0 {
			producer, err := kafka.NewProducer(a.cfg.Kafka.Brokers, a.cfg.Kafka.ClientID)
			if err != nil {
				// 事件仅用于下游通知，不影响领取
				a.logger.Warn("kafka producer unavailable, events disabled", zap.Error(err))
			} else {
				a.publisher = producer
			}
		}
	}
	a.alerter = alert.NewAlerter(&a.cfg.Alert)

	a.claims = service.NewClaimService(service.ClaimServiceDeps{
		Catalog:   a.catalog,
		Claims:    claimRepo,
		Tx:        repository.NewRepository(a.db),
		Store:     store,
		Oracle:    cachedOracle,
		Locker:    cooldown.NewClaimLocker(locker),
		Submitter: submitter,
		Publisher: a.publisher,
		Alerter:   a.alerter,
	})

	if f.Confirmation.Enabled {
		a.confirmation = service.NewConfirmationService(claimRepo, a.pool, a.publisher, f.Confirmation.Interval, f.Confirmation.BatchSize, f.Confirmation.MaxPendingAge)
	}
	if f.Retention.Enabled {
		a.retention = service.NewRetentionService(store, f.Retention.Period, a.catalog.MaxCooldown(), f.Retention.Interval)
	}

	deps := map[string]handler.Pinger{
		"postgres": handler.PingFunc(func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}
	if rdb != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	a.healthHandler = handler.NewHealthHandler(deps)
	return nil
}

// initHTTPServer 初始化 HTTP 服务
func (a *App) initHTTPServer() {
	if a.cfg.Service.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	a.engine = handler.NewRouter(handler.NewClaimHandler(a.claims), a.healthHandler)
	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler:      a.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// startWorkers 启动交易确认与冷却记录清理
func (a *App) startWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.confirmation != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.confirmation.Run(ctx)
		}()
	}
	if a.retention != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.retention.Run(ctx)
		}()
	}
}

// Engine 返回 Gin 引擎（用于测试）
func (a *App) Engine() *gin.Engine {
	return a.engine
}
