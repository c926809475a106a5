package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questledger/api/rest"
	"github.com/kasuganosora/questledger/api/sse"
	"github.com/kasuganosora/questledger/api/ws"
	"github.com/kasuganosora/questledger/audit"
	"github.com/kasuganosora/questledger/cache"
	"github.com/kasuganosora/questledger/config"
	dbadapter "github.com/kasuganosora/questledger/db"
	"github.com/kasuganosora/questledger/game/quest"
	mw "github.com/kasuganosora/questledger/middleware"
	"github.com/kasuganosora/questledger/model"
	"github.com/kasuganosora/questledger/scheduler"
	"github.com/kasuganosora/questledger/snapshot"
	"github.com/kasuganosora/questledger/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scheduler task names.
const (
	TaskPersistRetry = "persist_retry"
	TaskSnapshot     = "snapshot"
)

const shutdownTimeout = 5 * time.Second

// App holds every long-lived component of the ledger service.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *gorm.DB
	Cache     cache.Cache
	PubSub    cache.PubSub
	Store     *quest.Store
	Audit     *audit.Service
	Snapshots *snapshot.Service
	Scheduler *scheduler.Scheduler
	Stream    *sse.Handler
	Socket    *ws.Handler

	limiter *mw.RateLimiter
}

// NewLogger builds the zap logger for cfg: development output in debug mode,
// JSON otherwise.
func NewLogger(cfg config.ServerConfig) (*zap.Logger, error) {
	if cfg.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// New connects storage, loads persisted progress and wires the change
// stream. Background tasks are not started; see StartBackground.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	a.DB = db
	if err := model.AutoMigrate(db); err != nil {
		a.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	cacheCfg := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	if a.Cache, err = cache.NewCache(cacheCfg); err != nil {
		a.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}
	if a.PubSub, err = cache.NewPubSub(cacheCfg); err != nil {
		a.Close()
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	kv, err := storage.Open(cfg.Ledger, db, a.Cache)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = quest.NewStore(kv, quest.Config{
		StorageKey:     cfg.Ledger.StorageKey,
		PersistTimeout: cfg.Ledger.PersistTimeout,
	}, logger.Named("quest"))

	loadProgress(a.Store, cfg.Ledger.PersistTimeout+time.Second, logger)

	a.Audit = audit.New(db, logger.Named("audit"), audit.Options{})
	a.Snapshots = snapshot.New(db, a.Store, cfg.Ledger.SnapshotKeep, logger.Named("snapshot"))
	a.Stream = sse.NewHandler(a.PubSub, cfg.Ledger.ChangeChannel, logger.Named("sse"))
	a.Store.OnCommit(a.Stream.Observer())
	router := ws.NewRouter(logger.Named("ws"))
	ws.RegisterProgressHandlers(router, a.Store)
	a.Socket = ws.NewHandler(a.PubSub, cfg.Ledger.ChangeChannel, router, cfg.Security.AllowedOrigins, logger.Named("ws"))
	a.Scheduler = scheduler.New(logger.Named("scheduler"))
	return a, nil
}

// loadProgress restores persisted progress. A failed read is not fatal: the
// store starts empty and its first mutation overwrites the stored document.
func loadProgress(store *quest.Store, timeout time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := store.LoadFromStorage(ctx); err != nil {
		logger.Warn("quest progress load failed, starting empty", zap.Error(err))
	}
}

// StartBackground registers the persistence retry and snapshot tasks.
func (a *App) StartBackground() {
	a.Scheduler.Every(TaskPersistRetry, a.Config.Ledger.RetryInterval, a.Store.Flush)
	a.Scheduler.Every(TaskSnapshot, a.Config.Ledger.SnapshotInterval, a.Snapshots.Task)
}

// Router builds the HTTP surface.
func (a *App) Router() *gin.Engine {
	if !a.Config.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if a.limiter == nil {
		a.limiter = mw.NewRateLimiter(a.Config.Security.RateLimitRPS, a.Config.Security.RateLimitBurst)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(a.Logger, "/health"), mw.Recovery(a.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"revision": a.Store.Revision(),
			"dirty":    a.Store.Dirty(),
		})
	})

	api := r.Group("/api/progress")
	// streams are not rate limited
	api.GET("/stream", a.Stream.ServeStream)
	api.GET("/ws", a.Socket.ServeWS)

	limited := api.Group("", a.limiter.Handler())
	rest.Register(limited,
		rest.NewProgressHandler(a.Store, a.Audit),
		rest.NewAdminHandler(a.Store, a.Snapshots, a.Scheduler, a.Audit, a.Config.Security.MaxImportBytes, a.Logger),
		a.Config.Server.AdminKey)
	return r
}

// Close stops background work, makes a last attempt to persist unsaved
// progress and releases connections. It is safe on a partially built App.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Store != nil {
		if err := a.Store.Flush(ctx); err != nil {
			a.Logger.Error("final progress flush failed", zap.Error(err))
		}
	}
	if a.Audit != nil {
		a.Audit.Stop(ctx)
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	closeQuietly(a.PubSub)
	closeQuietly(a.Cache)
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func closeQuietly(v any) {
	switch c := v.(type) {
	case interface{ Close() error }:
		_ = c.Close()
	case interface{ Close() }:
		c.Close()
	}
}
