// Package app provides the main application lifecycle management for the
// draftsync agent.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/helmstudio/draftsync/internal/cache"
	"github.com/helmstudio/draftsync/internal/config"
	"github.com/helmstudio/draftsync/internal/kv"
	"github.com/helmstudio/draftsync/internal/logger"
	"github.com/helmstudio/draftsync/internal/metrics"
	"github.com/helmstudio/draftsync/internal/remote"
	"github.com/helmstudio/draftsync/internal/syncer"
)

const (
	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second

	adminReadTimeout   = 10 * time.Second
	adminWriteTimeout  = 30 * time.Second
	startupPullTimeout = 30 * time.Second
)

// App wires the local cache, sync scheduler, and reconciler into one agent
// process with an admin HTTP surface.
type App struct {
	config      *config.Config
	logger      logger.Logger
	redisClient *redis.Client
	store       *cache.Store
	scheduler   *syncer.Scheduler
	reconciler  *syncer.Reconciler
	httpServer  *http.Server
	version     string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string
}

// New creates a new App instance with all dependencies initialized
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "draftsync"),
		logger.String("version", opts.Version),
		logger.String("user_id", cfg.UserID),
	)

	backend, redisClient, err := newCacheBackend(cfg)
	if err != nil {
		_ = appLogger.Sync()
		return nil, err
	}

	remoteClient, err := remote.NewClient(cfg.Remote.URL, cfg.Remote.Token, cfg.Remote.Timeout, appLogger)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("create drafts client: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	syncMetrics := metrics.NewSync(registry)

	store := cache.New(backend, cfg.UserID, appLogger)

	scheduler := syncer.NewScheduler(store, remoteClient, syncer.SchedulerConfig{
		Interval:      cfg.Sync.Interval,
		CallTimeout:   cfg.Sync.CallTimeout,
		ForceWaitStep: cfg.Sync.ForceWaitStep,
		ForceWaitMax:  cfg.Sync.ForceWaitMax,
	}, syncMetrics, appLogger)

	// Saves queue through the scheduler, deletes fire at the remote.
	store.SetQueue(scheduler)
	store.SetRemote(remoteClient)

	reconciler := syncer.NewReconciler(store, remoteClient, syncMetrics, appLogger)

	a := &App{
		config:      cfg,
		logger:      appLogger,
		redisClient: redisClient,
		store:       store,
		scheduler:   scheduler,
		reconciler:  reconciler,
		version:     opts.Version,
	}
	a.httpServer = a.newAdminServer(registry)
	return a, nil
}

// newCacheBackend builds the kv backend the cache store writes through.
func newCacheBackend(cfg *config.Config) (kv.Store, *redis.Client, error) {
	if cfg.Cache.Backend == "memory" {
		return kv.NewMemory(), nil, nil
	}

	client, err := kv.NewRedisClient(cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to Redis: %w", err)
	}
	return kv.NewRedis(client), client, nil
}

// newAdminServer builds the observability HTTP surface: health, pending-set
// stats, and Prometheus metrics.
func (a *App) newAdminServer(registry *prometheus.Registry) *http.Server {
	if !a.config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "draftsync",
			"version": a.version,
		})
	})
	router.GET("/stats", func(c *gin.Context) {
		pending := a.scheduler.Pending()
		c.JSON(http.StatusOK, gin.H{
			"pending_count": len(pending),
			"pending":       pending,
		})
	})
	router.POST("/sync", func(c *gin.Context) {
		if err := a.scheduler.ForceSyncNow(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"synced": true})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return &http.Server{
		Addr:         a.config.Admin.Address,
		Handler:      router,
		ReadTimeout:  adminReadTimeout,
		WriteTimeout: adminWriteTimeout,
	}
}

// Run starts the agent and blocks until shutdown. On startup it pulls the
// full remote draft set into the local cache, then runs the sync scheduler.
func (a *App) Run(ctx context.Context) error {
	pullCtx, cancel := context.WithTimeout(ctx, startupPullTimeout)
	if ok := a.reconciler.SyncAllFromServer(pullCtx); !ok {
		a.logger.Warn("Startup pull failed, continuing with local cache only")
	}
	cancel()

	a.scheduler.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Admin server listening", logger.String("address", a.config.Admin.Address))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	return a.waitForShutdown(ctx, serverErr)
}

// waitForShutdown handles graceful shutdown
func (a *App) waitForShutdown(ctx context.Context, serverErr chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownErr error

	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully", logger.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("Shutting down, context cancelled")
	case err := <-serverErr:
		a.logger.Error("Admin server error", logger.Error(err))
		shutdownErr = err
	}

	a.scheduler.Stop()
	a.shutdownHTTPServer()

	a.logger.Info("Agent stopped")
	return shutdownErr
}

// shutdownHTTPServer gracefully shuts down the admin HTTP server
func (a *App) shutdownHTTPServer() {
	if a.httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Server shutdown error", logger.Error(err))
	} else {
		a.logger.Info("Admin server stopped")
	}
}

// Store returns the local cache store
func (a *App) Store() *cache.Store {
	return a.store
}

// Close cleans up resources
func (a *App) Close() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", logger.Error(err))
		}
	}
	return a.logger.Sync()
}

// Logger returns the application logger
func (a *App) Logger() logger.Logger {
	return a.logger
}
