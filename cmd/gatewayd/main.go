// Command gatewayd runs the market-order gateway: an HTTP/WebSocket
// service that accepts orders, schedules them onto a bounded handler pool,
// and streams progress to observers.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/api"
	"github.com/marketorder/gateway/internal/cache"
	"github.com/marketorder/gateway/internal/config"
	"github.com/marketorder/gateway/internal/executor"
	"github.com/marketorder/gateway/internal/extract"
	"github.com/marketorder/gateway/internal/logging"
	"github.com/marketorder/gateway/internal/middleware"
	"github.com/marketorder/gateway/internal/scheduler"
	"github.com/marketorder/gateway/internal/sessionpool"
	"github.com/marketorder/gateway/internal/store"
)

func main() {
	var configPath string
	var migrateOnly bool

	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "market-order gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, migrateOnly)
		},
	}
	root.Flags().StringVar(&configPath, "config", "Config.toml", "path to the TOML configuration file")
	root.Flags().BoolVar(&migrateOnly, "migrate-only", false, "apply database migrations and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, migrateOnly bool) error {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Environment: cfg.Logging.Environment, FilePath: cfg.Logging.FilePath})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if migrateOnly {
		if err := store.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := probeBindable(addr); err != nil {
		return fmt.Errorf("port %d unavailable: %w", cfg.Server.Port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Connect(ctx, cfg.Database, logger); err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := store.TruncateCompletedTasks(cfg.Database.URL); err != nil {
		logger.Warn("truncate completed_tasks failed", zap.Error(err))
	}

	redisCache, err := cache.Connect(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis connection failed, continuing without cache", zap.Error(err))
		redisCache, _ = cache.Connect(ctx, config.RedisConfig{}, logger)
	}
	defer redisCache.Close() //nolint:errcheck

	sessionPool, err := sessionpool.New(cfg.API.HandlersCount, 9400, "./runtime/sessions")
	if err != nil {
		return fmt.Errorf("init session pool: %w", err)
	}

	tokenStore := store.NewTokenStore()
	resultStore := store.NewResultStore()
	sched := scheduler.New(ctx, cfg, sessionPool, executor.Extractor(extract.Data), resultStore, redisCache, logger)

	engine := gin.New()
	gin.SetMode(gin.ReleaseMode)
	engine.Use(middleware.Recovery(logger))
	engine.Use(middleware.RequestLogger(logger, 2*time.Second))
	engine.Use(middleware.ErrorMapper())
	engine.Use(middleware.NewSecurityMiddleware(logger, middleware.DefaultSecurityConfig()).Handle())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
	}))

	group := engine.Group(cfg.API.RootAPIPath)
	apiHandlers := api.New(cfg, sched, tokenStore, logger)
	apiHandlers.Register(engine, group, middleware.RequireMaster(cfg.MasterToken), middleware.Auth(tokenStore, logger))

	srv := &http.Server{Addr: addr, Handler: engine}

	go func() {
		logger.Info("gateway starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("gateway exited cleanly")
	return nil
}

// probeBindable mirrors the original implementation's boot-time port check:
// a port already in use aborts the process before any other setup runs.
func probeBindable(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return l.Close()
}
