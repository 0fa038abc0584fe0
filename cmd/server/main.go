// Package main runs the backtesting service: the JSON API over HTTP plus a gRPC
// endpoint carrying health and reflection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"backtest-service/services/api"
	"backtest-service/services/arrowpipeline"
	"backtest-service/services/backtest"
	"backtest-service/services/cache"
	"backtest-service/services/clickhouse"
	"backtest-service/services/config"
	"backtest-service/services/marketdata"
	"backtest-service/services/monitoring"
	"backtest-service/services/postgres"
)

const (
	version     = "1.0.0"
	serviceName = "backtest.v1.BacktestService"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDev() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	configPath := flag.String("config", os.Getenv("BACKTEST_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting backtesting service",
		zap.String("version", version),
		zap.String("environment", cfg.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Service stopped with error", zap.Error(err))
	}
	logger.Info("Servers stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var metrics *monitoring.Metrics
	if cfg.Monitoring.Enabled {
		metrics = monitoring.NewMetrics(cfg.Monitoring)
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	checks := []api.Option{
		api.WithHealthCheck("postgres", db.PingContext),
	}
	providerOpts := []marketdata.Option{marketdata.WithMetrics(metrics)}

	// Without ClickHouse every series is synthetic.
	var store marketdata.Store
	if len(cfg.ClickHouse.Addr) > 0 {
		conn, err := clickhouse.Open(ctx, cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		chStore := clickhouse.NewStore(conn, cfg.ClickHouse, logger)
		defer chStore.Close()
		if err := chStore.EnsureSchema(ctx); err != nil {
			return err
		}
		store = chStore
		checks = append(checks, api.WithHealthCheck("clickhouse", conn.Ping))
	} else {
		logger.Warn("ClickHouse not configured, serving synthetic candles only")
	}

	if cfg.Redis.Addr != "" {
		rdb := cache.NewClient(cfg.Redis)
		defer rdb.Close()
		seriesCache := cache.NewSeriesCache(rdb, cfg.Redis)
		providerOpts = append(providerOpts, marketdata.WithCache(seriesCache))
		checks = append(checks, api.WithHealthCheck("redis", seriesCache.Ping))
	}

	provider := marketdata.NewProvider(store, logger, providerOpts...)
	svc := backtest.NewService(
		provider,
		postgres.NewStrategyRepo(db, cfg.Postgres.QueryTimeout),
		postgres.NewResultRepo(db, cfg.Postgres.QueryTimeout),
		logger,
		backtest.WithMaxWorkers(cfg.Engine.MaxWorkers),
		backtest.WithMetrics(metrics),
	)

	handlerOpts := append(checks, api.WithMetrics(metrics), api.WithVersion(version))
	handler := api.NewHandler(svc, arrowpipeline.NewPipeline(cfg.Arrow, logger), cfg.API, logger, handlerOpts...)

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handler.Register(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Starting gRPC server", zap.Int("port", cfg.Server.GRPCPort))
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go watchHealth(ctx, healthServer, handler, logger)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.Info("Shutting down servers...")
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	return serveErr
}

// watchHealth mirrors the dependency checks into the gRPC health service.
func watchHealth(ctx context.Context, hs *health.Server, h *api.Handler, logger *zap.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		status := healthpb.HealthCheckResponse_SERVING
		if failed := h.CheckHealth(ctx); len(failed) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("Dependency check failed", zap.Any("failed", failed))
		}
		hs.SetServingStatus(serviceName, status)
	}
}
