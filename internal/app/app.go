package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/godilite/valuation-server/internal/benchmark"
	"github.com/godilite/valuation-server/internal/config"
	handler "github.com/godilite/valuation-server/internal/grpc"
	"github.com/godilite/valuation-server/internal/metrics"
	"github.com/godilite/valuation-server/internal/repository"
	"github.com/godilite/valuation-server/internal/service"
	"github.com/godilite/valuation-server/internal/valuation"
	"github.com/godilite/valuation-server/pkg/cache"
	dbbuilder "github.com/godilite/valuation-server/pkg/database"
	grpcsrv "github.com/godilite/valuation-server/pkg/grpc/server"
)

const shutdownTimeout = 10 * time.Second

type snapshotCache interface {
	service.Cacher
	Close() error
}

type App struct {
	logger        *zap.Logger
	dbPool        *sql.DB
	cache         snapshotCache
	grpcServer    *grpcsrv.Server
	metricsServer *http.Server
	metricsLis    net.Listener
}

func loadBenchmarks(cfg *config.Config, logger *zap.Logger) (*benchmark.Table, error) {
	if cfg.BenchmarksPath == "" {
		logger.Info("Using built-in benchmark table")
		return benchmark.Default(), nil
	}
	table, err := benchmark.Load(cfg.BenchmarksPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Benchmark table loaded",
		zap.String("path", cfg.BenchmarksPath),
		zap.Strings("industries", table.Industries()))
	return table, nil
}

// newCache connects to redis when configured. An unreachable redis degrades
// to cache.Noop.
func newCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) snapshotCache {
	if cfg.RedisAddr == "" {
		logger.Info("Snapshot cache disabled")
		return cache.Noop{}
	}
	client, err := cache.New(ctx,
		cache.WithAddress(cfg.RedisAddr),
		cache.WithPassword(cfg.RedisPassword),
		cache.WithDB(cfg.RedisDB),
	)
	if err != nil {
		logger.Warn("Cache unavailable, continuing without snapshot cache",
			zap.String("addr", cfg.RedisAddr), zap.Error(err))
		return cache.Noop{}
	}
	logger.Info("Cache client initialized", zap.String("addr", cfg.RedisAddr))
	return client
}

func policyFromConfig(cfg *config.Config) service.CompletenessPolicy {
	policy := service.DefaultPolicy()
	if len(cfg.EssentialFields) > 0 {
		policy.Essential = cfg.EssentialFields
	}
	policy.MinPresent = cfg.MinEssentialFields
	return policy
}

func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	table, err := loadBenchmarks(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("benchmark init failed: %w", err)
	}

	dbPool, err := dbbuilder.New(dbbuilder.WithSQLite(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}
	if err := repository.Migrate(ctx, dbPool); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	logger.Info("Database pool initialized", zap.String("path", cfg.DBPath))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("metrics init failed: %w", err)
	}

	cacheClient := newCache(ctx, cfg, logger)

	evaluationRepo := repository.NewEvaluationRepository(dbPool)
	runner := valuation.NewRunner(logger, cfg.MethodologyTimeout)

	evaluationService := service.NewEvaluationService(evaluationRepo, table, logger,
		service.WithCache(cacheClient),
		service.WithCacheTTL(cfg.CacheTTL),
		service.WithRunner(runner),
		service.WithPolicy(policyFromConfig(cfg)),
		service.WithEvaluationTimeout(cfg.EvaluationTimeout),
	)

	grpcHandlers := handler.NewGRPCHandlers(evaluationService, logger, cfg.OpportunityCap)

	grpcServer, err := grpcsrv.New(
		grpcsrv.WithPort(cfg.GRPCPort),
		grpcsrv.WithLogger(logger),
		grpcsrv.WithReflection(cfg.GRPCReflectionEnabled),
		grpcsrv.WithLogging(true),
		grpcsrv.WithRecovery(true),
		grpcsrv.WithMetrics(true),
	)
	if err != nil {
		cacheClient.Close()
		dbPool.Close()
		return nil, fmt.Errorf("failed to create gRPC server: %w", err)
	}

	grpcServer.RegisterServiceWithHealth(handler.ServiceName, func(s *grpc.Server) {
		handler.RegisterEvaluationServiceServer(s, grpcHandlers)
	})

	a := &App{
		logger:     logger,
		dbPool:     dbPool,
		cache:      cacheClient,
		grpcServer: grpcServer,
	}

	if cfg.MetricsAddr != "" {
		lis, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			a.close(context.Background())
			return nil, fmt.Errorf("failed to listen for metrics on %s: %w", cfg.MetricsAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metricsLis = lis
		a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	return a, nil
}

// Run starts the application and blocks until a shutdown signal is received.
func (a *App) Run() error {
	a.logger.Info("application starting")

	a.grpcServer.Start()

	if a.metricsServer != nil {
		go func() {
			a.logger.Info("metrics server started", zap.String("addr", a.metricsLis.Addr().String()))
			if err := a.metricsServer.Serve(a.metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.logger.Info("application shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.close(ctx)

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			a.logger.Warn("shutdown completed but deadline exceeded")
		}
	default:
		a.logger.Info("graceful shutdown completed successfully")
	}

	_ = a.logger.Sync()
	return nil
}

func (a *App) close(ctx context.Context) {
	a.grpcServer.SetServiceHealth(handler.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	if err := a.grpcServer.Shutdown(ctx); err != nil {
		a.logger.Error("gRPC shutdown error", zap.Error(err))
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("metrics shutdown error", zap.Error(err))
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("cache shutdown error", zap.Error(err))
	}
	if err := a.dbPool.Close(); err != nil {
		a.logger.Error("database shutdown error", zap.Error(err))
	}
}
