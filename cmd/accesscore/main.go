package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/accesscore/pkg/access"
	"github.com/platinummonkey/accesscore/pkg/config"
	"github.com/platinummonkey/accesscore/pkg/middleware"
	"github.com/platinummonkey/accesscore/pkg/oauth"
	"github.com/platinummonkey/accesscore/pkg/observability"
	"github.com/platinummonkey/accesscore/pkg/storage/postgres"
	"github.com/platinummonkey/accesscore/pkg/storage/redisstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var version = "dev"

// maxBodyBytes bounds form and JSON request bodies
const maxBodyBytes = 1 << 20

func main() {
	migrate := flag.Bool("migrate", false, "Apply database migrations before serving")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger, *migrate); err != nil {
		logger.WithError(err).Fatal("accesscore exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger, migrate bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	tp, err := observability.InitOTel(ctx, cfg.Observability.OTel, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Storage
	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := metrics.RegisterDBStats(cm.Primary(), "primary"); err != nil {
		logger.WithError(err).Warn("failed to register db stats collector")
	}
	cm.StartHealthCheckRoutine(ctx, 30*time.Second)

	if migrate {
		if err := postgres.RunMigrations(ctx, cm.Primary(), logger); err != nil {
			cm.Close()
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redisClient, err := redisstore.NewClient(cfg.Storage, logger)
	if err != nil {
		cm.Close()
		return fmt.Errorf("connect redis: %w", err)
	}

	// OAuth engine
	oauthServer := oauth.NewServer(
		postgres.NewClientStore(cm, cfg.OAuth.ClientCacheSize, cfg.OAuth.ClientCacheTTL),
		redisstore.NewTokenStore(redisClient),
		redisstore.NewCodeCache(redisClient),
		cfg.OAuth.Config,
		oauth.WithLogger(logger),
		oauth.WithMetrics(metrics),
	)

	// Access decisions
	resolver := access.NewResolver(cm, logger)
	accessService := access.NewService(
		access.NewRegistry(cm, logger),
		resolver,
		access.WithServiceLogger(logger),
		access.WithServiceMetrics(metrics),
	)
	privateCache := access.NewPrivateCache(
		redisstore.NewReachableStore(redisClient),
		resolver,
		cfg.Access.PrivateCacheTTL,
		logger,
		metrics,
	)

	// API router
	limiter := middleware.NewRateLimiter(redisClient.Redis(), &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Server.TokenRateLimit,
		WindowDuration:    cfg.Server.TokenRateWindow,
		TrustedProxies:    trustedProxies,
	}, cfg.Storage.KeyPrefix+":ratelimit:token")
	router := newAPIRouter(apiDeps{
		logger:       logger,
		metrics:      metrics,
		oauth:        oauthServer,
		users:        postgres.NewUserStore(cm),
		limiter:      limiter,
		service:      accessService,
		requirements: resolver,
		cache:        privateCache,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(router, "accesscore"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port
	healthRouter := mux.NewRouter()
	checker := observability.NewHealthChecker(version).
		Register("database", true, observability.DatabaseProbe(cm.Primary())).
		Register("redis", true, observability.RedisProbe(redisClient.Redis())).
		Register("replicas", false, cm.HealthCheck)
	observability.RegisterHealthRoutes(healthRouter, checker)
	observability.RegisterMetricsEndpoint(healthRouter, registry)
	healthServer := &http.Server{
		Addr:              cfg.Server.HealthAddr(),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return redisClient.Close()
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return cm.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, tp, logger)
	})

	for _, srv := range []*http.Server{apiServer, healthServer} {
		go func(srv *http.Server) {
			defer observability.RecoverPanic(logger, "http server")
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).WithField("addr", srv.Addr).Fatal("HTTP server failed")
			}
		}(srv)
	}

	logger.WithField("version", version).Info("accesscore started")
	return shutdown.WaitForShutdown()
}
