// Command orderservice starts the public HTTP surface and the saga
// orchestrator (§3, §6): it accepts order requests over HTTP and drives
// every order's state machine by consuming bus responses and events.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgeware/orderforge/internal/bus/kafkabus"
	"github.com/forgeware/orderforge/internal/config"
	"github.com/forgeware/orderforge/internal/httpapi"
	"github.com/forgeware/orderforge/internal/observability"
	"github.com/forgeware/orderforge/internal/repo/postgres"
	"github.com/forgeware/orderforge/internal/saga"
	"github.com/forgeware/orderforge/internal/service/ratelimiter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	orders := postgres.NewOrderRepo(pool)
	sagaLog := postgres.NewSagaLogRepo(pool)
	catalog := postgres.NewCatalogRepo(pool)

	retryCfg := cfg.GetRetryConfig().ToDomain()
	bus, err := kafkabus.New(ctx, cfg.KafkaBrokers, cfg.BusConnectMaxElapsedTime, retryCfg)
	if err != nil {
		slog.Error("bus connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bus.Close()

	orchestrator := saga.New(orders, sagaLog, catalog, bus)

	var limiter ratelimiter.Limiter
	if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
		rdb := redis.NewClient(opts)
		buckets := map[string]ratelimiter.BucketConfig{
			"create_order": ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitPerMin),
		}
		l := ratelimiter.NewRedisLuaLimiter(rdb, pool, buckets)
		if err := l.WarmFromPostgres(ctx); err != nil {
			slog.Warn("rate limiter warm from postgres failed", slog.Any("error", err))
		}
		limiter = l
	} else {
		slog.Warn("redis url invalid, per-client rate limiting disabled", slog.Any("error", err))
	}

	srv := httpapi.NewServer(orchestrator, orders, sagaLog, catalog, limiter)
	router := httpapi.BuildRouter(cfg, srv)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- httpSrv.ListenAndServe()
	}()
	go func() {
		slog.Info("saga orchestrator starting")
		errCh <- orchestrator.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("service error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
