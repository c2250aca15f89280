// Command warehouseservice runs the warehouse participant (§4.3): it
// reserves produced pieces, queues fabrication when stock is short, and
// ships an order's pieces once delivery starts.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/forgeware/orderforge/internal/bus/kafkabus"
	"github.com/forgeware/orderforge/internal/config"
	"github.com/forgeware/orderforge/internal/observability"
	"github.com/forgeware/orderforge/internal/repo/postgres"
	"github.com/forgeware/orderforge/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	pieces := postgres.NewPieceRepo(pool)

	retryCfg := cfg.GetRetryConfig().ToDomain()
	bus, err := kafkabus.New(ctx, cfg.KafkaBrokers, cfg.BusConnectMaxElapsedTime, retryCfg)
	if err != nil {
		slog.Error("bus connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bus.Close()

	participant := warehouse.New(pieces, bus)
	slog.Info("warehouse participant starting")
	if err := participant.Run(ctx); err != nil {
		slog.Error("warehouse participant stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
