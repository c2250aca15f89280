// Command deliveryservice runs the delivery participant (§4.4) alongside the
// address directory (§4.4's "client address replica"): together they check
// address feasibility, simulate shipping, and keep each client's delivery
// address in sync with upstream client.created/client.updated events.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/forgeware/orderforge/internal/addressdirectory"
	"github.com/forgeware/orderforge/internal/bus/kafkabus"
	"github.com/forgeware/orderforge/internal/config"
	"github.com/forgeware/orderforge/internal/delivery"
	"github.com/forgeware/orderforge/internal/observability"
	"github.com/forgeware/orderforge/internal/repo/postgres"
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

	deliveries := postgres.NewDeliveryRepo(pool)
	addresses := postgres.NewClientAddressRepo(pool)

	retryCfg := cfg.GetRetryConfig().ToDomain()
	bus, err := kafkabus.New(ctx, cfg.KafkaBrokers, cfg.BusConnectMaxElapsedTime, retryCfg)
	if err != nil {
		slog.Error("bus connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bus.Close()

	deliveryParticipant := delivery.New(deliveries, addresses, bus, cfg.DeliverySimMinDelay, cfg.DeliverySimMaxDelay)
	directory := addressdirectory.New(addresses, bus)

	errCh := make(chan error, 2)
	go func() {
		slog.Info("delivery participant starting")
		errCh <- deliveryParticipant.Run(ctx)
	}()
	go func() {
		slog.Info("address directory starting")
		errCh <- directory.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("delivery service stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
