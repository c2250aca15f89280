// Command paymentservice runs the payment participant (§4.2): it debits and
// credits client balances in response to payment.check/check_cancel/
// revert_cancel commands.
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
	"github.com/forgeware/orderforge/internal/payment"
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

	payments := postgres.NewPaymentRepo(pool)

	retryCfg := cfg.GetRetryConfig().ToDomain()
	bus, err := kafkabus.New(ctx, cfg.KafkaBrokers, cfg.BusConnectMaxElapsedTime, retryCfg)
	if err != nil {
		slog.Error("bus connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bus.Close()

	participant := payment.New(payments, bus)
	slog.Info("payment participant starting")
	if err := participant.Run(ctx); err != nil {
		slog.Error("payment participant stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
