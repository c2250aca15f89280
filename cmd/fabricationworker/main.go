// Command fabricationworker runs one fabrication worker process for a
// single piece type (§4.5), selected by FABRICATION_PIECE_TYPE. It also
// exposes its in-memory current-status register over HTTP.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/forgeware/orderforge/internal/bus/kafkabus"
	"github.com/forgeware/orderforge/internal/config"
	"github.com/forgeware/orderforge/internal/domain"
	"github.com/forgeware/orderforge/internal/fabrication"
	"github.com/forgeware/orderforge/internal/observability"
)

func pieceType(raw string) domain.PieceType {
	if strings.EqualFold(raw, "b") {
		return domain.PieceTypeB
	}
	return domain.PieceTypeA
}

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

	retryCfg := cfg.GetRetryConfig().ToDomain()
	bus, err := kafkabus.New(ctx, cfg.KafkaBrokers, cfg.BusConnectMaxElapsedTime, retryCfg)
	if err != nil {
		slog.Error("bus connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bus.Close()

	worker := fabrication.New(pieceType(cfg.FabricationPieceType), bus, cfg.FabricationMinDelay, cfg.FabricationMaxDelay)

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(worker.Status().Snapshot())
	})
	statusSrv := &http.Server{Addr: ":" + os.Getenv("STATUS_PORT"), Handler: mux}
	if statusSrv.Addr == ":" {
		statusSrv.Addr = ":8081"
	}
	go func() {
		if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("status server error", slog.Any("error", err))
		}
	}()
	defer func() { _ = statusSrv.Shutdown(context.Background()) }()

	slog.Info("fabrication worker starting", slog.String("piece_type", string(worker.PieceType)))
	if err := worker.Run(ctx); err != nil {
		slog.Error("fabrication worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
