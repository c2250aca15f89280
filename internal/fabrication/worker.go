// Package fabrication implements a fabrication worker process (§4.5): it
// consumes requests for one piece type, simulates the build, and reports
// the piece as produced.
package fabrication

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/forgeware/orderforge/internal/domain"
	"github.com/forgeware/orderforge/internal/observability"
)

// Worker handles piece_<t>.requested for a single piece type. It holds no
// durable state; Status exists only for the observability registry (§4.5
// "stateless beyond their current status register").
type Worker struct {
	PieceType domain.PieceType
	Bus       domain.Bus
	MinDelay  time.Duration
	MaxDelay  time.Duration
	status    *Status
}

// New constructs a Worker for pieceType, bounding its simulated build time
// to [minDelay, maxDelay].
func New(pieceType domain.PieceType, bus domain.Bus, minDelay, maxDelay time.Duration) *Worker {
	return &Worker{
		PieceType: pieceType,
		Bus:       bus,
		MinDelay:  minDelay,
		MaxDelay:  maxDelay,
		status:    NewStatus(pieceType),
	}
}

// Status exposes the worker's current-job register for the /status surface.
func (w *Worker) Status() *Status { return w.status }

func (w *Worker) requestedKey() domain.RoutingKey {
	if w.PieceType == domain.PieceTypeB {
		return domain.KeyPieceBRequested
	}
	return domain.KeyPieceARequested
}

// Run subscribes to this worker's requested route and blocks until ctx is
// canceled or the subscription fails.
func (w *Worker) Run(ctx domain.Context) error {
	return w.Bus.Subscribe(ctx, domain.ExchangeEvents, w.requestedKey(), w.handleRequested)
}

// Dispatch processes one message directly, bypassing the bus, for tests and
// tools.
func (w *Worker) Dispatch(ctx domain.Context, body []byte) error {
	return w.handleRequested(ctx, domain.Message{Exchange: domain.ExchangeEvents, RoutingKey: w.requestedKey(), Body: body})
}

func (w *Worker) handleRequested(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("piece requested payload error", slog.Any("error", err))
		return nil
	}
	w.status.BeginJob(env.PieceID)
	defer w.status.EndJob()

	select {
	case <-time.After(w.simulatedBuildDelay()):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := domain.PublishEnvelope(ctx, w.Bus, domain.ExchangeEvents, domain.KeyPieceProduced,
		domain.Envelope{PieceID: env.PieceID}); err != nil {
		observability.RecordFabricationJob(string(w.PieceType), "failed")
		return fmt.Errorf("op=fabrication.handle_requested publish piece_id=%s: %w", env.PieceID, err)
	}
	observability.RecordFabricationJob(string(w.PieceType), "produced")
	return nil
}

func (w *Worker) simulatedBuildDelay() time.Duration {
	if w.MaxDelay <= w.MinDelay {
		return w.MinDelay
	}
	return w.MinDelay + time.Duration(rand.Int63n(int64(w.MaxDelay-w.MinDelay)))
}
