// Package warehouse implements the warehouse participant (§4.3): it
// reserves or fabricates the pieces an order needs, tracks their
// production, and reports completion and cancellation back onto the bus.
package warehouse

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/forgeware/orderforge/internal/domain"
)

// Participant serves warehouse.requested, warehouse.check_cancel,
// orders.delivering, and piece.produced.
type Participant struct {
	Pieces domain.PieceRepository
	Bus    domain.Bus
}

// New constructs a Participant.
func New(pieces domain.PieceRepository, bus domain.Bus) *Participant {
	return &Participant{Pieces: pieces, Bus: bus}
}

type binding struct {
	exchange domain.Exchange
	key      domain.RoutingKey
	handler  domain.Handler
}

func (p *Participant) bindings() []binding {
	return []binding{
		{domain.ExchangeEvents, domain.KeyWarehouseRequested, p.handleWarehouseRequested},
		{domain.ExchangeCommands, domain.KeyWarehouseCheckCancel, p.handleWarehouseCheckCancel},
		{domain.ExchangeEvents, domain.KeyOrdersDelivering, p.handleOrdersDelivering},
		{domain.ExchangeEvents, domain.KeyPieceProduced, p.handlePieceProduced},
	}
}

// Run subscribes to every route this participant serves and blocks until
// ctx is canceled or a binding fails.
func (p *Participant) Run(ctx domain.Context) error {
	bindings := p.bindings()
	errCh := make(chan error, len(bindings))
	for _, b := range bindings {
		b := b
		go func() {
			errCh <- p.Bus.Subscribe(ctx, b.exchange, b.key, b.handler)
		}()
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Dispatch invokes the handler bound to routingKey directly, bypassing the
// bus, for tests and tools.
func (p *Participant) Dispatch(ctx domain.Context, routingKey domain.RoutingKey, body []byte) error {
	for _, b := range p.bindings() {
		if b.key == routingKey {
			return b.handler(ctx, domain.Message{Exchange: b.exchange, RoutingKey: routingKey, Body: body})
		}
	}
	return fmt.Errorf("op=warehouse.dispatch: no handler bound for routing key %q", routingKey)
}

// handleWarehouseRequested reserves a produced piece per unit requested, or
// queues fabrication of a new one when none is reservable (§4.3). When
// every unit was satisfied by reservation alone, orders.produced is
// published immediately; otherwise completion waits on piece.produced.
// Processed once per order_id so a redelivered event does not reserve or
// queue a second full set of pieces (§1, §4.1).
func (p *Participant) handleWarehouseRequested(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("warehouse.requested payload error", slog.Any("error", err))
		return nil
	}
	alreadyMarked, err := p.Pieces.MarkRequested(ctx, env.OrderID)
	if err != nil {
		return fmt.Errorf("op=warehouse.handle_requested mark_requested order_id=%d: %w", env.OrderID, err)
	}
	if alreadyMarked {
		return nil
	}
	queuedAny, err := p.requestPieces(ctx, env, domain.PieceTypeA, env.CountA)
	if err != nil {
		return err
	}
	queuedAnyB, err := p.requestPieces(ctx, env, domain.PieceTypeB, env.CountB)
	if err != nil {
		return err
	}
	if queuedAny || queuedAnyB {
		return nil
	}
	return domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeEvents, domain.KeyOrdersProduced, domain.Envelope{OrderID: env.OrderID})
}

func (p *Participant) requestPieces(ctx domain.Context, env domain.Envelope, pieceType domain.PieceType, count int) (queuedAny bool, err error) {
	requestedKey := domain.KeyPieceARequested
	if pieceType == domain.PieceTypeB {
		requestedKey = domain.KeyPieceBRequested
	}
	for i := 0; i < count; i++ {
		_, found, err := p.Pieces.ReserveOldestProduced(ctx, pieceType, env.OrderID, env.ClientID)
		if err != nil {
			return queuedAny, fmt.Errorf("op=warehouse.request_pieces reserve type=%s: %w", pieceType, err)
		}
		if found {
			continue
		}
		pieceID := uuid.NewString()
		if err := p.Pieces.CreateQueued(ctx, pieceID, pieceType, env.OrderID, env.ClientID); err != nil {
			return queuedAny, fmt.Errorf("op=warehouse.request_pieces create_queued type=%s: %w", pieceType, err)
		}
		if err := domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeEvents, requestedKey,
			domain.Envelope{OrderID: env.OrderID, ClientID: env.ClientID, PieceID: pieceID}); err != nil {
			return queuedAny, fmt.Errorf("op=warehouse.request_pieces publish type=%s: %w", pieceType, err)
		}
		queuedAny = true
	}
	return queuedAny, nil
}

// handlePieceProduced marks a fabricated piece Produced and, once every
// piece of its order has been produced, publishes orders.produced (§4.3).
func (p *Participant) handlePieceProduced(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("piece.produced payload error", slog.Any("error", err))
		return nil
	}
	if err := p.Pieces.MarkProduced(ctx, env.PieceID); err != nil {
		return fmt.Errorf("op=warehouse.handle_piece_produced mark_produced piece_id=%s: %w", env.PieceID, err)
	}
	piece, err := p.Pieces.GetByPieceID(ctx, env.PieceID)
	if err != nil {
		return fmt.Errorf("op=warehouse.handle_piece_produced get_by_piece_id piece_id=%s: %w", env.PieceID, err)
	}
	if piece.OrderID == nil {
		return nil
	}
	pending, err := p.Pieces.CountPending(ctx, *piece.OrderID)
	if err != nil {
		return fmt.Errorf("op=warehouse.handle_piece_produced count_pending order_id=%d: %w", *piece.OrderID, err)
	}
	if pending > 0 {
		return nil
	}
	return domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeEvents, domain.KeyOrdersProduced, domain.Envelope{OrderID: *piece.OrderID})
}

// handleWarehouseCheckCancel detaches every piece of the order, refusing
// when any has already shipped (§4.3). warehouse.order_canceled is a
// second, observability-only response the orchestrator does not consume
// (§6 lists it alongside warehouse.checked_cancel under Responses); it
// confirms the successful-release case for anything watching the bus.
func (p *Participant) handleWarehouseCheckCancel(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("warehouse.check_cancel payload error", slog.Any("error", err))
		return nil
	}
	ok, err := p.Pieces.ReleaseOrder(ctx, env.OrderID)
	if err != nil {
		return fmt.Errorf("op=warehouse.handle_check_cancel release_order order_id=%d: %w", env.OrderID, err)
	}
	if err := domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeResponses, domain.KeyWarehouseCheckedCancel,
		domain.Envelope{OrderID: env.OrderID, Status: domain.BoolPtr(ok)}); err != nil {
		return err
	}
	if ok {
		return domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeResponses, domain.KeyWarehouseOrderCanceled, domain.Envelope{OrderID: env.OrderID})
	}
	return nil
}

// handleOrdersDelivering ships every Produced piece of the order (§4.3).
func (p *Participant) handleOrdersDelivering(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("orders.delivering payload error", slog.Any("error", err))
		return nil
	}
	if err := p.Pieces.ShipOrder(ctx, env.OrderID); err != nil {
		return fmt.Errorf("op=warehouse.handle_orders_delivering ship_order order_id=%d: %w", env.OrderID, err)
	}
	return nil
}
