// Package saga implements the order saga orchestrator (§4.1): it owns the
// order state machine, issues commands, consumes responses and terminal
// events, and appends every transition to the saga log before publishing
// the command that follows it.
package saga

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgeware/orderforge/internal/domain"
	"github.com/forgeware/orderforge/internal/observability"
)

// Orchestrator drives orders through the state machine by consuming bus
// responses/events and mutating the order row plus saga log.
type Orchestrator struct {
	Orders  domain.OrderRepository
	Log     domain.SagaLog
	Catalog domain.CatalogRepository
	Bus     domain.Bus
}

// New constructs an Orchestrator.
func New(orders domain.OrderRepository, log domain.SagaLog, catalog domain.CatalogRepository, bus domain.Bus) *Orchestrator {
	return &Orchestrator{Orders: orders, Log: log, Catalog: catalog, Bus: bus}
}

// CreateOrder creates an order in DeliveryPending, appends the first saga
// entry, and issues delivery.check. It is invoked directly by the HTTP
// surface (POST /create_order), not through the bus.
func (o *Orchestrator) CreateOrder(ctx domain.Context, clientID string, countA, countB int, description string) (int64, error) {
	if clientID == "" {
		return 0, fmt.Errorf("op=saga.create_order: %w: client_id is required", domain.ErrInvalidArgument)
	}
	if countA < 0 || countB < 0 || countA+countB == 0 {
		return 0, fmt.Errorf("op=saga.create_order: %w: at least one piece must be requested", domain.ErrInvalidArgument)
	}

	order := domain.Order{
		ClientID:    clientID,
		CountA:      countA,
		CountB:      countB,
		Description: description,
		Status:      domain.DeliveryPending,
	}
	orderID, err := o.Orders.Create(ctx, order)
	if err != nil {
		return 0, fmt.Errorf("op=saga.create_order: %w", err)
	}
	if err := o.Log.Append(ctx, orderID, domain.DeliveryPending, time.Now()); err != nil {
		return 0, fmt.Errorf("op=saga.create_order append: %w", err)
	}
	observability.RecordSagaTransition(string(domain.DeliveryPending))

	if err := domain.PublishEnvelope(ctx, o.Bus, domain.ExchangeEvents, domain.KeyOrderCreatedPending,
		domain.Envelope{OrderID: orderID, ClientID: clientID}); err != nil {
		slog.Warn("failed to publish order.created.pending", slog.Int64("order_id", orderID), slog.Any("error", err))
	}
	if err := domain.PublishEnvelope(ctx, o.Bus, domain.ExchangeCommands, domain.KeyDeliveryCheck,
		domain.Envelope{OrderID: orderID, ClientID: clientID}); err != nil {
		return 0, fmt.Errorf("op=saga.create_order publish delivery.check: %w", err)
	}
	return orderID, nil
}

// CancelOrder is invoked directly by POST /order/cancel/{order_id}. Only
// admissible from Queued (§6); any other current status is a 409 conflict.
func (o *Orchestrator) CancelOrder(ctx domain.Context, orderID int64) error {
	order, err := o.Orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("op=saga.cancel_order: %w", err)
	}
	if order.Status != domain.Queued {
		return fmt.Errorf("op=saga.cancel_order: %w: order is not in Queued", domain.ErrConflict)
	}
	return o.advance(ctx, orderID, domain.Queued, domain.OrderCancelDeliveryPending, func() error {
		return domain.PublishEnvelope(ctx, o.Bus, domain.ExchangeCommands, domain.KeyDeliveryCheckCancel, domain.Envelope{OrderID: orderID})
	})
}

type binding struct {
	exchange domain.Exchange
	key      domain.RoutingKey
	handler  domain.Handler
}

// bindings lists every response/event this orchestrator reacts to, paired
// with the exchange it is bound to and the handler that applies it.
func (o *Orchestrator) bindings() []binding {
	return []binding{
		{domain.ExchangeResponses, domain.KeyDeliveryChecked, o.handleDeliveryChecked},
		{domain.ExchangeResponses, domain.KeyPaymentChecked, o.handlePaymentChecked},
		{domain.ExchangeEvents, domain.KeyOrdersProduced, o.handleOrdersProduced},
		{domain.ExchangeEvents, domain.KeyOrdersDelivering, o.handleOrdersDelivering},
		{domain.ExchangeEvents, domain.KeyOrdersDelivered, o.handleOrdersDelivered},
		{domain.ExchangeResponses, domain.KeyDeliveryCheckedCancel, o.handleDeliveryCheckedCancel},
		{domain.ExchangeResponses, domain.KeyPaymentCheckedCancel, o.handlePaymentCheckedCancel},
		{domain.ExchangeResponses, domain.KeyWarehouseCheckedCancel, o.handleWarehouseCheckedCancel},
		{domain.ExchangeResponses, domain.KeyPaymentRevertedCancel, o.handlePaymentRevertedCancel},
		{domain.ExchangeResponses, domain.KeyDeliveryRevertedCancel, o.handleDeliveryRevertedCancel},
		{domain.ExchangeResponses, domain.KeyDeliveryCanceled, o.handleDeliveryCanceled},
	}
}

// Run subscribes to every response/event the orchestrator reacts to and
// blocks until ctx is canceled or a binding's Subscribe returns an error.
func (o *Orchestrator) Run(ctx domain.Context) error {
	bindings := o.bindings()
	errCh := make(chan error, len(bindings))
	for _, b := range bindings {
		b := b
		go func() {
			errCh <- o.Bus.Subscribe(ctx, b.exchange, b.key, b.handler)
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
// bus. It is used by tests that exercise the state machine without a live
// broker; production code reaches these handlers only via Run/Subscribe.
func (o *Orchestrator) Dispatch(ctx domain.Context, routingKey domain.RoutingKey, body []byte) error {
	for _, b := range o.bindings() {
		if b.key == routingKey {
			return b.handler(ctx, domain.Message{Exchange: b.exchange, RoutingKey: routingKey, Body: body})
		}
	}
	return fmt.Errorf("op=saga.dispatch: no handler bound to routing key %s", routingKey)
}

// advance mutates the order to `to`, appends the saga entry, and only then
// invokes afterAppend to publish the next command (§3 invariant: log before
// command; §4.1 invariant 1).
func (o *Orchestrator) advance(ctx domain.Context, orderID int64, from, to domain.OrderStatus, afterAppend func() error) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("op=saga.advance: %w: %s -> %s is not a legal transition", domain.ErrConflict, from, to)
	}
	if err := o.Orders.UpdateStatus(ctx, orderID, to); err != nil {
		return fmt.Errorf("op=saga.advance update_status order_id=%d: %w", orderID, err)
	}
	if err := o.Log.Append(ctx, orderID, to, time.Now()); err != nil {
		return fmt.Errorf("op=saga.advance append order_id=%d: %w", orderID, err)
	}
	observability.RecordSagaTransition(string(to))
	if afterAppend != nil {
		if err := afterAppend(); err != nil {
			return fmt.Errorf("op=saga.advance after_append order_id=%d: %w", orderID, err)
		}
	}
	return nil
}

// loadForTransition fetches the order and reports whether handling should
// continue: an unknown order or one outside the expected precondition is
// logged and acknowledged, never mutated (§7 kinds 2/3).
func (o *Orchestrator) loadForTransition(ctx domain.Context, orderID int64, expected domain.OrderStatus, routingKey domain.RoutingKey) (domain.Order, bool, error) {
	order, err := o.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownOrder) || errors.Is(err, domain.ErrNotFound) {
			slog.Warn("response for unknown order, acknowledging without mutation",
				slog.String("routing_key", string(routingKey)), slog.Int64("order_id", orderID))
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}
	if order.Status != expected {
		slog.Info("response arrived outside expected precondition, acknowledging without mutation",
			slog.String("routing_key", string(routingKey)), slog.Int64("order_id", orderID),
			slog.String("expected", string(expected)), slog.String("actual", string(order.Status)))
		return domain.Order{}, false, nil
	}
	return order, true, nil
}

func (o *Orchestrator) handleDeliveryChecked(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("delivery.checked payload error", slog.Any("error", err))
		return nil
	}
	order, ok, err := o.loadForTransition(ctx, env.OrderID, domain.DeliveryPending, domain.KeyDeliveryChecked)
	if err != nil || !ok {
		return err
	}
	if boolValue(env.Status) {
		return o.advance(ctx, env.OrderID, domain.DeliveryPending, domain.PaymentPending, func() error {
			return o.publishPaymentCheck(ctx, env.OrderID, order.ClientID, order.CountA, order.CountB)
		})
	}
	return o.advance(ctx, env.OrderID, domain.DeliveryPending, domain.Canceled, nil)
}

// handlePaymentChecked guards against duplicate responses per §4.1
// invariant 3: the payment segment always contains at least the
// PaymentPending entry written when this order entered PaymentPending, so a
// count of exactly one means payment.checked has not yet been acted on; a
// count greater than one means a prior response already wrote the
// segment's outcome (Queued or DeliveryCanceling) and this delivery is a
// duplicate (scenario 6).
func (o *Orchestrator) handlePaymentChecked(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("payment.checked payload error", slog.Any("error", err))
		return nil
	}
	order, ok, err := o.loadForTransition(ctx, env.OrderID, domain.PaymentPending, domain.KeyPaymentChecked)
	if err != nil || !ok {
		return err
	}
	count, err := o.Log.CountPaymentSegment(ctx, env.OrderID)
	if err != nil {
		return fmt.Errorf("op=saga.handle_payment_checked count_payment_segment: %w", err)
	}
	if count > 1 {
		slog.Info("duplicate payment.checked ignored", slog.Int64("order_id", env.OrderID))
		return nil
	}
	if boolValue(env.Status) {
		return o.advance(ctx, env.OrderID, domain.PaymentPending, domain.Queued, func() error {
			return domain.PublishEnvelope(ctx, o.Bus, domain.ExchangeEvents, domain.KeyWarehouseRequested,
				domain.Envelope{OrderID: env.OrderID, ClientID: order.ClientID, CountA: order.CountA, CountB: order.CountB})
		})
	}
	return o.advance(ctx, env.OrderID, domain.PaymentPending, domain.DeliveryCanceling, func() error {
		return domain.PublishEnvelope(ctx, o.Bus, domain.ExchangeCommands, domain.KeyDeliveryCancel,
			domain.Envelope{OrderID: env.OrderID, ClientID: order.ClientID})
	})
}

func (o *Orchestrator) handleOrdersProduced(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("orders.produced payload error", slog.Any("error", err))
		return nil
	}
	_, ok, err := o.loadForTransition(ctx, env.OrderID, domain.Queued, domain.KeyOrdersProduced)
	if err != nil || !ok {
		return err
	}
	return o.advance(ctx, env.OrderID, domain.Queued, domain.Produced, nil)
}

func (o *Orchestrator) handleOrdersDelivering(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("orders.delivering payload error", slog.Any("error", err))
		return nil
	}
	_, ok, err := o.loadForTransition(ctx, env.OrderID, domain.Produced, domain.KeyOrdersDelivering)
	if err != nil || !ok {
		return err
	}
	return o.advance(ctx, env.OrderID, domain.Produced, domain.Delivering, nil)
}

func (o *Orchestrator) handleOrdersDelivered(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("orders.delivered payload error", slog.Any("error", err))
		return nil
	}
	_, ok, err := o.loadForTransition(ctx, env.OrderID, domain.Delivering, domain.KeyOrdersDelivered)
	if err != nil || !ok {
		return err
	}
	return o.advance(ctx, env.OrderID, domain.Delivering, domain.Delivered, nil)
}

// handleDeliveryCheckedCancel advances regardless of the response's status
// flag: §4.1's cancellation path has no documented failure branch at this
// step, only at the warehouse step (handleWarehouseCheckedCancel).
func (o *Orchestrator) handleDeliveryCheckedCancel(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("delivery.checked_cancel payload error", slog.Any("error", err))
		return nil
	}
	order, ok, err := o.loadForTransition(ctx, env.OrderID, domain.OrderCancelDeliveryPending, domain.KeyDeliveryCheckedCancel)
	if err != nil || !ok {
		return err
	}
	return o.advance(ctx, env.OrderID, domain.OrderCancelDeliveryPending, domain.OrderCancelPaymentPending, func() error {
		return o.publishPaymentCheckCancel(ctx, env.OrderID, order.ClientID, order.CountA, order.CountB)
	})
}

func (o *Orchestrator) handlePaymentCheckedCancel(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("payment.checked_cancel payload error", slog.Any("error", err))
		return nil
	}
	order, ok, err := o.loadForTransition(ctx, env.OrderID, domain.OrderCancelPaymentPending, domain.KeyPaymentCheckedCancel)
	if err != nil || !ok {
		return err
	}
	return o.advance(ctx, env.OrderID, domain.OrderCancelPaymentPending, domain.OrderCancelWarehousePending, func() error {
		return domain.PublishEnvelope(ctx, o.Bus, domain.ExchangeCommands, domain.KeyWarehouseCheckCancel,
			domain.Envelope{OrderID: env.OrderID, ClientID: order.ClientID})
	})
}

func (o *Orchestrator) handleWarehouseCheckedCancel(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("warehouse.checked_cancel payload error", slog.Any("error", err))
		return nil
	}
	order, ok, err := o.loadForTransition(ctx, env.OrderID, domain.OrderCancelWarehousePending, domain.KeyWarehouseCheckedCancel)
	if err != nil || !ok {
		return err
	}
	if boolValue(env.Status) {
		return o.advance(ctx, env.OrderID, domain.OrderCancelWarehousePending, domain.Canceled, nil)
	}
	// Too late: pieces already shipped. Begin compensation by charging the
	// client again for the amount this saga just refunded via check_cancel.
	return o.advance(ctx, env.OrderID, domain.OrderCancelWarehousePending, domain.OrderCancelPaymentRecharging, func() error {
		return domain.PublishEnvelope(ctx, o.Bus, domain.ExchangeCommands, domain.KeyPaymentRevertCancel,
			domain.Envelope{OrderID: env.OrderID, ClientID: order.ClientID})
	})
}

func (o *Orchestrator) handlePaymentRevertedCancel(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("payment.reverted_cancel payload error", slog.Any("error", err))
		return nil
	}
	_, ok, err := o.loadForTransition(ctx, env.OrderID, domain.OrderCancelPaymentRecharging, domain.KeyPaymentRevertedCancel)
	if err != nil || !ok {
		return err
	}
	return o.advance(ctx, env.OrderID, domain.OrderCancelPaymentRecharging, domain.OrderCancelDeliveryRedelivering, func() error {
		return domain.PublishEnvelope(ctx, o.Bus, domain.ExchangeCommands, domain.KeyDeliveryRevertCancel, domain.Envelope{OrderID: env.OrderID})
	})
}

func (o *Orchestrator) handleDeliveryRevertedCancel(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("delivery.reverted_cancel payload error", slog.Any("error", err))
		return nil
	}
	_, ok, err := o.loadForTransition(ctx, env.OrderID, domain.OrderCancelDeliveryRedelivering, domain.KeyDeliveryRevertedCancel)
	if err != nil || !ok {
		return err
	}
	return o.advance(ctx, env.OrderID, domain.OrderCancelDeliveryRedelivering, domain.Queued, nil)
}

// handleDeliveryCanceled is the response to the delivery.cancel command
// issued from a payment failure while PaymentPending (§4.1 "Payment
// failure after queued" trigger). The delivery participant always
// confirms; there is no failure branch.
func (o *Orchestrator) handleDeliveryCanceled(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("delivery.canceled payload error", slog.Any("error", err))
		return nil
	}
	_, ok, err := o.loadForTransition(ctx, env.OrderID, domain.DeliveryCanceling, domain.KeyDeliveryCanceled)
	if err != nil || !ok {
		return err
	}
	return o.advance(ctx, env.OrderID, domain.DeliveryCanceling, domain.Canceled, nil)
}

func (o *Orchestrator) publishPaymentCheck(ctx domain.Context, orderID int64, clientID string, countA, countB int) error {
	total, err := o.totalCost(ctx, countA, countB)
	if err != nil {
		return err
	}
	return domain.PublishEnvelope(ctx, o.Bus, domain.ExchangeCommands, domain.KeyPaymentCheck,
		domain.Envelope{OrderID: orderID, ClientID: clientID, Movement: -total})
}

func (o *Orchestrator) publishPaymentCheckCancel(ctx domain.Context, orderID int64, clientID string, countA, countB int) error {
	total, err := o.totalCost(ctx, countA, countB)
	if err != nil {
		return err
	}
	return domain.PublishEnvelope(ctx, o.Bus, domain.ExchangeCommands, domain.KeyPaymentCheckCancel,
		domain.Envelope{OrderID: orderID, ClientID: clientID, Movement: total})
}

func (o *Orchestrator) totalCost(ctx domain.Context, countA, countB int) (int64, error) {
	a, err := o.Catalog.Get(ctx, domain.PieceTypeA)
	if err != nil {
		return 0, fmt.Errorf("op=saga.total_cost get_a: %w", err)
	}
	b, err := o.Catalog.Get(ctx, domain.PieceTypeB)
	if err != nil {
		return 0, fmt.Errorf("op=saga.total_cost get_b: %w", err)
	}
	return domain.TotalCost(a.Price, b.Price, countA, countB), nil
}

func boolValue(b *bool) bool {
	return b != nil && *b
}
