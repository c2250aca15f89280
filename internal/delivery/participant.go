// Package delivery implements the delivery participant (§4.4): it checks
// address feasibility, owns the delivery lifecycle of an order, and
// simulates shipping once pieces are produced.
package delivery

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/forgeware/orderforge/internal/domain"
)

// Participant serves delivery.check, delivery.cancel, delivery.check_cancel,
// delivery.revert_cancel, and orders.produced.
type Participant struct {
	Deliveries domain.DeliveryRepository
	Addresses  domain.ClientAddressRepository
	Bus        domain.Bus
	MinDelay   time.Duration
	MaxDelay   time.Duration
}

// New constructs a Participant. minDelay/maxDelay bound the simulated
// shipping sleep between Delivering and Delivered (§4.4).
func New(deliveries domain.DeliveryRepository, addresses domain.ClientAddressRepository, bus domain.Bus, minDelay, maxDelay time.Duration) *Participant {
	return &Participant{Deliveries: deliveries, Addresses: addresses, Bus: bus, MinDelay: minDelay, MaxDelay: maxDelay}
}

type binding struct {
	exchange domain.Exchange
	key      domain.RoutingKey
	handler  domain.Handler
}

func (p *Participant) bindings() []binding {
	return []binding{
		{domain.ExchangeCommands, domain.KeyDeliveryCheck, p.handleDeliveryCheck},
		{domain.ExchangeCommands, domain.KeyDeliveryCancel, p.handleDeliveryCancel},
		{domain.ExchangeCommands, domain.KeyDeliveryCheckCancel, p.handleDeliveryCheckCancel},
		{domain.ExchangeCommands, domain.KeyDeliveryRevertCancel, p.handleDeliveryRevertCancel},
		{domain.ExchangeEvents, domain.KeyOrdersProduced, p.handleOrdersProduced},
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
	return fmt.Errorf("op=delivery.dispatch: no handler bound for routing key %q", routingKey)
}

// handleDeliveryCheck consults the replicated address directory and rejects
// addresses outside the feasible zip prefixes (§4.4).
func (p *Participant) handleDeliveryCheck(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("delivery.check payload error", slog.Any("error", err))
		return nil
	}
	addr, err := p.Addresses.Get(ctx, env.ClientID)
	if err != nil {
		return fmt.Errorf("op=delivery.handle_check get_address client_id=%s: %w", env.ClientID, err)
	}
	feasible := domain.IsZipFeasible(addr.ZipCode)
	status := domain.DeliveryCanceled
	if feasible {
		status = domain.DeliveryCreated
	}
	if err := p.Deliveries.Create(ctx, domain.Delivery{OrderID: env.OrderID, ClientID: env.ClientID, Status: status}); err != nil {
		return fmt.Errorf("op=delivery.handle_check create order_id=%d: %w", env.OrderID, err)
	}
	return domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeResponses, domain.KeyDeliveryChecked,
		domain.Envelope{OrderID: env.OrderID, Status: domain.BoolPtr(feasible)})
}

// handleDeliveryCancel is issued when payment fails while the order is still
// PaymentPending; the delivery participant always confirms (§4.1).
func (p *Participant) handleDeliveryCancel(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("delivery.cancel payload error", slog.Any("error", err))
		return nil
	}
	if err := p.Deliveries.UpdateStatus(ctx, env.OrderID, domain.DeliveryCanceled); err != nil {
		return fmt.Errorf("op=delivery.handle_cancel update_status order_id=%d: %w", env.OrderID, err)
	}
	return domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeResponses, domain.KeyDeliveryCanceled,
		domain.Envelope{OrderID: env.OrderID, Status: domain.BoolPtr(true)})
}

// handleDeliveryCheckCancel cancels only while still Created; once shipping
// has begun it is too late and the reply reports false (§4.4).
func (p *Participant) handleDeliveryCheckCancel(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("delivery.check_cancel payload error", slog.Any("error", err))
		return nil
	}
	d, err := p.Deliveries.Get(ctx, env.OrderID)
	if err != nil {
		return fmt.Errorf("op=delivery.handle_check_cancel get order_id=%d: %w", env.OrderID, err)
	}
	ok := d.Status == domain.DeliveryCreated
	if ok {
		if err := p.Deliveries.UpdateStatus(ctx, env.OrderID, domain.DeliveryCanceled); err != nil {
			return fmt.Errorf("op=delivery.handle_check_cancel update_status order_id=%d: %w", env.OrderID, err)
		}
	}
	return domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeResponses, domain.KeyDeliveryCheckedCancel,
		domain.Envelope{OrderID: env.OrderID, Status: domain.BoolPtr(ok)})
}

// handleDeliveryRevertCancel undoes a check_cancel, returning the delivery to
// Created so the compensation path can re-queue the order (§4.4).
func (p *Participant) handleDeliveryRevertCancel(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("delivery.revert_cancel payload error", slog.Any("error", err))
		return nil
	}
	if err := p.Deliveries.UpdateStatus(ctx, env.OrderID, domain.DeliveryCreated); err != nil {
		return fmt.Errorf("op=delivery.handle_revert_cancel update_status order_id=%d: %w", env.OrderID, err)
	}
	return domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeResponses, domain.KeyDeliveryRevertedCancel,
		domain.Envelope{OrderID: env.OrderID, Status: domain.BoolPtr(true)})
}

// handleOrdersProduced drives the simulated shipping leg: Delivering, a
// bounded sleep, then Delivered (§4.4). A delivery already Canceled (the
// warehouse rejected reservation after cancellation raced with production)
// is left untouched.
func (p *Participant) handleOrdersProduced(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("orders.produced payload error", slog.Any("error", err))
		return nil
	}
	d, err := p.Deliveries.Get(ctx, env.OrderID)
	if err != nil {
		return fmt.Errorf("op=delivery.handle_orders_produced get order_id=%d: %w", env.OrderID, err)
	}
	if d.Status == domain.DeliveryCanceled {
		return nil
	}
	if err := p.Deliveries.UpdateStatus(ctx, env.OrderID, domain.DeliveryDelivering); err != nil {
		return fmt.Errorf("op=delivery.handle_orders_produced update_status delivering order_id=%d: %w", env.OrderID, err)
	}
	if err := domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeEvents, domain.KeyOrdersDelivering, domain.Envelope{OrderID: env.OrderID}); err != nil {
		return fmt.Errorf("op=delivery.handle_orders_produced publish delivering order_id=%d: %w", env.OrderID, err)
	}

	select {
	case <-time.After(p.simulatedShippingDelay()):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.Deliveries.UpdateStatus(ctx, env.OrderID, domain.DeliveryDelivered); err != nil {
		return fmt.Errorf("op=delivery.handle_orders_produced update_status delivered order_id=%d: %w", env.OrderID, err)
	}
	return domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeEvents, domain.KeyOrdersDelivered, domain.Envelope{OrderID: env.OrderID})
}

func (p *Participant) simulatedShippingDelay() time.Duration {
	if p.MaxDelay <= p.MinDelay {
		return p.MinDelay
	}
	return p.MinDelay + time.Duration(rand.Int63n(int64(p.MaxDelay-p.MinDelay)))
}
