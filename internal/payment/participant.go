// Package payment implements the payment participant (§4.2): it owns
// per-client balances and replies to the orchestrator's payment commands.
package payment

import (
	"fmt"
	"log/slog"

	"github.com/forgeware/orderforge/internal/domain"
)

// Participant serves payment.check, payment.check_cancel, and
// payment.revert_cancel.
type Participant struct {
	Payments domain.PaymentRepository
	Bus      domain.Bus
}

// New constructs a Participant.
func New(payments domain.PaymentRepository, bus domain.Bus) *Participant {
	return &Participant{Payments: payments, Bus: bus}
}

type binding struct {
	key     domain.RoutingKey
	handler domain.Handler
}

func (p *Participant) bindings() []binding {
	return []binding{
		{domain.KeyPaymentCheck, p.handleCheck},
		{domain.KeyPaymentCheckCancel, p.handleCheckCancel},
		{domain.KeyPaymentRevertCancel, p.handleRevertCancel},
	}
}

// Run subscribes to the three command routes and blocks until ctx is
// canceled or a binding fails.
func (p *Participant) Run(ctx domain.Context) error {
	bindings := p.bindings()
	errCh := make(chan error, len(bindings))
	for _, b := range bindings {
		b := b
		go func() {
			errCh <- p.Bus.Subscribe(ctx, domain.ExchangeCommands, b.key, b.handler)
		}()
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Dispatch routes body through the handler bound to routingKey as if it had
// arrived from the bus. It exists to let tests and tools drive the
// participant without a broker.
func (p *Participant) Dispatch(ctx domain.Context, routingKey domain.RoutingKey, body []byte) error {
	for _, b := range p.bindings() {
		if b.key == routingKey {
			return b.handler(ctx, domain.Message{Exchange: domain.ExchangeCommands, RoutingKey: routingKey, Body: body})
		}
	}
	return fmt.Errorf("op=payment.dispatch: no handler bound for routing key %q", routingKey)
}

// handleCheck debits (or refuses to debit) the client's balance and always
// replies, never leaving the saga waiting (§4.2, §7 kind 4: business
// refusals are reported as status:false, not errors). Applied once per
// order_id so a redelivered command replies with the first outcome instead
// of debiting twice (§1, §4.1).
func (p *Participant) handleCheck(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("payment.check payload error", slog.Any("error", err))
		return nil
	}
	_, ok, err := p.Payments.ApplyCheckOnce(ctx, env.OrderID, env.ClientID, env.Movement)
	if err != nil {
		return fmt.Errorf("op=payment.handle_check apply_check_once: %w", err)
	}
	return domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeResponses, domain.KeyPaymentChecked,
		domain.Envelope{OrderID: env.OrderID, Status: domain.BoolPtr(ok)})
}

// handleCheckCancel always succeeds when the client row exists (§4.2): it
// credits back the order's charge and remembers the amount so a later
// revert_cancel can undo exactly it.
func (p *Participant) handleCheckCancel(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("payment.check_cancel payload error", slog.Any("error", err))
		return nil
	}
	if _, err := p.Payments.GetOrCreate(ctx, env.ClientID); err != nil {
		return fmt.Errorf("op=payment.handle_check_cancel get_or_create: %w", err)
	}
	if _, _, err := p.Payments.ApplyMovement(ctx, env.ClientID, env.Movement, false); err != nil {
		return fmt.Errorf("op=payment.handle_check_cancel apply_movement: %w", err)
	}
	if err := p.Payments.RecordCancelCredit(ctx, env.OrderID, env.ClientID, env.Movement); err != nil {
		return fmt.Errorf("op=payment.handle_check_cancel record_cancel_credit: %w", err)
	}
	return domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeResponses, domain.KeyPaymentCheckedCancel,
		domain.Envelope{OrderID: env.OrderID, Status: domain.BoolPtr(true)})
}

// handleRevertCancel undoes the most recent check_cancel credit for the
// order, idempotently: a redelivered revert_cancel finds nothing left to
// consume and still replies (§7 kind 3 semantics applied to a participant).
func (p *Participant) handleRevertCancel(ctx domain.Context, msg domain.Message) error {
	env, err := domain.ParseEnvelope(msg.Body)
	if err != nil {
		slog.Warn("payment.revert_cancel payload error", slog.Any("error", err))
		return nil
	}
	clientID, amount, found, err := p.Payments.ConsumeCancelCredit(ctx, env.OrderID)
	if err != nil {
		return fmt.Errorf("op=payment.handle_revert_cancel consume_cancel_credit: %w", err)
	}
	if found {
		if _, _, err := p.Payments.ApplyMovement(ctx, clientID, -amount, false); err != nil {
			return fmt.Errorf("op=payment.handle_revert_cancel apply_movement: %w", err)
		}
	} else {
		slog.Info("revert_cancel found no credit to undo, treating as already applied", slog.Int64("order_id", env.OrderID))
	}
	return domain.PublishEnvelope(ctx, p.Bus, domain.ExchangeResponses, domain.KeyPaymentRevertedCancel,
		domain.Envelope{OrderID: env.OrderID, Status: domain.BoolPtr(true)})
}
