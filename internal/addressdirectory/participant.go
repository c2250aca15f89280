// Package addressdirectory keeps the delivery participant's replicated
// client address table current by consuming client.created and
// client.updated events.
package addressdirectory

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/forgeware/orderforge/internal/domain"
)

// clientEvent is the wire shape of client.created/client.updated, separate
// from domain.Envelope since it carries an address and zip code rather than
// the order-flow fields.
type clientEvent struct {
	ClientID string `json:"client_id"`
	Address  string `json:"address"`
	ZipCode  int    `json:"zip_code"`
}

// Participant replicates client.created/client.updated into the address
// directory.
type Participant struct {
	Addresses domain.ClientAddressRepository
	Bus       domain.Bus
}

// New constructs a Participant.
func New(addresses domain.ClientAddressRepository, bus domain.Bus) *Participant {
	return &Participant{Addresses: addresses, Bus: bus}
}

type binding struct {
	key     domain.RoutingKey
	handler domain.Handler
}

func (p *Participant) bindings() []binding {
	return []binding{
		{domain.KeyClientCreated, p.handleClientUpsert},
		{domain.KeyClientUpdated, p.handleClientUpsert},
	}
}

// Run subscribes to both client events and blocks until ctx is canceled or
// a binding fails.
func (p *Participant) Run(ctx domain.Context) error {
	bindings := p.bindings()
	errCh := make(chan error, len(bindings))
	for _, b := range bindings {
		b := b
		go func() {
			errCh <- p.Bus.Subscribe(ctx, domain.ExchangeEvents, b.key, b.handler)
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
			return b.handler(ctx, domain.Message{Exchange: domain.ExchangeEvents, RoutingKey: routingKey, Body: body})
		}
	}
	return fmt.Errorf("op=addressdirectory.dispatch: no handler bound for routing key %q", routingKey)
}

func (p *Participant) handleClientUpsert(ctx domain.Context, msg domain.Message) error {
	var ev clientEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		slog.Warn("client event payload error", slog.Any("error", err))
		return nil
	}
	if ev.ClientID == "" {
		slog.Warn("client event missing client_id, acknowledging without mutation")
		return nil
	}
	if err := p.Addresses.Upsert(ctx, domain.ClientAddress{ClientID: ev.ClientID, Address: ev.Address, ZipCode: ev.ZipCode}); err != nil {
		return fmt.Errorf("op=addressdirectory.handle_client_upsert client_id=%s: %w", ev.ClientID, err)
	}
	return nil
}
