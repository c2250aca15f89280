package domain

// Message is a single inbound delivery handed to a Handler. Ack/Nack follow
// the bus adapter's redelivery contract (§4.7, §7): a handler that returns
// nil is acked; a handler that returns an error gets nacked and the bus
// adapter redelivers up to a bounded count before routing to the
// dead-letter sink.
type Message struct {
	Exchange   Exchange
	RoutingKey RoutingKey
	Body       []byte
}

// Handler processes one message to completion before the bus hands the
// consumer its next message (prefetch=1, §4.7).
type Handler func(ctx Context, msg Message) error

// Bus is the typed publish/subscribe port every service composes against
// (§2 "Bus adapter", §4.7). Implementations declare the three durable topic
// exchanges at construction time.
type Bus interface {
	// Publish is fire-and-forget with publisher confirms: it blocks until the
	// broker has confirmed the write, or returns an error (§4.7, §7 kind 1).
	Publish(ctx Context, exchange Exchange, key RoutingKey, body []byte) error
	// Subscribe binds a durable queue to exchange with the literal routing
	// key and invokes handler for every message, one at a time (prefetch=1).
	// Subscribe blocks until ctx is canceled or an unrecoverable connection
	// error occurs.
	Subscribe(ctx Context, exchange Exchange, key RoutingKey, handler Handler) error
	// Close disconnects the adapter's publishing connection. It does not
	// wait for in-flight handlers to return; each Subscribe call stops and
	// closes its own consumer once its ctx is canceled.
	Close() error
}

// PublishEnvelope is a convenience wrapper used by every participant and
// the orchestrator: encode then publish.
func PublishEnvelope(ctx Context, bus Bus, exchange Exchange, key RoutingKey, e Envelope) error {
	body, err := EncodeEnvelope(e)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, exchange, key, body)
}
