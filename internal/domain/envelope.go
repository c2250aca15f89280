package domain

import (
	"encoding/json"
	"fmt"
)

// Exchange names the three topic-typed exchanges of §6.
type Exchange string

const (
	ExchangeCommands  Exchange = "commands"
	ExchangeEvents    Exchange = "events"
	ExchangeResponses Exchange = "responses"
)

// RoutingKey is a literal, non-wildcard routing key as used by every
// business-flow queue in §6. Only the out-of-scope log sink binds with "#".
type RoutingKey string

const (
	KeyDeliveryCheck       RoutingKey = "delivery.check"
	KeyDeliveryCancel      RoutingKey = "delivery.cancel"
	KeyDeliveryCheckCancel RoutingKey = "delivery.check_cancel"
	KeyDeliveryRevertCancel RoutingKey = "delivery.revert_cancel"
	KeyPaymentCheck        RoutingKey = "payment.check"
	KeyPaymentCheckCancel  RoutingKey = "payment.check_cancel"
	KeyPaymentRevertCancel RoutingKey = "payment.revert_cancel"
	KeyWarehouseCheckCancel RoutingKey = "warehouse.check_cancel"

	KeyOrderCreatedPending RoutingKey = "events.order.created.pending"
	KeyWarehouseRequested  RoutingKey = "warehouse.requested"
	KeyPieceARequested     RoutingKey = "piece_a.requested"
	KeyPieceBRequested     RoutingKey = "piece_b.requested"
	KeyPieceProduced       RoutingKey = "piece.produced"
	KeyOrdersProduced      RoutingKey = "orders.produced"
	KeyOrdersDelivering    RoutingKey = "orders.delivering"
	KeyOrdersDelivered     RoutingKey = "orders.delivered"
	KeyClientCreated       RoutingKey = "client.created"
	KeyClientUpdated       RoutingKey = "client.updated"

	KeyDeliveryChecked        RoutingKey = "delivery.checked"
	KeyDeliveryCheckedCancel  RoutingKey = "delivery.checked_cancel"
	KeyDeliveryRevertedCancel RoutingKey = "delivery.reverted_cancel"
	KeyDeliveryCanceled       RoutingKey = "delivery.canceled"
	KeyPaymentChecked         RoutingKey = "payment.checked"
	KeyPaymentCheckedCancel   RoutingKey = "payment.checked_cancel"
	KeyPaymentRevertedCancel  RoutingKey = "payment.reverted_cancel"
	KeyWarehouseCheckedCancel RoutingKey = "warehouse.checked_cancel"
	KeyWarehouseOrderCanceled RoutingKey = "warehouse.order_canceled"

	// KeyWildcard is reserved for the out-of-scope log/observability sink,
	// the only consumer allowed to bind with "#" (§4.7).
	KeyWildcard RoutingKey = "#"
)

// rawEnvelope normalizes the two spellings of the correlation id seen on
// the wire (§4.1, §9): order_id and id_order. PieceFields are carried for
// payloads that need them; unused fields are simply absent from a given
// message and are tolerated by omitempty.
type rawEnvelope struct {
	OrderID  *int64 `json:"order_id,omitempty"`
	IDOrder  *int64 `json:"id_order,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	CountA   int    `json:"count_a,omitempty"`
	CountB   int    `json:"count_b,omitempty"`
	Movement int64  `json:"movement,omitempty"`
	Status   *bool  `json:"status,omitempty"`
	PieceID  string `json:"piece_id,omitempty"`
}

// Envelope is the canonical, already-normalized shape every handler in this
// repository works with. ParseEnvelope accepts either wire spelling of the
// correlation id; EncodeEnvelope always emits order_id (§6 payload
// envelope, §9 "one canonical schema per routing key ... second spelling
// accepted during a migration window").
type Envelope struct {
	OrderID  int64
	ClientID string
	CountA   int
	CountB   int
	Movement int64
	Status   *bool
	PieceID  string
}

// ParseEnvelope decodes a message body, normalizing order_id/id_order. It
// returns ErrInvalidArgument (a payload error per §7 kind 2) when neither
// spelling of the correlation id is present or the JSON is malformed.
func ParseEnvelope(body []byte) (Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	id := raw.OrderID
	if id == nil {
		id = raw.IDOrder
	}
	if id == nil {
		return Envelope{}, fmt.Errorf("%w: missing order_id/id_order", ErrInvalidArgument)
	}
	return Envelope{
		OrderID:  *id,
		ClientID: raw.ClientID,
		CountA:   raw.CountA,
		CountB:   raw.CountB,
		Movement: raw.Movement,
		Status:   raw.Status,
		PieceID:  raw.PieceID,
	}, nil
}

// EncodeEnvelope marshals e, always emitting the canonical order_id field.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	raw := rawEnvelope{
		OrderID:  &e.OrderID,
		ClientID: e.ClientID,
		CountA:   e.CountA,
		CountB:   e.CountB,
		Movement: e.Movement,
		Status:   e.Status,
		PieceID:  e.PieceID,
	}
	return json.Marshal(raw)
}

// BoolPtr is a small helper for constructing Envelope.Status literals.
func BoolPtr(b bool) *bool { return &b }
