package domain

import "time"

// OrderStatus is the saga state of an order (§4.1). The transition table
// below is the specification: the orchestrator never advances an order
// along an edge this table does not contain.
type OrderStatus string

const (
	DeliveryPending   OrderStatus = "DeliveryPending"
	PaymentPending    OrderStatus = "PaymentPending"
	Queued            OrderStatus = "Queued"
	Produced          OrderStatus = "Produced"
	Delivering        OrderStatus = "Delivering"
	Delivered         OrderStatus = "Delivered"
	DeliveryCanceling OrderStatus = "DeliveryCanceling"
	Canceled          OrderStatus = "Canceled"

	OrderCancelDeliveryPending    OrderStatus = "OrderCancelDeliveryPending"
	OrderCancelPaymentPending     OrderStatus = "OrderCancelPaymentPending"
	OrderCancelWarehousePending   OrderStatus = "OrderCancelWarehousePending"
	OrderCancelPaymentRecharging  OrderStatus = "OrderCancelPaymentRecharging"
	OrderCancelDeliveryRedelivering OrderStatus = "OrderCancelDeliveryRedelivering"
)

// transitions enumerates every edge of the state machine in §4.1. Keys are
// the current status; values are the statuses reachable directly from it.
var transitions = map[OrderStatus][]OrderStatus{
	DeliveryPending:   {PaymentPending, Canceled},
	PaymentPending:    {Queued, DeliveryCanceling},
	DeliveryCanceling: {Canceled},
	Queued:            {Produced, OrderCancelDeliveryPending},
	Produced:          {Delivering},
	Delivering:        {Delivered},

	OrderCancelDeliveryPending:   {OrderCancelPaymentPending},
	OrderCancelPaymentPending:    {OrderCancelWarehousePending},
	OrderCancelWarehousePending:  {Canceled, OrderCancelPaymentRecharging},
	OrderCancelPaymentRecharging: {OrderCancelDeliveryRedelivering},
	OrderCancelDeliveryRedelivering: {Queued},

	// Terminal statuses have no outgoing edges.
	Delivered: nil,
	Canceled:  nil,
}

// CanTransition reports whether to is a direct successor of from in the
// state machine. The orchestrator consults this before every mutation.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status has no outgoing transitions (§4.1
// invariant 2: the orchestrator never transitions an order whose current
// status is terminal).
func IsTerminal(status OrderStatus) bool {
	return status == Delivered || status == Canceled
}

// Order is the aggregate owned exclusively by the saga orchestrator (§3).
// Only the orchestrator writes Status; participants propose via responses.
type Order struct {
	OrderID     int64
	ClientID    string
	CountA      int
	CountB      int
	Description string
	Status      OrderStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SagaEntry is one append-only row of an order's history (§3, §4.6).
type SagaEntry struct {
	OrderID   int64
	Status    OrderStatus
	Timestamp time.Time
}

// paymentSegmentStatuses is the sub-sequence of statuses whose presence marks that
// the payment step of a saga has already been attempted for this order
// (GLOSSARY: "payment segment"). CountPaymentSegment treats entries of any
// of these three statuses as fresh evidence that payment.check already ran.
var paymentSegmentStatuses = map[OrderStatus]bool{
	PaymentPending:    true,
	Queued:            true,
	DeliveryCanceling: true,
}

// InPaymentSegment reports whether status belongs to the payment segment.
func InPaymentSegment(status OrderStatus) bool {
	return paymentSegmentStatuses[status]
}

// OrderRepository is the port the orchestrator uses to persist and load
// orders. Implementations must serialize concurrent mutation per order_id
// (row-level lock), per §5 "Shared-resource policy".
type OrderRepository interface {
	// Create inserts a new order with status DeliveryPending and returns the
	// assigned, monotonic order_id.
	Create(ctx Context, o Order) (int64, error)
	// Get loads an order by id.
	Get(ctx Context, orderID int64) (Order, error)
	// UpdateStatus mutates an order's status under a row lock. Implementations
	// must refuse (return ErrTerminalOrder) if the current status is terminal.
	UpdateStatus(ctx Context, orderID int64, status OrderStatus) error
	// List returns orders, most recent first, for administrative listing.
	List(ctx Context, offset, limit int) ([]Order, error)
	// UpdateDescription applies an administrative partial update to an
	// order's description (PUT /order/update/{order_id}, admin only). It
	// never touches Status: that field remains orchestrator-only (§3).
	UpdateDescription(ctx Context, orderID int64, description string) error
}

// SagaLog is the append-only audit port described in §4.6.
type SagaLog interface {
	// Append records a transition. Per §3's invariant, callers must append
	// before publishing any command for the new status.
	Append(ctx Context, orderID int64, status OrderStatus, ts time.Time) error
	// ListForOrder returns every entry for an order, insertion-ordered.
	ListForOrder(ctx Context, orderID int64) ([]SagaEntry, error)
	// CountPaymentSegment returns how many saga entries for orderID belong to
	// the payment segment. The orchestrator's payment.checked handler treats
	// count > 1 as "already acted on", since the PaymentPending entry itself
	// accounts for one (§9 Open Question 3: consulted as an int, used as a
	// bool).
	CountPaymentSegment(ctx Context, orderID int64) (int, error)
}
