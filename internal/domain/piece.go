package domain

// PieceType enumerates the two fabricable piece types (§2, §3).
type PieceType string

const (
	PieceTypeA PieceType = "a"
	PieceTypeB PieceType = "b"
)

// PieceStatus is a piece's position along its monotonic lifecycle (§4.3
// invariant): Queued/some -> Produced/some -> Shipped/some, with the single
// allowed rollback (Produced|Queued, some) -> (Produced, none) initiated by
// warehouse.check_cancel.
type PieceStatus string

const (
	PieceQueued   PieceStatus = "Queued"
	PieceProduced PieceStatus = "Produced"
	PieceShipped  PieceStatus = "Shipped"
)

// Piece is one unit of inventory (§3). OrderID and ClientID are nil/zero
// when the piece is unreserved.
type Piece struct {
	PieceID  string
	Type     PieceType
	Status   PieceStatus
	OrderID  *int64
	ClientID *string
}

// Reservable reports whether the piece can be claimed by a new order: no
// owning order and already produced (GLOSSARY: "Reservable piece").
func (p Piece) Reservable() bool {
	return p.OrderID == nil && p.Status == PieceProduced
}

// PieceRepository is the port the warehouse participant uses to manage
// inventory. Reservation is a "select-then-update" protected by row
// locking so concurrent orders cannot claim the same piece (§5).
type PieceRepository interface {
	// ReserveOldestProduced finds the oldest reservable piece of the given
	// type and assigns it to orderID/clientID under a row lock. Returns
	// found=false when no reservable piece of that type exists.
	ReserveOldestProduced(ctx Context, pieceType PieceType, orderID int64, clientID string) (piece Piece, found bool, err error)
	// CreateQueued inserts a new piece row in Queued status, owned by
	// orderID, when none was reservable.
	CreateQueued(ctx Context, pieceID string, pieceType PieceType, orderID int64, clientID string) error
	// MarkProduced transitions a piece from Queued to Produced. A piece
	// already Produced is left as-is and reported as success, so a
	// redelivered piece.produced event is a no-op rather than an error
	// (§1, §4.1 participant-side idempotency).
	MarkProduced(ctx Context, pieceID string) error
	// MarkRequested records that warehouse.requested has already been
	// processed for orderID. Returns alreadyMarked=true, without reserving
	// or queuing anything, when this order was marked before, so a
	// redelivered warehouse.requested event is a no-op (§1, §4.1).
	MarkRequested(ctx Context, orderID int64) (alreadyMarked bool, err error)
	// CountPending returns how many pieces of an order are not yet Produced.
	CountPending(ctx Context, orderID int64) (int, error)
	// ReleaseOrder attempts to detach every piece of an order (OrderID set to
	// nil). Returns ok=false without mutating anything if any piece of the
	// order has already reached Shipped (§4.3 warehouse.check_cancel).
	ReleaseOrder(ctx Context, orderID int64) (ok bool, err error)
	// ShipOrder transitions every Produced piece of an order to Shipped
	// (§4.3, on orders.delivering).
	ShipOrder(ctx Context, orderID int64) error
	// GetByPieceID loads a single piece, used by fabrication workers reporting
	// piece.produced.
	GetByPieceID(ctx Context, pieceID string) (Piece, error)
}
