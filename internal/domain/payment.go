package domain

// Payment is the per-client balance owned by the payment participant (§3,
// §4.2). Balance is a signed decimal represented here in integer minor
// units (cents) to avoid floating-point drift across repeated debit/credit
// round trips (§8 round-trip laws).
type Payment struct {
	ClientID string
	Balance  int64 // minor units (cents)
}

// PaymentRepository is the port the payment participant uses to mutate a
// client's balance. Implementations must serialize all operations on a
// single client_id (§4.2 Concurrency: row-level lock or single-writer).
type PaymentRepository interface {
	// GetOrCreate loads the client's balance row, creating it with a zero
	// balance if absent (monotonic creation, §3).
	GetOrCreate(ctx Context, clientID string) (Payment, error)
	// ApplyMovement atomically applies movement to the balance under a row
	// lock and returns the resulting balance. When requireNonNegative is true
	// and the movement would drive the balance below zero, no mutation
	// happens, ok is false, and ErrInvalidArgument is NOT returned; callers
	// decide the business outcome themselves by checking the returned ok
	// flag.
	ApplyMovement(ctx Context, clientID string, movement int64, requireNonNegative bool) (balance int64, ok bool, err error)
	// ApplyCheckOnce applies movement for a payment.check command exactly
	// once per order_id: a redelivered command with the same orderID
	// (at-least-once bus delivery, §1) returns the result recorded by the
	// first application instead of debiting the balance again (§4.1
	// participant-side idempotency).
	ApplyCheckOnce(ctx Context, orderID int64, clientID string, movement int64) (balance int64, ok bool, err error)
	// RecordCancelCredit remembers the amount most recently credited by a
	// payment.check_cancel for an order, so a later payment.revert_cancel can
	// undo exactly that amount (§4.2).
	RecordCancelCredit(ctx Context, orderID int64, clientID string, amount int64) error
	// ConsumeCancelCredit returns and clears the remembered check_cancel
	// credit for an order, so revert_cancel is idempotent on redelivery.
	ConsumeCancelCredit(ctx Context, orderID int64) (clientID string, amount int64, found bool, err error)
}
