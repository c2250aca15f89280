package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgeware/orderforge/internal/domain"
)

// PaymentRepo persists per-client balances, one row per client_id, with
// every mutation serialized through a row lock (§4.2, §5).
type PaymentRepo struct{ Pool PgxPool }

// NewPaymentRepo constructs a PaymentRepo with the given pool.
func NewPaymentRepo(p PgxPool) *PaymentRepo { return &PaymentRepo{Pool: p} }

// GetOrCreate loads the client's balance row, creating it with a zero
// balance if absent.
func (r *PaymentRepo) GetOrCreate(ctx domain.Context, clientID string) (domain.Payment, error) {
	tracer := otel.Tracer("repo.payments")
	ctx, span := tracer.Start(ctx, "payments.GetOrCreate")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "payments"),
	)
	q := `INSERT INTO payments (client_id, balance) VALUES ($1, 0)
	      ON CONFLICT (client_id) DO UPDATE SET client_id = EXCLUDED.client_id
	      RETURNING client_id, balance`
	row := r.Pool.QueryRow(ctx, q, clientID)
	var p domain.Payment
	if err := row.Scan(&p.ClientID, &p.Balance); err != nil {
		return domain.Payment{}, fmt.Errorf("op=payment.get_or_create: %w", err)
	}
	return p, nil
}

// ApplyMovement atomically applies movement to the balance under a row
// lock. When requireNonNegative is true and the movement would drive the
// balance below zero, it leaves the balance untouched and returns ok=false.
func (r *PaymentRepo) ApplyMovement(ctx domain.Context, clientID string, movement int64, requireNonNegative bool) (int64, bool, error) {
	tracer := otel.Tracer("repo.payments")
	ctx, span := tracer.Start(ctx, "payments.ApplyMovement")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "payments"),
	)

	var balance int64
	var ok bool
	err := withTx(ctx, r.Pool, func(tx pgx.Tx) error {
		var current int64
		q := `INSERT INTO payments (client_id, balance) VALUES ($1, 0)
		      ON CONFLICT (client_id) DO UPDATE SET client_id = EXCLUDED.client_id
		      RETURNING balance`
		if err := tx.QueryRow(ctx, q, clientID).Scan(&current); err != nil {
			return err
		}
		if _, lerr := tx.Exec(ctx, `SELECT balance FROM payments WHERE client_id=$1 FOR UPDATE`, clientID); lerr != nil {
			return lerr
		}
		next := current + movement
		if requireNonNegative && next < 0 {
			balance = current
			ok = false
			return nil
		}
		if err := tx.QueryRow(ctx, `UPDATE payments SET balance=$2 WHERE client_id=$1 RETURNING balance`, clientID, next).Scan(&balance); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("op=payment.apply_movement: %w", err)
	}
	return balance, ok, nil
}

// ApplyCheckOnce applies movement for a payment.check command exactly once
// per order_id. A redelivered command with the same orderID is answered
// from the recorded result of the first application rather than debiting
// the balance again (§1, §4.1).
func (r *PaymentRepo) ApplyCheckOnce(ctx domain.Context, orderID int64, clientID string, movement int64) (int64, bool, error) {
	tracer := otel.Tracer("repo.payments")
	ctx, span := tracer.Start(ctx, "payments.ApplyCheckOnce")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "payment_checks"),
	)

	var balance int64
	var ok bool
	err := withTx(ctx, r.Pool, func(tx pgx.Tx) error {
		var existingOK bool
		var existingBalance int64
		scanErr := tx.QueryRow(ctx, `SELECT ok, balance FROM payment_checks WHERE order_id=$1 FOR UPDATE`, orderID).Scan(&existingOK, &existingBalance)
		if scanErr == nil {
			ok, balance = existingOK, existingBalance
			return nil
		}
		if scanErr != pgx.ErrNoRows {
			return scanErr
		}

		var current int64
		q := `INSERT INTO payments (client_id, balance) VALUES ($1, 0)
		      ON CONFLICT (client_id) DO UPDATE SET client_id = EXCLUDED.client_id
		      RETURNING balance`
		if err := tx.QueryRow(ctx, q, clientID).Scan(&current); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `SELECT balance FROM payments WHERE client_id=$1 FOR UPDATE`, clientID); err != nil {
			return err
		}
		next := current + movement
		if next < 0 {
			balance, ok = current, false
		} else {
			if err := tx.QueryRow(ctx, `UPDATE payments SET balance=$2 WHERE client_id=$1 RETURNING balance`, clientID, next).Scan(&balance); err != nil {
				return err
			}
			ok = true
		}
		_, err := tx.Exec(ctx, `INSERT INTO payment_checks (order_id, ok, balance) VALUES ($1,$2,$3)`, orderID, ok, balance)
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("op=payment.apply_check_once: %w", err)
	}
	return balance, ok, nil
}

// RecordCancelCredit remembers the amount most recently credited by a
// payment.check_cancel for an order, so a later payment.revert_cancel can
// undo exactly that amount.
func (r *PaymentRepo) RecordCancelCredit(ctx domain.Context, orderID int64, clientID string, amount int64) error {
	tracer := otel.Tracer("repo.payments")
	ctx, span := tracer.Start(ctx, "payments.RecordCancelCredit")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "payment_cancel_credits"),
	)
	q := `INSERT INTO payment_cancel_credits (order_id, client_id, amount) VALUES ($1,$2,$3)
	      ON CONFLICT (order_id) DO UPDATE SET client_id=EXCLUDED.client_id, amount=EXCLUDED.amount`
	if _, err := r.Pool.Exec(ctx, q, orderID, clientID, amount); err != nil {
		return fmt.Errorf("op=payment.record_cancel_credit: %w", err)
	}
	return nil
}

// ConsumeCancelCredit returns and clears the remembered check_cancel credit
// for an order, so revert_cancel is idempotent on redelivery.
func (r *PaymentRepo) ConsumeCancelCredit(ctx domain.Context, orderID int64) (string, int64, bool, error) {
	tracer := otel.Tracer("repo.payments")
	ctx, span := tracer.Start(ctx, "payments.ConsumeCancelCredit")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "payment_cancel_credits"),
	)
	q := `DELETE FROM payment_cancel_credits WHERE order_id=$1 RETURNING client_id, amount`
	row := r.Pool.QueryRow(ctx, q, orderID)
	var clientID string
	var amount int64
	if err := row.Scan(&clientID, &amount); err != nil {
		if err == pgx.ErrNoRows {
			return "", 0, false, nil
		}
		return "", 0, false, fmt.Errorf("op=payment.consume_cancel_credit: %w", err)
	}
	return clientID, amount, true, nil
}
