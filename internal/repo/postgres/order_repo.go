package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgeware/orderforge/internal/domain"
)

// OrderRepo persists and loads orders using a minimal pgx pool.
type OrderRepo struct{ Pool PgxPool }

// NewOrderRepo constructs an OrderRepo with the given pool.
func NewOrderRepo(p PgxPool) *OrderRepo { return &OrderRepo{Pool: p} }

// Create inserts a new order and returns its order_id (bigserial, §3).
func (r *OrderRepo) Create(ctx domain.Context, o domain.Order) (int64, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "orders"),
	)
	now := time.Now().UTC()
	q := `INSERT INTO orders (client_id, count_a, count_b, description, status, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING order_id`
	row := r.Pool.QueryRow(ctx, q, o.ClientID, o.CountA, o.CountB, o.Description, o.Status, now, now)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("op=order.create: %w", err)
	}
	return id, nil
}

// Get loads an order by id.
func (r *OrderRepo) Get(ctx domain.Context, orderID int64) (domain.Order, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "orders"),
	)
	q := `SELECT order_id, client_id, count_a, count_b, description, status, created_at, updated_at FROM orders WHERE order_id=$1`
	row := r.Pool.QueryRow(ctx, q, orderID)
	var o domain.Order
	if err := row.Scan(&o.OrderID, &o.ClientID, &o.CountA, &o.CountB, &o.Description, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, fmt.Errorf("op=order.get: %w", domain.ErrUnknownOrder)
		}
		return domain.Order{}, fmt.Errorf("op=order.get: %w", err)
	}
	return o, nil
}

// UpdateStatus mutates an order's status under a row lock, refusing the
// write if the order's current status is terminal (§4.1 invariant 2).
func (r *OrderRepo) UpdateStatus(ctx domain.Context, orderID int64, status domain.OrderStatus) error {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "orders"),
	)
	err := withTx(ctx, r.Pool, func(tx pgx.Tx) error {
		var current domain.OrderStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE order_id=$1 FOR UPDATE`, orderID).Scan(&current); err != nil {
			if err == pgx.ErrNoRows {
				return domain.ErrUnknownOrder
			}
			return err
		}
		if domain.IsTerminal(current) {
			return domain.ErrTerminalOrder
		}
		_, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE order_id=$1`, orderID, status, time.Now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("op=order.update_status: %w", err)
	}
	return nil
}

// UpdateDescription applies an administrative partial update, leaving
// status untouched (§3: only the orchestrator writes Status).
func (r *OrderRepo) UpdateDescription(ctx domain.Context, orderID int64, description string) error {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.UpdateDescription")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "orders"),
	)
	q := `UPDATE orders SET description=$2, updated_at=$3 WHERE order_id=$1`
	tag, err := r.Pool.Exec(ctx, q, orderID, description, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=order.update_description: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=order.update_description: %w", domain.ErrUnknownOrder)
	}
	return nil
}

// List returns orders, most recent first, for administrative listing.
func (r *OrderRepo) List(ctx domain.Context, offset, limit int) ([]domain.Order, error) {
	tracer := otel.Tracer("repo.orders")
	ctx, span := tracer.Start(ctx, "orders.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "orders"),
	)
	q := `SELECT order_id, client_id, count_a, count_b, description, status, created_at, updated_at
	      FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.Pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("op=order.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.OrderID, &o.ClientID, &o.CountA, &o.CountB, &o.Description, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=order.list_scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=order.list_rows: %w", err)
	}
	return out, nil
}
