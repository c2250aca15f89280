package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgeware/orderforge/internal/domain"
)

// DeliveryRepo persists delivery rows, one-to-one with an order (§3, §4.4).
type DeliveryRepo struct{ Pool PgxPool }

// NewDeliveryRepo constructs a DeliveryRepo with the given pool.
func NewDeliveryRepo(p PgxPool) *DeliveryRepo { return &DeliveryRepo{Pool: p} }

// Create inserts a delivery row for an order.
func (r *DeliveryRepo) Create(ctx domain.Context, d domain.Delivery) error {
	tracer := otel.Tracer("repo.deliveries")
	ctx, span := tracer.Start(ctx, "deliveries.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "deliveries"),
	)
	q := `INSERT INTO deliveries (order_id, client_id, status) VALUES ($1,$2,$3)`
	if _, err := r.Pool.Exec(ctx, q, d.OrderID, d.ClientID, d.Status); err != nil {
		return fmt.Errorf("op=delivery.create: %w", err)
	}
	return nil
}

// Get loads the delivery row for an order.
func (r *DeliveryRepo) Get(ctx domain.Context, orderID int64) (domain.Delivery, error) {
	tracer := otel.Tracer("repo.deliveries")
	ctx, span := tracer.Start(ctx, "deliveries.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "deliveries"),
	)
	q := `SELECT order_id, client_id, status FROM deliveries WHERE order_id=$1`
	row := r.Pool.QueryRow(ctx, q, orderID)
	var d domain.Delivery
	if err := row.Scan(&d.OrderID, &d.ClientID, &d.Status); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Delivery{}, fmt.Errorf("op=delivery.get: %w", domain.ErrNotFound)
		}
		return domain.Delivery{}, fmt.Errorf("op=delivery.get: %w", err)
	}
	return d, nil
}

// UpdateStatus sets the delivery's status explicitly.
func (r *DeliveryRepo) UpdateStatus(ctx domain.Context, orderID int64, status domain.DeliveryStatus) error {
	tracer := otel.Tracer("repo.deliveries")
	ctx, span := tracer.Start(ctx, "deliveries.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "deliveries"),
	)
	q := `UPDATE deliveries SET status=$2 WHERE order_id=$1`
	tag, err := r.Pool.Exec(ctx, q, orderID, status)
	if err != nil {
		return fmt.Errorf("op=delivery.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=delivery.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// ClientAddressRepo replicates client addresses from client.created/updated
// events (§4.4, §4.6).
type ClientAddressRepo struct{ Pool PgxPool }

// NewClientAddressRepo constructs a ClientAddressRepo with the given pool.
func NewClientAddressRepo(p PgxPool) *ClientAddressRepo { return &ClientAddressRepo{Pool: p} }

// Upsert replicates a client.created or client.updated event.
func (r *ClientAddressRepo) Upsert(ctx domain.Context, a domain.ClientAddress) error {
	tracer := otel.Tracer("repo.client_addresses")
	ctx, span := tracer.Start(ctx, "client_addresses.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "client_addresses"),
	)
	q := `INSERT INTO client_addresses (client_id, address, zip_code) VALUES ($1,$2,$3)
	      ON CONFLICT (client_id) DO UPDATE SET address=EXCLUDED.address, zip_code=EXCLUDED.zip_code`
	if _, err := r.Pool.Exec(ctx, q, a.ClientID, a.Address, a.ZipCode); err != nil {
		return fmt.Errorf("op=client_address.upsert: %w", err)
	}
	return nil
}

// Get loads the replicated address for a client.
func (r *ClientAddressRepo) Get(ctx domain.Context, clientID string) (domain.ClientAddress, error) {
	tracer := otel.Tracer("repo.client_addresses")
	ctx, span := tracer.Start(ctx, "client_addresses.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "client_addresses"),
	)
	q := `SELECT client_id, address, zip_code FROM client_addresses WHERE client_id=$1`
	row := r.Pool.QueryRow(ctx, q, clientID)
	var a domain.ClientAddress
	if err := row.Scan(&a.ClientID, &a.Address, &a.ZipCode); err != nil {
		if err == pgx.ErrNoRows {
			return domain.ClientAddress{}, fmt.Errorf("op=client_address.get: %w", domain.ErrNotFound)
		}
		return domain.ClientAddress{}, fmt.Errorf("op=client_address.get: %w", err)
	}
	return a, nil
}
