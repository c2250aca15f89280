package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgeware/orderforge/internal/domain"
)

// SagaLogRepo is the append-only audit trail of §4.6, backed by a plain
// insert-only table (no updates, no deletes).
type SagaLogRepo struct{ Pool PgxPool }

// NewSagaLogRepo constructs a SagaLogRepo with the given pool.
func NewSagaLogRepo(p PgxPool) *SagaLogRepo { return &SagaLogRepo{Pool: p} }

// Append records a transition. Callers append before publishing any command
// for the new status (§3 invariant).
func (r *SagaLogRepo) Append(ctx domain.Context, orderID int64, status domain.OrderStatus, ts time.Time) error {
	tracer := otel.Tracer("repo.saga_log")
	ctx, span := tracer.Start(ctx, "saga_log.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "saga_log"),
	)
	q := `INSERT INTO saga_log (order_id, status, ts) VALUES ($1,$2,$3)`
	if _, err := r.Pool.Exec(ctx, q, orderID, status, ts); err != nil {
		return fmt.Errorf("op=saga_log.append: %w", err)
	}
	return nil
}

// ListForOrder returns every entry for an order, insertion-ordered, backing
// GET /order/sagashistory/{id}.
func (r *SagaLogRepo) ListForOrder(ctx domain.Context, orderID int64) ([]domain.SagaEntry, error) {
	tracer := otel.Tracer("repo.saga_log")
	ctx, span := tracer.Start(ctx, "saga_log.ListForOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "saga_log"),
	)
	q := `SELECT order_id, status, ts FROM saga_log WHERE order_id=$1 ORDER BY id ASC`
	rows, err := r.Pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("op=saga_log.list: %w", err)
	}
	defer rows.Close()
	var out []domain.SagaEntry
	for rows.Next() {
		var e domain.SagaEntry
		if err := rows.Scan(&e.OrderID, &e.Status, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("op=saga_log.list_scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=saga_log.list_rows: %w", err)
	}
	return out, nil
}

// CountPaymentSegment returns how many saga entries for orderID belong to
// the payment segment (§9 Open Question 3).
func (r *SagaLogRepo) CountPaymentSegment(ctx domain.Context, orderID int64) (int, error) {
	tracer := otel.Tracer("repo.saga_log")
	ctx, span := tracer.Start(ctx, "saga_log.CountPaymentSegment")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "saga_log"),
	)
	q := `SELECT COUNT(*) FROM saga_log WHERE order_id=$1 AND status IN ($2,$3,$4)`
	row := r.Pool.QueryRow(ctx, q, orderID, domain.PaymentPending, domain.Queued, domain.DeliveryCanceling)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=saga_log.count_payment_segment: %w", err)
	}
	return count, nil
}
