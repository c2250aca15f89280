package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgeware/orderforge/internal/domain"
)

// PieceRepo manages fabricable-piece inventory (§3, §4.3). Reservation is a
// select-then-update protected by a row lock with SKIP LOCKED so concurrent
// orders never claim the same piece (§5).
type PieceRepo struct{ Pool PgxPool }

// NewPieceRepo constructs a PieceRepo with the given pool.
func NewPieceRepo(p PgxPool) *PieceRepo { return &PieceRepo{Pool: p} }

// ReserveOldestProduced finds the oldest reservable piece of the given type
// and assigns it to orderID/clientID under a row lock.
func (r *PieceRepo) ReserveOldestProduced(ctx domain.Context, pieceType domain.PieceType, orderID int64, clientID string) (domain.Piece, bool, error) {
	tracer := otel.Tracer("repo.pieces")
	ctx, span := tracer.Start(ctx, "pieces.ReserveOldestProduced")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "pieces"),
	)

	var piece domain.Piece
	found := false
	err := withTx(ctx, r.Pool, func(tx pgx.Tx) error {
		q := `SELECT piece_id, type, status FROM pieces
		      WHERE type=$1 AND order_id IS NULL AND status='Produced'
		      ORDER BY piece_id ASC LIMIT 1 FOR UPDATE SKIP LOCKED`
		row := tx.QueryRow(ctx, q, pieceType)
		if err := row.Scan(&piece.PieceID, &piece.Type, &piece.Status); err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE pieces SET order_id=$2, client_id=$3 WHERE piece_id=$1`, piece.PieceID, orderID, clientID); err != nil {
			return err
		}
		piece.OrderID = &orderID
		piece.ClientID = &clientID
		found = true
		return nil
	})
	if err != nil {
		return domain.Piece{}, false, fmt.Errorf("op=piece.reserve_oldest_produced: %w", err)
	}
	return piece, found, nil
}

// CreateQueued inserts a new piece row in Queued status, owned by orderID,
// when none was reservable.
func (r *PieceRepo) CreateQueued(ctx domain.Context, pieceID string, pieceType domain.PieceType, orderID int64, clientID string) error {
	tracer := otel.Tracer("repo.pieces")
	ctx, span := tracer.Start(ctx, "pieces.CreateQueued")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "pieces"),
	)
	q := `INSERT INTO pieces (piece_id, type, status, order_id, client_id) VALUES ($1,$2,'Queued',$3,$4)`
	if _, err := r.Pool.Exec(ctx, q, pieceID, pieceType, orderID, clientID); err != nil {
		return fmt.Errorf("op=piece.create_queued: %w", err)
	}
	return nil
}

// MarkProduced transitions a piece from Queued to Produced. A piece already
// Produced is left as-is and reported as success, so a redelivered
// piece.produced event is a no-op rather than a dead-lettered error (§1,
// §4.1).
func (r *PieceRepo) MarkProduced(ctx domain.Context, pieceID string) error {
	tracer := otel.Tracer("repo.pieces")
	ctx, span := tracer.Start(ctx, "pieces.MarkProduced")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "pieces"),
	)
	q := `UPDATE pieces SET status='Produced' WHERE piece_id=$1 AND status='Queued'`
	tag, err := r.Pool.Exec(ctx, q, pieceID)
	if err != nil {
		return fmt.Errorf("op=piece.mark_produced: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status domain.PieceStatus
	row := r.Pool.QueryRow(ctx, `SELECT status FROM pieces WHERE piece_id=$1`, pieceID)
	if err := row.Scan(&status); err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("op=piece.mark_produced: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=piece.mark_produced: %w", err)
	}
	if status == domain.PieceProduced {
		return nil
	}
	return fmt.Errorf("op=piece.mark_produced: %w", domain.ErrConflict)
}

// MarkRequested records that warehouse.requested has already been processed
// for orderID. A redelivered event finds the row already present and
// reports alreadyMarked=true, so the caller can skip reserving/queuing
// pieces again (§1, §4.1).
func (r *PieceRepo) MarkRequested(ctx domain.Context, orderID int64) (bool, error) {
	tracer := otel.Tracer("repo.pieces")
	ctx, span := tracer.Start(ctx, "pieces.MarkRequested")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "warehouse_requests"),
	)
	q := `INSERT INTO warehouse_requests (order_id) VALUES ($1) ON CONFLICT (order_id) DO NOTHING`
	tag, err := r.Pool.Exec(ctx, q, orderID)
	if err != nil {
		return false, fmt.Errorf("op=piece.mark_requested: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}

// CountPending returns how many pieces of an order are not yet Produced.
func (r *PieceRepo) CountPending(ctx domain.Context, orderID int64) (int, error) {
	tracer := otel.Tracer("repo.pieces")
	ctx, span := tracer.Start(ctx, "pieces.CountPending")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "pieces"),
	)
	q := `SELECT COUNT(*) FROM pieces WHERE order_id=$1 AND status <> 'Produced' AND status <> 'Shipped'`
	row := r.Pool.QueryRow(ctx, q, orderID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=piece.count_pending: %w", err)
	}
	return count, nil
}

// ReleaseOrder attempts to detach every piece of an order. Returns
// ok=false without mutating anything if any piece of the order has already
// reached Shipped (§4.3 warehouse.check_cancel).
func (r *PieceRepo) ReleaseOrder(ctx domain.Context, orderID int64) (bool, error) {
	tracer := otel.Tracer("repo.pieces")
	ctx, span := tracer.Start(ctx, "pieces.ReleaseOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "pieces"),
	)

	ok := false
	err := withTx(ctx, r.Pool, func(tx pgx.Tx) error {
		var shippedCount int
		q := `SELECT COUNT(*) FILTER (WHERE status='Shipped')
		      FROM (SELECT status FROM pieces WHERE order_id=$1 FOR UPDATE) AS owned`
		if err := tx.QueryRow(ctx, q, orderID).Scan(&shippedCount); err != nil {
			return err
		}
		if shippedCount > 0 {
			ok = false
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE pieces SET order_id=NULL, client_id=NULL WHERE order_id=$1`, orderID); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("op=piece.release_order: %w", err)
	}
	return ok, nil
}

// ShipOrder transitions every Produced piece of an order to Shipped.
func (r *PieceRepo) ShipOrder(ctx domain.Context, orderID int64) error {
	tracer := otel.Tracer("repo.pieces")
	ctx, span := tracer.Start(ctx, "pieces.ShipOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "pieces"),
	)
	q := `UPDATE pieces SET status='Shipped' WHERE order_id=$1 AND status='Produced'`
	if _, err := r.Pool.Exec(ctx, q, orderID); err != nil {
		return fmt.Errorf("op=piece.ship_order: %w", err)
	}
	return nil
}

// GetByPieceID loads a single piece, used by fabrication workers reporting
// piece.produced.
func (r *PieceRepo) GetByPieceID(ctx domain.Context, pieceID string) (domain.Piece, error) {
	tracer := otel.Tracer("repo.pieces")
	ctx, span := tracer.Start(ctx, "pieces.GetByPieceID")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "pieces"),
	)
	q := `SELECT piece_id, type, status, order_id, client_id FROM pieces WHERE piece_id=$1`
	row := r.Pool.QueryRow(ctx, q, pieceID)
	var p domain.Piece
	if err := row.Scan(&p.PieceID, &p.Type, &p.Status, &p.OrderID, &p.ClientID); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Piece{}, fmt.Errorf("op=piece.get_by_piece_id: %w", domain.ErrNotFound)
		}
		return domain.Piece{}, fmt.Errorf("op=piece.get_by_piece_id: %w", err)
	}
	return p, nil
}
