package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/forgeware/orderforge/internal/domain"
)

// CatalogRepo loads per-piece-type prices (§3, §4.1, GET /order/catalog).
type CatalogRepo struct{ Pool PgxPool }

// NewCatalogRepo constructs a CatalogRepo with the given pool.
func NewCatalogRepo(p PgxPool) *CatalogRepo { return &CatalogRepo{Pool: p} }

// Get loads the current price for a piece type.
func (r *CatalogRepo) Get(ctx domain.Context, pieceType domain.PieceType) (domain.CatalogEntry, error) {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "catalog"),
	)
	q := `SELECT piece_type, price FROM catalog WHERE piece_type=$1`
	row := r.Pool.QueryRow(ctx, q, pieceType)
	var e domain.CatalogEntry
	if err := row.Scan(&e.PieceType, &e.Price); err != nil {
		if err == pgx.ErrNoRows {
			return domain.CatalogEntry{}, fmt.Errorf("op=catalog.get: %w", domain.ErrNotFound)
		}
		return domain.CatalogEntry{}, fmt.Errorf("op=catalog.get: %w", err)
	}
	return e, nil
}

// List returns every catalog entry.
func (r *CatalogRepo) List(ctx domain.Context) ([]domain.CatalogEntry, error) {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "catalog"),
	)
	q := `SELECT piece_type, price FROM catalog ORDER BY piece_type ASC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=catalog.list: %w", err)
	}
	defer rows.Close()
	var out []domain.CatalogEntry
	for rows.Next() {
		var e domain.CatalogEntry
		if err := rows.Scan(&e.PieceType, &e.Price); err != nil {
			return nil, fmt.Errorf("op=catalog.list_scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=catalog.list_rows: %w", err)
	}
	return out, nil
}
