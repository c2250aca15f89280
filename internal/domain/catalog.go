package domain

// CatalogEntry is a piece type's unit price (§3, §4.1 "Total cost").
type CatalogEntry struct {
	PieceType PieceType
	Price     int64 // minor units (cents)
}

// CatalogRepository is the port backing GET /order/catalog and the
// orchestrator's total-cost computation.
type CatalogRepository interface {
	// Get loads the current price for a piece type.
	Get(ctx Context, pieceType PieceType) (CatalogEntry, error)
	// List returns every catalog entry.
	List(ctx Context) ([]CatalogEntry, error)
}

// TotalCost computes count_a * price_A + count_b * price_B, read from the
// catalog at publish time (§4.1).
func TotalCost(priceA, priceB int64, countA, countB int) int64 {
	return priceA*int64(countA) + priceB*int64(countB)
}
