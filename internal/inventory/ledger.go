package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrInvalidProductID  = errors.New("product id cannot be nil")
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderReleased     = errors.New("order stock already released")
)

// InsufficientStockError names the line that refused a decrement.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// CartLine is a requested (product, quantity) pair.
type CartLine struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// StockLevel is the ledger's view of an active product.
type StockLevel struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type MovementKind string

const (
	MovementDecrement MovementKind = "decrement"
	MovementRestock   MovementKind = "restock"
)

// Ledger owns the authoritative per-product stock counts.
//
// DecrementForOrder refuses the whole batch when any line would drive stock
// negative. Both mutations are keyed by order id: applying the same order
// twice has no further effect. RestockForOrder on an order whose decrement
// was never recorded changes no stock but marks the order released, and a
// later DecrementForOrder for it fails with ErrOrderReleased.
type Ledger interface {
	ReadStock(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]StockLevel, error)
	DecrementForOrder(ctx context.Context, orderID uuid.UUID, lines []CartLine) error
	RestockForOrder(ctx context.Context, orderID uuid.UUID, lines []CartLine) error
}

// MergeLines validates lines and folds duplicate products into one line,
// keeping the order of first appearance.
func MergeLines(lines []CartLine) ([]CartLine, error) {
	merged := make([]CartLine, 0, len(lines))
	index := make(map[uuid.UUID]int, len(lines))

	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, ErrInvalidProductID
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("product %s: %w", line.ProductID, ErrInvalidQuantity)
		}

		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}

	return merged, nil
}

// ProductIDs returns the product ids of lines in order.
func ProductIDs(lines []CartLine) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

// sortedByProduct returns a copy of lines ordered by product id so that
// concurrent batches lock rows in the same order.
func sortedByProduct(lines []CartLine) []CartLine {
	sorted := slices.Clone(lines)
	slices.SortFunc(sorted, func(a, b CartLine) int {
		return bytes.Compare(a.ProductID.Bytes(), b.ProductID.Bytes())
	})
	return sorted
}
