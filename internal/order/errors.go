package order

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidInput            = errors.New("invalid order input")
	ErrEmptyCart               = errors.New("order must contain at least one item")
	ErrInvalidStatus           = errors.New("invalid order status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrStatusConflict          = errors.New("order was modified concurrently")
	ErrStockNotReserved        = errors.New("order stock is not reserved")
	ErrStockUnavailable        = errors.New("stock unavailable")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrPersistenceFailed       = errors.New("order persistence failed")
	ErrLedgerDecrementFailed   = errors.New("ledger decrement failed")
	ErrLedgerRestockFailed     = errors.New("ledger restock failed")
)

// StockShortfall describes one cart line the ledger cannot serve.
type StockShortfall struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

func formatShortfalls(lines []StockShortfall) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%s (%s): requested %d, available %d", l.Name, l.ProductID, l.Requested, l.Available))
	}
	return strings.Join(parts, "; ")
}

// StockUnavailableError is returned when the checkout re-verification finds
// a shortfall. Nothing has been persisted at that point.
type StockUnavailableError struct {
	Lines []StockShortfall
}

func (e *StockUnavailableError) Error() string {
	return "stock unavailable: " + formatShortfalls(e.Lines)
}

func (e *StockUnavailableError) Unwrap() error {
	return ErrStockUnavailable
}

// LedgerDecrementError is returned when the order was persisted but the
// ledger did not confirm the decrement. With Lines set the ledger refused
// the batch and the error also matches ErrStockUnavailable.
type LedgerDecrementError struct {
	OrderID uuid.UUID
	Lines   []StockShortfall
	Err     error
}

func (e *LedgerDecrementError) Error() string {
	if len(e.Lines) > 0 {
		return fmt.Sprintf("ledger decrement failed for order %s: %s", e.OrderID, formatShortfalls(e.Lines))
	}
	return fmt.Sprintf("ledger decrement failed for order %s: %v", e.OrderID, e.Err)
}

func (e *LedgerDecrementError) Is(target error) bool {
	switch target {
	case ErrLedgerDecrementFailed:
		return true
	case ErrStockUnavailable:
		return len(e.Lines) > 0
	}
	return false
}

func (e *LedgerDecrementError) Unwrap() error {
	return e.Err
}

// Shortfalls extracts the per-line detail from a stock related error.
func Shortfalls(err error) []StockShortfall {
	var unavailable *StockUnavailableError
	if errors.As(err, &unavailable) {
		return unavailable.Lines
	}
	var decrement *LedgerDecrementError
	if errors.As(err, &decrement) {
		return decrement.Lines
	}
	return nil
}
