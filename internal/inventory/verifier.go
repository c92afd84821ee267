package inventory

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

const UnknownProductName = "Unknown Product"

type LineCheck struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Requested int             `json:"requested"`
	Available int             `json:"available"`
	InStock   bool            `json:"in_stock"`
}

type StockCheckResult struct {
	Items      []LineCheck `json:"items"`
	AllInStock bool        `json:"all_in_stock"`
}

// Shortfalls returns the lines that cannot be served.
func (r *StockCheckResult) Shortfalls() []LineCheck {
	var out []LineCheck
	for _, item := range r.Items {
		if !item.InStock {
			out = append(out, item)
		}
	}
	return out
}

// Verifier compares requested quantities with the ledger's current counts.
// Its answer is advisory: stock may change before the decrement runs.
type Verifier struct {
	ledger Ledger
}

func NewVerifier(ledger Ledger) *Verifier {
	return &Verifier{ledger: ledger}
}

// CheckStock reads all products of the cart in one batch. Duplicate lines
// for a product are checked as their sum. Missing or inactive products
// count as zero available.
func (v *Verifier) CheckStock(ctx context.Context, lines []CartLine) (*StockCheckResult, error) {
	merged, err := MergeLines(lines)
	if err != nil {
		return nil, err
	}

	levels, err := v.ledger.ReadStock(ctx, ProductIDs(merged))
	if err != nil {
		return nil, fmt.Errorf("verifier: failed to read stock: %w", err)
	}

	result := &StockCheckResult{
		Items:      make([]LineCheck, 0, len(merged)),
		AllInStock: true,
	}
	for _, line := range merged {
		check := LineCheck{
			ProductID: line.ProductID,
			Name:      UnknownProductName,
			Requested: line.Quantity,
		}
		if level, ok := levels[line.ProductID]; ok {
			check.Name = level.Name
			check.UnitPrice = level.Price
			check.Available = level.Quantity
		}
		check.InStock = check.Available >= check.Requested

		result.AllInStock = result.AllInStock && check.InStock
		result.Items = append(result.Items, check)
	}

	return result, nil
}
