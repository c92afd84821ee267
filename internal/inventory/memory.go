package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type memoryProduct struct {
	level  StockLevel
	active bool
}

type movementKey struct {
	orderID uuid.UUID
	kind    MovementKind
}

// MemoryLedger is a single-writer Ledger guarded by a mutex.
type MemoryLedger struct {
	mu        sync.Mutex
	products  map[uuid.UUID]*memoryProduct
	movements map[movementKey]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		products:  make(map[uuid.UUID]*memoryProduct),
		movements: make(map[movementKey]struct{}),
	}
}

// Seed adds or replaces an active product.
func (l *MemoryLedger) Seed(level StockLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[level.ProductID] = &memoryProduct{level: level, active: true}
}

func (l *MemoryLedger) SetActive(productID uuid.UUID, active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.products[productID]; ok {
		p.active = active
	}
}

func (l *MemoryLedger) SetPrice(productID uuid.UUID, price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.products[productID]; ok {
		p.level.Price = price
	}
}

// Quantity returns the stored count regardless of the active flag.
func (l *MemoryLedger) Quantity(productID uuid.UUID) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[productID]
	if !ok {
		return 0, false
	}
	return p.level.Quantity, true
}

func (l *MemoryLedger) ReadStock(_ context.Context, productIDs []uuid.UUID) (map[uuid.UUID]StockLevel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	levels := make(map[uuid.UUID]StockLevel, len(productIDs))
	for _, id := range productIDs {
		if p, ok := l.products[id]; ok && p.active {
			levels[id] = p.level
		}
	}
	return levels, nil
}

func (l *MemoryLedger) DecrementForOrder(ctx context.Context, orderID uuid.UUID, lines []CartLine) error {
	merged, err := MergeLines(lines)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := movementKey{orderID: orderID, kind: MovementDecrement}
	if _, done := l.movements[key]; done {
		return nil
	}
	if _, released := l.movements[movementKey{orderID: orderID, kind: MovementRestock}]; released {
		return fmt.Errorf("ledger: order %s: %w", orderID, ErrOrderReleased)
	}

	for _, line := range sortedByProduct(merged) {
		p, ok := l.products[line.ProductID]
		available := 0
		if ok && p.active {
			available = p.level.Quantity
		}
		if available < line.Quantity {
			return &InsufficientStockError{ProductID: line.ProductID, Requested: line.Quantity, Available: available}
		}
	}

	for _, line := range merged {
		l.products[line.ProductID].level.Quantity -= line.Quantity
	}
	l.movements[key] = struct{}{}

	return nil
}

func (l *MemoryLedger) RestockForOrder(ctx context.Context, orderID uuid.UUID, lines []CartLine) error {
	merged, err := MergeLines(lines)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := movementKey{orderID: orderID, kind: MovementRestock}
	if _, done := l.movements[key]; done {
		return nil
	}
	if _, decremented := l.movements[movementKey{orderID: orderID, kind: MovementDecrement}]; !decremented {
		l.movements[key] = struct{}{}
		return nil
	}

	for _, line := range merged {
		if _, ok := l.products[line.ProductID]; !ok {
			return fmt.Errorf("ledger: restock product %s: %w", line.ProductID, ErrProductNotFound)
		}
	}
	for _, line := range merged {
		l.products[line.ProductID].level.Quantity += line.Quantity
	}
	l.movements[key] = struct{}{}

	return nil
}
