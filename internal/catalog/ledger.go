package catalog

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-orders/internal/inventory"
)

// CacheInvalidatingLedger drops cached products after every stock mutation
// the wrapped ledger confirms, so product reads see the new quantity.
type CacheInvalidatingLedger struct {
	ledger inventory.Ledger
	cache  Cache
}

func NewCacheInvalidatingLedger(ledger inventory.Ledger, cache Cache) *CacheInvalidatingLedger {
	if cache == nil {
		cache = NoopCache{}
	}
	return &CacheInvalidatingLedger{ledger: ledger, cache: cache}
}

func (l *CacheInvalidatingLedger) ReadStock(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]inventory.StockLevel, error) {
	return l.ledger.ReadStock(ctx, productIDs)
}

func (l *CacheInvalidatingLedger) DecrementForOrder(ctx context.Context, orderID uuid.UUID, lines []inventory.CartLine) error {
	if err := l.ledger.DecrementForOrder(ctx, orderID, lines); err != nil {
		return err
	}
	l.invalidate(ctx, lines)
	return nil
}

func (l *CacheInvalidatingLedger) RestockForOrder(ctx context.Context, orderID uuid.UUID, lines []inventory.CartLine) error {
	if err := l.ledger.RestockForOrder(ctx, orderID, lines); err != nil {
		return err
	}
	l.invalidate(ctx, lines)
	return nil
}

func (l *CacheInvalidatingLedger) invalidate(ctx context.Context, lines []inventory.CartLine) {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		if err := l.cache.Delete(ctx, line.ProductID); err != nil {
			log.Warn().Err(err).Stringer("product_id", line.ProductID).Msg("ledger cache: failed to invalidate product")
		}
	}
}
