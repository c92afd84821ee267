package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-orders/internal/db"
)

// PostgresLedger keeps stock in the products table. Every mutation runs as
// a conditional UPDATE inside one transaction together with its
// stock_movements row, which doubles as the idempotency key.
type PostgresLedger struct {
	db *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: pool}
}

func (l *PostgresLedger) ReadStock(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]StockLevel, error) {
	levels := make(map[uuid.UUID]StockLevel, len(productIDs))
	if len(productIDs) == 0 {
		return levels, nil
	}

	query := `
		SELECT id, name, price, stock_quantity
		FROM products
		WHERE id = ANY($1) AND is_active
	`
	rows, err := l.db.Query(ctx, query, productIDs)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to query stock: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var level StockLevel
		if err := rows.Scan(&level.ProductID, &level.Name, &level.Price, &level.Quantity); err != nil {
			return nil, fmt.Errorf("ledger: failed to scan stock level: %w", err)
		}
		levels[level.ProductID] = level
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: failed iterating stock levels: %w", err)
	}

	return levels, nil
}

func (l *PostgresLedger) DecrementForOrder(ctx context.Context, orderID uuid.UUID, lines []CartLine) error {
	merged, err := MergeLines(lines)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	applied := false
	err = db.WithTx(ctx, l.db, func(tx pgx.Tx) error {
		if err := lockOrder(ctx, tx, orderID); err != nil {
			return err
		}

		recorded, err := recordMovement(ctx, tx, orderID, MovementDecrement)
		if err != nil {
			return err
		}
		if !recorded {
			return nil
		}

		released, err := hasMovement(ctx, tx, orderID, MovementRestock)
		if err != nil {
			return err
		}
		if released {
			return fmt.Errorf("ledger: order %s: %w", orderID, ErrOrderReleased)
		}

		query := `
			UPDATE products
			SET stock_quantity = stock_quantity - $2, updated_at = now()
			WHERE id = $1 AND is_active AND stock_quantity >= $2
		`
		for _, line := range sortedByProduct(merged) {
			tag, err := tx.Exec(ctx, query, line.ProductID, line.Quantity)
			if err != nil {
				return fmt.Errorf("ledger: failed to decrement stock for product %s: %w", line.ProductID, err)
			}
			if tag.RowsAffected() == 0 {
				available, err := availableQuantity(ctx, tx, line.ProductID)
				if err != nil {
					return err
				}
				return &InsufficientStockError{ProductID: line.ProductID, Requested: line.Quantity, Available: available}
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrOrderReleased) {
			log.Warn().Err(err).Stringer("order_id", orderID).Msg("ledger: decrement refused")
		} else {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("ledger: decrement failed")
		}
		return err
	}

	if !applied {
		log.Info().Stringer("order_id", orderID).Msg("ledger: decrement already applied for order, skipping")
		return nil
	}

	log.Info().Stringer("order_id", orderID).Int("lines", len(merged)).Msg("ledger: stock decremented for order")
	return nil
}

func (l *PostgresLedger) RestockForOrder(ctx context.Context, orderID uuid.UUID, lines []CartLine) error {
	merged, err := MergeLines(lines)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	applied := false
	err = db.WithTx(ctx, l.db, func(tx pgx.Tx) error {
		if err := lockOrder(ctx, tx, orderID); err != nil {
			return err
		}

		recorded, err := recordMovement(ctx, tx, orderID, MovementRestock)
		if err != nil {
			return err
		}
		if !recorded {
			return nil
		}

		// Without a decrement the restock row stays behind as a release marker.
		decremented, err := hasMovement(ctx, tx, orderID, MovementDecrement)
		if err != nil {
			return err
		}
		if !decremented {
			return nil
		}

		update := `
			UPDATE products
			SET stock_quantity = stock_quantity + $2, updated_at = now()
			WHERE id = $1
		`
		for _, line := range sortedByProduct(merged) {
			tag, err := tx.Exec(ctx, update, line.ProductID, line.Quantity)
			if err != nil {
				return fmt.Errorf("ledger: failed to restock product %s: %w", line.ProductID, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("ledger: restock product %s: %w", line.ProductID, ErrProductNotFound)
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("ledger: restock failed")
		return err
	}

	if !applied {
		log.Info().Stringer("order_id", orderID).Msg("ledger: nothing to restock for order, skipping")
		return nil
	}

	log.Info().Stringer("order_id", orderID).Int("lines", len(merged)).Msg("ledger: stock restored for order")
	return nil
}

// lockOrder serializes ledger transactions for one order until commit.
func lockOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, orderID.String()); err != nil {
		return fmt.Errorf("ledger: failed to lock order %s: %w", orderID, err)
	}
	return nil
}

func hasMovement(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, kind MovementKind) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE order_id = $1 AND kind = $2)`
	if err := tx.QueryRow(ctx, query, orderID, string(kind)).Scan(&exists); err != nil {
		return false, fmt.Errorf("ledger: failed to look up %s movement for order %s: %w", kind, orderID, err)
	}
	return exists, nil
}

// recordMovement reports whether the movement row was new.
func recordMovement(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, kind MovementKind) (bool, error) {
	query := `
		INSERT INTO stock_movements (order_id, kind)
		VALUES ($1, $2)
		ON CONFLICT (order_id, kind) DO NOTHING
	`
	tag, err := tx.Exec(ctx, query, orderID, string(kind))
	if err != nil {
		return false, fmt.Errorf("ledger: failed to record %s movement for order %s: %w", kind, orderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func availableQuantity(ctx context.Context, tx pgx.Tx, productID uuid.UUID) (int, error) {
	var quantity int
	err := tx.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1 AND is_active`, productID).Scan(&quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: failed to read stock for product %s: %w", productID, err)
	}
	return quantity, nil
}
