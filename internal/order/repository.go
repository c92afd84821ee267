package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-orders/internal/db"
	"github.com/vasiliy-maslov/storefront-orders/internal/payment"
)

// Repository persists orders. Items are written together with their order
// and are never updated afterwards.
type Repository interface {
	CreateOrder(ctx context.Context, order *Order) (uuid.UUID, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// GetOrdersByUserID returns the user's placed orders, newest first.
	// Orders whose stock was never confirmed are left out.
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListByStockStatus(ctx context.Context, stockStatus StockStatus) ([]Order, error)
	// UpdateOrderStatus and UpdateStockStatus only apply when the stored
	// value still equals from. Otherwise they return ErrStatusConflict.
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to Status) error
	UpdateStockStatus(ctx context.Context, orderID uuid.UUID, from, to StockStatus) error
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status payment.Status) error
}

const orderColumns = `id, user_id, status, stock_status, payment_method, payment_status, payment_intent_id,
	subtotal, shipping_cost, tax_amount, total_amount, shipping_address, created_at, updated_at`

const itemColumns = `id, order_id, product_id, quantity, price_at_purchase, created_at`

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreateOrder(ctx context.Context, order *Order) (uuid.UUID, error) {
	if order.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		order.ID = id
	}

	now := time.Now().UTC()

	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		queryOrder := `
			INSERT INTO orders (id, user_id, status, stock_status, payment_method, payment_status, payment_intent_id,
				subtotal, shipping_cost, tax_amount, total_amount, shipping_address, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		`
		_, err := tx.Exec(ctx, queryOrder,
			order.ID,
			order.UserID,
			string(order.Status),
			string(order.StockStatus),
			string(order.PaymentMethod),
			string(order.PaymentStatus),
			order.PaymentIntentID,
			order.Subtotal,
			order.ShippingCost,
			order.TaxAmount,
			order.TotalAmount,
			order.ShippingAddress,
			now,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}

		queryItem := `
			INSERT INTO order_items (id, order_id, product_id, quantity, price_at_purchase, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		for i := range order.Items {
			item := &order.Items[i]

			itemID, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", err)
			}
			item.ID = itemID
			item.OrderID = order.ID
			item.CreatedAt = now

			_, err = tx.Exec(ctx, queryItem,
				item.ID,
				item.OrderID,
				item.ProductID,
				item.Quantity,
				item.PriceAtPurchase,
				item.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("repository: failed to insert order item for order %s: %w", order.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id_attempted", order.ID).Msg("repository: transaction for CreateOrder failed")
		return uuid.Nil, err
	}

	order.CreatedAt = now
	order.UpdatedAt = now
	return order.ID, nil
}

func scanOrder(row pgx.Row, order *Order) error {
	return row.Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&order.StockStatus,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.PaymentIntentID,
		&order.Subtotal,
		&order.ShippingCost,
		&order.TaxAmount,
		&order.TotalAmount,
		&order.ShippingAddress,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
}

func scanItem(row pgx.Row, item *OrderItem) error {
	return row.Scan(
		&item.ID,
		&item.OrderID,
		&item.ProductID,
		&item.Quantity,
		&item.PriceAtPurchase,
		&item.CreatedAt,
	)
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	queryOrder := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var order Order
	if err := scanOrder(r.db.QueryRow(ctx, queryOrder, orderID), &order); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", orderID, err)
	}

	queryItems := `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, queryItems, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order id %s: %w", orderID, err)
	}
	defer rows.Close()

	order.Items = make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		if err := scanItem(rows, &item); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order id %s: %w", orderID, err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order id %s: %w", orderID, err)
	}

	return &order, nil
}

func (r *postgresRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1 AND stock_status IN ('reserved', 'released')
		ORDER BY created_at DESC, id
	`
	orders, err := r.listOrders(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list orders for user id %s: %w", userID, err)
	}
	return orders, nil
}

func (r *postgresRepository) ListByStockStatus(ctx context.Context, stockStatus StockStatus) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE stock_status = $1
		ORDER BY created_at, id
	`
	orders, err := r.listOrders(ctx, query, string(stockStatus))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list orders with stock status %s: %w", stockStatus, err)
	}
	return orders, nil
}

// listOrders runs an order query and attaches the items of all returned
// orders with a single batched query.
func (r *postgresRepository) listOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	orderRows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer orderRows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for orderRows.Next() {
		var order Order
		if err := scanOrder(orderRows, &order); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		order.Items = make([]OrderItem, 0)
		ordersMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}
	if err := orderRows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	queryItems := `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = ANY($1) ORDER BY created_at, id`
	itemRows, err := r.db.Query(ctx, queryItems, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item OrderItem
		if err := scanItem(itemRows, &item); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		if order, ok := ordersMap[item.OrderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating order items: %w", err)
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}
	return result, nil
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to Status) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	cmdTag, err := r.db.Exec(ctx, query, string(to), time.Now().UTC(), orderID, string(from))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", to).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %s: %w", orderID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, orderID)
	}
	return nil
}

func (r *postgresRepository) UpdateStockStatus(ctx context.Context, orderID uuid.UUID, from, to StockStatus) error {
	query := `
		UPDATE orders
		SET stock_status = $1, updated_at = $2
		WHERE id = $3 AND stock_status = $4
	`

	cmdTag, err := r.db.Exec(ctx, query, string(to), time.Now().UTC(), orderID, string(from))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("stock_status", to).Msg("repository: failed to update stock status")
		return fmt.Errorf("repository: failed to update stock status %s: %w", orderID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, orderID)
	}
	return nil
}

func (r *postgresRepository) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status payment.Status) error {
	query := `
		UPDATE orders
		SET payment_status = $1, updated_at = $2
		WHERE id = $3
	`

	cmdTag, err := r.db.Exec(ctx, query, string(status), time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to update payment status %s: %w", orderID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		log.Warn().Stringer("order_id", orderID).Msg("repository: order not found for payment status update")
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) missOrConflict(ctx context.Context, orderID uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("repository: failed to check order %s: %w", orderID, err)
	}
	if !exists {
		log.Warn().Stringer("order_id", orderID).Msg("repository: order not found for update")
		return ErrOrderNotFound
	}
	return ErrStatusConflict
}
