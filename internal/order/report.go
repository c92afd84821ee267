package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

type ListFilter struct {
	Status      Status
	StockStatus StockStatus
	UserID      uuid.UUID
	Page        int
	Limit       int
}

func (f *ListFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

type OrderPage struct {
	Orders     []Order `json:"orders"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
}

type Stats struct {
	TotalOrders   int             `json:"total_orders" db:"total_orders"`
	TodayOrders   int             `json:"today_orders" db:"today_orders"`
	OpenOrders    int             `json:"open_orders" db:"open_orders"`
	AwaitingStock int             `json:"awaiting_stock" db:"awaiting_stock"`
	PaidRevenue   decimal.Decimal `json:"paid_revenue" db:"paid_revenue"`
	TodayRevenue  decimal.Decimal `json:"today_revenue" db:"today_revenue"`
}

// Reporter serves the read-only admin views over orders.
type Reporter interface {
	ListOrders(ctx context.Context, filter ListFilter) (*OrderPage, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
}

type sqlxReporter struct {
	db *sqlx.DB
}

func NewReporter(db *sqlx.DB) Reporter {
	return &sqlxReporter{db: db}
}

func (r *sqlxReporter) ListOrders(ctx context.Context, filter ListFilter) (*OrderPage, error) {
	filter.normalize()

	var (
		conditions []string
		args       []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.StockStatus != "" {
		args = append(args, string(filter.StockStatus))
		conditions = append(conditions, fmt.Sprintf("stock_status = $%d", len(args)))
	}
	if filter.UserID != uuid.Nil {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM orders`+where, args...); err != nil {
		return nil, fmt.Errorf("report: failed to count orders: %w", err)
	}

	page := &OrderPage{
		Orders: []Order{},
		Page:   filter.Page,
		Limit:  filter.Limit,
		Total:  total,
	}
	page.TotalPages = (total + filter.Limit - 1) / filter.Limit

	if total == 0 {
		return page, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)

	if err := r.db.SelectContext(ctx, &page.Orders, query, args...); err != nil {
		return nil, fmt.Errorf("report: failed to select orders: %w", err)
	}

	if err := r.attachItems(ctx, page.Orders); err != nil {
		return nil, err
	}
	return page, nil
}

func (r *sqlxReporter) attachItems(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(orders))
	index := make(map[uuid.UUID]int, len(orders))
	for i := range orders {
		ids = append(ids, orders[i].ID)
		index[orders[i].ID] = i
		orders[i].Items = make([]OrderItem, 0)
	}

	var items []OrderItem
	query := `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = ANY($1) ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &items, query, ids); err != nil {
		return fmt.Errorf("report: failed to select order items: %w", err)
	}

	for _, item := range items {
		if i, ok := index[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	return nil
}

// Stats counts placed orders only. Revenue is the total of paid orders that
// were not canceled. "Today" starts at midnight UTC of now.
func (r *sqlxReporter) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	startOfDay := now.UTC().Truncate(24 * time.Hour)

	query := `
		SELECT
			COUNT(*) FILTER (WHERE stock_status IN ('reserved', 'released')) AS total_orders,
			COUNT(*) FILTER (WHERE stock_status IN ('reserved', 'released') AND created_at >= $1) AS today_orders,
			COUNT(*) FILTER (WHERE stock_status = 'reserved' AND status IN ('pending', 'processing')) AS open_orders,
			COUNT(*) FILTER (WHERE stock_status = 'awaiting') AS awaiting_stock,
			COALESCE(SUM(total_amount) FILTER (
				WHERE stock_status = 'reserved' AND payment_status = 'paid' AND status <> 'canceled'
			), 0) AS paid_revenue,
			COALESCE(SUM(total_amount) FILTER (
				WHERE stock_status = 'reserved' AND payment_status = 'paid' AND status <> 'canceled' AND created_at >= $1
			), 0) AS today_revenue
		FROM orders
	`

	var stats Stats
	if err := r.db.GetContext(ctx, &stats, query, startOfDay); err != nil {
		return nil, fmt.Errorf("report: failed to compute order stats: %w", err)
	}
	return &stats, nil
}
