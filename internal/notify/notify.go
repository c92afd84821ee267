package notify

import (
	"context"
	"errors"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindOrderConfirmation Kind = "order-confirmation"
	KindAdminNewOrder     Kind = "admin-new-order"
	KindStatusUpdate      Kind = "status-update"
	KindLowStock          Kind = "low-stock"
)

func (k Kind) String() string {
	return string(k)
}

// RoutingKey is the topic used when the kind is published to a broker.
func (k Kind) RoutingKey() string {
	switch k {
	case KindOrderConfirmation:
		return "order.confirmation"
	case KindAdminNewOrder:
		return "order.admin_new"
	case KindStatusUpdate:
		return "order.status_update"
	case KindLowStock:
		return "product.low_stock"
	default:
		return "notification.unknown"
	}
}

var (
	ErrQueueFull = errors.New("notification queue is full")
	ErrClosed    = errors.New("notification dispatcher is closed")
)

// Dispatcher delivers notifications. Callers treat delivery as best effort:
// a returned error is logged and never undoes the operation that caused it.
type Dispatcher interface {
	Notify(ctx context.Context, kind Kind, payload any) error
}

type OrderEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	UserID        uuid.UUID       `json:"user_id"`
	Recipient     string          `json:"recipient,omitempty"`
	Status        string          `json:"status"`
	PreviousState string          `json:"previous_status,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PaymentStatus string          `json:"payment_status,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	ItemCount     int             `json:"item_count"`
}

type LowStockProduct struct {
	ProductID     uuid.UUID `json:"product_id"`
	Name          string    `json:"name"`
	StockQuantity int       `json:"stock_quantity"`
}

type LowStockEvent struct {
	Recipient string            `json:"recipient,omitempty"`
	Threshold int               `json:"threshold"`
	Products  []LowStockProduct `json:"products"`
}

// LogDispatcher writes notifications to the service log.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

func (d *LogDispatcher) Notify(_ context.Context, kind Kind, payload any) error {
	log.Info().Stringer("kind", kind).Interface("payload", payload).Msg("notify: notification sent")
	return nil
}

// Send hands a notification to d and logs a failure instead of returning it.
func Send(ctx context.Context, d Dispatcher, kind Kind, payload any) {
	if d == nil {
		return
	}
	if err := d.Notify(ctx, kind, payload); err != nil {
		log.Warn().Err(err).Stringer("kind", kind).Msg("notify: failed to send notification")
	}
}
