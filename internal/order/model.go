package order

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/storefront-orders/internal/inventory"
	"github.com/vasiliy-maslov/storefront-orders/internal/payment"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipping   Status = "shipping"
	StatusDelivered  Status = "delivered"
	StatusCanceled   Status = "canceled"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCanceled
}

// StockStatus tracks whether the ledger holds stock for the order.
type StockStatus string

const (
	// StockAwaiting: persisted, decrement not confirmed yet.
	StockAwaiting StockStatus = "awaiting"
	// StockReserved: decrement applied.
	StockReserved StockStatus = "reserved"
	// StockFailed: decrement refused, the order was never placed.
	StockFailed StockStatus = "failed"
	// StockReleased: the order no longer holds stock.
	StockReleased StockStatus = "released"
)

func (s StockStatus) String() string {
	return string(s)
}

type ShippingAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a ShippingAddress) Validate() error {
	var missing []string
	if strings.TrimSpace(a.Street) == "" {
		missing = append(missing, "street")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		missing = append(missing, "postal_code")
	}
	if strings.TrimSpace(a.Country) == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return fmt.Errorf("shipping address is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Value stores the address as JSON.
func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *ShippingAddress) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	case nil:
		*a = ShippingAddress{}
		return nil
	default:
		return errors.New("shipping address: unsupported source type")
	}
}

// OrderItem is written once together with its order. PriceAtPurchase is the
// product price read during checkout and is never updated.
type OrderItem struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	OrderID         uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID       uuid.UUID       `json:"product_id" db:"product_id"`
	Quantity        int             `json:"quantity" db:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase" db:"price_at_purchase"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.PriceAtPurchase.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	Status          Status          `json:"status" db:"status"`
	StockStatus     StockStatus     `json:"stock_status" db:"stock_status"`
	PaymentMethod   payment.Method  `json:"payment_method" db:"payment_method"`
	PaymentStatus   payment.Status  `json:"payment_status" db:"payment_status"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	Subtotal        decimal.Decimal `json:"subtotal" db:"subtotal"`
	ShippingCost    decimal.Decimal `json:"shipping_cost" db:"shipping_cost"`
	TaxAmount       decimal.Decimal `json:"tax_amount" db:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount" db:"total_amount"`
	ShippingAddress ShippingAddress `json:"shipping_address" db:"shipping_address"`
	Items           []OrderItem     `json:"items" db:"-"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Number is the customer facing order reference, e.g. ORD-1A2B3C4D.
func (o *Order) Number() string {
	return "ORD-" + strings.ToUpper(o.ID.String()[:8])
}

// Lines converts the items back to ledger lines.
func (o *Order) Lines() []inventory.CartLine {
	lines := make([]inventory.CartLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, inventory.CartLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func (o *Order) ItemsSubtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	return subtotal
}

// Visible reports whether the order shows up in customer listings.
func (o *Order) Visible() bool {
	return o.StockStatus == StockReserved || o.StockStatus == StockReleased
}
