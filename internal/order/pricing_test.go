package order_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vasiliy-maslov/storefront-orders/internal/config"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
)

func TestPricing_Quote(t *testing.T) {
	pricing := order.NewPricing(config.DefaultStoreSettings())

	tests := []struct {
		name         string
		items        []order.OrderItem
		wantSubtotal string
		wantShipping string
		wantTax      string
		wantTotal    string
	}{
		{
			name: "flat_shipping_below_threshold",
			items: []order.OrderItem{
				{Quantity: 2, PriceAtPurchase: decimal.RequireFromString("20.00")},
				{Quantity: 1, PriceAtPurchase: decimal.RequireFromString("10.00")},
			},
			wantSubtotal: "50", wantShipping: "10", wantTax: "3.5", wantTotal: "63.5",
		},
		{
			name: "free_shipping_above_threshold",
			items: []order.OrderItem{
				{Quantity: 3, PriceAtPurchase: decimal.RequireFromString("50.00")},
			},
			wantSubtotal: "150", wantShipping: "0", wantTax: "10.5", wantTotal: "160.5",
		},
		{
			name: "threshold_itself_pays_shipping",
			items: []order.OrderItem{
				{Quantity: 1, PriceAtPurchase: decimal.RequireFromString("100.00")},
			},
			wantSubtotal: "100", wantShipping: "10", wantTax: "7", wantTotal: "117",
		},
		{
			name: "tax_rounds_to_cents",
			items: []order.OrderItem{
				{Quantity: 1, PriceAtPurchase: decimal.RequireFromString("9.99")},
			},
			wantSubtotal: "9.99", wantShipping: "10", wantTax: "0.7", wantTotal: "20.69",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote := pricing.Quote(tt.items)

			assert.True(t, quote.Subtotal.Equal(decimal.RequireFromString(tt.wantSubtotal)), "subtotal %s", quote.Subtotal)
			assert.True(t, quote.Shipping.Equal(decimal.RequireFromString(tt.wantShipping)), "shipping %s", quote.Shipping)
			assert.True(t, quote.Tax.Equal(decimal.RequireFromString(tt.wantTax)), "tax %s", quote.Tax)
			assert.True(t, quote.Total.Equal(decimal.RequireFromString(tt.wantTotal)), "total %s", quote.Total)
		})
	}
}
