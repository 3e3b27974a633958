package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/marketplace-pricing/internal/discount"
	"github.com/ariefcatur/marketplace-pricing/internal/shipping"
)

type Source string

const (
	SourceCustomer Source = "customer"
	SourceAdmin    Source = "admin"
)

// PaymentCashOnDelivery is the only settlement method; payment happens
// outside this service.
const PaymentCashOnDelivery = "CashOnDelivery"

type Order struct {
	ID              string      `json:"id"`
	ExternalID      string      `json:"external_id,omitempty"`
	CustomerID      string      `json:"customer_id"`
	Status          Status      `json:"status"`
	Source          Source      `json:"source"`
	PaymentMethod   string      `json:"payment_method"`
	ShippingCity    string      `json:"shipping_city"`
	ShippingCountry string      `json:"shipping_country"`
	Items           []OrderItem `json:"items"`

	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Total          decimal.Decimal `json:"total"`
	// DiscountCodes and DiscountTypes are parallel lists of what was applied.
	DiscountCodes []string `json:"discount_codes,omitempty"`
	DiscountTypes []string `json:"discount_types,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

type OrderItem struct {
	ProductID string          `json:"product_id"`
	SellerID  string          `json:"seller_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Qty)))
}

type ItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"required,gt=0"`
}

// PriceRequest is everything needed to price a customer order.
type PriceRequest struct {
	CustomerID    string
	Items         []ItemInput
	City          string
	Country       string
	DiscountCodes []string
}

type PricedLine struct {
	ProductID string          `json:"product_id"`
	SellerID  string          `json:"seller_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// TotalCalculation is the result of pricing. It is copied onto an Order and
// never stored by itself.
type TotalCalculation struct {
	Subtotal         decimal.Decimal    `json:"subtotal"`
	DiscountAmount   decimal.Decimal    `json:"discount_amount"`
	ShippingCost     decimal.Decimal    `json:"shipping_cost"`
	Total            decimal.Decimal    `json:"total"`
	AppliedDiscounts []discount.Applied `json:"applied_discounts"`
	Lines            []PricedLine       `json:"lines"`
	Shipping         []shipping.Quote   `json:"shipping"`

	discountIDs []string
}

// Descriptors renders the applied discounts for display, e.g. "SAVE10 (Percentage)".
func (c *TotalCalculation) Descriptors() []string {
	out := make([]string, 0, len(c.AppliedDiscounts))
	for _, a := range c.AppliedDiscounts {
		out = append(out, a.String())
	}
	return out
}
