package orders

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/discount"
	"github.com/ariefcatur/marketplace-pricing/internal/inventory"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/shipping"
)

var tracer = otel.Tracer("marketplace-pricing/orders")

type Stock interface {
	CheckAvailability(ctx context.Context, lines []inventory.Line) (map[string]inventory.Product, error)
	ReserveAll(ctx context.Context, customerID string, lines []inventory.Line, ttl time.Duration, externalRef string) ([]inventory.Reservation, error)
}

type ShippingQuoter interface {
	Quote(ctx context.Context, city, country, storeID string) (shipping.Quote, error)
}

type DiscountChecker interface {
	ValidateMultiple(ctx context.Context, codes []string, subtotal decimal.Decimal, storeIDs []string) (discount.MultiResult, error)
}

// Calculator prices customer orders: stock check, subtotal, shipping per
// seller, discounts against the pre-discount subtotal, total.
type Calculator struct {
	stock     Stock
	shipping  ShippingQuoter
	discounts DiscountChecker
	logger    *zap.Logger
}

func NewCalculator(stock Stock, ship ShippingQuoter, discounts DiscountChecker, logger *zap.Logger) *Calculator {
	return &Calculator{stock: stock, shipping: ship, discounts: discounts, logger: logger}
}

// Calculate prices req without touching stock. Any shortage, unsupported
// destination or rejected discount code fails the whole calculation.
func (c *Calculator) Calculate(ctx context.Context, req PriceRequest) (*TotalCalculation, error) {
	ctx, span := tracer.Start(ctx, "orders.Calculate", trace.WithAttributes(
		attribute.String("customer_id", req.CustomerID),
		attribute.Int("items", len(req.Items)),
		attribute.Int("codes", len(req.DiscountCodes)),
	))
	defer span.End()

	calc, err := c.calculate(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return calc, nil
}

// CalculateAndHold prices req and then places a hold per product. Holds are
// only attempted once everything else validated; if one loses a race the
// holds already placed are released.
func (c *Calculator) CalculateAndHold(ctx context.Context, req PriceRequest, ttl time.Duration, externalRef string) (*TotalCalculation, []inventory.Reservation, error) {
	ctx, span := tracer.Start(ctx, "orders.CalculateAndHold")
	defer span.End()

	calc, err := c.calculate(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	holds, err := c.stock.ReserveAll(ctx, req.CustomerID, toLines(req.Items), ttl, externalRef)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	return calc, holds, nil
}

func (c *Calculator) calculate(ctx context.Context, req PriceRequest) (*TotalCalculation, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// 1. stock
	products, err := c.stock.CheckAvailability(ctx, toLines(req.Items))
	if err != nil {
		return nil, err
	}

	// 2. subtotal
	calc := &TotalCalculation{Subtotal: decimal.Zero, ShippingCost: decimal.Zero, DiscountAmount: decimal.Zero}
	var sellers []string
	seen := map[string]bool{}
	for _, it := range req.Items {
		p := products[it.ProductID]
		line := PricedLine{
			ProductID: p.ID,
			SellerID:  p.SellerID,
			Qty:       it.Qty,
			UnitPrice: p.UnitPrice,
			LineTotal: p.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))),
		}
		calc.Lines = append(calc.Lines, line)
		calc.Subtotal = calc.Subtotal.Add(line.LineTotal)
		if !seen[p.SellerID] {
			seen[p.SellerID] = true
			sellers = append(sellers, p.SellerID)
		}
	}

	// 3. shipping, once per seller
	for _, seller := range sellers {
		q, err := c.shipping.Quote(ctx, req.City, req.Country, seller)
		if err != nil {
			return nil, err
		}
		calc.Shipping = append(calc.Shipping, q)
		calc.ShippingCost = calc.ShippingCost.Add(q.Fee)
	}

	// 4. discounts, each against the same pre-discount subtotal
	if len(req.DiscountCodes) > 0 {
		res, err := c.discounts.ValidateMultiple(ctx, req.DiscountCodes, calc.Subtotal, sellers)
		if err != nil {
			return nil, err
		}
		if err := res.Rejected(); err != nil {
			return nil, err
		}
		for _, d := range res.Valid {
			amount := discount.Amount(d, calc.Subtotal)
			calc.DiscountAmount = calc.DiscountAmount.Add(amount)
			calc.AppliedDiscounts = append(calc.AppliedDiscounts, discount.Applied{Code: d.Code, Type: d.Type, Amount: amount})
			calc.discountIDs = append(calc.discountIDs, d.ID)
		}
	}

	// discounts never take more than the goods are worth
	if calc.DiscountAmount.GreaterThan(calc.Subtotal) {
		logging.Info(ctx, c.logger, "discount clamped to subtotal",
			zap.String("discount", calc.DiscountAmount.StringFixed(2)),
			zap.String("subtotal", calc.Subtotal.StringFixed(2)),
		)
		calc.DiscountAmount = calc.Subtotal
	}

	// 5. total
	calc.Total = calc.Subtotal.Sub(calc.DiscountAmount).Add(calc.ShippingCost)
	return calc, nil
}

func validateRequest(req PriceRequest) error {
	if strings.TrimSpace(req.CustomerID) == "" {
		return apperr.Validation("customer id is required")
	}
	if len(req.Items) == 0 {
		return apperr.Validation("order has no items")
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return apperr.Validation("item %d: product id is required", i)
		}
		if it.Qty <= 0 {
			return apperr.Validation("item %d: quantity must be positive", i)
		}
	}
	return nil
}

func toLines(items []ItemInput) []inventory.Line {
	lines := make([]inventory.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Qty})
	}
	return lines
}
