package discount

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
)

var tracer = otel.Tracer("marketplace-pricing/discount")

type Result struct {
	Valid    bool
	Discount *Discount
	Reason   string
}

// CodeError is the outcome of one rejected code in ValidateMultiple.
type CodeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MultiResult struct {
	Valid  []Discount
	Errors []CodeError
}

// Rejected returns the first rejection as a *RejectedError, or nil.
func (r MultiResult) Rejected() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &RejectedError{Code: r.Errors[0].Code, Reason: r.Errors[0].Message}
}

type Validator struct {
	store  Store
	exec   *retry.Executor
	logger *zap.Logger
	now    func() time.Time
}

func NewValidator(store Store, exec *retry.Executor, logger *zap.Logger) *Validator {
	return &Validator{
		store:  store,
		exec:   exec,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func validateOrder(subtotal decimal.Decimal, storeIDs []string) error {
	if !subtotal.IsPositive() {
		return apperr.Validation("order subtotal must be positive, got %s", subtotal)
	}
	if len(storeIDs) == 0 {
		return apperr.Validation("at least one store id is required")
	}
	return nil
}

func (v *Validator) ValidateCode(ctx context.Context, code string, subtotal decimal.Decimal, storeIDs []string) (Result, error) {
	code = NormalizeCode(code)
	ctx, span := tracer.Start(ctx, "discount.ValidateCode", trace.WithAttributes(attribute.String("code", code)))
	defer span.End()

	if code == "" {
		return Result{}, apperr.Validation("discount code is required")
	}
	if err := validateOrder(subtotal, storeIDs); err != nil {
		return Result{}, err
	}
	return v.validate(ctx, code, subtotal, storeIDs)
}

func (v *Validator) validate(ctx context.Context, code string, subtotal decimal.Decimal, storeIDs []string) (Result, error) {
	d, err := v.store.GetByCode(ctx, code)
	if errors.Is(err, apperr.ErrNotFound) {
		return Result{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if reason := check(d, subtotal, storeIDs, v.now()); reason != "" {
		logging.Debug(ctx, v.logger, "discount rejected", zap.String("code", code), zap.String("reason", reason))
		return Result{Reason: reason}, nil
	}
	return Result{Valid: true, Discount: d}, nil
}

// ValidateMultiple validates every code against the same pre-discount
// subtotal. A failure on one code is reported against that code and does not
// stop the others.
func (v *Validator) ValidateMultiple(ctx context.Context, codes []string, subtotal decimal.Decimal, storeIDs []string) (MultiResult, error) {
	ctx, span := tracer.Start(ctx, "discount.ValidateMultiple", trace.WithAttributes(attribute.Int("codes", len(codes))))
	defer span.End()

	var out MultiResult
	if len(codes) == 0 {
		return out, nil
	}
	if err := validateOrder(subtotal, storeIDs); err != nil {
		return out, err
	}

	seen := make(map[string]bool, len(codes))
	for _, raw := range codes {
		code := NormalizeCode(raw)
		switch {
		case code == "":
			out.Errors = append(out.Errors, CodeError{Code: raw, Message: "discount code is required"})
			continue
		case seen[code]:
			out.Errors = append(out.Errors, CodeError{Code: code, Message: ReasonDuplicate})
			continue
		}
		seen[code] = true

		res, err := v.validate(ctx, code, subtotal, storeIDs)
		switch {
		case err != nil:
			logging.Warn(ctx, v.logger, "discount validation failed", zap.String("code", code), zap.Error(err))
			out.Errors = append(out.Errors, CodeError{Code: code, Message: err.Error()})
		case !res.Valid:
			out.Errors = append(out.Errors, CodeError{Code: code, Message: res.Reason})
		default:
			out.Valid = append(out.Valid, *res.Discount)
		}
	}
	return out, nil
}

// MarkUsed records one redemption of the discount. Once UsageCount reaches
// UsageLimit the discount is flagged used and further calls fail with a
// *RejectedError, so concurrent redemptions of a single-use code succeed once.
func (v *Validator) MarkUsed(ctx context.Context, discountID string) error {
	ctx, span := tracer.Start(ctx, "discount.MarkUsed", trace.WithAttributes(attribute.String("discount_id", discountID)))
	defer span.End()

	if strings.TrimSpace(discountID) == "" {
		return apperr.Validation("discount id is required")
	}

	err := v.exec.ExecuteWithRetry(ctx, "mark_discount_used", func(ctx context.Context) error {
		d, err := v.store.GetByID(ctx, discountID, false)
		if err != nil {
			return err
		}
		if d.IsUsed {
			return &RejectedError{Code: d.Code, Reason: ReasonAlreadyUsed}
		}
		d.UsageCount++
		limit := d.UsageLimit
		if limit <= 0 {
			limit = 1
		}
		if d.UsageCount >= limit {
			d.IsUsed = true
		}
		d.UpdatedAt = v.now()
		return v.store.MarkUsed(ctx, d)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	logging.Info(ctx, v.logger, "discount redeemed", zap.String("discount_id", discountID))
	return nil
}

// ReleaseUsage gives back one redemption recorded by MarkUsed, for an order
// that was rolled back before it completed. A discount with no recorded
// usage is left alone.
func (v *Validator) ReleaseUsage(ctx context.Context, discountID string) error {
	ctx, span := tracer.Start(ctx, "discount.ReleaseUsage", trace.WithAttributes(attribute.String("discount_id", discountID)))
	defer span.End()

	if strings.TrimSpace(discountID) == "" {
		return apperr.Validation("discount id is required")
	}

	err := v.exec.ExecuteWithRetry(ctx, "release_discount_usage", func(ctx context.Context) error {
		d, err := v.store.GetByID(ctx, discountID, false)
		if err != nil {
			return err
		}
		if d.UsageCount == 0 {
			return nil
		}
		d.UsageCount--
		limit := d.UsageLimit
		if limit <= 0 {
			limit = 1
		}
		d.IsUsed = d.UsageCount >= limit
		d.UpdatedAt = v.now()
		return v.store.MarkUsed(ctx, d)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	logging.Info(ctx, v.logger, "discount redemption released", zap.String("discount_id", discountID))
	return nil
}
