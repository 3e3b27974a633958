package discount

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
)

type Type string

const (
	TypePercentage  Type = "Percentage"
	TypeFixedAmount Type = "FixedAmount"
)

// MaxWindow is the longest allowed distance between ValidFrom and ValidTo.
const MaxWindow = 730 * 24 * time.Hour

var (
	ErrInvalidDiscount = fmt.Errorf("%w: discount cannot be applied", apperr.ErrBusinessRule)
	ErrDuplicateCode   = fmt.Errorf("%w: discount code already exists", apperr.ErrBusinessRule)
)

const (
	ReasonNotFound     = "discount code not found"
	ReasonInactive     = "discount is not active"
	ReasonNotStarted   = "discount is not valid yet"
	ReasonExpired      = "discount has expired"
	ReasonBelowMinimum = "order subtotal is below the discount minimum"
	ReasonStoreScope   = "discount does not apply to the stores in this order"
	ReasonAlreadyUsed  = "discount has already been used"
	ReasonDuplicate    = "discount code submitted more than once"
)

type Discount struct {
	ID                 string          `json:"id"`
	Code               string          `json:"code"`
	Type               Type            `json:"type"`
	Value              decimal.Decimal `json:"value"`
	ValidFrom          time.Time       `json:"valid_from"`
	ValidTo            time.Time       `json:"valid_to"`
	MinimumOrderAmount decimal.Decimal `json:"minimum_order_amount"`
	ApplicableStoreID  *string         `json:"applicable_store_id,omitempty"`
	Description        string          `json:"description,omitempty"`
	IsActive           bool            `json:"is_active"`
	IsUsed             bool            `json:"is_used"`
	UsageCount         int             `json:"usage_count"`
	UsageLimit         int             `json:"usage_limit"`
	CreatedBy          string          `json:"created_by"`
	UpdatedBy          string          `json:"updated_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	Deleted      bool       `json:"deleted,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeletedBy    string     `json:"deleted_by,omitempty"`
	DeleteReason string     `json:"delete_reason,omitempty"`

	Version int64 `json:"version"`
}

// Applied describes a discount that made it into a price calculation.
type Applied struct {
	Code   string          `json:"code"`
	Type   Type            `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

func (a Applied) String() string {
	return fmt.Sprintf("%s (%s)", a.Code, a.Type)
}

// RejectedError explains why a specific code could not be applied.
type RejectedError struct {
	Code   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidDiscount.Error(), e.Code, e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrInvalidDiscount }

// NormalizeCode trims and upper-cases a code. Codes are compared in this form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "percentage":
		return TypePercentage, nil
	case "fixedamount", "fixed_amount", "fixed":
		return TypeFixedAmount, nil
	}
	return "", apperr.Validation("unknown discount type %q", s)
}

var hundred = decimal.NewFromInt(100)

// ValidateValue checks value against the rules of t: percentages must lie in
// (0, 100], fixed amounts must be positive.
func ValidateValue(t Type, value decimal.Decimal) error {
	switch t {
	case TypePercentage:
		if !value.IsPositive() || value.GreaterThan(hundred) {
			return apperr.Validation("percentage value must be in (0, 100], got %s", value)
		}
	case TypeFixedAmount:
		if !value.IsPositive() {
			return apperr.Validation("fixed amount must be positive, got %s", value)
		}
	default:
		return apperr.Validation("unknown discount type %q", t)
	}
	return nil
}

// ValidateDateRange rejects a start in the past, an end not after the start
// and windows longer than MaxWindow.
func ValidateDateRange(from, to, now time.Time) error {
	if from.Before(now) {
		return apperr.Validation("valid from %s is in the past", from.Format(time.RFC3339))
	}
	if !to.After(from) {
		return apperr.Validation("valid to must be after valid from")
	}
	if to.Sub(from) > MaxWindow {
		return apperr.Validation("validity window exceeds %d days", int(MaxWindow.Hours()/24))
	}
	return nil
}

// Amount is what d takes off subtotal, rounded to cents. Fixed amounts are
// returned as-is even when larger than subtotal.
func Amount(d Discount, subtotal decimal.Decimal) decimal.Decimal {
	switch d.Type {
	case TypePercentage:
		return subtotal.Mul(d.Value).Div(hundred).Round(2)
	case TypeFixedAmount:
		return d.Value.Round(2)
	}
	return decimal.Zero
}

// check returns the rejection reason for d against an order, or "".
func check(d *Discount, subtotal decimal.Decimal, storeIDs []string, now time.Time) string {
	switch {
	case !d.IsActive:
		return ReasonInactive
	case now.Before(d.ValidFrom):
		return ReasonNotStarted
	case now.After(d.ValidTo):
		return ReasonExpired
	case d.IsUsed:
		return ReasonAlreadyUsed
	case subtotal.LessThan(d.MinimumOrderAmount):
		return ReasonBelowMinimum
	}
	if d.ApplicableStoreID != nil {
		for _, id := range storeIDs {
			if id == *d.ApplicableStoreID {
				return ""
			}
		}
		return ReasonStoreScope
	}
	return ""
}
