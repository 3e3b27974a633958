package discount

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
)

type CreateInput struct {
	Code               string
	Type               Type
	Value              decimal.Decimal
	ValidFrom          time.Time
	ValidTo            time.Time
	MinimumOrderAmount decimal.Decimal
	ApplicableStoreID  *string
	Description        string
	UsageLimit         int
	CreatedBy          string
}

// UpdateInput changes only the fields that are non-nil. Setting
// ApplicableStoreID to an empty string makes the discount marketplace wide.
type UpdateInput struct {
	Code               *string
	Type               *Type
	Value              *decimal.Decimal
	ValidFrom          *time.Time
	ValidTo            *time.Time
	MinimumOrderAmount *decimal.Decimal
	ApplicableStoreID  *string
	Description        *string
	IsActive           *bool
	UsageLimit         *int
	UpdatedBy          string
}

// Service is the administrative side of discounts.
type Service struct {
	store  Store
	exec   *retry.Executor
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, exec *retry.Executor, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		exec:   exec,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Discount, error) {
	code := NormalizeCode(in.Code)
	if code == "" {
		return nil, apperr.Validation("discount code is required")
	}
	if err := ValidateValue(in.Type, in.Value); err != nil {
		return nil, err
	}
	if err := ValidateDateRange(in.ValidFrom, in.ValidTo, s.now()); err != nil {
		return nil, err
	}
	if in.MinimumOrderAmount.IsNegative() {
		return nil, apperr.Validation("minimum order amount cannot be negative")
	}
	if in.UsageLimit < 0 {
		return nil, apperr.Validation("usage limit cannot be negative")
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return nil, apperr.Validation("created by is required")
	}

	exists, err := s.store.CodeExists(ctx, code, "")
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateCode
	}

	limit := in.UsageLimit
	if limit == 0 {
		limit = 1
	}
	now := s.now()
	d := &Discount{
		ID:                 uuid.NewString(),
		Code:               code,
		Type:               in.Type,
		Value:              in.Value,
		ValidFrom:          in.ValidFrom.UTC(),
		ValidTo:            in.ValidTo.UTC(),
		MinimumOrderAmount: in.MinimumOrderAmount,
		ApplicableStoreID:  storeScope(in.ApplicableStoreID),
		Description:        in.Description,
		IsActive:           true,
		UsageLimit:         limit,
		CreatedBy:          in.CreatedBy,
		UpdatedBy:          in.CreatedBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}

	logging.Info(ctx, s.logger, "discount created", zap.String("discount_id", d.ID), zap.String("code", d.Code))
	return d, nil
}

// Update applies in to the discount, re-reading and re-validating it on every
// attempt so concurrent edits never overwrite each other silently.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Discount, error) {
	if strings.TrimSpace(in.UpdatedBy) == "" {
		return nil, apperr.Validation("updated by is required")
	}

	return retry.Do(ctx, s.exec, "update_discount", func(ctx context.Context) (*Discount, error) {
		d, err := s.store.GetByID(ctx, id, false)
		if err != nil {
			return nil, err
		}
		now := s.now()

		if in.Code != nil {
			code := NormalizeCode(*in.Code)
			if code == "" {
				return nil, apperr.Validation("discount code is required")
			}
			if code != d.Code {
				exists, err := s.store.CodeExists(ctx, code, d.ID)
				if err != nil {
					return nil, err
				}
				if exists {
					return nil, ErrDuplicateCode
				}
				d.Code = code
			}
		}
		if in.Type != nil {
			d.Type = *in.Type
		}
		if in.Value != nil {
			d.Value = *in.Value
		}
		if in.Type != nil || in.Value != nil {
			if err := ValidateValue(d.Type, d.Value); err != nil {
				return nil, err
			}
		}

		if in.ValidFrom != nil || in.ValidTo != nil {
			from, to := d.ValidFrom, d.ValidTo
			if in.ValidFrom != nil {
				from = in.ValidFrom.UTC()
			}
			if in.ValidTo != nil {
				to = in.ValidTo.UTC()
			}
			// an unchanged start that already passed is not re-checked
			check := now
			if in.ValidFrom == nil {
				check = from
			}
			if err := ValidateDateRange(from, to, check); err != nil {
				return nil, err
			}
			d.ValidFrom, d.ValidTo = from, to
		}

		if in.MinimumOrderAmount != nil {
			if in.MinimumOrderAmount.IsNegative() {
				return nil, apperr.Validation("minimum order amount cannot be negative")
			}
			d.MinimumOrderAmount = *in.MinimumOrderAmount
		}
		if in.ApplicableStoreID != nil {
			d.ApplicableStoreID = storeScope(in.ApplicableStoreID)
		}
		if in.Description != nil {
			d.Description = *in.Description
		}
		if in.IsActive != nil {
			d.IsActive = *in.IsActive
		}
		if in.UsageLimit != nil {
			if *in.UsageLimit <= 0 {
				return nil, apperr.Validation("usage limit must be positive")
			}
			d.UsageLimit = *in.UsageLimit
			d.IsUsed = d.UsageCount >= d.UsageLimit
		}
		d.UpdatedBy = in.UpdatedBy
		d.UpdatedAt = now

		if err := s.store.Update(ctx, d); err != nil {
			return nil, err
		}
		return d, nil
	})
}

func (s *Service) Delete(ctx context.Context, id, deletedBy, reason string) error {
	if strings.TrimSpace(deletedBy) == "" {
		return apperr.Validation("deleted by is required")
	}
	return s.exec.ExecuteWithRetry(ctx, "delete_discount", func(ctx context.Context) error {
		d, err := s.store.GetByID(ctx, id, false)
		if err != nil {
			return err
		}
		now := s.now()
		d.Deleted = true
		d.DeletedAt = &now
		d.DeletedBy = deletedBy
		d.DeleteReason = reason
		d.IsActive = false
		return s.store.SoftDelete(ctx, d)
	})
}

func (s *Service) Get(ctx context.Context, id string) (*Discount, error) {
	return s.store.GetByID(ctx, id, false)
}

func (s *Service) GetByCode(ctx context.Context, code string) (*Discount, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, apperr.Validation("discount code is required")
	}
	return s.store.GetByCode(ctx, code)
}

func (s *Service) GetByStore(ctx context.Context, storeID string) ([]Discount, error) {
	if strings.TrimSpace(storeID) == "" {
		return nil, apperr.Validation("store id is required")
	}
	return s.store.ListByStore(ctx, storeID)
}

func (s *Service) ListValidBetween(ctx context.Context, from, to time.Time) ([]Discount, error) {
	if to.Before(from) {
		return nil, apperr.Validation("range end is before its start")
	}
	return s.store.ListValidBetween(ctx, from, to)
}

func storeScope(id *string) *string {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil
	}
	v := strings.TrimSpace(*id)
	return &v
}
