package discount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
)

const uniqueViolation = "23505"

const discountColumns = `id, code, type, value::text, valid_from, valid_to, minimum_order_amount::text,
	applicable_store_id, description, is_active, is_used, usage_count, usage_limit,
	created_by, updated_by, created_at, updated_at,
	is_deleted, deleted_at, COALESCE(deleted_by, ''), COALESCE(delete_reason, ''), version`

type DiscountRepo struct{ DB *pgxpool.Pool }

func (r *DiscountRepo) GetByCode(ctx context.Context, code string) (*Discount, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+discountColumns+`
		FROM discounts WHERE upper(code) = upper($1) AND NOT is_deleted`, NormalizeCode(code))
	d, err := scanDiscount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("discount", code)
	}
	return d, err
}

func (r *DiscountRepo) GetByID(ctx context.Context, id string, includeDeleted bool) (*Discount, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+discountColumns+`
		FROM discounts WHERE id = $1 AND ($2 OR NOT is_deleted)`, id, includeDeleted)
	d, err := scanDiscount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("discount", id)
	}
	return d, err
}

func (r *DiscountRepo) ListValidBetween(ctx context.Context, from, to time.Time) ([]Discount, error) {
	return r.list(ctx, `WHERE is_active AND NOT is_deleted AND valid_from <= $2 AND valid_to >= $1 ORDER BY code`, from, to)
}

func (r *DiscountRepo) ListByStore(ctx context.Context, storeID string) ([]Discount, error) {
	return r.list(ctx, `WHERE applicable_store_id = $1 AND NOT is_deleted ORDER BY code`, storeID)
}

func (r *DiscountRepo) CodeExists(ctx context.Context, code, excludeID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM discounts
			WHERE upper(code) = upper($1) AND NOT is_deleted AND id::text <> $2
		)`, NormalizeCode(code), excludeID).Scan(&exists)
	return exists, err
}

func (r *DiscountRepo) Create(ctx context.Context, d *Discount) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO discounts(id, code, type, value, valid_from, valid_to, minimum_order_amount,
			applicable_store_id, description, is_active, is_used, usage_count, usage_limit,
			created_by, updated_by, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1)`,
		d.ID, d.Code, string(d.Type), d.Value.String(), d.ValidFrom, d.ValidTo, d.MinimumOrderAmount.String(),
		d.ApplicableStoreID, d.Description, d.IsActive, d.IsUsed, d.UsageCount, d.UsageLimit,
		d.CreatedBy, d.UpdatedBy, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr(err)
	}
	d.Version = 1
	return nil
}

func (r *DiscountRepo) Update(ctx context.Context, d *Discount) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE discounts
		SET code = $3, type = $4, value = $5::numeric, valid_from = $6, valid_to = $7,
		    minimum_order_amount = $8::numeric, applicable_store_id = $9, description = $10,
		    is_active = $11, is_used = $12, usage_limit = $13, updated_by = $14, updated_at = $15,
		    version = version + 1
		WHERE id = $1 AND version = $2 AND NOT is_deleted`,
		d.ID, d.Version, d.Code, string(d.Type), d.Value.String(), d.ValidFrom, d.ValidTo,
		d.MinimumOrderAmount.String(), d.ApplicableStoreID, d.Description,
		d.IsActive, d.IsUsed, d.UsageLimit, d.UpdatedBy, d.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr(err)
	}
	return r.advance(ct, d)
}

func (r *DiscountRepo) MarkUsed(ctx context.Context, d *Discount) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE discounts
		SET is_used = $3, usage_count = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $2 AND NOT is_deleted`,
		d.ID, d.Version, d.IsUsed, d.UsageCount, d.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return r.advance(ct, d)
}

func (r *DiscountRepo) SoftDelete(ctx context.Context, d *Discount) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE discounts
		SET is_deleted = true, is_active = false, deleted_at = $3, deleted_by = $4, delete_reason = $5,
		    version = version + 1
		WHERE id = $1 AND version = $2 AND NOT is_deleted`,
		d.ID, d.Version, d.DeletedAt, d.DeletedBy, d.DeleteReason,
	)
	if err != nil {
		return err
	}
	return r.advance(ct, d)
}

func (r *DiscountRepo) advance(ct pgconn.CommandTag, d *Discount) error {
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("discount %s: %w", d.ID, retry.ErrVersionConflict)
	}
	d.Version++
	return nil
}

func (r *DiscountRepo) list(ctx context.Context, where string, args ...any) ([]Discount, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+discountColumns+` FROM discounts `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Discount
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateCode
	}
	return err
}

func scanDiscount(row pgx.Row) (*Discount, error) {
	var (
		d              Discount
		typ            string
		value, minimum string
	)
	err := row.Scan(&d.ID, &d.Code, &typ, &value, &d.ValidFrom, &d.ValidTo, &minimum,
		&d.ApplicableStoreID, &d.Description, &d.IsActive, &d.IsUsed, &d.UsageCount, &d.UsageLimit,
		&d.CreatedBy, &d.UpdatedBy, &d.CreatedAt, &d.UpdatedAt,
		&d.Deleted, &d.DeletedAt, &d.DeletedBy, &d.DeleteReason, &d.Version)
	if err != nil {
		return nil, err
	}
	d.Type = Type(typ)
	if d.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("discount %s value: %w", d.ID, err)
	}
	if d.MinimumOrderAmount, err = decimal.NewFromString(minimum); err != nil {
		return nil, fmt.Errorf("discount %s minimum: %w", d.ID, err)
	}
	return &d, nil
}
