package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
)

var ErrAlreadyExists = fmt.Errorf("%w: order already exists", apperr.ErrBusinessRule)

const orderColumns = `id, COALESCE(external_id, ''), customer_id, status, source, payment_method,
	shipping_city, shipping_country, subtotal::text, discount_amount::text, shipping_cost::text, total::text,
	discount_codes, discount_types, created_by, created_at, updated_at, version`

type Repo struct{ DB *pgxpool.Pool }

// Create writes the order and its items in one transaction. A second order
// with the same external id fails with ErrAlreadyExists.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var externalID *string
	if o.ExternalID != "" {
		externalID = &o.ExternalID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, customer_id, status, source, payment_method,
			shipping_city, shipping_country, subtotal, discount_amount, shipping_cost, total,
			discount_codes, discount_types, created_by, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12::numeric,
			$13, $14, $15, $16, $17, 1)`,
		o.ID, externalID, o.CustomerID, string(o.Status), string(o.Source), o.PaymentMethod,
		o.ShippingCity, o.ShippingCountry,
		o.Subtotal.String(), o.DiscountAmount.String(), o.ShippingCost.String(), o.Total.String(),
		strings.Join(o.DiscountCodes, ","), strings.Join(o.DiscountTypes, ","),
		o.CreatedBy, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		if _, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, seller_id, qty, unit_price)
			VALUES ($1, $2, $3, $4, $5::numeric)`,
			o.ID, it.ProductID, it.SellerID, it.Qty, it.UnitPrice.String(),
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	o.Version = 1
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *Repo) GetByExternalID(ctx context.Context, externalID string) (*Order, error) {
	return r.getOne(ctx, `WHERE external_id = $1`, externalID)
}

func (r *Repo) getOne(ctx context.Context, where, key string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order", key)
	}
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = r.items(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repo) UpdateStatus(ctx context.Context, o *Order) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $2`, o.ID, o.Version, string(o.Status), o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("order %s: %w", o.ID, retry.ErrVersionConflict)
	}
	o.Version++
	return nil
}

// Discard deletes a pending order; its items go with it through the
// foreign key cascade.
func (r *Repo) Discard(ctx context.Context, id string) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE id = $1 AND status = $2`, id, string(StatusPending))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("pending order", id)
	}
	return nil
}

func (r *Repo) items(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, seller_id, qty, unit_price::text
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var (
			it    OrderItem
			price string
		)
		if err := rows.Scan(&it.ProductID, &it.SellerID, &it.Qty, &price); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                                   Order
		status, source, codes, types        string
		subtotal, discount, shipping, total string
	)
	err := row.Scan(&o.ID, &o.ExternalID, &o.CustomerID, &status, &source, &o.PaymentMethod,
		&o.ShippingCity, &o.ShippingCountry, &subtotal, &discount, &shipping, &total,
		&codes, &types, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err != nil {
		return nil, err
	}
	o.Status, o.Source = Status(status), Source(source)
	o.DiscountCodes, o.DiscountTypes = splitList(codes), splitList(types)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&o.Subtotal, subtotal}, {&o.DiscountAmount, discount}, {&o.ShippingCost, shipping}, {&o.Total, total}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("order %s amount: %w", o.ID, err)
		}
	}
	return &o, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
