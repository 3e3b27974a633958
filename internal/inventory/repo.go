package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/retry"
)

const reservationColumns = `id, product_id, customer_id, COALESCE(order_id, ''), qty, status,
	expires_at, created_at, confirmed_at, released_at, external_reference,
	is_deleted, deleted_at, COALESCE(deleted_by, ''), COALESCE(delete_reason, ''), version`

type ReservationRepo struct{ DB *pgxpool.Pool }

// Create bumps the product version and inserts the reservation in one
// transaction. A stale product version rolls back with ErrVersionConflict.
func (r *ReservationRepo) Create(ctx context.Context, res *Reservation, productVersion int64) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE products SET version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2`, res.ProductID, productVersion)
	if err != nil {
		return fmt.Errorf("bump product version: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("product %s: %w", res.ProductID, retry.ErrVersionConflict)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_reservations(id, product_id, customer_id, qty, status, expires_at, created_at, external_reference, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)`,
		res.ID, res.ProductID, res.CustomerID, res.Quantity, string(res.Status),
		res.ExpiresAt, res.CreatedAt, res.ExternalReference,
	); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	res.Version = 1
	return nil
}

func (r *ReservationRepo) Update(ctx context.Context, res *Reservation) error {
	if err := updateReservation(ctx, r.DB, res); err != nil {
		return err
	}
	res.Version++
	return nil
}

// ConfirmAll decrements stock per product and marks every reservation
// confirmed in one transaction. Products are updated in id order so two
// orders over the same products cannot deadlock.
func (r *ReservationRepo) ConfirmAll(ctx context.Context, rs []*Reservation, productVersions map[string]int64) error {
	need := make(map[string]int, len(productVersions))
	for _, res := range rs {
		need[res.ProductID] += res.Quantity
	}
	ids := make([]string, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, id := range ids {
		v, ok := productVersions[id]
		if !ok {
			return fmt.Errorf("product %s: %w", id, retry.ErrVersionConflict)
		}
		ct, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock - $3, version = version + 1, updated_at = now()
			WHERE id = $1 AND version = $2 AND stock >= $3`, id, v, need[id])
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if ct.RowsAffected() != 1 {
			return fmt.Errorf("product %s: %w", id, retry.ErrVersionConflict)
		}
	}
	for _, res := range rs {
		if err := updateReservation(ctx, tx, res); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, res := range rs {
		res.Version++
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateReservation(ctx context.Context, db execer, res *Reservation) error {
	var orderID *string
	if res.OrderID != "" {
		orderID = &res.OrderID
	}
	ct, err := db.Exec(ctx, `
		UPDATE stock_reservations
		SET status = $3, order_id = $4, confirmed_at = $5, released_at = $6,
		    is_deleted = $7, deleted_at = $8, deleted_by = NULLIF($9, ''), delete_reason = NULLIF($10, ''),
		    version = version + 1
		WHERE id = $1 AND version = $2`,
		res.ID, res.Version, string(res.Status), orderID, res.ConfirmedAt, res.ReleasedAt,
		res.Deleted, res.DeletedAt, res.DeletedBy, res.DeleteReason,
	)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("reservation %s: %w", res.ID, retry.ErrVersionConflict)
	}
	return nil
}

func (r *ReservationRepo) Get(ctx context.Context, id string, includeDeleted bool) (*Reservation, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+reservationColumns+`
		FROM stock_reservations WHERE id = $1 AND ($2 OR NOT is_deleted)`, id, includeDeleted)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("reservation", id)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *ReservationRepo) ListByProduct(ctx context.Context, productID string) ([]Reservation, error) {
	return r.list(ctx, `WHERE product_id = $1 AND NOT is_deleted ORDER BY created_at`, productID)
}

func (r *ReservationRepo) ListByCustomer(ctx context.Context, customerID string) ([]Reservation, error) {
	return r.list(ctx, `WHERE customer_id = $1 AND NOT is_deleted ORDER BY created_at`, customerID)
}

func (r *ReservationRepo) ListByOrder(ctx context.Context, orderID string) ([]Reservation, error) {
	return r.list(ctx, `WHERE order_id = $1 AND NOT is_deleted ORDER BY created_at`, orderID)
}

func (r *ReservationRepo) ListByStatus(ctx context.Context, status Status, limit int) ([]Reservation, error) {
	return r.list(ctx, `WHERE status = $1 AND NOT is_deleted ORDER BY created_at LIMIT NULLIF($2, 0)`, string(status), limit)
}

func (r *ReservationRepo) ListExpiredBefore(ctx context.Context, t time.Time, limit int) ([]Reservation, error) {
	return r.list(ctx, `WHERE status = 'Pending' AND expires_at < $1 AND NOT is_deleted
		ORDER BY expires_at LIMIT NULLIF($2, 0)`, t, limit)
}

func (r *ReservationRepo) ReservedQuantities(ctx context.Context, productIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		out[id] = 0
	}
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, COALESCE(SUM(qty), 0)
		FROM stock_reservations
		WHERE product_id = ANY($1) AND status = 'Pending' AND NOT is_deleted
		GROUP BY product_id`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			pid string
			qty int
		)
		if err := rows.Scan(&pid, &qty); err != nil {
			return nil, err
		}
		out[pid] = qty
	}
	return out, rows.Err()
}

func (r *ReservationRepo) list(ctx context.Context, where string, args ...any) ([]Reservation, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+reservationColumns+` FROM stock_reservations `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var (
		res    Reservation
		status string
	)
	err := row.Scan(&res.ID, &res.ProductID, &res.CustomerID, &res.OrderID, &res.Quantity, &status,
		&res.ExpiresAt, &res.CreatedAt, &res.ConfirmedAt, &res.ReleasedAt, &res.ExternalReference,
		&res.Deleted, &res.DeletedAt, &res.DeletedBy, &res.DeleteReason, &res.Version)
	if err != nil {
		return nil, err
	}
	res.Status = Status(status)
	return &res, nil
}

type ProductRepo struct{ DB *pgxpool.Pool }

func (r *ProductRepo) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := r.DB.QueryRow(ctx, `SELECT id, seller_id, name, price::text, stock, version
		FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("product", id)
	}
	return p, err
}

func (r *ProductRepo) GetProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, seller_id, name, price::text, stock, version
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = *p
	}
	return out, rows.Err()
}

func scanProduct(row pgx.Row) (*Product, error) {
	var (
		p     Product
		price string
	)
	if err := row.Scan(&p.ID, &p.SellerID, &p.Name, &price, &p.OnHand, &p.Version); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("product %s price: %w", p.ID, err)
	}
	p.UnitPrice = d
	return &p, nil
}
