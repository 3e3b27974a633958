package shipping

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
)

type LocationRepo struct{ DB *pgxpool.Pool }

func (r *LocationRepo) RegionByCity(ctx context.Context, city string) (string, error) {
	var region string
	err := r.DB.QueryRow(ctx, `SELECT region_id FROM cities WHERE lower(name) = lower($1)`, normalizeName(city)).Scan(&region)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.NotFound("city", city)
	}
	return region, err
}

func (r *LocationRepo) StoreSupportsRegion(ctx context.Context, storeID, regionID string) (bool, error) {
	var total, matching int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE region_id = $2)
		FROM store_regions WHERE store_id = $1`, storeID, regionID).Scan(&total, &matching)
	if err != nil {
		return false, err
	}
	return total == 0 || matching > 0, nil
}

func (r *LocationRepo) StoreConfig(ctx context.Context, storeID string) (*StoreConfig, error) {
	var (
		c                         StoreConfig
		sameDay, standard, nation string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT store_id, same_day_fee::text, standard_fee::text, national_fee::text, same_day_cities
		FROM store_shipping_configs WHERE store_id = $1`, storeID,
	).Scan(&c.StoreID, &sameDay, &standard, &nation, &c.SameDayCities)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("shipping config", storeID)
	}
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&c.SameDayFee, sameDay}, {&c.StandardFee, standard}, {&c.NationalFee, nation}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("store %s fee: %w", storeID, err)
		}
	}
	return &c, nil
}
