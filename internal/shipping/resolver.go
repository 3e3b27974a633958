package shipping

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/logging"
	"github.com/ariefcatur/marketplace-pricing/internal/metrics"
)

var tracer = otel.Tracer("marketplace-pricing/shipping")

// sameDayCities is the static fallback table, keyed by normalized city
// name. Every other city in the supported country ships National.
var sameDayCities = map[string]bool{"cairo": true, "giza": true}

type Config struct {
	SupportedCountry string
	// DefaultBaseFee times the zone multiplier is charged when a store has
	// no fee table. Zero means sellers must configure their own rates.
	DefaultBaseFee decimal.Decimal
}

// Resolver maps a destination to a zone and fee for one seller. Location
// lookups that fail fall through to a static city table; a well-formed
// address never makes it return an error other than ErrNotSupported.
type Resolver struct {
	loc    LocationStore
	cfg    Config
	logger *zap.Logger
}

func NewResolver(loc LocationStore, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.SupportedCountry == "" {
		cfg.SupportedCountry = "Egypt"
	}
	return &Resolver{loc: loc, cfg: cfg, logger: logger}
}

func (r *Resolver) degraded(ctx context.Context, lookup string, err error, fields ...zap.Field) {
	metrics.LookupDegraded.WithLabelValues(lookup).Inc()
	logging.Warn(ctx, r.logger, "location lookup degraded, using fallback",
		append(fields, zap.String("lookup", lookup), zap.Error(err))...)
}

func (r *Resolver) DetermineZone(ctx context.Context, city, country, storeID string) Zone {
	ctx, span := tracer.Start(ctx, "shipping.DetermineZone", trace.WithAttributes(
		attribute.String("city", city),
		attribute.String("store_id", storeID),
	))
	defer span.End()

	zone := r.determine(ctx, city, country, storeID)
	span.SetAttributes(attribute.String("zone", string(zone)))
	return zone
}

func (r *Resolver) determine(ctx context.Context, city, country, storeID string) Zone {
	if supported, known := r.regionSupported(ctx, city, storeID); known && !supported {
		return ZoneNotSupported
	}
	if r.storeSameDay(ctx, city, storeID) {
		return ZoneSameDay
	}
	return r.heuristicZone(city, country)
}

// regionSupported resolves city to a region and checks the store ships
// there. known is false when either lookup could not answer.
func (r *Resolver) regionSupported(ctx context.Context, city, storeID string) (supported, known bool) {
	if normalizeName(city) == "" || storeID == "" {
		return false, false
	}
	region, err := r.loc.RegionByCity(ctx, city)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return false, false
	case err != nil:
		r.degraded(ctx, "region_by_city", err, zap.String("city", city))
		return false, false
	}

	ok, err := r.loc.StoreSupportsRegion(ctx, storeID, region)
	if err != nil {
		r.degraded(ctx, "store_region", err, zap.String("store_id", storeID), zap.String("region_id", region))
		return false, false
	}
	return ok, true
}

func (r *Resolver) storeSameDay(ctx context.Context, city, storeID string) bool {
	if normalizeName(city) == "" || storeID == "" {
		return false
	}
	cfg, err := r.storeConfig(ctx, storeID)
	if err != nil || cfg == nil {
		return false
	}
	return cfg.SameDayEligible(city)
}

// storeConfig returns nil, nil for stores without a fee table.
func (r *Resolver) storeConfig(ctx context.Context, storeID string) (*StoreConfig, error) {
	cfg, err := r.loc.StoreConfig(ctx, storeID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil, nil
	case err != nil:
		r.degraded(ctx, "store_config", err, zap.String("store_id", storeID))
		return nil, err
	}
	return cfg, nil
}

func (r *Resolver) heuristicZone(city, country string) Zone {
	if c := normalizeName(country); c != "" && c != normalizeName(r.cfg.SupportedCountry) {
		return ZoneNotSupported
	}
	name := normalizeName(city)
	switch {
	case name == "":
		return ZoneLocal
	case sameDayCities[name]:
		return ZoneSameDay
	}
	return ZoneNational
}

// ShippingFee is the store's fee for zone, or the default fee when the store
// has no fee table or it cannot be read.
func (r *Resolver) ShippingFee(ctx context.Context, zone Zone, storeID string) (decimal.Decimal, error) {
	if err := validZone(zone); err != nil {
		return decimal.Zero, err
	}
	if zone == ZoneNotSupported {
		return decimal.Zero, nil
	}
	if storeID != "" {
		if cfg, err := r.storeConfig(ctx, storeID); err == nil && cfg != nil {
			if fee, ok := cfg.Fee(zone); ok {
				return fee, nil
			}
		}
	}
	return r.defaultFee(zone), nil
}

func (r *Resolver) defaultFee(zone Zone) decimal.Decimal {
	return r.cfg.DefaultBaseFee.Mul(zone.CostMultiplier()).Round(2)
}

// Quote resolves zone and fee for one seller. Unsupported destinations fail
// with ErrNotSupported.
func (r *Resolver) Quote(ctx context.Context, city, country, storeID string) (Quote, error) {
	zone := r.DetermineZone(ctx, city, country, storeID)
	q := Quote{StoreID: storeID, Zone: zone, DeliveryHours: zone.DeliveryHours()}
	if zone == ZoneNotSupported {
		return q, fmt.Errorf("%w: %q, %q for store %s", ErrNotSupported, city, country, storeID)
	}
	fee, err := r.ShippingFee(ctx, zone, storeID)
	if err != nil {
		return q, err
	}
	q.Fee = fee
	return q, nil
}

// GetAvailableDeliveryOptions lists same-day delivery when the city is
// eligible plus the fallback zone, or only NotSupported when neither applies.
func (r *Resolver) GetAvailableDeliveryOptions(ctx context.Context, city, country, storeID string) []Quote {
	ctx, span := tracer.Start(ctx, "shipping.GetAvailableDeliveryOptions")
	defer span.End()

	notSupported := []Quote{{StoreID: storeID, Zone: ZoneNotSupported}}
	if supported, known := r.regionSupported(ctx, city, storeID); known && !supported {
		return notSupported
	}

	var out []Quote
	add := func(z Zone) {
		for _, q := range out {
			if q.Zone == z {
				return
			}
		}
		fee, _ := r.ShippingFee(ctx, z, storeID)
		out = append(out, Quote{StoreID: storeID, Zone: z, Fee: fee, DeliveryHours: z.DeliveryHours()})
	}

	fallback := r.heuristicZone(city, country)
	if fallback != ZoneNotSupported && r.storeSameDay(ctx, city, storeID) {
		add(ZoneSameDay)
	}
	if fallback != ZoneNotSupported {
		add(fallback)
	}
	if len(out) == 0 {
		return notSupported
	}
	return out
}
