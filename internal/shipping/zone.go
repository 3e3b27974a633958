package shipping

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
)

type Zone string

const (
	ZoneSameDay      Zone = "SameDay"
	ZoneLocal        Zone = "Local"
	ZoneNational     Zone = "National"
	ZoneNotSupported Zone = "NotSupported"
)

var ErrNotSupported = fmt.Errorf("%w: shipping destination not supported", apperr.ErrBusinessRule)

type zoneInfo struct {
	hours      int
	multiplier decimal.Decimal
}

var zones = map[Zone]zoneInfo{
	ZoneSameDay:      {hours: 24, multiplier: decimal.RequireFromString("1.5")},
	ZoneLocal:        {hours: 48, multiplier: decimal.NewFromInt(1)},
	ZoneNational:     {hours: 72, multiplier: decimal.RequireFromString("1.25")},
	ZoneNotSupported: {hours: 0, multiplier: decimal.Zero},
}

func (z Zone) DeliveryHours() int { return zones[z].hours }

// CostMultiplier scales the default base fee when a store has no fee table.
func (z Zone) CostMultiplier() decimal.Decimal { return zones[z].multiplier }

// StoreConfig is a seller's own fee table.
type StoreConfig struct {
	StoreID       string
	SameDayFee    decimal.Decimal
	StandardFee   decimal.Decimal
	NationalFee   decimal.Decimal
	SameDayCities []string
}

func (c StoreConfig) Fee(z Zone) (decimal.Decimal, bool) {
	switch z {
	case ZoneSameDay:
		return c.SameDayFee, true
	case ZoneLocal:
		return c.StandardFee, true
	case ZoneNational:
		return c.NationalFee, true
	}
	return decimal.Zero, false
}

func (c StoreConfig) SameDayEligible(city string) bool {
	city = normalizeName(city)
	if city == "" {
		return false
	}
	for _, name := range c.SameDayCities {
		if normalizeName(name) == city {
			return true
		}
	}
	return false
}

// Quote is the resolved shipping for one seller.
type Quote struct {
	StoreID       string          `json:"store_id"`
	Zone          Zone            `json:"zone"`
	Fee           decimal.Decimal `json:"fee"`
	DeliveryHours int             `json:"delivery_hours"`
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validZone(z Zone) error {
	if _, ok := zones[z]; !ok {
		return apperr.Validation("unknown shipping zone %q", z)
	}
	return nil
}
