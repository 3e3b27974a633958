package redisx

import "time"

const (
	// Place-order idempotency: idem:order:place:{idempotency_key} -> order_id
	KeyIdemOrderPlace = "idem:order:place:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Sweeper lock, one holder across inventory instances.
	KeySweepLock = "lock:reservation:sweep"

	// City -> region cache: region:{lower(city)}. Empty value means unknown city.
	KeyRegion = "region:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
	TTLRegion      = 10 * time.Minute
)
