package events

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status.changed"
	TopicReservationExpired = "inventory.reservation.expired"
	TopicCheckoutAbandoned  = "checkout.abandoned"
)

// PartitionKey keeps every event about one order or reservation on the same
// partition so consumers see them in order.
func PartitionKey(id string) []byte { return []byte(id) }
