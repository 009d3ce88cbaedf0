package bus

import "time"

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, e.g. "delivery." receives both sent and failed.
const (
	KindViewChanged     = "view.changed"
	KindOutboxChanged   = "outbox.changed"
	KindDeliverySent    = "delivery.sent"
	KindDeliveryFailed  = "delivery.failed"
	KindSummaryChanged  = "summary.changed"
	KindNetConnected    = "net.connected"
	KindNetDisconnected = "net.disconnected"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
