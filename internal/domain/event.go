package domain

import "time"

type EventType string

const (
	EventCreated         EventType = "CREATED"
	EventPartiallyFilled EventType = "PARTIALLY_FILLED"
	EventFilled          EventType = "FILLED"
	EventCancelled       EventType = "CANCELLED"
	EventRejected        EventType = "REJECTED"
)

// OrderEvent is an append-only record of one order state transition.
// Order carries the full post-transition snapshot, so the event log
// together with the trade log reconstructs any order's lifecycle.
type OrderEvent struct {
	ID        int64
	OrderID   string
	Type      EventType
	Order     Order
	Timestamp time.Time
}

// EventTypeFor maps an order's post-transition status to the event
// emitted for that transition.
func EventTypeFor(status OrderStatus) EventType {
	switch status {
	case PartiallyFilled:
		return EventPartiallyFilled
	case Filled:
		return EventFilled
	case Cancelled:
		return EventCancelled
	case Rejected:
		return EventRejected
	default:
		return EventCreated
	}
}
