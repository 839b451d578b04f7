package domain

import "time"

const (
	TopicOrderEvents   = "order-events"
	TopicNotifications = "checkout-notifications"

	EventOrderPlaced    = "order.placed"
	EventOrderCancelled = "order.cancelled"
)

// OrderEvent is the payload written to TopicOrderEvents through the outbox.
type OrderEvent struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	Total       Money     `json:"total"`
	OccurredAt  time.Time `json:"occurred_at"`

	// Lines lists the cart lines the order consumed. Set on order.placed.
	Lines []OrderedLine `json:"lines,omitempty"`
}
