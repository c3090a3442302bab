package domain

import "time"

type EventType string

const (
	EventOrderAccepted  EventType = "order_accepted"
	EventOrderRejected  EventType = "order_rejected"
	EventOrderCancelled EventType = "order_cancelled"
	EventOrderUpdated   EventType = "order_updated"
	EventTrade          EventType = "trade"
)

const (
	TopicOrders    = "orders"
	TopicTrades    = "trades"
	TopicPositions = "positions"
)

// EngineEvent is emitted by a symbol's matching engine after a committed
// operation.
type EngineEvent struct {
	Type      EventType `json:"type"`
	Symbol    string    `json:"symbol"`
	Order     *Order    `json:"order,omitempty"`
	Trade     *Trade    `json:"trade,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
