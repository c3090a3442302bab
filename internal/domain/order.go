package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string
type OrderType string
type OrderStatus string
type TimeInForce string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"

	Limit     OrderType = "LIMIT"
	Market    OrderType = "MARKET"
	Stop      OrderType = "STOP"
	StopLimit OrderType = "STOP_LIMIT"

	Open            OrderStatus = "OPEN"
	PartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	Filled          OrderStatus = "FILLED"
	Cancelled       OrderStatus = "CANCELLED"
	Rejected        OrderStatus = "REJECTED"

	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
	GTD TimeInForce = "GTD"
)

// Opposite returns the side an order of s trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == Buy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

func (t OrderType) Conditional() bool {
	return t == Stop || t == StopLimit
}

func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

type Order struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	UserID         string          `json:"user_id"`
	ClientOrderID  string          `json:"client_order_id,omitempty"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Type           OrderType       `json:"type"`
	TimeInForce    TimeInForce     `json:"time_in_force"`
	Price          decimal.Decimal `json:"price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Status         OrderStatus     `json:"status"`
	ExpiresAt      time.Time       `json:"expires_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Sequence is the arrival position inside the owning book.
	Sequence uint64 `json:"sequence"`
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

func (o *Order) PartiallyFilled() bool {
	return o.FilledQuantity.GreaterThan(decimal.Zero) &&
		o.FilledQuantity.LessThan(o.Quantity)
}

func (o *Order) IsFilled() bool {
	return o.FilledQuantity.GreaterThanOrEqual(o.Quantity)
}

// HasLimitPrice reports whether Price is meaningful for this order type.
func (o *Order) HasLimitPrice() bool {
	return o.Type == Limit || o.Type == StopLimit
}

// Rests reports whether an unfilled remainder of o stays on the book.
// Market, IOC and FOK remainders are discarded at match time.
func (o *Order) Rests() bool {
	return o.Type == Limit && o.TimeInForce != IOC && o.TimeInForce != FOK
}

// Recoverable reports whether o belongs in the live state after a restart:
// a pending stop, or a resting limit with quantity left.
func (o *Order) Recoverable() bool {
	if o.Status.Terminal() || !o.Remaining().IsPositive() {
		return false
	}
	return o.Type.Conditional() || o.Rests()
}

// Expired reports whether a GTD order is past its expiry at now.
func (o *Order) Expired(now time.Time) bool {
	return o.TimeInForce == GTD && !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// DeriveStatus sets Status from the fill state of a resting or resolved order.
func (o *Order) DeriveStatus() {
	switch {
	case o.IsFilled():
		o.Status = Filled
	case o.FilledQuantity.IsPositive():
		o.Status = PartiallyFilled
	default:
		o.Status = Open
	}
}

func (o *Order) Clone() *Order {
	c := *o
	return &c
}
