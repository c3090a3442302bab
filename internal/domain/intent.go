package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderIntent is a validated client request for one order type. Each
// variant only carries the fields that exist for that type.
type OrderIntent interface {
	Header() IntentHeader
	NewOrder(id string, now time.Time) *Order
}

type IntentHeader struct {
	AccountID     string
	UserID        string
	ClientOrderID string
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
}

type MarketIntent struct {
	IntentHeader
}

type LimitIntent struct {
	IntentHeader
	Price       decimal.Decimal
	TimeInForce TimeInForce
	ExpiresAt   time.Time
}

type StopIntent struct {
	IntentHeader
	StopPrice decimal.Decimal
}

type StopLimitIntent struct {
	IntentHeader
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce TimeInForce
	ExpiresAt   time.Time
}

func (h IntentHeader) order(id string, now time.Time, typ OrderType) *Order {
	return &Order{
		ID:            id,
		AccountID:     h.AccountID,
		UserID:        h.UserID,
		ClientOrderID: h.ClientOrderID,
		Symbol:        h.Symbol,
		Side:          h.Side,
		Type:          typ,
		Quantity:      h.Quantity,
		Status:        Open,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (i MarketIntent) Header() IntentHeader { return i.IntentHeader }

func (i MarketIntent) NewOrder(id string, now time.Time) *Order {
	o := i.order(id, now, Market)
	o.TimeInForce = IOC
	return o
}

func (i LimitIntent) Header() IntentHeader { return i.IntentHeader }

func (i LimitIntent) NewOrder(id string, now time.Time) *Order {
	o := i.order(id, now, Limit)
	o.Price = i.Price
	o.TimeInForce = i.TimeInForce
	o.ExpiresAt = i.ExpiresAt
	return o
}

func (i StopIntent) Header() IntentHeader { return i.IntentHeader }

func (i StopIntent) NewOrder(id string, now time.Time) *Order {
	o := i.order(id, now, Stop)
	o.StopPrice = i.StopPrice
	o.TimeInForce = IOC
	return o
}

func (i StopLimitIntent) Header() IntentHeader { return i.IntentHeader }

func (i StopLimitIntent) NewOrder(id string, now time.Time) *Order {
	o := i.order(id, now, StopLimit)
	o.Price = i.Price
	o.StopPrice = i.StopPrice
	o.TimeInForce = i.TimeInForce
	o.ExpiresAt = i.ExpiresAt
	return o
}
