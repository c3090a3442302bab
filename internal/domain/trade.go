package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable record of one match. Price is always the maker's.
type Trade struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	MakerOrderID   string          `json:"maker_order_id"`
	TakerOrderID   string          `json:"taker_order_id"`
	MakerAccountID string          `json:"maker_account_id"`
	TakerAccountID string          `json:"taker_account_id"`
	TakerSide      Side            `json:"taker_side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Timestamp      time.Time       `json:"timestamp"`
}

func (t *Trade) BuyOrderID() string {
	if t.TakerSide == Buy {
		return t.TakerOrderID
	}
	return t.MakerOrderID
}

func (t *Trade) SellOrderID() string {
	if t.TakerSide == Sell {
		return t.TakerOrderID
	}
	return t.MakerOrderID
}

func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}
