package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceLevelView struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

type OrderbookSnapshot struct {
	Symbol    string           `json:"symbol"`
	Bids      []PriceLevelView `json:"bids"`
	Asks      []PriceLevelView `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

func (s *OrderbookSnapshot) DeepCopy() *OrderbookSnapshot {
	c := *s
	c.Bids = append([]PriceLevelView(nil), s.Bids...)
	c.Asks = append([]PriceLevelView(nil), s.Asks...)
	return &c
}

type BookUpdateType string

const (
	UpdateAdd    BookUpdateType = "add"
	UpdateFill   BookUpdateType = "fill"
	UpdateRemove BookUpdateType = "remove"
)

// BookUpdate is one incremental change to a book. Remaining is the order's
// open quantity after the change.
type BookUpdate struct {
	Type      BookUpdateType  `json:"type"`
	Symbol    string          `json:"symbol"`
	OrderID   string          `json:"order_id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Remaining decimal.Decimal `json:"remaining"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
}

type BookStats struct {
	Symbol    string          `json:"symbol"`
	BidLevels int             `json:"bid_levels"`
	AskLevels int             `json:"ask_levels"`
	BidOrders int             `json:"bid_orders"`
	AskOrders int             `json:"ask_orders"`
	BidVolume decimal.Decimal `json:"bid_volume"`
	AskVolume decimal.Decimal `json:"ask_volume"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	Spread    decimal.Decimal `json:"spread"`
	Trades    uint64          `json:"trades"`
}

type VenueStats struct {
	Symbols     int         `json:"symbols"`
	TotalOrders int         `json:"total_orders"`
	TotalTrades uint64      `json:"total_trades"`
	Books       []BookStats `json:"books"`
}
