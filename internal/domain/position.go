package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionSide string
type PositionEventType string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
	Flat  PositionSide = "FLAT"

	PositionOpened  PositionEventType = "position_opened"
	PositionClosed  PositionEventType = "position_closed"
	PositionUpdated PositionEventType = "position_updated"
)

// Position is keyed by account and symbol. Quantity is signed: positive is
// long, negative is short. AvgEntryPrice covers the open quantity only.
type Position struct {
	AccountID     string          `json:"account_id"`
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func SideOf(qty decimal.Decimal) PositionSide {
	switch qty.Sign() {
	case 1:
		return Long
	case -1:
		return Short
	default:
		return Flat
	}
}

func (p *Position) Side() PositionSide {
	return SideOf(p.Quantity)
}

// PositionSnapshot is a position valued against the latest mark price.
type PositionSnapshot struct {
	Position
	Side          PositionSide    `json:"side"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	// UnrealizedPct is unrealized PnL as a percentage of cost basis.
	UnrealizedPct decimal.Decimal `json:"unrealized_pct"`
}

// Fill is one side of a trade as seen by a single account.
type Fill struct {
	AccountID string
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time
}

// FillsOf splits a trade into the maker and taker fills.
func FillsOf(t *Trade) [2]Fill {
	return [2]Fill{
		{AccountID: t.MakerAccountID, Symbol: t.Symbol, Side: t.TakerSide.Opposite(), Price: t.Price, Quantity: t.Quantity, Timestamp: t.Timestamp},
		{AccountID: t.TakerAccountID, Symbol: t.Symbol, Side: t.TakerSide, Price: t.Price, Quantity: t.Quantity, Timestamp: t.Timestamp},
	}
}

type PositionEvent struct {
	Type         PositionEventType `json:"type"`
	AccountID    string            `json:"account_id"`
	Symbol       string            `json:"symbol"`
	PrevQuantity decimal.Decimal   `json:"prev_quantity"`
	NewQuantity  decimal.Decimal   `json:"new_quantity"`
	Side         PositionSide      `json:"side"`
	Position     Position          `json:"position"`
}
