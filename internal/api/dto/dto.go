package dto

import (
	"time"

	"github.com/olyamironova/matching-core/internal/core"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

type SubmitOrderRequest struct {
	AccountID     string           `json:"account_id"`
	UserID        string           `json:"user_id"`
	ClientOrderID string           `json:"client_order_id,omitempty"` // for deduplicate
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Price         *decimal.Decimal `json:"price,omitempty"`      // for limit and stop-limit
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"` // for stop and stop-limit
	TimeInForce   string           `json:"time_in_force,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
}

func (r SubmitOrderRequest) Input() core.PlaceOrderInput {
	return core.PlaceOrderInput{
		AccountID:     r.AccountID,
		UserID:        r.UserID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          domain.Side(r.Side),
		Type:          domain.OrderType(r.Type),
		Quantity:      r.Quantity,
		Price:         r.Price,
		StopPrice:     r.StopPrice,
		TimeInForce:   domain.TimeInForce(r.TimeInForce),
		ExpiresAt:     r.ExpiresAt,
	}
}

type SubmitOrderResponse struct {
	Success        bool            `json:"success"`
	OrderID        string          `json:"order_id,omitempty"`
	Status         string          `json:"status,omitempty"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Remaining      decimal.Decimal `json:"remaining"`
	AveragePrice   decimal.Decimal `json:"average_price"`
	Trades         []Trade         `json:"trades"`
	RejectCode     string          `json:"reject_code,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Errors         []string        `json:"errors,omitempty"`
}

func FromPlaceResult(r core.PlaceOrderResult) SubmitOrderResponse {
	return SubmitOrderResponse{
		Success:        r.Success,
		OrderID:        r.OrderID,
		Status:         string(r.Status),
		FilledQuantity: r.FilledQuantity,
		Remaining:      r.RemainingQuantity,
		AveragePrice:   r.AveragePrice,
		Trades:         FromTrades(r.Trades),
		RejectCode:     string(r.RejectCode),
		Warnings:       r.Warnings,
		Errors:         r.Errors,
	}
}

type CancelOrderRequest struct {
	OrderID   string `json:"order_id"`
	AccountID string `json:"account_id"`
}

type CancelOrderResponse struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message,omitempty"`
}

type GetOrderResponse struct {
	Order Order `json:"order"`
}

type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

type GetOrderbookResponse struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

func FromSnapshot(s *domain.OrderbookSnapshot) GetOrderbookResponse {
	return GetOrderbookResponse{
		Symbol:    s.Symbol,
		Bids:      levels(s.Bids),
		Asks:      levels(s.Asks),
		Timestamp: s.Timestamp,
	}
}

func levels(in []domain.PriceLevelView) []PriceLevel {
	out := make([]PriceLevel, 0, len(in))
	for _, l := range in {
		out = append(out, PriceLevel{Price: l.Price, Quantity: l.Quantity, Orders: l.Orders})
	}
	return out
}

type Position struct {
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPct decimal.Decimal `json:"unrealized_pct"`
}

type GetPositionsResponse struct {
	AccountID string     `json:"account_id"`
	Positions []Position `json:"positions"`
}

func FromPositions(accountID string, ps []domain.PositionSnapshot) GetPositionsResponse {
	out := GetPositionsResponse{AccountID: accountID, Positions: make([]Position, 0, len(ps))}
	for _, p := range ps {
		out.Positions = append(out.Positions, Position{
			Symbol:        p.Symbol,
			Side:          string(p.Side),
			Quantity:      p.Quantity,
			AvgEntryPrice: p.AvgEntryPrice,
			MarkPrice:     p.MarkPrice,
			RealizedPnL:   p.RealizedPnL,
			UnrealizedPnL: p.UnrealizedPnL,
			UnrealizedPct: p.UnrealizedPct,
		})
	}
	return out
}

type PriceUpdateRequest struct {
	Symbol    string          `json:"symbol" binding:"required"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

type Order struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	ClientOrderID  string          `json:"client_order_id,omitempty"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	TimeInForce    string          `json:"time_in_force"`
	Price          decimal.Decimal `json:"price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Remaining      decimal.Decimal `json:"remaining"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

func FromOrder(o *domain.Order) Order {
	return Order{
		ID:             o.ID,
		AccountID:      o.AccountID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		TimeInForce:    string(o.TimeInForce),
		Price:          o.Price,
		StopPrice:      o.StopPrice,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		Remaining:      o.Remaining(),
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt,
	}
}

type Trade struct {
	ID        string          `json:"id"`
	BuyOrder  string          `json:"buy_order"`
	SellOrder string          `json:"sell_order"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

func FromTrades(trades []*domain.Trade) []Trade {
	out := make([]Trade, 0, len(trades))
	for _, t := range trades {
		out = append(out, Trade{
			ID:        t.ID,
			BuyOrder:  t.BuyOrderID(),
			SellOrder: t.SellOrderID(),
			Price:     t.Price,
			Quantity:  t.Quantity,
			Timestamp: t.Timestamp,
		})
	}
	return out
}
