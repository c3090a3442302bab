package port

import (
	"context"
	"errors"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by adapters when a row or key does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the durable order/trade store. The core calls it after a
// match has been committed in memory; it never gates matching.
type Repository interface {
	SaveOrder(ctx context.Context, o *domain.Order) error
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, filled decimal.Decimal) error
	CancelOrder(ctx context.Context, orderID, accountID string) error
	SaveTrades(ctx context.Context, trades []*domain.Trade) error
	// GetOpenOrders returns the orders that survive a restart: pending stop
	// orders and resting limit orders with quantity left, ordered by
	// creation time. Market, IOC and FOK leftovers are excluded.
	GetOpenOrders(ctx context.Context) ([]*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

// PositionArchive keeps closed positions for realized PnL history.
type PositionArchive interface {
	ArchivePosition(ctx context.Context, p *domain.Position) error
}

// TradeSpool holds trade batches whose persistence failed so a later flush
// can retry them.
type TradeSpool interface {
	Push(ctx context.Context, trades []*domain.Trade) error
	// Drain hands spooled batches to fn oldest first; a batch is removed
	// only when fn returns nil.
	Drain(ctx context.Context, fn func([]*domain.Trade) error) error
}
