package port

import (
	"context"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

// RiskAuthority answers the checks the local cache cannot: balance
// sufficiency, daily loss, order rate and anything needing durable state.
// CheckOrder returns a *domain.RiskRejection when the order is refused.
type RiskAuthority interface {
	CheckOrder(ctx context.Context, o *domain.Order) error
	SymbolLimits(ctx context.Context) ([]domain.SymbolLimits, error)
	UserLimits(ctx context.Context) ([]domain.UserLimits, error)
}

type BalanceLedger interface {
	Available(ctx context.Context, accountID, asset string) (decimal.Decimal, error)
}

// PriceSink receives market price updates from the market data feed.
type PriceSink interface {
	OnPrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time)
}
