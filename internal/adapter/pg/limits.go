package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
)

var _ port.BalanceLedger = (*PgRepo)(nil)

func (p *PgRepo) LoadSymbolLimits(ctx context.Context) ([]domain.SymbolLimits, error) {
	rows, err := p.pool.Query(ctx, `
SELECT symbol, base_asset, quote_asset, trading_enabled, min_order_size, max_order_size,
  lot_size, max_price_deviation, max_user_position
FROM symbol_limits
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SymbolLimits
	for rows.Next() {
		var l domain.SymbolLimits
		if err := rows.Scan(&l.Symbol, &l.BaseAsset, &l.QuoteAsset, &l.TradingEnabled, &l.MinOrderSize,
			&l.MaxOrderSize, &l.LotSize, &l.MaxPriceDeviation, &l.MaxUserPosition); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (p *PgRepo) LoadUserLimits(ctx context.Context) ([]domain.UserLimits, error) {
	rows, err := p.pool.Query(ctx, `
SELECT user_id, trading_restricted, max_orders_per_second, max_daily_loss FROM user_limits
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UserLimits
	for rows.Next() {
		var l domain.UserLimits
		if err := rows.Scan(&l.UserID, &l.TradingRestricted, &l.MaxOrdersPerSecond, &l.MaxDailyLoss); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// Available returns the spendable balance of asset; a missing row is zero.
func (p *PgRepo) Available(ctx context.Context, accountID, asset string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := p.pool.QueryRow(ctx, `
SELECT available FROM balances WHERE account_id = $1 AND asset = $2
`, accountID, asset).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	return amount, err
}

// DailyRealizedPnL sums the realized PnL of positions the account closed
// since the start of the UTC day containing now.
func (p *PgRepo) DailyRealizedPnL(ctx context.Context, accountID string, now time.Time) (decimal.Decimal, error) {
	day := now.UTC().Truncate(24 * time.Hour)
	var total decimal.Decimal
	err := p.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(realized_pnl), 0) FROM closed_positions
WHERE account_id = $1 AND closed_at >= $2
`, accountID, day).Scan(&total)
	return total, err
}
