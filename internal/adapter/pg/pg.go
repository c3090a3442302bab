package pg

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

var (
	_ port.Repository      = (*PgRepo)(nil)
	_ port.PositionArchive = (*PgRepo)(nil)
)

type PgRepo struct {
	pool *pgxpool.Pool
}

// call Close when finish to work with database.
func NewPgRepo(ctx context.Context, dsn string) (*PgRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &PgRepo{pool: pool}, nil
}

func (p *PgRepo) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Migrate creates the tables if they do not exist yet.
func (p *PgRepo) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg: migrate: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (p *PgRepo) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *PgRepo) SaveOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO orders(id, account_id, user_id, client_order_id, symbol, side, type, time_in_force,
  price, stop_price, quantity, filled_quantity, status, expires_at, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  type = EXCLUDED.type,
  time_in_force = EXCLUDED.time_in_force,
  filled_quantity = EXCLUDED.filled_quantity,
  status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at
`, o.ID, o.AccountID, o.UserID, o.ClientOrderID, o.Symbol, string(o.Side), string(o.Type), string(o.TimeInForce),
		o.Price, o.StopPrice, o.Quantity, o.FilledQuantity, string(o.Status), nullTime(o.ExpiresAt), o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PgRepo) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, filled decimal.Decimal) error {
	res, err := p.pool.Exec(ctx, `
UPDATE orders SET status = $2, filled_quantity = $3, updated_at = NOW()
WHERE id = $1
`, orderID, string(status), filled)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return port.ErrNotFound
	}
	return nil
}

// CancelOrder marks an order as cancelled if it's still open
func (p *PgRepo) CancelOrder(ctx context.Context, orderID, accountID string) error {
	res, err := p.pool.Exec(ctx, `
UPDATE orders SET status = 'CANCELLED', updated_at = NOW()
WHERE id = $1 AND account_id = $2 AND status IN ('OPEN', 'PARTIALLY_FILLED')
`, orderID, accountID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.New("order not found or already closed")
	}
	return nil
}

// SaveTrades writes a batch atomically; a trade already stored is skipped.
func (p *PgRepo) SaveTrades(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	return p.withTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range trades {
			batch.Queue(`
INSERT INTO trades(id, symbol, maker_order_id, taker_order_id, maker_account_id, taker_account_id, taker_side, price, quantity, executed_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING
`, t.ID, t.Symbol, t.MakerOrderID, t.TakerOrderID, t.MakerAccountID, t.TakerAccountID, string(t.TakerSide), t.Price, t.Quantity, t.Timestamp)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

const orderColumns = `id, account_id, user_id, client_order_id, symbol, side, type, time_in_force,
  price, stop_price, quantity, filled_quantity, status, expires_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var side, typ, tif, status string
	var expires *time.Time
	if err := row.Scan(&o.ID, &o.AccountID, &o.UserID, &o.ClientOrderID, &o.Symbol, &side, &typ, &tif,
		&o.Price, &o.StopPrice, &o.Quantity, &o.FilledQuantity, &status, &expires, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Type = domain.OrderType(typ)
	o.TimeInForce = domain.TimeInForce(tif)
	o.Status = domain.OrderStatus(status)
	if expires != nil {
		o.ExpiresAt = *expires
	}
	return &o, nil
}

// GetOpenOrders returns pending stops and resting limit orders ordered by
// created_at ASC (FIFO). Market, IOC and FOK rows never rest, whatever
// their stored status.
func (p *PgRepo) GetOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE status IN ('OPEN', 'PARTIALLY_FILLED') AND filled_quantity < quantity
  AND (type IN ('STOP', 'STOP_LIMIT') OR (type = 'LIMIT' AND time_in_force NOT IN ('IOC', 'FOK')))
ORDER BY created_at ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (p *PgRepo) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(p.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	return o, err
}

// ArchivePosition stores a closed position with its realized PnL.
func (p *PgRepo) ArchivePosition(ctx context.Context, pos *domain.Position) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO closed_positions(account_id, symbol, realized_pnl, opened_at, closed_at)
VALUES($1,$2,$3,$4,$5)
`, pos.AccountID, pos.Symbol, pos.RealizedPnL, nullTime(pos.OpenedAt), pos.UpdatedAt)
	return err
}
