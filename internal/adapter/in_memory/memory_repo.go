package in_memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
)

var (
	_ port.Repository      = (*MemoryRepo)(nil)
	_ port.PositionArchive = (*MemoryRepo)(nil)
	_ port.BalanceLedger   = (*MemoryRepo)(nil)
)

// MemoryRepo keeps orders, trades, closed positions and risk reference
// data in maps. It backs dev mode and tests.
type MemoryRepo struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	trades   map[string]*domain.Trade
	closed   []domain.Position
	symbols  map[string]domain.SymbolLimits
	users    map[string]domain.UserLimits
	balances map[string]decimal.Decimal

	// FailTrades makes SaveTrades fail, for exercising retry paths.
	FailTrades error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders:   make(map[string]*domain.Order),
		trades:   make(map[string]*domain.Trade),
		symbols:  make(map[string]domain.SymbolLimits),
		users:    make(map[string]domain.UserLimits),
		balances: make(map[string]decimal.Decimal),
	}
}

func (r *MemoryRepo) SaveOrder(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *MemoryRepo) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, filled decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return port.ErrNotFound
	}
	o.Status = status
	o.FilledQuantity = filled
	return nil
}

func (r *MemoryRepo) CancelOrder(ctx context.Context, orderID, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.AccountID != accountID || o.Status.Terminal() {
		return errors.New("order not found or already closed")
	}
	o.Status = domain.Cancelled
	return nil
}

func (r *MemoryRepo) SaveTrades(ctx context.Context, trades []*domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailTrades != nil {
		return r.FailTrades
	}
	for _, t := range trades {
		r.trades[t.ID] = t
	}
	return nil
}

func (r *MemoryRepo) GetOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Order
	for _, o := range r.orders {
		if o.Recoverable() {
			res = append(res, o.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (r *MemoryRepo) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryRepo) Trades() []*domain.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Trade, 0, len(r.trades))
	for _, t := range r.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (r *MemoryRepo) ArchivePosition(ctx context.Context, p *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, *p)
	return nil
}

func (r *MemoryRepo) ClosedPositions() []domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Position(nil), r.closed...)
}

func (r *MemoryRepo) PutSymbolLimits(l domain.SymbolLimits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.symbols[l.Symbol] = l
}

func (r *MemoryRepo) PutUserLimits(l domain.UserLimits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[l.UserID] = l
}

func (r *MemoryRepo) SetBalance(accountID, asset string, amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[accountID+"/"+asset] = amount
}

func (r *MemoryRepo) LoadSymbolLimits(ctx context.Context) ([]domain.SymbolLimits, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SymbolLimits, 0, len(r.symbols))
	for _, l := range r.symbols {
		out = append(out, l)
	}
	return out, nil
}

func (r *MemoryRepo) LoadUserLimits(ctx context.Context) ([]domain.UserLimits, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UserLimits, 0, len(r.users))
	for _, l := range r.users {
		out = append(out, l)
	}
	return out, nil
}

func (r *MemoryRepo) Available(ctx context.Context, accountID, asset string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[accountID+"/"+asset], nil
}

func (r *MemoryRepo) DailyRealizedPnL(ctx context.Context, accountID string, now time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day := now.UTC().Truncate(24 * time.Hour)
	total := decimal.Zero
	for _, p := range r.closed {
		if p.AccountID == accountID && !p.UpdatedAt.Before(day) {
			total = total.Add(p.RealizedPnL)
		}
	}
	return total, nil
}
