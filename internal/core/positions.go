package core

import (
	"sort"
	"sync"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type positionKey struct {
	account string
	symbol  string
}

var hundred = decimal.NewFromInt(100)

// PositionManager tracks net position and PnL per account and symbol. It is
// mutated only by applying committed trades.
type PositionManager struct {
	mu        sync.RWMutex
	positions map[positionKey]*domain.Position
	marks     map[string]decimal.Decimal
	logger    *zap.Logger
}

func NewPositionManager(logger *zap.Logger) *PositionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionManager{
		positions: make(map[positionKey]*domain.Position),
		marks:     make(map[string]decimal.Decimal),
		logger:    logger.Named("positions"),
	}
}

// ApplyTrade books both sides of a trade and records its price as the
// latest mark for the symbol.
func (m *PositionManager) ApplyTrade(t *domain.Trade) []domain.PositionEvent {
	fills := domain.FillsOf(t)
	events := make([]domain.PositionEvent, 0, len(fills))
	for _, f := range fills {
		events = append(events, m.UpdateFromTrade(f))
	}
	m.UpdateMarkPrice(t.Symbol, t.Price)
	return events
}

// UpdateFromTrade applies one fill to the owning account's position.
// Increasing exposure re-weights the average entry price; reducing it
// realizes PnL on the closed quantity and leaves the average untouched. A
// fill that crosses zero closes the old position and opens the remainder
// at the fill price.
func (m *PositionManager) UpdateFromTrade(f domain.Fill) domain.PositionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := positionKey{f.AccountID, f.Symbol}
	p, ok := m.positions[key]
	if !ok {
		p = &domain.Position{AccountID: f.AccountID, Symbol: f.Symbol}
		m.positions[key] = p
	}

	prev := p.Quantity
	delta := f.Quantity.Mul(f.Side.Sign())

	if prev.IsZero() || prev.Sign() == delta.Sign() {
		held, added := prev.Abs(), delta.Abs()
		p.AvgEntryPrice = held.Mul(p.AvgEntryPrice).Add(added.Mul(f.Price)).Div(held.Add(added))
		p.CostBasis = p.CostBasis.Add(added.Mul(f.Price))
		if prev.IsZero() {
			p.OpenedAt = f.Timestamp
		}
	} else {
		closed := decimal.Min(prev.Abs(), delta.Abs())
		var pnl decimal.Decimal
		if prev.IsPositive() {
			pnl = f.Price.Sub(p.AvgEntryPrice).Mul(closed)
		} else {
			pnl = p.AvgEntryPrice.Sub(f.Price).Mul(closed)
		}
		p.RealizedPnL = p.RealizedPnL.Add(pnl)
		p.CostBasis = p.CostBasis.Sub(closed.Mul(p.AvgEntryPrice))

		if opened := delta.Abs().Sub(closed); opened.IsPositive() {
			p.AvgEntryPrice = f.Price
			p.CostBasis = opened.Mul(f.Price)
			p.OpenedAt = f.Timestamp
		}
	}
	p.Quantity = prev.Add(delta)
	if p.Quantity.IsZero() {
		p.CostBasis = decimal.Zero
	}
	p.UpdatedAt = f.Timestamp

	ev := domain.PositionEvent{
		AccountID:    f.AccountID,
		Symbol:       f.Symbol,
		PrevQuantity: prev,
		NewQuantity:  p.Quantity,
		Side:         p.Side(),
		Position:     *p,
	}
	switch {
	case prev.IsZero():
		ev.Type = domain.PositionOpened
	case p.Quantity.IsZero():
		ev.Type = domain.PositionClosed
	default:
		ev.Type = domain.PositionUpdated
	}
	m.logger.Debug("position changed",
		zap.String("account_id", f.AccountID),
		zap.String("symbol", f.Symbol),
		zap.String("type", string(ev.Type)),
		zap.String("quantity", p.Quantity.String()))
	return ev
}

func (m *PositionManager) UpdateMarkPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	m.marks[symbol] = price
	m.mu.Unlock()
}

func (m *PositionManager) snapshot(p *domain.Position) domain.PositionSnapshot {
	s := domain.PositionSnapshot{Position: *p, Side: p.Side()}
	mark, ok := m.marks[p.Symbol]
	if !ok || p.Quantity.IsZero() {
		return s
	}
	s.MarkPrice = mark
	// Signed quantity already scales by side: short gains when mark < avg.
	s.UnrealizedPnL = mark.Sub(p.AvgEntryPrice).Mul(p.Quantity)
	if !p.CostBasis.IsZero() {
		s.UnrealizedPct = s.UnrealizedPnL.Div(p.CostBasis).Mul(hundred)
	}
	return s
}

func (m *PositionManager) GetPosition(accountID, symbol string) (domain.PositionSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[positionKey{accountID, symbol}]
	if !ok {
		return domain.PositionSnapshot{}, false
	}
	return m.snapshot(p), true
}

// Positions lists every position of an account, closed ones included.
func (m *PositionManager) Positions(accountID string) []domain.PositionSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.PositionSnapshot
	for k, p := range m.positions {
		if k.account == accountID {
			out = append(out, m.snapshot(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
