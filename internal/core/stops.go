package core

import (
	"errors"
	"sync"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrNotStopOrder = errors.New("not a stop order")

// StopOrderManager holds conditional orders outside the book until their
// trigger price is crossed.
type StopOrderManager struct {
	mu      sync.Mutex
	pending map[string][]*domain.Order
	symbols map[string]string
	logger  *zap.Logger
}

func NewStopOrderManager(logger *zap.Logger) *StopOrderManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StopOrderManager{
		pending: make(map[string][]*domain.Order),
		symbols: make(map[string]string),
		logger:  logger.Named("stops"),
	}
}

func (m *StopOrderManager) Add(o *domain.Order) error {
	if !o.Type.Conditional() || !o.StopPrice.IsPositive() {
		return ErrNotStopOrder
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.symbols[o.ID]; exists {
		return ErrDuplicateOrder
	}
	m.pending[o.Symbol] = append(m.pending[o.Symbol], o.Clone())
	m.symbols[o.ID] = o.Symbol
	return nil
}

// Remove takes a pending stop order out, typically on cancel.
func (m *StopOrderManager) Remove(orderID string) (*domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol, ok := m.symbols[orderID]
	if !ok {
		return nil, false
	}
	list := m.pending[symbol]
	for i, o := range list {
		if o.ID == orderID {
			m.pending[symbol] = append(list[:i], list[i+1:]...)
			if len(m.pending[symbol]) == 0 {
				delete(m.pending, symbol)
			}
			delete(m.symbols, orderID)
			return o, true
		}
	}
	return nil, false
}

func triggered(o *domain.Order, price decimal.Decimal) bool {
	if o.Side == domain.Buy {
		return price.GreaterThanOrEqual(o.StopPrice)
	}
	return price.LessThanOrEqual(o.StopPrice)
}

// CheckTriggers removes every pending order of symbol whose trigger is
// met at price and returns them converted for matching: stop becomes
// market, stop-limit becomes limit at its original limit price.
func (m *StopOrderManager) CheckTriggers(symbol string, price decimal.Decimal) []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.pending[symbol]
	if len(list) == 0 {
		return nil
	}
	var fired []*domain.Order
	keep := list[:0]
	for _, o := range list {
		if !triggered(o, price) {
			keep = append(keep, o)
			continue
		}
		delete(m.symbols, o.ID)
		fired = append(fired, convertTriggered(o))
	}
	if len(keep) == 0 {
		delete(m.pending, symbol)
	} else {
		m.pending[symbol] = keep
	}
	if len(fired) > 0 {
		m.logger.Debug("stop orders triggered",
			zap.String("symbol", symbol), zap.String("price", price.String()), zap.Int("count", len(fired)))
	}
	return fired
}

func convertTriggered(o *domain.Order) *domain.Order {
	c := o.Clone()
	switch o.Type {
	case domain.Stop:
		c.Type = domain.Market
		c.TimeInForce = domain.IOC
	case domain.StopLimit:
		c.Type = domain.Limit
		if c.TimeInForce == "" {
			c.TimeInForce = domain.GTC
		}
	}
	return c
}

func (m *StopOrderManager) Pending(symbol string) []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Order, 0, len(m.pending[symbol]))
	for _, o := range m.pending[symbol] {
		out = append(out, o.Clone())
	}
	return out
}

func (m *StopOrderManager) Get(orderID string) (*domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol, ok := m.symbols[orderID]
	if !ok {
		return nil, false
	}
	for _, o := range m.pending[symbol] {
		if o.ID == orderID {
			return o.Clone(), true
		}
	}
	return nil, false
}

func (m *StopOrderManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.symbols)
}
