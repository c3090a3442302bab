package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"go.uber.org/zap"
)

// OrderBookManager owns one MatchingEngine per symbol and routes by symbol.
type OrderBookManager struct {
	mu      sync.RWMutex
	engines map[string]*MatchingEngine
	hub     *hub
	opts    []EngineOption
	logger  *zap.Logger
}

func NewOrderBookManager(logger *zap.Logger, opts ...EngineOption) *OrderBookManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &OrderBookManager{
		engines: make(map[string]*MatchingEngine),
		hub:     newHub(),
		logger:  logger.Named("books"),
	}
	m.opts = append(append([]EngineOption{}, opts...),
		WithEventSink(m.hub.broadcast),
		WithEngineLogger(logger))
	return m
}

// Engine returns the engine for symbol, creating it on first reference.
func (m *OrderBookManager) Engine(symbol string) *MatchingEngine {
	m.mu.RLock()
	e, ok := m.engines[symbol]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.engines[symbol]; ok {
		return e
	}
	e = NewMatchingEngine(symbol, m.opts...)
	m.engines[symbol] = e
	m.logger.Info("created matching engine", zap.String("symbol", symbol))
	return e
}

func (m *OrderBookManager) lookup(symbol string) (*MatchingEngine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[symbol]
	return e, ok
}

func (m *OrderBookManager) ProcessOrder(ctx context.Context, o *domain.Order) (*Execution, error) {
	return m.Engine(o.Symbol).ProcessOrder(ctx, o)
}

// Submit routes o to its engine and runs commit on that engine's worker.
func (m *OrderBookManager) Submit(ctx context.Context, o *domain.Order, commit CommitFunc) (*Execution, error) {
	return m.Engine(o.Symbol).Submit(ctx, o, commit)
}

func (m *OrderBookManager) CancelOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	e, ok := m.lookup(symbol)
	if !ok {
		return nil, ErrOrderNotFound
	}
	return e.CancelOrder(ctx, orderID)
}

func (m *OrderBookManager) LoadOrder(ctx context.Context, o *domain.Order) error {
	return m.Engine(o.Symbol).LoadOrder(ctx, o)
}

func (m *OrderBookManager) Snapshot(ctx context.Context, symbol string, depth int) (*domain.OrderbookSnapshot, error) {
	e, ok := m.lookup(symbol)
	if !ok {
		return nil, ErrUnknownSymbol
	}
	return e.Snapshot(ctx, depth)
}

func (m *OrderBookManager) Symbols() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.engines))
	for s := range m.engines {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (m *OrderBookManager) engineList() []*MatchingEngine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MatchingEngine, 0, len(m.engines))
	for _, e := range m.engines {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out
}

// Stats aggregates book statistics across every symbol.
func (m *OrderBookManager) Stats(ctx context.Context) (domain.VenueStats, error) {
	var vs domain.VenueStats
	for _, e := range m.engineList() {
		st, err := e.Stats(ctx)
		if err != nil {
			return vs, err
		}
		vs.Books = append(vs.Books, st)
		vs.TotalOrders += st.BidOrders + st.AskOrders
		vs.TotalTrades += st.Trades
	}
	vs.Symbols = len(vs.Books)
	return vs, nil
}

// FlushUpdates drains pending book deltas from every symbol.
func (m *OrderBookManager) FlushUpdates(ctx context.Context) (map[string][]domain.BookUpdate, error) {
	out := make(map[string][]domain.BookUpdate)
	for _, e := range m.engineList() {
		ups, err := e.FlushUpdates(ctx)
		if err != nil {
			return out, err
		}
		if len(ups) > 0 {
			out[e.symbol] = ups
		}
	}
	return out, nil
}

// ExpireOrders sweeps every book for GTD orders past their expiry.
func (m *OrderBookManager) ExpireOrders(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, e := range m.engineList() {
		exp, err := e.ExpireOrders(ctx, now)
		if err != nil {
			return out, err
		}
		out = append(out, exp...)
	}
	return out, nil
}

// Subscribe returns a stream of every engine event across the venue.
func (m *OrderBookManager) Subscribe(buffer int) *Subscription {
	return m.hub.subscribe(buffer)
}

func (m *OrderBookManager) Unsubscribe(sub *Subscription) {
	m.hub.unsubscribe(sub)
}

func (m *OrderBookManager) Close() {
	for _, e := range m.engineList() {
		e.Stop()
	}
	m.hub.closeAll()
}
