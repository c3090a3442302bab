package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrNotOwner = errors.New("order does not belong to account")

type orderRef struct {
	accountID   string
	symbol      string
	conditional bool
}

type idempotencyEntry struct {
	done   chan struct{}
	result PlaceOrderResult
	at     time.Time
}

type OrderManagerOption func(*OrderManager)

func WithPublisher(p port.EventPublisher) OrderManagerOption {
	return func(m *OrderManager) { m.publisher = p }
}

func WithSnapshotCache(c port.Cache, depth int) OrderManagerOption {
	return func(m *OrderManager) { m.cache, m.snapshotDepth = c, depth }
}

func WithPositionArchive(a port.PositionArchive) OrderManagerOption {
	return func(m *OrderManager) { m.archive = a }
}

func WithTradeSpool(s port.TradeSpool) OrderManagerOption {
	return func(m *OrderManager) { m.spool = s }
}

func WithBatching(cfg BatcherConfig) OrderManagerOption {
	return func(m *OrderManager) { m.batchCfg = cfg }
}

func WithExpiryInterval(d time.Duration) OrderManagerOption {
	return func(m *OrderManager) { m.expiryInterval = d }
}

// WithIdempotencyTTL bounds how long a client order id is remembered.
func WithIdempotencyTTL(d time.Duration) OrderManagerOption {
	return func(m *OrderManager) { m.idemTTL = d }
}

func WithLogger(l *zap.Logger) OrderManagerOption {
	return func(m *OrderManager) { m.logger = l }
}

func WithOrderClock(now func() time.Time) OrderManagerOption {
	return func(m *OrderManager) { m.now = now }
}

// OrderManager validates client intents, gates them through risk, routes
// them to the books or the stop manager and fans the results out to
// positions, persistence and eventing.
type OrderManager struct {
	books     *OrderBookManager
	stops     *StopOrderManager
	positions *PositionManager
	risk      *RiskGateway
	repo      port.Repository
	publisher port.EventPublisher
	cache     port.Cache
	archive   port.PositionArchive
	spool     port.TradeSpool
	batcher   *TradeBatcher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	batchCfg       BatcherConfig
	expiryInterval time.Duration
	snapshotDepth  int
	idemTTL        time.Duration

	mu       sync.RWMutex
	registry map[string]orderRef
	idem     map[string]*idempotencyEntry

	effects chan func(context.Context)
	running atomic.Bool
}

func NewOrderManager(
	books *OrderBookManager,
	stops *StopOrderManager,
	positions *PositionManager,
	risk *RiskGateway,
	repo port.Repository,
	opts ...OrderManagerOption,
) *OrderManager {
	m := &OrderManager{
		books:          books,
		stops:          stops,
		positions:      positions,
		risk:           risk,
		repo:           repo,
		logger:         zap.NewNop(),
		now:            time.Now,
		newID:          uuid.NewString,
		expiryInterval: time.Second,
		snapshotDepth:  50,
		idemTTL:        24 * time.Hour,
		registry:       make(map[string]orderRef),
		idem:           make(map[string]*idempotencyEntry),
		effects:        make(chan func(context.Context), 4096),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("orders")
	m.batcher = NewTradeBatcher(m.batchCfg, repo, m.spool, m.logger)
	return m
}

func (m *OrderManager) Batcher() *TradeBatcher { return m.batcher }

// Run drives the background work: side effects, trade batching, limit
// refresh and GTD expiry. It returns after ctx ends and pending work has
// been flushed.
func (m *OrderManager) Run(ctx context.Context) error {
	m.running.Store(true)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.runEffects(gctx)
		return nil
	})
	g.Go(func() error {
		m.batcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		m.risk.Run(gctx)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(m.expiryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := m.ExpireOrders(gctx); err != nil && !errors.Is(err, context.Canceled) {
					m.logger.Warn("order expiry sweep failed", zap.Error(err))
				}
				m.pruneIdempotency()
			}
		}
	})
	return g.Wait()
}

func (m *OrderManager) runEffects(ctx context.Context) {
	for {
		select {
		case fn := <-m.effects:
			fn(ctx)
		case <-ctx.Done():
			m.running.Store(false)
			drain, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case fn := <-m.effects:
					fn(drain)
				default:
					return
				}
			}
		}
	}
}

// enqueue schedules a side effect after a committed operation. Without a
// running worker the effect executes inline.
func (m *OrderManager) enqueue(ctx context.Context, fn func(context.Context)) {
	if !m.running.Load() {
		fn(context.WithoutCancel(ctx))
		return
	}
	select {
	case m.effects <- fn:
	case <-ctx.Done():
		fn(context.WithoutCancel(ctx))
	}
}

func (m *OrderManager) track(o *domain.Order) {
	m.mu.Lock()
	m.registry[o.ID] = orderRef{accountID: o.AccountID, symbol: o.Symbol, conditional: o.Type.Conditional()}
	m.mu.Unlock()
}

func (m *OrderManager) untrack(orderID string) {
	m.mu.Lock()
	delete(m.registry, orderID)
	m.mu.Unlock()
}

func (m *OrderManager) lookup(orderID string) (orderRef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.registry[orderID]
	return ref, ok
}

// reserve claims an idempotency key. The first caller owns it; later
// callers get the owner's entry to wait on.
func (m *OrderManager) reserve(key string) (*idempotencyEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.idem[key]; ok {
		return e, false
	}
	e := &idempotencyEntry{done: make(chan struct{}), at: m.now()}
	m.idem[key] = e
	return e, true
}

// pruneIdempotency forgets completed client order ids older than the TTL.
// In-flight entries stay so waiters are never orphaned.
func (m *OrderManager) pruneIdempotency() int {
	cutoff := m.now().Add(-m.idemTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, e := range m.idem {
		select {
		case <-e.done:
		default:
			continue
		}
		if e.at.Before(cutoff) {
			delete(m.idem, key)
			n++
		}
	}
	return n
}

// PlaceOrder admits one client order.
func (m *OrderManager) PlaceOrder(ctx context.Context, in PlaceOrderInput) (res PlaceOrderResult) {
	intent, errs := in.Intent()
	if len(errs) > 0 {
		return PlaceOrderResult{Success: false, Errors: errs}
	}
	hdr := intent.Header()
	if hdr.ClientOrderID != "" {
		entry, owner := m.reserve(hdr.AccountID + "/" + hdr.ClientOrderID)
		if !owner {
			select {
			case <-entry.done:
				return entry.result
			case <-ctx.Done():
				return PlaceOrderResult{Success: false, Errors: []string{ctx.Err().Error()}}
			}
		}
		defer func() {
			entry.result = res
			close(entry.done)
		}()
	}
	return m.submit(ctx, intent.NewOrder(m.newID(), m.now()))
}

func (m *OrderManager) submit(ctx context.Context, o *domain.Order) PlaceOrderResult {
	ap, err := m.risk.Check(ctx, o)
	if err != nil {
		return m.reject(ctx, o, err)
	}

	if o.Type.Conditional() {
		// Persist before the stop becomes triggerable so a fill can never be
		// overwritten by the pending row.
		accepted := o.Clone()
		m.enqueue(ctx, func(ctx context.Context) {
			m.persistOrder(ctx, accepted)
			m.publish(ctx, domain.TopicOrders, accepted.Symbol, domain.EngineEvent{
				Type: domain.EventOrderAccepted, Symbol: accepted.Symbol, Order: accepted, Timestamp: m.now(),
			})
		})
		m.track(o)
		if err := m.stops.Add(o); err != nil {
			m.untrack(o.ID)
			return m.reject(ctx, o, err)
		}
		return PlaceOrderResult{
			Success:           true,
			OrderID:           o.ID,
			Status:            domain.Open,
			FilledQuantity:    decimal.Zero,
			RemainingQuantity: o.Quantity,
			Warnings:          ap.Warnings,
		}
	}

	exec, err := m.books.Submit(ctx, o, m.committer(ctx))
	if err != nil {
		return m.reject(ctx, o, err)
	}
	if last, ok := exec.LastPrice(); ok {
		m.triggerStops(ctx, o.Symbol, last)
	}
	return PlaceOrderResult{
		Success:           true,
		OrderID:           exec.Order.ID,
		Status:            exec.Order.Status,
		FilledQuantity:    exec.Order.FilledQuantity,
		RemainingQuantity: exec.Order.Remaining(),
		AveragePrice:      exec.AveragePrice(),
		Trades:            exec.Trades,
		Warnings:          ap.Warnings,
	}
}

func (m *OrderManager) reject(ctx context.Context, o *domain.Order, err error) PlaceOrderResult {
	res := PlaceOrderResult{
		Success:           false,
		OrderID:           o.ID,
		Status:            domain.Rejected,
		FilledQuantity:    decimal.Zero,
		RemainingQuantity: o.Quantity,
		Errors:            []string{err.Error()},
	}
	var rej *domain.RiskRejection
	switch {
	case errors.As(err, &rej):
		res.RejectCode = rej.Code
		m.logger.Debug("order rejected by risk", zap.String("order_id", o.ID), zap.String("code", string(rej.Code)))
	case IsMatchingRejection(err) || errors.Is(err, ErrNotStopOrder):
		m.logger.Debug("order rejected by matching", zap.String("order_id", o.ID), zap.Error(err))
	default:
		m.logger.Error("order processing failed", zap.String("order_id", o.ID), zap.String("symbol", o.Symbol), zap.Error(err))
	}

	rejected := o.Clone()
	rejected.Status = domain.Rejected
	rejected.UpdatedAt = m.now()
	m.enqueue(ctx, func(ctx context.Context) {
		m.persistOrder(ctx, rejected)
		m.publish(ctx, domain.TopicOrders, rejected.Symbol, domain.EngineEvent{
			Type: domain.EventOrderRejected, Symbol: rejected.Symbol, Order: rejected, Reason: err.Error(), Timestamp: m.now(),
		})
	})
	return res
}

func (m *OrderManager) committer(ctx context.Context) CommitFunc {
	return func(exec *Execution, book BookView) { m.commit(ctx, exec, book) }
}

// commit applies an execution to the registry, positions and the trade
// batcher, and schedules its persistence and events. It runs on the symbol
// worker, so executions are applied and enqueued in match order.
func (m *OrderManager) commit(ctx context.Context, exec *Execution, book BookView) {
	taker := exec.Order
	if taker.Recoverable() {
		m.track(taker)
	} else {
		m.untrack(taker.ID)
	}
	for _, mk := range exec.Makers {
		if mk.Status == domain.Filled {
			m.untrack(mk.ID)
		}
	}

	var posEvents []domain.PositionEvent
	for _, t := range exec.Trades {
		posEvents = append(posEvents, m.positions.ApplyTrade(t)...)
	}
	m.batcher.Add(exec.Trades...)

	var snap *domain.OrderbookSnapshot
	if m.cache != nil {
		snap = book.GetSnapshot(m.snapshotDepth)
	}
	m.enqueue(ctx, func(ctx context.Context) {
		m.persistOrder(ctx, taker)
		for _, mk := range exec.Makers {
			if err := m.repo.UpdateOrderStatus(ctx, mk.ID, mk.Status, mk.FilledQuantity); err != nil {
				m.logger.Warn("maker status update failed", zap.String("order_id", mk.ID), zap.Error(err))
			}
		}
		m.publish(ctx, domain.TopicOrders, taker.Symbol, domain.EngineEvent{
			Type: domain.EventOrderAccepted, Symbol: taker.Symbol, Order: taker, Timestamp: m.now(),
		})
		for i, t := range exec.Trades {
			m.publish(ctx, domain.TopicTrades, t.Symbol, domain.EngineEvent{
				Type: domain.EventTrade, Symbol: t.Symbol, Trade: t, Timestamp: t.Timestamp,
			})
			m.publish(ctx, domain.TopicOrders, t.Symbol, domain.EngineEvent{
				Type: domain.EventOrderUpdated, Symbol: t.Symbol, Order: exec.Makers[i], Timestamp: t.Timestamp,
			})
		}
		for i := range posEvents {
			ev := posEvents[i]
			m.publish(ctx, domain.TopicPositions, ev.AccountID, ev)
			if ev.Type == domain.PositionClosed && m.archive != nil {
				if err := m.archive.ArchivePosition(ctx, &ev.Position); err != nil {
					m.logger.Warn("position archive failed", zap.String("account_id", ev.AccountID), zap.String("symbol", ev.Symbol), zap.Error(err))
				}
			}
		}
		m.cacheSnapshot(ctx, snap)
	})
}

// triggerStops evaluates pending stops of symbol at price and submits the
// triggered ones. Their own trades may trigger further stops.
func (m *OrderManager) triggerStops(ctx context.Context, symbol string, price decimal.Decimal) {
	queue := m.stops.CheckTriggers(symbol, price)
	for len(queue) > 0 {
		o := queue[0]
		queue = queue[1:]
		m.untrack(o.ID)
		exec, err := m.books.Submit(ctx, o, m.committer(ctx))
		if err != nil {
			m.reject(ctx, o, err)
			continue
		}
		if last, ok := exec.LastPrice(); ok {
			queue = append(queue, m.stops.CheckTriggers(symbol, last)...)
		}
	}
}

// OnPrice takes a market data price update for symbol.
func (m *OrderManager) OnPrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) {
	m.risk.UpdatePrice(symbol, price, at)
	m.positions.UpdateMarkPrice(symbol, price)
	m.triggerStops(ctx, symbol, price)
}

// CancelOrder cancels a resting or pending stop order owned by the account.
func (m *OrderManager) CancelOrder(ctx context.Context, in CancelOrderInput) CancelOrderResult {
	if err := validate.Struct(in); err != nil {
		return CancelOrderResult{Success: false, Error: validationErrors(err)[0]}
	}
	ref, ok := m.lookup(in.OrderID)
	if !ok {
		return CancelOrderResult{Success: false, Error: ErrOrderNotFound.Error()}
	}
	if ref.accountID != in.AccountID {
		return CancelOrderResult{Success: false, Error: ErrNotOwner.Error()}
	}

	var cancelled *domain.Order
	if ref.conditional {
		o, ok := m.stops.Remove(in.OrderID)
		if !ok {
			return CancelOrderResult{Success: false, Error: ErrOrderNotFound.Error()}
		}
		o.Status = domain.Cancelled
		o.UpdatedAt = m.now()
		cancelled = o
	} else {
		o, err := m.books.CancelOrder(ctx, ref.symbol, in.OrderID)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				m.untrack(in.OrderID)
			}
			return CancelOrderResult{Success: false, Error: err.Error()}
		}
		cancelled = o
	}
	m.untrack(in.OrderID)

	// Effects never call into an engine; a worker blocked on a full effect
	// queue would otherwise wait on itself.
	var snap *domain.OrderbookSnapshot
	if !ref.conditional {
		snap = m.bookSnapshot(ctx, cancelled.Symbol)
	}
	m.enqueue(ctx, func(ctx context.Context) {
		if err := m.repo.CancelOrder(ctx, cancelled.ID, cancelled.AccountID); err != nil {
			m.logger.Warn("cancel persistence failed", zap.String("order_id", cancelled.ID), zap.Error(err))
		}
		m.publish(ctx, domain.TopicOrders, cancelled.Symbol, domain.EngineEvent{
			Type: domain.EventOrderCancelled, Symbol: cancelled.Symbol, Order: cancelled, Timestamp: m.now(),
		})
		m.cacheSnapshot(ctx, snap)
	})
	return CancelOrderResult{Success: true}
}

// ExpireOrders cancels GTD orders past their expiry.
func (m *OrderManager) ExpireOrders(ctx context.Context) error {
	expired, err := m.books.ExpireOrders(ctx, m.now())
	for _, o := range expired {
		m.untrack(o.ID)
		o := o
		m.enqueue(ctx, func(ctx context.Context) {
			if err := m.repo.UpdateOrderStatus(ctx, o.ID, domain.Cancelled, o.FilledQuantity); err != nil {
				m.logger.Warn("expiry persistence failed", zap.String("order_id", o.ID), zap.Error(err))
			}
			m.publish(ctx, domain.TopicOrders, o.Symbol, domain.EngineEvent{
				Type: domain.EventOrderCancelled, Symbol: o.Symbol, Order: o, Reason: ErrOrderExpired.Error(), Timestamp: m.now(),
			})
		})
	}
	return err
}

func (m *OrderManager) persistOrder(ctx context.Context, o *domain.Order) {
	if err := m.repo.SaveOrder(ctx, o); err != nil {
		m.logger.Warn("order persistence failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (m *OrderManager) publish(ctx context.Context, topic, key string, ev any) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, topic, key, ev); err != nil {
		m.logger.Warn("event publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (m *OrderManager) bookSnapshot(ctx context.Context, symbol string) *domain.OrderbookSnapshot {
	if m.cache == nil {
		return nil
	}
	snap, err := m.books.Snapshot(ctx, symbol, m.snapshotDepth)
	if err != nil {
		return nil
	}
	return snap
}

func (m *OrderManager) cacheSnapshot(ctx context.Context, snap *domain.OrderbookSnapshot) {
	if m.cache == nil || snap == nil {
		return
	}
	if err := m.cache.SetOrderbook(ctx, snap.Symbol, snap); err != nil {
		m.logger.Debug("snapshot cache update failed", zap.String("symbol", snap.Symbol), zap.Error(err))
	}
}

// Orderbook serves the live book, falling back to the snapshot cache for
// symbols this process has not loaded.
func (m *OrderManager) Orderbook(ctx context.Context, symbol string, depth int) (*domain.OrderbookSnapshot, error) {
	snap, err := m.books.Snapshot(ctx, symbol, depth)
	if err == nil || !errors.Is(err, ErrUnknownSymbol) || m.cache == nil {
		return snap, err
	}
	if cached, cerr := m.cache.GetOrderbook(ctx, symbol); cerr == nil && cached != nil {
		return cached, nil
	}
	return nil, err
}

// Order looks an order up in the live state first, then in the repository.
func (m *OrderManager) Order(ctx context.Context, orderID string) (*domain.Order, error) {
	if o, ok := m.stops.Get(orderID); ok {
		return o, nil
	}
	if ref, ok := m.lookup(orderID); ok {
		if e, ok := m.books.lookup(ref.symbol); ok {
			if o, err := e.Order(ctx, orderID); err == nil {
				return o, nil
			}
		}
	}
	return m.repo.GetOrder(ctx, orderID)
}

func (m *OrderManager) Positions(accountID string) []domain.PositionSnapshot {
	return m.positions.Positions(accountID)
}

func (m *OrderManager) Position(accountID, symbol string) (domain.PositionSnapshot, bool) {
	return m.positions.GetPosition(accountID, symbol)
}

func (m *OrderManager) Stats(ctx context.Context) (domain.VenueStats, error) {
	return m.books.Stats(ctx)
}

func (m *OrderManager) Books() *OrderBookManager { return m.books }
