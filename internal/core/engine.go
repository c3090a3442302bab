package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Execution is the committed outcome of one order against the book.
type Execution struct {
	Order  *domain.Order
	Trades []*domain.Trade
	// Makers holds the state of each touched resting order after its fill,
	// one entry per trade.
	Makers []*domain.Order
}

func (x *Execution) AveragePrice() decimal.Decimal {
	qty, notional := decimal.Zero, decimal.Zero
	for _, t := range x.Trades {
		qty = qty.Add(t.Quantity)
		notional = notional.Add(t.Notional())
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty)
}

// LastPrice is the price of the final trade, the one furthest from the top
// of book.
func (x *Execution) LastPrice() (decimal.Decimal, bool) {
	if len(x.Trades) == 0 {
		return decimal.Zero, false
	}
	return x.Trades[len(x.Trades)-1].Price, true
}

// MatchingEngine owns the book of one symbol. Every operation runs on a
// single worker goroutine so orders for the symbol are matched strictly in
// admission order.
type MatchingEngine struct {
	symbol string
	book   *OrderBook
	tasks  chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	sink   func(domain.EngineEvent)
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	trades uint64
}

type EngineOption func(*MatchingEngine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *MatchingEngine) { e.now = now }
}

func WithIDGenerator(gen func() string) EngineOption {
	return func(e *MatchingEngine) { e.newID = gen }
}

func WithEventSink(sink func(domain.EngineEvent)) EngineOption {
	return func(e *MatchingEngine) { e.sink = sink }
}

func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *MatchingEngine) { e.logger = l }
}

func NewMatchingEngine(symbol string, opts ...EngineOption) *MatchingEngine {
	e := &MatchingEngine{
		symbol: symbol,
		book:   NewOrderBook(symbol),
		tasks:  make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.book.now = e.now
	e.logger = e.logger.Named("engine").With(zap.String("symbol", symbol))
	go e.run()
	return e
}

func (e *MatchingEngine) Symbol() string { return e.symbol }

func (e *MatchingEngine) run() {
	defer close(e.done)
	for {
		select {
		case t := <-e.tasks:
			t()
		case <-e.quit:
			return
		}
	}
}

// do runs fn on the worker. Once admitted, fn always completes even if ctx
// is cancelled while waiting.
func (e *MatchingEngine) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("recovered panic in matching worker", zap.Any("panic", r), zap.Stack("stack"))
				result <- fmt.Errorf("%w: %v", ErrInternal, r)
			}
		}()
		result <- fn()
	}
	select {
	case e.tasks <- task:
	case <-e.quit:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-result
}

// Stop terminates the worker. Pending callers get ErrEngineStopped.
func (e *MatchingEngine) Stop() {
	e.once.Do(func() { close(e.quit) })
	<-e.done
}

func (e *MatchingEngine) emit(ev domain.EngineEvent) {
	if e.sink == nil {
		return
	}
	ev.Symbol = e.symbol
	ev.Timestamp = e.now()
	e.sink(ev)
}

// BookView is the read side of a book handed to commit hooks.
type BookView interface {
	GetSnapshot(depth int) *domain.OrderbookSnapshot
}

// CommitFunc runs on the symbol worker right after a successful match, so
// executions of one symbol are applied in match order. It must not call
// back into the engine.
type CommitFunc func(exec *Execution, book BookView)

// ProcessOrder matches a market or limit order against the book. Business
// rejections are returned as errors and leave the book untouched.
func (e *MatchingEngine) ProcessOrder(ctx context.Context, o *domain.Order) (*Execution, error) {
	return e.Submit(ctx, o, nil)
}

// Submit is ProcessOrder with a commit hook that runs inside the same
// worker turn as the match.
func (e *MatchingEngine) Submit(ctx context.Context, o *domain.Order, commit CommitFunc) (*Execution, error) {
	var exec *Execution
	err := e.do(ctx, func() error {
		var err error
		exec, err = e.match(o.Clone())
		if err != nil {
			return err
		}
		if commit != nil {
			e.commit(commit, exec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// commit runs the hook with its own recovery: the match is already applied
// to the book and must still be reported to the caller.
func (e *MatchingEngine) commit(fn CommitFunc, exec *Execution) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("recovered panic in commit hook",
				zap.String("order_id", exec.Order.ID), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn(exec, e.book)
}

type plannedFill struct {
	maker *domain.Order
	qty   decimal.Decimal
}

// match plans the whole walk, builds trades and the taker's final state,
// and only then writes to the book. A failure before the write phase
// leaves the book as it was.
func (e *MatchingEngine) match(o *domain.Order) (*Execution, error) {
	if o.Symbol != e.symbol {
		return nil, fmt.Errorf("order symbol %s does not match book %s", o.Symbol, e.symbol)
	}
	if o.Type.Conditional() {
		return nil, ErrConditionalOrder
	}
	if _, dup := e.book.Order(o.ID); dup {
		return nil, ErrDuplicateOrder
	}
	now := e.now()
	if o.Type == domain.Limit && o.Expired(now) {
		return nil, ErrOrderExpired
	}

	var limit *decimal.Decimal
	if o.Type == domain.Limit {
		p := o.Price
		limit = &p
	}
	candidates := e.book.GetMatchingOrders(o.Side, limit)

	if o.Type == domain.Limit && o.TimeInForce == domain.FOK && !coverable(candidates, o.Remaining()) {
		return nil, ErrFOKUnfillable
	}

	var plan []plannedFill
	rem := o.Remaining()
	for _, maker := range candidates {
		if !rem.IsPositive() {
			break
		}
		qty := decimal.Min(rem, maker.Remaining())
		plan = append(plan, plannedFill{maker: maker, qty: qty})
		rem = rem.Sub(qty)
	}
	if o.Type == domain.Market && len(plan) == 0 {
		return nil, ErrNoLiquidity
	}

	exec := &Execution{
		Trades: make([]*domain.Trade, 0, len(plan)),
		Makers: make([]*domain.Order, 0, len(plan)),
	}
	for _, f := range plan {
		exec.Trades = append(exec.Trades, &domain.Trade{
			ID:             e.newID(),
			Symbol:         e.symbol,
			MakerOrderID:   f.maker.ID,
			TakerOrderID:   o.ID,
			MakerAccountID: f.maker.AccountID,
			TakerAccountID: o.AccountID,
			TakerSide:      o.Side,
			Price:          f.maker.Price,
			Quantity:       f.qty,
			Timestamp:      now,
		})
		o.FilledQuantity = o.FilledQuantity.Add(f.qty)
	}

	switch {
	case o.Type == domain.Market:
		if o.IsFilled() {
			o.Status = domain.Filled
		} else {
			o.Status = domain.PartiallyFilled
		}
	case o.TimeInForce == domain.IOC:
		switch {
		case o.IsFilled():
			o.Status = domain.Filled
		case o.FilledQuantity.IsPositive():
			o.Status = domain.PartiallyFilled
		default:
			o.Status = domain.Cancelled
		}
	case o.TimeInForce == domain.FOK:
		o.Status = domain.Filled
	default:
		o.DeriveStatus()
	}
	o.UpdatedAt = now

	for _, f := range plan {
		e.book.UpdateOrderFill(f.maker.ID, f.maker.FilledQuantity.Add(f.qty))
		exec.Makers = append(exec.Makers, f.maker.Clone())
	}
	if o.Rests() && !o.IsFilled() {
		if _, err := e.book.AddOrder(o); err != nil {
			// Unreachable after the duplicate check above.
			e.logger.Error("resting taker failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	e.trades += uint64(len(exec.Trades))
	exec.Order = o.Clone()

	for i, t := range exec.Trades {
		e.emit(domain.EngineEvent{Type: domain.EventTrade, Trade: t})
		e.emit(domain.EngineEvent{Type: domain.EventOrderUpdated, Order: exec.Makers[i]})
	}
	e.emit(domain.EngineEvent{Type: domain.EventOrderAccepted, Order: exec.Order.Clone()})
	return exec, nil
}

// coverable reports whether the candidates hold at least qty in total.
func coverable(candidates []*domain.Order, qty decimal.Decimal) bool {
	avail := decimal.Zero
	for _, c := range candidates {
		avail = avail.Add(c.Remaining())
		if avail.GreaterThanOrEqual(qty) {
			return true
		}
	}
	return false
}

// CancelOrder removes a resting order. Orders that already left the book
// report ErrOrderNotFound.
func (e *MatchingEngine) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var out *domain.Order
	err := e.do(ctx, func() error {
		o, ok := e.book.Order(orderID)
		if !ok {
			return ErrOrderNotFound
		}
		e.book.RemoveOrder(orderID)
		o.Status = domain.Cancelled
		o.UpdatedAt = e.now()
		out = o.Clone()
		e.emit(domain.EngineEvent{Type: domain.EventOrderCancelled, Order: out.Clone()})
		return nil
	})
	return out, err
}

// LoadOrder puts a recovered order back on the book at its existing fill
// without matching it.
func (e *MatchingEngine) LoadOrder(ctx context.Context, o *domain.Order) error {
	return e.do(ctx, func() error {
		if o.Symbol != e.symbol {
			return fmt.Errorf("order symbol %s does not match book %s", o.Symbol, e.symbol)
		}
		if o.Type.Conditional() {
			return ErrConditionalOrder
		}
		if o.Type != domain.Limit || o.Status.Terminal() || !o.Remaining().IsPositive() {
			return fmt.Errorf("%w: %s", ErrNotResting, o.ID)
		}
		c := o.Clone()
		c.DeriveStatus()
		_, err := e.book.AddOrder(c)
		return err
	})
}

// ExpireOrders cancels resting GTD orders whose expiry is at or before now.
func (e *MatchingEngine) ExpireOrders(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	var out []*domain.Order
	err := e.do(ctx, func() error {
		for _, o := range e.book.Resting() {
			if !o.Expired(now) {
				continue
			}
			e.book.RemoveOrder(o.ID)
			o.Status = domain.Cancelled
			o.UpdatedAt = now
			out = append(out, o.Clone())
			e.emit(domain.EngineEvent{Type: domain.EventOrderCancelled, Order: o.Clone(), Reason: ErrOrderExpired.Error()})
		}
		return nil
	})
	return out, err
}

func (e *MatchingEngine) Snapshot(ctx context.Context, depth int) (*domain.OrderbookSnapshot, error) {
	var snap *domain.OrderbookSnapshot
	err := e.do(ctx, func() error {
		snap = e.book.GetSnapshot(depth)
		return nil
	})
	return snap, err
}

func (e *MatchingEngine) Stats(ctx context.Context) (domain.BookStats, error) {
	var st domain.BookStats
	err := e.do(ctx, func() error {
		st = e.book.Stats()
		st.Trades = e.trades
		return nil
	})
	return st, err
}

func (e *MatchingEngine) FlushUpdates(ctx context.Context) ([]domain.BookUpdate, error) {
	var out []domain.BookUpdate
	err := e.do(ctx, func() error {
		out = e.book.FlushUpdates()
		return nil
	})
	return out, err
}

// Order returns a copy of a resting order.
func (e *MatchingEngine) Order(ctx context.Context, orderID string) (*domain.Order, error) {
	var out *domain.Order
	err := e.do(ctx, func() error {
		o, ok := e.book.Order(orderID)
		if !ok {
			return ErrOrderNotFound
		}
		out = o.Clone()
		return nil
	})
	return out, err
}
