package core

import (
	"sort"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

// priceLevel is a FIFO queue of resting orders at one price.
type priceLevel struct {
	price  decimal.Decimal
	orders []*domain.Order
}

func (l *priceLevel) volume() decimal.Decimal {
	v := decimal.Zero
	for _, o := range l.orders {
		v = v.Add(o.Remaining())
	}
	return v
}

func (l *priceLevel) remove(id string) bool {
	for i, o := range l.orders {
		if o.ID == id {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return true
		}
	}
	return false
}

// bookSide keeps levels best price first: bids descending, asks ascending.
type bookSide struct {
	side   domain.Side
	levels []*priceLevel
}

func (s *bookSide) better(a, b decimal.Decimal) bool {
	if s.side == domain.Buy {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

func (s *bookSide) find(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		return !s.better(s.levels[i].price, price)
	})
	return i, i < len(s.levels) && s.levels[i].price.Equal(price)
}

func (s *bookSide) insert(o *domain.Order) {
	i, ok := s.find(o.Price)
	if ok {
		s.levels[i].orders = append(s.levels[i].orders, o)
		return
	}
	lvl := &priceLevel{price: o.Price, orders: []*domain.Order{o}}
	s.levels = append(s.levels, nil)
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = lvl
}

func (s *bookSide) remove(o *domain.Order) bool {
	i, ok := s.find(o.Price)
	if !ok || !s.levels[i].remove(o.ID) {
		return false
	}
	if len(s.levels[i].orders) == 0 {
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
	}
	return true
}

func (s *bookSide) best() (decimal.Decimal, bool) {
	if len(s.levels) == 0 {
		return decimal.Zero, false
	}
	return s.levels[0].price, true
}

func (s *bookSide) orderCount() int {
	n := 0
	for _, l := range s.levels {
		n += len(l.orders)
	}
	return n
}

func (s *bookSide) volume() decimal.Decimal {
	v := decimal.Zero
	for _, l := range s.levels {
		v = v.Add(l.volume())
	}
	return v
}

func (s *bookSide) view(depth int) []domain.PriceLevelView {
	n := len(s.levels)
	if depth > 0 && depth < n {
		n = depth
	}
	out := make([]domain.PriceLevelView, 0, n)
	for _, l := range s.levels[:n] {
		out = append(out, domain.PriceLevelView{Price: l.price, Quantity: l.volume(), Orders: len(l.orders)})
	}
	return out
}

// maxPendingUpdates bounds the delta buffer when nobody flushes it; the
// oldest deltas are discarded first.
const maxPendingUpdates = 10000

// OrderBook holds the resting orders of one symbol. It is not safe for
// concurrent use; the owning MatchingEngine serializes access.
type OrderBook struct {
	Symbol string

	bids    bookSide
	asks    bookSide
	index   map[string]*domain.Order
	seq     uint64
	updates []domain.BookUpdate
	now     func() time.Time
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   bookSide{side: domain.Buy},
		asks:   bookSide{side: domain.Sell},
		index:  make(map[string]*domain.Order),
		now:    time.Now,
	}
}

func (ob *OrderBook) sideOf(s domain.Side) *bookSide {
	if s == domain.Buy {
		return &ob.bids
	}
	return &ob.asks
}

func (ob *OrderBook) record(typ domain.BookUpdateType, o *domain.Order) domain.BookUpdate {
	u := domain.BookUpdate{
		Type:      typ,
		Symbol:    ob.Symbol,
		OrderID:   o.ID,
		Side:      o.Side,
		Price:     o.Price,
		Remaining: o.Remaining(),
		Sequence:  o.Sequence,
		Timestamp: ob.now(),
	}
	if typ == domain.UpdateRemove {
		u.Remaining = decimal.Zero
	}
	ob.updates = append(ob.updates, u)
	if len(ob.updates) > maxPendingUpdates {
		ob.updates = append(ob.updates[:0:0], ob.updates[len(ob.updates)-maxPendingUpdates/2:]...)
	}
	return u
}

// AddOrder rests o at its limit price behind every order already there.
func (ob *OrderBook) AddOrder(o *domain.Order) (domain.BookUpdate, error) {
	if _, exists := ob.index[o.ID]; exists {
		return domain.BookUpdate{}, ErrDuplicateOrder
	}
	ob.seq++
	o.Sequence = ob.seq
	ob.sideOf(o.Side).insert(o)
	ob.index[o.ID] = o
	return ob.record(domain.UpdateAdd, o), nil
}

func (ob *OrderBook) RemoveOrder(orderID string) (domain.BookUpdate, bool) {
	o, ok := ob.index[orderID]
	if !ok {
		return domain.BookUpdate{}, false
	}
	ob.sideOf(o.Side).remove(o)
	delete(ob.index, orderID)
	return ob.record(domain.UpdateRemove, o), true
}

// UpdateOrderFill sets the filled quantity of a resting order. A fully
// filled order leaves the book in the same update.
func (ob *OrderBook) UpdateOrderFill(orderID string, filled decimal.Decimal) (domain.BookUpdate, bool) {
	o, ok := ob.index[orderID]
	if !ok {
		return domain.BookUpdate{}, false
	}
	o.FilledQuantity = decimal.Min(filled, o.Quantity)
	o.DeriveStatus()
	o.UpdatedAt = ob.now()
	if o.IsFilled() {
		ob.sideOf(o.Side).remove(o)
		delete(ob.index, orderID)
	}
	return ob.record(domain.UpdateFill, o), true
}

// GetMatchingOrders returns the resting orders a taker on side could trade
// with, in priority order. A nil limit means any price.
func (ob *OrderBook) GetMatchingOrders(side domain.Side, limit *decimal.Decimal) []*domain.Order {
	opp := ob.sideOf(side.Opposite())
	var out []*domain.Order
	for _, lvl := range opp.levels {
		if limit != nil {
			if side == domain.Buy && lvl.price.GreaterThan(*limit) {
				break
			}
			if side == domain.Sell && lvl.price.LessThan(*limit) {
				break
			}
		}
		out = append(out, lvl.orders...)
	}
	return out
}

func (ob *OrderBook) GetBestBid() (decimal.Decimal, bool) { return ob.bids.best() }

func (ob *OrderBook) GetBestAsk() (decimal.Decimal, bool) { return ob.asks.best() }

func (ob *OrderBook) GetSpread() (decimal.Decimal, bool) {
	bid, okb := ob.bids.best()
	ask, oka := ob.asks.best()
	if !okb || !oka {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

func (ob *OrderBook) GetMidPrice() (decimal.Decimal, bool) {
	bid, okb := ob.bids.best()
	ask, oka := ob.asks.best()
	if !okb || !oka {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// GetSnapshot aggregates the top depth levels per side; depth <= 0 means all.
func (ob *OrderBook) GetSnapshot(depth int) *domain.OrderbookSnapshot {
	return &domain.OrderbookSnapshot{
		Symbol:    ob.Symbol,
		Bids:      ob.bids.view(depth),
		Asks:      ob.asks.view(depth),
		Timestamp: ob.now(),
	}
}

// FlushUpdates drains the changes recorded since the previous flush.
func (ob *OrderBook) FlushUpdates() []domain.BookUpdate {
	out := ob.updates
	ob.updates = nil
	return out
}

func (ob *OrderBook) Order(orderID string) (*domain.Order, bool) {
	o, ok := ob.index[orderID]
	return o, ok
}

func (ob *OrderBook) Len() int { return len(ob.index) }

// Resting returns every resting order, bids first, in priority order.
func (ob *OrderBook) Resting() []*domain.Order {
	out := make([]*domain.Order, 0, len(ob.index))
	for _, s := range []*bookSide{&ob.bids, &ob.asks} {
		for _, l := range s.levels {
			out = append(out, l.orders...)
		}
	}
	return out
}

func (ob *OrderBook) Stats() domain.BookStats {
	st := domain.BookStats{
		Symbol:    ob.Symbol,
		BidLevels: len(ob.bids.levels),
		AskLevels: len(ob.asks.levels),
		BidOrders: ob.bids.orderCount(),
		AskOrders: ob.asks.orderCount(),
		BidVolume: ob.bids.volume(),
		AskVolume: ob.asks.volume(),
	}
	st.BestBid, _ = ob.GetBestBid()
	st.BestAsk, _ = ob.GetBestAsk()
	st.Spread, _ = ob.GetSpread()
	return st
}
