package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func mustProcess(t *testing.T, e *MatchingEngine, o *domain.Order) *Execution {
	t.Helper()
	exec, err := e.ProcessOrder(context.Background(), o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return exec
}

func TestLimitCrossFillsBothSides(t *testing.T) {
	e := newTestEngine(t)
	mustProcess(t, e, limit("s1", "maker", domain.Sell, "50000", "1"))
	exec := mustProcess(t, e, limit("b1", "taker", domain.Buy, "50000", "1"))

	if len(exec.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(exec.Trades))
	}
	requireDecimal(t, "price", exec.Trades[0].Price, "50000")
	if exec.Order.Status != domain.Filled {
		t.Fatalf("taker status: got %s", exec.Order.Status)
	}
	if exec.Makers[0].Status != domain.Filled {
		t.Fatalf("maker status: got %s", exec.Makers[0].Status)
	}
	if _, err := e.Order(context.Background(), "s1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("filled maker must leave the book, got %v", err)
	}
}

func TestPartialMakerStaysOpen(t *testing.T) {
	e := newTestEngine(t)
	mustProcess(t, e, limit("s1", "maker", domain.Sell, "50000", "2"))
	exec := mustProcess(t, e, limit("b1", "taker", domain.Buy, "50000", "1"))

	if exec.Order.Status != domain.Filled {
		t.Fatalf("taker status: got %s", exec.Order.Status)
	}
	maker, err := e.Order(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maker.Status != domain.PartiallyFilled {
		t.Fatalf("maker status: got %s", maker.Status)
	}
	requireDecimal(t, "maker remaining", maker.Remaining(), "1")
}

func TestMarketWithoutLiquidityIsRejected(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ProcessOrder(context.Background(), market("m1", "taker", domain.Buy, "1"))
	if !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("expected ErrNoLiquidity, got %v", err)
	}
}

func TestMarketRemainderIsDiscarded(t *testing.T) {
	e := newTestEngine(t)
	mustProcess(t, e, limit("s1", "maker", domain.Sell, "100", "1"))
	exec := mustProcess(t, e, market("m1", "taker", domain.Buy, "3"))

	if exec.Order.Status != domain.PartiallyFilled {
		t.Fatalf("status: got %s", exec.Order.Status)
	}
	st, _ := e.Stats(context.Background())
	if st.BidOrders != 0 || st.AskOrders != 0 {
		t.Fatalf("market order must not rest: %+v", st)
	}
}

func TestIOCPartialLeavesNoRestingBid(t *testing.T) {
	e := newTestEngine(t)
	mustProcess(t, e, limit("s1", "maker", domain.Sell, "50000", "1"))
	o := limit("b1", "taker", domain.Buy, "50000", "2")
	o.TimeInForce = domain.IOC
	exec := mustProcess(t, e, o)

	if len(exec.Trades) != 1 || exec.Order.Status != domain.PartiallyFilled {
		t.Fatalf("unexpected outcome: %d trades, status %s", len(exec.Trades), exec.Order.Status)
	}
	if _, err := e.Order(context.Background(), "b1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatal("IOC remainder must not rest")
	}

	miss := limit("b2", "taker", domain.Buy, "49000", "1")
	miss.TimeInForce = domain.IOC
	if exec := mustProcess(t, e, miss); exec.Order.Status != domain.Cancelled {
		t.Fatalf("unfilled IOC must be cancelled, got %s", exec.Order.Status)
	}
}

func TestFOKIsAtomic(t *testing.T) {
	e := newTestEngine(t)
	mustProcess(t, e, limit("s1", "maker", domain.Sell, "100", "1"))
	mustProcess(t, e, limit("s2", "maker", domain.Sell, "101", "1"))

	o := limit("b1", "taker", domain.Buy, "100", "2")
	o.TimeInForce = domain.FOK
	if _, err := e.ProcessOrder(context.Background(), o); !errors.Is(err, ErrFOKUnfillable) {
		t.Fatalf("expected ErrFOKUnfillable, got %v", err)
	}
	st, _ := e.Stats(context.Background())
	requireDecimal(t, "ask volume after rejected FOK", st.AskVolume, "2")
	if st.Trades != 0 {
		t.Fatalf("rejected FOK recorded %d trades", st.Trades)
	}

	o = limit("b2", "taker", domain.Buy, "101", "2")
	o.TimeInForce = domain.FOK
	exec := mustProcess(t, e, o)
	if exec.Order.Status != domain.Filled || len(exec.Trades) != 2 {
		t.Fatalf("unexpected FOK outcome: %s with %d trades", exec.Order.Status, len(exec.Trades))
	}
}

func TestTradesExecuteAtMakerPrice(t *testing.T) {
	e := newTestEngine(t)
	mustProcess(t, e, limit("s1", "maker", domain.Sell, "99", "1"))
	mustProcess(t, e, limit("s2", "maker", domain.Sell, "100", "1"))
	exec := mustProcess(t, e, limit("b1", "taker", domain.Buy, "105", "2"))

	requireDecimal(t, "first trade", exec.Trades[0].Price, "99")
	requireDecimal(t, "second trade", exec.Trades[1].Price, "100")
	requireDecimal(t, "average", exec.AveragePrice(), "99.5")
}

func TestStopOrderRejectedByEngine(t *testing.T) {
	e := newTestEngine(t)
	o := market("x1", "a", domain.Buy, "1")
	o.Type = domain.Stop
	if _, err := e.ProcessOrder(context.Background(), o); !errors.Is(err, ErrConditionalOrder) {
		t.Fatalf("expected ErrConditionalOrder, got %v", err)
	}
}

func TestExpiredGTDRejectedAndSwept(t *testing.T) {
	e := newTestEngine(t)
	o := limit("g1", "a", domain.Buy, "100", "1")
	o.TimeInForce = domain.GTD
	o.ExpiresAt = epoch.Add(-time.Second)
	if _, err := e.ProcessOrder(context.Background(), o); !errors.Is(err, ErrOrderExpired) {
		t.Fatalf("expected ErrOrderExpired, got %v", err)
	}

	o = limit("g2", "a", domain.Buy, "100", "1")
	o.TimeInForce = domain.GTD
	o.ExpiresAt = epoch.Add(time.Minute)
	mustProcess(t, e, o)

	expired, err := e.ExpireOrders(context.Background(), epoch.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "g2" || expired[0].Status != domain.Cancelled {
		t.Fatalf("unexpected expiry result: %+v", expired)
	}
}

func TestCancelIsNotRepeatable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustProcess(t, e, limit("b1", "a", domain.Buy, "100", "1"))

	o, err := e.CancelOrder(ctx, "b1")
	if err != nil || o.Status != domain.Cancelled {
		t.Fatalf("unexpected cancel result: %+v, %v", o, err)
	}
	if _, err := e.CancelOrder(ctx, "b1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("second cancel: expected ErrOrderNotFound, got %v", err)
	}

	mustProcess(t, e, limit("s1", "m", domain.Sell, "100", "1"))
	mustProcess(t, e, limit("b2", "a", domain.Buy, "100", "1"))
	if _, err := e.CancelOrder(ctx, "s1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("cancel of filled order: expected ErrOrderNotFound, got %v", err)
	}
}

func TestLoadOrderRestsWithoutMatching(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustProcess(t, e, limit("s1", "m", domain.Sell, "100", "1"))

	o := limit("b1", "a", domain.Buy, "101", "3")
	o.FilledQuantity = d("1")
	o.Status = domain.PartiallyFilled
	if err := e.LoadOrder(ctx, o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := e.Stats(ctx)
	if st.Trades != 0 || st.BidOrders != 1 || st.AskOrders != 1 {
		t.Fatalf("load must not match: %+v", st)
	}
	requireDecimal(t, "bid volume", st.BidVolume, "2")

	if err := e.LoadOrder(ctx, market("m1", "a", domain.Buy, "1")); !errors.Is(err, ErrNotResting) {
		t.Fatalf("expected ErrNotResting, got %v", err)
	}
}

func TestEngineEmitsEventsInMatchOrder(t *testing.T) {
	var got []domain.EventType
	e := NewMatchingEngine("BTC-USD", WithClock(fixedClock()), WithEventSink(func(ev domain.EngineEvent) {
		got = append(got, ev.Type)
	}))
	defer e.Stop()
	mustProcess(t, e, limit("s1", "m", domain.Sell, "100", "1"))
	mustProcess(t, e, limit("b1", "a", domain.Buy, "100", "1"))

	want := []domain.EventType{
		domain.EventOrderAccepted,
		domain.EventTrade, domain.EventOrderUpdated, domain.EventOrderAccepted,
	}
	if len(got) != len(want) {
		t.Fatalf("got events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMatchingConservesQuantity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := NewMatchingEngine("BTC-USD", WithIDGenerator(seqIDs("t")))
		defer e.Stop()
		ctx := context.Background()

		submitted := decimal.Zero
		traded := decimal.Zero
		discarded := decimal.Zero
		n := rapid.IntRange(1, 40).Draw(rt, "orders")
		for i := 0; i < n; i++ {
			side := domain.Buy
			if rapid.Bool().Draw(rt, "sell") {
				side = domain.Sell
			}
			price := decimal.NewFromInt(int64(rapid.IntRange(95, 105).Draw(rt, "price")))
			qty := decimal.NewFromInt(int64(rapid.IntRange(1, 10).Draw(rt, "qty")))
			o := &domain.Order{
				ID:          fmt.Sprintf("o%d", i),
				AccountID:   "acct",
				Symbol:      "BTC-USD",
				Side:        side,
				Type:        domain.Limit,
				TimeInForce: domain.GTC,
				Price:       price,
				Quantity:    qty,
				Status:      domain.Open,
			}
			if rapid.IntRange(0, 4).Draw(rt, "market") == 0 {
				o.Type, o.TimeInForce, o.Price = domain.Market, domain.IOC, decimal.Zero
			}
			exec, err := e.ProcessOrder(ctx, o)
			if err != nil {
				if errors.Is(err, ErrNoLiquidity) {
					continue
				}
				rt.Fatalf("unexpected error: %v", err)
			}
			submitted = submitted.Add(qty)

			sum := decimal.Zero
			for j, tr := range exec.Trades {
				if !tr.Quantity.IsPositive() || !tr.Price.IsPositive() {
					rt.Fatalf("non-positive trade %+v", tr)
				}
				if !tr.Price.Equal(exec.Makers[j].Price) {
					rt.Fatalf("trade at %s, maker posted %s", tr.Price, exec.Makers[j].Price)
				}
				if o.Type == domain.Limit {
					if side == domain.Buy && tr.Price.GreaterThan(o.Price) || side == domain.Sell && tr.Price.LessThan(o.Price) {
						rt.Fatalf("trade %s through limit %s", tr.Price, o.Price)
					}
				}
				sum = sum.Add(tr.Quantity)
			}
			if !sum.Equal(exec.Order.FilledQuantity) {
				rt.Fatalf("trades sum %s, taker filled %s", sum, exec.Order.FilledQuantity)
			}
			traded = traded.Add(sum)
			if o.Type == domain.Market {
				discarded = discarded.Add(exec.Order.Remaining())
			}

			st, _ := e.Stats(ctx)
			if st.BestBid.IsPositive() && st.BestAsk.IsPositive() && !st.BestBid.LessThan(st.BestAsk) {
				rt.Fatalf("crossed book: bid %s ask %s", st.BestBid, st.BestAsk)
			}
		}

		// Every submitted unit is resting, traded on one of the two sides of
		// a trade, or a discarded market remainder.
		st, _ := e.Stats(ctx)
		resting := st.BidVolume.Add(st.AskVolume)
		accounted := resting.Add(traded.Mul(decimal.NewFromInt(2))).Add(discarded)
		if !accounted.Equal(submitted) {
			rt.Fatalf("resting %s + 2*traded %s + discarded %s != submitted %s", resting, traded, discarded, submitted)
		}
	})
}

func TestFailedMatchLeavesBookUntouched(t *testing.T) {
	var n int
	e := NewMatchingEngine("BTC-USD", WithClock(fixedClock()), WithIDGenerator(func() string {
		n++
		if n == 2 {
			panic("id source exhausted")
		}
		return fmt.Sprintf("t-%d", n)
	}))
	t.Cleanup(e.Stop)
	ctx := context.Background()
	mustProcess(t, e, limit("s1", "m", domain.Sell, "100", "1"))
	mustProcess(t, e, limit("s2", "m", domain.Sell, "101", "1"))

	if _, err := e.ProcessOrder(ctx, limit("b1", "a", domain.Buy, "101", "3")); !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	st, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.AskOrders != 2 || st.BidOrders != 0 || st.Trades != 0 {
		t.Fatalf("failed match touched the book: %+v", st)
	}
	requireDecimal(t, "ask volume", st.AskVolume, "2")
	for _, id := range []string{"s1", "s2"} {
		o, err := e.Order(ctx, id)
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		requireDecimal(t, id+" filled", o.FilledQuantity, "0")
	}

	exec := mustProcess(t, e, limit("b2", "a", domain.Buy, "101", "2"))
	if exec.Order.Status != domain.Filled || len(exec.Trades) != 2 {
		t.Fatalf("engine unusable after failed match: %+v", exec.Order)
	}
}

func TestSubmitRunsCommitOnWorker(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mustProcess(t, e, limit("s1", "m", domain.Sell, "100", "2"))

	var seen *domain.OrderbookSnapshot
	var trades int
	exec, err := e.Submit(ctx, limit("b1", "a", domain.Buy, "100", "1"), func(exec *Execution, book BookView) {
		trades = len(exec.Trades)
		seen = book.GetSnapshot(5)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trades != 1 || len(exec.Trades) != 1 {
		t.Fatalf("commit saw %d trades", trades)
	}
	if len(seen.Asks) != 1 {
		t.Fatalf("commit must see the post-match book, got %+v", seen)
	}
	requireDecimal(t, "ask left", seen.Asks[0].Quantity, "1")

	if _, err := e.Submit(ctx, market("m1", "a", domain.Sell, "1"), func(*Execution, BookView) {
		t.Fatal("commit must not run for a rejected order")
	}); !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("expected ErrNoLiquidity, got %v", err)
	}

	exec, err = e.Submit(ctx, limit("b2", "a", domain.Buy, "100", "1"), func(*Execution, BookView) {
		panic("commit failed")
	})
	if err != nil || exec.Order.Status != domain.Filled {
		t.Fatalf("a failing commit must not undo the match: %+v %v", exec, err)
	}
}
