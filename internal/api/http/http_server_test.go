package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/olyamironova/matching-core/internal/adapter/in_memory"
	"github.com/olyamironova/matching-core/internal/api/dto"
	"github.com/olyamironova/matching-core/internal/core"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/middleware"
	"github.com/shopspring/decimal"
)

func newTestServer(t *testing.T, opts ...Option) *HTTPServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	books := core.NewOrderBookManager(nil)
	t.Cleanup(books.Close)
	risk := core.NewRiskGateway(core.RiskConfig{}, nil, nil)
	risk.SetSymbolLimits([]domain.SymbolLimits{{
		Symbol:         "BTC-USD",
		TradingEnabled: true,
		MinOrderSize:   decimal.RequireFromString("0.001"),
	}})
	orders := core.NewOrderManager(books, core.NewStopOrderManager(nil), core.NewPositionManager(nil), risk, in_memory.NewMemoryRepo())
	return NewHTTPServer(orders, opts...)
}

func do(t *testing.T, h http.Handler, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(middleware.AccountHeader, account)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func limitBody(account, side, price, qty string) map[string]any {
	return map[string]any{
		"account_id": account,
		"user_id":    account,
		"symbol":     "BTC-USD",
		"side":       side,
		"type":       "LIMIT",
		"price":      price,
		"quantity":   qty,
	}
}

func TestSubmitAndQuery(t *testing.T) {
	r := newTestServer(t).Router()

	w := do(t, r, http.MethodPost, "/orders", "", limitBody("seller", "SELL", "100", "2"))
	if w.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	maker := decode[dto.SubmitOrderResponse](t, w)

	w = do(t, r, http.MethodPost, "/orders", "", map[string]any{
		"account_id": "buyer", "user_id": "buyer", "symbol": "BTC-USD",
		"side": "BUY", "type": "MARKET", "quantity": "0.5",
	})
	taker := decode[dto.SubmitOrderResponse](t, w)
	if w.Code != http.StatusOK || taker.Status != string(domain.Filled) || len(taker.Trades) != 1 {
		t.Fatalf("taker: %d %+v", w.Code, taker)
	}

	w = do(t, r, http.MethodGet, "/orders/"+maker.OrderID, "", nil)
	got := decode[dto.GetOrderResponse](t, w)
	if w.Code != http.StatusOK || got.Order.Status != string(domain.PartiallyFilled) {
		t.Fatalf("get order: %d %+v", w.Code, got)
	}

	w = do(t, r, http.MethodGet, "/orderbook?symbol=BTC-USD&depth=5", "", nil)
	book := decode[dto.GetOrderbookResponse](t, w)
	if w.Code != http.StatusOK || len(book.Asks) != 1 || !book.Asks[0].Quantity.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("orderbook: %d %+v", w.Code, book)
	}

	w = do(t, r, http.MethodGet, "/positions/buyer", "", nil)
	pos := decode[dto.GetPositionsResponse](t, w)
	if len(pos.Positions) != 1 || pos.Positions[0].Side != string(domain.Long) {
		t.Fatalf("positions: %+v", pos)
	}

	w = do(t, r, http.MethodGet, "/stats", "", nil)
	st := decode[domain.VenueStats](t, w)
	if st.TotalTrades != 1 || st.Symbols != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestSubmitStatusCodes(t *testing.T) {
	r := newTestServer(t).Router()

	body := limitBody("a", "BUY", "100", "1")
	delete(body, "price")
	w := do(t, r, http.MethodPost, "/orders", "", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid input: got %d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/orders", "", limitBody("a", "BUY", "100", "0.0001"))
	res := decode[dto.SubmitOrderResponse](t, w)
	if w.Code != http.StatusUnprocessableEntity || res.RejectCode != string(domain.CodeOrderTooSmall) {
		t.Fatalf("risk rejection: %d %+v", w.Code, res)
	}

	w = do(t, r, http.MethodPost, "/orders", "someone-else", limitBody("a", "BUY", "100", "1"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("account mismatch: got %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/orders/missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing order: got %d", w.Code)
	}
	w = do(t, r, http.MethodGet, "/orderbook", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("orderbook without symbol: got %d", w.Code)
	}
	w = do(t, r, http.MethodGet, "/orderbook?symbol=ETH-USD", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown book: got %d", w.Code)
	}
}

func TestCancelStatusCodes(t *testing.T) {
	r := newTestServer(t).Router()
	placed := decode[dto.SubmitOrderResponse](t, do(t, r, http.MethodPost, "/orders", "", limitBody("owner", "BUY", "100", "1")))

	w := do(t, r, http.MethodPost, "/orders/cancel", "", map[string]string{"order_id": placed.OrderID, "account_id": "thief"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign cancel: got %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/orders/cancel", "", map[string]string{"order_id": "nope", "account_id": "owner"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown cancel: got %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/orders/cancel", "owner", map[string]string{"order_id": placed.OrderID, "account_id": "owner"})
	res := decode[dto.CancelOrderResponse](t, w)
	if w.Code != http.StatusOK || !res.Cancelled {
		t.Fatalf("cancel: %d %+v", w.Code, res)
	}
}

func TestOrderEntryIsRateLimited(t *testing.T) {
	r := newTestServer(t, WithRateLimit(time.Hour)).Router()

	if w := do(t, r, http.MethodPost, "/orders", "", limitBody("a", "BUY", "100", "1")); w.Code != http.StatusBadRequest {
		t.Fatalf("missing account header: got %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/orders", "a", limitBody("a", "BUY", "100", "1")); w.Code != http.StatusOK {
		t.Fatalf("first order: got %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/orders", "a", limitBody("a", "BUY", "100", "1")); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second order: got %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/orderbook?symbol=BTC-USD", "", nil); w.Code != http.StatusOK {
		t.Fatalf("reads are not limited: got %d", w.Code)
	}
}

func TestPriceUpdateTriggersStop(t *testing.T) {
	r := newTestServer(t).Router()
	do(t, r, http.MethodPost, "/orders", "", limitBody("seller", "SELL", "105", "1"))
	do(t, r, http.MethodPost, "/orders", "", map[string]any{
		"account_id": "b", "user_id": "b", "symbol": "BTC-USD",
		"side": "BUY", "type": "STOP", "stop_price": "105", "quantity": "1",
	})

	if w := do(t, r, http.MethodPost, "/prices", "", map[string]any{"symbol": "BTC-USD", "price": "0"}); w.Code != http.StatusBadRequest {
		t.Fatalf("zero price: got %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/prices", "", map[string]any{"symbol": "BTC-USD", "price": "105"}); w.Code != http.StatusNoContent {
		t.Fatalf("price update: got %d", w.Code)
	}
	pos := decode[dto.GetPositionsResponse](t, do(t, r, http.MethodGet, "/positions/b", "", nil))
	if len(pos.Positions) != 1 {
		t.Fatalf("stop did not execute: %+v", pos)
	}
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events?symbol=BTC-USD"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The handler subscribes after the upgrade completes.
	time.Sleep(50 * time.Millisecond)
	s.orders.PlaceOrder(t.Context(), core.PlaceOrderInput{
		AccountID: "a", UserID: "a", Symbol: "BTC-USD",
		Side: domain.Buy, Type: domain.Limit,
		Price:    ptr(decimal.RequireFromString("100")),
		Quantity: decimal.RequireFromString("1"),
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string             `json:"type"`
		Data domain.EngineEvent `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != string(domain.EventOrderAccepted) || msg.Data.Symbol != "BTC-USD" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestBookStreamFansOutBySymbol(t *testing.T) {
	s := newTestServer(t)
	btc := s.books.subscribe("BTC-USD")
	all := s.books.subscribe("")
	defer s.books.unsubscribe(btc)
	defer s.books.unsubscribe(all)

	s.books.broadcast(map[string][]domain.BookUpdate{
		"ETH-USD": {{Symbol: "ETH-USD"}},
	})
	select {
	case <-btc.ch:
		t.Fatal("BTC subscriber got an ETH batch")
	default:
	}
	select {
	case batch := <-all.ch:
		if batch[0].Symbol != "ETH-USD" {
			t.Fatalf("unexpected batch %+v", batch)
		}
	default:
		t.Fatal("unfiltered subscriber missed the batch")
	}
}

func ptr[T any](v T) *T { return &v }
