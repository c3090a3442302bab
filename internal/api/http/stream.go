package http

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olyamironova/matching-core/internal/core"
	"github.com/olyamironova/matching-core/internal/domain"
	"go.uber.org/zap"
)

type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type bookSub struct {
	symbol string
	ch     chan []domain.BookUpdate
}

// bookStream drains book deltas on a tick and fans them out to websocket
// clients. Slow clients miss batches rather than stall the drain.
type bookStream struct {
	books  *core.OrderBookManager
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[*bookSub]struct{}
}

func newBookStream(books *core.OrderBookManager, logger *zap.Logger) *bookStream {
	return &bookStream{books: books, logger: logger, subs: make(map[*bookSub]struct{})}
}

func (b *bookStream) subscribe(symbol string) *bookSub {
	sub := &bookSub{symbol: symbol, ch: make(chan []domain.BookUpdate, 32)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *bookStream) unsubscribe(sub *bookSub) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

func (b *bookStream) run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ups, err := b.books.FlushUpdates(ctx)
			if err != nil {
				b.logger.Debug("book flush failed", zap.Error(err))
				continue
			}
			b.broadcast(ups)
		}
	}
}

func (b *bookStream) broadcast(ups map[string][]domain.BookUpdate) {
	if len(ups) == 0 {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		for symbol, batch := range ups {
			if sub.symbol != "" && sub.symbol != symbol {
				continue
			}
			select {
			case sub.ch <- batch:
			default:
			}
		}
	}
}

func (s *HTTPServer) streamBook(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.books.subscribe(c.Query("symbol"))
	defer s.books.unsubscribe(sub)

	for batch := range sub.ch {
		if err := conn.WriteJSON(outboundMessage{Type: "book", Data: batch}); err != nil {
			return
		}
	}
}

func (s *HTTPServer) streamEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	books := s.orders.Books()
	sub := books.Subscribe(64)
	defer books.Unsubscribe(sub)

	symbol := c.Query("symbol")
	for ev := range sub.C {
		if symbol != "" && ev.Symbol != symbol {
			continue
		}
		if err := conn.WriteJSON(outboundMessage{Type: string(ev.Type), Data: ev}); err != nil {
			return
		}
	}
}
