package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/olyamironova/matching-core/internal/api/dto"
	"github.com/olyamironova/matching-core/internal/core"
	"github.com/olyamironova/matching-core/internal/middleware"
	"github.com/olyamironova/matching-core/internal/port"
	"go.uber.org/zap"
)

const defaultDepth = 20

type Option func(*HTTPServer)

// WithRateLimit throttles order entry per account.
func WithRateLimit(interval time.Duration) Option {
	return func(s *HTTPServer) { s.limiter = middleware.NewRateLimiter(interval) }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *HTTPServer) { s.logger = l }
}

type HTTPServer struct {
	orders   *core.OrderManager
	limiter  *middleware.RateLimiter
	logger   *zap.Logger
	upgrader websocket.Upgrader
	books    *bookStream
	srv      *http.Server
}

func NewHTTPServer(orders *core.OrderManager, opts ...Option) *HTTPServer {
	s := &HTTPServer{
		orders:   orders,
		logger:   zap.NewNop(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("http")
	s.books = newBookStream(orders.Books(), s.logger)
	return s
}

func (s *HTTPServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	entry := r.Group("/")
	if s.limiter != nil {
		entry.Use(s.limiter.Middleware())
	}
	entry.POST("/orders", s.submitOrder)
	entry.POST("/orders/cancel", s.cancelOrder)

	r.GET("/orders/:id", s.getOrder)
	r.GET("/orderbook", s.getOrderbook)
	r.GET("/positions/:account", s.getPositions)
	r.GET("/stats", s.getStats)
	r.POST("/prices", s.updatePrice)
	r.GET("/ws/book", s.streamBook)
	r.GET("/ws/events", s.streamEvents)
	return r
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func (s *HTTPServer) Serve(ctx context.Context, addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	go s.books.run(ctx, 100*time.Millisecond)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errc <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdown)
	}
}

// accountMatches rejects a body naming a different account than the
// authenticated header, when the header is present.
func accountMatches(c *gin.Context, accountID string) bool {
	h := c.GetHeader(middleware.AccountHeader)
	if h != "" && h != accountID {
		c.JSON(http.StatusForbidden, gin.H{"error": "account mismatch"})
		return false
	}
	return true
}

func (s *HTTPServer) submitOrder(c *gin.Context) {
	var req dto.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !accountMatches(c, req.AccountID) {
		return
	}
	res := s.orders.PlaceOrder(c.Request.Context(), req.Input())
	status := http.StatusOK
	switch {
	case res.Success:
	case res.OrderID == "":
		status = http.StatusBadRequest
	default:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, dto.FromPlaceResult(res))
}

func (s *HTTPServer) cancelOrder(c *gin.Context) {
	var req dto.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !accountMatches(c, req.AccountID) {
		return
	}
	res := s.orders.CancelOrder(c.Request.Context(), core.CancelOrderInput{OrderID: req.OrderID, AccountID: req.AccountID})
	status := http.StatusOK
	switch {
	case res.Success:
	case res.Error == core.ErrOrderNotFound.Error():
		status = http.StatusNotFound
	case res.Error == core.ErrNotOwner.Error():
		status = http.StatusForbidden
	default:
		status = http.StatusBadRequest
	}
	c.JSON(status, dto.CancelOrderResponse{OrderID: req.OrderID, Cancelled: res.Success, Message: res.Error})
}

func (s *HTTPServer) getOrder(c *gin.Context) {
	o, err := s.orders.Order(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.GetOrderResponse{Order: dto.FromOrder(o)})
}

func (s *HTTPServer) getOrderbook(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	depth := defaultDepth
	if d := c.Query("depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be a non-negative integer"})
			return
		}
		depth = n
	}
	ob, err := s.orders.Orderbook(c.Request.Context(), symbol, depth)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.FromSnapshot(ob))
}

func (s *HTTPServer) getPositions(c *gin.Context) {
	account := c.Param("account")
	c.JSON(http.StatusOK, dto.FromPositions(account, s.orders.Positions(account)))
}

func (s *HTTPServer) getStats(c *gin.Context) {
	st, err := s.orders.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *HTTPServer) updatePrice(c *gin.Context) {
	var req dto.PriceUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be > 0"})
		return
	}
	at := req.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	s.orders.OnPrice(c.Request.Context(), req.Symbol, req.Price, at)
	c.Status(http.StatusNoContent)
}
