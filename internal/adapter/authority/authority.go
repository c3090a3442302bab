package authority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var _ port.RiskAuthority = (*Service)(nil)

// LimitSource loads the reference limits the venue trades under.
type LimitSource interface {
	LoadSymbolLimits(ctx context.Context) ([]domain.SymbolLimits, error)
	LoadUserLimits(ctx context.Context) ([]domain.UserLimits, error)
}

// RateCounter is a fixed-window counter keyed by caller-chosen keys.
type RateCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type LossTracker interface {
	DailyRealizedPnL(ctx context.Context, accountID string, now time.Time) (decimal.Decimal, error)
}

type PositionReader interface {
	GetPosition(accountID, symbol string) (domain.PositionSnapshot, bool)
}

type PriceReader interface {
	MarketPrice(symbol string) (decimal.Decimal, bool)
}

type Option func(*Service)

func WithRateCounter(c RateCounter, defaultPerSecond int) Option {
	return func(s *Service) { s.rate, s.defaultRate = c, defaultPerSecond }
}

func WithBalances(l port.BalanceLedger) Option {
	return func(s *Service) { s.ledger = l }
}

func WithLossTracker(t LossTracker) Option {
	return func(s *Service) { s.losses = t }
}

func WithPositions(p PositionReader) Option {
	return func(s *Service) { s.positions = p }
}

func WithPrices(p PriceReader) Option {
	return func(s *Service) { s.prices = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the authoritative risk check behind the gateway cache. It
// owns the checks that need durable or shared state.
type Service struct {
	source      LimitSource
	rate        RateCounter
	defaultRate int
	ledger      port.BalanceLedger
	losses      LossTracker
	positions   PositionReader
	prices      PriceReader
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.RWMutex
	symbols map[string]domain.SymbolLimits
	users   map[string]domain.UserLimits
	// misses holds symbols a reload did not find; they are not looked up
	// again until the next SymbolLimits refresh.
	misses map[string]struct{}
}

func New(source LimitSource, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		source:  source,
		logger:  logger.Named("authority"),
		now:     time.Now,
		symbols: make(map[string]domain.SymbolLimits),
		users:   make(map[string]domain.UserLimits),
		misses:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use late-binds readers that are built after the service.
func (s *Service) Use(opts ...Option) {
	for _, opt := range opts {
		opt(s)
	}
}

func (s *Service) SymbolLimits(ctx context.Context) ([]domain.SymbolLimits, error) {
	limits, err := s.source.LoadSymbolLimits(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]domain.SymbolLimits, len(limits))
	for _, l := range limits {
		m[l.Symbol] = l
	}
	s.mu.Lock()
	s.symbols = m
	s.misses = make(map[string]struct{})
	s.mu.Unlock()
	return limits, nil
}

func (s *Service) UserLimits(ctx context.Context) ([]domain.UserLimits, error) {
	limits, err := s.source.LoadUserLimits(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]domain.UserLimits, len(limits))
	for _, l := range limits {
		m[l.UserID] = l
	}
	s.mu.Lock()
	s.users = m
	s.mu.Unlock()
	return limits, nil
}

func (s *Service) symbol(ctx context.Context, symbol string) (domain.SymbolLimits, bool, error) {
	s.mu.RLock()
	l, ok := s.symbols[symbol]
	_, missed := s.misses[symbol]
	s.mu.RUnlock()
	if ok || missed {
		return l, ok, nil
	}
	if _, err := s.SymbolLimits(ctx); err != nil {
		return domain.SymbolLimits{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok = s.symbols[symbol]
	if !ok {
		s.misses[symbol] = struct{}{}
	}
	return l, ok, nil
}

func (s *Service) user(userID string) (domain.UserLimits, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.users[userID]
	return l, ok
}

// CheckOrder returns a *domain.RiskRejection for a refused order and a
// plain error when a backing store could not be reached.
func (s *Service) CheckOrder(ctx context.Context, o *domain.Order) error {
	sym, ok, err := s.symbol(ctx, o.Symbol)
	if err != nil {
		return fmt.Errorf("load symbol limits: %w", err)
	}
	if !ok {
		return domain.Reject(domain.CodeSymbolNotConfigured, "symbol %s is not configured", o.Symbol)
	}
	if rej := checkSymbol(sym, o); rej != nil {
		return rej
	}

	usr, hasUser := s.user(o.UserID)
	if hasUser && usr.TradingRestricted {
		return domain.Reject(domain.CodeAccountRestricted, "user %s is restricted from trading", o.UserID)
	}
	if err := s.checkRate(ctx, o, usr); err != nil {
		return err
	}
	if rej := s.checkPosition(sym, o); rej != nil {
		return rej
	}
	if err := s.checkBalance(ctx, sym, o); err != nil {
		return err
	}
	if hasUser {
		if err := s.checkDailyLoss(ctx, usr, o); err != nil {
			return err
		}
	}
	return nil
}

func checkSymbol(l domain.SymbolLimits, o *domain.Order) error {
	if !l.TradingEnabled {
		return domain.Reject(domain.CodeSymbolNotTradable, "trading disabled for %s", o.Symbol)
	}
	if l.MinOrderSize.IsPositive() && o.Quantity.LessThan(l.MinOrderSize) {
		return domain.Reject(domain.CodeOrderTooSmall, "quantity %s below minimum %s", o.Quantity, l.MinOrderSize)
	}
	if l.MaxOrderSize.IsPositive() && o.Quantity.GreaterThan(l.MaxOrderSize) {
		return domain.Reject(domain.CodeOrderTooLarge, "quantity %s above maximum %s", o.Quantity, l.MaxOrderSize)
	}
	if !l.OnLot(o.Quantity) {
		return domain.Reject(domain.CodeInvalidLotSize, "quantity %s is not a multiple of lot size %s", o.Quantity, l.LotSize)
	}
	return nil
}

func (s *Service) checkRate(ctx context.Context, o *domain.Order, usr domain.UserLimits) error {
	limit := usr.MaxOrdersPerSecond
	if limit <= 0 {
		limit = s.defaultRate
	}
	if s.rate == nil || limit <= 0 {
		return nil
	}
	key := fmt.Sprintf("%s:%d", o.UserID, s.now().Unix())
	n, err := s.rate.Incr(ctx, key, time.Second)
	if err != nil {
		return err
	}
	if n > int64(limit) {
		return domain.Reject(domain.CodeRateLimited, "more than %d orders per second", limit)
	}
	return nil
}

func (s *Service) checkPosition(l domain.SymbolLimits, o *domain.Order) error {
	if s.positions == nil || !l.MaxUserPosition.IsPositive() {
		return nil
	}
	current := decimal.Zero
	if p, ok := s.positions.GetPosition(o.AccountID, o.Symbol); ok {
		current = p.Quantity
	}
	projected := current.Add(o.Side.Sign().Mul(o.Quantity)).Abs()
	if projected.GreaterThan(l.MaxUserPosition) && projected.GreaterThan(current.Abs()) {
		return domain.Reject(domain.CodePositionLimit, "projected position %s exceeds %s", projected, l.MaxUserPosition)
	}
	return nil
}

// checkBalance needs the quote amount for buys and the base amount for
// sells. Buys without a limit price are valued at the stop or market price.
func (s *Service) checkBalance(ctx context.Context, l domain.SymbolLimits, o *domain.Order) error {
	if s.ledger == nil {
		return nil
	}
	asset, need := l.BaseAsset, o.Quantity
	if o.Side == domain.Buy {
		price := o.Price
		if !o.HasLimitPrice() {
			price = o.StopPrice
			if p, ok := s.marketPrice(o.Symbol); ok && !o.Type.Conditional() {
				price = p
			}
		}
		if !price.IsPositive() {
			return nil
		}
		asset, need = l.QuoteAsset, o.Quantity.Mul(price)
	}
	avail, err := s.ledger.Available(ctx, o.AccountID, asset)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	if avail.LessThan(need) {
		return domain.Reject(domain.CodeInsufficientBalance, "need %s %s, available %s", need, asset, avail)
	}
	return nil
}

func (s *Service) marketPrice(symbol string) (decimal.Decimal, bool) {
	if s.prices == nil {
		return decimal.Zero, false
	}
	return s.prices.MarketPrice(symbol)
}

func (s *Service) checkDailyLoss(ctx context.Context, usr domain.UserLimits, o *domain.Order) error {
	if s.losses == nil || !usr.MaxDailyLoss.IsPositive() {
		return nil
	}
	pnl, err := s.losses.DailyRealizedPnL(ctx, o.AccountID, s.now())
	if err != nil {
		return fmt.Errorf("load daily pnl: %w", err)
	}
	if pnl.Neg().GreaterThanOrEqual(usr.MaxDailyLoss) {
		return domain.Reject(domain.CodeDailyLossExceeded, "daily loss %s reached limit %s", pnl.Neg(), usr.MaxDailyLoss)
	}
	return nil
}
