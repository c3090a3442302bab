package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RiskConfig struct {
	RefreshInterval time.Duration
	PriceStaleAfter time.Duration
}

type pricePoint struct {
	price decimal.Decimal
	at    time.Time
}

// RiskGateway is the pre-trade admission check. QuickCheck answers from
// local caches only; Check additionally consults the authority service for
// what the caches cannot decide.
type RiskGateway struct {
	cfg       RiskConfig
	authority port.RiskAuthority
	logger    *zap.Logger
	now       func() time.Time

	symbols atomic.Pointer[map[string]domain.SymbolLimits]
	users   atomic.Pointer[map[string]domain.UserLimits]
	prices  sync.Map // symbol -> pricePoint
	halted  sync.Map // symbol -> struct{}

	circuitBreaker atomic.Bool
	tradingOff     atomic.Bool
}

func NewRiskGateway(cfg RiskConfig, authority port.RiskAuthority, logger *zap.Logger) *RiskGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.PriceStaleAfter <= 0 {
		cfg.PriceStaleAfter = 10 * time.Second
	}
	g := &RiskGateway{
		cfg:       cfg,
		authority: authority,
		logger:    logger.Named("risk"),
		now:       time.Now,
	}
	g.symbols.Store(&map[string]domain.SymbolLimits{})
	g.users.Store(&map[string]domain.UserLimits{})
	return g
}

func (g *RiskGateway) SetCircuitBreaker(active bool) { g.circuitBreaker.Store(active) }

func (g *RiskGateway) SetTradingEnabled(enabled bool) { g.tradingOff.Store(!enabled) }

// HaltSymbol trips the breaker for a single symbol.
func (g *RiskGateway) HaltSymbol(symbol string, halted bool) {
	if halted {
		g.halted.Store(symbol, struct{}{})
	} else {
		g.halted.Delete(symbol)
	}
}

// SetSymbolLimits replaces the whole symbol cache.
func (g *RiskGateway) SetSymbolLimits(limits []domain.SymbolLimits) {
	m := make(map[string]domain.SymbolLimits, len(limits))
	for _, l := range limits {
		m[l.Symbol] = l
	}
	g.symbols.Store(&m)
}

func (g *RiskGateway) SetUserLimits(limits []domain.UserLimits) {
	m := make(map[string]domain.UserLimits, len(limits))
	for _, l := range limits {
		m[l.UserID] = l
	}
	g.users.Store(&m)
}

func (g *RiskGateway) SymbolLimits(symbol string) (domain.SymbolLimits, bool) {
	l, ok := (*g.symbols.Load())[symbol]
	return l, ok
}

func (g *RiskGateway) UpdatePrice(symbol string, price decimal.Decimal, at time.Time) {
	g.prices.Store(symbol, pricePoint{price: price, at: at})
}

// MarketPrice returns the cached price if it is fresh.
func (g *RiskGateway) MarketPrice(symbol string) (decimal.Decimal, bool) {
	v, ok := g.prices.Load(symbol)
	if !ok {
		return decimal.Zero, false
	}
	pp := v.(pricePoint)
	if g.now().Sub(pp.at) > g.cfg.PriceStaleAfter {
		return decimal.Zero, false
	}
	return pp.price, true
}

// QuickCheck evaluates o against the cached limits without any I/O. The
// checks run in a fixed order and stop at the first failure.
func (g *RiskGateway) QuickCheck(o *domain.Order) (domain.Approval, error) {
	var ap domain.Approval

	if g.circuitBreaker.Load() {
		return ap, domain.Reject(domain.CodeCircuitBreaker, "circuit breaker is active")
	}
	if _, ok := g.halted.Load(o.Symbol); ok {
		return ap, domain.Reject(domain.CodeCircuitBreaker, "circuit breaker is active for %s", o.Symbol)
	}
	if g.tradingOff.Load() {
		return ap, domain.Reject(domain.CodeTradingDisabled, "trading is disabled")
	}

	limits, ok := g.SymbolLimits(o.Symbol)
	if !ok {
		if g.authority != nil {
			ap.Delegated = true
			return ap, nil
		}
		return ap, domain.Reject(domain.CodeSymbolNotConfigured, "symbol %s is not configured", o.Symbol)
	}
	if !limits.TradingEnabled {
		return ap, domain.Reject(domain.CodeSymbolNotTradable, "trading is disabled for %s", o.Symbol)
	}

	qty := o.Quantity
	if limits.MinOrderSize.IsPositive() && qty.LessThan(limits.MinOrderSize) {
		return ap, domain.Reject(domain.CodeOrderTooSmall, "quantity %s is below minimum %s", qty, limits.MinOrderSize)
	}
	if limits.MaxOrderSize.IsPositive() && qty.GreaterThan(limits.MaxOrderSize) {
		return ap, domain.Reject(domain.CodeOrderTooLarge, "quantity %s exceeds maximum %s", qty, limits.MaxOrderSize)
	}
	if !limits.OnLot(qty) {
		return ap, domain.Reject(domain.CodeInvalidLotSize, "quantity %s is not a multiple of lot size %s", qty, limits.LotSize)
	}

	if o.HasLimitPrice() && limits.MaxPriceDeviation.IsPositive() {
		if market, ok := g.MarketPrice(o.Symbol); ok && market.IsPositive() {
			dev := o.Price.Sub(market).Abs().Div(market)
			if dev.GreaterThan(limits.MaxPriceDeviation) {
				return ap, domain.Reject(domain.CodePriceDeviation,
					"price %s deviates %s%% from market %s", o.Price, dev.Mul(hundred).StringFixed(2), market)
			}
		} else {
			ap.Warnings = append(ap.Warnings, fmt.Sprintf("no fresh market price for %s, deviation check skipped", o.Symbol))
		}
	}

	if u, ok := (*g.users.Load())[o.UserID]; ok && u.TradingRestricted {
		return ap, domain.Reject(domain.CodeAccountRestricted, "user %s is restricted from trading", o.UserID)
	}
	return ap, nil
}

// Check runs QuickCheck and, when an authority is configured, hands the
// locally approved order to it. The authority verdict is final.
func (g *RiskGateway) Check(ctx context.Context, o *domain.Order) (domain.Approval, error) {
	ap, err := g.QuickCheck(o)
	if err != nil || g.authority == nil {
		return ap, err
	}
	if err := g.authority.CheckOrder(ctx, o); err != nil {
		var rej *domain.RiskRejection
		if errors.As(err, &rej) {
			return ap, rej
		}
		g.logger.Warn("risk authority check failed", zap.String("order_id", o.ID), zap.Error(err))
		return ap, domain.Reject(domain.CodeAuthorityFailure, "risk service unavailable: %v", err)
	}
	return ap, nil
}

// Refresh pulls the full limit sets from the authority and swaps them in.
func (g *RiskGateway) Refresh(ctx context.Context) error {
	if g.authority == nil {
		return nil
	}
	symbols, err := g.authority.SymbolLimits(ctx)
	if err != nil {
		return fmt.Errorf("load symbol limits: %w", err)
	}
	users, err := g.authority.UserLimits(ctx)
	if err != nil {
		return fmt.Errorf("load user limits: %w", err)
	}
	g.SetSymbolLimits(symbols)
	g.SetUserLimits(users)
	g.logger.Debug("risk limits refreshed", zap.Int("symbols", len(symbols)), zap.Int("users", len(users)))
	return nil
}

// Run refreshes the limit caches on a fixed interval until ctx ends.
func (g *RiskGateway) Run(ctx context.Context) {
	if err := g.Refresh(ctx); err != nil {
		g.logger.Warn("initial risk limit refresh failed", zap.Error(err))
	}
	ticker := time.NewTicker(g.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Refresh(ctx); err != nil {
				g.logger.Warn("risk limit refresh failed", zap.Error(err))
			}
		}
	}
}
