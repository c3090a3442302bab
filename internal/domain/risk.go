package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type RejectCode string

const (
	CodeCircuitBreaker      RejectCode = "CIRCUIT_BREAKER_ACTIVE"
	CodeTradingDisabled     RejectCode = "TRADING_DISABLED"
	CodeSymbolNotConfigured RejectCode = "SYMBOL_NOT_CONFIGURED"
	CodeSymbolNotTradable   RejectCode = "SYMBOL_NOT_TRADABLE"
	CodeOrderTooSmall       RejectCode = "ORDER_SIZE_TOO_SMALL"
	CodeOrderTooLarge       RejectCode = "ORDER_SIZE_TOO_LARGE"
	CodeInvalidLotSize      RejectCode = "INVALID_LOT_SIZE"
	CodePriceDeviation      RejectCode = "PRICE_DEVIATION"
	CodeAccountRestricted   RejectCode = "ACCOUNT_RESTRICTED"
	CodeInsufficientBalance RejectCode = "INSUFFICIENT_BALANCE"
	CodeDailyLossExceeded   RejectCode = "DAILY_LOSS_LIMIT"
	CodeRateLimited         RejectCode = "RATE_LIMIT_EXCEEDED"
	CodePositionLimit       RejectCode = "POSITION_LIMIT_EXCEEDED"
	CodeAuthorityFailure    RejectCode = "RISK_SERVICE_UNAVAILABLE"
)

// SymbolLimits is the cached per-symbol trading configuration.
// MaxPriceDeviation is a fraction, 0.1 meaning 10% from the market price.
type SymbolLimits struct {
	Symbol            string          `json:"symbol"`
	BaseAsset         string          `json:"base_asset"`
	QuoteAsset        string          `json:"quote_asset"`
	TradingEnabled    bool            `json:"trading_enabled"`
	MinOrderSize      decimal.Decimal `json:"min_order_size"`
	MaxOrderSize      decimal.Decimal `json:"max_order_size"`
	LotSize           decimal.Decimal `json:"lot_size"`
	MaxPriceDeviation decimal.Decimal `json:"max_price_deviation"`
	MaxUserPosition   decimal.Decimal `json:"max_user_position"`
}

// lotEpsilon absorbs representation noise in quantities that arrived as
// floats upstream.
var lotEpsilon = decimal.New(1, -9)

// OnLot reports whether qty is a whole number of lots. A non-positive lot
// size accepts any quantity.
func (l SymbolLimits) OnLot(qty decimal.Decimal) bool {
	if !l.LotSize.IsPositive() {
		return true
	}
	rem := qty.Mod(l.LotSize).Abs()
	return rem.LessThan(lotEpsilon) || l.LotSize.Sub(rem).LessThan(lotEpsilon)
}

type UserLimits struct {
	UserID             string          `json:"user_id"`
	TradingRestricted  bool            `json:"trading_restricted"`
	MaxOrdersPerSecond int             `json:"max_orders_per_second"`
	MaxDailyLoss       decimal.Decimal `json:"max_daily_loss"`
}

// RiskRejection is the error variant of a risk verdict.
type RiskRejection struct {
	Code   RejectCode
	Reason string
}

func (r *RiskRejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Reason)
}

func Reject(code RejectCode, format string, args ...any) *RiskRejection {
	return &RiskRejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Approval is the success variant of a risk verdict.
type Approval struct {
	Warnings []string
	// Delegated is set when the cache could not judge the order and the
	// authority service owns the decision.
	Delegated bool
}
