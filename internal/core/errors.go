package core

import "errors"

var (
	ErrNoLiquidity      = errors.New("no liquidity available")
	ErrFOKUnfillable    = errors.New("fill-or-kill order cannot be fully filled")
	ErrOrderNotFound    = errors.New("order not found")
	ErrDuplicateOrder   = errors.New("duplicate order id")
	ErrConditionalOrder = errors.New("stop orders are not matched directly")
	ErrOrderExpired     = errors.New("order expired")
	ErrNotResting       = errors.New("order cannot rest on the book")
	ErrEngineStopped    = errors.New("matching engine stopped")
	ErrInternal         = errors.New("internal matching error")
	ErrUnknownSymbol    = errors.New("symbol not found")
)

// IsMatchingRejection reports whether err is a terminal business rejection
// from the matching layer rather than an infrastructure failure.
func IsMatchingRejection(err error) bool {
	return errors.Is(err, ErrNoLiquidity) ||
		errors.Is(err, ErrFOKUnfillable) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrDuplicateOrder) ||
		errors.Is(err, ErrConditionalOrder) ||
		errors.Is(err, ErrOrderExpired)
}
