package core

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fixedClock() func() time.Time { return func() time.Time { return epoch } }

func seqIDs(prefix string) func() string {
	var n atomic.Uint64
	return func() string { return fmt.Sprintf("%s-%d", prefix, n.Add(1)) }
}

func limit(id, account string, side domain.Side, price, qty string) *domain.Order {
	return &domain.Order{
		ID:          id,
		AccountID:   account,
		UserID:      account,
		Symbol:      "BTC-USD",
		Side:        side,
		Type:        domain.Limit,
		TimeInForce: domain.GTC,
		Price:       d(price),
		Quantity:    d(qty),
		Status:      domain.Open,
		CreatedAt:   epoch,
	}
}

func market(id, account string, side domain.Side, qty string) *domain.Order {
	return &domain.Order{
		ID:          id,
		AccountID:   account,
		UserID:      account,
		Symbol:      "BTC-USD",
		Side:        side,
		Type:        domain.Market,
		TimeInForce: domain.IOC,
		Quantity:    d(qty),
		Status:      domain.Open,
		CreatedAt:   epoch,
	}
}

func newTestEngine(t *testing.T) *MatchingEngine {
	t.Helper()
	e := NewMatchingEngine("BTC-USD", WithClock(fixedClock()), WithIDGenerator(seqIDs("t")))
	t.Cleanup(e.Stop)
	return e
}

func requireDecimal(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Fatalf("%s: got %s, want %s", what, got, want)
	}
}
