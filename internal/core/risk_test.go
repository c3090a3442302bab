package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

type fakeAuthority struct {
	verdict error
	calls   int
	symbols []domain.SymbolLimits
	users   []domain.UserLimits
	loadErr error
}

func (f *fakeAuthority) CheckOrder(_ context.Context, _ *domain.Order) error {
	f.calls++
	return f.verdict
}

func (f *fakeAuthority) SymbolLimits(context.Context) ([]domain.SymbolLimits, error) {
	return f.symbols, f.loadErr
}

func (f *fakeAuthority) UserLimits(context.Context) ([]domain.UserLimits, error) {
	return f.users, nil
}

func btcLimits() domain.SymbolLimits {
	return domain.SymbolLimits{
		Symbol:            "BTC-USD",
		BaseAsset:         "BTC",
		QuoteAsset:        "USD",
		TradingEnabled:    true,
		MinOrderSize:      d("0.001"),
		MaxOrderSize:      d("100"),
		LotSize:           d("0.001"),
		MaxPriceDeviation: d("0.1"),
	}
}

func newTestGateway(authority *fakeAuthority) *RiskGateway {
	var g *RiskGateway
	if authority == nil {
		g = NewRiskGateway(RiskConfig{}, nil, nil)
	} else {
		g = NewRiskGateway(RiskConfig{}, authority, nil)
	}
	g.now = fixedClock()
	g.SetSymbolLimits([]domain.SymbolLimits{btcLimits()})
	return g
}

func requireCode(t *testing.T, err error, want domain.RejectCode) {
	t.Helper()
	var rej *domain.RiskRejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection %s, got %v", want, err)
	}
	if rej.Code != want {
		t.Fatalf("expected %s, got %s (%s)", want, rej.Code, rej.Reason)
	}
}

func TestQuickCheckOrder(t *testing.T) {
	g := newTestGateway(nil)
	o := limit("o1", "acct", domain.Buy, "50000", "1")
	o.UserID = "u1"

	if _, err := g.QuickCheck(o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every failing condition at once: the first in order wins.
	g.SetCircuitBreaker(true)
	g.SetTradingEnabled(false)
	_, err := g.QuickCheck(o)
	requireCode(t, err, domain.CodeCircuitBreaker)

	g.SetCircuitBreaker(false)
	g.HaltSymbol("BTC-USD", true)
	_, err = g.QuickCheck(o)
	requireCode(t, err, domain.CodeCircuitBreaker)

	g.HaltSymbol("BTC-USD", false)
	_, err = g.QuickCheck(o)
	requireCode(t, err, domain.CodeTradingDisabled)
	g.SetTradingEnabled(true)

	unknown := o.Clone()
	unknown.Symbol = "DOGE-USD"
	_, err = g.QuickCheck(unknown)
	requireCode(t, err, domain.CodeSymbolNotConfigured)

	cases := []struct {
		name string
		qty  string
		want domain.RejectCode
	}{
		{"too small", "0.0001", domain.CodeOrderTooSmall},
		{"too large", "101", domain.CodeOrderTooLarge},
		{"off lot", "1.0005", domain.CodeInvalidLotSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := o.Clone()
			c.Quantity = d(tc.qty)
			_, err := g.QuickCheck(c)
			requireCode(t, err, tc.want)
		})
	}

	g.SetUserLimits([]domain.UserLimits{{UserID: "u1", TradingRestricted: true}})
	_, err = g.QuickCheck(o)
	requireCode(t, err, domain.CodeAccountRestricted)
}

func TestQuickCheckPriceDeviation(t *testing.T) {
	g := newTestGateway(nil)
	o := limit("o1", "acct", domain.Buy, "56000", "1")

	ap, err := g.QuickCheck(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ap.Warnings) != 1 {
		t.Fatalf("expected a missing-price warning, got %v", ap.Warnings)
	}

	g.UpdatePrice("BTC-USD", d("50000"), epoch)
	_, err = g.QuickCheck(o)
	requireCode(t, err, domain.CodePriceDeviation)

	o.Price = d("54000")
	ap, err = g.QuickCheck(o)
	if err != nil || len(ap.Warnings) != 0 {
		t.Fatalf("expected clean approval, got %v %v", ap.Warnings, err)
	}

	// The cached price goes stale and the check degrades to a warning.
	g.now = func() time.Time { return epoch.Add(11 * time.Second) }
	o.Price = d("56000")
	ap, err = g.QuickCheck(o)
	if err != nil {
		t.Fatalf("stale price must not reject: %v", err)
	}
	if len(ap.Warnings) != 1 {
		t.Fatalf("expected stale-price warning, got %v", ap.Warnings)
	}
}

func TestQuickCheckIsDeterministic(t *testing.T) {
	g := newTestGateway(nil)
	g.UpdatePrice("BTC-USD", d("50000"), epoch)
	rapid.Check(t, func(rt *rapid.T) {
		o := limit("o", "acct", domain.Sell,
			decimal.NewFromInt(int64(rapid.IntRange(1, 100000).Draw(rt, "price"))).String(),
			decimal.New(int64(rapid.IntRange(1, 200000).Draw(rt, "qty")), -3).String())
		ap1, err1 := g.QuickCheck(o)
		ap2, err2 := g.QuickCheck(o)
		if (err1 == nil) != (err2 == nil) || len(ap1.Warnings) != len(ap2.Warnings) {
			rt.Fatalf("verdicts differ: %v / %v", err1, err2)
		}
		if err1 != nil && err1.Error() != err2.Error() {
			rt.Fatalf("reasons differ: %v / %v", err1, err2)
		}
	})
}

func TestCheckDelegatesToAuthority(t *testing.T) {
	auth := &fakeAuthority{}
	g := newTestGateway(auth)

	unknown := limit("o1", "acct", domain.Buy, "1", "1")
	unknown.Symbol = "DOGE-USD"
	ap, err := g.QuickCheck(unknown)
	if err != nil || !ap.Delegated {
		t.Fatalf("unknown symbol must be delegated, got %+v %v", ap, err)
	}

	auth.verdict = domain.Reject(domain.CodeInsufficientBalance, "need more")
	_, err = g.Check(context.Background(), limit("o2", "acct", domain.Buy, "50000", "1"))
	requireCode(t, err, domain.CodeInsufficientBalance)

	auth.verdict = errors.New("connection refused")
	_, err = g.Check(context.Background(), limit("o3", "acct", domain.Buy, "50000", "1"))
	requireCode(t, err, domain.CodeAuthorityFailure)

	// A local rejection never reaches the authority.
	calls := auth.calls
	g.SetCircuitBreaker(true)
	_, err = g.Check(context.Background(), limit("o4", "acct", domain.Buy, "50000", "1"))
	requireCode(t, err, domain.CodeCircuitBreaker)
	if auth.calls != calls {
		t.Fatal("authority consulted after a local rejection")
	}
}

func TestRefreshSwapsLimits(t *testing.T) {
	eth := btcLimits()
	eth.Symbol = "ETH-USD"
	auth := &fakeAuthority{
		symbols: []domain.SymbolLimits{eth},
		users:   []domain.UserLimits{{UserID: "u1", TradingRestricted: true}},
	}
	g := newTestGateway(auth)

	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := g.SymbolLimits("BTC-USD"); ok {
		t.Fatal("refresh must replace the symbol set")
	}
	if _, ok := g.SymbolLimits("ETH-USD"); !ok {
		t.Fatal("expected ETH-USD limits")
	}

	auth.loadErr = errors.New("db down")
	if err := g.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if _, ok := g.SymbolLimits("ETH-USD"); !ok {
		t.Fatal("failed refresh must keep the previous limits")
	}
}
