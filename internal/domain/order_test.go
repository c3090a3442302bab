package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRecoverable(t *testing.T) {
	cases := []struct {
		name   string
		typ    OrderType
		tif    TimeInForce
		status OrderStatus
		filled string
		want   bool
	}{
		{"resting limit", Limit, GTC, Open, "0", true},
		{"partial gtd limit", Limit, GTD, PartiallyFilled, "1", true},
		{"ioc remainder", Limit, IOC, PartiallyFilled, "1", false},
		{"fok limit", Limit, FOK, Open, "0", false},
		{"market remainder", Market, IOC, PartiallyFilled, "1", false},
		{"pending stop", Stop, IOC, Open, "0", true},
		{"pending stop limit", StopLimit, GTC, Open, "0", true},
		{"filled limit", Limit, GTC, Filled, "2", false},
		{"cancelled limit", Limit, GTC, Cancelled, "0", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &Order{
				Type:           tc.typ,
				TimeInForce:    tc.tif,
				Status:         tc.status,
				Quantity:       decimal.NewFromInt(2),
				FilledQuantity: decimal.RequireFromString(tc.filled),
			}
			if got := o.Recoverable(); got != tc.want {
				t.Fatalf("Recoverable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOnLot(t *testing.T) {
	l := SymbolLimits{LotSize: decimal.RequireFromString("0.01")}
	for qty, want := range map[string]bool{
		"1":            true,
		"1.01":         true,
		"1.0000000001": true,
		"0.9999999999": true,
		"1.005":        false,
	} {
		if got := l.OnLot(decimal.RequireFromString(qty)); got != want {
			t.Errorf("OnLot(%s) = %v, want %v", qty, got, want)
		}
	}
	if !(SymbolLimits{}).OnLot(decimal.RequireFromString("0.123")) {
		t.Error("zero lot size must accept any quantity")
	}
}
