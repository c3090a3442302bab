package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

func trade(id string) *domain.Trade {
	return &domain.Trade{ID: id, Symbol: "BTC-USD", Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)}
}

func TestSpoolDrainsOldestFirst(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		if err := s.Push(ctx, []*domain.Trade{trade(id)}); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}

	var got []string
	err = s.Drain(ctx, func(batch []*domain.Trade) error {
		for _, tr := range batch {
			got = append(got, tr.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[0] != "t1" || got[2] != "t3" {
		t.Fatalf("unexpected drain order: %v", got)
	}
	if n, _ := s.Len(); n != 0 {
		t.Fatalf("expected empty spool, got %d", n)
	}
}

func TestSpoolKeepsRefusedBatch(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	_ = s.Push(ctx, []*domain.Trade{trade("a")})
	_ = s.Push(ctx, []*domain.Trade{trade("b")})

	boom := errors.New("db down")
	calls := 0
	err = s.Drain(ctx, func(batch []*domain.Trade) error {
		calls++
		if batch[0].ID == "b" {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if n, _ := s.Len(); n != 1 {
		t.Fatalf("expected 1 batch left, got %d", n)
	}

	var left []*domain.Trade
	_ = s.Drain(ctx, func(batch []*domain.Trade) error {
		left = append(left, batch...)
		return nil
	})
	if len(left) != 1 || left[0].ID != "b" || !left[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected remaining batch: %+v", left)
	}
}
