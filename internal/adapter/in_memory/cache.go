package in_memory

import (
	"context"
	"sync"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
)

type Cache struct {
	mu       sync.Mutex
	store    map[string]*domain.OrderbookSnapshot
	counters map[string]counter
	now      func() time.Time
}

type counter struct {
	n       int64
	expires time.Time
}

var _ port.Cache = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{
		store:    make(map[string]*domain.OrderbookSnapshot),
		counters: make(map[string]counter),
		now:      time.Now,
	}
}

func (c *Cache) SetOrderbook(ctx context.Context, symbol string, ob *domain.OrderbookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[symbol] = ob.DeepCopy()
	return nil
}

func (c *Cache) GetOrderbook(ctx context.Context, symbol string) (*domain.OrderbookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ob, ok := c.store[symbol]
	if !ok {
		return nil, port.ErrNotFound
	}
	return ob.DeepCopy(), nil
}

func (c *Cache) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	cur := c.counters[key]
	if !now.Before(cur.expires) {
		cur = counter{expires: now.Add(window)}
	}
	cur.n++
	c.counters[key] = cur
	return cur.n, nil
}
