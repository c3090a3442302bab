package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/redis/go-redis/v9"
)

var _ port.Cache = (*RedisCache)(nil)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr string, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{
		client: rdb,
		ttl:    ttl,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func key(symbol string) string { return "ob:" + symbol }

func (c *RedisCache) SetOrderbook(ctx context.Context, symbol string, ob *domain.OrderbookSnapshot) error {
	b, err := json.Marshal(ob)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(symbol), b, c.ttl).Err()
}

// GetOrderbook returns port.ErrNotFound when no snapshot is cached.
func (c *RedisCache) GetOrderbook(ctx context.Context, symbol string) (*domain.OrderbookSnapshot, error) {
	b, err := c.client.Get(ctx, key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ob domain.OrderbookSnapshot
	if err := json.Unmarshal(b, &ob); err != nil {
		return nil, err
	}
	return &ob, nil
}

// Incr bumps a fixed-window counter and returns its new value. The key
// expires with the window.
func (c *RedisCache) Incr(ctx context.Context, counter string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, "rate:"+counter)
		pipe.Expire(ctx, "rate:"+counter, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", counter, err)
	}
	return incr.Val(), nil
}
