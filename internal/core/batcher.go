package core

import (
	"context"
	"sync"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"go.uber.org/zap"
)

type BatcherConfig struct {
	Size     int
	Interval time.Duration
}

// TradeBatcher accumulates executed trades and persists them in batches,
// at a size threshold or on a timer. A failed batch is never dropped: it
// goes to the spool when one is configured, otherwise back to the front of
// the queue.
type TradeBatcher struct {
	cfg    BatcherConfig
	repo   port.Repository
	spool  port.TradeSpool
	logger *zap.Logger

	mu      sync.Mutex
	pending []*domain.Trade
	kick    chan struct{}
}

func NewTradeBatcher(cfg BatcherConfig, repo port.Repository, spool port.TradeSpool, logger *zap.Logger) *TradeBatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Size <= 0 {
		cfg.Size = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	return &TradeBatcher{
		cfg:    cfg,
		repo:   repo,
		spool:  spool,
		logger: logger.Named("batcher"),
		kick:   make(chan struct{}, 1),
	}
}

func (b *TradeBatcher) Add(trades ...*domain.Trade) {
	if len(trades) == 0 {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, trades...)
	full := len(b.pending) >= b.cfg.Size
	b.mu.Unlock()
	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

func (b *TradeBatcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush writes everything queued so far. It returns the persistence error
// after the batch has been spooled or re-queued.
func (b *TradeBatcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	err := b.repo.SaveTrades(ctx, batch)
	if err == nil {
		b.logger.Debug("trades persisted", zap.Int("count", len(batch)))
		return nil
	}
	b.logger.Warn("trade batch persistence failed", zap.Int("count", len(batch)), zap.Error(err))
	if b.spool != nil {
		serr := b.spool.Push(ctx, batch)
		if serr == nil {
			return err
		}
		b.logger.Error("trade spool write failed", zap.Error(serr))
	}
	b.mu.Lock()
	b.pending = append(batch, b.pending...)
	b.mu.Unlock()
	return err
}

// retrySpool replays spooled batches into the repository.
func (b *TradeBatcher) retrySpool(ctx context.Context) {
	if b.spool == nil {
		return
	}
	err := b.spool.Drain(ctx, func(trades []*domain.Trade) error {
		return b.repo.SaveTrades(ctx, trades)
	})
	if err != nil {
		b.logger.Debug("spooled trades still pending", zap.Error(err))
	}
}

// Run flushes on the interval or when the size threshold is reached, and
// performs a final flush when ctx ends.
func (b *TradeBatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = b.Flush(final)
			cancel()
			return
		case <-ticker.C:
			b.retrySpool(ctx)
			_ = b.Flush(ctx)
		case <-b.kick:
			_ = b.Flush(ctx)
		}
	}
}
