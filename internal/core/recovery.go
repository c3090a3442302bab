package core

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Recover reloads every open order from the repository. Stop orders return
// to the stop manager with their stored trigger and time-in-force; resting
// limit orders go back on their book at their existing fill without
// matching. Market, IOC and FOK leftovers are skipped. It must complete
// before traffic is accepted.
func (m *OrderManager) Recover(ctx context.Context) error {
	orders, err := m.repo.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})

	var books, stops, skipped int
	for _, o := range orders {
		if !o.Recoverable() {
			skipped++
			continue
		}
		if o.Type.Conditional() {
			if err := m.stops.Add(o); err != nil {
				return fmt.Errorf("restore stop order %s: %w", o.ID, err)
			}
			stops++
		} else {
			if err := m.books.LoadOrder(ctx, o); err != nil {
				return fmt.Errorf("restore order %s: %w", o.ID, err)
			}
			books++
		}
		m.track(o)
	}
	// Recovery is not a change to the books; nothing to broadcast.
	if _, err := m.books.FlushUpdates(ctx); err != nil {
		return err
	}
	m.logger.Info("open orders recovered", zap.Int("book_orders", books), zap.Int("stop_orders", stops), zap.Int("skipped", skipped))
	return nil
}
