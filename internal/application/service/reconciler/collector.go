package reconciler

import (
	"sync"

	order "main/internal/domain/entity/order"
)

// insertCollector buffers newly derived orders across all concurrently
// running pool reconciliations until the batch-wide flush. Updates never go
// through here; they are applied immediately by the legs.
type insertCollector struct {
	mu     sync.Mutex
	orders []order.DerivedOrder
}

func newInsertCollector() *insertCollector {
	return &insertCollector{}
}

func (c *insertCollector) add(o order.DerivedOrder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, o)
}

// drain returns the buffered orders and resets the collector.
func (c *insertCollector) drain() []order.DerivedOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	orders := c.orders
	c.orders = nil
	return orders
}
