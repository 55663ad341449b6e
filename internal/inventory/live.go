package inventory

import (
	"context"
	"sync"

	"github.com/sakif/storefront/internal/model"
)

// LiveStock is the product shown by one view, kept current by feed updates.
type LiveStock struct {
	mu      sync.RWMutex
	product model.Product
}

// NewLiveStock starts from the point-in-time product fetched for the view.
func NewLiveStock(p model.Product) *LiveStock {
	return &LiveStock{product: p}
}

// Product returns the current product state.
func (l *LiveStock) Product() model.Product {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.product
}

// Apply overwrites the stock when u is about this product. It reports
// whether the product changed.
func (l *LiveStock) Apply(u model.StockUpdate) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u.ProductID != l.product.ID || u.NewStock == l.product.Stock {
		return false
	}
	l.product.Stock = u.NewStock
	return true
}

// Watch subscribes to the feed of live's product and applies every update
// until ctx is done or the feed ends. onChange, when non-nil, is called
// with the new product state after each change. The subscription is closed
// before Watch returns; the error is the feed's, if it failed.
func Watch(ctx context.Context, l *Listener, live *LiveStock, onChange func(model.Product)) error {
	sub := l.Subscribe(ctx, live.Product().ID.String())
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-sub.Updates():
			if !ok {
				return sub.Err()
			}
			if live.Apply(u) && onChange != nil {
				onChange(live.Product())
			}
		}
	}
}
