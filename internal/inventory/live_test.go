package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/storefront/internal/model"
)

func TestLiveStock_Apply(t *testing.T) {
	live := NewLiveStock(model.Product{ID: "42", Name: "Lamp", Stock: 10})

	assert.False(t, live.Apply(model.StockUpdate{ProductID: "7", NewStock: 0}), "other product")
	assert.Equal(t, 10, live.Product().Stock)

	assert.False(t, live.Apply(model.StockUpdate{ProductID: "42", NewStock: 10}), "no change")

	assert.True(t, live.Apply(model.StockUpdate{ProductID: "42", NewStock: 0}))
	assert.Equal(t, 0, live.Product().Stock)
	assert.False(t, live.Product().InStock())
	assert.Equal(t, "Lamp", live.Product().Name)
}

func TestWatch(t *testing.T) {
	srv, l := setup(t)
	live := NewLiveStock(model.Product{ID: "42", Stock: 10})

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan model.Product, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, l, live, func(p model.Product) { changes <- p })
	}()
	require.True(t, srv.WaitSubscribers("42", 1, wait))

	srv.PublishStock("42", "7", 1)
	srv.PublishStock("42", "42", 4)

	select {
	case p := <-changes:
		assert.Equal(t, 4, p.Stock)
	case <-time.After(wait):
		t.Fatal("no change observed")
	}
	assert.Equal(t, 4, live.Product().Stock)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("Watch did not return after cancel")
	}
	assert.True(t, srv.WaitSubscribers("42", 0, wait), "subscription closed on return")
}

func TestWatch_FeedUnavailableKeepsStock(t *testing.T) {
	srv, l := setup(t)
	srv.Fail("GET /ws/inventory/{productId}", 503)
	live := NewLiveStock(model.Product{ID: "42", Stock: 10})

	err := Watch(context.Background(), l, live, nil)
	assert.Error(t, err)
	assert.Equal(t, 10, live.Product().Stock)
}
