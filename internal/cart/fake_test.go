package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBackend is an in-memory Backend and ItemBackend.
type fakeBackend struct {
	mu          sync.Mutex
	next        int
	carts       map[string][]model.CartItem
	creates     int
	counts      int
	createToken []string
	countToken  []string
	failCount   error
	failCreate  error
	createDelay time.Duration

	inflight    map[string]int
	maxInflight int
	addDelay    time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		carts:    make(map[string][]model.CartItem),
		inflight: make(map[string]int),
	}
}

// seed creates a cart with n distinct items and returns its id.
func (f *fakeBackend) seed(n int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("cart-%d", f.next)
	items := []model.CartItem{}
	for i := range n {
		items = append(items, model.CartItem{Product: model.Product{ID: model.ID(fmt.Sprint(i + 1))}, Quantity: 1})
	}
	f.carts[id] = items
	return id
}

func (f *fakeBackend) CreateCart(_ context.Context, token string) (string, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.createToken = append(f.createToken, token)
	if f.failCreate != nil {
		return "", f.failCreate
	}
	f.next++
	id := fmt.Sprintf("cart-%d", f.next)
	f.carts[id] = []model.CartItem{}
	return id, nil
}

func (f *fakeBackend) CartItemCount(_ context.Context, cartID, token string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts++
	f.countToken = append(f.countToken, token)
	if f.failCount != nil {
		return 0, f.failCount
	}
	items, ok := f.carts[cartID]
	if !ok {
		return 0, apperror.NotFound("cart", cartID)
	}
	return len(items), nil
}

func (f *fakeBackend) GetCart(_ context.Context, cartID, _ string) (*model.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.carts[cartID]
	if !ok {
		return nil, apperror.NotFound("cart", cartID)
	}
	return &model.Cart{ID: model.ID(cartID), Items: append([]model.CartItem(nil), items...)}, nil
}

func (f *fakeBackend) AddItem(_ context.Context, cartID, productID string, quantity int, _ string) (*model.CartItem, error) {
	f.enter(cartID)
	defer f.leave(cartID)
	if f.addDelay > 0 {
		time.Sleep(f.addDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.carts[cartID]
	if !ok {
		return nil, apperror.NotFound("cart", cartID)
	}
	for i := range items {
		if items[i].Product.ID.String() == productID {
			items[i].Quantity += quantity
			return &items[i], nil
		}
	}
	item := model.CartItem{Product: model.Product{ID: model.ID(productID)}, Quantity: quantity}
	f.carts[cartID] = append(items, item)
	return &item, nil
}

func (f *fakeBackend) UpdateItem(_ context.Context, cartID, productID string, quantity int, _ string) (*model.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, it := range f.carts[cartID] {
		if it.Product.ID.String() == productID {
			f.carts[cartID][i].Quantity = quantity
			out := f.carts[cartID][i]
			return &out, nil
		}
	}
	return nil, apperror.New(apperror.ErrNotFound, "Product was not found in the cart.")
}

func (f *fakeBackend) RemoveItem(_ context.Context, cartID, productID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.carts[cartID]
	for i, it := range items {
		if it.Product.ID.String() == productID {
			f.carts[cartID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return apperror.New(apperror.ErrNotFound, "Product was not found in the cart.")
}

func (f *fakeBackend) enter(cartID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight[cartID]++
	if f.inflight[cartID] > f.maxInflight {
		f.maxInflight = f.inflight[cartID]
	}
}

func (f *fakeBackend) leave(cartID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight[cartID]--
}

func (f *fakeBackend) stats() (creates, counts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.counts
}

var errBackendDown = errors.New("connection refused")
