package cart

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
)

// ItemBackend is the part of the storefront backend that reads and edits
// cart contents.
type ItemBackend interface {
	GetCart(ctx context.Context, cartID, token string) (*model.Cart, error)
	AddItem(ctx context.Context, cartID, productID string, quantity int, token string) (*model.CartItem, error)
	UpdateItem(ctx context.Context, cartID, productID string, quantity int, token string) (*model.CartItem, error)
	RemoveItem(ctx context.Context, cartID, productID, token string) error
}

// Service edits the visitor's cart. Mutations of one cart run one at a
// time, and each successful mutation refreshes the summary.
type Service struct {
	resolver *Resolver
	items    ItemBackend
	summary  *Summary
	logger   *slog.Logger
	locks    *KeyedMutex
}

// NewService creates a Service. locks may be shared between services whose
// visitors can reach the same cart; nil gives the service its own.
func NewService(r *Resolver, items ItemBackend, summary *Summary, logger *slog.Logger, locks *KeyedMutex) *Service {
	if locks == nil {
		locks = NewKeyedMutex()
	}
	return &Service{resolver: r, items: items, summary: summary, logger: logger, locks: locks}
}

// Cart returns the identity's cart, allocating an empty one if needed.
func (s *Service) Cart(ctx context.Context, id model.Identity) (*model.Cart, error) {
	cartID, err := s.resolver.GetOrCreateCartID(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := s.items.GetCart(ctx, cartID, id.Token)
	if err != nil {
		return nil, err
	}
	if c.Items == nil {
		c.Items = []model.CartItem{}
	}
	return c, nil
}

// Add puts quantity units of a product into the cart.
func (s *Service) Add(ctx context.Context, id model.Identity, productID string, quantity int) (*model.CartItem, error) {
	if productID == "" {
		return nil, apperror.ValidationFailed("productId", "product id is required")
	}
	if quantity < 1 {
		return nil, apperror.ValidationFailed("quantity", "quantity must be at least 1")
	}
	var item *model.CartItem
	err := s.mutate(ctx, id, "add", func(cartID string) (err error) {
		item, err = s.items.AddItem(ctx, cartID, productID, quantity, id.Token)
		return err
	})
	return item, err
}

// Update sets the quantity of a product in the cart.
func (s *Service) Update(ctx context.Context, id model.Identity, productID string, quantity int) (*model.CartItem, error) {
	if quantity < 1 {
		return nil, apperror.ValidationFailed("quantity", "quantity must be at least 1")
	}
	var item *model.CartItem
	err := s.mutate(ctx, id, "update", func(cartID string) (err error) {
		item, err = s.items.UpdateItem(ctx, cartID, productID, quantity, id.Token)
		return err
	})
	return item, err
}

// Remove takes a product out of the cart.
func (s *Service) Remove(ctx context.Context, id model.Identity, productID string) error {
	return s.mutate(ctx, id, "remove", func(cartID string) error {
		return s.items.RemoveItem(ctx, cartID, productID, id.Token)
	})
}

func (s *Service) mutate(ctx context.Context, id model.Identity, op string, fn func(cartID string) error) error {
	cartID, err := s.resolver.GetOrCreateCartID(ctx, id)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(cartID)
	err = fn(cartID)
	unlock()
	if err != nil {
		return fmt.Errorf("cart: %s on cart %s: %w", op, cartID, err)
	}

	s.summary.Refresh(ctx, WithCartID(cartID), WithToken(id.Token))
	return nil
}

// KeyedMutex is a set of mutexes addressed by key. Entries exist only while
// held or awaited.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
