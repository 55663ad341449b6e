package cart

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/storage"
)

// Backend is the part of the storefront backend the resolver needs.
type Backend interface {
	CreateCart(ctx context.Context, token string) (string, error)
	CartItemCount(ctx context.Context, cartID, token string) (int, error)
}

// Resolver maps an identity to its cart id and owns the cart keys in
// storage.
type Resolver struct {
	storage storage.Storage
	backend Backend
	logger  *slog.Logger

	creates singleflight.Group
}

// NewResolver creates a Resolver over one visitor's storage.
func NewResolver(s storage.Storage, b Backend, logger *slog.Logger) *Resolver {
	return &Resolver{storage: s, backend: b, logger: logger}
}

// Lookup returns the stored cart id for the identity without allocating
// one. Storage errors are logged and reported as no cart.
func (r *Resolver) Lookup(ctx context.Context, id model.Identity) (string, bool) {
	cartID, ok, err := r.lookup(ctx, ActiveKey(id))
	if err != nil {
		r.logger.Warn("reading cart id failed", slog.String("key", ActiveKey(id)), slog.String("error", err.Error()))
		return "", false
	}
	return cartID, ok
}

func (r *Resolver) lookup(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := r.storage.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// GetOrCreateCartID returns the identity's cart id, allocating one on the
// backend and storing it under the active key when none exists yet.
// Concurrent calls for the same key share one allocation.
func (r *Resolver) GetOrCreateCartID(ctx context.Context, id model.Identity) (string, error) {
	key := ActiveKey(id)
	if cartID, ok, err := r.lookup(ctx, key); err != nil {
		return "", fmt.Errorf("cart: reading %s: %w", key, err)
	} else if ok {
		return cartID, nil
	}

	v, err, shared := r.creates.Do(key, func() (any, error) {
		// A caller that finished just before us may have stored one.
		if cartID, ok, err := r.lookup(ctx, key); err != nil {
			return "", fmt.Errorf("cart: reading %s: %w", key, err)
		} else if ok {
			return cartID, nil
		}

		cartID, err := r.backend.CreateCart(ctx, id.Token)
		if err != nil {
			return "", fmt.Errorf("cart: allocating cart: %w", err)
		}
		if err := r.storage.Set(ctx, key, cartID); err != nil {
			return "", fmt.Errorf("cart: storing %s: %w", key, err)
		}
		r.logger.Info("cart allocated",
			slog.String("key", key),
			slog.String("cart_id", cartID),
			slog.Bool("authenticated", id.Authenticated()),
		)
		return cartID, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		r.logger.Debug("cart allocation shared", slog.String("key", key))
	}
	return v.(string), nil
}

// OnLogin carries the anonymous cart into the user's session.
//
// When previousAnonymousCartID still sits under the anonymous key, its items
// are counted with the new token. A non-empty cart is stored under the
// per-user key unless that key already holds a cart; the anonymous key is
// cleared in every case. Calling OnLogin again after the anonymous key was
// cleared does nothing.
func (r *Resolver) OnLogin(ctx context.Context, userID, token, previousAnonymousCartID string) error {
	if userID == "" {
		return apperror.ValidationFailed("userId", "user id is required to merge a cart")
	}
	if previousAnonymousCartID == "" {
		return nil
	}

	current, ok, err := r.lookup(ctx, AnonymousKey)
	if err != nil {
		return fmt.Errorf("cart: reading %s: %w", AnonymousKey, err)
	}
	if !ok || current != previousAnonymousCartID {
		return nil
	}

	log := r.logger.With(slog.String("user_id", userID), slog.String("cart_id", previousAnonymousCartID))

	count, err := r.backend.CartItemCount(ctx, previousAnonymousCartID, token)
	if err != nil {
		log.Warn("counting anonymous cart failed, discarding it", slog.String("error", err.Error()))
		count = 0
	}
	if count == 0 {
		if err := r.storage.Remove(ctx, AnonymousKey); err != nil {
			return fmt.Errorf("cart: clearing %s: %w", AnonymousKey, err)
		}
		log.Debug("empty anonymous cart discarded")
		return nil
	}

	userKey := UserKey(userID)
	_, hasUserCart, err := r.lookup(ctx, userKey)
	if err != nil {
		return fmt.Errorf("cart: reading %s: %w", userKey, err)
	}

	changes := []storage.Change{storage.Delete(AnonymousKey)}
	if !hasUserCart {
		changes = append(changes, storage.Put(userKey, previousAnonymousCartID))
	}
	if err := r.storage.Apply(ctx, changes...); err != nil {
		return fmt.Errorf("cart: merging anonymous cart: %w", err)
	}

	if hasUserCart {
		log.Info("user already has a cart, anonymous cart dropped", slog.Int("items", count))
	} else {
		log.Info("anonymous cart merged", slog.Int("items", count))
	}
	return nil
}

// Forget removes the stored cart id for the identity. The next
// GetOrCreateCartID allocates a new cart.
func (r *Resolver) Forget(ctx context.Context, id model.Identity) error {
	if err := r.storage.Remove(ctx, ActiveKey(id)); err != nil {
		return fmt.Errorf("cart: clearing %s: %w", ActiveKey(id), err)
	}
	return nil
}
