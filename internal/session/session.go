// Package session builds and keeps the per-visitor state of the storefront:
// identity, cart reference and cart count, all rebuilt from the visitor's
// durable storage.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/backend"
	"github.com/sakif/storefront/internal/cart"
	"github.com/sakif/storefront/internal/identity"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/storage"
)

// Session is one visitor. It is built once per visitor id and handed to
// every request of that visitor.
type Session struct {
	id      string
	client  *backend.Client
	logger  *slog.Logger
	storage storage.Storage

	identity *identity.Store
	resolver *cart.Resolver
	summary  *cart.Summary
	carts    *cart.Service

	stopObserving func()

	mu       sync.Mutex
	lastSeen time.Time
}

// New builds the session of visitor id over its storage and recovers the
// persisted identity. locks is shared by every session of the process.
func New(ctx context.Context, id string, st storage.Storage, client *backend.Client, locks *cart.KeyedMutex, logger *slog.Logger) *Session {
	logger = logger.With(slog.String("session", id))

	s := &Session{
		id:       id,
		client:   client,
		logger:   logger,
		storage:  st,
		identity: identity.NewStore(st, logger),
		lastSeen: time.Now(),
	}
	counts := countClient{client}
	s.resolver = cart.NewResolver(st, counts, logger)
	s.summary = cart.NewSummary(counts, s.cartSource, logger)
	s.carts = cart.NewService(s.resolver, client, s.summary, logger, locks)

	s.stopObserving = s.identity.Subscribe(func(id model.Identity) {
		if id.Authenticated() {
			logger.Debug("session identity changed", slog.String("user_id", id.UserID), slog.String("role", string(id.Role)))
			return
		}
		logger.Debug("session is anonymous")
	})

	s.identity.Read(ctx)
	return s
}

// countClient keeps cart counts out of token rejection: a refused count
// reads as an empty cart and never logs the visitor out.
type countClient struct {
	*backend.Client
}

func (c countClient) CartItemCount(ctx context.Context, cartID, token string) (int, error) {
	return c.Client.CartItemCount(backend.WithoutRejectHandler(ctx), cartID, token)
}

// ID returns the visitor id.
func (s *Session) ID() string { return s.id }

// Identity returns the visitor's identity.
func (s *Session) Identity() model.Identity { return s.identity.Current() }

// Touch marks the session as used now.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

// LastSeen returns the time of the last Touch.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close detaches the session's observers.
func (s *Session) Close() {
	s.stopObserving()
}

func (s *Session) cartSource(ctx context.Context) (string, string) {
	id := s.identity.Current()
	cartID, _ := s.resolver.Lookup(ctx, id)
	return cartID, id.Token
}

// bind returns ctx carrying the session's handler for rejected tokens.
func (s *Session) bind(ctx context.Context) context.Context {
	return backend.WithRejectHandler(ctx, s.rejected)
}

// rejected clears the identity when the backend refuses its token. A
// rejection of a token that is no longer current is ignored.
func (s *Session) rejected(ctx context.Context, status int, token string) {
	current := s.identity.Current()
	if !current.Authenticated() || current.Token != token {
		return
	}
	s.logger.Warn("backend rejected session token, logging out",
		slog.Int("status", status),
		slog.String("user_id", current.UserID),
	)
	if err := s.identity.Clear(ctx); err != nil {
		s.logger.Error("clearing rejected identity failed", slog.String("error", err.Error()))
		return
	}
	s.summary.Refresh(ctx)
}

// =========================================================================
// IDENTITY
// =========================================================================

// Login authenticates with the backend, stores the decoded identity and
// carries a non-empty anonymous cart over to the user.
func (s *Session) Login(ctx context.Context, email, password string) (model.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return model.Identity{}, apperror.ValidationFailed("email", "email and password are required")
	}
	ctx = s.bind(ctx)

	token, err := s.client.Login(ctx, email, password)
	if err != nil {
		return s.Identity(), err
	}

	anonCart, _ := s.resolver.Lookup(ctx, model.Identity{})

	id, err := s.identity.DecodeAndSet(ctx, token)
	if err != nil {
		return id, err
	}

	// The login stands even when the cart cannot be carried over; the
	// anonymous cart then stays where it was.
	if err := s.resolver.OnLogin(ctx, id.UserID, token, anonCart); err != nil {
		s.logger.Error("carrying cart into login failed",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
	}
	s.summary.Refresh(ctx)
	return s.Identity(), nil
}

// Register creates an account. The visitor stays anonymous until Login.
func (s *Session) Register(ctx context.Context, name, email, password string) error {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	switch {
	case name == "":
		return apperror.ValidationFailed("name", "name is required")
	case email == "":
		return apperror.ValidationFailed("email", "email is required")
	case password == "":
		return apperror.ValidationFailed("password", "password is required")
	}
	return s.client.Register(s.bind(ctx), name, email, password)
}

// Logout forgets the identity. Cart keys stay as they are, so the user's
// cart is found again on the next login.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.identity.Clear(ctx); err != nil {
		return err
	}
	s.summary.Refresh(s.bind(ctx))
	return nil
}

// =========================================================================
// CART
// =========================================================================

// Cart returns the visitor's cart, creating an empty one if there is none.
func (s *Session) Cart(ctx context.Context) (*model.Cart, error) {
	return s.carts.Cart(s.bind(ctx), s.Identity())
}

// AddToCart adds quantity units of a product.
func (s *Session) AddToCart(ctx context.Context, productID string, quantity int) (*model.CartItem, error) {
	return s.carts.Add(s.bind(ctx), s.Identity(), productID, quantity)
}

// UpdateQuantity sets a product's quantity. Values below one become one.
func (s *Session) UpdateQuantity(ctx context.Context, productID string, quantity int) (*model.CartItem, error) {
	return s.carts.Update(s.bind(ctx), s.Identity(), productID, max(1, quantity))
}

// RemoveFromCart takes a product out of the cart.
func (s *Session) RemoveFromCart(ctx context.Context, productID string) error {
	return s.carts.Remove(s.bind(ctx), s.Identity(), productID)
}

// CartCount returns the cached cart item count.
func (s *Session) CartCount() int { return s.summary.Count() }

// RefreshCount recomputes the cart item count.
func (s *Session) RefreshCount(ctx context.Context) int {
	return s.summary.Refresh(s.bind(ctx))
}

// SubscribeCount registers fn for cart count changes.
func (s *Session) SubscribeCount(fn func(int)) func() { return s.summary.Subscribe(fn) }

// Checkout hands the cart to the backend's payment flow.
func (s *Session) Checkout(ctx context.Context) (*model.CheckoutSession, error) {
	id := s.Identity()
	if !id.Authenticated() {
		return nil, apperror.Unauthorized("Login required to checkout")
	}
	ctx = s.bind(ctx)

	cartID, ok := s.resolver.Lookup(ctx, id)
	if !ok {
		return nil, apperror.ValidationFailed("cart", "Cart is empty")
	}
	c, err := s.client.GetCart(ctx, cartID, id.Token)
	if err != nil {
		return nil, err
	}
	if c.ItemCount() == 0 {
		return nil, apperror.ValidationFailed("cart", "Cart is empty")
	}

	out, err := s.client.Checkout(ctx, cartID, id.Token)
	if err != nil {
		return nil, err
	}
	s.logger.Info("checkout started", slog.String("cart_id", cartID), slog.String("user_id", id.UserID))
	return out, nil
}

// =========================================================================
// WISHLIST AND ACCOUNT
// =========================================================================

// Wishlist lists the saved products.
func (s *Session) Wishlist(ctx context.Context) ([]model.WishlistItem, error) {
	return s.client.Wishlist(s.bind(ctx), s.Identity().Token)
}

// AddToWishlist saves a product.
func (s *Session) AddToWishlist(ctx context.Context, productID string) (*model.WishlistItem, error) {
	return s.client.AddToWishlist(s.bind(ctx), productID, s.Identity().Token)
}

// RemoveFromWishlist removes a saved product.
func (s *Session) RemoveFromWishlist(ctx context.Context, productID string) error {
	return s.client.RemoveFromWishlist(s.bind(ctx), productID, s.Identity().Token)
}

// InWishlist reports whether the product is saved. Anonymous visitors and
// failed lookups report false.
func (s *Session) InWishlist(ctx context.Context, productID string) bool {
	id := s.Identity()
	if !id.Authenticated() {
		return false
	}
	items, err := s.client.Wishlist(s.bind(ctx), id.Token)
	if err != nil {
		s.logger.Warn("wishlist lookup failed", slog.String("product_id", productID), slog.String("error", err.Error()))
		return false
	}
	for _, it := range items {
		if it.Product.ID.String() == productID {
			return true
		}
	}
	return false
}

// Orders lists the user's orders.
func (s *Session) Orders(ctx context.Context) ([]model.Order, error) {
	return s.client.Orders(s.bind(ctx), s.Identity().Token)
}

// Order fetches one of the user's orders.
func (s *Session) Order(ctx context.Context, orderID string) (*model.Order, error) {
	return s.client.Order(s.bind(ctx), orderID, s.Identity().Token)
}

// Profile returns the user's account record.
func (s *Session) Profile(ctx context.Context) (*model.Profile, error) {
	return s.client.Profile(s.bind(ctx), s.Identity().Token)
}

// =========================================================================
// ADMIN
// =========================================================================

func (s *Session) requireAdmin(action string) (model.Identity, error) {
	id := s.Identity()
	if !id.Authenticated() {
		return id, apperror.Unauthorized("login required to " + action)
	}
	if !id.IsAdmin() {
		return id, apperror.Forbidden("admin role required to " + action)
	}
	return id, nil
}

// CreateCategory adds a catalog category.
func (s *Session) CreateCategory(ctx context.Context, in model.CategoryInput) (*model.Category, error) {
	id, err := s.requireAdmin("create categories")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperror.ValidationFailed("name", "category name is required")
	}
	return s.client.CreateCategory(s.bind(ctx), in, id.Token)
}

// CreateProduct adds a catalog product.
func (s *Session) CreateProduct(ctx context.Context, in model.ProductInput) (*model.Product, error) {
	id, err := s.requireAdmin("create products")
	if err != nil {
		return nil, err
	}
	if err := validateProduct(in); err != nil {
		return nil, err
	}
	return s.client.CreateProduct(s.bind(ctx), in, id.Token)
}

// UpdateProduct edits a catalog product.
func (s *Session) UpdateProduct(ctx context.Context, productID string, in model.ProductInput) (*model.Product, error) {
	id, err := s.requireAdmin("edit products")
	if err != nil {
		return nil, err
	}
	if err := validateProduct(in); err != nil {
		return nil, err
	}
	return s.client.UpdateProduct(s.bind(ctx), productID, in, id.Token)
}

func validateProduct(in model.ProductInput) error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return apperror.ValidationFailed("name", "product name is required")
	case in.Price < 0:
		return apperror.ValidationFailed("price", "price cannot be negative")
	case in.Stock < 0:
		return apperror.ValidationFailed("stock", "stock cannot be negative")
	case strings.TrimSpace(in.CategoryID) == "":
		return apperror.ValidationFailed("categoryId", "category is required")
	}
	return nil
}
