package cart

import (
	"context"
	"log/slog"
	"sync"
)

// Counter counts the line items of a cart.
type Counter interface {
	CartItemCount(ctx context.Context, cartID, token string) (int, error)
}

// Source yields the cart id and token a refresh uses when no override is
// given.
type Source func(ctx context.Context) (cartID, token string)

// Summary caches the cart item count shown to the visitor.
type Summary struct {
	counter Counter
	source  Source
	logger  *slog.Logger

	mu        sync.Mutex
	count     int
	seq       uint64
	observers map[int]func(int)
	nextObs   int
}

// NewSummary creates a Summary with a count of zero.
func NewSummary(c Counter, src Source, logger *slog.Logger) *Summary {
	return &Summary{
		counter:   c,
		source:    src,
		logger:    logger,
		observers: make(map[int]func(int)),
	}
}

type refreshOptions struct {
	token     string
	hasToken  bool
	cartID    string
	hasCartID bool
}

// RefreshOption overrides an input of Refresh.
type RefreshOption func(*refreshOptions)

// WithToken uses token instead of the current identity's. An empty token
// means an anonymous fetch.
func WithToken(token string) RefreshOption {
	return func(o *refreshOptions) { o.token, o.hasToken = token, true }
}

// WithCartID uses cartID instead of the resolved one. An empty id means
// there is no cart.
func WithCartID(cartID string) RefreshOption {
	return func(o *refreshOptions) { o.cartID, o.hasCartID = cartID, true }
}

// Refresh recomputes the count and returns it. Without a cart id the count
// is zero and the backend is not called; any fetch failure also yields zero.
// When refreshes overlap, the one started last determines the cached count.
func (s *Summary) Refresh(ctx context.Context, opts ...RefreshOption) int {
	var o refreshOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasCartID || !o.hasToken {
		cartID, token := s.source(ctx)
		if !o.hasCartID {
			o.cartID = cartID
		}
		if !o.hasToken {
			o.token = token
		}
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	n := 0
	if o.cartID != "" {
		var err error
		n, err = s.counter.CartItemCount(ctx, o.cartID, o.token)
		if err != nil {
			s.logger.Warn("cart count unavailable",
				slog.String("cart_id", o.cartID),
				slog.String("error", err.Error()),
			)
			n = 0
		}
	}

	s.publish(seq, n)
	return n
}

// Count returns the cached count.
func (s *Summary) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Subscribe registers fn to be called with every changed count. The
// returned function unregisters it.
func (s *Summary) Subscribe(fn func(int)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Summary) publish(seq uint64, n int) {
	s.mu.Lock()
	if seq != s.seq || n == s.count {
		s.mu.Unlock()
		return
	}
	s.count = n
	fns := make([]func(int), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}
