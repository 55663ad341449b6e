// Package inventory follows the backend's live stock feed for one product
// view at a time.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
)

// closeGrace bounds the close handshake sent on unsubscribe.
const closeGrace = time.Second

// Listener opens inventory feed subscriptions against the backend.
type Listener struct {
	base   *url.URL
	dialer *websocket.Dialer
	logger *slog.Logger
}

// Option configures a Listener.
type Option func(*Listener)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(l *Listener) { l.dialer = d }
}

// NewListener derives the feed base from the backend's REST base URL:
// http becomes ws and https becomes wss.
func NewListener(backendURL string, logger *slog.Logger, opts ...Option) (*Listener, error) {
	u, err := url.Parse(strings.TrimRight(backendURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("inventory: parsing backend URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("inventory: unsupported backend scheme %q", u.Scheme)
	}

	l := &Listener{
		base:   u,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// FeedURL returns the feed endpoint for productID.
func (l *Listener) FeedURL(productID string) string {
	return l.base.JoinPath("ws", "inventory", productID).String()
}

// Subscribe opens the feed for productID. The subscription ends when Close
// is called, ctx is done or the backend hangs up, whichever comes first.
//
// A failed dial is logged and yields a subscription that is already done,
// so the caller keeps showing the stock it fetched.
func (l *Listener) Subscribe(ctx context.Context, productID string) *Subscription {
	s := &Subscription{
		productID: productID,
		updates:   make(chan model.StockUpdate, 1),
		done:      make(chan struct{}),
		logger:    l.logger.With(slog.String("product_id", productID)),
	}

	target := l.FeedURL(productID)
	conn, resp, err := l.dialer.DialContext(ctx, target, nil)
	if err != nil {
		attrs := []any{slog.String("url", target), slog.String("error", err.Error())}
		if resp != nil {
			attrs = append(attrs, slog.Int("status", resp.StatusCode))
			resp.Body.Close()
		}
		s.logger.Warn("inventory feed unavailable", attrs...)
		s.err = apperror.Unavailable("inventory feed unavailable", err)
		s.once.Do(func() {})
		close(s.updates)
		close(s.done)
		return s
	}

	s.conn = conn
	// A context that is already done runs shutdown right away, in another
	// goroutine, so stopAfter is published under mu.
	s.mu.Lock()
	s.stopAfter = context.AfterFunc(ctx, s.shutdown)
	s.mu.Unlock()
	s.wg.Add(1)
	go s.run()

	s.logger.Debug("inventory feed subscribed")
	return s
}

// Subscription is one product's feed connection.
type Subscription struct {
	productID string
	conn      *websocket.Conn
	logger    *slog.Logger

	updates chan model.StockUpdate
	done    chan struct{}

	once      sync.Once
	closing   atomic.Bool
	stopAfter func() bool
	wg        sync.WaitGroup

	mu     sync.Mutex
	latest *model.StockUpdate
	err    error
}

// ProductID returns the subscribed product.
func (s *Subscription) ProductID() string { return s.productID }

// Updates delivers stock updates for the product. Only the newest undelivered
// update is kept. The channel is closed when the subscription ends.
func (s *Subscription) Updates() <-chan model.StockUpdate { return s.updates }

// Done is closed when the subscription has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Latest returns the newest update received so far.
func (s *Subscription) Latest() (model.StockUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return model.StockUpdate{}, false
	}
	return *s.latest, true
}

// Err reports why the subscription ended abnormally: a failed dial or a
// broken connection. It is nil while running and after Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription and waits for its goroutine to exit. It is
// safe to call more than once.
func (s *Subscription) Close() {
	s.shutdown()
	s.wg.Wait()
}

// shutdown tears the connection down exactly once.
func (s *Subscription) shutdown() {
	s.once.Do(func() {
		s.closing.Store(true)
		s.mu.Lock()
		stop := s.stopAfter
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		if s.conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		s.conn.Close()
	})
}

func (s *Subscription) run() {
	defer s.wg.Done()
	defer close(s.done)
	defer close(s.updates)
	defer s.shutdown()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}

		var u model.StockUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			s.logger.Warn("dropping malformed inventory message",
				slog.String("error", err.Error()),
				slog.Int("bytes", len(data)),
			)
			continue
		}
		if u.ProductID.String() != s.productID {
			s.logger.Debug("dropping update for another product", slog.String("got", u.ProductID.String()))
			continue
		}
		s.deliver(u)
	}
}

// deliver replaces any undelivered update with u. run is the only sender.
func (s *Subscription) deliver(u model.StockUpdate) {
	s.mu.Lock()
	s.latest = &u
	s.mu.Unlock()

	select {
	case s.updates <- u:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- u
}

func (s *Subscription) finish(err error) {
	if s.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Debug("inventory feed closed")
		return
	}
	s.logger.Warn("inventory feed broke", slog.String("error", err.Error()))
	s.mu.Lock()
	s.err = apperror.Unavailable("inventory feed interrupted", err)
	s.mu.Unlock()
}
