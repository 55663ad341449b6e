package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sakif/storefront/internal/inventory"
	"github.com/sakif/storefront/internal/model"
)

const relayWriteWait = 10 * time.Second

// InventoryHandler relays live stock for one product view to the browser.
//
// The flow for GET /ws/inventory/{productId}:
//  1. Fetch the product (a plain 404 when it does not exist).
//  2. Upgrade to WebSocket and send the fetched product.
//  3. Subscribe to the backend feed and push the product again on every
//     stock change, until either side goes away.
type InventoryHandler struct {
	catalog  Catalog
	listener *inventory.Listener
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewInventoryHandler creates an InventoryHandler. Browsers whose Origin is
// not in allowedOrigins are refused the upgrade; requests without an Origin
// header (non-browser clients) are let through.
func NewInventoryHandler(c Catalog, l *inventory.Listener, allowedOrigins []string, logger *slog.Logger) *InventoryHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return &InventoryHandler{
		catalog:  c,
		listener: l,
		logger:   logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed["*"] {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return allowed[u.Scheme+"://"+u.Host]
			},
		},
	}
}

func (h *InventoryHandler) HandleRelay(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.Product(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		WriteError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("inventory relay upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// Deadlines from the HTTP server survive the hijack.
	conn.SetReadDeadline(time.Time{})

	log := h.logger.With(slog.String("product_id", product.ID.String()))
	if err := writeProduct(conn, *product); err != nil {
		log.Debug("inventory relay initial write failed", slog.String("error", err.Error()))
		return
	}

	// The request context is not canceled when a hijacked client leaves, so
	// a reader notices the close instead.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debug("inventory relay opened")
	live := inventory.NewLiveStock(*product)
	err = inventory.Watch(ctx, h.listener, live, func(p model.Product) {
		if err := writeProduct(conn, p); err != nil {
			log.Debug("inventory relay write failed", slog.String("error", err.Error()))
			cancel()
		}
	})

	code, text := websocket.CloseNormalClosure, ""
	if err != nil {
		log.Warn("inventory feed ended", slog.String("error", err.Error()))
		code, text = websocket.CloseTryAgainLater, "inventory feed unavailable"
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	conn.Close()
	<-readerDone
	log.Debug("inventory relay closed")
}

func writeProduct(conn *websocket.Conn, p model.Product) error {
	conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
	return conn.WriteJSON(p)
}
