package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CartHandler serves the visitor's cart and the checkout handoff.
type CartHandler struct {
	logger *slog.Logger
}

// NewCartHandler creates a CartHandler.
func NewCartHandler(logger *slog.Logger) *CartHandler {
	return &CartHandler{logger: logger}
}

type itemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CountResponse carries the cart item count.
type CountResponse struct {
	Count int `json:"count"`
}

// HandleGet returns the cart, creating an empty one on first visit.
func (h *CartHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	c, err := s.Cart(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleCount recomputes and returns the item count. It never fails: a
// backend failure reads as zero.
func (h *CartHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: s.RefreshCount(r.Context())})
}

// HandleAdd adds a product. A missing quantity means one.
func (h *CartHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	var in itemRequest
	if err := decodeJSON(w, r, &in); err != nil {
		WriteError(w, err)
		return
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}

	item, err := s.AddToCart(r.Context(), in.ProductID, in.Quantity)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.logger.Debug("cart item added", slog.String("product_id", in.ProductID), slog.Int("quantity", in.Quantity))
	writeJSON(w, http.StatusCreated, item)
}

// HandleUpdate sets a product's quantity.
func (h *CartHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	var in itemRequest
	if err := decodeJSON(w, r, &in); err != nil {
		WriteError(w, err)
		return
	}

	item, err := s.UpdateQuantity(r.Context(), chi.URLParam(r, "productId"), in.Quantity)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// HandleRemove removes a product.
func (h *CartHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	if err := s.RemoveFromCart(r.Context(), chi.URLParam(r, "productId")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCheckout starts checkout and returns the payment URL.
func (h *CartHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	out, err := s.Checkout(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
