package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AccountHandler serves the logged-in user's wishlist, orders and profile.
// Every route sits behind session.RequireAuth.
type AccountHandler struct{}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler() *AccountHandler { return &AccountHandler{} }

// WishlistStatus reports whether one product is saved.
type WishlistStatus struct {
	ProductID  string `json:"productId"`
	InWishlist bool   `json:"inWishlist"`
}

func (h *AccountHandler) HandleWishlist(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	items, err := s.Wishlist(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleWishlistStatus never fails: lookup errors read as not saved.
func (h *AccountHandler) HandleWishlistStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "productId")
	writeJSON(w, http.StatusOK, WishlistStatus{ProductID: id, InWishlist: s.InWishlist(r.Context(), id)})
}

func (h *AccountHandler) HandleWishlistAdd(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	item, err := s.AddToWishlist(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *AccountHandler) HandleWishlistRemove(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	if err := s.RemoveFromWishlist(r.Context(), chi.URLParam(r, "productId")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	orders, err := s.Orders(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *AccountHandler) HandleOrder(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	o, err := s.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AccountHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	p, err := s.Profile(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
