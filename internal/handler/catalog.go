package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/storefront/internal/model"
)

// Catalog is the read-only part of the backend. Catalog calls are
// anonymous, so they bypass the visitor's session.
type Catalog interface {
	Categories(ctx context.Context) ([]model.Category, error)
	Products(ctx context.Context, categoryID string) ([]model.Product, error)
	Product(ctx context.Context, productID string) (*model.Product, error)
	Search(ctx context.Context, query string) ([]model.Product, error)
}

// CatalogHandler serves categories and products.
type CatalogHandler struct {
	catalog Catalog
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(c Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: c}
}

func (h *CatalogHandler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.catalog.Categories(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

// HandleProducts lists products, filtered by ?categoryId= when present.
func (h *CatalogHandler) HandleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.Products(r.Context(), r.URL.Query().Get("categoryId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// HandleSearch runs ?q=. An empty query returns no results without a
// backend call.
func (h *CatalogHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, []model.Product{})
		return
	}
	products, err := h.catalog.Search(r.Context(), q)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *CatalogHandler) HandleProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
