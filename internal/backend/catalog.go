package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sakif/storefront/internal/model"
)

// Categories lists every catalog category.
func (c *Client) Categories(ctx context.Context) ([]model.Category, error) {
	cats := []model.Category{}
	if err := c.do(ctx, request{method: http.MethodGet, path: "/categories"}, &cats); err != nil {
		return nil, fmt.Errorf("backend: fetching categories: %w", err)
	}
	return cats, nil
}

// Products lists products, optionally restricted to one category.
func (c *Client) Products(ctx context.Context, categoryID string) ([]model.Product, error) {
	var q url.Values
	if categoryID != "" {
		q = url.Values{"categoryId": {categoryID}}
	}
	products := []model.Product{}
	if err := c.do(ctx, request{method: http.MethodGet, path: "/products", query: q}, &products); err != nil {
		return nil, fmt.Errorf("backend: fetching products (category=%q): %w", categoryID, err)
	}
	return products, nil
}

// Product fetches one product.
func (c *Client) Product(ctx context.Context, productID string) (*model.Product, error) {
	var p model.Product
	err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/products/" + escape(productID),
		messages: map[int]string{http.StatusNotFound: "Product not found."},
	}, &p)
	if err != nil {
		return nil, fmt.Errorf("backend: fetching product %s: %w", productID, err)
	}
	return &p, nil
}

// Search runs a product search.
func (c *Client) Search(ctx context.Context, query string) ([]model.Product, error) {
	products := []model.Product{}
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/products/search",
		query:  url.Values{"q": {query}},
	}, &products)
	if err != nil {
		return nil, fmt.Errorf("backend: searching %q: %w", query, err)
	}
	return products, nil
}
