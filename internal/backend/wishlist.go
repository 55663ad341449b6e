package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sakif/storefront/internal/model"
)

// Wishlist returns the logged-in user's wishlist.
func (c *Client) Wishlist(ctx context.Context, token string) ([]model.WishlistItem, error) {
	if err := requireToken(token, "fetch wishlist"); err != nil {
		return nil, err
	}
	items := []model.WishlistItem{}
	err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/wishlist",
		token:    token,
		messages: map[int]string{http.StatusUnauthorized: "Unauthorized: Please login."},
	}, &items)
	if err != nil {
		return nil, fmt.Errorf("backend: fetching wishlist: %w", err)
	}
	return items, nil
}

// AddToWishlist saves a product. An already-saved product is ErrConflict.
func (c *Client) AddToWishlist(ctx context.Context, productID, token string) (*model.WishlistItem, error) {
	if err := requireToken(token, "add to wishlist"); err != nil {
		return nil, err
	}
	var item model.WishlistItem
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/wishlist/" + escape(productID),
		token:  token,
		messages: map[int]string{
			http.StatusConflict:     "Product is already in your wishlist.",
			http.StatusUnauthorized: "Unauthorized: Please login.",
		},
	}, &item)
	if err != nil {
		return nil, fmt.Errorf("backend: adding product %s to wishlist: %w", productID, err)
	}
	return &item, nil
}

// RemoveFromWishlist removes a saved product. A product that is not saved
// is ErrNotFound.
func (c *Client) RemoveFromWishlist(ctx context.Context, productID, token string) error {
	if err := requireToken(token, "remove wishlist item"); err != nil {
		return err
	}
	err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/wishlist/" + escape(productID),
		token:  token,
		messages: map[int]string{
			http.StatusNotFound:     "Item not found in wishlist.",
			http.StatusUnauthorized: "Unauthorized: Please login.",
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("backend: removing product %s from wishlist: %w", productID, err)
	}
	return nil
}
