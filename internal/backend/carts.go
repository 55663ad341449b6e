package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
)

// CreateCart allocates a new cart. token may be empty for an anonymous cart.
func (c *Client) CreateCart(ctx context.Context, token string) (string, error) {
	var out struct {
		ID model.ID `json:"id"`
	}
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/carts",
		token:  token,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("backend: creating cart: %w", err)
	}
	if out.ID == "" {
		return "", apperror.Malformed("backend returned a cart without an id", nil)
	}
	return out.ID.String(), nil
}

// GetCart fetches a cart with its line items.
func (c *Client) GetCart(ctx context.Context, cartID, token string) (*model.Cart, error) {
	if strings.TrimSpace(cartID) == "" {
		return nil, apperror.ValidationFailed("cartId", "cart id is required")
	}
	var cart model.Cart
	err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/carts/" + escape(cartID),
		token:    token,
		messages: map[int]string{http.StatusNotFound: "cart not found"},
	}, &cart)
	if err != nil {
		return nil, fmt.Errorf("backend: fetching cart %s: %w", cartID, err)
	}
	if cart.ID == "" {
		cart.ID = model.ID(cartID)
	}
	return &cart, nil
}

// CartItemCount returns the number of line items in a cart.
func (c *Client) CartItemCount(ctx context.Context, cartID, token string) (int, error) {
	cart, err := c.GetCart(ctx, cartID, token)
	if err != nil {
		return 0, err
	}
	return cart.ItemCount(), nil
}

// AddItem adds quantity units of a product to a cart.
func (c *Client) AddItem(ctx context.Context, cartID, productID string, quantity int, token string) (*model.CartItem, error) {
	var item model.CartItem
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/carts/" + escape(cartID) + "/items",
		token:  token,
		json: struct {
			ProductID string `json:"productId"`
			Quantity  int    `json:"quantity"`
		}{productID, quantity},
	}, &item)
	if err != nil {
		return nil, fmt.Errorf("backend: adding product %s to cart %s: %w", productID, cartID, err)
	}
	return &item, nil
}

// UpdateItem sets the quantity of a product already in the cart.
func (c *Client) UpdateItem(ctx context.Context, cartID, productID string, quantity int, token string) (*model.CartItem, error) {
	var item model.CartItem
	err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/carts/" + escape(cartID) + "/items/" + escape(productID),
		token:  token,
		json: struct {
			Quantity int `json:"quantity"`
		}{quantity},
	}, &item)
	if err != nil {
		return nil, fmt.Errorf("backend: updating product %s in cart %s: %w", productID, cartID, err)
	}
	return &item, nil
}

// RemoveItem removes a product from the cart.
func (c *Client) RemoveItem(ctx context.Context, cartID, productID, token string) error {
	err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/carts/" + escape(cartID) + "/items/" + escape(productID),
		token:  token,
	}, nil)
	if err != nil {
		return fmt.Errorf("backend: removing product %s from cart %s: %w", productID, cartID, err)
	}
	return nil
}
