package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
)

// Login exchanges credentials for a compact token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/login",
		json: struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}{email, password},
		messages: map[int]string{http.StatusUnauthorized: "invalid email or password"},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("backend: login: %w", err)
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", apperror.Malformed("login response has no token", nil)
	}
	return out.Token, nil
}

// Register creates a customer account. It does not log in.
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/users",
		json: struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}{name, email, password},
	}, nil)
	if err != nil {
		return fmt.Errorf("backend: registering %s: %w", email, err)
	}
	return nil
}

// Profile returns the logged-in user's account record.
func (c *Client) Profile(ctx context.Context, token string) (*model.Profile, error) {
	if err := requireToken(token, "view profile"); err != nil {
		return nil, err
	}
	var p model.Profile
	if err := c.do(ctx, request{method: http.MethodGet, path: "/profile", token: token}, &p); err != nil {
		return nil, fmt.Errorf("backend: fetching profile: %w", err)
	}
	return &p, nil
}

// Orders lists the logged-in user's orders.
func (c *Client) Orders(ctx context.Context, token string) ([]model.Order, error) {
	if err := requireToken(token, "fetch orders"); err != nil {
		return nil, err
	}
	orders := []model.Order{}
	if err := c.do(ctx, request{method: http.MethodGet, path: "/orders", token: token}, &orders); err != nil {
		return nil, fmt.Errorf("backend: fetching orders: %w", err)
	}
	return orders, nil
}

// Order fetches one order of the logged-in user.
func (c *Client) Order(ctx context.Context, orderID, token string) (*model.Order, error) {
	if err := requireToken(token, "view order details"); err != nil {
		return nil, err
	}
	var o model.Order
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/orders/" + escape(orderID),
		token:  token,
		messages: map[int]string{
			http.StatusNotFound:  "Order not found.",
			http.StatusForbidden: "Access denied to this order.",
		},
	}, &o)
	if err != nil {
		return nil, fmt.Errorf("backend: fetching order %s: %w", orderID, err)
	}
	return &o, nil
}

// Checkout starts the payment handoff for a cart.
func (c *Client) Checkout(ctx context.Context, cartID, token string) (*model.CheckoutSession, error) {
	if err := requireToken(token, "checkout"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cartID) == "" {
		return nil, apperror.ValidationFailed("cartId", "Cart ID is missing")
	}
	var out model.CheckoutSession
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/checkout",
		token:  token,
		json: struct {
			CartID string `json:"cartId"`
		}{cartID},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("backend: checkout of cart %s: %w", cartID, err)
	}
	if out.CheckoutURL == "" {
		return nil, apperror.Malformed("checkout response has no checkoutUrl", nil)
	}
	return &out, nil
}
