package model

import "time"

// WishlistItem is one saved product.
type WishlistItem struct {
	Product Product `json:"product"`
}

// Order is a placed order in the visitor's history.
type Order struct {
	ID         ID          `json:"id"`
	Status     string      `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	TotalPrice float64     `json:"totalPrice"`
	Items      []OrderItem `json:"items"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	Product    Product `json:"product"`
	Quantity   int     `json:"quantity"`
	TotalPrice float64 `json:"totalPrice"`
}

// Profile is the authenticated user's account record.
type Profile struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CheckoutSession is the payment handoff returned by the backend.
type CheckoutSession struct {
	CheckoutURL string `json:"checkoutUrl"`
}
