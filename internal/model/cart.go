package model

// Cart is the backend's view of a shopping cart.
type Cart struct {
	ID         ID         `json:"id"`
	Items      []CartItem `json:"items"`
	TotalPrice float64    `json:"totalPrice"`
}

// ItemCount is the number of line items (not units) in the cart.
func (c *Cart) ItemCount() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}

// CartItem is one line of a cart.
type CartItem struct {
	Product    Product `json:"product"`
	Quantity   int     `json:"quantity"`
	TotalPrice float64 `json:"totalPrice"`
}
