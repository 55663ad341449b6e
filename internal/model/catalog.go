package model

// Product is a catalog entry as returned by the backend.
type Product struct {
	ID          ID      `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"imageUrl,omitempty"`
	Stock       int     `json:"stock"`
	CategoryID  ID      `json:"categoryId,omitempty"`
}

// InStock reports whether at least one unit is available.
func (p Product) InStock() bool { return p.Stock > 0 }

// Category groups products in the catalog.
type Category struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// ProductInput carries the fields of an admin product create/edit form.
type ProductInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	CategoryID  string  `json:"categoryId"`
	Image       *Upload `json:"-"`
}

// CategoryInput carries the fields of the admin category form.
type CategoryInput struct {
	Name  string  `json:"name"`
	Image *Upload `json:"-"`
}

// Upload is an optional image attached to an admin form.
type Upload struct {
	Filename string
	Data     []byte
}
