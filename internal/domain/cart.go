package domain

// Product is a catalog product as returned by the storefront API.
type Product struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Image string  `json:"image,omitempty"`
}

// ProductSnapshot is the subset of product fields captured at add-to-cart
// time. It does not track later price or stock changes.
type ProductSnapshot struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Image string  `json:"image,omitempty"`
}

// Snapshot copies the cart-relevant fields of a catalog product.
func Snapshot(p Product) ProductSnapshot {
	return ProductSnapshot{
		ID:    p.ID,
		Name:  p.Name,
		Price: p.Price,
		Image: p.Image,
	}
}

type CartItem struct {
	// ServerID is the server-assigned line item id, zero until the item
	// has been synced with the server cart.
	ServerID int64           `json:"server_id,omitempty"`
	Product  ProductSnapshot `json:"product"`
	Quantity int             `json:"quantity"`
}

type Cart struct {
	Items []CartItem `json:"items"`
	Total float64    `json:"total"`
}
