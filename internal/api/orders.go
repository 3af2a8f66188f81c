package api

import (
	"context"
	"net/http"
)

// OrderItem is one line of a checkout payload.
type OrderItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// CheckoutRequest is the payload for order submission.
type CheckoutRequest struct {
	Name    string      `json:"name"`
	Phone   string      `json:"phone"`
	Address string      `json:"address"`
	Items   []OrderItem `json:"items"`
}

// Order is a created order as returned by the API.
type Order struct {
	ID     int64   `json:"id"`
	Status string  `json:"status"`
	Total  float64 `json:"total"`
}

func (c *Client) Checkout(ctx context.Context, req CheckoutRequest) (Order, error) {
	var order Order
	err := c.do(ctx, http.MethodPost, "/orders/checkout/", req, &order)
	return order, err
}
