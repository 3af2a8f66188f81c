package api

import (
	"context"
	"fmt"
	"net/http"
)

// CartItem is a server cart line item.
type CartItem struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Image     string  `json:"image,omitempty"`
	Quantity  int     `json:"quantity"`
}

// Cart is the authenticated cart resource.
type Cart struct {
	Items    []CartItem `json:"items"`
	Subtotal float64    `json:"subtotal"`
}

type addItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (c *Client) GetCart(ctx context.Context) (Cart, error) {
	var cart Cart
	err := c.do(ctx, http.MethodGet, "/orders/cart/", nil, &cart)
	return cart, err
}

func (c *Client) AddCartItem(ctx context.Context, productID int64, quantity int) error {
	return c.do(ctx, http.MethodPost, "/orders/cart/items/", addItemRequest{ProductID: productID, Quantity: quantity}, nil)
}

func (c *Client) UpdateCartItem(ctx context.Context, itemID int64, quantity int) error {
	path := fmt.Sprintf("/orders/cart/items/%d/", itemID)
	return c.do(ctx, http.MethodPut, path, updateQuantityRequest{Quantity: quantity}, nil)
}

func (c *Client) RemoveCartItem(ctx context.Context, itemID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/orders/cart/items/%d/", itemID), nil, nil)
}

func (c *Client) ClearCart(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/orders/cart/clear/", nil, nil)
}
