package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fjod/go_storefront/internal/domain"
)

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := c.do(ctx, http.MethodGet, "/products/", nil, &products)
	return products, err
}

func (c *Client) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/products/%d/", id), nil, &p)
	return p, err
}
