package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fjod/go_storefront/internal/api"
	"github.com/fjod/go_storefront/internal/cart"
)

// API is the slice of the storefront API needed for order submission.
type API interface {
	Checkout(ctx context.Context, req api.CheckoutRequest) (api.Order, error)
}

var (
	ErrEmptyCart      = errors.New("checkout: cart is empty")
	ErrMissingName    = errors.New("checkout: name is required")
	ErrMissingPhone   = errors.New("checkout: phone is required")
	ErrMissingAddress = errors.New("checkout: address is required")
)

// Details is the buyer information collected for an order.
type Details struct {
	Name    string
	Phone   string
	Address string
}

// Service turns the current cart into an order. Validation failures are
// rejected before any network call.
type Service struct {
	api  API
	cart *cart.Store
	log  *slog.Logger
}

func NewService(apiClient API, cartStore *cart.Store, log *slog.Logger) *Service {
	return &Service{api: apiClient, cart: cartStore, log: log}
}

// Submit validates the details and the cart, creates the order, and clears
// the cart on success.
func (s *Service) Submit(ctx context.Context, d Details) (api.Order, error) {
	if err := validate(d); err != nil {
		return api.Order{}, err
	}

	items := s.cart.Items()
	if len(items) == 0 {
		return api.Order{}, ErrEmptyCart
	}

	req := api.CheckoutRequest{
		Name:    strings.TrimSpace(d.Name),
		Phone:   strings.TrimSpace(d.Phone),
		Address: strings.TrimSpace(d.Address),
		Items:   make([]api.OrderItem, 0, len(items)),
	}
	for _, item := range items {
		req.Items = append(req.Items, api.OrderItem{
			ProductID: item.Product.ID,
			Quantity:  item.Quantity,
		})
	}

	order, err := s.api.Checkout(ctx, req)
	if err != nil {
		return api.Order{}, fmt.Errorf("submit order: %w", err)
	}

	if err := s.cart.ClearCart(ctx); err != nil {
		s.log.Warn("clear cart after checkout failed", "error", err)
	}
	return order, nil
}

func validate(d Details) error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return ErrMissingName
	case strings.TrimSpace(d.Phone) == "":
		return ErrMissingPhone
	case strings.TrimSpace(d.Address) == "":
		return ErrMissingAddress
	}
	return nil
}
