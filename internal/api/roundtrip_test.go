package api_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_storefront/internal/api"
	"github.com/fjod/go_storefront/internal/apitest"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/storage"
	"github.com/fjod/go_storefront/pkg/logger"
)

func TestClient_FullCartRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New(t)
	srv.AddUser("shopper@example.com", "hunter2")
	srv.AddProduct(domain.Product{ID: 1, Name: "Sneakers", Price: 1000})
	srv.AddProduct(domain.Product{ID: 2, Name: "Cap", Price: 250})

	durable := storage.NewMemoryStore()
	tokens := &api.StorageTokenSource{Durable: durable, Ephemeral: storage.NewMemoryStore(), Log: logger.Nop()}
	client := api.NewClient(srv.URL(), tokens, logger.Nop())

	// unauthenticated cart access is rejected
	_, err := client.GetCart(ctx)
	assert.ErrorIs(t, err, api.ErrUnauthorized)

	creds, err := client.Login(ctx, "shopper@example.com", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, creds.Access)
	require.NoError(t, durable.Set(ctx, storage.KeyToken, creds.Access))

	require.NoError(t, client.Verify(ctx))

	require.NoError(t, client.AddCartItem(ctx, 1, 2))
	require.NoError(t, client.AddCartItem(ctx, 2, 1))

	cart, err := client.GetCart(ctx)
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, 2250.0, cart.Subtotal)

	require.NoError(t, client.UpdateCartItem(ctx, cart.Items[0].ID, 1))
	cart, err = client.GetCart(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1250.0, cart.Subtotal)

	require.NoError(t, client.RemoveCartItem(ctx, cart.Items[1].ID))
	require.NoError(t, client.ClearCart(ctx))
	cart, err = client.GetCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.Subtotal)
}

func TestClient_RefreshFlow(t *testing.T) {
	ctx := context.Background()
	srv := apitest.New(t)
	srv.AddUser("shopper@example.com", "hunter2")

	tokens := &api.StorageTokenSource{Durable: storage.NewMemoryStore(), Ephemeral: storage.NewMemoryStore()}
	client := api.NewClient(srv.URL(), tokens, logger.Nop())

	creds, err := client.Login(ctx, "shopper@example.com", "hunter2")
	require.NoError(t, err)

	access, err := client.RefreshToken(ctx, creds.Refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, access)

	srv.SetFailRefresh(true)
	_, err = client.RefreshToken(ctx, creds.Refresh)
	assert.ErrorIs(t, err, api.ErrUnauthorized)

	// logout invalidates the refresh token server-side
	srv.SetFailRefresh(false)
	require.NoError(t, client.Logout(ctx, creds.Refresh))
	_, err = client.RefreshToken(ctx, creds.Refresh)
	assert.Error(t, err)
}
