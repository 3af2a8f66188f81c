package cart_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_storefront/internal/api"
	"github.com/fjod/go_storefront/internal/apitest"
	"github.com/fjod/go_storefront/internal/auth"
	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/storage"
	"github.com/fjod/go_storefront/pkg/logger"
)

type fixture struct {
	srv       *apitest.Server
	client    *api.Client
	auth      *auth.Store
	cart      *cart.Store
	durable   *storage.MemoryStore
	ephemeral *storage.MemoryStore
	guest     *storage.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := apitest.New(t)
	srv.AddUser("shopper@example.com", "hunter2")
	srv.AddProduct(domain.Product{ID: 1, Name: "Sneakers", Price: 1000})
	srv.AddProduct(domain.Product{ID: 2, Name: "Cap", Price: 250})

	durable := storage.NewMemoryStore()
	ephemeral := storage.NewMemoryStore()
	guest := storage.NewMemoryStore()

	tokens := &api.StorageTokenSource{Durable: durable, Ephemeral: ephemeral, Log: logger.Nop()}
	client := api.NewClient(srv.URL(), tokens, logger.Nop())
	authStore := auth.NewStore(client, durable, ephemeral, logger.Nop())
	cartStore := cart.NewStore(client, guest, authStore, logger.Nop())
	authStore.OnChange(cartStore.HandleAuthChange)

	return &fixture{
		srv:       srv,
		client:    client,
		auth:      authStore,
		cart:      cartStore,
		durable:   durable,
		ephemeral: ephemeral,
		guest:     guest,
	}
}

func TestLoginTransition_DiscardsGuestCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// non-empty guest cart before login
	require.NoError(t, f.cart.AddToCart(ctx, domain.Product{ID: 1, Name: "Sneakers", Price: 1000}, 2))
	require.Equal(t, 2000.0, f.cart.Total())
	_, ok, err := f.guest.Get(ctx, storage.KeyCart)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.auth.LoginWithCredentials(ctx, "shopper@example.com", "hunter2", true))

	// server cart is empty, so the guest cart is discarded, not merged
	assert.Empty(t, f.cart.Items())
	assert.Zero(t, f.cart.Total())
	_, ok, err = f.guest.Get(ctx, storage.KeyCart)
	require.NoError(t, err)
	assert.False(t, ok, "guest cart entry removed after login")
}

func TestAuthenticatedMutations_SyncWithServer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.auth.LoginWithCredentials(ctx, "shopper@example.com", "hunter2", true))

	require.NoError(t, f.cart.AddToCart(ctx, domain.Product{ID: 1, Name: "Sneakers", Price: 1000}, 2))
	require.NoError(t, f.cart.AddToCart(ctx, domain.Product{ID: 2, Name: "Cap", Price: 250}, 1))

	items := f.cart.Items()
	require.Len(t, items, 2)
	assert.NotZero(t, items[0].ServerID, "synced items carry server ids")
	assert.Equal(t, 2250.0, f.cart.Total())

	serverLines := f.srv.Cart("shopper@example.com")
	require.Len(t, serverLines, 2)
	assert.Equal(t, 2, serverLines[0].Quantity)

	require.NoError(t, f.cart.UpdateQuantity(ctx, 1, 5))
	assert.Equal(t, 5250.0, f.cart.Total())
	assert.Equal(t, 5, f.srv.Cart("shopper@example.com")[0].Quantity)

	require.NoError(t, f.cart.RemoveFromCart(ctx, 2))
	assert.Equal(t, 5000.0, f.cart.Total())
	assert.Len(t, f.srv.Cart("shopper@example.com"), 1)

	require.NoError(t, f.cart.ClearCart(ctx))
	assert.Empty(t, f.cart.Items())
	assert.Empty(t, f.srv.Cart("shopper@example.com"))
}

func TestLogout_ResetsCartAndStorage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.auth.LoginWithCredentials(ctx, "shopper@example.com", "hunter2", false))
	require.NoError(t, f.cart.AddToCart(ctx, domain.Product{ID: 1, Name: "Sneakers", Price: 1000}, 1))
	require.NotEmpty(t, f.cart.Items())

	f.auth.Logout(ctx)

	assert.False(t, f.auth.Authenticated())
	assert.Empty(t, f.cart.Items())
	_, ok, err := f.ephemeral.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	assert.False(t, ok)
}
