package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_storefront/internal/api"
	"github.com/fjod/go_storefront/internal/storage"
	"github.com/fjod/go_storefront/pkg/logger"
)

type mockAPI struct {
	m sync.Mutex

	loginCreds api.Credentials
	loginErr   error

	refreshAccess string
	refreshErr    error
	refreshCalls  int

	verifyErr error

	logoutErr   error
	logoutCalls int
}

func (m *mockAPI) Login(context.Context, string, string) (api.Credentials, error) {
	return m.loginCreds, m.loginErr
}

func (m *mockAPI) Register(context.Context, string, string, string) (api.Credentials, error) {
	return m.loginCreds, m.loginErr
}

func (m *mockAPI) Logout(context.Context, string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.logoutCalls++
	return m.logoutErr
}

func (m *mockAPI) RefreshToken(context.Context, string) (string, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.refreshCalls++
	return m.refreshAccess, m.refreshErr
}

func (m *mockAPI) Verify(context.Context) error {
	return m.verifyErr
}

func (m *mockAPI) calls() (refresh, logout int) {
	m.m.Lock()
	defer m.m.Unlock()
	return m.refreshCalls, m.logoutCalls
}

func newTestStore(t *testing.T, apiMock *mockAPI) (*Store, *storage.MemoryStore, *storage.MemoryStore) {
	t.Helper()
	durable := storage.NewMemoryStore()
	ephemeral := storage.NewMemoryStore()
	return NewStore(apiMock, durable, ephemeral, logger.Nop()), durable, ephemeral
}

func storedKeys(t *testing.T, s storage.Store) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, key := range []string{storage.KeyToken, storage.KeyRefresh, storage.KeyUserID, storage.KeyEmail} {
		if v, ok, err := s.Get(context.Background(), key); err == nil && ok {
			out[key] = v
		}
	}
	return out
}

func TestLogin_RememberPersistsDurably(t *testing.T) {
	store, durable, ephemeral := newTestStore(t, &mockAPI{})

	store.Login(context.Background(), "acc", "ref", "u-1", "a@b.c", true)

	assert.True(t, store.Authenticated())
	assert.Equal(t, map[string]string{
		storage.KeyToken:   "acc",
		storage.KeyRefresh: "ref",
		storage.KeyUserID:  "u-1",
		storage.KeyEmail:   "a@b.c",
	}, storedKeys(t, durable))
	assert.Empty(t, storedKeys(t, ephemeral))
}

func TestLogin_NoRememberPersistsEphemerally(t *testing.T) {
	store, durable, ephemeral := newTestStore(t, &mockAPI{})

	store.Login(context.Background(), "acc", "ref", "u-1", "a@b.c", false)

	// a parallel durable read finds nothing
	assert.Empty(t, storedKeys(t, durable))
	assert.Equal(t, "acc", storedKeys(t, ephemeral)[storage.KeyToken])
}

func TestLogin_ClearsOtherBackend(t *testing.T) {
	store, durable, ephemeral := newTestStore(t, &mockAPI{})

	store.Login(context.Background(), "a1", "r1", "u-1", "a@b.c", true)
	store.Login(context.Background(), "a2", "r2", "u-1", "a@b.c", false)

	assert.Empty(t, storedKeys(t, durable))
	assert.Equal(t, "a2", storedKeys(t, ephemeral)[storage.KeyToken])
}

func TestRefresh_WithoutTokenSkipsNetwork(t *testing.T) {
	apiMock := &mockAPI{}
	store, _, _ := newTestStore(t, apiMock)

	err := store.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	refreshCalls, _ := apiMock.calls()
	assert.Zero(t, refreshCalls)
}

func TestRefresh_ReplacesOnlyAccessToken(t *testing.T) {
	apiMock := &mockAPI{refreshAccess: "acc-2"}
	store, durable, _ := newTestStore(t, apiMock)
	store.Login(context.Background(), "acc-1", "ref-1", "u-1", "a@b.c", true)

	require.NoError(t, store.Refresh(context.Background()))

	sess, ok := store.Session()
	require.True(t, ok)
	assert.Equal(t, "acc-2", sess.AccessToken)
	assert.Equal(t, "ref-1", sess.RefreshToken)
	assert.Equal(t, "u-1", sess.UserID)

	keys := storedKeys(t, durable)
	assert.Equal(t, "acc-2", keys[storage.KeyToken])
	assert.Equal(t, "ref-1", keys[storage.KeyRefresh])
}

func TestRefresh_FailureLogsOut(t *testing.T) {
	apiMock := &mockAPI{refreshErr: errors.New("boom")}
	store, durable, ephemeral := newTestStore(t, apiMock)
	store.Login(context.Background(), "acc", "ref", "u-1", "a@b.c", true)

	err := store.Refresh(context.Background())
	require.Error(t, err)

	assert.False(t, store.Authenticated())
	assert.Empty(t, storedKeys(t, durable))
	assert.Empty(t, storedKeys(t, ephemeral))
}

func TestLogout_ServerFailureStillClears(t *testing.T) {
	apiMock := &mockAPI{logoutErr: errors.New("network down")}
	store, durable, ephemeral := newTestStore(t, apiMock)
	store.Login(context.Background(), "acc", "ref", "u-1", "a@b.c", false)

	store.Logout(context.Background())

	_, logoutCalls := apiMock.calls()
	assert.Equal(t, 1, logoutCalls)
	assert.False(t, store.Authenticated())
	assert.Empty(t, storedKeys(t, durable))
	assert.Empty(t, storedKeys(t, ephemeral))
}

func TestInit_RestoresVerifiedSession(t *testing.T) {
	apiMock := &mockAPI{}
	store, durable, _ := newTestStore(t, apiMock)
	ctx := context.Background()
	require.NoError(t, durable.Set(ctx, storage.KeyToken, "acc"))
	require.NoError(t, durable.Set(ctx, storage.KeyRefresh, "ref"))
	require.NoError(t, durable.Set(ctx, storage.KeyUserID, "u-1"))
	require.NoError(t, durable.Set(ctx, storage.KeyEmail, "a@b.c"))

	store.Init(ctx)

	assert.True(t, store.Initialized())
	assert.True(t, store.Authenticated())
	sess, _ := store.Session()
	assert.Equal(t, "a@b.c", sess.Email)
}

func TestInit_VerifyFailsRefreshRecovers(t *testing.T) {
	apiMock := &mockAPI{verifyErr: errors.New("expired"), refreshAccess: "acc-2"}
	store, durable, _ := newTestStore(t, apiMock)
	ctx := context.Background()
	require.NoError(t, durable.Set(ctx, storage.KeyToken, "acc-1"))
	require.NoError(t, durable.Set(ctx, storage.KeyRefresh, "ref"))

	store.Init(ctx)

	assert.True(t, store.Authenticated())
	sess, _ := store.Session()
	assert.Equal(t, "acc-2", sess.AccessToken)
}

func TestInit_VerifyAndRefreshFailClearsState(t *testing.T) {
	apiMock := &mockAPI{verifyErr: errors.New("expired"), refreshErr: errors.New("revoked")}
	store, durable, ephemeral := newTestStore(t, apiMock)
	ctx := context.Background()
	require.NoError(t, durable.Set(ctx, storage.KeyToken, "acc"))
	require.NoError(t, durable.Set(ctx, storage.KeyRefresh, "ref"))

	store.Init(ctx)

	assert.True(t, store.Initialized(), "initialized must be set even on failure")
	assert.False(t, store.Authenticated())
	assert.Empty(t, storedKeys(t, durable))
	assert.Empty(t, storedKeys(t, ephemeral))
}

func TestInit_NoSessionStillInitializes(t *testing.T) {
	store, _, _ := newTestStore(t, &mockAPI{})

	store.Init(context.Background())

	assert.True(t, store.Initialized())
	assert.False(t, store.Authenticated())
}

func TestInit_SessionWithoutRefreshTokenClears(t *testing.T) {
	apiMock := &mockAPI{verifyErr: errors.New("expired")}
	store, durable, _ := newTestStore(t, apiMock)
	ctx := context.Background()
	require.NoError(t, durable.Set(ctx, storage.KeyToken, "acc"))

	store.Init(ctx)

	assert.True(t, store.Initialized())
	assert.False(t, store.Authenticated())
	assert.Empty(t, storedKeys(t, durable))
}

func TestOnChange_FiresOnTransitions(t *testing.T) {
	apiMock := &mockAPI{}
	store, _, _ := newTestStore(t, apiMock)

	var events []bool
	store.OnChange(func(authed bool) { events = append(events, authed) })

	ctx := context.Background()
	store.Login(ctx, "acc", "ref", "u-1", "a@b.c", false)
	store.Logout(ctx)
	store.Logout(ctx) // already logged out, no extra event

	assert.Equal(t, []bool{true, false}, events)
}
