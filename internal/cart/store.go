package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_storefront/internal/api"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/storage"
)

// API is the slice of the storefront API the cart store needs.
type API interface {
	GetCart(ctx context.Context) (api.Cart, error)
	AddCartItem(ctx context.Context, productID int64, quantity int) error
	UpdateCartItem(ctx context.Context, itemID int64, quantity int) error
	RemoveCartItem(ctx context.Context, itemID int64) error
	ClearCart(ctx context.Context) error
}

// AuthState tells the store whether mutations should sync with the server.
type AuthState interface {
	Authenticated() bool
}

const syncTimeout = 10 * time.Second

// Store holds the cart. Mutations apply locally first (optimistic), then,
// when authenticated, sync with the server and replace local state with the
// server's answer. While unauthenticated every mutation is persisted to the
// guest storage backend.
type Store struct {
	api   API
	guest storage.Store
	auth  AuthState
	log   *slog.Logger

	// rollback restores the pre-mutation snapshot when the server call
	// fails instead of leaving the optimistic state standing.
	rollback bool

	mu    sync.Mutex
	items []domain.CartItem
	total float64

	// seq is the latest issued sync token. A server response is applied
	// only while its token is still the newest, so a slow response cannot
	// overwrite the effect of a later mutation.
	seq atomic.Uint64
	sfg singleflight.Group
}

type snapshot struct {
	items []domain.CartItem
	total float64
}

type Option func(*Store)

// WithRollback makes failed server syncs restore the pre-mutation state.
func WithRollback() Option {
	return func(s *Store) { s.rollback = true }
}

func NewStore(apiClient API, guest storage.Store, auth AuthState, log *slog.Logger, opts ...Option) *Store {
	s := &Store{
		api:   apiClient,
		guest: guest,
		auth:  auth,
		log:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !auth.Authenticated() {
		s.loadGuest()
	}
	return s
}

// HandleAuthChange reacts to the authenticated flag flipping. On login the
// guest cart is discarded, the server cart fetched and the browser copy
// removed; on logout the cart resets to an empty guest cart. Register it
// with the auth store's OnChange.
func (s *Store) HandleAuthChange(authenticated bool) {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	if !authenticated {
		s.mu.Lock()
		s.items = nil
		s.total = 0
		s.mu.Unlock()
		if err := s.guest.Delete(ctx, storage.KeyCart); err != nil {
			s.log.Warn("clear guest cart failed", "error", err)
		}
		return
	}

	token := s.seq.Add(1)
	if err := s.refreshFromServer(ctx, token); err != nil {
		s.log.Warn("server cart fetch failed", "error", err)
		return
	}
	if err := s.guest.Delete(ctx, storage.KeyCart); err != nil {
		s.log.Warn("remove guest cart failed", "error", err)
	}
}

// AddToCart merges the product into local state, summing quantities when the
// product is already present. Authenticated stores then push the addition to
// the server and adopt the server's cart.
func (s *Store) AddToCart(ctx context.Context, p domain.Product, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}

	s.mu.Lock()
	prev := s.snapshotLocked()
	merged := false
	for i := range s.items {
		if s.items[i].Product.ID == p.ID {
			s.items[i].Quantity += quantity
			merged = true
			break
		}
	}
	if !merged {
		s.items = append(s.items, domain.CartItem{Product: domain.Snapshot(p), Quantity: quantity})
	}
	s.recomputeLocked()
	authed := s.auth.Authenticated()
	if !authed {
		s.persistGuestLocked(ctx)
	}
	s.mu.Unlock()

	if !authed {
		return nil
	}

	token := s.seq.Add(1)
	if err := s.api.AddCartItem(ctx, p.ID, quantity); err != nil {
		s.revert(prev, token, "add to cart", err)
		return fmt.Errorf("sync add to cart: %w", err)
	}
	return s.refreshFromServer(ctx, token)
}

// RemoveFromCart filters the item out locally, then removes it server-side
// when it carries a server-assigned id.
func (s *Store) RemoveFromCart(ctx context.Context, productID int64) error {
	s.mu.Lock()
	prev := s.snapshotLocked()
	var serverID int64
	kept := s.items[:0]
	for _, item := range s.items {
		if item.Product.ID == productID {
			serverID = item.ServerID
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	s.recomputeLocked()
	authed := s.auth.Authenticated()
	if !authed {
		s.persistGuestLocked(ctx)
	}
	s.mu.Unlock()

	if !authed || serverID == 0 {
		return nil
	}

	token := s.seq.Add(1)
	if err := s.api.RemoveCartItem(ctx, serverID); err != nil {
		s.revert(prev, token, "remove from cart", err)
		return fmt.Errorf("sync remove from cart: %w", err)
	}
	return s.refreshFromServer(ctx, token)
}

// UpdateQuantity sets the quantity for a product; zero or negative delegates
// to removal.
func (s *Store) UpdateQuantity(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return s.RemoveFromCart(ctx, productID)
	}

	s.mu.Lock()
	prev := s.snapshotLocked()
	var serverID int64
	found := false
	for i := range s.items {
		if s.items[i].Product.ID == productID {
			s.items[i].Quantity = quantity
			serverID = s.items[i].ServerID
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return nil
	}
	s.recomputeLocked()
	authed := s.auth.Authenticated()
	if !authed {
		s.persistGuestLocked(ctx)
	}
	s.mu.Unlock()

	if !authed || serverID == 0 {
		return nil
	}

	token := s.seq.Add(1)
	if err := s.api.UpdateCartItem(ctx, serverID, quantity); err != nil {
		s.revert(prev, token, "update quantity", err)
		return fmt.Errorf("sync update quantity: %w", err)
	}
	return s.refreshFromServer(ctx, token)
}

// ClearCart empties local state. Authenticated stores clear server-side too;
// no re-fetch follows since the expected result is an empty cart.
func (s *Store) ClearCart(ctx context.Context) error {
	s.mu.Lock()
	s.items = nil
	s.total = 0
	authed := s.auth.Authenticated()
	s.mu.Unlock()

	// Invalidate any in-flight re-fetch so it cannot resurrect items.
	s.seq.Add(1)

	if !authed {
		if err := s.guest.Delete(ctx, storage.KeyCart); err != nil {
			s.log.Warn("clear guest cart failed", "error", err)
		}
		return nil
	}
	if err := s.api.ClearCart(ctx); err != nil {
		return fmt.Errorf("sync clear cart: %w", err)
	}
	return nil
}

// Items returns a copy of the cart lines.
func (s *Store) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CartItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Total() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ItemCount is the sum of quantities across all lines.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		n += item.Quantity
	}
	return n
}

// refreshFromServer fetches the server cart and, if token is still the
// newest issued, replaces local state with it. Concurrent callers share one
// fetch through singleflight.
func (s *Store) refreshFromServer(ctx context.Context, token uint64) error {
	v, err, _ := s.sfg.Do("cart", func() (interface{}, error) {
		cart, err := s.api.GetCart(ctx)
		if err != nil {
			return nil, err
		}
		return cart, nil
	})
	if err != nil {
		return fmt.Errorf("fetch server cart: %w", err)
	}
	serverCart := v.(api.Cart)

	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.seq.Load() {
		s.log.Debug("stale cart response discarded", "token", token)
		return nil
	}

	items := make([]domain.CartItem, 0, len(serverCart.Items))
	for _, it := range serverCart.Items {
		items = append(items, domain.CartItem{
			ServerID: it.ID,
			Product: domain.ProductSnapshot{
				ID:    it.ProductID,
				Name:  it.Name,
				Price: it.Price,
				Image: it.Image,
			},
			Quantity: it.Quantity,
		})
	}
	s.items = items
	// The server subtotal is authoritative for synced state.
	s.total = serverCart.Subtotal
	return nil
}

// revert restores the pre-mutation snapshot after a failed server call, but
// only when rollback is enabled and no newer mutation owns the state.
func (s *Store) revert(prev snapshot, token uint64, op string, cause error) {
	s.log.Warn("cart sync failed", "op", op, "error", cause)
	if !s.rollback {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.seq.Load() {
		return
	}
	s.items = prev.items
	s.total = prev.total
}

func (s *Store) snapshotLocked() snapshot {
	items := make([]domain.CartItem, len(s.items))
	copy(items, s.items)
	return snapshot{items: items, total: s.total}
}

// recomputeLocked derives the total from scratch. Local state never trusts
// an incrementally patched total.
func (s *Store) recomputeLocked() {
	total := 0.0
	for _, item := range s.items {
		total += item.Product.Price * float64(item.Quantity)
	}
	s.total = total
}

func (s *Store) persistGuestLocked(ctx context.Context) {
	raw, err := json.Marshal(domain.Cart{Items: s.items, Total: s.total})
	if err != nil {
		s.log.Warn("marshal guest cart failed", "error", err)
		return
	}
	if err := s.guest.Set(ctx, storage.KeyCart, string(raw)); err != nil {
		s.log.Warn("persist guest cart failed", "error", err)
	}
}

// loadGuest seeds the store from the persisted guest cart. The stored total
// is ignored and recomputed from the items.
func (s *Store) loadGuest() {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	raw, ok, err := s.guest.Get(ctx, storage.KeyCart)
	if err != nil {
		s.log.Warn("read guest cart failed", "error", err)
		return
	}
	if !ok {
		return
	}
	var c domain.Cart
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		s.log.Warn("parse guest cart failed", "error", err)
		return
	}
	s.mu.Lock()
	s.items = c.Items
	s.recomputeLocked()
	s.mu.Unlock()
}
