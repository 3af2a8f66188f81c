package storage

import (
	"context"
	"errors"
)

// Keys under which the client persists its state. Session fields are written
// as four separate entries so a partially cleared backend is detectable; the
// guest cart is a single JSON snapshot.
const (
	KeyToken   = "token"
	KeyRefresh = "refresh"
	KeyUserID  = "userId"
	KeyEmail   = "email"
	KeyCart    = "cart"
)

// Store is a small string key-value store. Two roles exist: a durable store
// that survives restarts (file, redis) and an ephemeral store scoped to the
// current process (memory). Which one holds the session is decided by the
// remember-me flag at login time.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores the value, overwriting any previous one.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry owned by this store.
	Clear(ctx context.Context) error
}

var ErrNotFound = errors.New("storage: key not found")
