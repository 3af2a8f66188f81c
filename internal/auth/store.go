package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fjod/go_storefront/internal/api"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/storage"
)

// API is the slice of the storefront API the auth store needs.
type API interface {
	Login(ctx context.Context, email, password string) (api.Credentials, error)
	Register(ctx context.Context, email, password, name string) (api.Credentials, error)
	Logout(ctx context.Context, refresh string) error
	RefreshToken(ctx context.Context, refresh string) (string, error)
	Verify(ctx context.Context) error
}

var ErrNoRefreshToken = errors.New("auth: no refresh token held")

const defaultRefreshInterval = 5 * time.Minute

// Store owns the session. The session is persisted into exactly one of two
// storage backends, chosen by the remember flag at login time: the durable
// one survives restarts, the ephemeral one does not.
type Store struct {
	api       API
	durable   storage.Store
	ephemeral storage.Store
	log       *slog.Logger

	refreshEvery time.Duration

	mu          sync.Mutex
	session     *domain.Session
	active      storage.Store // backend currently holding the session
	initialized bool
	onChange    []func(authenticated bool)
}

type Option func(*Store)

// WithRefreshInterval overrides the background refresh period.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Store) { s.refreshEvery = d }
}

func NewStore(apiClient API, durable, ephemeral storage.Store, log *slog.Logger, opts ...Option) *Store {
	s := &Store{
		api:          apiClient,
		durable:      durable,
		ephemeral:    ephemeral,
		log:          log,
		refreshEvery: defaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers a callback invoked with the authenticated flag after
// every state transition. Callbacks run outside the store lock.
func (s *Store) OnChange(fn func(authenticated bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *Store) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// Initialized reports whether startup restoration has finished. After this
// returns true an unauthenticated state is final, not "still loading".
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Session returns a copy of the current session.
func (s *Store) Session() (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return domain.Session{}, false
	}
	return *s.session, true
}

// Login installs a session locally. The target backend is chosen by
// remember; the other backend is cleared first so the session never lives in
// both. Storage failures are logged, not surfaced.
func (s *Store) Login(ctx context.Context, access, refresh, userID, email string, remember bool) {
	target, other := s.ephemeral, s.durable
	if remember {
		target, other = s.durable, s.ephemeral
	}

	if err := other.Clear(ctx); err != nil {
		s.log.Warn("clear inactive storage failed", "error", err)
	}
	s.writeSession(ctx, target, access, refresh, userID, email)

	s.mu.Lock()
	s.session = &domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       userID,
		Email:        email,
	}
	s.active = target
	s.mu.Unlock()

	if exp, ok := tokenExpiry(access); ok {
		s.log.Debug("session established", "user_id", userID, "token_expires", exp)
	}
	s.notify(true)
}

// LoginWithCredentials calls the login endpoint and installs the returned
// session.
func (s *Store) LoginWithCredentials(ctx context.Context, email, password string, remember bool) error {
	creds, err := s.api.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	s.Login(ctx, creds.Access, creds.Refresh, creds.UserID, creds.Email, remember)
	return nil
}

// Register creates an account and logs straight into it.
func (s *Store) Register(ctx context.Context, email, password, name string, remember bool) error {
	creds, err := s.api.Register(ctx, email, password, name)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	s.Login(ctx, creds.Access, creds.Refresh, creds.UserID, creds.Email, remember)
	return nil
}

// Logout invalidates the session server-side on a best-effort basis, then
// clears both backends and the in-memory session unconditionally.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	var refresh string
	if s.session != nil {
		refresh = s.session.RefreshToken
	}
	s.mu.Unlock()

	if refresh != "" {
		if err := s.api.Logout(ctx, refresh); err != nil {
			s.log.Warn("server logout failed", "error", err)
		}
	}

	if err := s.durable.Clear(ctx); err != nil {
		s.log.Warn("clear durable storage failed", "error", err)
	}
	if err := s.ephemeral.Clear(ctx); err != nil {
		s.log.Warn("clear ephemeral storage failed", "error", err)
	}

	s.mu.Lock()
	wasAuthed := s.session != nil
	s.session = nil
	s.active = nil
	s.mu.Unlock()

	if wasAuthed {
		s.notify(false)
	}
}

// Refresh exchanges the refresh token for a new access token. Only the
// access token changes; identity and the refresh token stay as they are. An
// exchange failure logs the session out.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.session == nil || s.session.RefreshToken == "" {
		s.mu.Unlock()
		return ErrNoRefreshToken
	}
	refresh := s.session.RefreshToken
	s.mu.Unlock()

	access, err := s.api.RefreshToken(ctx, refresh)
	if err != nil {
		s.log.Warn("token refresh failed, logging out", "error", err)
		s.Logout(ctx)
		return fmt.Errorf("refresh token: %w", err)
	}

	s.mu.Lock()
	active := s.active
	if s.session != nil {
		s.session.AccessToken = access
	}
	s.mu.Unlock()

	if active != nil {
		if err := active.Set(ctx, storage.KeyToken, access); err != nil {
			s.log.Warn("persist refreshed token failed", "error", err)
		}
	}
	return nil
}

// Init restores a persisted session, verifying it against the server. Runs
// once; the initialized flag is set no matter the outcome.
func (s *Store) Init(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
	}()

	sess, backend := s.restore(ctx)
	if sess == nil {
		return
	}

	s.mu.Lock()
	s.session = sess
	s.active = backend
	s.mu.Unlock()

	if err := s.api.Verify(ctx); err == nil {
		s.notify(true)
		return
	}

	s.log.Info("persisted token rejected, attempting refresh")
	if err := s.Refresh(ctx); err != nil {
		// Refresh already cleared state on failure; make sure a session
		// without a refresh token is cleared too.
		if errors.Is(err, ErrNoRefreshToken) {
			s.Logout(ctx)
		}
		return
	}
	s.notify(true)
}

// Run drives the background token refresh until ctx is cancelled. Failures
// are not surfaced; a dead session shows up as Authenticated flipping false.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Authenticated() {
				continue
			}
			if err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrNoRefreshToken) {
				s.log.Warn("background refresh failed", "error", err)
			}
		}
	}
}

// restore reads a persisted session, durable backend first.
func (s *Store) restore(ctx context.Context) (*domain.Session, storage.Store) {
	for _, backend := range []storage.Store{s.durable, s.ephemeral} {
		token, ok, err := backend.Get(ctx, storage.KeyToken)
		if err != nil {
			s.log.Warn("session restore read failed", "error", err)
			continue
		}
		if !ok || token == "" {
			continue
		}
		refresh, _, _ := backend.Get(ctx, storage.KeyRefresh)
		userID, _, _ := backend.Get(ctx, storage.KeyUserID)
		email, _, _ := backend.Get(ctx, storage.KeyEmail)
		return &domain.Session{
			AccessToken:  token,
			RefreshToken: refresh,
			UserID:       userID,
			Email:        email,
		}, backend
	}
	return nil, nil
}

func (s *Store) writeSession(ctx context.Context, target storage.Store, access, refresh, userID, email string) {
	pairs := [...][2]string{
		{storage.KeyToken, access},
		{storage.KeyRefresh, refresh},
		{storage.KeyUserID, userID},
		{storage.KeyEmail, email},
	}
	for _, kv := range pairs {
		if err := target.Set(ctx, kv[0], kv[1]); err != nil {
			s.log.Warn("persist session field failed", "key", kv[0], "error", err)
		}
	}
}

func (s *Store) notify(authenticated bool) {
	s.mu.Lock()
	callbacks := make([]func(bool), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(authenticated)
	}
}

// tokenExpiry extracts the exp claim without verifying the signature. Used
// only for logging; refresh scheduling stays on a fixed interval.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
