package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_storefront/internal/storage"
)

// Paths that never carry a bearer token. Matching is exact or by prefix.
var defaultPublicPaths = []string{
	"/auth/login/",
	"/auth/register/",
	"/auth/token/refresh/",
	"/products/",
}

var ErrUnauthorized = errors.New("unauthorized")

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("api: request failed with status %d", e.Status)
}

func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// errorBody is the error shape the storefront API returns.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// TokenSource yields the bearer token for outgoing requests, or "" when no
// session is held.
type TokenSource interface {
	Token(ctx context.Context) string
}

// StorageTokenSource reads the access token out of the persisted session,
// preferring the durable backend over the ephemeral one.
type StorageTokenSource struct {
	Durable   storage.Store
	Ephemeral storage.Store
	Log       *slog.Logger
}

func (s *StorageTokenSource) Token(ctx context.Context) string {
	for _, st := range []storage.Store{s.Durable, s.Ephemeral} {
		if st == nil {
			continue
		}
		tok, ok, err := st.Get(ctx, storage.KeyToken)
		if err != nil {
			if s.Log != nil {
				s.Log.Warn("token read failed", "error", err)
			}
			continue
		}
		if ok && tok != "" {
			return tok
		}
	}
	return ""
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	public  []string
	log     *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithInstrumentation wraps the transport with otelhttp.
func WithInstrumentation() Option {
	return func(c *Client) {
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.http.Transport = otelhttp.NewTransport(base)
	}
}

// WithPublicPaths replaces the public path allow-list.
func WithPublicPaths(paths []string) Option {
	return func(c *Client) { c.public = paths }
}

func NewClient(baseURL string, tokens TokenSource, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
		public:  defaultPublicPaths,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) isPublic(path string) bool {
	for _, p := range c.public {
		if path == p || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// do issues one JSON request. A bearer token is attached unless the path is
// on the public allow-list. 401 responses are logged and returned as an
// *Error matching ErrUnauthorized; no retry or redirect happens here.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !c.isPublic(path) {
		if tok := c.tokens.Token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.log.Warn("unauthorized response", "method", method, "path", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(resp, method, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) apiError(resp *http.Response, method, path string) error {
	apiErr := &Error{Status: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil {
		var b errorBody
		if json.Unmarshal(raw, &b) == nil {
			apiErr.Code = b.Code
			apiErr.Message = b.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s %s: %w", method, path, apiErr)
}
