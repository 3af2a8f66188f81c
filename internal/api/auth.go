package api

import (
	"context"
	"net/http"
)

// Credentials is the session material returned by login and register.
type Credentials struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access string `json:"access"`
}

type logoutRequest struct {
	Refresh string `json:"refresh,omitempty"`
}

func (c *Client) Login(ctx context.Context, email, password string) (Credentials, error) {
	var creds Credentials
	err := c.do(ctx, http.MethodPost, "/auth/login/", loginRequest{Email: email, Password: password}, &creds)
	return creds, err
}

func (c *Client) Register(ctx context.Context, email, password, name string) (Credentials, error) {
	var creds Credentials
	err := c.do(ctx, http.MethodPost, "/auth/register/", registerRequest{Email: email, Password: password, Name: name}, &creds)
	return creds, err
}

// Logout invalidates the refresh token server-side.
func (c *Client) Logout(ctx context.Context, refresh string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout/", logoutRequest{Refresh: refresh}, nil)
}

// RefreshToken exchanges the refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refresh string) (string, error) {
	var resp refreshResponse
	if err := c.do(ctx, http.MethodPost, "/auth/token/refresh/", refreshRequest{Refresh: refresh}, &resp); err != nil {
		return "", err
	}
	return resp.Access, nil
}

// Verify checks the held access token against the server.
func (c *Client) Verify(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/auth/verify/", nil, nil)
}
