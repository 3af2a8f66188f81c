// Package apitest hosts an in-process storefront API for tests. It speaks
// the same routes and JSON shapes as the real backend, with a knob to expire
// tokens on demand.
package apitest

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fjod/go_storefront/internal/domain"
)

const tokenTTL = 15 * time.Minute

type Line struct {
	ID        int64
	ProductID int64
	Quantity  int
}

// Server is a fake storefront API backed by in-memory state.
type Server struct {
	HTTP *httptest.Server

	secret []byte

	mu         sync.Mutex
	users      map[string]string // email -> password
	userIDs    map[string]string // email -> user id
	refreshers map[string]string // refresh token -> email
	carts      map[string][]Line
	products   map[int64]domain.Product
	nextItemID int64
	nextOrder  int64

	// rejectAccess makes every authenticated route answer 401, simulating
	// an expired access token.
	rejectAccess bool
	// failRefresh makes the refresh endpoint reject all tokens.
	failRefresh bool
}

func New(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		secret:     []byte("apitest-secret"),
		users:      map[string]string{},
		userIDs:    map[string]string{},
		refreshers: map[string]string{},
		carts:      map[string][]Line{},
		products:   map[int64]domain.Product{},
		nextItemID: 1,
		nextOrder:  1,
	}
	s.HTTP = httptest.NewServer(s.router())
	t.Cleanup(s.HTTP.Close)
	return s
}

func (s *Server) URL() string { return s.HTTP.URL }

// AddUser registers an account directly in the fixture state.
func (s *Server) AddUser(email, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[email] = password
	s.userIDs[email] = fmt.Sprintf("u-%d", len(s.userIDs)+1)
}

// AddProduct seeds the catalog.
func (s *Server) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// SetRejectAccess toggles 401 answers on every authenticated route.
func (s *Server) SetRejectAccess(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAccess = v
}

// SetFailRefresh makes token refresh fail unconditionally.
func (s *Server) SetFailRefresh(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = v
}

// Cart returns the server-side cart lines for a user, for assertions.
func (s *Server) Cart(email string) []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Line, len(s.carts[email]))
	copy(out, s.carts[email])
	return out
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login/", s.handleLogin)
		r.Post("/register/", s.handleRegister)
		r.Post("/logout/", s.handleLogout)
		r.Post("/token/refresh/", s.handleRefresh)
		r.Get("/verify/", s.handleVerify)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Get("/cart/", s.handleGetCart)
		r.Post("/cart/items/", s.handleAddItem)
		r.Put("/cart/items/{item_id}/", s.handleUpdateItem)
		r.Delete("/cart/items/{item_id}/", s.handleRemoveItem)
		r.Post("/cart/clear/", s.handleClearCart)
		r.Post("/checkout/", s.handleCheckout)
	})
	r.Get("/products/", s.handleListProducts)
	r.Get("/products/{product_id}/", s.handleGetProduct)

	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pass, ok := s.users[req.Email]
	if !ok || pass != req.Password {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "wrong email or password")
		return
	}
	s.issueSessionLocked(w, req.Email)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "email and password required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[req.Email]; exists {
		respondError(w, http.StatusConflict, "already_exists", "account already exists")
		return
	}
	s.users[req.Email] = req.Password
	s.userIDs[req.Email] = fmt.Sprintf("u-%d", len(s.userIDs)+1)
	s.issueSessionLocked(w, req.Email)
}

func (s *Server) issueSessionLocked(w http.ResponseWriter, email string) {
	access, err := s.mintAccess(email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "token minting failed")
		return
	}
	refresh := fmt.Sprintf("refresh-%s-%d", email, time.Now().UnixNano())
	s.refreshers[refresh] = email

	respondJSON(w, http.StatusOK, map[string]string{
		"access":  access,
		"refresh": refresh,
		"user_id": s.userIDs[email],
		"email":   email,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	s.mu.Lock()
	delete(s.refreshers, req.Refresh)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.refreshers[req.Refresh]
	if !ok || s.failRefresh {
		respondError(w, http.StatusUnauthorized, "invalid_token", "refresh token rejected")
		return
	}
	access, err := s.mintAccess(email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "token minting failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	email, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	respondJSON(w, http.StatusOK, s.cartResponseLocked(email))
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	email, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 || req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "product_id and quantity must be positive")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.carts[email]
	merged := false
	for i := range lines {
		if lines[i].ProductID == req.ProductID {
			lines[i].Quantity += req.Quantity
			merged = true
			break
		}
	}
	if !merged {
		lines = append(lines, Line{ID: s.nextItemID, ProductID: req.ProductID, Quantity: req.Quantity})
		s.nextItemID++
	}
	s.carts[email] = lines
	respondJSON(w, http.StatusCreated, s.cartResponseLocked(email))
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	email, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "item_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "bad item id")
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "quantity must be positive")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.carts[email] {
		if s.carts[email][i].ID == itemID {
			s.carts[email][i].Quantity = req.Quantity
			respondJSON(w, http.StatusOK, s.cartResponseLocked(email))
			return
		}
	}
	respondError(w, http.StatusNotFound, "not_found", "cart item not found")
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	email, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "item_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "bad item id")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.carts[email]
	for i := range lines {
		if lines[i].ID == itemID {
			s.carts[email] = append(lines[:i], lines[i+1:]...)
			respondJSON(w, http.StatusOK, s.cartResponseLocked(email))
			return
		}
	}
	respondError(w, http.StatusNotFound, "not_found", "cart item not found")
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	email, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	s.carts[email] = nil
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	email, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req struct {
		Name    string `json:"name"`
		Phone   string `json:"phone"`
		Address string `json:"address"`
		Items   []struct {
			ProductID int64 `json:"product_id"`
			Quantity  int   `json:"quantity"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Name == "" || req.Phone == "" || req.Address == "" || len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "incomplete checkout payload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0.0
	for _, it := range req.Items {
		if p, ok := s.products[it.ProductID]; ok {
			total += p.Price * float64(it.Quantity)
		}
	}
	order := map[string]any{"id": s.nextOrder, "status": "pending", "total": total}
	s.nextOrder++
	s.carts[email] = nil
	respondJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "bad product id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "product not found")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) cartResponseLocked(email string) map[string]any {
	items := make([]map[string]any, 0, len(s.carts[email]))
	subtotal := 0.0
	for _, line := range s.carts[email] {
		p := s.products[line.ProductID]
		items = append(items, map[string]any{
			"id":         line.ID,
			"product_id": line.ProductID,
			"name":       p.Name,
			"price":      p.Price,
			"image":      p.Image,
			"quantity":   line.Quantity,
		})
		subtotal += p.Price * float64(line.Quantity)
	}
	return map[string]any{"items": items, "subtotal": subtotal}
}

func (s *Server) mintAccess(email string) (string, error) {
	claims := jwt.MapClaims{
		"sub":   s.userIDs[email],
		"email": email,
		"exp":   jwt.NewNumericDate(time.Now().Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// authenticate validates the bearer token and resolves the account. A
// missing or rejected token answers 401 and returns ok=false.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
		return "", false
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	s.mu.Lock()
	reject := s.rejectAccess
	s.mu.Unlock()
	if reject {
		respondError(w, http.StatusUnauthorized, "token_expired", "access token expired")
		return "", false
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		respondError(w, http.StatusUnauthorized, "invalid_token", "access token rejected")
		return "", false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		respondError(w, http.StatusUnauthorized, "invalid_token", "bad token claims")
		return "", false
	}
	email, _ := claims["email"].(string)
	if email == "" {
		respondError(w, http.StatusUnauthorized, "invalid_token", "no identity in token")
		return "", false
	}
	return email, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": message, "code": code})
}
