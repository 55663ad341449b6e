package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/storefront/internal/model"
)

// AuthHandler drives the visitor's identity lifecycle.
//
//   - HandleLogin    → POST /api/auth/login
//   - HandleRegister → POST /api/auth/register
//   - HandleLogout   → POST /api/auth/logout
//   - HandleMe       → GET  /api/me
type AuthHandler struct {
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(logger *slog.Logger) *AuthHandler {
	return &AuthHandler{logger: logger}
}

// MeResponse describes the visitor to the UI.
type MeResponse struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"userId,omitempty"`
	Name          string     `json:"name,omitempty"`
	Role          model.Role `json:"role,omitempty"`
	CartCount     int        `json:"cartCount"`
}

func meResponse(id model.Identity, count int) MeResponse {
	return MeResponse{
		Authenticated: id.Authenticated(),
		UserID:        id.UserID,
		Name:          id.DisplayName,
		Role:          id.Role,
		CartCount:     count,
	}
}

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin logs the visitor in and returns the new identity. The token
// stays on the server.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		WriteError(w, err)
		return
	}

	id, err := s.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		h.logger.Warn("login failed", slog.String("error", err.Error()))
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse(id, s.CartCount()))
}

// HandleRegister creates an account. The visitor logs in separately.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		WriteError(w, err)
		return
	}

	if err := s.Register(r.Context(), in.Name, in.Email, in.Password); err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Registration successful. Please log in."})
}

// HandleLogout forgets the identity. The cart stays where it is.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	if err := s.Logout(r.Context()); err != nil {
		h.logger.Error("logout failed", slog.String("error", err.Error()))
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse(s.Identity(), s.CartCount()))
}

// HandleMe returns the current identity and a freshly computed cart count.
// The UI calls it on every page load. Anonymous visitors get
// authenticated=false rather than an error.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	s, ok := visitor(w, r)
	if !ok {
		return
	}
	count := s.RefreshCount(r.Context())
	writeJSON(w, http.StatusOK, meResponse(s.Identity(), count))
}
