package handler

import (
	"net/http"

	"github.com/bcnelson/splunk-eam/internal/api/middleware"
	"github.com/bcnelson/splunk-eam/internal/auth"
	"github.com/bcnelson/splunk-eam/internal/domain"
)

// AuthHandler handles token and password endpoints.
type AuthHandler struct {
	authority *auth.Authority
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authority *auth.Authority) *AuthHandler {
	return &AuthHandler{authority: authority}
}

// Token exchanges the root credentials for a bearer token.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	tok, err := h.authority.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tok)
}

// Password replaces the root password. Outstanding tokens stay valid.
func (h *AuthHandler) Password(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdatePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	if err := h.authority.UpdateRootPassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

type revokeRequest struct {
	Token string `json:"token"`
}

// Revoke deletes a token, by default the caller's own.
func (h *AuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if req.Token == "" {
		req.Token = middleware.TokenFromContext(r.Context())
	}

	if err := h.authority.Revoke(r.Context(), req.Token); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
