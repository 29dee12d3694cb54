package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bcnelson/splunk-eam/internal/domain"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	tokenContextKey     contextKey = "token"
)

// TokenValidator resolves a bearer token to its principal. The token
// authority implements it.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*domain.Principal, error)
}

// Auth creates authentication middleware.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				unauthorized(w, "invalid authorization header format")
				return
			}
			if token == "" {
				unauthorized(w, "empty token")
				return
			}

			principal, err := validator.Validate(r.Context(), token)
			if err != nil {
				unauthorized(w, "invalid or revoked token")
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			ctx = context.WithValue(ctx, tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&domain.StandardErrorResponse{
		Error: domain.StandardError{Code: code, Message: message},
	})
}

// PrincipalFromContext retrieves the authenticated principal.
func PrincipalFromContext(ctx context.Context) *domain.Principal {
	p, _ := ctx.Value(principalContextKey).(*domain.Principal)
	return p
}

// TokenFromContext retrieves the bearer token the request authenticated with.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenContextKey).(string)
	return t
}
