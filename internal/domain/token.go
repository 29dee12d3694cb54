package domain

import "time"

// TokenPrefix marks bearer tokens issued by this service.
const TokenPrefix = "eam_"

// Token is a stored bearer token. ID is the hex sha256 of the raw token;
// the raw value is only ever returned once, at issuance.
type Token struct {
	ID        string    `json:"id"`
	Principal string    `json:"principal"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the token is usable at now.
func (t *Token) Valid(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// IssuedToken is returned by a successful authentication.
type IssuedToken struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
}

// Principal is the identity behind a validated token.
type Principal struct {
	Username string
	TokenID  string
}

// RootCredential is the single administrative credential.
type RootCredential struct {
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"password_hash"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LoginRequest is the request body for POST /auth/token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UpdatePasswordRequest is the request body for PUT /auth/password.
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}
