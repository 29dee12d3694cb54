// Package auth implements the token authority: the root credential, bearer
// token issuance, validation and revocation.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/observability"
	"github.com/bcnelson/splunk-eam/internal/storage"
	"github.com/bcnelson/splunk-eam/internal/validation"
)

// MinPasswordLength is the shortest accepted root password.
const MinPasswordLength = 8

// bcrypt ignores input past 72 bytes; reject it instead of truncating.
const maxPasswordLength = 72

// Authority issues and validates bearer tokens against the root credential.
type Authority struct {
	store  storage.Storage
	ttl    time.Duration
	now    func() time.Time
	cost   int
	logger *zap.Logger

	// Serializes password updates so the compare and the write are one step
	// within this process.
	pwMu sync.Mutex
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// WithBcryptCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(a *Authority) { a.cost = cost }
}

// New creates an Authority issuing tokens that live for ttl.
func New(store storage.Storage, ttl time.Duration, logger *zap.Logger, opts ...Option) *Authority {
	a := &Authority{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		cost:   bcrypt.DefaultCost,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HashToken returns the storage id of a raw bearer token. Tokens are
// high-entropy random strings, so a fast hash is sufficient.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// generateToken returns a new random bearer token.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return domain.TokenPrefix + hex.EncodeToString(b), nil
}

// EnsureRootCredential seeds the root credential when none exists. It
// reports whether a credential was created.
func (a *Authority) EnsureRootCredential(ctx context.Context, username, password string) (bool, error) {
	if _, err := a.store.GetRootCredential(ctx); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("reading root credential: %w", err)
	}

	if err := checkPassword("password", password); err != nil {
		return false, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return false, fmt.Errorf("hashing root password: %w", err)
	}
	created, err := a.store.InitRootCredential(ctx, &domain.RootCredential{
		Username:     username,
		PasswordHash: hash,
		UpdatedAt:    a.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("storing root credential: %w", err)
	}
	if created {
		a.logger.Info("root credential initialized", zap.String("username", username))
	}
	return created, nil
}

// Authenticate checks username and password against the root credential
// and issues a token with the configured lifetime.
func (a *Authority) Authenticate(ctx context.Context, username, password string) (*domain.IssuedToken, error) {
	cred, err := a.store.GetRootCredential(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		observability.AuthAttempts.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: root credential not initialized", domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cred.Username)) == 1
	pwErr := bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(password))
	if !userOK || pwErr != nil {
		observability.AuthAttempts.WithLabelValues("rejected").Inc()
		a.logger.Warn("authentication failed", zap.String("username", username))
		return nil, fmt.Errorf("%w: invalid username or password", domain.ErrUnauthorized)
	}

	raw, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	now := a.now().UTC()
	token := &domain.Token{
		ID:        HashToken(raw),
		Principal: cred.Username,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}
	if err := a.store.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("storing token: %w", err)
	}

	observability.AuthAttempts.WithLabelValues("accepted").Inc()
	a.logger.Info("token issued",
		zap.String("principal", token.Principal),
		zap.String("token_id", token.ID[:12]),
		zap.Time("expires_at", token.ExpiresAt))

	return &domain.IssuedToken{
		Token:     raw,
		TokenType: "Bearer",
		ExpiresAt: token.ExpiresAt,
		ExpiresIn: int64(a.ttl / time.Second),
	}, nil
}

// Validate resolves a raw token to its principal. Absent, revoked and
// expired tokens are all rejected; validation never extends the expiry.
func (a *Authority) Validate(ctx context.Context, raw string) (*domain.Principal, error) {
	if raw == "" || !strings.HasPrefix(raw, domain.TokenPrefix) {
		return nil, fmt.Errorf("%w: invalid or revoked token", domain.ErrUnauthorized)
	}
	token, err := a.store.GetToken(ctx, HashToken(raw))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid or revoked token", domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !token.Valid(a.now()) {
		return nil, fmt.Errorf("%w: token expired", domain.ErrUnauthorized)
	}
	return &domain.Principal{Username: token.Principal, TokenID: token.ID}, nil
}

// Revoke deletes the token. Revoking an unknown token is not an error.
func (a *Authority) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	id := HashToken(raw)
	if err := a.store.DeleteToken(ctx, id); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	a.logger.Info("token revoked", zap.String("token_id", id[:12]))
	return nil
}

// UpdateRootPassword replaces the root password after checking the current
// one. Issued tokens stay valid until their own expiry.
func (a *Authority) UpdateRootPassword(ctx context.Context, current, next string) error {
	if err := checkPassword("new_password", next); err != nil {
		return err
	}

	a.pwMu.Lock()
	defer a.pwMu.Unlock()

	cred, err := a.store.GetRootCredential(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: root credential not initialized", domain.ErrUnauthorized)
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(current)) != nil {
		observability.AuthAttempts.WithLabelValues("rejected").Inc()
		a.logger.Warn("password update rejected", zap.String("username", cred.Username))
		return fmt.Errorf("%w: current password does not match", domain.ErrUnauthorized)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), a.cost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	cred.PasswordHash = hash
	cred.UpdatedAt = a.now().UTC()
	if err := a.store.PutRootCredential(ctx, cred); err != nil {
		return fmt.Errorf("storing root credential: %w", err)
	}
	a.logger.Info("root password updated", zap.String("username", cred.Username))
	return nil
}

func checkPassword(field, pw string) error {
	var errs validation.ValidationErrors
	switch {
	case len(pw) < MinPasswordLength:
		errs.Add(field, "", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	case len(pw) > maxPasswordLength:
		errs.Add(field, "", fmt.Sprintf("must be at most %d bytes", maxPasswordLength))
	}
	return errs.Err()
}
