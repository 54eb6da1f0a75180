// Package auth issues and validates opaque session tokens and hashes
// passwords.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/models"
)

// DefaultSessionTTL is how long an issued session stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionStore is the persistence Sessions needs. store.DataStore satisfies it.
type SessionStore interface {
	CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error
	SessionIdentity(ctx context.Context, token string, now time.Time) (*models.Identity, error)
	DeleteSession(ctx context.Context, token string) error
}

// Sessions maps opaque bearer tokens to identities. Expiry is checked at
// validation time; expired rows are left in storage.
type Sessions struct {
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
}

// Option configures Sessions.
type Option func(*Sessions)

// WithClock replaces the wall clock used for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(s *Sessions) { s.now = now }
}

// NewSessions creates a session service. A non-positive ttl uses
// DefaultSessionTTL.
func NewSessions(store SessionStore, ttl time.Duration, opts ...Option) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &Sessions{store: store, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the lifetime given to new sessions.
func (s *Sessions) TTL() time.Duration {
	return s.ttl
}

// Issue creates a session for userID and returns its token.
func (s *Sessions) Issue(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	if err := s.store.CreateSession(ctx, token, userID, s.now().Add(s.ttl)); err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	return token, nil
}

// Validate resolves token to an identity. It returns nil, nil when the token
// is empty, unknown or expired. Storage failures are returned as errors and
// never treated as authenticated.
func (s *Sessions) Validate(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, nil
	}
	id, err := s.store.SessionIdentity(ctx, token, s.now())
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}
	return id, nil
}

// Revoke deletes the session. Unknown tokens are not an error.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
