// Package statestore holds the OAuth CSRF state between the login redirect
// and the provider callback.
package statestore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/goliatone/go-igauth"
)

const cookieIssuer = "igauth"

// MinSigningKeySize is the shortest HMAC key accepted by NewSignedCookie.
const MinSigningKeySize = 32

type stateClaims struct {
	State string `json:"st"`
	jwt.RegisteredClaims
}

// SignedCookie keeps the state client side in an HS256 signed token. The
// carrier is the token itself and is meant to be stored in an HttpOnly
// cookie that the callback handler clears. Each token carries a unique id
// that Consume claims in a ReplayGuard, so a carrier redeems once.
type SignedCookie struct {
	key   []byte
	now   func() time.Time
	guard ReplayGuard
}

var _ igauth.StateStore = (*SignedCookie)(nil)

// CookieOption configures a SignedCookie.
type CookieOption func(*SignedCookie)

// WithCookieClock overrides the time source.
func WithCookieClock(now func() time.Time) CookieOption {
	return func(s *SignedCookie) {
		if now != nil {
			s.now = now
		}
	}
}

// WithReplayGuard overrides the default in-memory guard. Deployments with
// more than one replica need a shared guard such as RedisReplayGuard.
func WithReplayGuard(guard ReplayGuard) CookieOption {
	return func(s *SignedCookie) {
		if guard != nil {
			s.guard = guard
		}
	}
}

// NewSignedCookie creates a signed cookie store.
func NewSignedCookie(key []byte, opts ...CookieOption) (*SignedCookie, error) {
	if len(key) < MinSigningKeySize {
		return nil, &igauth.ConfigError{
			Field:  "STATE_SIGNING_KEY_BASE64",
			Reason: fmt.Sprintf("must be at least %d bytes", MinSigningKeySize),
		}
	}

	s := &SignedCookie{
		key: append([]byte(nil), key...),
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.guard == nil {
		s.guard = NewMemoryReplayGuard(s.now)
	}
	return s, nil
}

// Issue implements igauth.StateStore.
func (s *SignedCookie) Issue(_ context.Context, state string, ttl time.Duration) (string, error) {
	if state == "" {
		return "", errStateRequired
	}
	if ttl <= 0 {
		ttl = igauth.DefaultStateTTL
	}

	issuedAt := s.now()
	claims := &stateClaims{
		State: state,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cookieIssuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// Consume implements igauth.StateStore. A carrier whose id was already
// claimed fails with igauth.ErrStateReused.
func (s *SignedCookie) Consume(ctx context.Context, carrier, presented string) error {
	if carrier == "" {
		return igauth.ErrStateMissing
	}

	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(carrier, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return igauth.ErrStateExpired
		}
		return fmt.Errorf("%w: %v", igauth.ErrStateMismatch, err)
	}
	if claims.ID == "" {
		return fmt.Errorf("%w: token id missing", igauth.ErrStateMismatch)
	}

	first, err := s.guard.Claim(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return err
	}
	if !first {
		return igauth.ErrStateReused
	}

	if !equal(claims.State, presented) {
		return igauth.ErrStateMismatch
	}
	return nil
}

func equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
