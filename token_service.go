package igauth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TokenLease is the token handed to downstream consumers.
type TokenLease struct {
	ExternalAccountID string
	Username          string
	AccessToken       string
	TokenType         string
	ExpiresIn         time.Duration
	TokenExpiresAt    *time.Time
	Endpoints         Endpoints
}

// TokenExpiredError reports a stored token past its expiry. It matches
// ErrTokenExpired.
type TokenExpiredError struct {
	ExternalAccountID string
	ExpiresAt         time.Time
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("%s: account %s expired at %s", ErrTokenExpired, e.ExternalAccountID, e.ExpiresAt.UTC().Format(time.RFC3339))
}

func (e *TokenExpiredError) Unwrap() error {
	return ErrTokenExpired
}

// TokenGateway serves the current token of an account. It never refreshes.
type TokenGateway struct {
	store    CredentialStore
	provider Provider
	logger   Logger
	metrics  *Metrics
	now      func() time.Time
}

// GatewayOption configures a TokenGateway.
type GatewayOption func(*TokenGateway)

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger Logger) GatewayOption {
	return func(g *TokenGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGatewayMetrics sets the metrics recorder.
func WithGatewayMetrics(m *Metrics) GatewayOption {
	return func(g *TokenGateway) {
		g.metrics = m
	}
}

// WithGatewayClock injects a custom clock (useful for tests).
func WithGatewayClock(clock func() time.Time) GatewayOption {
	return func(g *TokenGateway) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithGatewayProvider sets the provider used to describe graph endpoints.
func WithGatewayProvider(p Provider) GatewayOption {
	return func(g *TokenGateway) {
		g.provider = p
	}
}

// NewTokenGateway creates a gateway over store.
func NewTokenGateway(store CredentialStore, opts ...GatewayOption) *TokenGateway {
	g := &TokenGateway{
		store:  store,
		logger: defLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Lookup returns the token for externalAccountID. It returns
// ErrAccountNotFound for unknown accounts and a *TokenExpiredError when the
// token is past expiry.
func (g *TokenGateway) Lookup(ctx context.Context, externalAccountID string) (*TokenLease, error) {
	cred, found, err := g.store.Get(ctx, externalAccountID)
	if err != nil {
		g.metrics.lookup("error")
		g.logger.Error("token lookup failed", "external_account_id", externalAccountID, "error", err)
		return nil, err
	}
	if !found {
		g.metrics.lookup("not_found")
		return nil, ErrAccountNotFound
	}

	now := g.now()
	if cred.Expired(now) {
		g.metrics.lookup("expired")
		return nil, &TokenExpiredError{
			ExternalAccountID: cred.ExternalAccountID,
			ExpiresAt:         *cred.TokenExpiresAt,
		}
	}

	lease := &TokenLease{
		ExternalAccountID: cred.ExternalAccountID,
		Username:          cred.Username,
		AccessToken:       cred.AccessToken,
		TokenType:         cred.TokenType,
		ExpiresIn:         RemainingLifetime(cred.TokenExpiresAt, now),
		TokenExpiresAt:    cred.TokenExpiresAt,
	}
	if g.provider != nil {
		lease.Endpoints = g.provider.Endpoints(cred.ExternalAccountID)
	}

	g.metrics.lookup("ok")
	return lease, nil
}

// IsExpired reports whether err signals an expired token.
func IsExpired(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}
