package igauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Provider is one OAuth provider variant. A deployment selects exactly one.
type Provider interface {
	// Name returns the variant identifier (e.g. "facebook", "instagram").
	Name() string

	// AuthorizationURL builds the consent URL carrying state. It fails when the
	// resulting host differs from the variant's canonical authorization host.
	AuthorizationURL(state string) (string, error)

	// ExchangeCode trades an authorization code for a token.
	ExchangeCode(ctx context.Context, code string) (*TokenResponse, error)

	// UpgradeToken trades a short-lived token for a long-lived one.
	UpgradeToken(ctx context.Context, shortLived string) (*TokenResponse, error)

	// RefreshToken extends a still valid long-lived token.
	RefreshToken(ctx context.Context, current string) (*TokenResponse, error)

	// FetchProfile returns the identity behind accessToken.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)

	// Endpoints returns the graph URLs for the account.
	Endpoints(externalAccountID string) Endpoints
}

// ValidateAuthorizationURL checks that rawURL is an https URL on expectedHost.
func ValidateAuthorizationURL(rawURL, expectedHost string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &ConfigError{Field: "authorization_url", Reason: fmt.Sprintf("unparseable: %v", err)}
	}
	if !strings.EqualFold(u.Host, expectedHost) {
		return &ConfigError{
			Field:  "authorization_url",
			Reason: fmt.Sprintf("host %q does not match expected %q", u.Host, expectedHost),
		}
	}
	if u.Scheme != "https" {
		return &ConfigError{Field: "authorization_url", Reason: "scheme must be https"}
	}
	return nil
}
