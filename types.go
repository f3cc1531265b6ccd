package igauth

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Logger is the structured logger used across the package. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// TokenResponse is the normalized result of an exchange, upgrade or refresh.
type TokenResponse struct {
	AccessToken string
	TokenType   string
	// ExpiresIn is the lifetime relative to issuance. Zero means absent.
	ExpiresIn time.Duration
	// ExternalUserID is set when the provider includes the account id in the
	// token payload.
	ExternalUserID string
	Scopes         []string
}

// Profile is the identity reported by the provider for an access token.
type Profile struct {
	ExternalID  string
	Username    string
	Name        string
	AccountType string
}

// Credential is the persisted aggregate for one external account.
type Credential struct {
	ExternalAccountID string
	Username          string
	AccountType       string
	AccessToken       string
	TokenType         string
	Scopes            []string
	ConnectedAt       time.Time
	TokenExpiresAt    *time.Time
	LastRefreshedAt   time.Time

	// ExpiresIn is derived on read: whole seconds until TokenExpiresAt,
	// floored at zero. It is zero when TokenExpiresAt is nil.
	ExpiresIn time.Duration
}

// Expired reports whether the credential is strictly past its expiry.
// Credentials without an expiry never expire.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil || c.TokenExpiresAt == nil {
		return false
	}
	return now.After(*c.TokenExpiresAt)
}

// AccountView is the listing projection of a Credential. It never carries
// token material.
type AccountView struct {
	ExternalAccountID    string     `json:"externalAccountId"`
	Username             string     `json:"username,omitempty"`
	AccountType          string     `json:"accountType,omitempty"`
	TokenType            string     `json:"tokenType"`
	Scopes               []string   `json:"scopes,omitempty"`
	ConnectedAt          time.Time  `json:"connectedAt"`
	TokenExpiresAt       *time.Time `json:"tokenExpiresAt,omitempty"`
	LastRefreshedAt      *time.Time `json:"lastRefreshedAt,omitempty"`
	MediaLastFetchedAt   *time.Time `json:"mediaLastFetchedAt,omitempty"`
	StoriesLastFetchedAt *time.Time `json:"storiesLastFetchedAt,omitempty"`
}

// Endpoints are the graph URLs downstream consumers call with a token.
type Endpoints struct {
	Media   string `json:"media"`
	Stories string `json:"stories"`
}

// DefaultTokenType is used when the provider omits token_type.
const DefaultTokenType = "Bearer"

// ExpiresAt returns now + expiresIn, or nil when expiresIn is absent.
func ExpiresAt(now time.Time, expiresIn time.Duration) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	t := now.Add(expiresIn)
	return &t
}

// RemainingLifetime returns whole seconds left until expiresAt, never negative.
func RemainingLifetime(expiresAt *time.Time, now time.Time) time.Duration {
	if expiresAt == nil {
		return 0
	}
	secs := math.Floor(expiresAt.Sub(now).Seconds())
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Seconds returns d in whole seconds, the unit used on the wire.
func Seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

type defLogger struct{}

func (defLogger) Debug(msg string, args ...any) { printLog("DBG", msg, args...) }
func (defLogger) Info(msg string, args ...any)  { printLog("INF", msg, args...) }
func (defLogger) Warn(msg string, args ...any)  { printLog("WRN", msg, args...) }
func (defLogger) Error(msg string, args ...any) { printLog("ERR", msg, args...) }

func printLog(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] IGAUTH ")
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	fmt.Println(b.String())
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards every record.
func NopLogger() Logger { return nopLogger{} }

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
