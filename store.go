package igauth

import (
	"context"
	"time"
)

// CredentialStore persists credentials keyed by external account id. It owns
// encryption of token material: callers only ever see plaintext tokens.
type CredentialStore interface {
	// Save upserts the account row and then the credential row as one unit.
	Save(ctx context.Context, cred *Credential) error

	// Get returns the decrypted credential. found is false when no row exists.
	Get(ctx context.Context, externalAccountID string) (cred *Credential, found bool, err error)

	// UpdateToken replaces the token, expiry and last refresh time of an
	// existing credential. It returns ErrAccountNotFound if none exists.
	UpdateToken(ctx context.Context, externalAccountID, accessToken string, expiresIn time.Duration) error

	// List returns every connected account, most recently connected first.
	List(ctx context.Context) ([]AccountView, error)

	// Delete removes the account and its credential.
	Delete(ctx context.Context, externalAccountID string) error
}

// Pinger is implemented by stores that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
