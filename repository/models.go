package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountModel is the Bun model for connected Instagram accounts.
type AccountModel struct {
	bun.BaseModel `bun:"table:instagram_accounts,alias:a"`

	ID          uuid.UUID  `bun:"id,pk,nullzero,type:uuid"`
	IGUserID    string     `bun:"ig_user_id,notnull"`
	IGUsername  string     `bun:"ig_username,nullzero"`
	AccountType string     `bun:"account_type,nullzero"`
	ConnectedAt time.Time  `bun:"connected_at,notnull"`
	LastSeenAt  *time.Time `bun:"last_seen_at"`
	CreatedAt   time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,nullzero,default:current_timestamp"`

	Credential *CredentialModel  `bun:"rel:has-one,join:id=account_id"`
	Cursor     *FetchCursorModel `bun:"rel:has-one,join:id=account_id"`
}

// CredentialModel is the Bun model for encrypted access tokens. One per account.
type CredentialModel struct {
	bun.BaseModel `bun:"table:instagram_credentials,alias:c"`

	ID                   uuid.UUID  `bun:"id,pk,nullzero,type:uuid"`
	AccountID            uuid.UUID  `bun:"account_id,notnull,type:uuid"`
	EncryptedAccessToken string     `bun:"encrypted_access_token,notnull"`
	TokenType            string     `bun:"token_type,notnull"`
	Scopes               string     `bun:"scopes,nullzero"`
	ExpiresAt            *time.Time `bun:"expires_at"`
	LastRefreshedAt      time.Time  `bun:"last_refreshed_at,notnull"`
	CreatedAt            time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt            time.Time  `bun:"updated_at,nullzero,default:current_timestamp"`
}

// FetchCursorModel records when media and stories were last ingested for an
// account. Rows are created empty on connect and owned by the ingester.
type FetchCursorModel struct {
	bun.BaseModel `bun:"table:instagram_fetch_cursors,alias:fc"`

	ID                   uuid.UUID  `bun:"id,pk,nullzero,type:uuid"`
	AccountID            uuid.UUID  `bun:"account_id,notnull,type:uuid"`
	MediaLastFetchedAt   *time.Time `bun:"media_last_fetched_at"`
	StoriesLastFetchedAt *time.Time `bun:"stories_last_fetched_at"`
	CreatedAt            time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt            time.Time  `bun:"updated_at,nullzero,default:current_timestamp"`
}
