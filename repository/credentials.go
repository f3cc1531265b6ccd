package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-igauth"
	"github.com/goliatone/go-igauth/tokencrypt"
)

// CredentialRepository implements igauth.CredentialStore using Bun.
type CredentialRepository struct {
	db     *bun.DB
	cipher *tokencrypt.Cipher
	now    func() time.Time
}

var _ igauth.CredentialStore = (*CredentialRepository)(nil)

// Option configures a CredentialRepository.
type Option func(*CredentialRepository)

// WithClock overrides the time source used for refresh stamps and derived
// lifetimes.
func WithClock(now func() time.Time) Option {
	return func(r *CredentialRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewCredentialRepository creates a new repository.
func NewCredentialRepository(db *bun.DB, cipher *tokencrypt.Cipher, opts ...Option) *CredentialRepository {
	r := &CredentialRepository{
		db:     db,
		cipher: cipher,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Save implements igauth.CredentialStore. The account row is upserted first,
// then the credential row, then an empty fetch cursor is created if missing.
func (r *CredentialRepository) Save(ctx context.Context, cred *igauth.Credential) error {
	if cred == nil || cred.ExternalAccountID == "" {
		return &igauth.PersistenceError{Op: "save credential", Err: igauth.ErrIdentityMissing}
	}

	sealed, err := r.cipher.Encrypt(cred.AccessToken)
	if err != nil {
		return &igauth.PersistenceError{Op: "encrypt token", Err: err}
	}

	now := r.now().UTC()
	connectedAt := cred.ConnectedAt.UTC()
	refreshedAt := cred.LastRefreshedAt.UTC()
	if cred.LastRefreshedAt.IsZero() {
		refreshedAt = now
	}
	if cred.ConnectedAt.IsZero() {
		connectedAt = now
	}

	tokenType := cred.TokenType
	if tokenType == "" {
		tokenType = igauth.DefaultTokenType
	}

	return runInTx(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		account := &AccountModel{
			ID:          uuid.New(),
			IGUserID:    cred.ExternalAccountID,
			IGUsername:  cred.Username,
			AccountType: cred.AccountType,
			ConnectedAt: connectedAt,
			LastSeenAt:  &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		_, err := tx.NewInsert().
			Model(account).
			On("CONFLICT (ig_user_id) DO UPDATE").
			Set("ig_username = COALESCE(EXCLUDED.ig_username, ig_username)").
			Set("account_type = COALESCE(EXCLUDED.account_type, account_type)").
			Set("connected_at = EXCLUDED.connected_at").
			Set("last_seen_at = EXCLUDED.last_seen_at").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return &igauth.PersistenceError{Op: "upsert account", Err: err}
		}

		accountID, err := r.accountID(ctx, tx, cred.ExternalAccountID)
		if err != nil {
			return &igauth.PersistenceError{Op: "load account", Err: err}
		}

		credential := &CredentialModel{
			ID:                   uuid.New(),
			AccountID:            accountID,
			EncryptedAccessToken: sealed,
			TokenType:            tokenType,
			Scopes:               strings.Join(cred.Scopes, ","),
			ExpiresAt:            utcPtr(cred.TokenExpiresAt),
			LastRefreshedAt:      refreshedAt,
			CreatedAt:            now,
			UpdatedAt:            now,
		}

		_, err = tx.NewInsert().
			Model(credential).
			On("CONFLICT (account_id) DO UPDATE").
			Set("encrypted_access_token = EXCLUDED.encrypted_access_token").
			Set("token_type = EXCLUDED.token_type").
			Set("scopes = EXCLUDED.scopes").
			Set("expires_at = EXCLUDED.expires_at").
			Set("last_refreshed_at = EXCLUDED.last_refreshed_at").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return &igauth.PersistenceError{Op: "upsert credential", Err: err}
		}

		cursor := &FetchCursorModel{
			ID:        uuid.New(),
			AccountID: accountID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err = tx.NewInsert().
			Model(cursor).
			On("CONFLICT (account_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return &igauth.PersistenceError{Op: "init fetch cursor", Err: err}
		}

		return nil
	})
}

// Get implements igauth.CredentialStore.
func (r *CredentialRepository) Get(ctx context.Context, externalAccountID string) (*igauth.Credential, bool, error) {
	var model AccountModel
	err := r.db.NewSelect().
		Model(&model).
		Relation("Credential").
		Where("a.ig_user_id = ?", externalAccountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, &igauth.PersistenceError{Op: "load credential", Err: err}
	}
	if !hasCredential(model.Credential) {
		return nil, false, nil
	}

	token, err := r.cipher.Decrypt(model.Credential.EncryptedAccessToken)
	if err != nil {
		return nil, false, fmt.Errorf("credential %s: %w", externalAccountID, err)
	}

	cred := toCredential(&model)
	cred.AccessToken = token
	cred.ExpiresIn = igauth.RemainingLifetime(cred.TokenExpiresAt, r.now())
	return cred, true, nil
}

// UpdateToken implements igauth.CredentialStore.
func (r *CredentialRepository) UpdateToken(ctx context.Context, externalAccountID, accessToken string, expiresIn time.Duration) error {
	sealed, err := r.cipher.Encrypt(accessToken)
	if err != nil {
		return &igauth.PersistenceError{Op: "encrypt token", Err: err}
	}

	now := r.now().UTC()

	return runInTx(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		accountID, err := r.accountID(ctx, tx, externalAccountID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return igauth.ErrAccountNotFound
			}
			return &igauth.PersistenceError{Op: "load account", Err: err}
		}

		res, err := tx.NewUpdate().
			Model((*CredentialModel)(nil)).
			Set("encrypted_access_token = ?", sealed).
			Set("expires_at = ?", igauth.ExpiresAt(now, expiresIn)).
			Set("last_refreshed_at = ?", now).
			Set("updated_at = ?", now).
			Where("account_id = ?", accountID).
			Exec(ctx)
		if err != nil {
			return &igauth.PersistenceError{Op: "update credential", Err: err}
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return igauth.ErrAccountNotFound
		}

		_, err = tx.NewUpdate().
			Model((*AccountModel)(nil)).
			Set("last_seen_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", accountID).
			Exec(ctx)
		if err != nil {
			return &igauth.PersistenceError{Op: "touch account", Err: err}
		}
		return nil
	})
}

// List implements igauth.CredentialStore. Token material is never selected.
func (r *CredentialRepository) List(ctx context.Context) ([]igauth.AccountView, error) {
	var models []AccountModel
	err := r.db.NewSelect().
		Model(&models).
		Relation("Credential", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.ExcludeColumn("encrypted_access_token")
		}).
		Relation("Cursor").
		OrderExpr("a.connected_at DESC").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []igauth.AccountView{}, nil
		}
		return nil, &igauth.PersistenceError{Op: "list accounts", Err: err}
	}

	views := make([]igauth.AccountView, 0, len(models))
	for i := range models {
		views = append(views, toAccountView(&models[i]))
	}
	return views, nil
}

// Delete implements igauth.CredentialStore. Dependent rows are removed in
// the same transaction as the account.
func (r *CredentialRepository) Delete(ctx context.Context, externalAccountID string) error {
	return runInTx(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		accountID, err := r.accountID(ctx, tx, externalAccountID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return igauth.ErrAccountNotFound
			}
			return &igauth.PersistenceError{Op: "load account", Err: err}
		}

		for _, model := range []any{(*FetchCursorModel)(nil), (*CredentialModel)(nil)} {
			if _, err := tx.NewDelete().
				Model(model).
				Where("account_id = ?", accountID).
				Exec(ctx); err != nil {
				return &igauth.PersistenceError{Op: "delete account", Err: err}
			}
		}

		if _, err := tx.NewDelete().
			Model((*AccountModel)(nil)).
			Where("id = ?", accountID).
			Exec(ctx); err != nil {
			return &igauth.PersistenceError{Op: "delete account", Err: err}
		}
		return nil
	})
}

// MarkFetched stamps the media or stories cursor of an account.
func (r *CredentialRepository) MarkFetched(ctx context.Context, externalAccountID string, kind FetchKind, at time.Time) error {
	column, ok := kind.column()
	if !ok {
		return fmt.Errorf("unknown fetch kind %q", kind)
	}

	return runInTx(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		accountID, err := r.accountID(ctx, tx, externalAccountID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return igauth.ErrAccountNotFound
			}
			return &igauth.PersistenceError{Op: "load account", Err: err}
		}

		_, err = tx.NewUpdate().
			Model((*FetchCursorModel)(nil)).
			Set("? = ?", bun.Ident(column), at.UTC()).
			Set("updated_at = ?", r.now().UTC()).
			Where("account_id = ?", accountID).
			Exec(ctx)
		if err != nil {
			return &igauth.PersistenceError{Op: "update fetch cursor", Err: err}
		}
		return nil
	})
}

// Ping implements igauth.Pinger.
func (r *CredentialRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// FetchKind names a fetch cursor column.
type FetchKind string

const (
	FetchMedia   FetchKind = "media"
	FetchStories FetchKind = "stories"
)

func (k FetchKind) column() (string, bool) {
	switch k {
	case FetchMedia:
		return "media_last_fetched_at", true
	case FetchStories:
		return "stories_last_fetched_at", true
	}
	return "", false
}

func (r *CredentialRepository) accountID(ctx context.Context, db bun.IDB, externalAccountID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.NewSelect().
		Model((*AccountModel)(nil)).
		Column("id").
		Where("ig_user_id = ?", externalAccountID).
		Limit(1).
		Scan(ctx, &id)
	return id, err
}

func hasCredential(m *CredentialModel) bool {
	return m != nil && m.ID != uuid.Nil
}

func toCredential(m *AccountModel) *igauth.Credential {
	cred := &igauth.Credential{
		ExternalAccountID: m.IGUserID,
		Username:          m.IGUsername,
		AccountType:       m.AccountType,
		ConnectedAt:       m.ConnectedAt,
	}
	if c := m.Credential; hasCredential(c) {
		cred.TokenType = c.TokenType
		cred.Scopes = splitScopes(c.Scopes)
		cred.TokenExpiresAt = c.ExpiresAt
		cred.LastRefreshedAt = c.LastRefreshedAt
	}
	return cred
}

func toAccountView(m *AccountModel) igauth.AccountView {
	view := igauth.AccountView{
		ExternalAccountID: m.IGUserID,
		Username:          m.IGUsername,
		AccountType:       m.AccountType,
		ConnectedAt:       m.ConnectedAt,
	}
	if c := m.Credential; hasCredential(c) {
		refreshed := c.LastRefreshedAt
		view.TokenType = c.TokenType
		view.Scopes = splitScopes(c.Scopes)
		view.TokenExpiresAt = c.ExpiresAt
		view.LastRefreshedAt = &refreshed
	}
	if fc := m.Cursor; fc != nil {
		view.MediaLastFetchedAt = fc.MediaLastFetchedAt
		view.StoriesLastFetchedAt = fc.StoriesLastFetchedAt
	}
	return view
}

func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
