package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-igauth"
	"github.com/goliatone/go-igauth/tokencrypt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	versions, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, versions)

	return db
}

func newCipher(t *testing.T) *tokencrypt.Cipher {
	t.Helper()
	key, err := tokencrypt.GenerateKey()
	require.NoError(t, err)
	c, err := tokencrypt.NewCipherFromBase64(key)
	require.NoError(t, err)
	return c
}

func setupRepo(t *testing.T) (*CredentialRepository, *bun.DB, *testClock) {
	t.Helper()
	db := setupDB(t)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewCredentialRepository(db, newCipher(t), WithClock(clock.Now)), db, clock
}

func newCredential(id, token string, now time.Time, expiresIn time.Duration) *igauth.Credential {
	return &igauth.Credential{
		ExternalAccountID: id,
		Username:          "creator",
		AccountType:       "BUSINESS",
		AccessToken:       token,
		TokenType:         "bearer",
		Scopes:            []string{"instagram_business_basic"},
		ConnectedAt:       now,
		LastRefreshedAt:   now,
		TokenExpiresAt:    igauth.ExpiresAt(now, expiresIn),
	}
}

func countRows(t *testing.T, db *bun.DB, table string) int {
	t.Helper()
	count, err := db.NewSelect().Table(table).Count(context.Background())
	require.NoError(t, err)
	return count
}

func TestCredentialRepositorySaveAndGet(t *testing.T) {
	repo, db, clock := setupRepo(t)
	ctx := context.Background()
	now := clock.Now()

	require.NoError(t, repo.Save(ctx, newCredential("17841400000000001", "plain-token", now, time.Hour)))

	var stored CredentialModel
	require.NoError(t, db.NewSelect().Model(&stored).Limit(1).Scan(ctx))
	assert.NotContains(t, stored.EncryptedAccessToken, "plain-token")

	cred, found, err := repo.Get(ctx, "17841400000000001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "plain-token", cred.AccessToken)
	assert.Equal(t, "creator", cred.Username)
	assert.Equal(t, "BUSINESS", cred.AccountType)
	assert.Equal(t, "bearer", cred.TokenType)
	assert.Equal(t, []string{"instagram_business_basic"}, cred.Scopes)
	require.NotNil(t, cred.TokenExpiresAt)
	assert.True(t, cred.TokenExpiresAt.Equal(now.Add(time.Hour)))
	assert.True(t, cred.ConnectedAt.Equal(now))
	assert.Equal(t, time.Hour, cred.ExpiresIn)

	_, found, err = repo.Get(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCredentialRepositoryExpiryArithmetic(t *testing.T) {
	repo, _, clock := setupRepo(t)
	ctx := context.Background()
	start := clock.Now()
	lifetime := 5184000 * time.Second

	require.NoError(t, repo.Save(ctx, newCredential("42", "tok", start, lifetime)))

	clock.Set(start.Add(lifetime).Add(-1500 * time.Millisecond))
	cred, _, err := repo.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, time.Second, cred.ExpiresIn)
	assert.False(t, cred.Expired(clock.Now()))

	clock.Set(start.Add(lifetime).Add(5 * time.Second))
	cred, _, err = repo.Get(ctx, "42")
	require.NoError(t, err)
	assert.Zero(t, cred.ExpiresIn)
	assert.True(t, cred.Expired(clock.Now()))
}

func TestCredentialRepositoryNullExpiry(t *testing.T) {
	repo, _, clock := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newCredential("42", "tok", clock.Now(), 0)))

	clock.Set(clock.Now().Add(10 * 365 * 24 * time.Hour))
	cred, _, err := repo.Get(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, cred.TokenExpiresAt)
	assert.Zero(t, cred.ExpiresIn)
	assert.False(t, cred.Expired(clock.Now()))
}

func TestCredentialRepositorySaveIsIdempotentAndKeepsUsername(t *testing.T) {
	repo, db, clock := setupRepo(t)
	ctx := context.Background()
	now := clock.Now()

	require.NoError(t, repo.Save(ctx, newCredential("42", "first", now, time.Hour)))

	require.NoError(t, repo.MarkFetched(ctx, "42", FetchMedia, now.Add(time.Minute)))

	later := now.Add(time.Hour)
	second := newCredential("42", "second", later, 2*time.Hour)
	second.Username = ""
	second.AccountType = ""
	require.NoError(t, repo.Save(ctx, second))

	assert.Equal(t, 1, countRows(t, db, "instagram_accounts"))
	assert.Equal(t, 1, countRows(t, db, "instagram_credentials"))
	assert.Equal(t, 1, countRows(t, db, "instagram_fetch_cursors"))

	cred, _, err := repo.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "second", cred.AccessToken)
	assert.Equal(t, "creator", cred.Username)
	assert.Equal(t, "BUSINESS", cred.AccountType)
	assert.True(t, cred.ConnectedAt.Equal(later))

	views, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].MediaLastFetchedAt)
	assert.True(t, views[0].MediaLastFetchedAt.Equal(now.Add(time.Minute)), "re-connect must not reset fetch cursors")
	assert.Nil(t, views[0].StoriesLastFetchedAt)
}

func TestCredentialRepositoryConcurrentSave(t *testing.T) {
	repo, db, clock := setupRepo(t)
	ctx := context.Background()
	now := clock.Now()

	const writers = 8
	tokens := make(map[string]bool, writers)
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		token := fmt.Sprintf("token-%d", i)
		tokens[token] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Save(ctx, newCredential("42", token, now, time.Hour))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, countRows(t, db, "instagram_accounts"))
	assert.Equal(t, 1, countRows(t, db, "instagram_credentials"))

	cred, found, err := repo.Get(ctx, "42")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, tokens[cred.AccessToken])
}

func TestCredentialRepositoryUpdateToken(t *testing.T) {
	repo, _, clock := setupRepo(t)
	ctx := context.Background()
	start := clock.Now()

	require.NoError(t, repo.Save(ctx, newCredential("42", "old", start, time.Hour)))

	clock.Set(start.Add(30 * time.Minute))
	require.NoError(t, repo.UpdateToken(ctx, "42", "new", 60*24*time.Hour))

	cred, _, err := repo.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "new", cred.AccessToken)
	assert.True(t, cred.LastRefreshedAt.Equal(clock.Now()))
	require.NotNil(t, cred.TokenExpiresAt)
	assert.True(t, cred.TokenExpiresAt.Equal(clock.Now().Add(60*24*time.Hour)))
	assert.True(t, cred.ConnectedAt.Equal(start))

	err = repo.UpdateToken(ctx, "missing", "new", time.Hour)
	assert.ErrorIs(t, err, igauth.ErrAccountNotFound)
}

func TestCredentialRepositoryListOrderAndNoTokens(t *testing.T) {
	repo, _, clock := setupRepo(t)
	ctx := context.Background()
	now := clock.Now()

	require.NoError(t, repo.Save(ctx, newCredential("older", "t1", now, time.Hour)))
	require.NoError(t, repo.Save(ctx, newCredential("newer", "t2", now.Add(time.Minute), time.Hour)))

	views, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "newer", views[0].ExternalAccountID)
	assert.Equal(t, "older", views[1].ExternalAccountID)
	assert.Equal(t, "bearer", views[0].TokenType)
	require.NotNil(t, views[0].LastRefreshedAt)
	assert.True(t, views[0].LastRefreshedAt.Equal(now.Add(time.Minute)))
}

func TestCredentialRepositoryListEmpty(t *testing.T) {
	repo, _, _ := setupRepo(t)

	views, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestCredentialRepositoryDelete(t *testing.T) {
	repo, db, clock := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newCredential("42", "tok", clock.Now(), time.Hour)))
	require.NoError(t, repo.Delete(ctx, "42"))

	assert.Zero(t, countRows(t, db, "instagram_accounts"))
	assert.Zero(t, countRows(t, db, "instagram_credentials"))
	assert.Zero(t, countRows(t, db, "instagram_fetch_cursors"))

	assert.ErrorIs(t, repo.Delete(ctx, "42"), igauth.ErrAccountNotFound)
}

func TestCredentialRepositoryCascade(t *testing.T) {
	repo, db, clock := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newCredential("42", "tok", clock.Now(), time.Hour)))

	_, err := db.NewDelete().Model((*AccountModel)(nil)).Where("ig_user_id = ?", "42").Exec(ctx)
	require.NoError(t, err)

	assert.Zero(t, countRows(t, db, "instagram_credentials"))
	assert.Zero(t, countRows(t, db, "instagram_fetch_cursors"))
}

func TestCredentialRepositoryWrongKey(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	now := time.Now()

	writer := NewCredentialRepository(db, newCipher(t))
	require.NoError(t, writer.Save(ctx, newCredential("42", "secret-access-value", now, time.Hour)))

	reader := NewCredentialRepository(db, newCipher(t))
	_, _, err := reader.Get(ctx, "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, igauth.ErrDecryption)
	assert.NotContains(t, err.Error(), "secret-access-value")
}

func TestCredentialRepositoryMarkFetchedUnknownKind(t *testing.T) {
	repo, _, clock := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newCredential("42", "tok", clock.Now(), time.Hour)))
	assert.Error(t, repo.MarkFetched(ctx, "42", FetchKind("reels"), clock.Now()))
	assert.ErrorIs(t, repo.MarkFetched(ctx, "missing", FetchStories, clock.Now()), igauth.ErrAccountNotFound)
}

func TestCredentialRepositoryPing(t *testing.T) {
	repo, _, _ := setupRepo(t)
	assert.NoError(t, repo.Ping(context.Background()))
}
