package igauth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// stubProvider returns canned responses and records the tokens it received.
type stubProvider struct {
	mu sync.Mutex

	name     string
	authURL  string
	authErr  error
	exchange func(code string) (*TokenResponse, error)
	upgrade  func(token string) (*TokenResponse, error)
	refresh  func(token string) (*TokenResponse, error)
	profile  func(token string) (*Profile, error)

	calls []string
}

func (p *stubProvider) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *stubProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *stubProvider) Name() string {
	if p.name == "" {
		return "stub"
	}
	return p.name
}

func (p *stubProvider) AuthorizationURL(state string) (string, error) {
	if p.authErr != nil {
		return "", p.authErr
	}
	base := p.authURL
	if base == "" {
		base = "https://auth.example/authorize"
	}
	return base + "?state=" + state, nil
}

func (p *stubProvider) ExchangeCode(_ context.Context, code string) (*TokenResponse, error) {
	p.record("exchange:" + code)
	if p.exchange == nil {
		return &TokenResponse{AccessToken: "short-token", ExternalUserID: "17841400000000001", ExpiresIn: time.Hour}, nil
	}
	return p.exchange(code)
}

func (p *stubProvider) UpgradeToken(_ context.Context, token string) (*TokenResponse, error) {
	p.record("upgrade:" + token)
	if p.upgrade == nil {
		return &TokenResponse{AccessToken: "long-token", TokenType: "bearer", ExpiresIn: 60 * 24 * time.Hour}, nil
	}
	return p.upgrade(token)
}

func (p *stubProvider) RefreshToken(_ context.Context, token string) (*TokenResponse, error) {
	p.record("refresh:" + token)
	if p.refresh == nil {
		return &TokenResponse{AccessToken: "refreshed-" + token, ExpiresIn: 60 * 24 * time.Hour}, nil
	}
	return p.refresh(token)
}

func (p *stubProvider) FetchProfile(_ context.Context, token string) (*Profile, error) {
	p.record("profile:" + token)
	if p.profile == nil {
		return &Profile{ExternalID: "17841400000000001", Username: "creator", AccountType: "BUSINESS"}, nil
	}
	return p.profile(token)
}

func (p *stubProvider) Endpoints(id string) Endpoints {
	return Endpoints{
		Media:   "https://graph.example/" + id + "/media",
		Stories: "https://graph.example/" + id + "/stories",
	}
}

// memoryStates is a single-use state store keyed by carrier.
type memoryStates struct {
	mu       sync.Mutex
	slots    map[string]string
	consumed []string
	issueErr error
}

func newMemoryStates() *memoryStates {
	return &memoryStates{slots: map[string]string{}}
}

func (s *memoryStates) Issue(_ context.Context, state string, _ time.Duration) (string, error) {
	if s.issueErr != nil {
		return "", s.issueErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	carrier := "carrier-" + state
	s.slots[carrier] = state
	return carrier, nil
}

func (s *memoryStates) Consume(_ context.Context, carrier, presented string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumed = append(s.consumed, carrier)
	if carrier == "" {
		return ErrStateMissing
	}
	stored, ok := s.slots[carrier]
	delete(s.slots, carrier)
	if !ok {
		return ErrStateMissing
	}
	if stored != presented {
		return ErrStateMismatch
	}
	return nil
}

func (s *memoryStates) Consumed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.consumed...)
}

// memoryStore keeps credentials in a map and derives ExpiresIn on read.
type memoryStore struct {
	mu    sync.Mutex
	creds map[string]Credential
	now   func() time.Time
}

func newMemoryStore(now func() time.Time) *memoryStore {
	if now == nil {
		now = time.Now
	}
	return &memoryStore{creds: map[string]Credential{}, now: now}
}

func (s *memoryStore) Save(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *cred
	if prev, ok := s.creds[cred.ExternalAccountID]; ok && stored.Username == "" {
		stored.Username = prev.Username
	}
	s.creds[cred.ExternalAccountID] = stored
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[id]
	if !ok {
		return nil, false, nil
	}
	cred.ExpiresIn = RemainingLifetime(cred.TokenExpiresAt, s.now())
	return &cred, true, nil
}

func (s *memoryStore) UpdateToken(_ context.Context, id, token string, expiresIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[id]
	if !ok {
		return ErrAccountNotFound
	}
	now := s.now()
	cred.AccessToken = token
	cred.TokenExpiresAt = ExpiresAt(now, expiresIn)
	cred.LastRefreshedAt = now
	s.creds[id] = cred
	return nil
}

func (s *memoryStore) List(_ context.Context) ([]AccountView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := make([]AccountView, 0, len(s.creds))
	for _, cred := range s.creds {
		refreshed := cred.LastRefreshedAt
		views = append(views, AccountView{
			ExternalAccountID: cred.ExternalAccountID,
			Username:          cred.Username,
			AccountType:       cred.AccountType,
			TokenType:         cred.TokenType,
			Scopes:            cred.Scopes,
			ConnectedAt:       cred.ConnectedAt,
			TokenExpiresAt:    cred.TokenExpiresAt,
			LastRefreshedAt:   &refreshed,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].ConnectedAt.After(views[j].ConnectedAt)
	})
	return views, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[id]; !ok {
		return ErrAccountNotFound
	}
	delete(s.creds, id)
	return nil
}

func (s *memoryStore) Stored(id string) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[id]
	return cred, ok
}

// MockCredentialStore implements CredentialStore with testify mock.
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) Save(ctx context.Context, cred *Credential) error {
	args := m.Called(ctx, cred)
	return args.Error(0)
}

func (m *MockCredentialStore) Get(ctx context.Context, id string) (*Credential, bool, error) {
	args := m.Called(ctx, id)
	cred, _ := args.Get(0).(*Credential)
	return cred, args.Bool(1), args.Error(2)
}

func (m *MockCredentialStore) UpdateToken(ctx context.Context, id, token string, expiresIn time.Duration) error {
	args := m.Called(ctx, id, token, expiresIn)
	return args.Error(0)
}

func (m *MockCredentialStore) List(ctx context.Context) ([]AccountView, error) {
	args := m.Called(ctx)
	views, _ := args.Get(0).([]AccountView)
	return views, args.Error(1)
}

func (m *MockCredentialStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// recordingSink collects activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
