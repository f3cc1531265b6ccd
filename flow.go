package igauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-igauth/tokencrypt"
)

// Flow drives the connect sequence: issue state, validate the callback,
// exchange the code, upgrade the token, fetch the profile and persist.
type Flow struct {
	provider Provider
	states   StateStore
	store    CredentialStore
	logger   Logger
	metrics  *Metrics
	activity ActivitySink
	hooks    []TransitionHook
	now      func() time.Time
	stateTTL time.Duration
	newState func() (string, error)
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithFlowLogger sets the logger.
func WithFlowLogger(logger Logger) FlowOption {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFlowMetrics sets the metrics recorder.
func WithFlowMetrics(m *Metrics) FlowOption {
	return func(f *Flow) {
		f.metrics = m
	}
}

// WithFlowClock injects a custom clock (useful for tests).
func WithFlowClock(clock func() time.Time) FlowOption {
	return func(f *Flow) {
		if clock != nil {
			f.now = clock
		}
	}
}

// WithStateTTL overrides DefaultStateTTL.
func WithStateTTL(ttl time.Duration) FlowOption {
	return func(f *Flow) {
		if ttl > 0 {
			f.stateTTL = ttl
		}
	}
}

// WithStateGenerator overrides tokencrypt.GenerateState.
func WithStateGenerator(gen func() (string, error)) FlowOption {
	return func(f *Flow) {
		if gen != nil {
			f.newState = gen
		}
	}
}

// WithFlowActivitySink sets the ActivitySink used to publish connect events.
func WithFlowActivitySink(sink ActivitySink) FlowOption {
	return func(f *Flow) {
		f.activity = normalizeActivitySink(sink)
	}
}

// WithTransitionHook adds an observer for flow transitions.
func WithTransitionHook(hook TransitionHook) FlowOption {
	return func(f *Flow) {
		if hook != nil {
			f.hooks = append(f.hooks, hook)
		}
	}
}

// NewFlow wires a provider, a state store and a credential store.
func NewFlow(provider Provider, states StateStore, store CredentialStore, opts ...FlowOption) *Flow {
	f := &Flow{
		provider: provider,
		states:   states,
		store:    store,
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
		stateTTL: DefaultStateTTL,
		newState: tokencrypt.GenerateState,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	return f
}

// Provider returns the configured provider.
func (f *Flow) Provider() Provider {
	return f.provider
}

// StateTTL returns how long an issued state stays valid.
func (f *Flow) StateTTL() time.Duration {
	return f.stateTTL
}

// LoginRedirect is the outcome of Begin.
type LoginRedirect struct {
	URL     string
	State   string
	Carrier string
	TTL     time.Duration
}

// Begin issues a fresh state and builds the provider consent URL. No provider
// network call is made.
func (f *Flow) Begin(ctx context.Context) (*LoginRedirect, error) {
	if f.provider == nil || f.states == nil {
		return nil, &ConfigError{Reason: "flow requires a provider and a state store"}
	}

	m := newFlowMachine(f.provider.Name(), FlowIdle, f.hooks)

	state, err := f.newState()
	if err != nil {
		m.fail(ctx, err)
		return nil, fmt.Errorf("generate state: %w", err)
	}

	authURL, err := f.provider.AuthorizationURL(state)
	if err != nil {
		m.fail(ctx, err)
		f.logger.Error("authorization url rejected", "provider", f.provider.Name(), "error", err)
		return nil, err
	}

	carrier, err := f.states.Issue(ctx, state, f.stateTTL)
	if err != nil {
		m.fail(ctx, err)
		return nil, fmt.Errorf("issue state: %w", err)
	}

	if err := m.to(ctx, FlowStateIssued); err != nil {
		return nil, err
	}

	return &LoginRedirect{
		URL:     authURL,
		State:   state,
		Carrier: carrier,
		TTL:     f.stateTTL,
	}, nil
}

// Callback carries the provider redirect parameters plus the client held
// state carrier.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorReason      string
	ErrorDescription string
	Carrier          string
}

// FlowResult describes a completed connect flow.
type FlowResult struct {
	Provider          string
	ExternalAccountID string
	Username          string
	TokenExpiresAt    *time.Time
	Upgraded          bool
	// Warnings holds ErrUpgradeDegraded and ErrProfileDegraded when those
	// steps failed without aborting the flow.
	Warnings []error
	States   []FlowState
}

// Complete processes a provider callback. The state slot is consumed before
// anything else so it cannot be replayed, whatever the outcome.
func (f *Flow) Complete(ctx context.Context, cb Callback) (*FlowResult, error) {
	if f.provider == nil || f.states == nil || f.store == nil {
		return nil, &ConfigError{Reason: "flow requires a provider, a state store and a credential store"}
	}

	name := f.provider.Name()
	m := newFlowMachine(name, FlowStateIssued, f.hooks)
	if err := m.to(ctx, FlowCallbackReceived); err != nil {
		return nil, err
	}

	stateErr := f.states.Consume(ctx, cb.Carrier, cb.State)

	if cb.Error != "" {
		reason := cb.Error
		if cb.ErrorDescription != "" {
			reason = cb.Error + ": " + cb.ErrorDescription
		}
		return nil, f.abort(ctx, m, withDetail(ErrProviderDenied, reason))
	}

	if cb.Code == "" || cb.State == "" {
		return nil, f.abort(ctx, m, ErrMissingCallbackParams)
	}

	if stateErr != nil {
		if !errors.Is(stateErr, ErrCSRF) {
			stateErr = fmt.Errorf("%w: %v", ErrCSRF, stateErr)
		}
		return nil, f.abort(ctx, m, stateErr)
	}

	start := time.Now()
	token, err := f.provider.ExchangeCode(ctx, cb.Code)
	f.metrics.observeProvider(name, OpExchange, time.Since(start).Seconds())
	if err == nil && (token == nil || token.AccessToken == "") {
		err = &ProviderError{Provider: name, Operation: OpExchange, Code: "missing_access_token", Description: "missing access token"}
	}
	if err != nil {
		return nil, f.abort(ctx, m, classifyProviderError(name, OpExchange, err))
	}
	if err := m.to(ctx, FlowCodeExchanged); err != nil {
		return nil, f.abort(ctx, m, err)
	}

	result := &FlowResult{Provider: name}

	accessToken := token.AccessToken
	tokenType := token.TokenType
	expiresIn := token.ExpiresIn
	externalID := token.ExternalUserID

	start = time.Now()
	upgraded, err := f.provider.UpgradeToken(ctx, accessToken)
	f.metrics.observeProvider(name, OpUpgrade, time.Since(start).Seconds())
	if err == nil && (upgraded == nil || upgraded.AccessToken == "") {
		err = &ProviderError{Provider: name, Operation: OpUpgrade, Code: "missing_access_token", Description: "missing access token"}
	}
	if err != nil {
		err = classifyProviderError(name, OpUpgrade, err)
		result.Warnings = append(result.Warnings, fmt.Errorf("%w: %w", ErrUpgradeDegraded, err))
		f.metrics.degraded(name, OpUpgrade)
		f.logger.Warn("long-lived upgrade failed, using short-lived token", providerLogArgs(name, err)...)
	} else {
		accessToken = upgraded.AccessToken
		expiresIn = upgraded.ExpiresIn
		if upgraded.TokenType != "" {
			tokenType = upgraded.TokenType
		}
		if externalID == "" {
			externalID = upgraded.ExternalUserID
		}
		result.Upgraded = true
		if err := m.to(ctx, FlowUpgraded); err != nil {
			return nil, f.abort(ctx, m, err)
		}
	}

	var username, accountType string

	start = time.Now()
	profile, err := f.provider.FetchProfile(ctx, accessToken)
	f.metrics.observeProvider(name, OpProfile, time.Since(start).Seconds())
	if err == nil && profile == nil {
		err = &ProviderError{Provider: name, Operation: OpProfile, Code: "empty_profile", Description: "empty profile"}
	}
	if err != nil {
		err = classifyProviderError(name, OpProfile, err)
		if externalID == "" {
			return nil, f.abort(ctx, m, fmt.Errorf("%w: %w", ErrIdentityMissing, err))
		}
		result.Warnings = append(result.Warnings, fmt.Errorf("%w: %w", ErrProfileDegraded, err))
		f.metrics.degraded(name, OpProfile)
		f.logger.Warn("profile fetch failed, using account id from token", providerLogArgs(name, err)...)
	} else {
		username = profile.Username
		accountType = profile.AccountType
		if externalID == "" {
			externalID = profile.ExternalID
		}
		if err := m.to(ctx, FlowProfileFetched); err != nil {
			return nil, f.abort(ctx, m, err)
		}
	}

	if externalID == "" {
		return nil, f.abort(ctx, m, ErrIdentityMissing)
	}

	if tokenType == "" {
		tokenType = DefaultTokenType
	}

	now := f.now()
	cred := &Credential{
		ExternalAccountID: externalID,
		Username:          username,
		AccountType:       accountType,
		AccessToken:       accessToken,
		TokenType:         tokenType,
		Scopes:            token.Scopes,
		ConnectedAt:       now,
		TokenExpiresAt:    ExpiresAt(now, expiresIn),
		LastRefreshedAt:   now,
	}

	if err := f.store.Save(ctx, cred); err != nil {
		if !errors.Is(err, ErrPersistence) {
			err = &PersistenceError{Op: "save", Err: err}
		}
		return nil, f.abort(ctx, m, err)
	}
	if err := m.to(ctx, FlowPersisted); err != nil {
		return nil, f.abort(ctx, m, err)
	}
	if err := m.to(ctx, FlowDone); err != nil {
		return nil, err
	}

	result.ExternalAccountID = externalID
	result.Username = username
	result.TokenExpiresAt = cred.TokenExpiresAt
	result.States = m.states()

	f.metrics.flow(name, "success")
	f.logger.Info("account connected",
		"provider", name,
		"external_account_id", externalID,
		"upgraded", result.Upgraded,
		"warnings", len(result.Warnings),
	)
	recordActivity(ctx, f.activity, f.logger, f.now, ActivityEvent{
		EventType:         ActivityEventAccountConnected,
		Provider:          name,
		ExternalAccountID: externalID,
		Metadata: map[string]any{
			"upgraded": result.Upgraded,
			"warnings": len(result.Warnings),
		},
	})

	return result, nil
}

func (f *Flow) abort(ctx context.Context, m *flowMachine, err error) error {
	m.fail(ctx, err)

	outcome := "error"
	switch {
	case errors.Is(err, ErrCSRF):
		outcome = "csrf"
	case errors.Is(err, ErrProviderDenied):
		outcome = "denied"
	case errors.Is(err, ErrExchangeFailed):
		outcome = "exchange_failed"
	case errors.Is(err, ErrIdentityMissing):
		outcome = "identity_missing"
	case errors.Is(err, ErrPersistence):
		outcome = "persistence_failed"
	}
	f.metrics.flow(m.provider, outcome)

	f.logger.Error("oauth callback failed", "provider", m.provider, "outcome", outcome, "error", err)
	recordActivity(ctx, f.activity, f.logger, f.now, ActivityEvent{
		EventType: ActivityEventConnectFailed,
		Provider:  m.provider,
		Metadata:  map[string]any{"outcome": outcome},
	})

	return err
}

// classifyProviderError ensures err matches the operation sentinel.
func classifyProviderError(provider, operation string, err error) error {
	var perr *ProviderError
	if errors.As(err, &perr) {
		if perr.Operation == "" {
			perr.Operation = operation
		}
		if perr.Provider == "" {
			perr.Provider = provider
		}
		return err
	}
	return &ProviderError{Provider: provider, Operation: operation, Err: err}
}

func providerLogArgs(provider string, err error) []any {
	args := []any{"provider", provider}
	var perr *ProviderError
	if errors.As(err, &perr) {
		args = append(args, "operation", perr.Operation)
		if perr.Status != 0 {
			args = append(args, "status", perr.Status)
		}
	}
	return append(args, "error", err)
}
