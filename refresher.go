package igauth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultRefreshConcurrency bounds parallel provider calls in RefreshExpiring.
const DefaultRefreshConcurrency = 4

// Refresher extends stored tokens on explicit request.
type Refresher struct {
	provider    Provider
	store       CredentialStore
	logger      Logger
	metrics     *Metrics
	activity    ActivitySink
	now         func() time.Time
	concurrency int
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefresherLogger sets the logger.
func WithRefresherLogger(logger Logger) RefresherOption {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRefresherMetrics sets the metrics recorder.
func WithRefresherMetrics(m *Metrics) RefresherOption {
	return func(r *Refresher) {
		r.metrics = m
	}
}

// WithRefresherClock injects a custom clock (useful for tests).
func WithRefresherClock(clock func() time.Time) RefresherOption {
	return func(r *Refresher) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithRefresherActivitySink sets the ActivitySink used to publish refresh events.
func WithRefresherActivitySink(sink ActivitySink) RefresherOption {
	return func(r *Refresher) {
		r.activity = normalizeActivitySink(sink)
	}
}

// WithRefreshConcurrency sets the batch parallelism.
func WithRefreshConcurrency(n int) RefresherOption {
	return func(r *Refresher) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRefresher creates a Refresher.
func NewRefresher(provider Provider, store CredentialStore, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		provider:    provider,
		store:       store,
		logger:      defLogger{},
		activity:    noopActivitySink{},
		now:         time.Now,
		concurrency: DefaultRefreshConcurrency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RefreshResult reports a successful refresh.
type RefreshResult struct {
	ExternalAccountID string
	ExpiresIn         time.Duration
}

// Refresh trades the stored token for a fresh one and persists it. Any
// failure is returned; nothing is retried.
func (r *Refresher) Refresh(ctx context.Context, externalAccountID string) (*RefreshResult, error) {
	name := r.provider.Name()

	cred, found, err := r.store.Get(ctx, externalAccountID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrAccountNotFound
	}

	start := time.Now()
	token, err := r.provider.RefreshToken(ctx, cred.AccessToken)
	r.metrics.observeProvider(name, OpRefresh, time.Since(start).Seconds())
	if err == nil && (token == nil || token.AccessToken == "") {
		err = &ProviderError{Provider: name, Operation: OpRefresh, Code: "missing_access_token", Description: "missing access token"}
	}
	if err != nil {
		err = classifyProviderError(name, OpRefresh, err)
		r.fail(ctx, externalAccountID, err)
		return nil, err
	}

	if err := r.store.UpdateToken(ctx, externalAccountID, token.AccessToken, token.ExpiresIn); err != nil {
		if !errors.Is(err, ErrPersistence) && !errors.Is(err, ErrAccountNotFound) {
			err = &PersistenceError{Op: "update token", Err: err}
		}
		r.fail(ctx, externalAccountID, err)
		return nil, err
	}

	r.metrics.refresh(name, "success")
	r.logger.Info("token refreshed",
		"provider", name,
		"external_account_id", externalAccountID,
		"expires_in", Seconds(token.ExpiresIn),
	)
	recordActivity(ctx, r.activity, r.logger, r.now, ActivityEvent{
		EventType:         ActivityEventTokenRefreshed,
		Provider:          name,
		ExternalAccountID: externalAccountID,
		Metadata:          map[string]any{"expires_in": Seconds(token.ExpiresIn)},
	})

	return &RefreshResult{
		ExternalAccountID: externalAccountID,
		ExpiresIn:         token.ExpiresIn,
	}, nil
}

func (r *Refresher) fail(ctx context.Context, externalAccountID string, err error) {
	name := r.provider.Name()
	r.metrics.refresh(name, "error")
	r.logger.Error("token refresh failed", append(providerLogArgs(name, err), "external_account_id", externalAccountID)...)
	recordActivity(ctx, r.activity, r.logger, r.now, ActivityEvent{
		EventType:         ActivityEventTokenRefreshFailed,
		Provider:          name,
		ExternalAccountID: externalAccountID,
	})
}

// BatchReport summarizes RefreshExpiring.
type BatchReport struct {
	Refreshed []string
	Expired   []string
	Failed    map[string]error
}

// RefreshExpiring refreshes every account whose token expires within the
// window. Tokens already past expiry cannot be refreshed and are reported in
// Expired. Individual failures do not stop the batch.
func (r *Refresher) RefreshExpiring(ctx context.Context, within time.Duration) (*BatchReport, error) {
	accounts, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	deadline := now.Add(within)
	report := &BatchReport{Failed: map[string]error{}}

	var due []string
	for _, acc := range accounts {
		if acc.TokenExpiresAt == nil {
			continue
		}
		switch {
		case now.After(*acc.TokenExpiresAt):
			report.Expired = append(report.Expired, acc.ExternalAccountID)
		case acc.TokenExpiresAt.Before(deadline):
			due = append(due, acc.ExternalAccountID)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, id := range due {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := r.Refresh(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[id] = err
			} else {
				report.Refreshed = append(report.Refreshed, id)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	sort.Strings(report.Refreshed)
	sort.Strings(report.Expired)
	return report, nil
}
