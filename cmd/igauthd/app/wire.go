package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-igauth"
	"github.com/goliatone/go-igauth/activitymap"
	"github.com/goliatone/go-igauth/providers/facebook"
	"github.com/goliatone/go-igauth/providers/instagram"
	"github.com/goliatone/go-igauth/repository"
	"github.com/goliatone/go-igauth/statestore"
	"github.com/goliatone/go-igauth/tokencrypt"
)

// runtime holds the collaborators shared by the subcommands.
type runtime struct {
	cfg      igauth.Config
	zap      *zap.Logger
	logger   *igauth.ZapLogger
	db       *bun.DB
	store    *repository.CredentialRepository
	registry *prometheus.Registry
	metrics  *igauth.Metrics
}

func loadConfig(cmd *cobra.Command) (igauth.Config, error) {
	files, err := cmd.Flags().GetStringSlice("env-file")
	if err != nil {
		return igauth.Config{}, err
	}
	return igauth.LoadConfig(files...)
}

// bootstrap loads and validates configuration, builds the logger and opens
// the migrated credential store.
func bootstrap(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	zl, err := igauth.BuildZap(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		zap:      zl,
		logger:   igauth.NewZapLogger(zl),
		registry: prometheus.NewRegistry(),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = igauth.NewMetrics(rt.registry)

	if err := rt.openStore(cmd.Context()); err != nil {
		_ = zl.Sync()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	key, err := rt.cfg.EncryptionKeyBytes()
	if err != nil {
		return err
	}
	cipher, err := tokencrypt.NewCipher(key)
	if err != nil {
		return &igauth.ConfigError{Field: "ENCRYPTION_KEY_BASE64", Reason: err.Error()}
	}

	db, err := repository.Open(ctx, rt.cfg.DatabaseDSN)
	if err != nil {
		return err
	}

	versions, err := repository.Migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return err
	}
	if len(versions) > 0 {
		rt.logger.Info("database migrated", "versions", versions)
	}

	rt.db = db
	rt.store = repository.NewCredentialRepository(db, cipher)
	return nil
}

func (rt *runtime) close() {
	if rt.db != nil {
		_ = rt.db.Close()
	}
	_ = rt.logger.Sync()
}

func (rt *runtime) provider() (igauth.Provider, error) {
	return newProvider(rt.cfg)
}

func newProvider(cfg igauth.Config) (igauth.Provider, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	switch cfg.Provider {
	case igauth.ProviderFacebook:
		return facebook.New(facebook.Config{
			AppID:        cfg.AppID,
			AppSecret:    cfg.AppSecret,
			RedirectURI:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			GraphVersion: cfg.GraphVersion,
			HTTPClient:   client,
		}), nil
	case igauth.ProviderInstagram, igauth.ProviderInstagramBusiness:
		generation := instagram.GenerationBusiness
		if cfg.Provider == igauth.ProviderInstagram {
			generation = instagram.GenerationBasic
		}
		return instagram.New(instagram.Config{
			AppID:       cfg.AppID,
			AppSecret:   cfg.AppSecret,
			RedirectURI: cfg.RedirectURI,
			Scopes:      cfg.Scopes,
			Generation:  generation,
			HTTPClient:  client,
		}), nil
	default:
		return nil, &igauth.ConfigError{Field: "IG_PROVIDER", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
}

// stateStore returns the configured state store and a release func.
func (rt *runtime) stateStore(ctx context.Context) (igauth.StateStore, func(), error) {
	switch rt.cfg.StateStore {
	case igauth.StateStoreRedis:
		store, err := statestore.NewRedis(ctx, rt.cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		key, err := rt.cfg.StateKeyBytes()
		if err != nil {
			return nil, nil, err
		}
		if rt.cfg.RedisURL == "" {
			store, err := statestore.NewSignedCookie(key)
			if err != nil {
				return nil, nil, err
			}
			return store, func() {}, nil
		}

		client, err := statestore.DialRedis(ctx, rt.cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store, err := statestore.NewSignedCookie(key,
			statestore.WithReplayGuard(statestore.NewRedisReplayGuard(client, "")),
		)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	}
}

// activitySink writes normalized lifecycle events to the structured log.
func (rt *runtime) activitySink() igauth.ActivitySink {
	return igauth.ActivitySinkFunc(func(_ context.Context, event igauth.ActivityEvent) error {
		record := activitymap.Normalize(event)
		rt.zap.Info("activity",
			zap.String("actor_id", record.ActorID),
			zap.String("verb", record.Verb),
			zap.String("object_type", record.ObjectType),
			zap.String("object_id", record.ObjectID),
			zap.String("channel", record.Channel),
			zap.Any("metadata", record.Metadata),
			zap.Time("occurred_at", record.OccurredAt),
		)
		return nil
	})
}
