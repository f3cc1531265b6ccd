package igauth

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"

	"github.com/goliatone/go-igauth/tokencrypt"
)

// Provider variants.
const (
	ProviderFacebook          = "facebook"
	ProviderInstagram         = "instagram"
	ProviderInstagramBusiness = "instagram_business"
)

// State store backends.
const (
	StateStoreCookie = "cookie"
	StateStoreRedis  = "redis"
)

const stateKeyInfo = "igauth oauth state v1"

// Config is the process configuration. It is parsed once at startup and
// passed to constructors; nothing else reads the environment.
type Config struct {
	Provider     string   `env:"IG_PROVIDER" envDefault:"instagram_business" json:"IG_PROVIDER"`
	AppID        string   `env:"IG_APP_ID" json:"IG_APP_ID"`
	AppSecret    string   `env:"IG_APP_SECRET" json:"IG_APP_SECRET"`
	RedirectURI  string   `env:"IG_REDIRECT_URI" json:"IG_REDIRECT_URI"`
	Scopes       []string `env:"IG_SCOPES" envSeparator:"," json:"IG_SCOPES"`
	GraphVersion string   `env:"IG_GRAPH_VERSION" envDefault:"v18.0" json:"IG_GRAPH_VERSION"`

	EncryptionKey   string        `env:"ENCRYPTION_KEY_BASE64" json:"ENCRYPTION_KEY_BASE64"`
	StateSigningKey string        `env:"STATE_SIGNING_KEY_BASE64" json:"STATE_SIGNING_KEY_BASE64"`
	StateStore      string        `env:"STATE_STORE" envDefault:"cookie" json:"STATE_STORE"`
	StateTTL        time.Duration `env:"STATE_TTL" envDefault:"10m" json:"STATE_TTL"`
	RedisURL        string        `env:"REDIS_URL" json:"REDIS_URL"`

	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"file:igauth.db?cache=shared" json:"DATABASE_DSN"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":3000" json:"HTTP_ADDR"`
	CookieSecure bool          `env:"COOKIE_SECURE" envDefault:"true" json:"COOKIE_SECURE"`
	SuccessPath  string        `env:"SUCCESS_PATH" envDefault:"/connected" json:"SUCCESS_PATH"`
	ErrorPath    string        `env:"ERROR_PATH" envDefault:"/connect" json:"ERROR_PATH"`
	APIKey       string        `env:"API_KEY" json:"API_KEY"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s" json:"HTTP_TIMEOUT"`

	RefreshConcurrency int `env:"REFRESH_CONCURRENCY" envDefault:"4" json:"REFRESH_CONCURRENCY"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" json:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json" json:"LOG_FORMAT"`
}

// LoadConfig parses the environment. Values from dotenv files fill in
// variables the process environment does not set. Missing files are skipped.
func LoadConfig(dotenvFiles ...string) (Config, error) {
	environ := map[string]string{}
	for _, file := range dotenvFiles {
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, &ConfigError{Field: file, Reason: fmt.Sprintf("unreadable dotenv file: %v", err)}
		}
		for k, v := range values {
			if _, ok := environ[k]; !ok {
				environ[k] = v
			}
		}
	}
	for k, v := range env.ToMap(os.Environ()) {
		environ[k] = v
	}

	return ParseConfig(environ)
}

// ParseConfig parses cfg from an explicit variable map.
func ParseConfig(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, &ConfigError{Reason: err.Error()}
	}
	cfg.Scopes = compactScopes(cfg.Scopes)
	return cfg, nil
}

// Validate checks the configuration. The first failure is returned as a
// *ConfigError naming the variable.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Provider,
			validation.Required,
			validation.In(ProviderFacebook, ProviderInstagram, ProviderInstagramBusiness),
		),
		validation.Field(&c.AppID, validation.Required),
		validation.Field(&c.AppSecret, validation.Required),
		validation.Field(&c.RedirectURI, validation.Required, is.URL),
		validation.Field(&c.EncryptionKey, validation.Required, validation.By(keyRule)),
		validation.Field(&c.StateSigningKey, validation.By(keyRule)),
		validation.Field(&c.StateStore, validation.Required, validation.In(StateStoreCookie, StateStoreRedis)),
		validation.Field(&c.DatabaseDSN, validation.Required),
		validation.Field(&c.HTTPAddr, validation.Required),
	)
	if err != nil {
		return toConfigError(err)
	}

	if c.StateStore == StateStoreRedis && strings.TrimSpace(c.RedisURL) == "" {
		return &ConfigError{Field: "REDIS_URL", Reason: "is required when STATE_STORE=redis"}
	}
	if c.StateTTL <= 0 {
		return &ConfigError{Field: "STATE_TTL", Reason: "must be positive"}
	}
	if c.HTTPTimeout <= 0 {
		return &ConfigError{Field: "HTTP_TIMEOUT", Reason: "must be positive"}
	}
	return nil
}

// EncryptionKeyBytes decodes ENCRYPTION_KEY_BASE64.
func (c Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := tokencrypt.ParseKey(c.EncryptionKey)
	if err != nil {
		return nil, &ConfigError{Field: "ENCRYPTION_KEY_BASE64", Reason: err.Error()}
	}
	return key, nil
}

// StateKeyBytes decodes STATE_SIGNING_KEY_BASE64, or derives a key from the
// encryption key when it is unset.
func (c Config) StateKeyBytes() ([]byte, error) {
	if strings.TrimSpace(c.StateSigningKey) != "" {
		key, err := tokencrypt.ParseKey(c.StateSigningKey)
		if err != nil {
			return nil, &ConfigError{Field: "STATE_SIGNING_KEY_BASE64", Reason: err.Error()}
		}
		return key, nil
	}

	master, err := c.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	return tokencrypt.DeriveKey(master, stateKeyInfo)
}

// EnvStatus describes one variable for diagnostics. Secret values are never
// included.
type EnvStatus struct {
	Name   string
	Set    bool
	Secret bool
	Value  string
}

// Describe reports which variables are set. Secrets show only presence.
func (c Config) Describe() []EnvStatus {
	return []EnvStatus{
		plain("IG_PROVIDER", c.Provider),
		secret("IG_APP_ID", c.AppID),
		secret("IG_APP_SECRET", c.AppSecret),
		plain("IG_REDIRECT_URI", c.RedirectURI),
		plain("IG_SCOPES", strings.Join(c.Scopes, ",")),
		secret("ENCRYPTION_KEY_BASE64", c.EncryptionKey),
		secret("STATE_SIGNING_KEY_BASE64", c.StateSigningKey),
		plain("STATE_STORE", c.StateStore),
		secret("REDIS_URL", c.RedisURL),
		plain("DATABASE_DSN", c.DatabaseDSN),
		plain("HTTP_ADDR", c.HTTPAddr),
		secret("API_KEY", c.APIKey),
	}
}

func plain(name, value string) EnvStatus {
	return EnvStatus{Name: name, Set: value != "", Value: value}
}

func secret(name, value string) EnvStatus {
	return EnvStatus{Name: name, Set: value != "", Secret: true}
}

func keyRule(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := tokencrypt.ParseKey(s); err != nil {
		return errors.New("must be base64 encoding of exactly 32 bytes")
	}
	return nil
}

func toConfigError(err error) error {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return &ConfigError{Reason: err.Error()}
	}

	fields := make([]string, 0, len(verrs))
	for field := range verrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	field := fields[0]
	return &ConfigError{Field: field, Reason: verrs[field].Error()}
}

func compactScopes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
