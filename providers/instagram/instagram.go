// Package instagram implements igauth.Provider for Instagram Login, where
// users authorize with their Instagram credentials and no Facebook page is
// involved. Two generations are supported: GenerationBasic requests only the
// account id from /me, GenerationBusiness also reads username and account
// type.
package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/goliatone/go-igauth"
	"github.com/goliatone/go-igauth/providers/internal/graphhttp"
)

// Generation selects the Instagram Login API generation.
type Generation string

const (
	GenerationBasic    Generation = "basic"
	GenerationBusiness Generation = "business"
)

const (
	// AuthorizationHost is the canonical consent host.
	AuthorizationHost = "api.instagram.com"

	defaultAuthURL  = "https://api.instagram.com/oauth/authorize"
	defaultTokenURL = "https://api.instagram.com/oauth/access_token"
	defaultGraphURL = "https://graph.instagram.com"
)

// Config holds Instagram Login configuration.
type Config struct {
	AppID       string
	AppSecret   string
	RedirectURI string
	Scopes      []string
	Generation  Generation

	AuthURL  string
	TokenURL string
	GraphURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the default Instagram Login scopes.
func DefaultScopes() []string {
	return []string{"instagram_business_basic"}
}

// Provider implements igauth.Provider for Instagram Login.
type Provider struct {
	config Config
	oauth  *oauth2.Config
	client *graphhttp.Client
	fields string
}

// New creates a new Instagram provider. An empty Generation means business.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.Generation == "" {
		cfg.Generation = GenerationBusiness
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = defaultGraphURL
	}
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")

	fields := "id,username,account_type"
	if cfg.Generation == GenerationBasic {
		fields = "id"
	}

	p := &Provider{
		config: cfg,
		oauth: &oauth2.Config{
			ClientID:    cfg.AppID,
			RedirectURL: cfg.RedirectURI,
			Scopes:      []string{strings.Join(cfg.Scopes, ",")},
			Endpoint:    oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL},
		},
		fields: fields,
	}
	p.client = graphhttp.New(p.Name(), cfg.HTTPClient)
	return p
}

// Name implements igauth.Provider.
func (p *Provider) Name() string {
	if p.config.Generation == GenerationBasic {
		return igauth.ProviderInstagram
	}
	return igauth.ProviderInstagramBusiness
}

// AuthorizationURL implements igauth.Provider.
func (p *Provider) AuthorizationURL(state string) (string, error) {
	authURL := p.oauth.AuthCodeURL(state)
	if err := igauth.ValidateAuthorizationURL(authURL, AuthorizationHost); err != nil {
		return "", err
	}
	return authURL, nil
}

// ExchangeCode implements igauth.Provider.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*igauth.TokenResponse, error) {
	res, err := p.client.PostForm(ctx, igauth.OpExchange, p.config.TokenURL, url.Values{
		"client_id":     {p.config.AppID},
		"client_secret": {p.config.AppSecret},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {p.config.RedirectURI},
		"code":          {code},
	})
	if err != nil {
		return nil, err
	}
	return graphhttp.ParseToken(res), nil
}

// UpgradeToken implements igauth.Provider.
func (p *Provider) UpgradeToken(ctx context.Context, shortLived string) (*igauth.TokenResponse, error) {
	res, err := p.client.Get(ctx, igauth.OpUpgrade, p.config.GraphURL+"/access_token", url.Values{
		"grant_type":    {"ig_exchange_token"},
		"client_secret": {p.config.AppSecret},
		"access_token":  {shortLived},
	})
	if err != nil {
		return nil, err
	}
	return graphhttp.ParseToken(res), nil
}

// RefreshToken implements igauth.Provider. Only unexpired long-lived tokens
// can be refreshed.
func (p *Provider) RefreshToken(ctx context.Context, current string) (*igauth.TokenResponse, error) {
	res, err := p.client.Get(ctx, igauth.OpRefresh, p.config.GraphURL+"/refresh_access_token", url.Values{
		"grant_type":   {"ig_refresh_token"},
		"access_token": {current},
	})
	if err != nil {
		return nil, err
	}
	return graphhttp.ParseToken(res), nil
}

// FetchProfile implements igauth.Provider.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (*igauth.Profile, error) {
	res, err := p.client.Get(ctx, igauth.OpProfile, p.config.GraphURL+"/me", url.Values{
		"fields":       {p.fields},
		"access_token": {accessToken},
	})
	if err != nil {
		return nil, err
	}

	if first := res.Get("data.0"); !res.Get("id").Exists() && first.Exists() {
		res = first
	}

	profile := &igauth.Profile{
		ExternalID:  graphhttp.Identifier(res.Get("id")),
		Username:    res.Get("username").String(),
		AccountType: res.Get("account_type").String(),
	}
	if profile.ExternalID == "" {
		profile.ExternalID = graphhttp.Identifier(res.Get("user_id"))
	}
	if profile.ExternalID == "" {
		return nil, &igauth.ProviderError{
			Provider:    p.Name(),
			Operation:   igauth.OpProfile,
			Code:        "missing_id",
			Description: fmt.Sprintf("profile response has no id (fields=%s)", p.fields),
		}
	}
	return profile, nil
}

// Endpoints implements igauth.Provider.
func (p *Provider) Endpoints(externalAccountID string) igauth.Endpoints {
	base := p.config.GraphURL + "/" + url.PathEscape(externalAccountID)
	return igauth.Endpoints{
		Media:   base + "/media",
		Stories: base + "/stories",
	}
}
