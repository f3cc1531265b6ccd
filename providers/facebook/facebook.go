// Package facebook implements igauth.Provider for Instagram professional
// accounts connected through Facebook Login and the Facebook Graph API.
package facebook

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/goliatone/go-igauth"
	"github.com/goliatone/go-igauth/providers/internal/graphhttp"
)

// Name is the provider identifier.
const Name = "facebook"

const (
	// AuthorizationHost is the canonical consent host.
	AuthorizationHost = "www.facebook.com"

	defaultGraphVersion = "v18.0"
	defaultGraphHost    = "https://graph.facebook.com"
)

// Config holds Facebook OAuth configuration.
type Config struct {
	AppID        string
	AppSecret    string
	RedirectURI  string
	Scopes       []string
	GraphVersion string

	// AuthURL defaults to https://www.facebook.com/{version}/dialog/oauth.
	AuthURL string
	// GraphURL defaults to https://graph.facebook.com/{version}.
	GraphURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the scopes needed to read a business account's media.
func DefaultScopes() []string {
	return []string{"instagram_basic", "pages_show_list", "pages_read_engagement"}
}

// Provider implements igauth.Provider for Facebook Login.
type Provider struct {
	config Config
	oauth  *oauth2.Config
	client *graphhttp.Client
}

// New creates a new Facebook provider.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.GraphVersion == "" {
		cfg.GraphVersion = defaultGraphVersion
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://" + AuthorizationHost + "/" + cfg.GraphVersion + "/dialog/oauth"
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = defaultGraphHost + "/" + cfg.GraphVersion
	}
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")

	return &Provider{
		config: cfg,
		oauth: &oauth2.Config{
			ClientID:    cfg.AppID,
			RedirectURL: cfg.RedirectURI,
			// Meta expects a comma separated scope list.
			Scopes:   []string{strings.Join(cfg.Scopes, ",")},
			Endpoint: oauth2.Endpoint{AuthURL: cfg.AuthURL},
		},
		client: graphhttp.New(Name, cfg.HTTPClient),
	}
}

// Name implements igauth.Provider.
func (p *Provider) Name() string {
	return Name
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
	res, err := p.client.Get(ctx, igauth.OpExchange, p.config.GraphURL+"/oauth/access_token", url.Values{
		"client_id":     {p.config.AppID},
		"client_secret": {p.config.AppSecret},
		"code":          {code},
		"redirect_uri":  {p.config.RedirectURI},
	})
	if err != nil {
		return nil, err
	}
	return graphhttp.ParseToken(res), nil
}

// UpgradeToken implements igauth.Provider.
func (p *Provider) UpgradeToken(ctx context.Context, shortLived string) (*igauth.TokenResponse, error) {
	return p.exchangeToken(ctx, igauth.OpUpgrade, shortLived)
}

// RefreshToken implements igauth.Provider. Facebook extends a long-lived
// token through the same fb_exchange_token grant.
func (p *Provider) RefreshToken(ctx context.Context, current string) (*igauth.TokenResponse, error) {
	return p.exchangeToken(ctx, igauth.OpRefresh, current)
}

func (p *Provider) exchangeToken(ctx context.Context, operation, token string) (*igauth.TokenResponse, error) {
	res, err := p.client.Get(ctx, operation, p.config.GraphURL+"/oauth/access_token", url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {p.config.AppID},
		"client_secret":     {p.config.AppSecret},
		"fb_exchange_token": {token},
	})
	if err != nil {
		return nil, err
	}
	return graphhttp.ParseToken(res), nil
}

// FetchProfile implements igauth.Provider. It resolves the Instagram business
// account linked to one of the user's pages. When the account details call
// fails the account id alone is returned.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (*igauth.Profile, error) {
	pages, err := p.client.Get(ctx, igauth.OpProfile, p.config.GraphURL+"/me/accounts", url.Values{
		"fields":       {"instagram_business_account,id,name"},
		"access_token": {accessToken},
	})
	if err != nil {
		return nil, err
	}

	var igID string
	for _, page := range pages.Get("data").Array() {
		if id := graphhttp.Identifier(page.Get("instagram_business_account.id")); id != "" {
			igID = id
			break
		}
	}
	if igID == "" {
		return nil, &igauth.ProviderError{
			Provider:    Name,
			Operation:   igauth.OpProfile,
			Code:        "no_business_account",
			Description: "No Instagram Business Account found",
		}
	}

	res, err := p.client.Get(ctx, igauth.OpProfile, p.config.GraphURL+"/"+url.PathEscape(igID), url.Values{
		"fields":       {"id,username,name,account_type"},
		"access_token": {accessToken},
	})
	if err != nil {
		return &igauth.Profile{ExternalID: igID}, nil
	}

	profile := &igauth.Profile{
		ExternalID:  graphhttp.Identifier(res.Get("id")),
		Username:    res.Get("username").String(),
		Name:        res.Get("name").String(),
		AccountType: res.Get("account_type").String(),
	}
	if profile.ExternalID == "" {
		profile.ExternalID = igID
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
