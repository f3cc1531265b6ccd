// Package graphhttp performs the Graph API round trips shared by the
// provider variants and normalizes their responses and errors.
package graphhttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/goliatone/go-igauth"
)

// DefaultTimeout applies when no HTTP client is supplied.
const DefaultTimeout = 10 * time.Second

const maxBody = 1 << 20

// Client issues provider requests.
type Client struct {
	provider string
	http     *http.Client
}

// New returns a Client. A nil httpClient gets DefaultTimeout.
func New(provider string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{provider: provider, http: httpClient}
}

// Get calls endpoint with params in the query string.
func (c *Client) Get(ctx context.Context, operation, endpoint string, params url.Values) (gjson.Result, error) {
	target := endpoint
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		target = endpoint + sep + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return gjson.Result{}, c.providerError(operation, 0, "invalid_request", "failed to build request", stripURL(err))
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, operation)
}

// PostForm posts form url-encoded to endpoint.
func (c *Client) PostForm(ctx context.Context, operation, endpoint string, form url.Values) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return gjson.Result{}, c.providerError(operation, 0, "invalid_request", "failed to build request", stripURL(err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	return c.do(req, operation)
}

func (c *Client) do(req *http.Request, operation string) (gjson.Result, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, c.providerError(operation, 0, "transport_error", "", stripURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return gjson.Result{}, c.providerError(operation, resp.StatusCode, "read_error", "failed to read response", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	if !gjson.ValidBytes(body) {
		if !ok {
			return gjson.Result{}, c.providerError(operation, resp.StatusCode, "http_error", http.StatusText(resp.StatusCode), nil)
		}
		return gjson.Result{}, c.providerError(operation, resp.StatusCode, "invalid_response", "failed to decode response", nil)
	}

	result := gjson.ParseBytes(body)
	if !ok || hasError(result) {
		code, desc := errorDetails(result)
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return gjson.Result{}, c.providerError(operation, resp.StatusCode, code, desc, nil)
	}

	return result, nil
}

func (c *Client) providerError(operation string, status int, code, desc string, err error) error {
	return &igauth.ProviderError{
		Provider:    c.provider,
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: desc,
		Err:         err,
	}
}

// ParseToken reads a token payload, unwrapping a {"data":[{...}]} envelope.
func ParseToken(res gjson.Result) *igauth.TokenResponse {
	if !res.Get("access_token").Exists() {
		if first := res.Get("data.0"); first.Exists() {
			res = first
		}
	}

	token := &igauth.TokenResponse{
		AccessToken:    res.Get("access_token").String(),
		TokenType:      res.Get("token_type").String(),
		ExternalUserID: Identifier(res.Get("user_id")),
		Scopes:         scopes(res.Get("permissions")),
	}
	if secs := res.Get("expires_in").Int(); secs > 0 {
		token.ExpiresIn = time.Duration(secs) * time.Second
	}
	return token
}

// Identifier renders an id exactly, whether the JSON carries it as a string
// or as a number too large for float64.
func Identifier(v gjson.Result) string {
	switch v.Type {
	case gjson.Number:
		return v.Raw
	case gjson.String:
		return v.String()
	default:
		return ""
	}
}

func scopes(v gjson.Result) []string {
	if !v.Exists() {
		return nil
	}

	var raw []string
	if v.IsArray() {
		for _, item := range v.Array() {
			raw = append(raw, item.String())
		}
	} else {
		raw = strings.Split(v.String(), ",")
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func hasError(res gjson.Result) bool {
	if e := res.Get("error"); e.Exists() && e.Type != gjson.Null {
		return true
	}
	return res.Get("error_type").Exists()
}

// errorDetails reads Graph ({"error":{...}}) and OAuth style error payloads.
func errorDetails(res gjson.Result) (code, desc string) {
	if e := res.Get("error"); e.IsObject() {
		code = e.Get("type").String()
		if c := e.Get("code"); c.Exists() && code == "" {
			code = c.String()
		}
		return code, e.Get("message").String()
	}

	code = firstString(res, "error_type", "error", "code")
	desc = firstString(res, "error_message", "error_description", "message")
	return code, desc
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// stripURL drops the request URL from transport errors; Graph requests carry
// access tokens in the query string.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
