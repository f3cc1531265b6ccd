package graphhttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/goliatone/go-igauth"
)

func TestParseTokenKeepsLargeUserID(t *testing.T) {
	res := gjson.Parse(`{"access_token":"tok","user_id":17841400000000001,"expires_in":3600,"permissions":"a, b,,c"}`)

	token := ParseToken(res)
	assert.Equal(t, "tok", token.AccessToken)
	assert.Equal(t, "17841400000000001", token.ExternalUserID)
	assert.Equal(t, time.Hour, token.ExpiresIn)
	assert.Equal(t, []string{"a", "b", "c"}, token.Scopes)
}

func TestParseTokenUnwrapsDataEnvelope(t *testing.T) {
	res := gjson.Parse(`{"data":[{"access_token":"tok","user_id":"123","permissions":["x","y"]}]}`)

	token := ParseToken(res)
	assert.Equal(t, "tok", token.AccessToken)
	assert.Equal(t, "123", token.ExternalUserID)
	assert.Equal(t, []string{"x", "y"}, token.Scopes)
	assert.Zero(t, token.ExpiresIn)
}

func TestGetReportsGraphError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`))
	}))
	defer server.Close()

	c := New("instagram", server.Client())
	_, err := c.Get(context.Background(), igauth.OpRefresh, server.URL+"/refresh_access_token", url.Values{"access_token": {"secret"}})
	require.Error(t, err)

	var perr *igauth.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadRequest, perr.Status)
	assert.Equal(t, "OAuthException", perr.Code)
	assert.Equal(t, "Invalid OAuth access token", perr.Description)
	assert.ErrorIs(t, err, igauth.ErrRefreshFailed)
	assert.NotContains(t, err.Error(), "secret")
}

func TestGetHandlesNonJSONFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	c := New("facebook", server.Client())
	_, err := c.Get(context.Background(), igauth.OpExchange, server.URL, nil)

	var perr *igauth.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadGateway, perr.Status)
	assert.Equal(t, "http_error", perr.Code)
}

func TestTransportErrorDoesNotLeakQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	c := New("instagram", nil)
	_, err := c.Get(context.Background(), igauth.OpProfile, endpoint+"/me", url.Values{"access_token": {"very-secret-token"}})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "very-secret-token")
	assert.ErrorIs(t, err, igauth.ErrProfileFailed)
}

func TestPostFormSendsEncodedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "abc", r.PostForm.Get("code"))
		_, _ = w.Write([]byte(`{"access_token":"tok"}`))
	}))
	defer server.Close()

	c := New("instagram", server.Client())
	res, err := c.PostForm(context.Background(), igauth.OpExchange, server.URL, url.Values{"code": {"abc"}})
	require.NoError(t, err)
	assert.Equal(t, "tok", res.Get("access_token").String())
}
