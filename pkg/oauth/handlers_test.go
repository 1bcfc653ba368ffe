package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOAuthMux(t *testing.T) (*http.ServeMux, *Handler) {
	t.Helper()
	h := NewHandler(map[string]ProviderConfig{
		"google": {
			AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
			ClientID:     "client-123",
			Scopes:       []string{"email", "profile"},
			ExtraParams:  map[string]string{"access_type": "offline"},
		},
	}, "https://conduit.example.com/")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, h
}

func TestAuthorize_BuildsProviderURL(t *testing.T) {
	mux, _ := newOAuthMux(t)

	body := `{"returnUrl":"https://app.example.com/connections","connectionId":"conn-1"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/oauth/authorize/google", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["state"])

	authURL, err := url.Parse(resp["authUrl"])
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", authURL.Host)
	q := authURL.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "email profile", q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "https://conduit.example.com/api/oauth/callback/google", q.Get("redirect_uri"))
	assert.Equal(t, resp["state"], q.Get("state"))
}

func TestAuthorize_UnknownProvider(t *testing.T) {
	mux, _ := newOAuthMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/oauth/authorize/fancy", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallback_RedirectsToReturnURL(t *testing.T) {
	mux, _ := newOAuthMux(t)

	body := `{"returnUrl":"https://app.example.com/done?tab=oauth","connectionId":"conn-9"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/oauth/authorize/google", strings.NewReader(body)))
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/oauth/callback/google?code=auth-code&state="+resp["state"], nil))

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", location.Host)
	q := location.Query()
	assert.Equal(t, "auth-code", q.Get("code"))
	assert.Equal(t, "google", q.Get("provider"))
	assert.Equal(t, "conn-9", q.Get("connectionId"))
	assert.Equal(t, "oauth", q.Get("tab"), "existing query params survive")
}

func TestCallback_StateIsSingleUse(t *testing.T) {
	mux, _ := newOAuthMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/oauth/authorize/google",
		strings.NewReader(`{"returnUrl":"https://app.example.com/x"}`)))
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	target := "/api/oauth/callback/google?code=c&state=" + resp["state"]
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallback_ExpiredState(t *testing.T) {
	mux, h := newOAuthMux(t)

	base := time.Now()
	h.states.now = func() time.Time { return base }

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/oauth/authorize/google",
		strings.NewReader(`{"returnUrl":"https://app.example.com/x"}`)))
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	base = base.Add(DefaultStateTTL + time.Minute)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/oauth/callback/google?code=c&state="+resp["state"], nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallback_RejectsCrossProviderState(t *testing.T) {
	h := NewHandler(map[string]ProviderConfig{
		"google": {AuthorizeURL: "https://a", ClientID: "c"},
		"slack":  {AuthorizeURL: "https://b", ClientID: "c"},
	}, "https://conduit.example.com")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/oauth/authorize/google",
		strings.NewReader(`{"returnUrl":"https://app.example.com/x"}`)))
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/oauth/callback/slack?code=c&state="+resp["state"], nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
