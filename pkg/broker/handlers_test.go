package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclave/gatehouse/pkg/account"
)

func setupHandlers(t *testing.T) (*mux.Router, *Broker, *account.Store) {
	t.Helper()
	files := fileSourceFromYAML(t, testProviderYAML())
	b, _, accounts := setupBroker(t, Config{SP: brokerSP()}, files, nil)

	router := mux.NewRouter()
	h := NewHandlers(b, testLogger())
	h.RegisterPublicRoutes(router)
	h.RegisterAdminRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router, b, accounts
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandlersStartLogin(t *testing.T) {
	router, _, _ := setupHandlers(t)

	t.Run("redirects to the provider", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/sso/corp-okta/login", nil))

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "corp.okta.com")
	})

	t.Run("remembers return_url in a cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/sso/corp-okta/login?return_url=/dashboard", nil))

		require.Equal(t, http.StatusFound, w.Code)
		var found *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == ReturnCookieName {
				found = c
			}
		}
		require.NotNil(t, found, "return cookie not set")
		assert.Equal(t, "/dashboard", found.Value)
		assert.True(t, found.HttpOnly)
	})

	t.Run("rejects absolute return_url", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/sso/corp-okta/login?return_url=//evil.example", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown provider", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/sso/ghost/login", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("disabled provider", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/sso/azure-oidc/login", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("idp query parameter", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/sso/login?idp=corp-okta", nil))
		assert.Equal(t, http.StatusFound, w.Code)
	})
}

func TestHandlersMetadata(t *testing.T) {
	router, _, _ := setupHandlers(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/sso/metadata", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "EntityDescriptor")
}

func TestHandlersLoginOptions(t *testing.T) {
	router, _, _ := setupHandlers(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/sso/providers", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	// azure-oidc is disabled in the fixture, so only corp-okta is offered.
	assert.Equal(t, float64(1), body["count"])
	providers := body["providers"].([]interface{})
	option := providers[0].(map[string]interface{})
	assert.Equal(t, "corp-okta", option["name"])
	assert.Equal(t, "Corp Okta", option["display_name"])
	assert.Equal(t, "/auth/sso/corp-okta/login", option["login_url"])
}

func TestHandlersSessionInfo(t *testing.T) {
	router, b, accounts := setupHandlers(t)
	ctx := context.Background()

	t.Run("no cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/sso/session", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("stale cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/auth/sso/session", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "gone"})
		router.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("live session", func(t *testing.T) {
		acct := &account.Account{Username: "alice", Email: "alice@example.org"}
		require.NoError(t, accounts.CreateWithLink(ctx, acct, "corp-okta", "emp-1001", time.Now().UTC()))

		sess := &Session{AccountID: acct.ID, Provider: "corp-okta", Backend: "saml"}
		require.NoError(t, b.Sessions().Create(ctx, sess))

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/auth/sso/session", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		gotAccount := body["account"].(map[string]interface{})
		assert.Equal(t, "alice", gotAccount["username"])
		gotSession := body["session"].(map[string]interface{})
		assert.Equal(t, "corp-okta", gotSession["provider"])
	})
}

func TestHandlersLogout(t *testing.T) {
	router, b, _ := setupHandlers(t)
	ctx := context.Background()

	t.Run("no session", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/sso/logout", nil))
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))
	})

	t.Run("live session", func(t *testing.T) {
		sess := &Session{AccountID: "acct-1", Provider: "corp-okta", Backend: "saml"}
		require.NoError(t, b.Sessions().Create(ctx, sess))

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/auth/sso/logout?return_url=/goodbye", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/goodbye", w.Header().Get("Location"))

		var cleared *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == SessionCookieName {
				cleared = c
			}
		}
		require.NotNil(t, cleared)
		assert.Equal(t, -1, cleared.MaxAge)

		_, err := b.Sessions().Get(ctx, sess.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("stale cookie still redirects", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/auth/sso/logout", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "gone"})
		router.ServeHTTP(w, r)
		assert.Equal(t, http.StatusFound, w.Code)
	})
}

func TestHandlersAdminProviders(t *testing.T) {
	router, _, _ := setupHandlers(t)

	t.Run("list redacts secrets", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sso/providers", nil))

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(2), body["count"])
		// The OIDC client secret never leaves the process.
		assert.NotContains(t, w.Body.String(), "s3cret")
	})

	t.Run("get", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sso/providers/corp-okta", nil))

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "corp-okta", body["name"])
	})

	t.Run("get unknown", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sso/providers/ghost", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("create without database catalog", func(t *testing.T) {
		payload := `{"name":"new-idp","backend":"oidc","oidc":{"issuer_url":"https://login.example.com/t","client_id":"c","client_secret":"s"}}`
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/api/v1/sso/providers", strings.NewReader(payload))
		r.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, r)
		// No ProviderStore wired means the catalog is file-only.
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("reload", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sso/reload", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandlersAdminAccounts(t *testing.T) {
	router, b, accounts := setupHandlers(t)
	ctx := context.Background()

	acct := &account.Account{Username: "bob"}
	require.NoError(t, accounts.CreateWithLink(ctx, acct, "corp-okta", "emp-2002", time.Now().UTC()))
	sess := &Session{AccountID: acct.ID, Provider: "corp-okta", Backend: "saml"}
	require.NoError(t, b.Sessions().Create(ctx, sess))

	t.Run("list sessions", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sso/accounts/"+acct.ID+"/sessions", nil))

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(1), body["count"])
	})

	t.Run("suspend revokes sessions", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sso/accounts/"+acct.ID+"/suspend", nil))

		require.Equal(t, http.StatusOK, w.Code)
		got, err := b.Account(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, got.Suspended)

		_, err = b.Sessions().Get(ctx, sess.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("unsuspend", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sso/accounts/"+acct.ID+"/unsuspend", nil))

		require.Equal(t, http.StatusOK, w.Code)
		got, err := b.Account(ctx, acct.ID)
		require.NoError(t, err)
		assert.False(t, got.Suspended)
	})

	t.Run("revoke sessions", func(t *testing.T) {
		again := &Session{AccountID: acct.ID, Provider: "corp-okta", Backend: "saml"}
		require.NoError(t, b.Sessions().Create(ctx, again))

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodDelete, "/api/v1/sso/accounts/"+acct.ID+"/sessions", nil)
		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(1), body["revoked"])
	})

	t.Run("suspend unknown account", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sso/accounts/ghost/suspend", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
