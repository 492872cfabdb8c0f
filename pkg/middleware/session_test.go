package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclave/gatehouse/pkg/broker"
	"github.com/openclave/gatehouse/pkg/contextkeys"
)

func setupSessions(t *testing.T) *broker.SessionStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return broker.NewSessionStore(client, time.Hour)
}

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = contextkeys.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddlewareKeepsInboundID(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = contextkeys.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "edge-proxy-1234")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "edge-proxy-1234", captured)
}

func TestSessionMiddlewareRequired(t *testing.T) {
	sessions := setupSessions(t)
	ctx := context.Background()

	sess := &broker.Session{AccountID: "acct-1", Provider: "corp-okta", Backend: "saml"}
	require.NoError(t, sessions.Create(ctx, sess))

	var gotAccount string
	handler := NewSessionMiddleware(sessions, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = contextkeys.GetAccountID(r.Context())
		got := SessionFromContext(r)
		require.NotNil(t, got)
		assert.Equal(t, sess.ID, got.ID)
	}))

	tests := []struct {
		name           string
		prepare        func(*http.Request)
		expectedStatus int
		expectAccount  bool
	}{
		{
			name: "valid cookie",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: broker.SessionCookieName, Value: sess.ID})
			},
			expectedStatus: http.StatusOK,
			expectAccount:  true,
		},
		{
			name: "valid bearer token",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sess.ID)
			},
			expectedStatus: http.StatusOK,
			expectAccount:  true,
		},
		{
			name:           "no credentials",
			prepare:        func(r *http.Request) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "unknown session",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: broker.SessionCookieName, Value: "bogus"})
			},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotAccount = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectAccount {
				assert.Equal(t, "acct-1", gotAccount)
			}
		})
	}
}

func TestSessionMiddlewareOptional(t *testing.T) {
	sessions := setupSessions(t)

	called := false
	handler := NewSessionMiddleware(sessions, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, SessionFromContext(r))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminTokenMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		token          string
		authHeader     string
		expectedStatus int
	}{
		{
			name:           "valid token",
			token:          "s3cret",
			authHeader:     "Bearer s3cret",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "wrong token",
			token:          "s3cret",
			authHeader:     "Bearer nope",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing header",
			token:          "s3cret",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "malformed header",
			token:          "s3cret",
			authHeader:     "s3cret",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "admin disabled without token",
			token:          "",
			authHeader:     "Bearer anything",
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AdminTokenMiddleware(tt.token)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/sso/providers", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}
