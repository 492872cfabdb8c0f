package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/openclave/gatehouse/pkg/broker"
	"github.com/openclave/gatehouse/pkg/contextkeys"
	"github.com/openclave/gatehouse/pkg/httputil"
	"github.com/openclave/gatehouse/pkg/observability"
)

// RequestIDMiddleware tags every request with an ID so log lines, audit
// events, and traces for one login can be stitched together. An inbound
// X-Request-ID from a trusted proxy is kept; anything else gets a fresh
// UUID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.New().String()
		}

		ctx := observability.WithRequestID(r.Context(), requestID)
		ctx = contextkeys.WithRequestID(ctx, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionMiddleware resolves the session cookie to a live session and
// attaches it to the request context. With optional set it passes
// unauthenticated requests through; otherwise they get a 401.
type SessionMiddleware struct {
	sessions *broker.SessionStore
	optional bool
}

// NewSessionMiddleware creates session-resolution middleware over the
// broker's session store.
func NewSessionMiddleware(sessions *broker.SessionStore, optional bool) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions, optional: optional}
}

// Handler wraps an HTTP handler with session resolution.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		sess, err := m.sessions.Get(r.Context(), sessionID)
		if err != nil {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "session expired or revoked")
			return
		}

		ctx := contextkeys.WithSession(r.Context(), sess)
		ctx = contextkeys.WithAccountID(ctx, sess.AccountID)
		ctx = observability.WithAccountID(ctx, sess.AccountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFromContext returns the session attached by SessionMiddleware, or
// nil.
func SessionFromContext(r *http.Request) *broker.Session {
	sess, _ := r.Context().Value(contextkeys.SessionKey).(*broker.Session)
	return sess
}

// sessionIDFromRequest reads the session cookie, falling back to a bearer
// token for non-browser clients driving the admin surface with a session
// they obtained elsewhere.
func sessionIDFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(broker.SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// AdminTokenMiddleware guards the admin API with a static bearer token.
// An empty configured token disables the admin surface entirely rather
// than leaving it open.
func AdminTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				httputil.WriteForbidden(w, "admin API is not enabled")
				return
			}

			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				httputil.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
				httputil.WriteUnauthorized(w, "invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
