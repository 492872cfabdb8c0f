package broker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/openclave/gatehouse/pkg/oidc"
	"github.com/openclave/gatehouse/pkg/saml"
)

// OAuthStateCookieName carries the OIDC state nonce through the issuer round
// trip, the same job the relay cookie does for SAML logins.
const OAuthStateCookieName = "gatehouse_oauth_state"

// Backend is one authentication protocol the broker can drive. Both
// implementations wrap their protocol engine behind the same HTTP-shaped
// surface so the handlers never switch on protocol.
type Backend interface {
	Kind() string
	Providers() []string

	// Begin forwards the browser to the named provider's login endpoint and
	// sets whatever short-lived state the callback will need.
	Begin(w http.ResponseWriter, r *http.Request, provider string) error

	// CompleteLogin consumes the provider callback carried by r. The
	// provider argument is what the routing layer extracted from the path;
	// the SAML backend ignores it and resolves the provider from relay
	// state instead. The returned digest, when non-empty, identifies a
	// replayable callback artifact the broker must consume exactly once
	// before trusting the identity.
	CompleteLogin(ctx context.Context, r *http.Request, provider string) (*saml.NormalizedIdentity, string, error)

	// LogoutRedirect returns the provider's single-logout URL, or "" when
	// the provider has none.
	LogoutRedirect(ctx context.Context, provider, nameID, sessionIndex string) (string, error)
}

// NewSAMLBackend adapts the SAML engine to the broker backend surface.
func NewSAMLBackend(engine *saml.Backend) Backend {
	return &samlBackend{engine: engine}
}

type samlBackend struct {
	engine *saml.Backend
}

func (s *samlBackend) Kind() string        { return s.engine.Kind() }
func (s *samlBackend) Providers() []string { return s.engine.Providers() }

func (s *samlBackend) Begin(w http.ResponseWriter, r *http.Request, provider string) error {
	return s.engine.Begin(w, r, provider)
}

func (s *samlBackend) CompleteLogin(ctx context.Context, r *http.Request, _ string) (*saml.NormalizedIdentity, string, error) {
	identity, err := s.engine.CompleteLogin(ctx, r)
	if err != nil {
		return nil, "", err
	}
	// The digest is taken only after the response validated, so the replay
	// window holds digests of responses that were actually accepted.
	return identity, saml.ResponseDigest(r.FormValue("SAMLResponse")), nil
}

func (s *samlBackend) LogoutRedirect(_ context.Context, provider, nameID, sessionIndex string) (string, error) {
	return s.engine.LogoutRedirect(provider, nameID, sessionIndex)
}

// NewOIDCBackend adapts the OIDC engine to the broker backend surface. The
// adapter owns the state cookie; the engine itself never touches HTTP.
func NewOIDCBackend(engine *oidc.Backend) Backend {
	return &oidcBackend{engine: engine}
}

type oidcBackend struct {
	engine *oidc.Backend
}

func (o *oidcBackend) Kind() string        { return o.engine.Kind() }
func (o *oidcBackend) Providers() []string { return o.engine.Providers() }

func (o *oidcBackend) Begin(w http.ResponseWriter, r *http.Request, provider string) error {
	state, err := generateState()
	if err != nil {
		return err
	}
	authURL, err := o.engine.AuthURL(r.Context(), provider, state)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

func (o *oidcBackend) CompleteLogin(ctx context.Context, r *http.Request, provider string) (*saml.NormalizedIdentity, string, error) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		reason := errCode
		if desc := q.Get("error_description"); desc != "" {
			reason = errCode + ": " + desc
		}
		return nil, "", &oidc.TokenValidationError{Provider: provider, Reason: "issuer returned " + reason}
	}

	state := q.Get("state")
	cookie, err := r.Cookie(OAuthStateCookieName)
	if err != nil || state == "" || cookie.Value != state {
		return nil, "", &oidc.TokenValidationError{Provider: provider, Reason: "state parameter does not match login cookie"}
	}

	identity, err := o.engine.CompleteLogin(ctx, provider, q.Get("code"))
	if err != nil {
		return nil, "", err
	}
	// Authorization codes are single-use at the issuer, so there is no
	// replayable artifact for the broker to track.
	return identity, "", nil
}

func (o *oidcBackend) LogoutRedirect(ctx context.Context, provider, _, _ string) (string, error) {
	return o.engine.LogoutURL(ctx, provider)
}

func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
