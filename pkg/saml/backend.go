package saml

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// BackendKind identifies this backend to the broker.
const BackendKind = "saml"

// RelayCookieName carries the relay nonce through the IdP round trip so the
// callback can tie the response to a login this SP started.
const RelayCookieName = "gatehouse_saml_relay"

// PolicyHook inspects a normalized identity after protocol validation
// succeeds and before the account link happens. Returning an error vetoes the
// login. A nil hook allows every protocol-valid login; deployments that need
// entitlement enforcement supply their own.
type PolicyHook func(ctx context.Context, identity *NormalizedIdentity, attrs AttributeSet) error

// RequireEntitlement builds a policy hook that only admits logins whose
// assertion carries the given eduPersonEntitlement value.
func RequireEntitlement(value string) PolicyHook {
	return func(ctx context.Context, identity *NormalizedIdentity, attrs AttributeSet) error {
		for _, v := range attrs.Values(OIDEduPersonEntitlement) {
			if v == value {
				return nil
			}
		}
		return &PolicyRejectedError{
			Provider: identity.IdPName,
			Reason:   fmt.Sprintf("missing entitlement %q", value),
		}
	}
}

// Backend is the SAML authentication backend: it resolves providers out of
// its registry, drives the protocol engine, maps claims, and applies the
// policy hook. The registry can be swapped wholesale when provider
// configuration reloads; everything else is immutable after construction.
type Backend struct {
	settings ServiceProviderSettings
	engine   *Engine
	mapper   *ClaimsMapper
	policy   PolicyHook

	mu       sync.RWMutex
	registry *Registry
}

// NewBackend wires a backend from SP settings and a provider registry.
// policy may be nil, in which case every protocol-valid login is allowed.
func NewBackend(settings ServiceProviderSettings, registry *Registry, policy PolicyHook) (*Backend, error) {
	if registry == nil {
		return nil, &InvalidConfigurationError{Field: "registry", Reason: "provider registry is required"}
	}
	engine, err := NewEngine(settings)
	if err != nil {
		return nil, err
	}
	return &Backend{
		settings: settings,
		engine:   engine,
		mapper:   DefaultClaimsMapper(),
		policy:   policy,
		registry: registry,
	}, nil
}

// Kind returns the backend kind the broker dispatches on.
func (b *Backend) Kind() string {
	return BackendKind
}

// Providers lists the names of the registered identity providers.
func (b *Backend) Providers() []string {
	return b.currentRegistry().Names()
}

// Registry returns the active provider registry.
func (b *Backend) Registry() *Registry {
	return b.currentRegistry()
}

// ReplaceRegistry swaps in a new provider registry. In-flight logins keep the
// registry they resolved against.
func (b *Backend) ReplaceRegistry(registry *Registry) {
	if registry == nil {
		return
	}
	b.mu.Lock()
	b.registry = registry
	b.mu.Unlock()
}

func (b *Backend) currentRegistry() *Registry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.registry
}

// RedirectTarget describes how to forward the browser to an identity
// provider: a URL for the Redirect binding, or an auto-submitting HTML
// document for the POST binding.
type RedirectTarget struct {
	Provider string
	Binding  string
	URL      string
	Form     []byte
	Nonce    string
}

// LoginTarget starts a login against the named provider and returns where to
// send the browser. The relay state carries the provider name (so the
// callback can find its configuration again) and a fresh nonce.
func (b *Backend) LoginTarget(name string) (*RedirectTarget, error) {
	cfg, err := b.currentRegistry().Resolve(name)
	if err != nil {
		return nil, err
	}

	nonce := generateID()
	relayState := BuildRelayState(cfg.Name, nonce)
	target := &RedirectTarget{Provider: cfg.Name, Binding: cfg.Binding, Nonce: nonce}

	switch cfg.Binding {
	case BindingHTTPPost:
		form, err := b.engine.BuildLoginForm(cfg, relayState)
		if err != nil {
			return nil, err
		}
		target.Form = form
	default:
		authURL, err := b.engine.BuildLoginRedirect(cfg, relayState)
		if err != nil {
			return nil, err
		}
		target.URL = authURL
	}
	return target, nil
}

// ResolveRedirectTarget reads the requested provider name from the "idp"
// request parameter, falling back to the configured default provider, and
// returns the redirect target for it.
func (b *Backend) ResolveRedirectTarget(r *http.Request) (*RedirectTarget, error) {
	name := r.URL.Query().Get("idp")
	if name == "" {
		name = b.settings.DefaultProvider
	}
	if name == "" {
		return nil, &UnknownProviderError{}
	}
	return b.LoginTarget(name)
}

// Begin resolves the login target for the named provider, stores the relay
// nonce in a short-lived cookie, and writes the redirect or auto-submit form.
func (b *Backend) Begin(w http.ResponseWriter, r *http.Request, provider string) error {
	target, err := b.LoginTarget(provider)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     RelayCookieName,
		Value:    target.Nonce,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})

	if target.Binding == BindingHTTPPost {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, err = w.Write(target.Form)
		return err
	}
	http.Redirect(w, r, target.URL, http.StatusFound)
	return nil
}

// CompleteLogin processes the SAMLResponse posted back by the IdP: it reads
// the provider name out of the relay state, validates the response through
// the protocol engine, extracts the permanent identifier and profile, and
// applies the policy hook. The returned identity is ready for account
// linking.
//
// When the relay state carries a nonce (a login this SP started), the nonce
// must match the relay cookie. IdP-initiated logins arrive with a bare
// provider name and skip the nonce check.
func (b *Backend) CompleteLogin(ctx context.Context, r *http.Request) (*NormalizedIdentity, error) {
	if err := r.ParseForm(); err != nil {
		return nil, &ProtocolValidationError{Stage: StageRequest, Reason: "malformed callback form", Err: err}
	}
	encoded := r.FormValue("SAMLResponse")
	if encoded == "" {
		return nil, &ProtocolValidationError{Stage: StageRequest, Reason: "missing SAMLResponse parameter"}
	}

	name, nonce := ParseRelayState(r.FormValue("RelayState"))
	if name == "" {
		return nil, &ProtocolValidationError{Stage: StageRequest, Reason: "relay state does not name a provider"}
	}
	cfg, err := b.currentRegistry().Resolve(name)
	if err != nil {
		return nil, err
	}
	if nonce != "" {
		cookie, err := r.Cookie(RelayCookieName)
		if err != nil || cookie.Value != nonce {
			return nil, &ProtocolValidationError{Stage: StageRequest, Reason: "relay state nonce does not match login cookie"}
		}
	}

	assertion, err := b.engine.ProcessResponse(encoded, cfg)
	if err != nil {
		return nil, err
	}

	permanentID, err := b.mapper.ExtractPermanentID(assertion.Attributes, cfg)
	if err != nil {
		return nil, err
	}
	identity := &NormalizedIdentity{
		IdPName:      cfg.Name,
		PermanentID:  permanentID,
		Profile:      b.mapper.MapProfile(assertion.Attributes, cfg),
		NameID:       assertion.NameID,
		SessionIndex: assertion.SessionIndex,
	}

	if b.policy != nil {
		if err := b.policy(ctx, identity, assertion.Attributes); err != nil {
			var rejected *PolicyRejectedError
			if errors.As(err, &rejected) {
				return nil, err
			}
			return nil, &PolicyRejectedError{Provider: cfg.Name, Reason: err.Error()}
		}
	}
	return identity, nil
}

// Metadata renders the SP metadata document for IdP onboarding.
func (b *Backend) Metadata() ([]byte, error) {
	return b.engine.ServiceProviderMetadata()
}

// LogoutRedirect returns the IdP single-logout URL for the named provider,
// or "" when the provider has no SLO endpoint.
func (b *Backend) LogoutRedirect(provider, nameID, sessionIndex string) (string, error) {
	cfg, err := b.currentRegistry().Resolve(provider)
	if err != nil {
		return "", err
	}
	return b.engine.BuildLogoutRedirect(cfg, nameID, sessionIndex)
}

// BuildRelayState packs the provider name and a nonce into one relay state
// value. The slug invariant (no colons in provider names) is what makes the
// format unambiguous.
func BuildRelayState(provider, nonce string) string {
	if nonce == "" {
		return provider
	}
	return provider + ":" + nonce
}

// ParseRelayState splits a relay state back into provider name and nonce. A
// value without a colon is a bare provider name, as sent by IdP-initiated
// logins.
func ParseRelayState(relayState string) (provider, nonce string) {
	if i := strings.IndexByte(relayState, ':'); i >= 0 {
		return relayState[:i], relayState[i+1:]
	}
	return relayState, ""
}
