package oidc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/openclave/gatehouse/pkg/saml"
)

// Backend is the OpenID Connect authentication backend. It drives the
// authorization-code flow against each configured issuer and maps verified
// ID token claims into the same normalized identity the SAML backend
// produces, so everything downstream of login is backend-agnostic.
//
// Issuer discovery runs lazily on first use and is cached per provider;
// ReplaceProviders drops the cache so reconfigured issuers rediscover.
type Backend struct {
	baseURL string
	policy  saml.PolicyHook

	mu        sync.RWMutex
	providers map[string]*ProviderConfig
	clients   map[string]*issuerClient
}

// issuerClient is the cached outcome of discovery for one provider.
type issuerClient struct {
	provider *gooidc.Provider
	verifier *gooidc.IDTokenVerifier
	oauth    *oauth2.Config
}

// NewBackend wires an OIDC backend serving the given providers. baseURL is
// the public origin the per-provider callback URLs derive from. policy may
// be nil, in which case every verified login is allowed.
func NewBackend(baseURL string, configs []*ProviderConfig, policy saml.PolicyHook) (*Backend, error) {
	if baseURL == "" {
		return nil, &saml.InvalidConfigurationError{Field: "base_url", Reason: "base URL is required"}
	}
	b := &Backend{
		baseURL:   strings.TrimRight(baseURL, "/"),
		policy:    policy,
		providers: make(map[string]*ProviderConfig),
		clients:   make(map[string]*issuerClient),
	}
	if err := b.ReplaceProviders(configs); err != nil {
		return nil, err
	}
	return b, nil
}

// Kind returns the backend kind the broker dispatches on.
func (b *Backend) Kind() string {
	return BackendKind
}

// ReplaceProviders swaps in a new provider set and invalidates cached
// discovery. On validation error the previous set stays active.
func (b *Backend) ReplaceProviders(configs []*ProviderConfig) error {
	next := make(map[string]*ProviderConfig, len(configs))
	for _, cfg := range configs {
		if cfg == nil {
			continue
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, dup := next[cfg.Name]; dup {
			return &saml.InvalidConfigurationError{
				Field:  "name",
				Reason: fmt.Sprintf("duplicate provider %q", cfg.Name),
			}
		}
		next[cfg.Name] = cfg
	}

	b.mu.Lock()
	b.providers = next
	b.clients = make(map[string]*issuerClient)
	b.mu.Unlock()
	return nil
}

// Providers lists the configured provider names in sorted order.
func (b *Backend) Providers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.providers))
	for name := range b.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the configuration of the named provider.
func (b *Backend) Resolve(name string) (*ProviderConfig, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cfg, ok := b.providers[name]
	if !ok {
		return nil, &saml.UnknownProviderError{Name: name}
	}
	return cfg, nil
}

// RedirectURL returns the callback URL registered with the issuer for the
// named provider.
func (b *Backend) RedirectURL(name string) string {
	return b.baseURL + "/auth/sso/" + name + "/callback"
}

// AuthURL starts a login: the issuer's authorization endpoint with client,
// scopes, callback, and the caller's state parameter bound in. The HTTP
// layer owns generating the state and checking it on the way back.
func (b *Backend) AuthURL(ctx context.Context, name, state string) (string, error) {
	cfg, err := b.Resolve(name)
	if err != nil {
		return "", err
	}
	client, err := b.client(ctx, cfg)
	if err != nil {
		return "", err
	}
	return client.oauth.AuthCodeURL(state), nil
}

// LogoutURL returns the issuer's RP-initiated logout endpoint, or "" when
// the discovery document does not advertise one.
func (b *Backend) LogoutURL(ctx context.Context, name string) (string, error) {
	cfg, err := b.Resolve(name)
	if err != nil {
		return "", err
	}
	client, err := b.client(ctx, cfg)
	if err != nil {
		return "", err
	}
	var doc struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := client.provider.Claims(&doc); err != nil {
		return "", &DiscoveryError{Provider: name, Err: err}
	}
	return doc.EndSessionEndpoint, nil
}

// CompleteLogin exchanges the authorization code, verifies the returned ID
// token, and maps its claims into a normalized identity ready for account
// linking.
func (b *Backend) CompleteLogin(ctx context.Context, provider, code string) (*saml.NormalizedIdentity, error) {
	if code == "" {
		return nil, &TokenValidationError{Provider: provider, Reason: "missing authorization code"}
	}
	cfg, err := b.Resolve(provider)
	if err != nil {
		return nil, err
	}
	client, err := b.client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	token, err := client.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, &ExchangeError{Provider: cfg.Name, Err: err}
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, &TokenValidationError{Provider: cfg.Name, Reason: "token response carries no id_token"}
	}
	idToken, err := client.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, &TokenValidationError{Provider: cfg.Name, Reason: "verification failed", Err: err}
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, &TokenValidationError{Provider: cfg.Name, Reason: "malformed claims", Err: err}
	}

	if cfg.FetchUserinfo {
		b.mergeUserinfo(ctx, client, token, claims)
	}

	cm := cfg.Claims.merged()
	permanentID := claimString(claims, cm.Subject)
	if permanentID == "" {
		permanentID = idToken.Subject
	}
	if permanentID == "" {
		return nil, &saml.MissingAttributeError{Attribute: cm.Subject, Provider: cfg.Name}
	}

	profile := saml.Profile{
		Username:  claimString(claims, cm.Username),
		Email:     claimString(claims, cm.Email),
		FullName:  claimString(claims, cm.FullName),
		FirstName: claimString(claims, cm.FirstName),
		LastName:  claimString(claims, cm.LastName),
	}
	if profile.Username == "" {
		profile.Username = profile.Email
	}

	identity := &saml.NormalizedIdentity{
		IdPName:     cfg.Name,
		PermanentID: permanentID,
		Profile:     profile,
	}

	if b.policy != nil {
		if err := b.policy(ctx, identity, claimAttributes(claims)); err != nil {
			var rejected *saml.PolicyRejectedError
			if errors.As(err, &rejected) {
				return nil, err
			}
			return nil, &saml.PolicyRejectedError{Provider: cfg.Name, Reason: err.Error()}
		}
	}
	return identity, nil
}

// client returns the cached discovery result for the provider, discovering
// on first use.
func (b *Backend) client(ctx context.Context, cfg *ProviderConfig) (*issuerClient, error) {
	b.mu.RLock()
	cached, ok := b.clients[cfg.Name]
	b.mu.RUnlock()
	if ok {
		return cached, nil
	}

	provider, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, &DiscoveryError{Provider: cfg.Name, Err: err}
	}
	client := &issuerClient{
		provider: provider,
		verifier: provider.Verifier(&gooidc.Config{
			ClientID:        cfg.ClientID,
			SkipIssuerCheck: cfg.SkipIssuerCheck,
		}),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  b.RedirectURL(cfg.Name),
			Scopes:       cfg.scopes(),
		},
	}

	b.mu.Lock()
	// A concurrent login may have discovered first; keep its client.
	if existing, ok := b.clients[cfg.Name]; ok {
		client = existing
	} else {
		b.clients[cfg.Name] = client
	}
	b.mu.Unlock()
	return client, nil
}

// mergeUserinfo overlays userinfo claims onto the ID token claims. Token
// values win; userinfo only fills gaps. Failures are swallowed because
// userinfo is best-effort profile enrichment.
func (b *Backend) mergeUserinfo(ctx context.Context, client *issuerClient, token *oauth2.Token, claims map[string]interface{}) {
	info, err := client.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return
	}
	var extra map[string]interface{}
	if err := info.Claims(&extra); err != nil {
		return
	}
	for k, v := range extra {
		if _, exists := claims[k]; !exists {
			claims[k] = v
		}
	}
}

// claimString reads a string-valued claim, tolerating absent keys and
// non-string values.
func claimString(claims map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// claimAttributes flattens claims into the attribute set handed to policy
// hooks. String and string-array claims survive; nested structures do not.
func claimAttributes(claims map[string]interface{}) saml.AttributeSet {
	attrs := make(saml.AttributeSet, len(claims))
	for k, v := range claims {
		switch val := v.(type) {
		case string:
			attrs[k] = []string{val}
		case []interface{}:
			values := make([]string, 0, len(val))
			for _, item := range val {
				if s, ok := item.(string); ok {
					values = append(values, s)
				}
			}
			if len(values) > 0 {
				attrs[k] = values
			}
		}
	}
	return attrs
}
