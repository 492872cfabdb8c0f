package oidc

import (
	"github.com/openclave/gatehouse/pkg/saml"
)

// BackendKind identifies this backend to the broker.
const BackendKind = "oidc"

// DefaultScopes are requested when a provider configures none.
var DefaultScopes = []string{"openid", "profile", "email"}

// ClaimMap names the ID token claim feeding each identity field. Empty
// fields fall back to the standard OIDC claim names.
type ClaimMap struct {
	Subject   string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Email     string `json:"email,omitempty" yaml:"email,omitempty"`
	FullName  string `json:"full_name,omitempty" yaml:"full_name,omitempty"`
	FirstName string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
}

// DefaultClaimMap returns the standard OIDC claim names.
func DefaultClaimMap() ClaimMap {
	return ClaimMap{
		Subject:   "sub",
		Username:  "preferred_username",
		Email:     "email",
		FullName:  "name",
		FirstName: "given_name",
		LastName:  "family_name",
	}
}

// merged fills empty fields with the standard claim names.
func (m ClaimMap) merged() ClaimMap {
	def := DefaultClaimMap()
	if m.Subject == "" {
		m.Subject = def.Subject
	}
	if m.Username == "" {
		m.Username = def.Username
	}
	if m.Email == "" {
		m.Email = def.Email
	}
	if m.FullName == "" {
		m.FullName = def.FullName
	}
	if m.FirstName == "" {
		m.FirstName = def.FirstName
	}
	if m.LastName == "" {
		m.LastName = def.LastName
	}
	return m
}

// ProviderConfig describes one upstream OIDC issuer.
//
// Name doubles as the prefix of every external user ID minted for the
// provider, the same contract the SAML provider names carry.
type ProviderConfig struct {
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`

	// IssuerURL is the issuer identifier; discovery reads
	// IssuerURL/.well-known/openid-configuration.
	IssuerURL string `json:"issuer_url" yaml:"issuer_url"`

	ClientID string `json:"client_id" yaml:"client_id"`

	// ClientSecret is accepted on admin writes; the read side redacts it
	// before serializing a provider record.
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`

	// Scopes defaults to DefaultScopes. When set explicitly, "openid" must
	// be among them.
	Scopes []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`

	Claims ClaimMap `json:"claims,omitempty" yaml:"claims,omitempty"`

	// FetchUserinfo queries the userinfo endpoint after token validation
	// and fills claims the ID token left out. Needed for issuers that keep
	// profile data out of the token.
	FetchUserinfo bool `json:"fetch_userinfo,omitempty" yaml:"fetch_userinfo,omitempty"`

	// SkipIssuerCheck tolerates an issuer mismatch in the ID token. Some
	// multi-tenant issuers assert per-tenant issuer values.
	SkipIssuerCheck bool `json:"skip_issuer_check,omitempty" yaml:"skip_issuer_check,omitempty"`
}

// Validate checks the fields required before the provider can serve logins.
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return &saml.InvalidConfigurationError{Field: "name", Reason: "provider name is required"}
	}
	if c.IssuerURL == "" {
		return &saml.InvalidConfigurationError{Field: "issuer_url", Reason: "issuer URL is required"}
	}
	if c.ClientID == "" {
		return &saml.InvalidConfigurationError{Field: "client_id", Reason: "client ID is required"}
	}
	if c.ClientSecret == "" {
		return &saml.InvalidConfigurationError{Field: "client_secret", Reason: "client secret is required"}
	}
	if len(c.Scopes) > 0 && !containsScope(c.Scopes, "openid") {
		return &saml.InvalidConfigurationError{Field: "scopes", Reason: `the "openid" scope is required`}
	}
	return nil
}

// scopes returns the explicit scopes or the defaults.
func (c *ProviderConfig) scopes() []string {
	if len(c.Scopes) == 0 {
		return DefaultScopes
	}
	return c.Scopes
}

func containsScope(scopes []string, want string) bool {
	for _, scope := range scopes {
		if scope == want {
			return true
		}
	}
	return false
}
