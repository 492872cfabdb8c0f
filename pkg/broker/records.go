package broker

import (
	"fmt"
	"time"

	"github.com/openclave/gatehouse/pkg/oidc"
	"github.com/openclave/gatehouse/pkg/saml"
)

// Provider configuration sources, stamped on catalog entries so operators
// can tell a file-managed provider from a database-managed one.
const (
	SourceFile = "file"
	SourceDB   = "db"
)

// ProviderRecord is one identity provider entry in the broker catalog. The
// Backend field selects the protocol, and exactly one of SAML or OIDC
// carries the matching configuration. Records come from two layers, the
// static provider file and the providers table, merged by name with the
// database layer winning.
type ProviderRecord struct {
	ID          int64  `json:"id,omitempty" yaml:"-"`
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Backend     string `json:"backend" yaml:"backend"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`

	// Source records which catalog layer produced this entry. The broker
	// stamps it on load; it is never persisted.
	Source string `json:"source,omitempty" yaml:"-"`

	SAML *saml.IdentityProviderConfig `json:"saml,omitempty" yaml:"saml,omitempty"`
	OIDC *oidc.ProviderConfig         `json:"oidc,omitempty" yaml:"oidc,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// Validate checks that the record is internally consistent: the name obeys
// the provider slug rules, the backend is known, and the protocol block
// matches the backend. The record's name and display name are pushed down
// into the protocol block so the two can never disagree.
func (p *ProviderRecord) Validate() error {
	if err := saml.ValidateProviderName(p.Name); err != nil {
		return err
	}
	switch p.Backend {
	case saml.BackendKind:
		if p.SAML == nil {
			return &saml.InvalidConfigurationError{Field: "saml", Reason: fmt.Sprintf("provider %q declares the saml backend but has no saml block", p.Name)}
		}
		if p.OIDC != nil {
			return &saml.InvalidConfigurationError{Field: "oidc", Reason: fmt.Sprintf("saml provider %q must not carry an oidc block", p.Name)}
		}
		p.SAML.Name = p.Name
		if p.SAML.DisplayName == "" {
			p.SAML.DisplayName = p.DisplayName
		}
		return validateSAMLBlock(p.SAML)
	case oidc.BackendKind:
		if p.OIDC == nil {
			return &saml.InvalidConfigurationError{Field: "oidc", Reason: fmt.Sprintf("provider %q declares the oidc backend but has no oidc block", p.Name)}
		}
		if p.SAML != nil {
			return &saml.InvalidConfigurationError{Field: "saml", Reason: fmt.Sprintf("oidc provider %q must not carry a saml block", p.Name)}
		}
		p.OIDC.Name = p.Name
		if p.OIDC.DisplayName == "" {
			p.OIDC.DisplayName = p.DisplayName
		}
		return p.OIDC.Validate()
	case "":
		return &saml.InvalidConfigurationError{Field: "backend", Reason: fmt.Sprintf("provider %q does not declare a backend", p.Name)}
	default:
		return &saml.InvalidConfigurationError{Field: "backend", Reason: fmt.Sprintf("provider %q declares unknown backend %q", p.Name, p.Backend)}
	}
}

// validateSAMLBlock rejects records that would only fail at first login.
// The protocol engine parses the certificate lazily, so presence checks
// here are what keeps a broken provider out of the catalog.
func validateSAMLBlock(cfg *saml.IdentityProviderConfig) error {
	if cfg.EntityID == "" {
		return &saml.InvalidConfigurationError{Field: "entity_id", Reason: fmt.Sprintf("provider %q has no IdP entity ID", cfg.Name)}
	}
	if cfg.SSOURL == "" {
		return &saml.InvalidConfigurationError{Field: "sso_url", Reason: fmt.Sprintf("provider %q has no IdP SSO URL", cfg.Name)}
	}
	if cfg.X509Certificate == "" {
		return &saml.InvalidConfigurationError{Field: "x509_certificate", Reason: fmt.Sprintf("provider %q has no IdP signing certificate", cfg.Name)}
	}
	if _, err := saml.ParseIdPCertificate(cfg.X509Certificate); err != nil {
		return &saml.InvalidConfigurationError{Field: "x509_certificate", Reason: fmt.Sprintf("provider %q: %v", cfg.Name, err)}
	}
	return nil
}

// Sanitized returns a copy safe for API responses and logs. Client secrets
// never leave the process. The SAML block carries only the IdP's public
// signing certificate, so it passes through unchanged.
func (p *ProviderRecord) Sanitized() *ProviderRecord {
	out := *p
	if p.SAML != nil {
		cfg := *p.SAML
		out.SAML = &cfg
	}
	if p.OIDC != nil {
		cfg := *p.OIDC
		cfg.ClientSecret = ""
		out.OIDC = &cfg
	}
	return &out
}

// Label returns the human-facing name shown on login pages.
func (p *ProviderRecord) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}
