package saml

// SAML 2.0 HTTP binding URIs. An IdentityProviderConfig that leaves Binding
// empty gets BindingHTTPRedirect.
const (
	BindingHTTPRedirect = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
	BindingHTTPPost     = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
)

// Well-known attribute names most IdPs assert, as OID URNs. These are the
// defaults the ClaimsMapper falls back to when a provider configures no
// override.
const (
	OIDCommonName             = "urn:oid:2.5.4.3"
	OIDGivenName              = "urn:oid:2.5.4.42"
	OIDSurname                = "urn:oid:2.5.4.4"
	OIDMail                   = "urn:oid:0.9.2342.19200300.100.1.3"
	OIDUserID                 = "urn:oid:0.9.2342.19200300.100.1.1"
	OIDEduPersonPrincipalName = "urn:oid:1.3.6.1.4.1.5923.1.1.1.6"
	OIDEduPersonEntitlement   = "urn:oid:1.3.6.1.4.1.5923.1.1.1.7"
)

// NameIDAttribute is the synthetic AttributeSet key that carries the SAML
// subject NameID. Providers whose IdP asserts no usable identifier attribute
// can point their user_permanent_id override at it.
const NameIDAttribute = "name_id"

// AttributeMap assigns an assertion attribute name to each logical profile
// role. Empty fields fall back to the ClaimsMapper defaults.
type AttributeMap struct {
	PermanentID string `json:"user_permanent_id,omitempty" yaml:"user_permanent_id,omitempty"`
	FullName    string `json:"full_name,omitempty" yaml:"full_name,omitempty"`
	FirstName   string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	Username    string `json:"username,omitempty" yaml:"username,omitempty"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
}

// IdentityProviderConfig describes one upstream IdP. Records are immutable
// once handed to a Registry.
//
// Name doubles as the prefix of every external user ID minted for the
// provider, so it must not contain the ":" separator or spaces.
type IdentityProviderConfig struct {
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	EntityID    string `json:"entity_id" yaml:"entity_id"`
	SSOURL      string `json:"sso_url" yaml:"sso_url"`
	SLOURL      string `json:"slo_url,omitempty" yaml:"slo_url,omitempty"`
	Binding     string `json:"binding,omitempty" yaml:"binding,omitempty"`

	// X509Certificate holds the IdP signing certificate, either as PEM or as
	// the bare base64 DER commonly pasted out of IdP metadata.
	X509Certificate string `json:"x509_certificate" yaml:"x509_certificate"`

	Attributes AttributeMap `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// AttributeSet is the verified attribute statement of one processed
// assertion: attribute name to ordered values, plus the synthetic
// NameIDAttribute entry. It is produced once per login and read-only
// afterwards.
type AttributeSet map[string][]string

// First returns the first value of the named attribute, or "" when the
// attribute is absent or empty. Multi-valued attributes always resolve to
// their first value.
func (a AttributeSet) First(name string) string {
	if vs := a[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Values returns all values of the named attribute.
func (a AttributeSet) Values(name string) []string {
	return a[name]
}

// Has reports whether the named attribute carries at least one value.
func (a AttributeSet) Has(name string) bool {
	return len(a[name]) > 0
}

// NameID returns the SAML subject identifier folded into the set.
func (a AttributeSet) NameID() string {
	return a.First(NameIDAttribute)
}

// Assertion is the outcome of processing one SAMLResponse: the verified
// attributes plus the protocol details the caller needs for sessions and
// single logout.
type Assertion struct {
	Attributes   AttributeSet
	NameID       string
	SessionIndex string
}

// Profile holds the optional, best-effort profile fields mapped out of an
// assertion. Empty string means the IdP did not assert the field.
type Profile struct {
	FullName  string `json:"full_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
}

// NormalizedIdentity is the result of a completed login, handed to the
// account-linking pipeline. PermanentID is always set; the profile is
// best-effort. NameID and SessionIndex are carried through to the session so
// single logout can reference the IdP's own subject identifier.
type NormalizedIdentity struct {
	IdPName      string  `json:"idp_name"`
	PermanentID  string  `json:"permanent_id"`
	Profile      Profile `json:"profile"`
	NameID       string  `json:"name_id,omitempty"`
	SessionIndex string  `json:"session_index,omitempty"`
}

// ExternalID returns the externally visible user identifier. The provider
// name prefix keeps identifiers from different IdPs from colliding even when
// the IdPs assert the same raw ID.
func (n *NormalizedIdentity) ExternalID() string {
	return n.IdPName + ":" + n.PermanentID
}

// Organization appears in the generated service-provider metadata.
type Organization struct {
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	URL         string `json:"url" yaml:"url"`
}

// Contact appears in the generated service-provider metadata.
type Contact struct {
	GivenName string `json:"given_name" yaml:"given_name"`
	Email     string `json:"email" yaml:"email"`
}

// ServiceProviderSettings configures the local SP half of every exchange.
// Certificate and key material never serializes.
type ServiceProviderSettings struct {
	// EntityID is the SP issuer and audience. When empty it defaults to the
	// metadata URL derived from BaseURL.
	EntityID string `json:"entity_id"`

	// BaseURL is the public origin of this service; the assertion consumer
	// and metadata endpoints derive from it.
	BaseURL string `json:"base_url"`

	Certificate string `json:"-"`
	PrivateKey  string `json:"-"`

	Organization     Organization `json:"organization,omitempty"`
	TechnicalContact Contact      `json:"technical_contact,omitempty"`
	SupportContact   Contact      `json:"support_contact,omitempty"`

	// NameIDFormats lists the accepted subject identifier formats; the first
	// entry is requested in outgoing AuthnRequests.
	NameIDFormats []string `json:"name_id_formats,omitempty"`

	// DefaultProvider is used when a login request names no provider.
	DefaultProvider string `json:"default_provider,omitempty"`

	SignRequests bool `json:"sign_requests,omitempty"`
	ForceAuthn   bool `json:"force_authn,omitempty"`

	// SkipSignatureValidation disables response signature checks. Tests only.
	SkipSignatureValidation bool `json:"-"`
}

const (
	acsPath      = "/auth/sso/callback"
	metadataPath = "/auth/sso/metadata"
)

// AssertionConsumerServiceURL returns the single ACS endpoint shared by all
// providers; the RelayState carries the provider name through the round trip.
func (s ServiceProviderSettings) AssertionConsumerServiceURL() string {
	return s.BaseURL + acsPath
}

// MetadataURL returns where this SP serves its metadata document.
func (s ServiceProviderSettings) MetadataURL() string {
	return s.BaseURL + metadataPath
}

// Issuer returns the effective SP entity ID.
func (s ServiceProviderSettings) Issuer() string {
	if s.EntityID != "" {
		return s.EntityID
	}
	return s.MetadataURL()
}
