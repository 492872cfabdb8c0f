package saml

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

const (
	compiledProviderCacheSize = 64
	compiledProviderCacheTTL  = 5 * time.Minute
)

// Engine compiles provider records into configured gosaml2 service providers
// and drives the protocol exchanges through them. All of the hard SAML work
// (XML signatures, canonicalization, condition and audience checks) happens
// inside gosaml2; the engine only configures it and interprets its results.
//
// Compiled providers are cached briefly so repeated logins against the same
// provider do not re-parse certificates on every request. The cache key
// includes a digest of the provider record, so a changed record compiles
// fresh without any explicit invalidation.
type Engine struct {
	settings ServiceProviderSettings
	cache    *lru.LRU[string, *saml2.SAMLServiceProvider]
}

// NewEngine validates the SP settings and prepares the provider cache.
func NewEngine(settings ServiceProviderSettings) (*Engine, error) {
	if settings.BaseURL == "" {
		return nil, &InvalidConfigurationError{Field: "base_url", Reason: "service provider base URL is required"}
	}
	if settings.SignRequests && settings.PrivateKey == "" {
		return nil, &InvalidConfigurationError{Field: "private_key", Reason: "request signing requires a private key"}
	}
	if settings.PrivateKey != "" {
		if _, err := parsePrivateKey(settings.PrivateKey); err != nil {
			return nil, &InvalidConfigurationError{Field: "private_key", Reason: err.Error()}
		}
	}
	return &Engine{
		settings: settings,
		cache:    lru.NewLRU[string, *saml2.SAMLServiceProvider](compiledProviderCacheSize, nil, compiledProviderCacheTTL),
	}, nil
}

// Settings returns the SP settings the engine was built with.
func (e *Engine) Settings() ServiceProviderSettings {
	return e.settings
}

// BuildLoginRedirect returns the IdP URL to send the browser to, for
// providers using the HTTP-Redirect binding.
func (e *Engine) BuildLoginRedirect(cfg IdentityProviderConfig, relayState string) (string, error) {
	sp, err := e.serviceProvider(cfg)
	if err != nil {
		return "", err
	}
	authURL, err := sp.BuildAuthURL(relayState)
	if err != nil {
		return "", &ProtocolValidationError{Stage: StageRequest, Reason: "building authentication request", Err: err}
	}
	return authURL, nil
}

// BuildLoginForm returns a self-submitting HTML document that POSTs the
// AuthnRequest to the IdP, for providers using the HTTP-POST binding.
func (e *Engine) BuildLoginForm(cfg IdentityProviderConfig, relayState string) ([]byte, error) {
	sp, err := e.serviceProvider(cfg)
	if err != nil {
		return nil, err
	}
	form, err := sp.BuildAuthBodyPost(relayState)
	if err != nil {
		return nil, &ProtocolValidationError{Stage: StageRequest, Reason: "building authentication request form", Err: err}
	}
	var page strings.Builder
	page.WriteString("<!DOCTYPE html>\n<html>\n<head><title>Redirecting for sign-in</title></head>\n<body onload=\"document.forms[0].submit()\">\n")
	page.Write(form)
	page.WriteString("\n</body>\n</html>\n")
	return []byte(page.String()), nil
}

// ProcessResponse validates the base64-encoded SAMLResponse against the
// provider's certificate and folds the verified assertion into an
// AttributeSet. The encoded response is passed straight through to gosaml2,
// which does its own base64 handling.
func (e *Engine) ProcessResponse(encodedResponse string, cfg IdentityProviderConfig) (*Assertion, error) {
	sp, err := e.serviceProvider(cfg)
	if err != nil {
		return nil, err
	}
	info, err := sp.RetrieveAssertionInfo(encodedResponse)
	if err != nil {
		return nil, &ProtocolValidationError{Stage: StageResponse, Reason: "assertion validation failed", Err: err}
	}
	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return nil, &ProtocolValidationError{Stage: StageTime, Reason: "assertion outside its validity window"}
		}
		if info.WarningInfo.NotInAudience {
			return nil, &ProtocolValidationError{Stage: StageAudience, Reason: "assertion audience does not include this service provider"}
		}
	}

	attrs := make(AttributeSet, len(info.Values)+1)
	for _, attr := range info.Values {
		if attr.Name == "" {
			continue
		}
		values := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			values = append(values, v.Value)
		}
		attrs[attr.Name] = values
	}
	attrs[NameIDAttribute] = []string{info.NameID}

	return &Assertion{
		Attributes:   attrs,
		NameID:       info.NameID,
		SessionIndex: info.SessionIndex,
	}, nil
}

// BuildLogoutRedirect returns the IdP single-logout URL carrying a
// LogoutRequest for the given subject, or "" when the provider has no SLO
// endpoint configured.
func (e *Engine) BuildLogoutRedirect(cfg IdentityProviderConfig, nameID, sessionIndex string) (string, error) {
	if cfg.SLOURL == "" {
		return "", nil
	}
	doc, err := xml.Marshal(logoutRequest{
		ID:           "_" + generateID(),
		Version:      "2.0",
		IssueInstant: time.Now().UTC().Format(time.RFC3339),
		Destination:  cfg.SLOURL,
		Issuer:       e.settings.Issuer(),
		NameID: logoutNameID{
			Format: "urn:oasis:names:tc:SAML:2.0:nameid-format:transient",
			Value:  nameID,
		},
		SessionIndex: sessionIndex,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode logout request: %w", err)
	}

	sloURL, err := url.Parse(cfg.SLOURL)
	if err != nil {
		return "", &InvalidConfigurationError{Field: "slo_url", Reason: err.Error()}
	}
	query := sloURL.Query()
	query.Set("SAMLRequest", base64.StdEncoding.EncodeToString(append([]byte(xml.Header), doc...)))
	sloURL.RawQuery = query.Encode()
	return sloURL.String(), nil
}

type logoutRequest struct {
	XMLName      xml.Name     `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutRequest"`
	ID           string       `xml:"ID,attr"`
	Version      string       `xml:"Version,attr"`
	IssueInstant string       `xml:"IssueInstant,attr"`
	Destination  string       `xml:"Destination,attr"`
	Issuer       string       `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	NameID       logoutNameID `xml:"urn:oasis:names:tc:SAML:2.0:assertion NameID"`
	SessionIndex string       `xml:"urn:oasis:names:tc:SAML:2.0:protocol SessionIndex,omitempty"`
}

type logoutNameID struct {
	Format string `xml:"Format,attr"`
	Value  string `xml:",chardata"`
}

func (e *Engine) serviceProvider(cfg IdentityProviderConfig) (*saml2.SAMLServiceProvider, error) {
	key := cfg.Name + "#" + configDigest(cfg)
	if sp, ok := e.cache.Get(key); ok {
		return sp, nil
	}
	sp, err := e.buildServiceProvider(cfg)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, sp)
	return sp, nil
}

func (e *Engine) buildServiceProvider(cfg IdentityProviderConfig) (*saml2.SAMLServiceProvider, error) {
	certStore := &dsig.MemoryX509CertificateStore{}
	if cfg.X509Certificate != "" {
		cert, err := ParseIdPCertificate(cfg.X509Certificate)
		if err != nil {
			return nil, &InvalidConfigurationError{Field: "x509_certificate", Reason: fmt.Sprintf("provider %q: %v", cfg.Name, err)}
		}
		certStore.Roots = []*x509.Certificate{cert}
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.SSOURL,
		IdentityProviderIssuer:      cfg.EntityID,
		ServiceProviderIssuer:       e.settings.Issuer(),
		AssertionConsumerServiceURL: e.settings.AssertionConsumerServiceURL(),
		AudienceURI:                 e.settings.Issuer(),
		IDPCertificateStore:         certStore,
		SignAuthnRequests:           e.settings.SignRequests,
		ForceAuthn:                  e.settings.ForceAuthn,
		SkipSignatureValidation:     e.settings.SkipSignatureValidation,
		AllowMissingAttributes:      true,
	}
	if len(e.settings.NameIDFormats) > 0 {
		sp.NameIdFormat = e.settings.NameIDFormats[0]
	}

	if e.settings.PrivateKey != "" {
		privateKey, err := parsePrivateKey(e.settings.PrivateKey)
		if err != nil {
			return nil, &InvalidConfigurationError{Field: "private_key", Reason: err.Error()}
		}
		sp.SPKeyStore = &dsig.TLSCertKeyStore{
			PrivateKey:  privateKey,
			Certificate: [][]byte{[]byte(e.settings.Certificate)},
		}
	}

	return sp, nil
}

// ParseIdPCertificate accepts either a PEM block or the bare base64 DER that
// IdP metadata documents embed, and returns the parsed certificate.
func ParseIdPCertificate(raw string) (*x509.Certificate, error) {
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return cert, nil
	}

	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, raw)
	der, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("certificate is neither PEM nor base64 DER: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

func parsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

func configDigest(cfg IdentityProviderConfig) string {
	h := sha256.New()
	for _, field := range []string{cfg.EntityID, cfg.SSOURL, cfg.SLOURL, cfg.Binding, cfg.X509Certificate} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// ResponseDigest fingerprints an encoded SAMLResponse for replay tracking.
// Callers record digests in a shared store and refuse to process the same
// response twice.
func ResponseDigest(encodedResponse string) string {
	sum := sha256.Sum256([]byte(encodedResponse))
	return hex.EncodeToString(sum[:])
}

// generateID returns a random identifier suitable for SAML request IDs and
// relay nonces.
func generateID() string {
	b := make([]byte, 20)
	rand.Read(b)
	return hex.EncodeToString(b)
}
