// Package saml implements the SAML 2.0 Web Browser SSO backend of the
// Gatehouse broker.
//
// # Overview
//
// The package plays the service-provider (SP) role: it holds named identity
// provider records in a Registry, builds the login redirect to an IdP, hands
// the posted SAMLResponse to the protocol engine for validation, and maps the
// verified attribute statement into a NormalizedIdentity that the broker
// links to a local account.
//
// All protocol-level security (XML signature verification, canonicalization,
// audience, recipient and time-window checks) is delegated to
// github.com/russellhaering/gosaml2. This package configures the engine and
// interprets its results; it deliberately contains no signature or assertion
// parsing code of its own.
//
// # Identity Providers
//
// Each IdP is an IdentityProviderConfig: entity ID, SSO URL, binding,
// signing certificate, and per-role attribute name overrides. Provider names
// are slugs without colons or spaces because the externally visible user ID
// is "<provider>:<permanent id>".
//
//	registry, err := saml.NewRegistry(saml.IdentityProviderConfig{
//		Name:            "corp-okta",
//		EntityID:        "http://www.okta.com/abc123",
//		SSOURL:          "https://corp.okta.com/app/abc123/sso/saml",
//		X509Certificate: oktaCert,
//		Attributes: saml.AttributeMap{
//			Username: "urn:oid:1.3.6.1.4.1.5923.1.1.1.6",
//		},
//	})
//
// # Claims Mapping
//
// ClaimsMapper resolves six logical roles (permanent ID plus five optional
// profile fields) against the attribute set, using the well-known OID URNs
// as defaults. The permanent ID is mandatory; everything else is
// best-effort. Multi-valued attributes always contribute their first value.
//
// # Login Flow
//
//	backend, err := saml.NewBackend(settings, registry, nil)
//	// GET /auth/sso/{provider}/login
//	backend.Begin(w, r, "corp-okta")
//	// POST /auth/sso/callback
//	identity, err := backend.CompleteLogin(r.Context(), r)
//	// identity.ExternalID() == "corp-okta:<permanent id>"
//
// The RelayState round-trips the provider name (plus a nonce for logins this
// SP started) through the IdP, so a single assertion consumer endpoint
// serves every provider.
//
// # Policy Hooks
//
// A PolicyHook runs after protocol validation and before account linking and
// may veto the login, for example to require an entitlement attribute:
//
//	backend, err := saml.NewBackend(settings, registry,
//		saml.RequireEntitlement("urn:mace:example.org:permission:app"))
//
// A nil hook admits every protocol-valid login.
//
// # Related Packages
//
//   - pkg/broker: HTTP surface, provisioning pipeline, sessions
//   - pkg/oidc: the OpenID Connect sibling backend
package saml
