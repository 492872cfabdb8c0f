// Package oidc implements the OpenID Connect backend of the Gatehouse
// broker.
//
// # Overview
//
// The backend plays the relying-party role of the authorization code flow:
// it discovers each configured issuer, sends the browser to its
// authorization endpoint, exchanges the returned code, verifies the ID
// token, and maps the verified claims into the same NormalizedIdentity the
// SAML backend produces. Downstream of login, the broker cannot tell the
// two protocols apart.
//
// Endpoint discovery and ID token verification are delegated to
// github.com/coreos/go-oidc; token exchange to golang.org/x/oauth2.
// Discovery runs lazily on the first login per provider and is cached until
// the provider set is replaced, so a slow or offline issuer never blocks
// startup.
//
// # Providers
//
// Each issuer is a ProviderConfig: issuer URL, client credentials, scopes,
// and a ClaimMap naming the claims that feed the identity fields. The claim
// names default to the standard ones (sub, preferred_username, email, name,
// given_name, family_name).
//
//	backend, err := oidc.NewBackend("https://sso.example.com", []*oidc.ProviderConfig{{
//		Name:         "corp-azure",
//		IssuerURL:    "https://login.example.com/tenant/v2.0",
//		ClientID:     clientID,
//		ClientSecret: clientSecret,
//	}}, nil)
//
// # Login Flow
//
//	// GET /auth/sso/{provider}/login
//	authURL, err := backend.AuthURL(ctx, "corp-azure", state)
//	// GET /auth/sso/{provider}/callback?code=...&state=...
//	identity, err := backend.CompleteLogin(ctx, "corp-azure", code)
//
// The state parameter is owned by the HTTP layer: the broker generates it,
// stores it in a short-lived cookie, and rejects callbacks that do not echo
// it before CompleteLogin runs.
//
// Policy hooks run exactly as in the SAML backend, with the flattened claim
// set standing in for the assertion attributes.
package oidc
