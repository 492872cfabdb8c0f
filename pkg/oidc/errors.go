package oidc

import "fmt"

// DiscoveryError reports a failure loading an issuer's discovery document or
// signing keys. Usually transient; the issuer may be down or unreachable.
type DiscoveryError struct {
	Provider string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("oidc discovery for provider %q failed: %v", e.Provider, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ExchangeError reports a failed authorization-code exchange against the
// issuer's token endpoint. The code may have expired or been replayed, or
// the issuer may be unreachable.
type ExchangeError struct {
	Provider string
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("oidc token exchange with provider %q failed: %v", e.Provider, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// TokenValidationError reports an ID token that failed verification or could
// not be parsed. Terminal for the login attempt.
type TokenValidationError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *TokenValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oidc token from provider %q rejected: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("oidc token from provider %q rejected: %s", e.Provider, e.Reason)
}

func (e *TokenValidationError) Unwrap() error {
	return e.Err
}
