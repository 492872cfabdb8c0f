package saml

import "fmt"

// UnknownProviderError reports a login attempt against a provider name that
// is not registered. Not retryable; the caller chose a bad name.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	if e.Name == "" {
		return "no identity provider specified"
	}
	return fmt.Sprintf("unknown identity provider %q", e.Name)
}

// InvalidConfigurationError reports a malformed provider record or SP
// setting. Raised at construction time and fatal for the configuration that
// produced it.
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// MissingAttributeError reports that a verified assertion lacks the attribute
// configured as the permanent user identifier. The login fails: without the
// identifier there is no stable account to link.
type MissingAttributeError struct {
	Attribute string
	Provider  string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("assertion from provider %q is missing required attribute %q", e.Provider, e.Attribute)
}

// Stages at which protocol validation can fail.
const (
	StageRequest  = "request"
	StageResponse = "response"
	StageTime     = "time"
	StageAudience = "audience"
	StageReplay   = "replay"
)

// ProtocolValidationError wraps a failure reported by the SAML protocol
// engine while building a request or validating a response. Terminal for the
// attempt; retrying means redoing the whole redirect.
type ProtocolValidationError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *ProtocolValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("saml %s validation failed: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("saml %s validation failed: %s", e.Stage, e.Reason)
}

func (e *ProtocolValidationError) Unwrap() error {
	return e.Err
}

// PolicyRejectedError reports that a post-authentication policy hook vetoed
// an otherwise valid login.
type PolicyRejectedError struct {
	Provider string
	Reason   string
}

func (e *PolicyRejectedError) Error() string {
	return fmt.Sprintf("login via provider %q rejected by policy: %s", e.Provider, e.Reason)
}
