package broker

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openclave/gatehouse/pkg/account"
	"github.com/openclave/gatehouse/pkg/observability"
	"github.com/openclave/gatehouse/pkg/oidc"
	"github.com/openclave/gatehouse/pkg/saml"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown provider", &saml.UnknownProviderError{Name: "ghost"}, http.StatusNotFound},
		{"wrapped provider not found", fmt.Errorf("%w: ghost", ErrProviderNotFound), http.StatusNotFound},
		{"account not found", fmt.Errorf("lookup: %w", account.ErrNotFound), http.StatusNotFound},
		{"disabled provider", &ProviderDisabledError{Name: "corp-okta"}, http.StatusForbidden},
		{"protocol validation", &saml.ProtocolValidationError{Stage: saml.StageResponse, Reason: "bad signature"}, http.StatusUnauthorized},
		{"missing attribute", &saml.MissingAttributeError{Provider: "corp-okta", Attribute: "uid"}, http.StatusUnauthorized},
		{"token validation", &oidc.TokenValidationError{Provider: "corp-azure", Reason: "bad audience"}, http.StatusUnauthorized},
		{"session not found", ErrSessionNotFound, http.StatusUnauthorized},
		{"policy rejection", &saml.PolicyRejectedError{Provider: "corp-okta", Reason: "no entitlement"}, http.StatusForbidden},
		{"suspended account", &AccountSuspendedError{AccountID: "acct-1"}, http.StatusForbidden},
		{"invalid configuration", &saml.InvalidConfigurationError{Field: "sso_url", Reason: "empty"}, http.StatusBadRequest},
		{"read-only catalog", ErrCatalogReadOnly, http.StatusBadRequest},
		{"provider exists", ErrProviderExists, http.StatusConflict},
		{"exchange failure", &oidc.ExchangeError{Provider: "corp-azure", Err: errors.New("502")}, http.StatusBadGateway},
		{"discovery failure", &oidc.DiscoveryError{Provider: "corp-azure", Err: errors.New("timeout")}, http.StatusBadGateway},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, StatusForError(tc.err))
		})
	}
}

func TestLoginOutcome(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{"success", nil, observability.LoginOutcomeSuccess},
		{"replay", &saml.ProtocolValidationError{Stage: saml.StageReplay}, observability.LoginOutcomeReplay},
		{"invalid response", &saml.ProtocolValidationError{Stage: saml.StageResponse}, observability.LoginOutcomeInvalid},
		{"invalid token", &oidc.TokenValidationError{Provider: "corp-azure"}, observability.LoginOutcomeInvalid},
		{"missing attribute", &saml.MissingAttributeError{Provider: "corp-okta"}, observability.LoginOutcomeInvalid},
		{"policy veto", &saml.PolicyRejectedError{Provider: "corp-okta"}, observability.LoginOutcomeDenied},
		{"suspended", &AccountSuspendedError{AccountID: "acct-1"}, observability.LoginOutcomeDenied},
		{"disabled", &ProviderDisabledError{Name: "corp-okta"}, observability.LoginOutcomeDenied},
		{"unknown provider", &saml.UnknownProviderError{Name: "ghost"}, observability.LoginOutcomeUnknownProvider},
		{"not in catalog", fmt.Errorf("%w: ghost", ErrProviderNotFound), observability.LoginOutcomeUnknownProvider},
		{"infrastructure", errors.New("redis down"), observability.LoginOutcomeError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.outcome, loginOutcome(tc.err))
		})
	}
}
