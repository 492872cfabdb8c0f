package broker

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openclave/gatehouse/pkg/account"
	"github.com/openclave/gatehouse/pkg/observability"
	"github.com/openclave/gatehouse/pkg/oidc"
	"github.com/openclave/gatehouse/pkg/saml"
)

// ErrProviderNotFound is returned when no catalog entry matches the
// requested provider name.
var ErrProviderNotFound = errors.New("provider not found")

// ErrProviderExists is returned when creating a provider whose name is
// already taken in the database catalog.
var ErrProviderExists = errors.New("provider already exists")

// ErrSessionNotFound is returned when a session ID does not resolve, either
// because it never existed, expired, or was revoked.
var ErrSessionNotFound = errors.New("session not found")

// ProviderDisabledError is returned when a login names a provider that
// exists in the catalog but is switched off.
type ProviderDisabledError struct {
	Name string
}

func (e *ProviderDisabledError) Error() string {
	return fmt.Sprintf("provider %q is disabled", e.Name)
}

// AccountSuspendedError is returned when the identity provider asserts a
// user whose local account has been suspended. The upstream login succeeded;
// the rejection is a local policy decision.
type AccountSuspendedError struct {
	AccountID string
}

func (e *AccountSuspendedError) Error() string {
	return fmt.Sprintf("account %s is suspended", e.AccountID)
}

// StatusForError maps broker and backend errors to HTTP status codes. The
// split matters operationally: 401 means the assertion or token failed
// validation, 403 means authentication succeeded but policy said no, and
// 502 means the upstream identity provider misbehaved.
func StatusForError(err error) int {
	var (
		unknownProvider *saml.UnknownProviderError
		protocol        *saml.ProtocolValidationError
		missingAttr     *saml.MissingAttributeError
		policyRejected  *saml.PolicyRejectedError
		invalidConfig   *saml.InvalidConfigurationError
		tokenInvalid    *oidc.TokenValidationError
		exchange        *oidc.ExchangeError
		discovery       *oidc.DiscoveryError
		disabled        *ProviderDisabledError
		suspended       *AccountSuspendedError
	)
	switch {
	case errors.As(err, &unknownProvider), errors.Is(err, ErrProviderNotFound), errors.Is(err, account.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &disabled):
		return http.StatusForbidden
	case errors.As(err, &protocol), errors.As(err, &missingAttr), errors.As(err, &tokenInvalid):
		return http.StatusUnauthorized
	case errors.As(err, &policyRejected), errors.As(err, &suspended):
		return http.StatusForbidden
	case errors.As(err, &invalidConfig), errors.Is(err, ErrCatalogReadOnly):
		return http.StatusBadRequest
	case errors.Is(err, ErrProviderExists):
		return http.StatusConflict
	case errors.As(err, &exchange), errors.As(err, &discovery):
		return http.StatusBadGateway
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// loginOutcome buckets an error into the metric outcome labels used on the
// completed-logins counter.
func loginOutcome(err error) string {
	var (
		unknownProvider *saml.UnknownProviderError
		protocol        *saml.ProtocolValidationError
		missingAttr     *saml.MissingAttributeError
		policyRejected  *saml.PolicyRejectedError
		tokenInvalid    *oidc.TokenValidationError
		disabled        *ProviderDisabledError
		suspended       *AccountSuspendedError
	)
	switch {
	case err == nil:
		return observability.LoginOutcomeSuccess
	case errors.As(err, &protocol):
		if protocol.Stage == saml.StageReplay {
			return observability.LoginOutcomeReplay
		}
		return observability.LoginOutcomeInvalid
	case errors.As(err, &tokenInvalid), errors.As(err, &missingAttr):
		return observability.LoginOutcomeInvalid
	case errors.As(err, &policyRejected), errors.As(err, &suspended), errors.As(err, &disabled):
		return observability.LoginOutcomeDenied
	case errors.As(err, &unknownProvider), errors.Is(err, ErrProviderNotFound):
		return observability.LoginOutcomeUnknownProvider
	default:
		return observability.LoginOutcomeError
	}
}
