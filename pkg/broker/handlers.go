package broker

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/openclave/gatehouse/pkg/httputil"
	"github.com/openclave/gatehouse/pkg/observability"
	"github.com/openclave/gatehouse/pkg/oidc"
	"github.com/openclave/gatehouse/pkg/saml"
)

// SessionCookieName carries the session ID issued after a completed login.
const SessionCookieName = "gatehouse_session"

// ReturnCookieName remembers where to send the browser after the identity
// provider round trip.
const ReturnCookieName = "gatehouse_return"

// Handlers is the HTTP surface over the broker: the browser-facing login
// endpoints and the admin catalog API.
type Handlers struct {
	broker *Broker
	logger *observability.Logger
}

// NewHandlers creates the HTTP handlers for the broker.
func NewHandlers(b *Broker, logger *observability.Logger) *Handlers {
	return &Handlers{broker: b, logger: logger.WithComponent("broker_handlers")}
}

// RegisterPublicRoutes mounts the browser-facing login endpoints. The
// literal routes are registered before the {provider} routes so the fixed
// paths never capture as a provider name.
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/auth/sso/login", h.startLogin).Methods(http.MethodGet)
	router.HandleFunc("/auth/sso/callback", h.samlCallback).Methods(http.MethodPost)
	router.HandleFunc("/auth/sso/metadata", h.metadata).Methods(http.MethodGet)
	router.HandleFunc("/auth/sso/providers", h.loginOptions).Methods(http.MethodGet)
	router.HandleFunc("/auth/sso/session", h.sessionInfo).Methods(http.MethodGet)
	router.HandleFunc("/auth/sso/logout", h.logout).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/auth/sso/{provider}/login", h.startLogin).Methods(http.MethodGet)
	router.HandleFunc("/auth/sso/{provider}/callback", h.oidcCallback).Methods(http.MethodGet)
}

// RegisterAdminRoutes mounts the catalog and account management API,
// relative to whatever prefix the caller's router carries.
func (h *Handlers) RegisterAdminRoutes(router *mux.Router) {
	router.HandleFunc("/sso/providers", h.listProviders).Methods(http.MethodGet)
	router.HandleFunc("/sso/providers", h.createProvider).Methods(http.MethodPost)
	router.HandleFunc("/sso/providers/{name}", h.getProvider).Methods(http.MethodGet)
	router.HandleFunc("/sso/providers/{name}", h.updateProvider).Methods(http.MethodPut)
	router.HandleFunc("/sso/providers/{name}", h.deleteProvider).Methods(http.MethodDelete)
	router.HandleFunc("/sso/providers/{name}/enable", h.enableProvider).Methods(http.MethodPost)
	router.HandleFunc("/sso/providers/{name}/disable", h.disableProvider).Methods(http.MethodPost)
	router.HandleFunc("/sso/reload", h.reloadProviders).Methods(http.MethodPost)
	router.HandleFunc("/sso/accounts/{id}/sessions", h.accountSessions).Methods(http.MethodGet)
	router.HandleFunc("/sso/accounts/{id}/sessions", h.revokeAccountSessions).Methods(http.MethodDelete)
	router.HandleFunc("/sso/accounts/{id}/suspend", h.suspendAccount).Methods(http.MethodPost)
	router.HandleFunc("/sso/accounts/{id}/unsuspend", h.unsuspendAccount).Methods(http.MethodPost)
}

// startLogin begins a login. The provider comes from the path when present,
// then the idp query parameter, then the deployment default.
func (h *Handlers) startLogin(w http.ResponseWriter, r *http.Request) {
	name := httputil.ParseQueryString(r, "idp", "")
	if v := mux.Vars(r)["provider"]; v != "" {
		name = v
	}

	if returnURL := httputil.ParseQueryString(r, "return_url", ""); returnURL != "" {
		if !isSafeReturnURL(returnURL) {
			httputil.WriteBadRequest(w, "return_url must be a relative path")
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     ReturnCookieName,
			Value:    returnURL,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   600,
		})
	}

	if err := h.broker.Login(w, r, name); err != nil {
		h.writeError(w, err)
	}
}

func (h *Handlers) samlCallback(w http.ResponseWriter, r *http.Request) {
	h.completeLogin(w, r, saml.BackendKind, "")
}

func (h *Handlers) oidcCallback(w http.ResponseWriter, r *http.Request) {
	h.completeLogin(w, r, oidc.BackendKind, mux.Vars(r)["provider"])
}

func (h *Handlers) completeLogin(w http.ResponseWriter, r *http.Request, kind, provider string) {
	ctx := r.Context()

	// A live session during a callback means a signed-in user is adding a
	// second identity, not signing in fresh.
	linkTo := ""
	if sess := h.currentSession(r); sess != nil {
		linkTo = sess.AccountID
	}

	returnURL := h.consumeReturnURL(r)
	result, err := h.broker.CompleteLogin(ctx, r, kind, provider, linkTo)
	h.clearTransientCookies(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	maxAge := int(time.Until(result.Session.ExpiresAt).Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    result.Session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
	http.Redirect(w, r, returnURL, http.StatusFound)
}

func (h *Handlers) metadata(w http.ResponseWriter, r *http.Request) {
	data, err := h.broker.Metadata()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(data)
}

// loginOptions lists the enabled providers in the shape a login page needs.
// Nothing sensitive: name, label, and where to send the browser.
func (h *Handlers) loginOptions(w http.ResponseWriter, r *http.Request) {
	type option struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Backend     string `json:"backend"`
		LoginURL    string `json:"login_url"`
	}

	var options []option
	for _, rec := range h.broker.Providers() {
		if !rec.Enabled {
			continue
		}
		options = append(options, option{
			Name:        rec.Name,
			DisplayName: rec.Label(),
			Backend:     rec.Backend,
			LoginURL:    "/auth/sso/" + rec.Name + "/login",
		})
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"providers": options,
		"count":     len(options),
	})
}

func (h *Handlers) sessionInfo(w http.ResponseWriter, r *http.Request) {
	sess := h.currentSession(r)
	if sess == nil {
		httputil.WriteUnauthorized(w, "no active session")
		return
	}

	acct, err := h.broker.Account(r.Context(), sess.AccountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"account": acct,
	})
}

// logout is idempotent: with no live session it still clears the cookie and
// redirects. When the provider advertises single logout the browser is
// forwarded there instead of the local return target.
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	returnURL := "/"
	if v := httputil.ParseQueryString(r, "return_url", ""); isSafeReturnURL(v) {
		returnURL = v
	}

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		http.Redirect(w, r, returnURL, http.StatusFound)
		return
	}

	sess, sloURL, err := h.broker.Logout(r.Context(), r, cookie.Value)
	clearCookie(w, r, SessionCookieName)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Redirect(w, r, returnURL, http.StatusFound)
			return
		}
		h.writeError(w, err)
		return
	}

	h.logger.WithField("account_id", sess.AccountID).WithProvider(sess.Provider).Debug("session logged out")
	if sloURL != "" {
		http.Redirect(w, r, sloURL, http.StatusFound)
		return
	}
	http.Redirect(w, r, returnURL, http.StatusFound)
}

func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	records := h.broker.Providers()
	sanitized := make([]*ProviderRecord, 0, len(records))
	for _, rec := range records {
		sanitized = append(sanitized, rec.Sanitized())
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"providers": sanitized,
		"count":     len(sanitized),
	})
}

func (h *Handlers) getProvider(w http.ResponseWriter, r *http.Request) {
	rec, err := h.broker.Provider(mux.Vars(r)["name"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec.Sanitized())
}

func (h *Handlers) createProvider(w http.ResponseWriter, r *http.Request) {
	var rec ProviderRecord
	if !httputil.ParseJSONOrError(w, r, &rec) {
		return
	}
	if err := h.broker.CreateProvider(r.Context(), r, &rec); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, rec.Sanitized())
}

func (h *Handlers) updateProvider(w http.ResponseWriter, r *http.Request) {
	var rec ProviderRecord
	if !httputil.ParseJSONOrError(w, r, &rec) {
		return
	}
	// The path is authoritative for the name; renames are not a thing.
	rec.Name = mux.Vars(r)["name"]
	if err := h.broker.UpdateProvider(r.Context(), r, &rec); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec.Sanitized())
}

func (h *Handlers) deleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.broker.DeleteProvider(r.Context(), r, mux.Vars(r)["name"]); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) enableProvider(w http.ResponseWriter, r *http.Request) {
	h.setProviderEnabled(w, r, true)
}

func (h *Handlers) disableProvider(w http.ResponseWriter, r *http.Request) {
	h.setProviderEnabled(w, r, false)
}

func (h *Handlers) setProviderEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := mux.Vars(r)["name"]
	if err := h.broker.SetProviderEnabled(r.Context(), r, name, enabled); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"name":    name,
		"enabled": enabled,
	})
}

func (h *Handlers) reloadProviders(w http.ResponseWriter, r *http.Request) {
	if err := h.broker.ReloadFile(r.Context(), "admin"); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"providers": len(h.broker.Providers()),
	})
}

func (h *Handlers) accountSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.broker.Sessions().Sessions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *Handlers) revokeAccountSessions(w http.ResponseWriter, r *http.Request) {
	revoked, err := h.broker.RevokeAccountSessions(r.Context(), mux.Vars(r)["id"], RevokeReasonAdmin)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"revoked": revoked,
	})
}

func (h *Handlers) suspendAccount(w http.ResponseWriter, r *http.Request) {
	h.setAccountSuspended(w, r, true)
}

func (h *Handlers) unsuspendAccount(w http.ResponseWriter, r *http.Request) {
	h.setAccountSuspended(w, r, false)
}

func (h *Handlers) setAccountSuspended(w http.ResponseWriter, r *http.Request, suspended bool) {
	id := mux.Vars(r)["id"]
	if err := h.broker.SuspendAccount(r.Context(), id, suspended); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"suspended":  suspended,
	})
}

// currentSession resolves the session cookie to a live session, or nil.
func (h *Handlers) currentSession(r *http.Request) *Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	sess, err := h.broker.Sessions().Get(r.Context(), cookie.Value)
	if err != nil {
		return nil
	}
	return sess
}

// consumeReturnURL reads the post-login destination set when the login
// started. The cookie value is re-validated here; a cookie is attacker
// writable on shared-suffix domains.
func (h *Handlers) consumeReturnURL(r *http.Request) string {
	cookie, err := r.Cookie(ReturnCookieName)
	if err != nil || !isSafeReturnURL(cookie.Value) {
		return "/"
	}
	return cookie.Value
}

func (h *Handlers) clearTransientCookies(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, r, saml.RelayCookieName)
	clearCookie(w, r, OAuthStateCookieName)
	clearCookie(w, r, ReturnCookieName)
}

func clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	switch status {
	case http.StatusInternalServerError:
		h.logger.WithError(err).Error("request failed")
		httputil.WriteInternalError(w, errors.New("internal error"))
	case http.StatusUnauthorized:
		// Validation detail goes to the log, not the browser.
		h.logger.WithError(err).Warn("authentication failed")
		httputil.WriteUnauthorized(w, "authentication failed")
	case http.StatusBadGateway:
		h.logger.WithError(err).Error("identity provider unreachable")
		httputil.WriteBadGateway(w, "identity provider unreachable")
	default:
		httputil.WriteErrorMessage(w, status, err.Error())
	}
}

// isSafeReturnURL accepts only same-origin relative paths, which is what
// keeps the login flow from being used as an open redirector.
func isSafeReturnURL(u string) bool {
	return strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") && !strings.Contains(u, "\\")
}
