package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openclave/gatehouse/pkg/account"
	"github.com/openclave/gatehouse/pkg/audit"
	"github.com/openclave/gatehouse/pkg/observability"
	"github.com/openclave/gatehouse/pkg/oidc"
	"github.com/openclave/gatehouse/pkg/saml"
)

// Session revocation reasons, used as the reason label on the revoked
// counter and in audit events.
const (
	RevokeReasonLogout    = "logout"
	RevokeReasonSuspended = "suspended"
	RevokeReasonAdmin     = "admin"
	RevokeReasonExpired   = "expired"
)

// Config carries the broker's own settings. Provider configuration comes
// from the catalog layers, not from here.
type Config struct {
	// SP configures the local SAML service provider half. Its BaseURL also
	// anchors the OIDC redirect URLs and its DefaultProvider is the
	// deployment-wide fallback when a login names no provider.
	SP saml.ServiceProviderSettings

	// Policy runs after protocol validation on every backend. A veto stops
	// the login before any account is touched.
	Policy saml.PolicyHook

	SessionTTL   time.Duration
	ReplayWindow time.Duration
}

// Deps are the broker's external collaborators. Redis, the account store,
// metrics, and the logger are required. A nil provider store runs the
// catalog from the file layer alone, and a nil audit logger discards audit
// events.
type Deps struct {
	Files    *FileSource
	Store    *ProviderStore
	Redis    *redis.Client
	Accounts *account.Store
	Audit    audit.Logger
	Metrics  *observability.Metrics
	Logger   *observability.Logger

	// OTel carries the OpenTelemetry login instruments. Optional; nil skips
	// them and leaves the Prometheus metrics as the only pipeline.
	OTel *observability.OTelMetrics
}

// Broker ties the protocol backends to the provider catalog, sessions,
// replay protection, and account provisioning. It is the one component that
// sees a login end to end.
type Broker struct {
	cfg Config

	samlEngine *saml.Backend
	oidcEngine *oidc.Backend
	backends   map[string]Backend

	files       *FileSource
	store       *ProviderStore
	sessions    *SessionStore
	replays     *ReplayGuard
	provisioner *Provisioner
	accounts    *account.Store
	audit       audit.Logger
	metrics     *observability.Metrics
	otel        *observability.OTelMetrics
	logger      *observability.Logger

	mu      sync.RWMutex
	catalog map[string]*ProviderRecord
}

// New assembles a broker and loads the initial provider catalog. An
// unreachable catalog layer is a startup error; running with silently
// missing providers would strand every login routed to them.
func New(cfg Config, deps Deps) (*Broker, error) {
	if deps.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if deps.Accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if deps.Metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.Files == nil {
		files, err := NewFileSource("", nil)
		if err != nil {
			return nil, err
		}
		deps.Files = files
	}

	registry, err := saml.NewRegistry()
	if err != nil {
		return nil, err
	}
	samlEngine, err := saml.NewBackend(cfg.SP, registry, cfg.Policy)
	if err != nil {
		return nil, err
	}
	oidcEngine, err := oidc.NewBackend(cfg.SP.BaseURL, nil, cfg.Policy)
	if err != nil {
		return nil, err
	}

	b := &Broker{
		cfg:        cfg,
		samlEngine: samlEngine,
		oidcEngine: oidcEngine,
		backends: map[string]Backend{
			saml.BackendKind: NewSAMLBackend(samlEngine),
			oidc.BackendKind: NewOIDCBackend(oidcEngine),
		},
		files:       deps.Files,
		store:       deps.Store,
		sessions:    NewSessionStore(deps.Redis, cfg.SessionTTL),
		replays:     NewReplayGuard(deps.Redis, cfg.ReplayWindow),
		provisioner: NewProvisioner(deps.Accounts, deps.Logger),
		accounts:    deps.Accounts,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		otel:        deps.OTel,
		logger:      deps.Logger.WithComponent("broker"),
		catalog:     make(map[string]*ProviderRecord),
	}

	if err := b.Rebuild(context.Background()); err != nil {
		return nil, err
	}
	return b, nil
}

// Sessions exposes the session store for middleware and background jobs.
func (b *Broker) Sessions() *SessionStore {
	return b.sessions
}

// Account loads a local account by ID.
func (b *Broker) Account(ctx context.Context, id string) (*account.Account, error) {
	return b.accounts.Get(ctx, id)
}

// Replays exposes the replay guard for background jobs.
func (b *Broker) Replays() *ReplayGuard {
	return b.replays
}

// Rebuild merges the catalog layers and swaps the result into the protocol
// backends. The database layer wins name collisions so operators can
// override a file-shipped provider through the admin API without touching
// the file.
func (b *Broker) Rebuild(ctx context.Context) error {
	records := make(map[string]*ProviderRecord)
	for _, rec := range b.files.Records() {
		records[rec.Name] = rec
	}
	if b.store != nil {
		dbRecords, err := b.store.List(ctx, false)
		if err != nil {
			return fmt.Errorf("failed to load provider catalog: %w", err)
		}
		for _, rec := range dbRecords {
			if _, shadowed := records[rec.Name]; shadowed {
				b.logger.WithProvider(rec.Name).Warn("database provider overrides file provider with the same name")
			}
			records[rec.Name] = rec
		}
	}

	var samlConfigs []saml.IdentityProviderConfig
	var oidcConfigs []*oidc.ProviderConfig
	for _, rec := range records {
		if !rec.Enabled {
			continue
		}
		switch rec.Backend {
		case saml.BackendKind:
			if rec.SAML == nil {
				return fmt.Errorf("provider %q has no saml configuration", rec.Name)
			}
			samlConfigs = append(samlConfigs, *rec.SAML)
		case oidc.BackendKind:
			if rec.OIDC == nil {
				return fmt.Errorf("provider %q has no oidc configuration", rec.Name)
			}
			oidcConfigs = append(oidcConfigs, rec.OIDC)
		default:
			return fmt.Errorf("provider %q has unknown backend %q", rec.Name, rec.Backend)
		}
	}

	// Validate before swapping anything: the registry build has no side
	// effects, and ReplaceProviders only swaps on success, so a bad record
	// leaves both engines on their previous configuration.
	registry, err := saml.NewRegistry(samlConfigs...)
	if err != nil {
		return fmt.Errorf("failed to build saml registry: %w", err)
	}
	if err := b.oidcEngine.ReplaceProviders(oidcConfigs); err != nil {
		return fmt.Errorf("failed to replace oidc providers: %w", err)
	}
	b.samlEngine.ReplaceRegistry(registry)

	b.mu.Lock()
	b.catalog = records
	b.mu.Unlock()

	b.metrics.ProvidersConfigured.WithLabelValues(saml.BackendKind).Set(float64(len(samlConfigs)))
	b.metrics.ProvidersConfigured.WithLabelValues(oidc.BackendKind).Set(float64(len(oidcConfigs)))
	b.logger.WithFields(map[string]interface{}{
		"providers": len(records),
		"saml":      len(samlConfigs),
		"oidc":      len(oidcConfigs),
	}).Info("provider catalog rebuilt")
	return nil
}

// Reload rebuilds the catalog and records the outcome on the reload
// counter. source says which layer triggered it.
func (b *Broker) Reload(ctx context.Context, source string) error {
	err := b.Rebuild(ctx)
	if b.otel != nil {
		b.otel.RecordProviderReload(ctx, source, err)
	}
	if err != nil {
		b.metrics.ProviderReloadsTotal.WithLabelValues(source, "error").Inc()
		return err
	}
	b.metrics.ProviderReloadsTotal.WithLabelValues(source, "success").Inc()
	return nil
}

// ReloadFile re-reads the provider file and rebuilds the catalog. The file
// watcher does this automatically; the admin reload endpoint uses this to
// force it.
func (b *Broker) ReloadFile(ctx context.Context, source string) error {
	if err := b.files.Reload(); err != nil {
		b.metrics.ProviderReloadsTotal.WithLabelValues(source, "error").Inc()
		return err
	}
	return b.Reload(ctx, source)
}

// WatchProviderFile hot-reloads the file catalog layer until ctx is done.
// Run it in its own goroutine.
func (b *Broker) WatchProviderFile(ctx context.Context) error {
	return b.files.Watch(ctx, func(loadErr error) {
		defer observability.RecoverPanic(b.logger, "provider reload")
		if loadErr != nil {
			b.metrics.ProviderReloadsTotal.WithLabelValues(SourceFile, "error").Inc()
			return
		}
		if err := b.Reload(ctx, SourceFile); err != nil {
			b.logger.WithError(err).Error("catalog rebuild failed after provider file change")
		}
	})
}

// Provider returns the catalog entry for name.
func (b *Broker) Provider(name string) (*ProviderRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return rec, nil
}

// Providers returns the full merged catalog ordered by name.
func (b *Broker) Providers() []*ProviderRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	records := make([]*ProviderRecord, 0, len(b.catalog))
	for _, rec := range b.catalog {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

// Login forwards the browser to the named provider, falling back to the
// configured default when name is empty. Disabled providers refuse the
// login rather than hiding, so a switched-off provider is distinguishable
// from a mistyped one.
func (b *Broker) Login(w http.ResponseWriter, r *http.Request, name string) error {
	if name == "" {
		name = b.cfg.SP.DefaultProvider
	}
	if name == "" {
		return &saml.UnknownProviderError{}
	}
	rec, err := b.Provider(name)
	if err != nil {
		return err
	}
	if !rec.Enabled {
		return &ProviderDisabledError{Name: name}
	}

	if err := b.backends[rec.Backend].Begin(w, r, name); err != nil {
		return err
	}
	b.metrics.LoginsStartedTotal.WithLabelValues(rec.Backend, name).Inc()
	if b.otel != nil {
		b.otel.RecordLoginStarted(r.Context(), rec.Backend, name)
	}
	b.logger.WithProvider(name).WithField("backend", rec.Backend).Debug("login started")
	return nil
}

// LoginResult is everything a completed login produced.
type LoginResult struct {
	Session  *Session
	Account  *account.Account
	Identity *saml.NormalizedIdentity
	Created  bool
	Linked   bool
}

// CompleteLogin drives a provider callback end to end: protocol validation,
// replay protection, account provisioning, and session issue. linkTo, when
// set, is the account ID of an already signed-in user whose session the
// HTTP layer verified; a brand-new identity is then linked to that account
// instead of minting another one.
func (b *Broker) CompleteLogin(ctx context.Context, r *http.Request, kind, provider, linkTo string) (*LoginResult, error) {
	backend, ok := b.backends[kind]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
	start := time.Now()

	identity, digest, err := backend.CompleteLogin(ctx, r, provider)
	if identity != nil {
		provider = identity.IdPName
	}
	if err != nil {
		b.finishLogin(ctx, r, kind, provider, start, nil, err)
		return nil, err
	}

	if digest != "" {
		if err := b.replays.Consume(ctx, digest); err != nil {
			var protocol *saml.ProtocolValidationError
			if errors.As(err, &protocol) && protocol.Stage == saml.StageReplay {
				b.metrics.ReplaysBlockedTotal.WithLabelValues(provider).Inc()
				if b.otel != nil {
					b.otel.RecordReplayBlocked(ctx, provider)
				}
			}
			b.finishLogin(ctx, r, kind, provider, start, identity, err)
			return nil, err
		}
	}

	result, err := b.provisioner.Provision(ctx, identity, linkTo)
	if err != nil {
		b.finishLogin(ctx, r, kind, provider, start, identity, err)
		return nil, err
	}

	sess := &Session{
		AccountID:    result.Account.ID,
		Provider:     identity.IdPName,
		Backend:      kind,
		ExternalID:   identity.ExternalID(),
		NameID:       identity.NameID,
		SessionIndex: identity.SessionIndex,
	}
	if err := b.sessions.Create(ctx, sess); err != nil {
		b.finishLogin(ctx, r, kind, provider, start, identity, err)
		return nil, err
	}

	b.metrics.SessionsIssuedTotal.WithLabelValues(provider).Inc()
	b.metrics.SessionsActive.Inc()
	if b.otel != nil {
		b.otel.SessionOpened(ctx, provider)
	}
	if result.Created {
		b.metrics.AccountsProvisionedTotal.WithLabelValues(provider).Inc()
	}
	if result.Linked {
		b.metrics.AccountsLinkedTotal.WithLabelValues(provider).Inc()
	}
	b.finishLogin(ctx, r, kind, provider, start, identity, nil)

	event := audit.NewEvent(ctx, r, audit.EventLogin, audit.StatusSuccess)
	event.AccountID = result.Account.ID
	event.Username = result.Account.Username
	event.ExternalID = identity.ExternalID()
	event.Provider = identity.IdPName
	event.Backend = kind
	event.SessionID = sess.ID
	switch {
	case result.Created:
		event.Message = "first login provisioned a new account"
	case result.Linked:
		event.Message = "login linked an additional identity"
	}
	b.logAudit(ctx, event)

	return &LoginResult{
		Session:  sess,
		Account:  result.Account,
		Identity: identity,
		Created:  result.Created,
		Linked:   result.Linked,
	}, nil
}

// finishLogin records the outcome metrics and, on failure, the audit event
// for one callback.
func (b *Broker) finishLogin(ctx context.Context, r *http.Request, kind, provider string, start time.Time, identity *saml.NormalizedIdentity, err error) {
	label := provider
	if label == "" {
		label = "unknown"
	}
	outcome := loginOutcome(err)
	b.metrics.LoginsCompletedTotal.WithLabelValues(kind, label, outcome).Inc()
	b.metrics.LoginDuration.WithLabelValues(kind, label).Observe(time.Since(start).Seconds())
	if b.otel != nil {
		b.otel.RecordLoginCompleted(ctx, kind, label, outcome, time.Since(start))
	}

	if err == nil {
		return
	}

	eventType := audit.EventLoginFailed
	status := audit.StatusFailure
	switch outcome {
	case observability.LoginOutcomeDenied:
		eventType = audit.EventLoginDenied
		status = audit.StatusDenied
	case observability.LoginOutcomeReplay:
		eventType = audit.EventReplayBlocked
		status = audit.StatusDenied
	}
	event := audit.NewEvent(ctx, r, eventType, status)
	event.Provider = provider
	event.Backend = kind
	event.ErrorMessage = err.Error()
	if identity != nil {
		event.ExternalID = identity.ExternalID()
	}
	b.logAudit(ctx, event)

	b.logger.WithProvider(label).WithField("backend", kind).WithField("outcome", outcome).WithError(err).Warn("login failed")
}

// Logout revokes the session and returns it together with the provider's
// single-logout URL, or "" when the provider has none. The local session is
// always gone by the time this returns; IdP logout is best effort.
func (b *Broker) Logout(ctx context.Context, r *http.Request, sessionID string) (*Session, string, error) {
	sess, err := b.sessions.Revoke(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	b.metrics.SessionsRevokedTotal.WithLabelValues(RevokeReasonLogout).Inc()
	b.metrics.SessionsActive.Dec()
	if b.otel != nil {
		b.otel.SessionClosed(ctx)
	}

	event := audit.NewEvent(ctx, r, audit.EventLogout, audit.StatusSuccess)
	event.AccountID = sess.AccountID
	event.ExternalID = sess.ExternalID
	event.Provider = sess.Provider
	event.Backend = sess.Backend
	event.SessionID = sess.ID
	b.logAudit(ctx, event)

	sloURL := ""
	backend, ok := b.backends[sess.Backend]
	if rec, err := b.Provider(sess.Provider); ok && err == nil && rec.Enabled {
		url, err := backend.LogoutRedirect(ctx, sess.Provider, sess.NameID, sess.SessionIndex)
		if err != nil {
			b.logger.WithProvider(sess.Provider).WithError(err).Debug("single logout unavailable")
		} else {
			sloURL = url
		}
	}
	return sess, sloURL, nil
}

// RevokeAccountSessions force-revokes every session the account holds and
// returns how many there were.
func (b *Broker) RevokeAccountSessions(ctx context.Context, accountID, reason string) (int, error) {
	revoked, err := b.sessions.RevokeAll(ctx, accountID)
	if err != nil {
		return revoked, err
	}
	if revoked > 0 {
		b.metrics.SessionsRevokedTotal.WithLabelValues(reason).Add(float64(revoked))
		b.metrics.SessionsActive.Sub(float64(revoked))
		if b.otel != nil {
			for i := 0; i < revoked; i++ {
				b.otel.SessionClosed(ctx)
			}
		}
	}

	event := audit.NewEvent(ctx, nil, audit.EventSessionRevoked, audit.StatusSuccess)
	event.AccountID = accountID
	event.Message = fmt.Sprintf("revoked %d sessions (%s)", revoked, reason)
	b.logAudit(ctx, event)
	return revoked, nil
}

// SuspendAccount flips the account's suspended flag. Suspending also
// revokes the account's live sessions, so the kill switch takes effect
// immediately instead of at next login.
func (b *Broker) SuspendAccount(ctx context.Context, accountID string, suspended bool) error {
	if err := b.accounts.SetSuspended(ctx, accountID, suspended, time.Now().UTC()); err != nil {
		return err
	}
	if suspended {
		if _, err := b.RevokeAccountSessions(ctx, accountID, RevokeReasonSuspended); err != nil {
			return fmt.Errorf("account suspended but session revocation failed: %w", err)
		}
	}
	return nil
}

// Metadata renders the SAML SP metadata document.
func (b *Broker) Metadata() ([]byte, error) {
	return b.samlEngine.Metadata()
}

func (b *Broker) logAudit(ctx context.Context, event *audit.Event) {
	if err := b.audit.Log(ctx, event); err != nil {
		b.logger.WithError(err).Error("failed to write audit event")
	}
}
