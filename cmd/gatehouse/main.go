package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/openclave/gatehouse/pkg/account"
	"github.com/openclave/gatehouse/pkg/audit"
	"github.com/openclave/gatehouse/pkg/broker"
	"github.com/openclave/gatehouse/pkg/config"
	"github.com/openclave/gatehouse/pkg/httputil"
	"github.com/openclave/gatehouse/pkg/middleware"
	"github.com/openclave/gatehouse/pkg/observability"
	"github.com/openclave/gatehouse/pkg/saml"
	"github.com/openclave/gatehouse/pkg/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting gatehouse")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	var otelMetrics *observability.OTelMetrics
	if cfg.Observability.OTelEnabled {
		otelMetrics, err = observability.NewOTelMetrics()
		if err != nil {
			logger.WithError(err).Error("failed to create OpenTelemetry instruments")
			os.Exit(1)
		}
	}

	db, err := storage.OpenPostgres(cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := storage.NewRedisClient(cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("failed to connect to redis")
		os.Exit(1)
	}
	defer redisClient.Close()

	spSettings, err := cfg.SAML.SPSettings()
	if err != nil {
		logger.WithError(err).Error("invalid SAML service-provider configuration")
		os.Exit(1)
	}

	accounts := account.NewStore(db)
	providerStore, err := broker.NewProviderStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to prepare provider store")
		os.Exit(1)
	}

	fileLog := logrus.New()
	fileLog.SetFormatter(&logrus.JSONFormatter{})
	files, err := broker.NewFileSource(cfg.SAML.ProvidersFile, fileLog)
	if err != nil {
		logger.WithError(err).Error("failed to load provider file")
		os.Exit(1)
	}

	auditLogger, auditStore := buildAuditLogger(cfg, db, logger)
	defer auditLogger.Close()

	var policy saml.PolicyHook
	if cfg.SAML.RequiredEntitlement != "" {
		policy = saml.RequireEntitlement(cfg.SAML.RequiredEntitlement)
		logger.WithField("entitlement", cfg.SAML.RequiredEntitlement).Info("entitlement policy enabled")
	}

	b, err := broker.New(broker.Config{
		SP:         spSettings,
		Policy:     policy,
		SessionTTL: cfg.Session.TTL,
	}, broker.Deps{
		Files:    files,
		Store:    providerStore,
		Redis:    redisClient,
		Accounts: accounts,
		Audit:    auditLogger,
		Metrics:  metrics,
		OTel:     otelMetrics,
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Error("failed to assemble broker")
		os.Exit(1)
	}

	router := buildRouter(cfg, b, redisClient, metrics, logger, auditStore)

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(router, "gatehouse")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := buildHealthServer(cfg, db, redisClient, registry)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return b.WatchProviderFile(groupCtx)
	})

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health server", healthServer.Shutdown)
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
			return otelProviders.Shutdown(ctx, logger)
		})
	}

	group.Go(func() error {
		return shutdown.WaitForShutdown(groupCtx)
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	logger.Info("gatehouse stopped")
}

// buildRouter assembles the public login surface and the token-guarded
// admin API with their middleware chains.
func buildRouter(cfg *config.Config, b *broker.Broker, redisClient *redis.Client, metrics *observability.Metrics, logger *observability.Logger, auditStore *audit.DBLogger) *mux.Router {
	router := mux.NewRouter()
	router.Use(
		middleware.RequestIDMiddleware,
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		observability.HTTPMetricsMiddleware(metrics),
	)
	if len(cfg.Server.CORSOrigins) > 0 {
		router.Use(httputil.CORSMiddleware(cfg.Server.CORSOrigins))
	}

	handlers := broker.NewHandlers(b, logger)

	public := router.NewRoute().Subrouter()
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewLoginRateLimiter(redisClient, middleware.LoginLimitConfig{
			Window:      cfg.RateLimit.Window,
			MaxAttempts: cfg.RateLimit.MaxAttempts,
		}, metrics, logger)
		public.Use(loginOnly(limiter.Handler))
	}
	handlers.RegisterPublicRoutes(public)

	admin := router.PathPrefix("/api/v1").Subrouter()
	admin.Use(
		middleware.AdminTokenMiddleware(cfg.Server.AdminToken),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(1*1024*1024),
	)
	handlers.RegisterAdminRoutes(admin)
	if auditStore != nil {
		audit.NewHandlers(auditStore).RegisterRoutes(admin)
	}

	return router
}

// loginOnly scopes a middleware to the endpoints that start or complete a
// login; metadata and discovery stay unthrottled.
func loginOnly(mw func(http.Handler) http.Handler) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/login") || strings.HasSuffix(r.URL.Path, "/callback") {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// buildAuditLogger wires the audit trail: database store plus a mirror into
// the structured log, or a no-op sink when auditing is disabled.
func buildAuditLogger(cfg *config.Config, db *sql.DB, logger *observability.Logger) (audit.Logger, *audit.DBLogger) {
	if !cfg.Audit.Enabled {
		return audit.Nop{}, nil
	}
	store, err := audit.NewDBLogger(db)
	if err != nil {
		logger.WithError(err).Error("failed to prepare audit store, auditing to log only")
		return audit.NewMulti(audit.NewLogMirror(logger)), nil
	}
	return audit.NewMulti(store, audit.NewLogMirror(logger)), store
}

// buildHealthServer serves liveness, readiness, and metrics on the probe
// port, away from the public surface.
func buildHealthServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client, registry *prometheus.Registry) *http.Server {
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient).WithVersion(cfg.Observability.OTelServiceVersion)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	return &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
