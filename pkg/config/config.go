package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openclave/gatehouse/pkg/observability"
	"github.com/openclave/gatehouse/pkg/saml"
	"github.com/openclave/gatehouse/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration (Postgres, Redis, S3)
	Storage storage.Config

	// SAML service-provider configuration
	SAML SAMLConfig

	// Session configuration
	Session SessionConfig

	// Login rate limiting
	RateLimit RateLimitConfig

	// Audit trail configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Origins allowed to call the admin API cross-site
	CORSOrigins []string

	// AdminToken protects the admin API. Empty disables the admin surface.
	AdminToken string `json:"-"`
}

// SAMLConfig holds the service-provider half of every SAML exchange.
// Key material can be inline PEM or file paths; inline wins when both are
// set so tests and local dev need no files on disk.
type SAMLConfig struct {
	EntityID string
	BaseURL  string

	CertificateFile string
	PrivateKeyFile  string
	Certificate     string `json:"-"`
	PrivateKey      string `json:"-"`

	DefaultProvider string
	ProvidersFile   string

	OrgName        string
	OrgDisplayName string
	OrgURL         string

	TechnicalContactName  string
	TechnicalContactEmail string
	SupportContactName    string
	SupportContactEmail   string

	NameIDFormats []string

	SignRequests bool
	ForceAuthn   bool

	// RequiredEntitlement, when set, demands that every asserted identity
	// carries this eduPersonEntitlement value before an account is touched.
	RequiredEntitlement string

	// SkipSignatureValidation disables response signature checks. Never
	// enable outside tests.
	SkipSignatureValidation bool
}

// SPSettings resolves the configuration into engine settings, reading key
// material from disk when file paths are configured.
func (c SAMLConfig) SPSettings() (saml.ServiceProviderSettings, error) {
	cert := c.Certificate
	if cert == "" && c.CertificateFile != "" {
		data, err := os.ReadFile(c.CertificateFile)
		if err != nil {
			return saml.ServiceProviderSettings{}, fmt.Errorf("failed to read SP certificate: %w", err)
		}
		cert = string(data)
	}

	key := c.PrivateKey
	if key == "" && c.PrivateKeyFile != "" {
		data, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return saml.ServiceProviderSettings{}, fmt.Errorf("failed to read SP private key: %w", err)
		}
		key = string(data)
	}

	return saml.ServiceProviderSettings{
		EntityID:    c.EntityID,
		BaseURL:     c.BaseURL,
		Certificate: cert,
		PrivateKey:  key,
		Organization: saml.Organization{
			Name:        c.OrgName,
			DisplayName: c.OrgDisplayName,
			URL:         c.OrgURL,
		},
		TechnicalContact: saml.Contact{
			GivenName: c.TechnicalContactName,
			Email:     c.TechnicalContactEmail,
		},
		SupportContact: saml.Contact{
			GivenName: c.SupportContactName,
			Email:     c.SupportContactEmail,
		},
		NameIDFormats:           c.NameIDFormats,
		DefaultProvider:         c.DefaultProvider,
		SignRequests:            c.SignRequests,
		ForceAuthn:              c.ForceAuthn,
		SkipSignatureValidation: c.SkipSignatureValidation,
	}, nil
}

// SessionConfig holds browser session settings
type SessionConfig struct {
	TTL          time.Duration
	CookieName   string
	CookieDomain string
	CookieSecure bool
}

// RateLimitConfig holds login-attempt rate limiting settings
type RateLimitConfig struct {
	Enabled     bool
	Window      time.Duration
	MaxAttempts int
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled          bool
	ArchiveEnabled   bool
	RetentionDays    int
	ArchiveBatchSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		SAML:          loadSAMLConfig(),
		Session:       loadSessionConfig(),
		RateLimit:     loadRateLimitConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
		CORSOrigins:     getEnvList("GATEHOUSE_CORS_ORIGINS", nil),
		AdminToken:      getEnv("GATEHOUSE_ADMIN_TOKEN", ""),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("GATEHOUSE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("GATEHOUSE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("GATEHOUSE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("GATEHOUSE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("GATEHOUSE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("GATEHOUSE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// S3 config (audit archive)
	if s3Endpoint := getEnv("GATEHOUSE_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("GATEHOUSE_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("GATEHOUSE_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("GATEHOUSE_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("GATEHOUSE_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("GATEHOUSE_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	return cfg
}

// loadSAMLConfig loads SAML service-provider configuration from environment
func loadSAMLConfig() SAMLConfig {
	return SAMLConfig{
		EntityID:                getEnv("GATEHOUSE_SAML_ENTITY_ID", ""),
		BaseURL:                 strings.TrimRight(getEnv("GATEHOUSE_BASE_URL", ""), "/"),
		CertificateFile:         getEnv("GATEHOUSE_SAML_CERT_FILE", ""),
		PrivateKeyFile:          getEnv("GATEHOUSE_SAML_KEY_FILE", ""),
		Certificate:             getEnv("GATEHOUSE_SAML_CERT", ""),
		PrivateKey:              getEnv("GATEHOUSE_SAML_KEY", ""),
		DefaultProvider:         getEnv("GATEHOUSE_SAML_DEFAULT_PROVIDER", ""),
		ProvidersFile:           getEnv("GATEHOUSE_PROVIDERS_FILE", "providers.yaml"),
		OrgName:                 getEnv("GATEHOUSE_SAML_ORG_NAME", "Gatehouse"),
		OrgDisplayName:          getEnv("GATEHOUSE_SAML_ORG_DISPLAY_NAME", "Gatehouse SSO"),
		OrgURL:                  getEnv("GATEHOUSE_SAML_ORG_URL", ""),
		TechnicalContactName:    getEnv("GATEHOUSE_SAML_CONTACT_NAME", ""),
		TechnicalContactEmail:   getEnv("GATEHOUSE_SAML_CONTACT_EMAIL", ""),
		SupportContactName:      getEnv("GATEHOUSE_SAML_SUPPORT_NAME", ""),
		SupportContactEmail:     getEnv("GATEHOUSE_SAML_SUPPORT_EMAIL", ""),
		NameIDFormats:           getEnvList("GATEHOUSE_SAML_NAMEID_FORMATS", nil),
		RequiredEntitlement:     getEnv("GATEHOUSE_SAML_REQUIRED_ENTITLEMENT", ""),
		SignRequests:            getEnvBool("GATEHOUSE_SAML_SIGN_REQUESTS", true),
		ForceAuthn:              getEnvBool("GATEHOUSE_SAML_FORCE_AUTHN", false),
		SkipSignatureValidation: getEnvBool("GATEHOUSE_SAML_SKIP_SIGNATURE_VALIDATION", false),
	}
}

// loadSessionConfig loads session configuration from environment
func loadSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:          getEnvDuration("GATEHOUSE_SESSION_TTL", 8*time.Hour),
		CookieName:   getEnv("GATEHOUSE_SESSION_COOKIE", "gatehouse_session"),
		CookieDomain: getEnv("GATEHOUSE_SESSION_COOKIE_DOMAIN", ""),
		CookieSecure: getEnvBool("GATEHOUSE_SESSION_COOKIE_SECURE", true),
	}
}

// loadRateLimitConfig loads rate limiting configuration from environment
func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:     getEnvBool("GATEHOUSE_RATELIMIT_ENABLED", true),
		Window:      getEnvDuration("GATEHOUSE_RATELIMIT_WINDOW", time.Minute),
		MaxAttempts: getEnvInt("GATEHOUSE_RATELIMIT_MAX_ATTEMPTS", 10),
	}
}

// loadAuditConfig loads audit configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:          getEnvBool("GATEHOUSE_AUDIT_ENABLED", true),
		ArchiveEnabled:   getEnvBool("GATEHOUSE_AUDIT_ARCHIVE_ENABLED", false),
		RetentionDays:    getEnvInt("GATEHOUSE_AUDIT_RETENTION_DAYS", 90),
		ArchiveBatchSize: getEnvInt("GATEHOUSE_AUDIT_ARCHIVE_BATCH", 1000),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	// Validate SAML config
	if c.SAML.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if !strings.HasPrefix(c.SAML.BaseURL, "http://") && !strings.HasPrefix(c.SAML.BaseURL, "https://") {
		return fmt.Errorf("base URL must be an absolute http(s) URL")
	}
	if c.SAML.SignRequests && c.SAML.PrivateKey == "" && c.SAML.PrivateKeyFile == "" {
		return fmt.Errorf("request signing requires a private key")
	}

	// Validate session config
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}

	// Validate rate limit config
	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
		if c.RateLimit.MaxAttempts <= 0 {
			return fmt.Errorf("rate limit max attempts must be positive")
		}
	}

	// Validate audit config
	if c.Audit.ArchiveEnabled && c.Storage.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required when audit archival is enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a slice
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
