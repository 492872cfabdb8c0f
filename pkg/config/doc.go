// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_HEALTH_PORT="9090"
//	GATEHOUSE_READ_TIMEOUT="15s"
//	GATEHOUSE_WRITE_TIMEOUT="15s"
//	GATEHOUSE_CORS_ORIGINS="https://app.example.com,https://admin.example.com"
//
// Storage settings:
//
//	GATEHOUSE_POSTGRES_URL="postgres://localhost/gatehouse"
//	GATEHOUSE_POSTGRES_MAX_CONNS="20"
//	GATEHOUSE_REDIS_URL="redis://localhost:6379/0"
//	GATEHOUSE_S3_BUCKET="gatehouse-audit-archive"
//	GATEHOUSE_S3_REGION="us-east-1"
//
// SAML service-provider settings:
//
//	GATEHOUSE_BASE_URL="https://sso.example.com"
//	GATEHOUSE_SAML_ENTITY_ID="https://sso.example.com/auth/sso/metadata"
//	GATEHOUSE_SAML_CERT_FILE="/etc/gatehouse/sp.crt"
//	GATEHOUSE_SAML_KEY_FILE="/etc/gatehouse/sp.key"
//	GATEHOUSE_SAML_DEFAULT_PROVIDER="corp-okta"
//	GATEHOUSE_PROVIDERS_FILE="providers.yaml"
//
// Session and rate limit settings:
//
//	GATEHOUSE_SESSION_TTL="8h"
//	GATEHOUSE_SESSION_COOKIE="gatehouse_session"
//	GATEHOUSE_RATELIMIT_WINDOW="1m"
//	GATEHOUSE_RATELIMIT_MAX_ATTEMPTS="10"
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEHOUSE_METRICS_ENABLED="true"
//	GATEHOUSE_OTEL_ENABLED="true"
//	GATEHOUSE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	settings, err := cfg.SAML.SPSettings()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Key material (certificate and private key) can be given inline through
// GATEHOUSE_SAML_CERT / GATEHOUSE_SAML_KEY or as file paths; inline wins.
// Secrets are excluded from JSON serialization and never logged.
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/saml: Consumes the resolved ServiceProviderSettings
//   - pkg/observability: Uses observability configuration
package config
