// Package config provides application configuration management from environment variables.
//
// # Overview
//
// LoadConfig reads an optional .env file (github.com/joho/godotenv) and then
// the process environment, applies defaults and validates the result.
//
// # Configuration Structure
//
// Server settings:
//
//	FIVERECRUIT_HOST="0.0.0.0"
//	FIVERECRUIT_PORT="8080"
//	FIVERECRUIT_HEALTH_PORT="9090"
//
// Database and cache:
//
//	FIVERECRUIT_DATABASE_URL="postgres://localhost/fiverecruit?sslmode=disable"
//	FIVERECRUIT_DATABASE_MAX_CONNS="20"
//	FIVERECRUIT_REDIS_URL="redis://localhost:6379/0"  # optional
//
// Identity and billing:
//
//	FIVERECRUIT_JWT_SECRET="<at least 32 bytes>"
//	FIVERECRUIT_JWT_ISSUER="https://auth.example.com"
//	FIVERECRUIT_PREMIUM_PRICE_ID="price_premium_monthly"
//	FIVERECRUIT_PRICE_CATALOG="/etc/fiverecruit/prices.yaml"
//
// Entitlement memo:
//
//	FIVERECRUIT_ENTITLEMENT_CACHE_TTL="60s"
//	FIVERECRUIT_ENTITLEMENT_CHANNEL="entitlement_changed"
//
// Observability settings:
//
//	FIVERECRUIT_LOG_LEVEL="info"  # debug, info, warn, error
//	FIVERECRUIT_OTEL_ENABLED="true"
//	FIVERECRUIT_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/storage/postgres: Uses database and redis configuration
//   - pkg/observability: Uses observability configuration
package config
