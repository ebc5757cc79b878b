// Package config loads service configuration from ACCESSCORE_ environment
// variables, after reading an optional .env file.
//
// # Configuration Structure
//
// Server settings:
//
//	ACCESSCORE_HOST="0.0.0.0"
//	ACCESSCORE_PORT="8080"
//	ACCESSCORE_HEALTH_PORT="9090"
//	ACCESSCORE_TOKEN_RATE_LIMIT="60"
//	ACCESSCORE_TOKEN_RATE_WINDOW="1m"
//
// Storage settings:
//
//	ACCESSCORE_POSTGRES_URL="postgres://localhost/accesscore"
//	ACCESSCORE_POSTGRES_REPLICA_URLS="postgres://replica1/accesscore,postgres://replica2/accesscore"
//	ACCESSCORE_REDIS_URL="redis://localhost:6379/0"
//	ACCESSCORE_KEY_PREFIX="accesscore"
//
// OAuth and access settings:
//
//	ACCESSCORE_ACCESS_TOKEN_TTL="168h"
//	ACCESSCORE_REFRESH_TOKEN_TTL="720h"
//	ACCESSCORE_CODE_TTL="10m"
//	ACCESSCORE_ISSUE_REFRESH_TOKENS="true"
//	ACCESSCORE_PRIVATE_CACHE_TTL="4h"
//
// Observability settings:
//
//	ACCESSCORE_LOG_LEVEL="info"  # debug, info, warn, error
//	ACCESSCORE_METRICS_ENABLED="true"
//	ACCESSCORE_OTEL_ENABLED="true"
//	ACCESSCORE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Addr())
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/oauth: Uses grant lifetimes
//   - pkg/observability: Uses observability configuration
package config
