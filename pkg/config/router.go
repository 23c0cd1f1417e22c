package config

import "time"

// RouterConfig holds runtime configuration for the subdomain router.
type RouterConfig struct {
	Addr            string
	DatabaseURL     string
	BaseDomain      string
	DefaultDocument string
	CacheTTL        time.Duration
	NegativeTTL     time.Duration
	LogLevel        string
	Artifact        ArtifactConfig
}

// LoadRouterConfig constructs a RouterConfig from environment variables.
func LoadRouterConfig() RouterConfig {
	return RouterConfig{
		Addr:            GetString("ROUTER_ADDR", ":8000"),
		DatabaseURL:     GetString("DATABASE_URL", "postgres://berth:berth@db:5432/berth?sslmode=disable"),
		BaseDomain:      GetString("BASE_DOMAIN", "berth.local"),
		DefaultDocument: GetString("DEFAULT_DOCUMENT", "index.html"),
		CacheTTL:        GetDuration("ROUTER_CACHE_TTL", 10*time.Second),
		NegativeTTL:     GetDuration("ROUTER_NEGATIVE_TTL", 2*time.Second),
		LogLevel:        GetString("LOG_LEVEL", "info"),
		Artifact:        LoadArtifactConfig(),
	}
}
