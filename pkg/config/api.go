package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	BaseDomain         string
	BuilderImage       string
	DockerHost         string
	LogLevel           string
	WSWriteBuffer      int
	WSPingInterval     time.Duration
	SSEHeartbeat       time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	Bus                BusConfig
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://berth:berth@db:5432/berth?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		BaseDomain:         GetString("BASE_DOMAIN", "berth.local"),
		BuilderImage:       GetString("BUILDER_IMAGE", "berth/builder:latest"),
		DockerHost:         GetString("DOCKER_HOST_OVERRIDE", ""),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		WSWriteBuffer:      GetInt("WS_WRITE_BUFFER", 256),
		WSPingInterval:     GetDuration("WS_PING_INTERVAL", 30*time.Second),
		SSEHeartbeat:       GetDuration("SSE_HEARTBEAT", 25*time.Second),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		Bus:                LoadBusConfig(),
	}
}
