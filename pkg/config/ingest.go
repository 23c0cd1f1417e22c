package config

import "time"

// IngestConfig holds runtime configuration for the log ingestion consumer.
type IngestConfig struct {
	Addr          string
	DatabaseURL   string
	Group         string
	ConsumerName  string
	BatchSize     int
	BlockTimeout  time.Duration
	ClaimMinIdle  time.Duration
	ClaimInterval time.Duration
	RetryBase     time.Duration
	RetryCap      time.Duration
	RetryAttempts int
	LogLevel      string
	Bus           BusConfig
}

// LoadIngestConfig constructs an IngestConfig from environment variables.
func LoadIngestConfig() IngestConfig {
	return IngestConfig{
		Addr:          GetString("INGEST_ADDR", ":4100"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://berth:berth@db:5432/berth?sslmode=disable"),
		Group:         GetString("INGEST_GROUP", "log-ingest"),
		ConsumerName:  GetString("INGEST_CONSUMER_NAME", ""),
		BatchSize:     GetInt("INGEST_BATCH_SIZE", 100),
		BlockTimeout:  GetDuration("INGEST_BLOCK_TIMEOUT", 5*time.Second),
		ClaimMinIdle:  GetDuration("INGEST_CLAIM_MIN_IDLE", time.Minute),
		ClaimInterval: GetDuration("INGEST_CLAIM_INTERVAL", 30*time.Second),
		RetryBase:     GetDuration("INGEST_RETRY_BASE", 200*time.Millisecond),
		RetryCap:      GetDuration("INGEST_RETRY_CAP", 5*time.Second),
		RetryAttempts: GetInt("INGEST_RETRY_ATTEMPTS", 5),
		LogLevel:      GetString("LOG_LEVEL", "info"),
		Bus:           LoadBusConfig(),
	}
}
