package config

// BusConfig holds the Redis-backed message bus settings shared by producers
// and consumers. Partition count must agree across every process that touches
// the topic; changing it re-shards deployment ids onto different streams.
type BusConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Topic         string
	Partitions    int
	LivePrefix    string
}

// LoadBusConfig constructs a BusConfig from environment variables.
func LoadBusConfig() BusConfig {
	return BusConfig{
		RedisAddr:     GetString("BUS_REDIS_ADDR", "redis:6379"),
		RedisPassword: GetString("BUS_REDIS_PASSWORD", ""),
		RedisDB:       GetInt("BUS_REDIS_DB", 0),
		Topic:         GetString("BUS_TOPIC", "build-logs"),
		Partitions:    GetInt("BUS_PARTITIONS", 4),
		LivePrefix:    GetString("BUS_LIVE_PREFIX", "berth:live:"),
	}
}
