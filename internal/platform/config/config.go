package config

import (
	"os"
	"strings"
)

// Config captures process-level configuration for the ledger service.
type Config struct {
	// Addr is the ops HTTP listen address (health + metrics only).
	Addr string
	// PostgresURL enables the Postgres stores; empty means in-memory.
	PostgresURL string
	// RedisURL enables the cross-process distribution lock; empty disables it.
	RedisURL string
	// KafkaBrokers enables the Kafka audit mirror; empty disables it.
	KafkaBrokers []string
	// Env selects log verbosity ("development" enables debug + console output).
	Env string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	addr := os.Getenv("LANFIASAVE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var brokers []string
	if raw := os.Getenv("LANFIASAVE_KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	return Config{
		Addr:         addr,
		PostgresURL:  os.Getenv("LANFIASAVE_POSTGRES_URL"),
		RedisURL:     os.Getenv("LANFIASAVE_REDIS_URL"),
		KafkaBrokers: brokers,
		Env:          os.Getenv("LANFIASAVE_ENV"),
	}
}
