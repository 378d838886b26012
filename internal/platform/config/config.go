package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. Values come from the
// environment so main stays lean and deployments stay declarative.
type Config struct {
	Addr            string
	DatabaseURL     string
	Redis           RedisConfig
	Kafka           KafkaConfig
	JWTSigningKey   string
	ShutdownTimeout time.Duration
	AuditBuffer     int
}

// RedisConfig controls the optional Redis-backed audit stream.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig controls the optional Kafka audit sink. Empty brokers disable it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables with development
// defaults. An empty CONSENTRY_DATABASE_URL selects the in-memory stores.
func FromEnv() Config {
	cfg := Config{
		Addr:            getEnv("CONSENTRY_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("CONSENTRY_DATABASE_URL"),
		JWTSigningKey:   getEnv("CONSENTRY_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ShutdownTimeout: getDuration("CONSENTRY_SHUTDOWN_TIMEOUT", 10*time.Second),
		AuditBuffer:     getInt("CONSENTRY_AUDIT_BUFFER", 256),
	}

	cfg.Redis = RedisConfig{
		URL:          os.Getenv("CONSENTRY_REDIS_URL"),
		PoolSize:     getInt("CONSENTRY_REDIS_POOL_SIZE", 10),
		MinIdleConns: getInt("CONSENTRY_REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getDuration("CONSENTRY_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getDuration("CONSENTRY_REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getDuration("CONSENTRY_REDIS_WRITE_TIMEOUT", 3*time.Second),
	}

	if brokers := os.Getenv("CONSENTRY_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka = KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   getEnv("CONSENTRY_KAFKA_AUDIT_TOPIC", "consentry.audit"),
		}
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
