// Package config holds process configuration. Values come from the
// environment (optionally via a .env file) and are read once at startup;
// components receive what they need through their own Config structs,
// never by reaching into globals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// WorkerConfiguration identifies this process to the rest of the system.
// It is set once at bootstrap and kept in the worker-config cache region
// (no expiry) so every pipeline component can learn where the remote
// authority lives.
type WorkerConfiguration struct {
	Personality    string `json:"personality"` // "worker" or "coordinator"
	Hostname       string `json:"hostname"`
	CoordinatorURI string `json:"coordinator_uri"`
}

// Config is the full process configuration for both personalities.
type Config struct {
	Personality    string
	CoordinatorURI string
	Hostname       string

	// Transports (worker personality).
	HTTPAddr      string
	SyslogUDPAddr string
	SyslogTCPAddr string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string

	// Cache + durable sink queue.
	RedisAddr string
	TenantTTL time.Duration
	TokenTTL  time.Duration

	// Indexing sink.
	ESAddresses []string
	FlushChunk  int
	FlushLinger time.Duration
	DocumentTTL time.Duration

	// Normalization.
	RulesPath string

	// Fake traffic generator; enabled when both are set.
	ChatterboxTenant string
	ChatterboxToken  string

	// Coordinator personality.
	AuthorityAddr string

	// Token rotation policy (coordinator personality).
	MinRotationInterval time.Duration

	LogJSON  bool
	LogLevel string
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	cfg := Config{
		Personality:    env("MENISCUS_PERSONALITY", "worker"),
		CoordinatorURI: env("MENISCUS_COORDINATOR_URI", "http://localhost:8080/v1"),
		Hostname:       env("MENISCUS_HOSTNAME", hostname),

		HTTPAddr:      env("MENISCUS_HTTP_ADDR", ":8080"),
		SyslogUDPAddr: env("MENISCUS_SYSLOG_UDP_ADDR", ""),
		SyslogTCPAddr: env("MENISCUS_SYSLOG_TCP_ADDR", ""),
		KafkaBrokers:  envList("MENISCUS_KAFKA_BROKERS", nil),
		KafkaTopic:    env("MENISCUS_KAFKA_TOPIC", "meniscus.events"),
		KafkaGroup:    env("MENISCUS_KAFKA_GROUP", "meniscus-correlation"),

		RedisAddr: env("MENISCUS_REDIS_ADDR", "localhost:6379"),
		TenantTTL: envDur("MENISCUS_TENANT_TTL_SEC", 3600),
		TokenTTL:  envDur("MENISCUS_TOKEN_TTL_SEC", 3600),

		ESAddresses: envList("MENISCUS_ES_ADDRESSES", []string{"http://localhost:9200"}),
		FlushChunk:  envInt("MENISCUS_FLUSH_CHUNK", 100),
		FlushLinger: envDur("MENISCUS_FLUSH_LINGER_SEC", 1),
		DocumentTTL: envDur("MENISCUS_DOCUMENT_TTL_SEC", 0),

		RulesPath: env("MENISCUS_RULES_PATH", ""),

		ChatterboxTenant: env("MENISCUS_CHATTERBOX_TENANT", ""),
		ChatterboxToken:  env("MENISCUS_CHATTERBOX_TOKEN", ""),

		AuthorityAddr: env("MENISCUS_AUTHORITY_ADDR", ":8080"),

		MinRotationInterval: envDur("MENISCUS_MIN_ROTATION_SEC", int(3*time.Hour/time.Second)),

		LogJSON:  envBool("MENISCUS_LOG_JSON", true),
		LogLevel: env("MENISCUS_LOG_LEVEL", "info"),
	}

	switch cfg.Personality {
	case "worker", "coordinator":
	default:
		return Config{}, fmt.Errorf("config: unknown personality %q", cfg.Personality)
	}
	if cfg.FlushChunk <= 0 {
		return Config{}, fmt.Errorf("config: flush chunk must be positive, got %d", cfg.FlushChunk)
	}
	return cfg, nil
}

// Worker returns the cache-resident worker configuration record.
func (c Config) Worker() WorkerConfiguration {
	return WorkerConfiguration{
		Personality:    c.Personality,
		Hostname:       c.Hostname,
		CoordinatorURI: c.CoordinatorURI,
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDur(key string, defSeconds int) time.Duration {
	return time.Duration(envInt(key, defSeconds)) * time.Second
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
