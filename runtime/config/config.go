// Package config collects the environment configuration surface consumed by
// the serving entry point. Values come from environment variables with an
// optional YAML file overlay (RLA2A_CONFIG); the core components receive
// plain values and never read the environment themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface.
type Config struct {
	// ServerHost and ServerPort bind the serving layer. The core does not
	// interpret them.
	ServerHost string `yaml:"server_host"`
	ServerPort int    `yaml:"server_port"`

	// MaxAgents caps registry size; registrations beyond it fail.
	MaxAgents int `yaml:"max_agents"`
	// MaxConnections caps the serving layer's concurrent connections.
	MaxConnections int `yaml:"max_connections"`

	// RateLimitPerMinute bounds per-identifier request rates.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	// MaxMessageSize bounds encoded message content in bytes.
	MaxMessageSize int `yaml:"max_message_size"`

	// HITLEnabled gates the approval middleware; false makes it a
	// pass-through.
	HITLEnabled bool `yaml:"hitl_enabled"`
	// HITLTimeout is the default approval deadline; zero means no deadline.
	HITLTimeout time.Duration `yaml:"hitl_timeout"`

	// FRLEnabled gates the federated aggregator.
	FRLEnabled bool `yaml:"frl_enabled"`
	// FRLAggregationInterval is the minimum interval between per-agent
	// aggregations.
	FRLAggregationInterval time.Duration `yaml:"frl_aggregation_interval"`

	// LogLevel and LogFile configure emission; the core does not interpret
	// them beyond wiring the logger.
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// StorageBackend selects the persisted state backend: "memory",
	// "file", "redis", or "mongo".
	StorageBackend string `yaml:"storage_backend"`
	// StoragePath is the base directory for the file backend.
	StoragePath string `yaml:"storage_path"`
	// RedisURL and RedisPassword configure the redis backend and the Pulse
	// event sink.
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	// MongoURL and MongoDatabase configure the mongo backend.
	MongoURL      string `yaml:"mongo_url"`
	MongoDatabase string `yaml:"mongo_database"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		ServerHost:             "localhost",
		ServerPort:             8000,
		MaxAgents:              1000,
		MaxConnections:         10000,
		RateLimitPerMinute:     60,
		MaxMessageSize:         1 << 20,
		HITLEnabled:            true,
		HITLTimeout:            time.Hour,
		FRLEnabled:             false,
		FRLAggregationInterval: time.Hour,
		LogLevel:               "info",
		StorageBackend:         "memory",
		MongoDatabase:          "rla2a",
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by RLA2A_CONFIG, and environment variables, in increasing precedence.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("RLA2A_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.ServerHost = envOr("SERVER_HOST", cfg.ServerHost)
	cfg.ServerPort = envIntOr("SERVER_PORT", cfg.ServerPort)
	cfg.MaxAgents = envIntOr("MAX_AGENTS", cfg.MaxAgents)
	cfg.MaxConnections = envIntOr("MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.RateLimitPerMinute = envIntOr("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	cfg.MaxMessageSize = envIntOr("MAX_MESSAGE_SIZE", cfg.MaxMessageSize)
	cfg.HITLEnabled = envBoolOr("HITL_ENABLED", cfg.HITLEnabled)
	cfg.HITLTimeout = time.Duration(envIntOr("HITL_TIMEOUT_SECONDS", int(cfg.HITLTimeout/time.Second))) * time.Second
	cfg.FRLEnabled = envBoolOr("FRL_ENABLED", cfg.FRLEnabled)
	cfg.FRLAggregationInterval = time.Duration(envIntOr("FRL_AGGREGATION_INTERVAL", int(cfg.FRLAggregationInterval/time.Second))) * time.Second
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = envOr("LOG_FILE", cfg.LogFile)
	cfg.StorageBackend = envOr("STORAGE_BACKEND", cfg.StorageBackend)
	cfg.StoragePath = envOr("STORAGE_PATH", cfg.StoragePath)
	cfg.RedisURL = envOr("REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = envOr("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.MongoURL = envOr("MONGO_URL", cfg.MongoURL)
	cfg.MongoDatabase = envOr("MONGO_DATABASE", cfg.MongoDatabase)

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StorageBackend {
	case "memory", "file", "redis", "mongo":
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.StorageBackend == "file" && c.StoragePath == "" {
		return fmt.Errorf("file storage backend requires STORAGE_PATH")
	}
	if c.MaxAgents < 0 || c.MaxConnections < 0 {
		return fmt.Errorf("limits must be non-negative")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
