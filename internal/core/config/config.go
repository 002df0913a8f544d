// Package config provides configuration management for the matchkeeper service.
package config

import (
	"time"
)

// Config is the complete service configuration.
type Config struct {
	Service  ServiceConfig
	Context  ContextConfig
	Database DatabaseConfig
	MQTT     MQTTConfig
}

// ServiceConfig holds listener and rule-set settings.
// APIToken is read from MK_SERVICE_API_TOKEN only; empty disables auth.
type ServiceConfig struct {
	Host           string
	GRPCPort       int
	HTTPPort       int // 0 disables the HTTP API
	RequestTimeout time.Duration
	RulesFile      string
	APIToken       string
}

// Context backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
)

// ContextConfig selects where flow and global context values live.
type ContextConfig struct {
	Backend     string
	RedisAddr   string
	RedisPrefix string
}

// DatabaseConfig holds the SQL context backend connection.
type DatabaseConfig struct {
	URL string
}

// MQTTConfig configures the MQTT bridge. An empty Broker disables it.
// Password is read from MK_MQTT_PASSWORD only.
type MQTTConfig struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	InputTopic string
	PassTopic  string
	FailTopic  string
	QoS        byte
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Host:           "0.0.0.0",
			GRPCPort:       50051,
			HTTPPort:       8080,
			RequestTimeout: 30 * time.Second,
			RulesFile:      "rules.yaml",
		},
		Context: ContextConfig{
			Backend:     BackendMemory,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "matchkeeper",
		},
		Database: DatabaseConfig{
			URL: "sqlite://./data/matchkeeper.db",
		},
		MQTT: MQTTConfig{
			ClientID:   "matchkeeper",
			InputTopic: "matchkeeper/in",
			PassTopic:  "matchkeeper/pass",
			FailTopic:  "matchkeeper/fail",
			QoS:        1,
		},
	}
}
