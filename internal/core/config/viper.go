package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment (MK_ prefix) > config file > defaults precedence;
// commands apply flags on the returned Config.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("service.host", d.Service.Host)
	v.SetDefault("service.grpc_port", d.Service.GRPCPort)
	v.SetDefault("service.http_port", d.Service.HTTPPort)
	v.SetDefault("service.request_timeout", d.Service.RequestTimeout.String())
	v.SetDefault("service.rules_file", d.Service.RulesFile)
	v.SetDefault("context.backend", d.Context.Backend)
	v.SetDefault("context.redis_addr", d.Context.RedisAddr)
	v.SetDefault("context.redis_prefix", d.Context.RedisPrefix)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.input_topic", d.MQTT.InputTopic)
	v.SetDefault("mqtt.pass_topic", d.MQTT.PassTopic)
	v.SetDefault("mqtt.fail_topic", d.MQTT.FailTopic)
	v.SetDefault("mqtt.qos", int(d.MQTT.QoS))

	v.SetEnvPrefix("MK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	qos := v.GetInt("mqtt.qos")
	cfg := &Config{
		Service: ServiceConfig{
			Host:           v.GetString("service.host"),
			GRPCPort:       v.GetInt("service.grpc_port"),
			HTTPPort:       v.GetInt("service.http_port"),
			RequestTimeout: v.GetDuration("service.request_timeout"),
			RulesFile:      v.GetString("service.rules_file"),
			APIToken:       v.GetString("service.api_token"),
		},
		Context: ContextConfig{
			Backend:     strings.ToLower(v.GetString("context.backend")),
			RedisAddr:   v.GetString("context.redis_addr"),
			RedisPrefix: v.GetString("context.redis_prefix"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		MQTT: MQTTConfig{
			Broker:     v.GetString("mqtt.broker"),
			ClientID:   v.GetString("mqtt.client_id"),
			Username:   v.GetString("mqtt.username"),
			Password:   v.GetString("mqtt.password"),
			InputTopic: v.GetString("mqtt.input_topic"),
			PassTopic:  v.GetString("mqtt.pass_topic"),
			FailTopic:  v.GetString("mqtt.fail_topic"),
		},
	}
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", qos)
	}
	cfg.MQTT.QoS = byte(qos)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ports, timeout, context backend and MQTT topics.
func Validate(cfg *Config) error {
	if cfg.Service.GRPCPort <= 0 || cfg.Service.GRPCPort > 65535 {
		return fmt.Errorf("service.grpc_port must be between 1 and 65535, got %d", cfg.Service.GRPCPort)
	}
	if cfg.Service.HTTPPort < 0 || cfg.Service.HTTPPort > 65535 {
		return fmt.Errorf("service.http_port must be between 0 and 65535, got %d", cfg.Service.HTTPPort)
	}
	if cfg.Service.HTTPPort != 0 && cfg.Service.HTTPPort == cfg.Service.GRPCPort {
		return fmt.Errorf("service.http_port and service.grpc_port must differ, both %d", cfg.Service.GRPCPort)
	}
	if cfg.Service.RequestTimeout <= 0 {
		return fmt.Errorf("service.request_timeout must be positive, got %v", cfg.Service.RequestTimeout)
	}

	switch cfg.Context.Backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.Context.RedisAddr == "" {
			return fmt.Errorf("context.redis_addr required for redis backend")
		}
	case BackendSQL:
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url required for sql backend")
		}
	default:
		return fmt.Errorf("context.backend must be memory, redis or sql, got %q", cfg.Context.Backend)
	}

	if cfg.MQTT.Enabled() {
		if cfg.MQTT.InputTopic == "" || cfg.MQTT.PassTopic == "" || cfg.MQTT.FailTopic == "" {
			return fmt.Errorf("mqtt input, pass and fail topics are required when mqtt.broker is set")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
		}
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("service.api_token") {
		return fmt.Errorf("API token not allowed in config files (use MK_SERVICE_API_TOKEN environment variable)")
	}
	if v.InConfig("mqtt.password") {
		return fmt.Errorf("MQTT password not allowed in config files (use MK_MQTT_PASSWORD environment variable)")
	}
	return nil
}
