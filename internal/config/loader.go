package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func Load(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8142)
	viper.SetDefault("server.read_timeout_seconds", "10s")
	viper.SetDefault("server.write_timeout_seconds", "10s")

	viper.SetDefault("broker.scheme", "cth")
	viper.SetDefault("broker.accept_consumers", 4)
	viper.SetDefault("broker.delivery_consumers", 16)

	viper.SetDefault("queue.type", "spool")

	viper.SetDefault("websocket.path", "/pcp")
	viper.SetDefault("websocket.read_limit_bytes", 1<<20)
	viper.SetDefault("websocket.write_wait_seconds", "10s")
	viper.SetDefault("websocket.pong_wait_seconds", "60s")
	viper.SetDefault("websocket.ping_interval_seconds", "50s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("ratelimit.ops.rps", 10.0)
	viper.SetDefault("ratelimit.ops.burst", 20)
	viper.SetDefault("ratelimit.session.messages_per_second", 100.0)
	viper.SetDefault("ratelimit.session.burst", 200)
}

func bindEnvVariables() {
	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("broker.scheme", "BROKER_SCHEME")
	viper.BindEnv("broker.spool", "BROKER_SPOOL")
	viper.BindEnv("broker.accept_consumers", "BROKER_ACCEPT_CONSUMERS")
	viper.BindEnv("broker.delivery_consumers", "BROKER_DELIVERY_CONSUMERS")

	viper.BindEnv("queue.type", "QUEUE_TYPE")
	viper.BindEnv("queue.redis.host", "QUEUE_REDIS_HOST")
	viper.BindEnv("queue.redis.port", "QUEUE_REDIS_PORT")
	viper.BindEnv("queue.redis.password", "QUEUE_REDIS_PASSWORD")
	viper.BindEnv("queue.redis.db", "QUEUE_REDIS_DB")
	viper.BindEnv("queue.kafka.brokers", "QUEUE_KAFKA_BROKERS")
	viper.BindEnv("queue.kafka.group_id", "QUEUE_KAFKA_GROUP_ID")

	viper.BindEnv("websocket.path", "WEBSOCKET_PATH")

	viper.BindEnv("tls.cert_file", "TLS_CERT_FILE")
	viper.BindEnv("tls.key_file", "TLS_KEY_FILE")
	viper.BindEnv("tls.ca_file", "TLS_CA_FILE")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("QUEUE_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Queue.Kafka.Brokers = brokers
		}
	}

	return nil
}
