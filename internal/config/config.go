package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig
	Broker    BrokerConfig
	Queue     QueueConfig
	WebSocket WebSocketConfig
	TLS       TLSConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type BrokerConfig struct {
	// Scheme is the URI scheme endpoints are addressed under.
	Scheme string `mapstructure:"scheme"`
	// Spool is the filesystem path used by the spool queue backend.
	Spool             string `mapstructure:"spool"`
	AcceptConsumers   int    `mapstructure:"accept_consumers"`
	DeliveryConsumers int    `mapstructure:"delivery_consumers"`
}

type QueueConfig struct {
	// Type selects the durable queue backend: redis, kafka, spool, memory.
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

type WebSocketConfig struct {
	Path                string        `mapstructure:"path"`
	ReadLimitBytes      int64         `mapstructure:"read_limit_bytes"`
	WriteWaitSeconds    time.Duration `mapstructure:"write_wait_seconds"`
	PongWaitSeconds     time.Duration `mapstructure:"pong_wait_seconds"`
	PingIntervalSeconds time.Duration `mapstructure:"ping_interval_seconds"`
}

type TLSConfig struct {
	// CertFile is the broker's own certificate; its common name seeds the
	// broker's server URI.
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	// Ops guards the operational HTTP routes per client IP.
	Ops OpsRateLimit `mapstructure:"ops"`
	// Session guards message ingress per live socket session.
	Session SessionRateLimit `mapstructure:"session"`
}

type OpsRateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type SessionRateLimit struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}
