package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validateQueue(cfg); err != nil {
		errs = append(errs, err)
	}

	if err := validateTLS(cfg.TLS); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Scheme == "" {
		return &ValidationError{
			Field:   "broker.scheme",
			Message: "URI scheme is required",
		}
	}

	if cfg.AcceptConsumers < 1 {
		return &ValidationError{
			Field:   "broker.accept_consumers",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.AcceptConsumers),
		}
	}

	if cfg.DeliveryConsumers < 1 {
		return &ValidationError{
			Field:   "broker.delivery_consumers",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.DeliveryConsumers),
		}
	}

	return nil
}

func validateQueue(cfg *Config) error {
	switch cfg.Queue.Type {
	case "redis":
		if cfg.Queue.Redis.Host == "" {
			return &ValidationError{
				Field:   "queue.redis.host",
				Message: "redis host is required for the redis queue backend",
			}
		}
	case "kafka":
		if len(cfg.Queue.Kafka.Brokers) == 0 {
			return &ValidationError{
				Field:   "queue.kafka.brokers",
				Message: "at least one kafka broker is required for the kafka queue backend",
			}
		}
	case "spool":
		if cfg.Broker.Spool == "" {
			return &ValidationError{
				Field:   "broker.spool",
				Message: "spool path is required for the spool queue backend",
			}
		}
	case "memory":
	default:
		return &ValidationError{
			Field:   "queue.type",
			Message: fmt.Sprintf("unknown queue backend %q", cfg.Queue.Type),
		}
	}

	return nil
}

func validateTLS(cfg TLSConfig) error {
	if cfg.CertFile == "" {
		return &ValidationError{
			Field:   "tls.cert_file",
			Message: "broker certificate is required",
		}
	}

	if cfg.KeyFile == "" {
		return &ValidationError{
			Field:   "tls.key_file",
			Message: "broker private key is required",
		}
	}

	return nil
}
