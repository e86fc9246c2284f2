package core

import (
	"fmt"
	"strings"
	"time"
)

type RetryConfig struct {
	MaxRetries int           `koanf:"max_retries" mapstructure:"max_retries"`
	BaseDelay  time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	Multiplier float64       `koanf:"multiplier" mapstructure:"multiplier"`
	MaxDelay   time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
}

type IdempotencyConfig struct {
	TTL           time.Duration `koanf:"ttl" mapstructure:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval" mapstructure:"sweep_interval"`
}

type AuditConfig struct {
	BufferSize int `koanf:"buffer_size" mapstructure:"buffer_size"`
}

type Config struct {
	ServiceName     string            `koanf:"service_name" mapstructure:"service_name"`
	Provider        string            `koanf:"provider" mapstructure:"provider"`
	SignatureHeader string            `koanf:"signature_header" mapstructure:"signature_header"`
	Secret          string            `koanf:"secret" mapstructure:"secret"`
	Retry           RetryConfig       `koanf:"retry" mapstructure:"retry"`
	Idempotency     IdempotencyConfig `koanf:"idempotency" mapstructure:"idempotency"`
	Audit           AuditConfig       `koanf:"audit" mapstructure:"audit"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:     "billing-webhooks",
		Provider:        "stripe",
		SignatureHeader: "X-Signature",
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			Multiplier: 2,
			MaxDelay:   30 * time.Second,
		},
		Idempotency: IdempotencyConfig{
			TTL:           time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Audit: AuditConfig{
			BufferSize: 128,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.SignatureHeader) == "" {
		return fmt.Errorf("core: signature_header is required")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("core: retry.max_retries must not be negative")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("core: retry.base_delay must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("core: retry.multiplier must be at least 1")
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("core: idempotency.ttl must be positive")
	}
	if c.Idempotency.SweepInterval <= 0 {
		return fmt.Errorf("core: idempotency.sweep_interval must be positive")
	}
	if c.Audit.BufferSize < 0 {
		return fmt.Errorf("core: audit.buffer_size must not be negative")
	}
	return nil
}
