// Package config provides hierarchical configuration loading for imagen.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the coordinator.
type Config struct {
	Server      Server      `yaml:"server"`
	Worker      Worker      `yaml:"worker"`
	Retention   Retention   `yaml:"retention"`
	Logging     Logging     `yaml:"logging"`
	Breaker     Breaker     `yaml:"breaker"`
	Rate        Rate        `yaml:"rate"`
	Idempotency Idempotency `yaml:"idempotency"`
	Cache       Cache       `yaml:"cache"`
	NATS        NATS        `yaml:"nats"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Worker holds external generation worker configuration.
type Worker struct {
	// WebhookURL is the workflow endpoint that accepts generation jobs.
	WebhookURL string `yaml:"webhook_url"`
	// CallbackBaseURL is this service's public base address; the worker
	// posts results to <CallbackBaseURL>/api/webhook/result.
	CallbackBaseURL string `yaml:"callback_base_url"`
	// Timeout bounds a single outbound notification.
	Timeout time.Duration `yaml:"timeout"`
	// MaxInFlight caps concurrent outbound notifications.
	MaxInFlight int `yaml:"max_in_flight"`
}

// Retention holds task eviction configuration.
type Retention struct {
	// Horizon is the maximum age a task record may reach.
	Horizon time.Duration `yaml:"horizon"`
	// SweepInterval is how often the reaper runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Breaker holds circuit breaker configuration for the worker webhook.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Idempotency holds Idempotency-Key replay configuration.
type Idempotency struct {
	TTL time.Duration `yaml:"ttl"`
}

// Cache holds in-process cache sizing.
type Cache struct {
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

// NATS holds the optional lifecycle event feed configuration.
// An empty URL disables publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// Defaults returns a Config with sensible default values for local
// development against an n8n instance on its default port.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "3000",
			CORSOrigin: "*",
		},
		Worker: Worker{
			WebhookURL:      "http://localhost:5678/webhook/image",
			CallbackBaseURL: "http://localhost:3000",
			Timeout:         30 * time.Second,
			MaxInFlight:     32,
		},
		Retention: Retention{
			Horizon:       24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Logging: Logging{
			Level:   "info",
			Service: "imagen",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			RequestsPerSecond: 10,
			Burst:             100,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       15 * time.Minute,
		},
		Idempotency: Idempotency{
			TTL: time.Hour,
		},
		Cache: Cache{
			MaxSizeMB: 64,
		},
		NATS: NATS{
			URL: "",
		},
	}
}
