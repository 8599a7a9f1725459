package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "imagen.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "IMAGEN_PORT")
	setString(&cfg.Server.CORSOrigin, "IMAGEN_CORS_ORIGIN")
	setString(&cfg.Worker.WebhookURL, "N8N_WEBHOOK_URL")
	setString(&cfg.Worker.CallbackBaseURL, "IMAGEN_CALLBACK_BASE_URL")
	setDuration(&cfg.Worker.Timeout, "IMAGEN_WORKER_TIMEOUT")
	setInt(&cfg.Worker.MaxInFlight, "IMAGEN_WORKER_MAX_IN_FLIGHT")
	setDuration(&cfg.Retention.Horizon, "IMAGEN_RETENTION_HORIZON")
	setDuration(&cfg.Retention.SweepInterval, "IMAGEN_SWEEP_INTERVAL")
	setString(&cfg.Logging.Level, "IMAGEN_LOG_LEVEL")
	setString(&cfg.Logging.Service, "IMAGEN_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "IMAGEN_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "IMAGEN_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "IMAGEN_RATE_RPS")
	setInt(&cfg.Rate.Burst, "IMAGEN_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "IMAGEN_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "IMAGEN_RATE_MAX_IDLE_TIME")
	setDuration(&cfg.Idempotency.TTL, "IMAGEN_IDEMPOTENCY_TTL")
	setInt64(&cfg.Cache.MaxSizeMB, "IMAGEN_CACHE_MAX_SIZE_MB")
	setString(&cfg.NATS.URL, "NATS_URL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Worker.WebhookURL == "" {
		return errors.New("worker.webhook_url is required")
	}
	if cfg.Worker.CallbackBaseURL == "" {
		return errors.New("worker.callback_base_url is required")
	}
	if cfg.Worker.Timeout <= 0 {
		return errors.New("worker.timeout must be positive")
	}
	if cfg.Worker.MaxInFlight < 1 {
		return errors.New("worker.max_in_flight must be >= 1")
	}
	if cfg.Retention.Horizon <= 0 {
		return errors.New("retention.horizon must be positive")
	}
	if cfg.Retention.SweepInterval <= 0 {
		return errors.New("retention.sweep_interval must be positive")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
