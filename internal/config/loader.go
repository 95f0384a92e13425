package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields with the server's operating
// defaults, mirroring values a deployment would otherwise have to repeat in
// every config file.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogLevelInfo
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendFile
	}
	if cfg.Backend.MaxPoolConns == 0 {
		cfg.Backend.MaxPoolConns = 10
	}
	if cfg.Auth.CacheSize == 0 {
		cfg.Auth.CacheSize = 1024
	}
	if cfg.Auth.CircuitBreakerMaxFailures == 0 {
		cfg.Auth.CircuitBreakerMaxFailures = 5
	}
	if cfg.Auth.CircuitBreakerResetSeconds == 0 {
		cfg.Auth.CircuitBreakerResetSeconds = 30
	}
	if cfg.Auth.LastKnownGoodTTLSeconds == 0 {
		cfg.Auth.LastKnownGoodTTLSeconds = 600
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Transport.IdleTTLSeconds == 0 {
		cfg.Transport.IdleTTLSeconds = 1800
	}
	if cfg.Transport.SweepIntervalSeconds == 0 {
		cfg.Transport.SweepIntervalSeconds = 60
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Backend.Kind != "" && !cfg.Backend.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("backend.kind %q is invalid; valid values: file, relational", cfg.Backend.Kind))
	}
	switch cfg.Backend.Kind {
	case BackendFile:
		if cfg.Backend.DataDir == "" {
			errs = append(errs, errors.New("backend.data_dir is required when backend.kind is file"))
		}
	case BackendRelational:
		if cfg.Backend.PostgresDSN == "" {
			errs = append(errs, errors.New("backend.postgres_dsn is required when backend.kind is relational"))
		}
	}

	if cfg.RateLimit.RedisAddr == "" {
		slog.Warn("rate_limit.redis_addr is empty; rate limiting is disabled")
	}
	if cfg.RateLimit.UserLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.user_limit %d must not be negative", cfg.RateLimit.UserLimit))
	}
	if cfg.RateLimit.IPLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.ip_limit %d must not be negative", cfg.RateLimit.IPLimit))
	}

	if cfg.Transport.IdleTTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("transport.idle_ttl_seconds %d must not be negative", cfg.Transport.IdleTTLSeconds))
	}

	return errors.Join(errs...)
}
