// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
)

// Config holds all application configuration
type Config struct {
	Server                ServerConfig
	Database              DatabaseConfig
	DefaultTenantDatabase DatabaseConfig
	Pool                  PoolConfig
	Managed               ManagedConfig
	SelfHosted            SelfHostedConfig
	Session               SessionConfig
	Observability         ObservabilityConfig
	RateLimit             RateLimitConfig
}

// RateLimitConfig holds rate limiting configuration for provisioning calls
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the connection settings of an operator configured database
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// PoolConfig holds settings shared by every tenant pool
type PoolConfig struct {
	AcquireTimeout time.Duration
	// WarmupConcurrency bounds how many ready tenants are connected at once on startup
	WarmupConcurrency int
}

// ManagedConfig describes where managed tenant databases are created
type ManagedConfig struct {
	Host           string
	Port           string
	SSLMode        string
	PoolSize       int32
	ServiceAccount string
}

// SelfHostedConfig holds the constraints on customer supplied databases
type SelfHostedConfig struct {
	RequiredSSLMode string
	PoolSize        int32
}

// SessionConfig holds session token configuration
type SessionConfig struct {
	Issuer   string
	Secret   string
	Lifetime time.Duration
}

// ObservabilityConfig holds logging, tracing and metrics configuration
type ObservabilityConfig struct {
	LogLevel        string
	LogFormat       string
	OTELEnabled     bool
	OTELEndpoint    string
	OTELInsecure    bool
	TraceSampleRate float64
	MetricsEnabled  bool
	ServiceName     string
	ServiceVersion  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	mainDB := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "tenancy"),
		Password: getEnv("DB_PASSWORD", ""),
		Database: getEnv("DB_NAME", "tenancy"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		MaxConns: int32(parseInt("DB_MAX_CONNS", 25)),
		MinConns: int32(parseInt("DB_MIN_CONNS", 0)),
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:    parseDuration("SERVER_WRITE_TIMEOUT", "60s"),
			IdleTimeout:     parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			RequestTimeout:  parseDuration("SERVER_REQUEST_TIMEOUT", "55s"),
			ShutdownTimeout: parseDuration("SERVER_SHUTDOWN_TIMEOUT", "30s"),
		},
		Database: mainDB,
		// the default tenant database falls back to the main server
		DefaultTenantDatabase: DatabaseConfig{
			Host:     getEnv("DEFAULT_TENANT_DB_HOST", mainDB.Host),
			Port:     getEnv("DEFAULT_TENANT_DB_PORT", mainDB.Port),
			User:     getEnv("DEFAULT_TENANT_DB_USER", mainDB.User),
			Password: getEnv("DEFAULT_TENANT_DB_PASSWORD", mainDB.Password),
			Database: getEnv("DEFAULT_TENANT_DB_NAME", "tenancy_default"),
			SSLMode:  getEnv("DEFAULT_TENANT_DB_SSLMODE", mainDB.SSLMode),
			MaxConns: int32(parseInt("DEFAULT_TENANT_DB_MAX_CONNS", 10)),
		},
		Pool: PoolConfig{
			AcquireTimeout:    parseDuration("POOL_ACQUIRE_TIMEOUT", "5s"),
			WarmupConcurrency: parseInt("POOL_WARMUP_CONCURRENCY", 8),
		},
		Managed: ManagedConfig{
			Host:           getEnv("MANAGED_DB_HOST", mainDB.Host),
			Port:           getEnv("MANAGED_DB_PORT", mainDB.Port),
			SSLMode:        getEnv("MANAGED_DB_SSLMODE", mainDB.SSLMode),
			PoolSize:       int32(parseInt("MANAGED_DB_POOL_SIZE", 10)),
			ServiceAccount: getEnv("MANAGED_DB_SERVICE_ACCOUNT", mainDB.User),
		},
		SelfHosted: SelfHostedConfig{
			RequiredSSLMode: getEnv("SELF_HOSTED_REQUIRED_SSLMODE", "verify-full"),
			PoolSize:        int32(parseInt("SELF_HOSTED_POOL_SIZE", 10)),
		},
		Session: SessionConfig{
			Issuer:   getEnv("SESSION_ISSUER", "tenancy"),
			Secret:   getEnv("SESSION_SECRET", ""),
			Lifetime: parseDuration("SESSION_LIFETIME", "24h"),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			LogFormat:       getEnv("LOG_FORMAT", "json"),
			OTELEnabled:     parseBool("OTEL_ENABLED", false),
			OTELEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTELInsecure:    parseBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			TraceSampleRate: parseFloat("OTEL_TRACE_SAMPLE_RATE", 1.0),
			MetricsEnabled:  parseBool("METRICS_ENABLED", true),
			ServiceName:     getEnv("OTEL_SERVICE_NAME", "tenancy"),
			ServiceVersion:  getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 2),
			Burst:             parseInt("RATELIMIT_BURST", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration. All problems are reported at once.
func (c *Config) Validate() error {
	var err error
	if c.Database.Password == "" {
		err = multierr.Append(err, fmt.Errorf("DB_PASSWORD is required"))
	}
	if len(c.Session.Secret) < 32 {
		err = multierr.Append(err, fmt.Errorf("SESSION_SECRET must be at least 32 bytes"))
	}
	if c.Session.Lifetime <= 0 {
		err = multierr.Append(err, fmt.Errorf("SESSION_LIFETIME must be positive"))
	}
	if c.Managed.PoolSize < 1 || c.SelfHosted.PoolSize < 1 {
		err = multierr.Append(err, fmt.Errorf("tenant pool sizes must be at least 1"))
	}
	if c.Pool.AcquireTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("POOL_ACQUIRE_TIMEOUT must be positive"))
	}
	if c.Pool.WarmupConcurrency < 1 {
		err = multierr.Append(err, fmt.Errorf("POOL_WARMUP_CONCURRENCY must be at least 1"))
	}
	return err
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
