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

package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// DefaultAcquireTimeout bounds connection tests and pool acquisition
const DefaultAcquireTimeout = 5 * time.Second

// DB wraps the connection pool of an operator configured database
// (the main control-plane database or the default tenant database)
type DB struct {
	pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host           string
	Port           string
	User           string
	Password       string
	Database       string
	SSLMode        string
	MaxConns       int32
	MinConns       int32
	AcquireTimeout time.Duration
}

// ConnString renders cfg as a postgresql:// URL
func (c Config) ConnString() string {
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// New creates a new database connection
func New(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns

	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	poolConfig.ConnConfig.ConnectTimeout = timeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Database, err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// tenantPoolConfig turns a validated tenant database config into a pool
// config. The connect timeout is set so a dead host cannot hold a caller
// longer than timeout.
func tenantPoolConfig(cfg tenant.DatabaseConfig, timeout time.Duration) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse tenant database config: %w", err)
	}
	if cfg.MaxPoolSize > 0 {
		pc.MaxConns = cfg.MaxPoolSize
	}
	pc.ConnConfig.ConnectTimeout = timeout
	return pc, nil
}

// openTenantPool opens a pool and pings it within timeout
func openTenantPool(ctx context.Context, cfg tenant.DatabaseConfig, timeout time.Duration) (*pgxpool.Pool, error) {
	pc, err := tenantPoolConfig(cfg, timeout)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping %s on %s: %w", cfg.Name, cfg.Host, err)
	}
	return pool, nil
}
