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
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// Connector opens a live pool for a tenant database
type Connector func(ctx context.Context, cfg tenant.DatabaseConfig) (*pgxpool.Pool, error)

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithAcquireTimeout bounds pool opening and connection acquisition
func WithAcquireTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.acquireTimeout = d
		}
	}
}

// WithConnector replaces the function used to open tenant pools
func WithConnector(c Connector) RegistryOption {
	return func(r *Registry) {
		if c != nil {
			r.connect = c
		}
	}
}

// WithLogger sets the registry logger
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry owns the main pool, the default tenant pool and one pool per
// activated tenant.
//
// Lookups take the read lock only. Opening a pool happens outside the lock;
// the write lock is held just long enough to swap the map entry. A panic
// inside the write section marks the registry unavailable instead of leaving
// a half-updated map in use.
type Registry struct {
	main          *pgxpool.Pool
	defaultTenant *pgxpool.Pool

	mu       sync.RWMutex
	pools    map[uuid.UUID]*pgxpool.Pool
	closed   bool
	poisoned bool

	acquireTimeout time.Duration
	connect        Connector
	logger         *slog.Logger
}

// NewRegistry creates a registry around the two always-available pools
func NewRegistry(main, defaultTenant *pgxpool.Pool, opts ...RegistryOption) *Registry {
	r := &Registry{
		main:           main,
		defaultTenant:  defaultTenant,
		pools:          make(map[uuid.UUID]*pgxpool.Pool),
		acquireTimeout: DefaultAcquireTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.connect == nil {
		r.connect = func(ctx context.Context, cfg tenant.DatabaseConfig) (*pgxpool.Pool, error) {
			return openTenantPool(ctx, cfg, r.acquireTimeout)
		}
	}
	return r
}

// MainPool returns the control-plane pool
func (r *Registry) MainPool() *pgxpool.Pool {
	return r.main
}

// DefaultTenantPool returns the bootstrap tenant pool
func (r *Registry) DefaultTenantPool() *pgxpool.Pool {
	return r.defaultTenant
}

// GetTenantPool returns the pool registered for id. A tenant without a pool
// yields tenant.ErrPoolNotFound.
func (r *Registry) GetTenantPool(id uuid.UUID) (*pgxpool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.poisoned {
		return nil, tenant.ErrRegistryUnavailable
	}
	pool, ok := r.pools[id]
	if !ok {
		return nil, tenant.ErrPoolNotFound
	}
	return pool, nil
}

// AddTenantPool opens a pool for cfg and registers it under id, replacing
// and closing any pool registered before. If the pool cannot be opened the
// registry is left unchanged.
func (r *Registry) AddTenantPool(ctx context.Context, id uuid.UUID, cfg tenant.DatabaseConfig) error {
	if err := r.available(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()

	pool, err := r.connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%w: failed to open pool for tenant %s: %w", tenant.ErrRegistry, id, err)
	}

	prev, err := r.swap(id, pool)
	if err != nil {
		pool.Close()
		return err
	}
	if prev != nil {
		// in-flight users of prev keep their connections until released
		go prev.Close()
	}

	r.logger.InfoContext(ctx, "tenant pool registered",
		logger.TenantID(id.String()),
		logger.DBTarget(cfg.Host.String(), cfg.Name.String()),
		logger.PoolSize(cfg.MaxPoolSize),
		slog.Bool("replaced", prev != nil),
	)
	return nil
}

func (r *Registry) swap(id uuid.UUID, pool *pgxpool.Pool) (prev *pgxpool.Pool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			r.poisoned = true
			prev = nil
			err = fmt.Errorf("%w: %v", tenant.ErrRegistryUnavailable, rec)
			r.logger.Error("tenant pool registry poisoned",
				logger.TenantID(id.String()),
				slog.Any("panic", rec),
			)
		}
	}()

	if r.closed || r.poisoned {
		return nil, tenant.ErrRegistryUnavailable
	}
	prev = r.pools[id]
	r.pools[id] = pool
	return prev, nil
}

// RemoveTenantPool unregisters and closes the pool of id. It reports whether
// a pool was registered.
func (r *Registry) RemoveTenantPool(id uuid.UUID) bool {
	r.mu.Lock()
	pool, ok := r.pools[id]
	if ok {
		delete(r.pools, id)
	}
	r.mu.Unlock()

	if ok {
		pool.Close()
	}
	return ok
}

// Acquire takes a connection from the tenant pool, waiting at most the
// acquire timeout. The caller must Release it.
func (r *Registry) Acquire(ctx context.Context, id uuid.UUID) (*pgxpool.Conn, error) {
	pool, err := r.GetTenantPool(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to acquire connection for tenant %s: %w", tenant.ErrRegistry, id, err)
	}
	return conn, nil
}

// Len returns the number of registered tenant pools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// PoolStats returns a snapshot of pool statistics keyed by "main",
// "default" and tenant id
func (r *Registry) PoolStats() map[string]*pgxpool.Stat {
	r.mu.RLock()
	pools := make(map[string]*pgxpool.Pool, len(r.pools)+2)
	for id, p := range r.pools {
		pools[id.String()] = p
	}
	r.mu.RUnlock()

	if r.main != nil {
		pools["main"] = r.main
	}
	if r.defaultTenant != nil {
		pools["default"] = r.defaultTenant
	}

	stats := make(map[string]*pgxpool.Stat, len(pools))
	for key, p := range pools {
		stats[key] = p.Stat()
	}
	return stats
}

// Close closes every pool. Later lookups return tenant.ErrRegistryUnavailable.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pools := r.pools
	r.pools = make(map[uuid.UUID]*pgxpool.Pool)
	r.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
	if r.defaultTenant != nil && r.defaultTenant != r.main {
		r.defaultTenant.Close()
	}
	if r.main != nil {
		r.main.Close()
	}
}

func (r *Registry) available() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || r.poisoned {
		return tenant.ErrRegistryUnavailable
	}
	return nil
}
