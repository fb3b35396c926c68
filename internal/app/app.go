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

// Package app assembles the tenancy components from configuration. It is
// shared by the server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/config"
	"github.com/opentrusty/tenancy/internal/dbident"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/session"
	"github.com/opentrusty/tenancy/internal/store/postgres"
	"github.com/opentrusty/tenancy/internal/tenant"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// App holds the wired tenancy components
type App struct {
	Main          *postgres.DB
	DefaultTenant *postgres.DB
	Registry      *postgres.Registry
	Tenants       *postgres.TenantRepository
	Memberships   *postgres.MembershipRepository
	Migrator      *postgres.Migrator
	Sessions      *session.Manager
	Service       *tenant.Service
	Activator     *tenant.Activator

	cfg    *config.Config
	logger *slog.Logger
}

// Open connects the main and default tenant databases and wires the
// provisioning service and activator. recorder may be nil.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger, recorder tenant.Recorder) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	serviceCfg, err := ServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	serviceCfg.Recorder = recorder

	sessions, err := session.NewManager(cfg.Session.Issuer, []byte(cfg.Session.Secret), cfg.Session.Lifetime)
	if err != nil {
		return nil, err
	}

	mainDB, err := postgres.New(ctx, dbConfig(cfg.Database, cfg.Pool.AcquireTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to main database: %w", err)
	}
	log.InfoContext(ctx, "connected to database",
		logger.DBTarget(cfg.Database.Host, cfg.Database.Database))

	defaultTenant, err := postgres.New(ctx, dbConfig(cfg.DefaultTenantDatabase, cfg.Pool.AcquireTimeout))
	if err != nil {
		mainDB.Close()
		return nil, fmt.Errorf("failed to connect to default tenant database: %w", err)
	}

	registry := postgres.NewRegistry(mainDB.Pool(), defaultTenant.Pool(),
		postgres.WithAcquireTimeout(cfg.Pool.AcquireTimeout),
		postgres.WithLogger(log.With(logger.Component("registry"))),
	)

	tenants := postgres.NewTenantRepository(mainDB)
	memberships := postgres.NewMembershipRepository(mainDB)
	migrator := postgres.NewMigrator()
	auditLogger := audit.NewSlogLogger(log)

	service := tenant.NewService(tenants, memberships, registry,
		postgres.NewConnectionTester(cfg.Pool.AcquireTimeout), migrator, auditLogger, serviceCfg)
	activator := tenant.NewActivator(memberships, tenants, registry, sessions, auditLogger).
		WithRecorder(recorder)

	return &App{
		Main:          mainDB,
		DefaultTenant: defaultTenant,
		Registry:      registry,
		Tenants:       tenants,
		Memberships:   memberships,
		Migrator:      migrator,
		Sessions:      sessions,
		Service:       service,
		Activator:     activator,
		cfg:           cfg,
		logger:        log,
	}, nil
}

// Close closes every pool, the main and default tenant pools included
func (a *App) Close() {
	a.Registry.Close()
}

// WarmUp registers a pool for every ready tenant
func (a *App) WarmUp(ctx context.Context) (int, error) {
	return WarmUp(ctx, a.Tenants, a.Registry, a.cfg.Pool.WarmupConcurrency, a.logger)
}

// MigrateTenant brings one ready tenant's database to the latest schema,
// registering its pool first when needed
func (a *App) MigrateTenant(ctx context.Context, t *tenant.Tenant) error {
	pool, err := a.Registry.GetTenantPool(t.ID)
	if err != nil {
		if err := a.Registry.AddTenantPool(ctx, t.ID, t.Database); err != nil {
			return err
		}
		if pool, err = a.Registry.GetTenantPool(t.ID); err != nil {
			return err
		}
	}
	return a.Migrator.MigrateTenantDB(ctx, pool)
}

// ReadyLister lists fully provisioned tenants
type ReadyLister interface {
	ListReady(ctx context.Context) ([]*tenant.Tenant, error)
}

// WarmUp registers pools for every ready tenant, at most limit at a time.
// A tenant whose database is unreachable is logged and skipped; activation
// retries it later. It returns how many pools were registered.
func WarmUp(ctx context.Context, lister ReadyLister, registry tenant.PoolRegistry, limit int, log *slog.Logger) (int, error) {
	tenants, err := lister.ListReady(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list ready tenants: %w", err)
	}

	registered := make([]bool, len(tenants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i, t := range tenants {
		g.Go(func() error {
			if err := registry.AddTenantPool(gctx, t.ID, t.Database); err != nil {
				log.WarnContext(gctx, "tenant pool warm-up failed",
					logger.TenantID(t.ID.String()),
					logger.DBTarget(t.Database.Host.String(), t.Database.Name.String()),
					logger.Error(err),
				)
				return nil
			}
			registered[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range registered {
		if ok {
			n++
		}
	}
	log.InfoContext(ctx, "tenant pools warmed up",
		slog.Int("registered", n),
		slog.Int("ready", len(tenants)),
	)
	return n, ctx.Err()
}

// ServiceConfig parses the provisioning settings. Every invalid value is reported.
func ServiceConfig(cfg *config.Config) (tenant.ServiceConfig, error) {
	var errs error
	collect := func(err error, key string) {
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	host, err := dbident.ParseHost(cfg.Managed.Host)
	collect(err, "MANAGED_DB_HOST")
	port, err := dbident.ParsePort(cfg.Managed.Port)
	collect(err, "MANAGED_DB_PORT")
	managedSSL, err := dbident.ParseSSLMode(cfg.Managed.SSLMode)
	collect(err, "MANAGED_DB_SSLMODE")
	serviceAccount, err := dbident.ParseDBUser(cfg.Managed.ServiceAccount)
	collect(err, "MANAGED_DB_SERVICE_ACCOUNT")
	requiredSSL, err := dbident.ParseSSLMode(cfg.SelfHosted.RequiredSSLMode)
	collect(err, "SELF_HOSTED_REQUIRED_SSLMODE")

	if errs != nil {
		return tenant.ServiceConfig{}, fmt.Errorf("invalid provisioning configuration: %w", errs)
	}
	return tenant.ServiceConfig{
		ManagedHost:               host,
		ManagedPort:               port,
		ManagedSSLMode:            managedSSL,
		ManagedPoolSize:           cfg.Managed.PoolSize,
		ServiceAccount:            serviceAccount,
		SelfHostedRequiredSSLMode: requiredSSL,
		SelfHostedPoolSize:        cfg.SelfHosted.PoolSize,
	}, nil
}

func dbConfig(c config.DatabaseConfig, acquireTimeout time.Duration) postgres.Config {
	return postgres.Config{
		Host:           c.Host,
		Port:           c.Port,
		User:           c.User,
		Password:       c.Password,
		Database:       c.Database,
		SSLMode:        c.SSLMode,
		MaxConns:       c.MaxConns,
		MinConns:       c.MinConns,
		AcquireTimeout: acquireTimeout,
	}
}
