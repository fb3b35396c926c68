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

// Command migrate applies the control-plane schema to the main database and
// the tenant schema to the default tenant database.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/opentrusty/tenancy/internal/config"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/store/postgres"
	"github.com/samber/oops"
)

const logDomain = "migrate"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load the config", logger.Error(err))
		os.Exit(1)
	}

	log := logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "migrate",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		cancel()
		log.Error("migration failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	migrator := postgres.NewMigrator()

	mainDB, err := connect(ctx, cfg.Database, cfg.Pool.AcquireTimeout)
	if err != nil {
		return oops.In(logDomain).With("database", cfg.Database.Database).
			Wrapf(err, "Failed to connect to the main database")
	}
	defer mainDB.Close()

	if err := migrator.MigrateControlDB(ctx, mainDB.Pool()); err != nil {
		return oops.In(logDomain).Wrapf(err, "Failed to migrate the control-plane schema")
	}
	log.Info("control-plane schema is up to date",
		logger.DBTarget(cfg.Database.Host, cfg.Database.Database))

	defaultTenant, err := connect(ctx, cfg.DefaultTenantDatabase, cfg.Pool.AcquireTimeout)
	if err != nil {
		return oops.In(logDomain).With("database", cfg.DefaultTenantDatabase.Database).
			Wrapf(err, "Failed to connect to the default tenant database")
	}
	defer defaultTenant.Close()

	if err := migrator.MigrateTenantDB(ctx, defaultTenant.Pool()); err != nil {
		return oops.In(logDomain).Wrapf(err, "Failed to migrate the default tenant schema")
	}
	version, err := migrator.TenantSchemaVersion(ctx, defaultTenant.Pool())
	if err != nil {
		return oops.In(logDomain).Wrapf(err, "Failed to read the tenant schema version")
	}
	log.Info("default tenant schema is up to date",
		logger.DBTarget(cfg.DefaultTenantDatabase.Host, cfg.DefaultTenantDatabase.Database),
		logger.MigrationVersion(version))

	return nil
}

func connect(ctx context.Context, c config.DatabaseConfig, timeout time.Duration) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		Host:           c.Host,
		Port:           c.Port,
		User:           c.User,
		Password:       c.Password,
		Database:       c.Database,
		SSLMode:        c.SSLMode,
		MaxConns:       2,
		AcquireTimeout: timeout,
	})
}
