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
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/tenant"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/control/*.sql migrations/tenant/*.sql
var migrationFS embed.FS

const (
	controlMigrationsDir = "migrations/control"
	tenantMigrationsDir  = "migrations/tenant"
)

// MigrationFailure names the migration that stopped a migration run.
// Migrations after it were not applied.
type MigrationFailure struct {
	Version int64
	Source  string
	Err     error
}

func (e *MigrationFailure) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", e.Version, e.Source, e.Err)
}

func (e *MigrationFailure) Unwrap() []error {
	return []error{tenant.ErrMigration, e.Err}
}

// Migrator applies the embedded schema migrations. Applied versions are
// tracked in goose_db_version, so running it against an up-to-date database
// does nothing.
type Migrator struct {
	fsys fs.FS
}

// NewMigrator creates a migrator over the embedded migration sets
func NewMigrator() *Migrator {
	return &Migrator{fsys: migrationFS}
}

// MigrateTenantDB brings a tenant database to the latest schema
func (m *Migrator) MigrateTenantDB(ctx context.Context, pool *pgxpool.Pool) error {
	return m.up(ctx, pool, tenantMigrationsDir)
}

// MigrateControlDB brings the main database to the latest schema
func (m *Migrator) MigrateControlDB(ctx context.Context, pool *pgxpool.Pool) error {
	return m.up(ctx, pool, controlMigrationsDir)
}

// TenantSchemaVersion returns the latest applied tenant migration
func (m *Migrator) TenantSchemaVersion(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	provider, closeDB, err := m.provider(pool, tenantMigrationsDir)
	if err != nil {
		return 0, err
	}
	defer closeDB()

	v, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// a provider per call keeps concurrent migrations of different tenants apart
func (m *Migrator) provider(pool *pgxpool.Pool, dir string) (*goose.Provider, func(), error) {
	sub, err := fs.Sub(m.fsys, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open migrations %s: %w", dir, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, func() { _ = db.Close() }, nil
}

func (m *Migrator) up(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	provider, closeDB, err := m.provider(pool, dir)
	if err != nil {
		return fmt.Errorf("%w: %w", tenant.ErrMigration, err)
	}
	defer closeDB()

	results, err := provider.Up(ctx)
	if err != nil {
		var partial *goose.PartialError
		if errors.As(err, &partial) && partial.Failed != nil && partial.Failed.Source != nil {
			return &MigrationFailure{
				Version: partial.Failed.Source.Version,
				Source:  partial.Failed.Source.Path,
				Err:     partial.Err,
			}
		}
		return fmt.Errorf("%w: %w", tenant.ErrMigration, err)
	}

	for _, r := range results {
		slog.DebugContext(ctx, "migration applied",
			logger.Component("migrator"),
			logger.MigrationVersion(r.Source.Version),
			logger.Elapsed(r.Duration),
		)
	}
	return nil
}
