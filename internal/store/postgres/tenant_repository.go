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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/tenancy/internal/dbident"
	"github.com/opentrusty/tenancy/internal/tenant"
)

var tenantColumns = []string{
	"id", "name", "is_self_hosted",
	"db_host", "db_port", "db_name", "db_user", "db_password",
	"db_max_pool_size", "db_ssl_mode",
	"provisioning_state", "last_error",
	"created_at", "updated_at", "deleted_at",
}

var selectTenants = "SELECT " + strings.Join(tenantColumns, ", ") + " FROM tenants"

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// SetupSelfHosted inserts the tenant row and the owner membership in one transaction
func (r *TenantRepository) SetupSelfHosted(ctx context.Context, t *tenant.Tenant, owner uuid.UUID) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertTenant(ctx, tx, t); err != nil {
			return err
		}
		return insertOwner(ctx, tx, t, owner)
	})
}

// SetupManaged inserts the tenant row and the owner membership, creates the
// tenant role and grants it to serviceAccount. Either all of it commits or
// none of it does.
func (r *TenantRepository) SetupManaged(ctx context.Context, t *tenant.Tenant, owner uuid.UUID, serviceAccount dbident.DBUser) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertTenant(ctx, tx, t); err != nil {
			return err
		}
		if err := insertOwner(ctx, tx, t, owner); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, createUserSQL(t.Database.User, t.Database.Password)); err != nil {
			return fmt.Errorf("failed to create role %s: %w", t.Database.User, err)
		}
		if _, err := tx.Exec(ctx, grantRoleSQL(t.Database.User, serviceAccount)); err != nil {
			return fmt.Errorf("failed to grant role %s: %w", t.Database.User, err)
		}
		return nil
	})
}

// CreateDatabase creates a tenant database. PostgreSQL refuses CREATE
// DATABASE inside a transaction, so this runs on its own.
func (r *TenantRepository) CreateDatabase(ctx context.Context, name dbident.DBName, owner dbident.DBUser) error {
	if _, err := r.db.pool.Exec(ctx, createDatabaseSQL(name, owner)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}
	return nil
}

// DatabaseExists reports whether a database called name exists on the main server
func (r *TenantRepository) DatabaseExists(ctx context.Context, name dbident.DBName) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up database %s: %w", name, err)
	}
	return exists, nil
}

// UpdateProvisioningState records the provisioning state and last error of a tenant.
// An empty lastError clears it.
func (r *TenantRepository) UpdateProvisioningState(ctx context.Context, id uuid.UUID, state tenant.ProvisioningState, lastError string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE tenants
		SET provisioning_state = $2, last_error = NULLIF($3, ''), updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`, id, string(state), lastError, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update provisioning state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	row := r.db.pool.QueryRow(ctx, selectTenants+" WHERE id = $1 AND deleted_at IS NULL", id)
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// ListByState lists tenants in the given provisioning state, oldest first
func (r *TenantRepository) ListByState(ctx context.Context, state tenant.ProvisioningState) ([]*tenant.Tenant, error) {
	rows, err := r.db.pool.Query(ctx,
		selectTenants+" WHERE provisioning_state = $1 AND deleted_at IS NULL ORDER BY created_at",
		string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return collectTenants(rows)
}

// ListReady lists every fully provisioned tenant
func (r *TenantRepository) ListReady(ctx context.Context) ([]*tenant.Tenant, error) {
	return r.ListByState(ctx, tenant.StateReady)
}

// ListForUser returns one page of the tenants userID is an active member of
func (r *TenantRepository) ListForUser(ctx context.Context, userID uuid.UUID, q tenant.ListQuery) (*tenant.Page, error) {
	q = q.Normalize()
	pageQuery, countQuery := listForUserQueries(userID, q)

	countSQL, countArgs, err := countQuery.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int
	if err := r.db.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count tenants: %w", err)
	}

	pageSQL, args, err := pageQuery.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}
	rows, err := r.db.pool.Query(ctx, pageSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	items, err := collectTenants(rows)
	if err != nil {
		return nil, err
	}

	return &tenant.Page{
		Items:  items,
		Total:  total,
		Limit:  q.Limit,
		Offset: q.Offset,
	}, nil
}

func (r *TenantRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", tenant.ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return fmt.Errorf("%w: %w", tenant.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit: %w", tenant.ErrPersistence, err)
	}
	return nil
}

func insertTenant(ctx context.Context, tx pgx.Tx, t *tenant.Tenant) error {
	db := t.Database
	_, err := tx.Exec(ctx, `
		INSERT INTO tenants (
			id, name, is_self_hosted,
			db_host, db_port, db_name, db_user, db_password,
			db_max_pool_size, db_ssl_mode,
			provisioning_state, last_error,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14)
	`,
		t.ID, t.Name, t.SelfHosted,
		db.Host.String(), db.Port.Int(), db.Name.String(), db.User.String(), db.Password.String(),
		db.MaxPoolSize, db.SSLMode.String(),
		string(t.ProvisioningState), t.LastError,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

func insertOwner(ctx context.Context, tx pgx.Tx, t *tenant.Tenant, owner uuid.UUID) error {
	return insertMembership(ctx, tx, &tenant.Membership{
		UserID:    owner,
		TenantID:  t.ID,
		Role:      tenant.RoleOwner,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.CreatedAt,
	})
}

func collectTenants(rows pgx.Rows) ([]*tenant.Tenant, error) {
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*tenant.Tenant, error) {
		return scanTenant(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenants: %w", err)
	}
	if items == nil {
		items = []*tenant.Tenant{}
	}
	return items, nil
}

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var (
		t                               tenant.Tenant
		host, name, user, password, ssl string
		port                            int
		state                           string
		lastError                       *string
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.SelfHosted,
		&host, &port, &name, &user, &password,
		&t.Database.MaxPoolSize, &ssl,
		&state, &lastError,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ProvisioningState = tenant.ProvisioningState(state)
	if lastError != nil {
		t.LastError = *lastError
	}

	// values were validated on the way in; parsing again restores the types
	db := &t.Database
	if db.Host, err = dbident.ParseHost(host); err == nil {
		if db.Port, err = dbident.PortFrom(port); err == nil {
			if db.Name, err = dbident.ParseDBName(name); err == nil {
				if db.User, err = dbident.ParseDBUser(user); err == nil {
					if db.Password, err = dbident.ParseDBPassword(password); err == nil {
						db.SSLMode, err = dbident.ParseSSLMode(ssl)
					}
				}
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("tenant %s has invalid database config: %w", t.ID, err)
	}
	return &t, nil
}
