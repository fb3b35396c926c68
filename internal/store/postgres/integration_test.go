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

//go:build integration

package postgres

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/dbident"
	"github.com/opentrusty/tenancy/internal/session"
	"github.com/opentrusty/tenancy/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	itUser     = "tenancy"
	itDatabase = "tenancy"
)

// the password doubles as a self-hosted tenant password, so it has to pass dbident
var itPassword = strings.Repeat("Tenancy1", 6)

type integrationEnv struct {
	cfg        Config
	main       *DB
	repo       *TenantRepository
	members    *MembershipRepository
	registry   *Registry
	migrator   *Migrator
	serviceCfg tenant.ServiceConfig
}

func setupIntegration(t *testing.T) *integrationEnv {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase(itDatabase),
		tcpostgres.WithUsername(itUser),
		tcpostgres.WithPassword(itPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	mapped, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := Config{
		Host:     host,
		Port:     mapped.Port(),
		User:     itUser,
		Password: itPassword,
		Database: itDatabase,
		SSLMode:  "disable",
		MaxConns: 5,
	}
	main, err := New(ctx, cfg)
	require.NoError(t, err)

	migrator := NewMigrator()
	require.NoError(t, migrator.MigrateControlDB(ctx, main.Pool()))

	registry := NewRegistry(main.Pool(), main.Pool())
	t.Cleanup(registry.Close)

	managedHost, err := dbident.ParseHost(host)
	require.NoError(t, err)
	managedPort, err := dbident.ParsePort(mapped.Port())
	require.NoError(t, err)
	ssl, err := dbident.ParseSSLMode("disable")
	require.NoError(t, err)
	serviceAccount, err := dbident.ParseDBUser(itUser)
	require.NoError(t, err)

	return &integrationEnv{
		cfg:      cfg,
		main:     main,
		repo:     NewTenantRepository(main),
		members:  NewMembershipRepository(main),
		registry: registry,
		migrator: migrator,
		serviceCfg: tenant.ServiceConfig{
			ManagedHost:               managedHost,
			ManagedPort:               managedPort,
			ManagedSSLMode:            ssl,
			ManagedPoolSize:           4,
			ServiceAccount:            serviceAccount,
			SelfHostedRequiredSSLMode: ssl,
			SelfHostedPoolSize:        4,
		},
	}
}

func (e *integrationEnv) service(repo tenant.Repository) *tenant.Service {
	return tenant.NewService(repo, e.members, e.registry, NewConnectionTester(5*time.Second),
		e.migrator, audit.NewSlogLogger(nil), e.serviceCfg)
}

type failingCreateRepo struct {
	*TenantRepository
	fail atomic.Bool
}

func (r *failingCreateRepo) CreateDatabase(ctx context.Context, name dbident.DBName, owner dbident.DBUser) error {
	if r.fail.Load() {
		return errors.New("could not write init file")
	}
	return r.TenantRepository.CreateDatabase(ctx, name, owner)
}

// TestPurpose: Validates end-to-end provisioning of a managed tenant against a real PostgreSQL server.
// Scope: Database Integration Test
// Security: Tenant Database Isolation
// Expected: The tenant row is ready, the owner is a member, the tenant role owns the new database and the tenant schema is applied.
// Test Case ID: INT-01
func TestIntegration_ManagedTenant(t *testing.T) {
	env := setupIntegration(t)
	ctx := context.Background()
	owner := uuid.New()

	created, err := env.service(env.repo).CreateManaged(ctx, session.NewClaims(owner), tenant.ManagedRequest{Name: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, tenant.StateReady, created.ProvisioningState)
	assert.False(t, created.SelfHosted)

	stored, err := env.repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", stored.Name)
	assert.Equal(t, tenant.StateReady, stored.ProvisioningState)
	assert.Empty(t, stored.LastError)
	assert.Equal(t, created.Database.Name, stored.Database.Name)
	assert.Equal(t, created.Database.Password.String(), stored.Database.Password.String())

	m, err := env.members.Get(ctx, owner, created.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.RoleOwner, m.Role)

	var dbOwner string
	require.NoError(t, env.main.Pool().QueryRow(ctx, `
		SELECT pg_get_userbyid(datdba) FROM pg_database WHERE datname = $1
	`, created.Database.Name.String()).Scan(&dbOwner))
	assert.Equal(t, created.Database.User.String(), dbOwner)

	pool, err := env.registry.GetTenantPool(created.ID)
	require.NoError(t, err)
	version, err := env.migrator.TenantSchemaVersion(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)

	var exists bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT to_regclass('public.worksheets') IS NOT NULL`).Scan(&exists))
	assert.True(t, exists)

	page, err := env.repo.ListForUser(ctx, owner, tenant.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, created.ID, page.Items[0].ID)
}

// TestPurpose: Validates that a managed tenant whose CREATE DATABASE failed is left resumable and that resuming completes it.
// Scope: Database Integration Test
// Security: Provisioning Consistency
// Expected: The tenant stays in pending_ddl with the cause recorded and no pool registered, and ResumeProvisioning brings it to ready.
// Test Case ID: INT-02
func TestIntegration_ManagedTenantResume(t *testing.T) {
	env := setupIntegration(t)
	ctx := context.Background()
	owner := uuid.New()

	repo := &failingCreateRepo{TenantRepository: env.repo}
	repo.fail.Store(true)
	svc := env.service(repo)

	_, err := svc.CreateManaged(ctx, session.NewClaims(owner), tenant.ManagedRequest{Name: "Globex"})
	require.Error(t, err)
	assert.ErrorIs(t, err, tenant.ErrProvisioning)

	var perr *tenant.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, tenant.PhaseCreatingDBObjects, perr.Phase)
	require.True(t, perr.Committed())

	stuck, err := env.repo.ListByState(ctx, tenant.StatePendingDDL)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, perr.TenantID, stuck[0].ID)
	assert.Contains(t, stuck[0].LastError, "could not write init file")

	// the role was created in the committed transaction
	var roleExists bool
	require.NoError(t, env.main.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`, stuck[0].Database.User.String(),
	).Scan(&roleExists))
	assert.True(t, roleExists)

	_, err = env.registry.GetTenantPool(perr.TenantID)
	assert.ErrorIs(t, err, tenant.ErrPoolNotFound)

	repo.fail.Store(false)
	resumed, err := svc.ResumeProvisioning(ctx, perr.TenantID)
	require.NoError(t, err)
	assert.Equal(t, tenant.StateReady, resumed.ProvisioningState)

	stored, err := env.repo.GetByID(ctx, perr.TenantID)
	require.NoError(t, err)
	assert.Equal(t, tenant.StateReady, stored.ProvisioningState)
	assert.Empty(t, stored.LastError)

	// resuming a ready tenant is a no-op
	_, err = svc.ResumeProvisioning(ctx, perr.TenantID)
	require.NoError(t, err)
}

// TestPurpose: Validates that a self-hosted tenant is refused when its database already holds tables and that nothing is persisted.
// Scope: Database Integration Test
// Security: Protection of Customer Data
// Expected: CreateSelfHosted fails with ErrNotEmpty and the user's tenant list is unchanged.
// Test Case ID: INT-03
func TestIntegration_SelfHostedNotEmpty(t *testing.T) {
	env := setupIntegration(t)
	ctx := context.Background()
	owner := uuid.New()

	_, err := env.main.Pool().Exec(ctx, "CREATE DATABASE customer_full")
	require.NoError(t, err)
	customerCfg := env.cfg
	customerCfg.Database = "customer_full"
	customer, err := New(ctx, customerCfg)
	require.NoError(t, err)
	_, err = customer.Pool().Exec(ctx, "CREATE TABLE invoices (id INT PRIMARY KEY)")
	require.NoError(t, err)
	customer.Close()

	before, err := env.repo.ListForUser(ctx, owner, tenant.ListQuery{})
	require.NoError(t, err)

	req := tenant.SelfHostedRequest{
		Name:       "Initech",
		DBHost:     env.cfg.Host,
		DBPort:     env.serviceCfg.ManagedPort.Int(),
		DBName:     "customer_full",
		DBUser:     itUser,
		DBPassword: itPassword,
		DBSSLMode:  "disable",
	}
	_, err = env.service(env.repo).CreateSelfHosted(ctx, session.NewClaims(owner), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, tenant.ErrNotEmpty)

	after, err := env.repo.ListForUser(ctx, owner, tenant.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, before.Total, after.Total)
	assert.Zero(t, after.Total)
}

// TestPurpose: Validates that tables the supplied role cannot see still make a self-hosted database count as non-empty.
// Scope: Database Integration Test
// Security: Protection of Customer Data
// Expected: A table owned by another role with no grants causes ErrNotEmpty for the unprivileged customer role.
// Test Case ID: INT-05
func TestIntegration_SelfHostedHiddenTables(t *testing.T) {
	env := setupIntegration(t)
	ctx := context.Background()
	owner := uuid.New()
	appPassword := strings.Repeat("Customer9", 5)

	_, err := env.main.Pool().Exec(ctx, "CREATE DATABASE customer_hidden")
	require.NoError(t, err)
	_, err = env.main.Pool().Exec(ctx, "CREATE ROLE customer_app LOGIN PASSWORD '"+appPassword+"'")
	require.NoError(t, err)

	customerCfg := env.cfg
	customerCfg.Database = "customer_hidden"
	customer, err := New(ctx, customerCfg)
	require.NoError(t, err)
	_, err = customer.Pool().Exec(ctx, "CREATE SCHEMA billing")
	require.NoError(t, err)
	_, err = customer.Pool().Exec(ctx, "CREATE TABLE billing.ledger (id INT PRIMARY KEY)")
	require.NoError(t, err)
	_, err = customer.Pool().Exec(ctx, "REVOKE ALL ON billing.ledger FROM PUBLIC")
	require.NoError(t, err)

	var visible int64
	appCfg := customerCfg
	appCfg.User = "customer_app"
	appCfg.Password = appPassword
	app, err := New(ctx, appCfg)
	require.NoError(t, err)
	require.NoError(t, app.Pool().QueryRow(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_schema = 'billing'`).Scan(&visible))
	app.Close()
	customer.Close()
	require.Zero(t, visible)

	_, err = env.service(env.repo).CreateSelfHosted(ctx, session.NewClaims(owner), tenant.SelfHostedRequest{
		Name:       "Vandelay",
		DBHost:     env.cfg.Host,
		DBPort:     env.serviceCfg.ManagedPort.Int(),
		DBName:     "customer_hidden",
		DBUser:     "customer_app",
		DBPassword: appPassword,
		DBSSLMode:  "disable",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, tenant.ErrNotEmpty)

	page, err := env.repo.ListForUser(ctx, owner, tenant.ListQuery{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestIntegration_SelfHostedTenant(t *testing.T) {
	env := setupIntegration(t)
	ctx := context.Background()
	owner := uuid.New()

	_, err := env.main.Pool().Exec(ctx, "CREATE DATABASE customer_empty")
	require.NoError(t, err)

	created, err := env.service(env.repo).CreateSelfHosted(ctx, session.NewClaims(owner), tenant.SelfHostedRequest{
		Name:       "Umbrella",
		DBHost:     env.cfg.Host,
		DBPort:     env.serviceCfg.ManagedPort.Int(),
		DBName:     "customer_empty",
		DBUser:     itUser,
		DBPassword: itPassword,
		DBSSLMode:  "disable",
	})
	require.NoError(t, err)
	assert.True(t, created.SelfHosted)
	assert.Equal(t, tenant.StateReady, created.ProvisioningState)

	pool, err := env.registry.GetTenantPool(created.ID)
	require.NoError(t, err)
	version, err := env.migrator.TenantSchemaVersion(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)
}

// TestPurpose: Validates tenant activation against real memberships and pools.
// Scope: Database Integration Test
// Security: Tenant Access Control (CWE-284)
// Expected: A member receives a token scoped to the tenant and the tenant pool is registered; a non-member is denied.
// Test Case ID: INT-04
func TestIntegration_Activation(t *testing.T) {
	env := setupIntegration(t)
	ctx := context.Background()
	owner := uuid.New()

	created, err := env.service(env.repo).CreateManaged(ctx, session.NewClaims(owner), tenant.ManagedRequest{Name: "Hooli"})
	require.NoError(t, err)

	// a restarted process starts with an empty registry
	require.True(t, env.registry.RemoveTenantPool(created.ID))

	manager, err := session.NewManager("tenancy", []byte(strings.Repeat("k", 32)), time.Hour)
	require.NoError(t, err)
	activator := tenant.NewActivator(env.members, env.repo, env.registry, manager, audit.NewSlogLogger(nil))

	token, err := activator.Activate(ctx, session.NewClaims(owner), tenant.ActivateRequest{TenantID: created.ID})
	require.NoError(t, err)

	claims, err := manager.Parse(token)
	require.NoError(t, err)
	active, err := claims.ActiveTenant()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, created.ID, *active)

	_, err = env.registry.GetTenantPool(created.ID)
	assert.NoError(t, err)

	m, err := env.members.Get(ctx, owner, created.ID)
	require.NoError(t, err)
	assert.NotNil(t, m.LastActivated)

	_, err = activator.Activate(ctx, session.NewClaims(uuid.New()), tenant.ActivateRequest{TenantID: created.ID})
	assert.ErrorIs(t, err, tenant.ErrAccessDenied)
}
