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

package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opentrusty/tenancy/internal/dbident"
	"github.com/opentrusty/tenancy/internal/session"
)

// Repository persists tenant metadata and issues the DDL of managed tenants
type Repository interface {
	// SetupSelfHosted inserts the tenant and its owner membership in one transaction
	SetupSelfHosted(ctx context.Context, t *Tenant, owner uuid.UUID) error
	// SetupManaged inserts the tenant and its owner membership, creates the
	// tenant role and grants it to serviceAccount, all in one transaction
	SetupManaged(ctx context.Context, t *Tenant, owner uuid.UUID, serviceAccount dbident.DBUser) error
	// CreateDatabase runs CREATE DATABASE outside of any transaction
	CreateDatabase(ctx context.Context, name dbident.DBName, owner dbident.DBUser) error
	DatabaseExists(ctx context.Context, name dbident.DBName) (bool, error)
	UpdateProvisioningState(ctx context.Context, id uuid.UUID, state ProvisioningState, lastError string) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	ListByState(ctx context.Context, state ProvisioningState) ([]*Tenant, error)
	ListReady(ctx context.Context) ([]*Tenant, error)
	ListForUser(ctx context.Context, userID uuid.UUID, q ListQuery) (*Page, error)
}

// MembershipRepository reads and updates user/tenant memberships
type MembershipRepository interface {
	Get(ctx context.Context, userID, tenantID uuid.UUID) (*Membership, error)
	TouchLastActivated(ctx context.Context, userID, tenantID uuid.UUID, at time.Time) error
}

// PoolRegistry resolves and registers per-tenant connection pools
type PoolRegistry interface {
	GetTenantPool(id uuid.UUID) (*pgxpool.Pool, error)
	AddTenantPool(ctx context.Context, id uuid.UUID, cfg DatabaseConfig) error
}

// ConnectionTester checks a candidate tenant database
type ConnectionTester interface {
	// TestConnect opens a pool with at least the required TLS mode. The caller
	// owns the returned pool.
	TestConnect(ctx context.Context, cfg DatabaseConfig, required dbident.SSLMode) (*pgxpool.Pool, error)
	IsEmptyDatabase(ctx context.Context, pool *pgxpool.Pool) error
}

// Migrator applies the tenant schema
type Migrator interface {
	MigrateTenantDB(ctx context.Context, pool *pgxpool.Pool) error
}

// TokenSigner reissues session tokens
type TokenSigner interface {
	Sign(claims session.Claims) (string, error)
}

// Recorder observes provisioning and activation outcomes
type Recorder interface {
	ProvisioningFinished(ctx context.Context, flow string, phase Phase, err error, elapsed time.Duration)
	ActivationFinished(ctx context.Context, err error)
}

type noopRecorder struct{}

func (noopRecorder) ProvisioningFinished(context.Context, string, Phase, error, time.Duration) {}
func (noopRecorder) ActivationFinished(context.Context, error)                               {}
