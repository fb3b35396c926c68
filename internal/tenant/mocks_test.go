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
	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/dbident"
	"github.com/opentrusty/tenancy/internal/session"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) SetupSelfHosted(ctx context.Context, t *Tenant, owner uuid.UUID) error {
	args := m.Called(ctx, t, owner)
	return args.Error(0)
}

func (m *mockRepo) SetupManaged(ctx context.Context, t *Tenant, owner uuid.UUID, serviceAccount dbident.DBUser) error {
	args := m.Called(ctx, t, owner, serviceAccount)
	return args.Error(0)
}

func (m *mockRepo) CreateDatabase(ctx context.Context, name dbident.DBName, owner dbident.DBUser) error {
	args := m.Called(ctx, name, owner)
	return args.Error(0)
}

func (m *mockRepo) DatabaseExists(ctx context.Context, name dbident.DBName) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) UpdateProvisioningState(ctx context.Context, id uuid.UUID, state ProvisioningState, lastError string) error {
	args := m.Called(ctx, id, state, lastError)
	return args.Error(0)
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Tenant), args.Error(1)
}

func (m *mockRepo) ListByState(ctx context.Context, state ProvisioningState) ([]*Tenant, error) {
	args := m.Called(ctx, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Tenant), args.Error(1)
}

func (m *mockRepo) ListReady(ctx context.Context) ([]*Tenant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Tenant), args.Error(1)
}

func (m *mockRepo) ListForUser(ctx context.Context, userID uuid.UUID, q ListQuery) (*Page, error) {
	args := m.Called(ctx, userID, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Page), args.Error(1)
}

type mockMemberships struct {
	mock.Mock
}

func (m *mockMemberships) Get(ctx context.Context, userID, tenantID uuid.UUID) (*Membership, error) {
	args := m.Called(ctx, userID, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Membership), args.Error(1)
}

func (m *mockMemberships) TouchLastActivated(ctx context.Context, userID, tenantID uuid.UUID, at time.Time) error {
	args := m.Called(ctx, userID, tenantID, at)
	return args.Error(0)
}

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) GetTenantPool(id uuid.UUID) (*pgxpool.Pool, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pgxpool.Pool), args.Error(1)
}

func (m *mockRegistry) AddTenantPool(ctx context.Context, id uuid.UUID, cfg DatabaseConfig) error {
	args := m.Called(ctx, id, cfg)
	return args.Error(0)
}

type mockTester struct {
	mock.Mock
}

func (m *mockTester) TestConnect(ctx context.Context, cfg DatabaseConfig, required dbident.SSLMode) (*pgxpool.Pool, error) {
	args := m.Called(ctx, cfg, required)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pgxpool.Pool), args.Error(1)
}

func (m *mockTester) IsEmptyDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	args := m.Called(ctx, pool)
	return args.Error(0)
}

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) MigrateTenantDB(ctx context.Context, pool *pgxpool.Pool) error {
	args := m.Called(ctx, pool)
	return args.Error(0)
}

type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) Sign(claims session.Claims) (string, error) {
	args := m.Called(claims)
	return args.String(0), args.Error(1)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

func newMockAudit() *mockAudit {
	a := new(mockAudit)
	a.On("Log", mock.Anything, mock.Anything).Return()
	return a
}
