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
	"testing"

	"github.com/google/uuid"
	"github.com/opentrusty/tenancy/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type activationFixture struct {
	memberships *mockMemberships
	repo        *mockRepo
	registry    *mockRegistry
	signer      *mockSigner
	audit       *mockAudit
	activator   *Activator
}

func newActivationFixture() *activationFixture {
	f := &activationFixture{
		memberships: new(mockMemberships),
		repo:        new(mockRepo),
		registry:    new(mockRegistry),
		signer:      new(mockSigner),
		audit:       newMockAudit(),
	}
	f.activator = NewActivator(f.memberships, f.repo, f.registry, f.signer, f.audit)
	return f
}

func activeTenantIs(id uuid.UUID) func(session.Claims) bool {
	return func(c session.Claims) bool {
		active, err := c.ActiveTenant()
		return err == nil && active != nil && *active == id
	}
}

// TestPurpose: Validates that a user without a membership cannot activate a tenant.
// Scope: Unit Test
// Security: Multi-tenant boundary enforcement (CWE-639)
// Expected: ErrAccessDenied (not ErrTenantNotFound); no token is signed and last_activated is untouched.
// Test Case ID: ACT-01
func TestActivator_NonMemberDenied(t *testing.T) {
	f := newActivationFixture()
	userID := uuid.New()
	tenantID := uuid.New()

	f.memberships.On("Get", mock.Anything, userID, tenantID).Return(nil, ErrMembershipNotFound)

	token, err := f.activator.Activate(context.Background(), session.NewClaims(userID), ActivateRequest{TenantID: tenantID})

	assert.Empty(t, token)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.NotErrorIs(t, err, ErrTenantNotFound)
	f.signer.AssertNotCalled(t, "Sign", mock.Anything)
	f.memberships.AssertNotCalled(t, "TouchLastActivated", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestActivator_MissingSubjectDenied(t *testing.T) {
	f := newActivationFixture()

	_, err := f.activator.Activate(context.Background(), session.Claims{}, ActivateRequest{TenantID: uuid.New()})

	assert.ErrorIs(t, err, ErrAccessDenied)
	f.memberships.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

// TestPurpose: Validates that a member receives a reissued token whose active tenant claim is the requested tenant.
// Scope: Unit Test
// Security: Session claim integrity
// Expected: Token from the signer; last_activated updated; caller's claims are not mutated.
// Test Case ID: ACT-02
func TestActivator_MemberActivates(t *testing.T) {
	f := newActivationFixture()
	userID := uuid.New()
	tenantID := uuid.New()
	claims := session.NewClaims(userID)
	claims["locale"] = "en"

	f.memberships.On("Get", mock.Anything, userID, tenantID).
		Return(&Membership{UserID: userID, TenantID: tenantID, Role: RoleOwner}, nil)
	f.registry.On("GetTenantPool", tenantID).Return(noPool, nil)
	f.memberships.On("TouchLastActivated", mock.Anything, userID, tenantID, mock.AnythingOfType("time.Time")).Return(nil)
	f.signer.On("Sign", mock.MatchedBy(func(c session.Claims) bool {
		return activeTenantIs(tenantID)(c) && c["locale"] == "en"
	})).Return("signed-token", nil)

	token, err := f.activator.Activate(context.Background(), claims, ActivateRequest{TenantID: tenantID})

	require.NoError(t, err)
	assert.Equal(t, "signed-token", token)

	active, err := claims.ActiveTenant()
	require.NoError(t, err)
	assert.Nil(t, active)

	f.memberships.AssertExpectations(t)
	f.signer.AssertExpectations(t)
	f.repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestActivator_RegistersMissingPool(t *testing.T) {
	f := newActivationFixture()
	userID := uuid.New()
	tenantID := uuid.New()
	stored := &Tenant{ID: tenantID, Name: "Acme", ProvisioningState: StateReady}

	f.memberships.On("Get", mock.Anything, userID, tenantID).Return(&Membership{UserID: userID, TenantID: tenantID, Role: RoleMember}, nil)
	f.registry.On("GetTenantPool", tenantID).Return(nil, ErrPoolNotFound)
	f.repo.On("GetByID", mock.Anything, tenantID).Return(stored, nil)
	f.registry.On("AddTenantPool", mock.Anything, tenantID, stored.Database).Return(nil)
	f.memberships.On("TouchLastActivated", mock.Anything, userID, tenantID, mock.Anything).Return(nil)
	f.signer.On("Sign", mock.MatchedBy(activeTenantIs(tenantID))).Return("signed-token", nil)

	_, err := f.activator.Activate(context.Background(), session.NewClaims(userID), ActivateRequest{TenantID: tenantID})

	require.NoError(t, err)
	f.registry.AssertExpectations(t)
}

// TestPurpose: Validates that a member cannot activate a tenant whose provisioning has not finished.
// Scope: Unit Test
// Security: Tenant Isolation
// Expected: Activation fails with ErrProvisioning wrapping ErrTenantNotReady, no pool is registered and no token is signed.
// Test Case ID: ACT-03
func TestActivator_RejectsPendingTenant(t *testing.T) {
	f := newActivationFixture()
	userID := uuid.New()
	tenantID := uuid.New()

	f.memberships.On("Get", mock.Anything, userID, tenantID).Return(&Membership{UserID: userID, TenantID: tenantID, Role: RoleOwner}, nil)
	f.registry.On("GetTenantPool", tenantID).Return(nil, ErrPoolNotFound)
	f.repo.On("GetByID", mock.Anything, tenantID).Return(&Tenant{ID: tenantID, ProvisioningState: StatePendingDDL}, nil)

	token, err := f.activator.Activate(context.Background(), session.NewClaims(userID), ActivateRequest{TenantID: tenantID})

	require.Error(t, err)
	assert.Empty(t, token)
	assert.ErrorIs(t, err, ErrProvisioning)
	assert.ErrorIs(t, err, ErrTenantNotReady)
	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, tenantID, perr.TenantID)
	assert.Equal(t, PhaseActivating, perr.Phase)
	f.registry.AssertNotCalled(t, "AddTenantPool", mock.Anything, mock.Anything, mock.Anything)
	f.memberships.AssertNotCalled(t, "TouchLastActivated", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.signer.AssertNotCalled(t, "Sign", mock.Anything)
}
