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
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// MembershipRepository implements tenant.MembershipRepository
type MembershipRepository struct {
	db *DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// Get retrieves the active membership of userID in tenantID. Memberships of
// deleted tenants are not returned.
func (r *MembershipRepository) Get(ctx context.Context, userID, tenantID uuid.UUID) (*tenant.Membership, error) {
	var m tenant.Membership
	err := r.db.pool.QueryRow(ctx, `
		SELECT ut.user_id, ut.tenant_id, ut.role, ut.invited_by, ut.last_activated, ut.created_at, ut.updated_at
		FROM user_tenants ut
		JOIN tenants t ON t.id = ut.tenant_id
		WHERE ut.user_id = $1 AND ut.tenant_id = $2
		  AND ut.deleted_at IS NULL AND t.deleted_at IS NULL
	`, userID, tenantID).Scan(
		&m.UserID, &m.TenantID, &m.Role, &m.InvitedBy, &m.LastActivated, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// TouchLastActivated records when userID last switched into tenantID
func (r *MembershipRepository) TouchLastActivated(ctx context.Context, userID, tenantID uuid.UUID, at time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE user_tenants
		SET last_activated = $3, updated_at = $3
		WHERE user_id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, userID, tenantID, at)
	if err != nil {
		return fmt.Errorf("failed to update last activation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrMembershipNotFound
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertMembership(ctx context.Context, q execer, m *tenant.Membership) error {
	_, err := q.Exec(ctx, `
		INSERT INTO user_tenants (user_id, tenant_id, role, invited_by, last_activated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.UserID, m.TenantID, m.Role, m.InvitedBy, m.LastActivated, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}
