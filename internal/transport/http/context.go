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

package http

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opentrusty/tenancy/internal/session"
)

type contextKey string

const (
	claimsKey     contextKey = "claims"
	userIDKey     contextKey = "user_id"
	tenantPoolKey contextKey = "tenant_pool"
	tenantIDKey   contextKey = "tenant_id"
)

// GetClaims retrieves the verified session claims from context.
func GetClaims(ctx context.Context) session.Claims {
	if val, ok := ctx.Value(claimsKey).(session.Claims); ok {
		return val
	}
	return nil
}

// GetUserID retrieves the authenticated user ID from context.
func GetUserID(ctx context.Context) uuid.UUID {
	if val, ok := ctx.Value(userIDKey).(uuid.UUID); ok {
		return val
	}
	return uuid.Nil
}

// GetTenantID retrieves the active tenant ID resolved by TenantPoolMiddleware.
func GetTenantID(ctx context.Context) uuid.UUID {
	if val, ok := ctx.Value(tenantIDKey).(uuid.UUID); ok {
		return val
	}
	return uuid.Nil
}

// GetTenantPool retrieves the active tenant's pool resolved by TenantPoolMiddleware.
func GetTenantPool(ctx context.Context) *pgxpool.Pool {
	if val, ok := ctx.Value(tenantPoolKey).(*pgxpool.Pool); ok {
		return val
	}
	return nil
}
