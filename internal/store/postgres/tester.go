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
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opentrusty/tenancy/internal/dbident"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// countUserRelations reads pg_class directly: information_schema only lists
// relations the connecting role holds a privilege on.
const countUserRelations = `
	SELECT count(*)
	FROM pg_catalog.pg_class c
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	WHERE c.relkind IN ('r', 'p', 'v', 'm', 'f')
	  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
	  AND n.nspname NOT LIKE 'pg_toast%'
	  AND n.nspname NOT LIKE 'pg_temp_%'
`

// ConnectionTester checks candidate tenant databases
type ConnectionTester struct {
	acquireTimeout time.Duration
}

// NewConnectionTester creates a tester whose checks give up after acquireTimeout
func NewConnectionTester(acquireTimeout time.Duration) *ConnectionTester {
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	return &ConnectionTester{acquireTimeout: acquireTimeout}
}

// TestConnect opens a pool against cfg using at least the required TLS mode
// and pings it. On success the live pool is returned and owned by the caller.
func (t *ConnectionTester) TestConnect(ctx context.Context, cfg tenant.DatabaseConfig, required dbident.SSLMode) (*pgxpool.Pool, error) {
	cfg.SSLMode = cfg.SSLMode.AtLeast(required)

	pool, err := openTenantPool(ctx, cfg, t.acquireTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tenant.ErrConnection, err)
	}
	return pool, nil
}

// IsEmptyDatabase fails with tenant.ErrNotEmpty when the database already
// has tables, views or foreign tables outside the system schemas, whoever
// owns them.
func (t *ConnectionTester) IsEmptyDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, t.acquireTimeout)
	defer cancel()

	var n int64
	if err := pool.QueryRow(ctx, countUserRelations).Scan(&n); err != nil {
		return fmt.Errorf("%w: failed to inspect table catalog: %w", tenant.ErrConnection, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: found %d existing relations", tenant.ErrNotEmpty, n)
	}
	return nil
}
