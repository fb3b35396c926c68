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
	"testing"

	"github.com/google/uuid"
	"github.com/opentrusty/tenancy/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListForUserQueries(t *testing.T) {
	userID := uuid.New()
	selfHosted := true

	page, count := listForUserQueries(userID, tenant.ListQuery{
		Limit:        10,
		Offset:       20,
		SortBy:       tenant.SortByLastActivated,
		Descending:   true,
		NameContains: "50%_off",
		SelfHosted:   &selfHosted,
	}.Normalize())

	sql, args, err := page.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "FROM tenants t JOIN user_tenants ut ON ut.tenant_id = t.id")
	assert.Contains(t, sql, "t.deleted_at IS NULL")
	assert.Contains(t, sql, "ut.deleted_at IS NULL")
	assert.Contains(t, sql, "ut.user_id = $")
	assert.Contains(t, sql, "t.name ILIKE $")
	assert.Contains(t, sql, "t.is_self_hosted = $")
	assert.Contains(t, sql, "ORDER BY ut.last_activated DESC NULLS LAST, t.id ASC")
	assert.Contains(t, sql, "LIMIT 10 OFFSET 20")
	assert.NotContains(t, sql, "50%")
	assert.Contains(t, args, `%50\%\_off%`)
	assert.Contains(t, args, userID.String())
	assert.Contains(t, args, true)

	countSQL, countArgs, err := count.ToSql()
	require.NoError(t, err)
	assert.Contains(t, countSQL, "SELECT COUNT(*) FROM tenants t")
	assert.NotContains(t, countSQL, "ORDER BY")
	assert.NotContains(t, countSQL, "LIMIT")
	assert.Len(t, countArgs, len(args))
}

// TestPurpose: Validates that list ordering only ever uses allow-listed columns.
// Scope: Unit Test
// Security: SQL injection prevention in ORDER BY (CWE-89)
// Expected: An unknown sort field falls back to created_at.
// Test Case ID: LST-01
func TestListForUserQueries_UnknownSortFallsBack(t *testing.T) {
	page, _ := listForUserQueries(uuid.New(), tenant.ListQuery{
		Limit:  5,
		SortBy: "name; DROP TABLE tenants",
	})

	sql, _, err := page.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY t.created_at ASC NULLS LAST")
	assert.NotContains(t, sql, "DROP")
}
