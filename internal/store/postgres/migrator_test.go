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
	"errors"
	"io/fs"
	"path"
	"strings"
	"testing"

	"github.com/opentrusty/tenancy/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	tests := []struct {
		dir   string
		files []string
	}{
		{controlMigrationsDir, []string{
			"00001_create_tenants.sql",
			"00002_create_user_tenants.sql",
		}},
		{tenantMigrationsDir, []string{
			"00001_create_catalog.sql",
			"00002_create_inventory.sql",
			"00003_create_projects.sql",
			"00004_create_tags.sql",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			entries, err := fs.ReadDir(migrationFS, tt.dir)
			require.NoError(t, err)

			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			assert.Equal(t, tt.files, names)

			for _, name := range names {
				body, err := fs.ReadFile(migrationFS, path.Join(tt.dir, name))
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(string(body), "-- +goose Up"), name)
				assert.Contains(t, string(body), "-- +goose Down", name)
			}
		})
	}
}

func TestMigrationFailure_Unwrap(t *testing.T) {
	cause := errors.New(`relation "customers" already exists`)
	err := error(&MigrationFailure{Version: 3, Source: "00003_create_projects.sql", Err: cause})

	assert.ErrorIs(t, err, tenant.ErrMigration)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `migration 3 (00003_create_projects.sql) failed: relation "customers" already exists`, err.Error())

	var mf *MigrationFailure
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, int64(3), mf.Version)
}
