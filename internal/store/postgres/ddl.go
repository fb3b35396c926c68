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
	"fmt"

	"github.com/opentrusty/tenancy/internal/dbident"
)

// PostgreSQL cannot bind parameters in the statements below. Every
// placeholder is a dbident value, which only admits characters that are
// inert inside an identifier or a single-quoted literal.

func createUserSQL(user dbident.DBUser, password dbident.DBPassword) string {
	return fmt.Sprintf("CREATE USER %s WITH PASSWORD '%s'", user.String(), password.String())
}

func grantRoleSQL(role, grantee dbident.DBUser) string {
	return fmt.Sprintf("GRANT %s TO %s", role.String(), grantee.String())
}

func createDatabaseSQL(name dbident.DBName, owner dbident.DBUser) string {
	return fmt.Sprintf("CREATE DATABASE %s WITH OWNER = '%s'", name.String(), owner.String())
}
