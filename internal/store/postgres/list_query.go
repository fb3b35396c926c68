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
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/opentrusty/tenancy/internal/tenant"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sortColumns is the allow-list of ORDER BY targets
var sortColumns = map[tenant.SortField]string{
	tenant.SortByName:          "t.name",
	tenant.SortByCreatedAt:     "t.created_at",
	tenant.SortByLastActivated: "ut.last_activated",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// listForUserQueries builds the page query and the matching count query for
// the tenants userID is an active member of. q must be normalized.
func listForUserQueries(userID uuid.UUID, q tenant.ListQuery) (page, count sq.SelectBuilder) {
	base := psql.Select().
		From("tenants t").
		Join("user_tenants ut ON ut.tenant_id = t.id").
		Where(sq.Eq{
			"ut.user_id":    userID.String(),
			"ut.deleted_at": nil,
			"t.deleted_at":  nil,
		})

	if q.NameContains != "" {
		base = base.Where(sq.ILike{"t.name": "%" + likeEscaper.Replace(q.NameContains) + "%"})
	}
	if q.SelfHosted != nil {
		base = base.Where(sq.Eq{"t.is_self_hosted": *q.SelfHosted})
	}

	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = sortColumns[tenant.SortByCreatedAt]
	}
	direction := " ASC NULLS LAST"
	if q.Descending {
		direction = " DESC NULLS LAST"
	}

	page = base.
		Columns(prefixed("t.", tenantColumns)...).
		OrderBy(column+direction, "t.id ASC").
		Limit(uint64(q.Limit)).
		Offset(uint64(q.Offset))

	count = base.Columns("COUNT(*)")
	return page, count
}

func prefixed(prefix string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = prefix + c
	}
	return out
}
