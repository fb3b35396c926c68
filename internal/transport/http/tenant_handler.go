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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// maxRequestBody bounds JSON request bodies
const maxRequestBody = 64 << 10

// ActivateResponse carries the reissued session token
type ActivateResponse struct {
	Token    string    `json:"token"`
	TenantID uuid.UUID `json:"tenant_id"`
}

// TenantStatusResponse describes the active tenant's pool
type TenantStatusResponse struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	MaxConns      int32     `json:"max_conns"`
	TotalConns    int32     `json:"total_conns"`
	AcquiredConns int32     `json:"acquired_conns"`
}

// CreateSelfHostedTenant provisions a tenant on a database supplied by the caller
func (h *Handler) CreateSelfHostedTenant(w http.ResponseWriter, r *http.Request) {
	var req tenant.SelfHostedRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.provisioner.CreateSelfHosted(r.Context(), GetClaims(r.Context()), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, t)
}

// CreateManagedTenant provisions a tenant on a database created for it
func (h *Handler) CreateManagedTenant(w http.ResponseWriter, r *http.Request) {
	var req tenant.ManagedRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.provisioner.CreateManaged(r.Context(), GetClaims(r.Context()), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, t)
}

// ActivateTenant makes the tenant in the path the session's active tenant
// and returns the reissued token
func (h *Handler) ActivateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": map[string]string{"tenant_id": "must be a UUID"},
		})
		return
	}

	token, err := h.activator.Activate(r.Context(), GetClaims(r.Context()), tenant.ActivateRequest{TenantID: tenantID})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ActivateResponse{Token: token, TenantID: tenantID})
}

// ListTenants returns a page of the caller's tenants.
// Query parameters: limit, offset, sort (name, created_at, last_activated),
// order (asc, desc), name (substring), self_hosted (true, false).
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	q, fields := parseListQuery(r)
	if len(fields) > 0 {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": fields,
		})
		return
	}

	page, err := h.provisioner.ListTenantsForUser(r.Context(), GetUserID(r.Context()), q)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// ActiveTenantStatus reports on the pool of the active tenant
func (h *Handler) ActiveTenantStatus(w http.ResponseWriter, r *http.Request) {
	stat := GetTenantPool(r.Context()).Stat()
	respondJSON(w, http.StatusOK, TenantStatusResponse{
		TenantID:      GetTenantID(r.Context()),
		MaxConns:      stat.MaxConns(),
		TotalConns:    stat.TotalConns(),
		AcquiredConns: stat.AcquiredConns(),
	})
}

func parseListQuery(r *http.Request) (tenant.ListQuery, map[string]string) {
	values := r.URL.Query()
	fields := map[string]string{}
	var q tenant.ListQuery

	parseInt := func(key string, dst *int) {
		if s := values.Get(key); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				fields[key] = "must be a non-negative integer"
				return
			}
			*dst = n
		}
	}
	parseInt("limit", &q.Limit)
	parseInt("offset", &q.Offset)

	// unknown sort fields fall back to the default ordering
	q.SortBy = tenant.SortField(values.Get("sort"))

	switch values.Get("order") {
	case "", "asc":
	case "desc":
		q.Descending = true
	default:
		fields["order"] = "must be asc or desc"
	}

	q.NameContains = values.Get("name")

	if s := values.Get("self_hosted"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			fields["self_hosted"] = "must be true or false"
		} else {
			q.SelfHosted = &b
		}
	}

	return q, fields
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
