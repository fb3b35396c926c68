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
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Error taxonomy. Every failure of the tenancy core matches exactly one of
// these through errors.Is.
var (
	// ErrValidation: malformed identifier or credential, nothing was written
	ErrValidation = errors.New("validation failed")
	// ErrConnection: external database unreachable or unauthorized, nothing was written
	ErrConnection = errors.New("could not connect to database")
	// ErrNotEmpty: target schema already has tables, nothing was written
	ErrNotEmpty = errors.New("database not empty")
	// ErrPersistence: the metadata transaction failed and was rolled back; safe to retry
	ErrPersistence = errors.New("tenant persistence failed")
	// ErrProvisioning: DDL failed after metadata was committed; needs reconciliation
	ErrProvisioning = errors.New("tenant provisioning failed")
	// ErrRegistry: pool lookup or insert failed
	ErrRegistry = errors.New("tenant pool registry error")
	// ErrMigration: tenant schema migration failed mid-sequence
	ErrMigration = errors.New("tenant migration failed")
	// ErrAccessDenied: caller is not a member of the tenant
	ErrAccessDenied = errors.New("access denied")
)

var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrMembershipNotFound = errors.New("membership not found")
	// ErrTenantNotReady: the tenant exists but provisioning has not finished
	ErrTenantNotReady = errors.New("tenant is not ready")

	// ErrPoolNotFound means no pool is registered for the tenant in this
	// process. It does not imply the tenant does not exist.
	ErrPoolNotFound        = fmt.Errorf("%w: tenant pool not registered", ErrRegistry)
	ErrRegistryUnavailable = fmt.Errorf("%w: registry unavailable", ErrRegistry)
)

// taxonomy is checked in order; earlier kinds win when a cause matches several
var taxonomy = []error{
	ErrValidation,
	ErrAccessDenied,
	ErrNotEmpty,
	ErrProvisioning,
	ErrMigration,
	ErrRegistry,
	ErrConnection,
	ErrPersistence,
}

func classify(err, fallback error) error {
	for _, kind := range taxonomy {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return fallback
}

var kindNames = map[error]string{
	ErrValidation:   "validation",
	ErrAccessDenied: "access_denied",
	ErrNotEmpty:     "not_empty",
	ErrProvisioning: "provisioning",
	ErrMigration:    "migration",
	ErrRegistry:     "registry",
	ErrConnection:   "connection",
	ErrPersistence:  "persistence",
}

// KindName returns a short label for the taxonomy kind of err, "" for nil
// and "internal" for errors outside the taxonomy. It is meant for metric
// and log labels.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	if kind := classify(err, nil); kind != nil {
		return kindNames[kind]
	}
	return "internal"
}

// FieldError is a validation failure of a single request field
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// FieldErrors flattens validation failures into field -> message.
// It returns nil when err carries no field errors.
func FieldErrors(err error) map[string]string {
	var pe *ProvisioningError
	if errors.As(err, &pe) {
		err = pe.Err
	}

	var out map[string]string
	for _, e := range multierr.Errors(err) {
		var fe *FieldError
		if errors.As(e, &fe) {
			if out == nil {
				out = make(map[string]string)
			}
			out[fe.Field] = fe.Err.Error()
		}
	}
	return out
}

// ProvisioningError reports a failed provisioning or activation call with
// enough context to reconcile it: the tenant id (nil when no id had been
// assigned yet), the phase that failed and the taxonomy kind.
type ProvisioningError struct {
	TenantID uuid.UUID
	Phase    Phase
	Kind     error
	Err      error
}

func (e *ProvisioningError) Error() string {
	if e.TenantID == uuid.Nil {
		return fmt.Sprintf("%v in phase %s: %v", e.Kind, e.Phase, e.Err)
	}
	return fmt.Sprintf("%v for tenant %s in phase %s: %v", e.Kind, e.TenantID, e.Phase, e.Err)
}

func (e *ProvisioningError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Committed reports whether tenant metadata was written before the failure.
// Only the kinds raised after the metadata transaction imply that.
func (e *ProvisioningError) Committed() bool {
	switch e.Kind {
	case ErrProvisioning, ErrRegistry, ErrMigration:
		return true
	}
	return false
}
