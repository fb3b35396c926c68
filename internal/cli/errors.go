package cli

import "errors"

var (
	ErrTenantIDRequired = errors.New("tenant id is required")
	ErrInvalidTenantID  = errors.New("tenant id is not a valid uuid")
	ErrInvalidState     = errors.New("state must be pending_ddl or pending_migration")
	ErrMigrateTenants   = errors.New("failed to migrate one or more tenants")
)
