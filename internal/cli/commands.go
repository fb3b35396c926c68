// Package cli implements the tenantctl operator commands.
package cli

import (
	"context"

	"github.com/google/uuid"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// TenantLister reads tenants by provisioning state
type TenantLister interface {
	ListByState(ctx context.Context, state tenant.ProvisioningState) ([]*tenant.Tenant, error)
	ListReady(ctx context.Context) ([]*tenant.Tenant, error)
}

// Resumer drives a stuck tenant to ready
type Resumer interface {
	ResumeProvisioning(ctx context.Context, tenantID uuid.UUID) (*tenant.Tenant, error)
}

// TenantMigrator applies the tenant schema to one tenant database
type TenantMigrator interface {
	MigrateTenant(ctx context.Context, t *tenant.Tenant) error
}

type CommandFactory struct {
	tenants  TenantLister
	resumer  Resumer
	migrator TenantMigrator
}

func NewCommandFactory(tenants TenantLister, resumer Resumer, migrator TenantMigrator) *CommandFactory {
	return &CommandFactory{
		tenants:  tenants,
		resumer:  resumer,
		migrator: migrator,
	}
}
