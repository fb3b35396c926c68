package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func (f *CommandFactory) NewRootCmd(ctx context.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tenantctl",
		Short: "Tenancy operator CLI",
		Long: "tenantctl inspects and repairs tenant provisioning: listing tenants stuck " +
			"before ready, resuming their provisioning and applying the tenant schema " +
			"to every ready tenant database.",
		SilenceUsage: true,
	}

	rootCmd.SetContext(ctx)

	return rootCmd
}

// SetupCommands creates the root command with every subcommand and its flags
func SetupCommands(ctx context.Context, f *CommandFactory) *cobra.Command {
	var (
		id, state   string
		concurrency int
	)

	rootCmd := f.NewRootCmd(ctx)

	stuckCmd := f.NewStuckCmd(ctx)
	stuckCmd.Flags().StringVarP(&state, "state", "s", "", "Only list tenants in this state (pending_ddl or pending_migration)")
	rootCmd.AddCommand(stuckCmd)

	resumeCmd := f.NewResumeCmd(ctx)
	resumeCmd.Flags().StringVarP(&id, "id", "i", "", "Tenant id")
	rootCmd.AddCommand(resumeCmd)

	migrateCmd := f.NewMigrateTenantsCmd(ctx)
	migrateCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "Tenant databases migrated at once")
	rootCmd.AddCommand(migrateCmd)

	return rootCmd
}
