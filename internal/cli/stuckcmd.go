package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/opentrusty/tenancy/internal/tenant"
	"github.com/spf13/cobra"
)

func (f *CommandFactory) NewStuckCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List tenants whose provisioning has not reached ready. Usage: tenantctl stuck [-s state]",
		Args:  cobra.ExactArgs(0),

		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, _ := cmd.Flags().GetString("state")

			states := []tenant.ProvisioningState{tenant.StatePendingDDL, tenant.StatePendingMigration}
			if filter != "" {
				s := tenant.ProvisioningState(filter)
				if s != tenant.StatePendingDDL && s != tenant.StatePendingMigration {
					cmd.Printf("Unknown state %q\n", filter)
					return ErrInvalidState
				}
				states = []tenant.ProvisioningState{s}
			}

			var stuck []*tenant.Tenant
			for _, s := range states {
				ts, err := f.tenants.ListByState(cmd.Context(), s)
				if err != nil {
					return err
				}
				stuck = append(stuck, ts...)
			}

			if len(stuck) == 0 {
				cmd.Println("No stuck tenants")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATE\tUPDATED\tLAST ERROR")
			for _, t := range stuck {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.ProvisioningState,
					t.UpdatedAt.UTC().Format(time.RFC3339), t.LastError)
			}
			return w.Flush()
		},
	}

	cmd.SetContext(ctx)

	return cmd
}
