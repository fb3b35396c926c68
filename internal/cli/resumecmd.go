package cli

import (
	"context"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func (f *CommandFactory) NewResumeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume provisioning of a stuck tenant. Usage: tenantctl resume -i [tenant id]",
		Long:  "Resume provisioning of a stuck tenant. Usage: tenantctl resume --id [tenant id]",
		Args:  cobra.ExactArgs(0),

		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")

			if id == "" {
				cmd.Println("Tenant id is required")
				return ErrTenantIDRequired
			}

			tenantID, err := uuid.Parse(id)
			if err != nil {
				cmd.Printf("Invalid tenant id %s\n", id)
				return ErrInvalidTenantID
			}

			t, err := f.resumer.ResumeProvisioning(cmd.Context(), tenantID)
			if err != nil {
				cmd.Printf("Failed to resume tenant %s: %v\n", tenantID, err)
				return err
			}

			cmd.Printf("Tenant %s is %s\n", t.ID, t.ProvisioningState)

			return nil
		},
	}

	cmd.SetContext(ctx)

	return cmd
}
