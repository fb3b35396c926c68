package cli

import (
	"context"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

func (f *CommandFactory) NewMigrateTenantsCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate-tenants",
		Short: "Apply the tenant schema to every ready tenant database",
		Long: "Apply the tenant schema to every ready tenant database. A tenant that fails " +
			"does not stop the others; the command fails if any tenant failed.",
		Args: cobra.ExactArgs(0),

		RunE: func(cmd *cobra.Command, _ []string) error {
			concurrency, _ := cmd.Flags().GetInt("concurrency")

			tenants, err := f.tenants.ListReady(cmd.Context())
			if err != nil {
				return err
			}

			var (
				mu   sync.Mutex
				errs error
			)
			g, gctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(concurrency, 1))
			for _, t := range tenants {
				g.Go(func() error {
					err := f.migrator.MigrateTenant(gctx, t)

					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						cmd.Printf("FAIL %s (%s): %v\n", t.ID, t.Name, err)
						errs = multierr.Append(errs, err)
						return nil
					}
					cmd.Printf("ok   %s (%s)\n", t.ID, t.Name)
					return nil
				})
			}
			_ = g.Wait()

			failed := len(multierr.Errors(errs))
			cmd.Printf("Migrated %d of %d tenants\n", len(tenants)-failed, len(tenants))
			if errs != nil {
				return multierr.Append(ErrMigrateTenants, errs)
			}
			return nil
		},
	}

	cmd.SetContext(ctx)

	return cmd
}
