package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-insignia/internal/server"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the database schema for the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			store, err := server.OpenStore(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := store.Close(); cerr != nil {
					rt.logger.Warn("store close failed", zap.Error(cerr))
				}
			}()

			backend := rt.cfg.Database.Backend
			m, ok := store.(server.Migrator)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "backend %s has no schema to apply\n", backend)
				return nil
			}
			if err := m.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate %s: %w", backend, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied to %s\n", backend)
			return nil
		},
	}
}
