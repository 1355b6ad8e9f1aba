package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-insignia/internal/clock/system"
	"github.com/JakeFAU/marketplace-insignia/internal/server"
	"github.com/JakeFAU/marketplace-insignia/internal/session"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <session_id>",
		Short: "Deletes every row stored for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			svc := session.NewService(store, nil, nil, nil, system.New(), session.Config{}, rt.logger.Named("session"))
			result, err := svc.Cleanup(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("cleanup %s: %w", args[0], err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
		},
	}
}
