// Package cmd defines and implements the CLI commands for the insignia executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-insignia/internal/config"
	"github.com/JakeFAU/marketplace-insignia/internal/server"
)

// envKeyType is the key for storing the runtime in the command context.
type envKeyType string

const envKey envKeyType = "env"

// runtime is what every subcommand receives: loaded config and the process logger.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
}

// loadRuntime is the runtime factory. Tests replace it to inject config.
var loadRuntime = func(cfgFile string) (*runtime, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := server.NewLogger(&cfg)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: &cfg, logger: logger}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "insignia",
		Short: "Marketplace review insights across Shopee, TikTok Shop and Tokopedia.",
		Long: `insignia runs the Marketplace Insignia service: it accepts product searches,
runs an asynchronous analysis job per search session and serves the dashboard
and JSON API used to poll progress and read results.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(envKey).(*runtime); ok && rt != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); INSIGNIA_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newCleanupCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(envKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
