package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"SwarmTrader/internal/di"
	"SwarmTrader/pkg/config"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "swarm",
		Short:         "Swarm trading scheduler",
		Long:          "Scans a universe of perpetual futures with a swarm of strategies, sizes the best opportunities and manages the resulting paper positions.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().String("config", "configs/config.yaml", "Configuration file path")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPreflightCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}

// newRunCmd starts the service and blocks until interrupted.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler, the feed and the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}
			app.Cleanup = cleanup
			return app.Run(context.Background())
		},
	}
}

// newPreflightCmd runs the pre-flight checks and exits non-zero when any fails.
func newPreflightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check universe, capital, feed and journal, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}
			app.Cleanup = cleanup

			checks, err := app.Preflight(context.Background())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(checks); encErr != nil {
				return encErr
			}
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "swarm %s\n", version)
		},
	}
}
