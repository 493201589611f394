// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/courtdata/judgment-harvester/internal/app"
	"github.com/courtdata/judgment-harvester/internal/config"
	"github.com/courtdata/judgment-harvester/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// buildApp is the application factory. It's a variable so tests can replace
// it with a factory returning stubbed services.
var buildApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command. Configuration is loaded
// and the service container built before any subcommand runs, and torn down
// after it returns.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable archiver for court judgment portals.",
		Long: `harvester walks a date range against a CAPTCHA-gated court judgment
portal, downloading every published judgment document and archiving it with
its metadata. Progress is checkpointed after every step, so an interrupted
run picks up exactly where it left off.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path := cfgFile
			if path == "" {
				if _, err := os.Stat("harvester.yaml"); err == nil {
					path = "harvester.yaml"
				}
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			appInstance, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}

			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./harvester.yaml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newCaptchaCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}
