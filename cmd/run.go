package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd creates the 'run' subcommand, which executes one full campaign
// pass: plan or resume the windows, work each one through the CAPTCHA gate,
// and reconcile every discovered record to the archive.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the harvest campaign until every window is terminal",
		Long: `Plans the campaign's query windows (or resumes them from the progress
snapshot), then repeatedly passes over the non-terminal windows: solving the
portal CAPTCHA, submitting the date-range query, and downloading, persisting,
and uploading every judgment the portal returns. The command exits once every
window is done or has exhausted its attempt budget.`,
		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	result, err := appInstance.Run(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run harvest: %w", err)
	}

	logger.Info("Harvest run finished",
		zap.String("run_id", result.RunID),
		zap.String("status", result.Status),
		zap.Int("windows_done", result.WindowsDone),
		zap.Int("windows_failed", result.WindowsFailed),
		zap.Int("tasks_uploaded", result.TasksUploaded),
		zap.Int("tasks_failed", result.TasksFailed),
	)
	return nil
}
