package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newResetCmd creates the 'reset' subcommand, which rewinds pieces of the
// progress snapshot so the next run retries them.
func newResetCmd() *cobra.Command {
	var (
		recordKey string
		windowID  string
		wipe      bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Rewinds failed work in the progress snapshot",
		Long: `Resets a failed record task (--task), a failed window and all of its
tasks (--window), or deletes the entire snapshot (--progress) so the next run
replans the campaign from scratch. Exactly one target must be given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResetCommand(cmd, recordKey, windowID, wipe)
		},
	}

	cmd.Flags().StringVar(&recordKey, "task", "", "record key of the failed task to reset")
	cmd.Flags().StringVar(&windowID, "window", "", "window ID (start..end) to reset along with its tasks")
	cmd.Flags().BoolVar(&wipe, "progress", false, "delete the snapshot entirely")

	return cmd
}

func runResetCommand(cmd *cobra.Command, recordKey, windowID string, wipe bool) error {
	targets := 0
	for _, set := range []bool{recordKey != "", windowID != "", wipe} {
		if set {
			targets++
		}
	}
	if targets != 1 {
		return errors.New("exactly one of --task, --window, or --progress is required")
	}

	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	store := appInstance.Snapshots()

	if wipe {
		if err := store.Delete(); err != nil {
			return fmt.Errorf("delete snapshot: %w", err)
		}
		logger.Info("Progress snapshot deleted; next run replans the campaign")
		return nil
	}

	snap, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load progress snapshot: %w", err)
	}
	if snap == nil {
		return errors.New("no progress snapshot found")
	}

	switch {
	case recordKey != "":
		if err := snap.ResetTask(recordKey); err != nil {
			return err
		}
		logger.Info("Task reset", zap.String("record_key", recordKey))
	case windowID != "":
		if err := snap.ResetWindow(windowID); err != nil {
			return err
		}
		logger.Info("Window reset", zap.String("window_id", windowID))
	}

	if err := store.Save(cmd.Context(), snap); err != nil {
		return fmt.Errorf("save progress snapshot: %w", err)
	}
	return nil
}
