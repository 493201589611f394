package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/courtdata/judgment-harvester/internal/harvest"
)

// newCaptchaCmd creates the 'captcha' subcommand, a one-shot probe that
// fetches a challenge from the portal and runs it through the configured
// strategy chain. Useful for tuning OCR settings before a long campaign.
func newCaptchaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "captcha",
		Short: "Fetches one CAPTCHA and reports how the solver chain fares",
		RunE:  runCaptchaCommand,
	}
}

func runCaptchaCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	info := appInstance.Config().CampaignInfo()
	windows, err := harvest.PlanWindows(info.GlobalStart, info.GlobalEnd, info.MaxSpanDays)
	if err != nil {
		return fmt.Errorf("plan windows: %w", err)
	}
	window := windows[0]

	solution, err := appInstance.Solver().Solve(cmd.Context(), func(ctx context.Context) ([]byte, error) {
		return appInstance.Portal().FetchCaptchaImage(ctx, window)
	})
	if err != nil {
		return fmt.Errorf("solve captcha: %w", err)
	}

	logger.Info("CAPTCHA solved",
		zap.String("text", solution.Text),
		zap.String("strategy", solution.Strategy),
		zap.Float64("confidence", solution.Confidence),
		zap.Int("attempts", solution.Attempts),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "%s (strategy=%s confidence=%.2f attempts=%d)\n",
		solution.Text, solution.Strategy, solution.Confidence, solution.Attempts)
	return nil
}
