package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ballot-research/internal/update"
)

var (
	updateParties     []string
	updateDryRun      bool
	updateSkipRefresh bool

	refreshCounties []string
	refreshDryRun   bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run the daily candidate update",
	Long:  "Researches every due race of the configured parties, commits validated changes, then refreshes the least recently refreshed counties.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initUpdate(ctx, "update", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.RunDailyUpdate(ctx, update.DailyRequest{
			Parties:     updateParties,
			DryRun:      updateDryRun,
			SkipRefresh: updateSkipRefresh,
		})
		if err != nil {
			return err
		}

		// Flush usage before monitoring reads the daily aggregate.
		env.Usage.Close()
		if !res.DryRun && !res.Skipped {
			checkAfterRun(ctx, cfg, env.Store)
		}

		zap.L().Info("update finished",
			zap.String("run_id", res.RunID),
			zap.Int("updated", len(res.Updated)),
			zap.String("errors", res.AIErrorSummary.String()),
		)
		return writeJSON(os.Stdout, res)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run the secondary county refresh on its own",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initUpdate(ctx, "refresh", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.RunSecondaryRefresh(ctx, update.RefreshRequest{
			Counties: refreshCounties,
			DryRun:   refreshDryRun,
		})
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, res)
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	updateCmd.Flags().StringSliceVar(&updateParties, "party", nil, "party to update (repeatable, default from config)")
	updateCmd.Flags().BoolVar(&updateDryRun, "dry-run", false, "research and validate without persisting anything")
	updateCmd.Flags().BoolVar(&updateSkipRefresh, "skip-refresh", false, "skip the secondary county refresh")

	refreshCmd.Flags().StringSliceVar(&refreshCounties, "county", nil, "county to refresh (repeatable, default from config)")
	refreshCmd.Flags().BoolVar(&refreshDryRun, "dry-run", false, "research and validate without persisting anything")

	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(refreshCmd)
}
