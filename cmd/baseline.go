package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ballot-research/internal/baseline"
	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/store"
)

var baselineParty string

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage the verified baselines",
	Long:  "A baseline is a human-approved snapshot of each race's candidates, incumbency, and background. It only changes through an explicit seed.",
}

// -- baseline seed --

var baselineSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Snapshot the stored ballot as the party's baseline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		b, err := seedBaseline(ctx, st, baselineParty, scopeOrDefault(""), cfg.Election.Cycle, time.Now())
		if err != nil {
			return err
		}

		zap.L().Info("baseline seeded",
			zap.String("party", b.Party),
			zap.Int("races", len(b.Races)),
		)
		return nil
	},
}

// -- baseline show --

var baselineShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the party's baseline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		b, err := baseline.Load(ctx, st, baselineParty)
		if err != nil {
			return err
		}
		if b == nil {
			return eris.Errorf("no baseline seeded for %s", baselineParty)
		}
		return writeJSON(os.Stdout, b)
	},
}

// -- baseline fallbacks --

var baselineFallbacksCmd = &cobra.Command{
	Use:   "fallbacks",
	Short: "Print the rolling log of reverted fields",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := baseline.LoadFallbackLog(ctx, st)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, entries)
	},
}

// seedBaseline snapshots the stored ballot for party and saves it.
func seedBaseline(ctx context.Context, st store.Store, party, scope, cycle string, now time.Time) (model.VerifiedBaseline, error) {
	key := store.BallotKey(scope, party, cycle)
	ballot, ok, err := store.GetJSON[model.Ballot](ctx, st, key)
	if err != nil {
		return model.VerifiedBaseline{}, eris.Wrapf(err, "load %s", key)
	}
	if !ok {
		return model.VerifiedBaseline{}, eris.Errorf("no ballot stored at %s", key)
	}
	if ballot.Party == "" {
		ballot.Party = party
	}

	b := baseline.Seed(ballot, now)
	if err := baseline.Save(ctx, st, b); err != nil {
		return model.VerifiedBaseline{}, err
	}
	return b, nil
}

func init() {
	for _, c := range []*cobra.Command{baselineSeedCmd, baselineShowCmd} {
		c.Flags().StringVar(&baselineParty, "party", "", "party (required)")
		_ = c.MarkFlagRequired("party")
		baselineCmd.AddCommand(c)
	}
	baselineCmd.AddCommand(baselineFallbacksCmd)
	rootCmd.AddCommand(baselineCmd)
}
