package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/store"
	"github.com/sells-group/ballot-research/internal/validate"
)

var (
	validateParties []string
	validateScope   string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check stored ballots for structural problems",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		parties := validateParties
		if len(parties) == 0 {
			parties = cfg.Election.Parties
		}
		problems, err := validateStored(ctx, os.Stdout, st, parties, scopeOrDefault(validateScope), cfg.Election.Cycle)
		if err != nil {
			return err
		}
		if problems > 0 {
			return eris.Errorf("%d problem(s) found", problems)
		}
		return nil
	},
}

// validateStored reports every violation in the stored ballots to w and
// returns how many were found. Missing ballots count as problems.
func validateStored(ctx context.Context, w io.Writer, st store.Store, parties []string, scope, cycle string) (int, error) {
	problems := 0
	for _, party := range parties {
		key := store.BallotKey(scope, party, cycle)
		b, ok, err := store.GetJSON[model.Ballot](ctx, st, key)
		if err != nil {
			return problems, eris.Wrapf(err, "load %s", key)
		}
		if !ok {
			_, _ = fmt.Fprintf(w, "%s: not found\n", key)
			problems++
			continue
		}
		errs := validate.ValidateBallot(b)
		if len(errs) == 0 {
			_, _ = fmt.Fprintf(w, "%s: ok (%d races)\n", key, len(b.Races))
			continue
		}
		for _, e := range errs {
			_, _ = fmt.Fprintf(w, "%s: %v\n", key, e)
		}
		problems += len(errs)
	}
	return problems, nil
}

func init() {
	validateCmd.Flags().StringSliceVar(&validateParties, "party", nil, "party to check (repeatable, default from config)")
	validateCmd.Flags().StringVar(&validateScope, "scope", "", "ballot scope (default from config)")
	rootCmd.AddCommand(validateCmd)
}
