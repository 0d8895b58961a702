package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ballot-research/internal/model"
	"github.com/sells-group/ballot-research/internal/store"
	"github.com/sells-group/ballot-research/internal/validate"
)

var (
	importFile  string
	importParty string
	importScope string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a ballot from a YAML file",
	Long:  "Reads a ballot in YAML, validates it, and stores it under (scope, party, cycle). Nothing is written when validation fails.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		b, err := loadBallotFile(importFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		key, err := importBallot(ctx, st, b, importParty, scopeOrDefault(importScope), cfg.Election.Cycle)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.String("key", key),
			zap.Int("races", len(b.Races)),
			zap.String("file", importFile),
		)
		return nil
	},
}

// loadBallotFile decodes a YAML ballot. Unknown fields are rejected.
func loadBallotFile(path string) (model.Ballot, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Ballot{}, eris.Wrap(err, "open ballot file")
	}
	defer f.Close() //nolint:errcheck

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var b model.Ballot
	if err := dec.Decode(&b); err != nil {
		return model.Ballot{}, eris.Wrapf(err, "decode %s", path)
	}
	return b, nil
}

// importBallot validates b and stores it, returning the ballot key.
func importBallot(ctx context.Context, st store.Store, b model.Ballot, party, scope, cycle string) (string, error) {
	if party != "" {
		if b.Party != "" && b.Party != party {
			return "", eris.Errorf("ballot file is for party %q, not %q", b.Party, party)
		}
		b.Party = party
	}
	b.Scope = scope
	b.Cycle = cycle

	if errs := validate.ValidateBallot(b); len(errs) > 0 {
		return "", eris.Errorf("ballot failed validation:\n  %s", joinErrors(errs, "\n  "))
	}

	key := store.BallotKey(scope, b.Party, cycle)
	if err := store.PutJSON(ctx, st, key, b, 0); err != nil {
		return "", eris.Wrap(err, "store ballot")
	}
	return key, nil
}

func scopeOrDefault(scope string) string {
	if scope != "" {
		return scope
	}
	if cfg.Election.Scope != "" {
		return cfg.Election.Scope
	}
	return "statewide"
}

func joinErrors(errs []error, sep string) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, sep)
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to ballot YAML (required)")
	importCmd.Flags().StringVar(&importParty, "party", "", "party the ballot belongs to (default from file)")
	importCmd.Flags().StringVar(&importScope, "scope", "", fmt.Sprintf("ballot scope, e.g. statewide or %s (default from config)", store.CountyScope("jackson")))
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
