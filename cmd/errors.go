package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ballot-research/internal/errlog"
)

var (
	errorsDate string
	errorsDays int
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Summarize the persisted error logs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		end := time.Now().UTC()
		if errorsDate != "" {
			d, err := time.Parse(time.DateOnly, errorsDate)
			if err != nil {
				return eris.Wrapf(err, "parse --date %q", errorsDate)
			}
			end = d
		}
		days := errorsDays
		if days < 1 {
			days = 1
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		logs, err := errlog.LoadRange(ctx, st, end, days)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			fmt.Fprintln(os.Stderr, "No errors logged.")
			return nil
		}
		for _, l := range logs {
			formatErrorLog(os.Stdout, l)
		}
		return nil
	},
}

// formatErrorLog writes the day's summary and a table of its entries to w.
func formatErrorLog(out io.Writer, l errlog.DailyLog) {
	_, _ = fmt.Fprintf(out, "%s  %s\n", l.Date, l.Summary())
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tCATEGORY\tCONTEXT\tRUN\tDETAILS")
	for _, e := range l.Entries {
		run := e.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.UTC().Format("15:04:05"),
			e.Category,
			e.Context,
			run,
			truncate(e.Details, 80),
		)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintln(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	errorsCmd.Flags().StringVar(&errorsDate, "date", "", "last day to show, YYYY-MM-DD (default today, UTC)")
	errorsCmd.Flags().IntVar(&errorsDays, "days", 1, "number of days ending at --date")
	rootCmd.AddCommand(errorsCmd)
}
