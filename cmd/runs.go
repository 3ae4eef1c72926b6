package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/harvester-cli/internal/observability"
	"github.com/xkilldash9x/harvester-cli/internal/store"
)

// newRunsCmd creates the `runs` command, which lists recently persisted runs.
func newRunsCmd(a *app) *cobra.Command {
	var portalName string
	var limit int
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Lists recent harvest runs recorded in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if a.cfg.Database.URL == "" {
				return fmt.Errorf("database URL is not configured (HARVESTER_DATABASE_URL)")
			}
			pool, err := store.Connect(ctx, a.cfg.Database.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			s, err := store.New(ctx, pool, observability.GetLogger())
			if err != nil {
				return err
			}
			runs, err := s.RecentRuns(ctx, portalName, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tPORTAL\tSTARTED\tELAPSED\tSUCCESS\tORDERS\tFAILED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%d\n",
					r.RunID, r.Portal, r.StartedAt.Local().Format(time.DateTime),
					r.FinishedAt.Sub(r.StartedAt).Round(time.Second), r.Success, r.OrderCount, r.FailureCount)
			}
			return tw.Flush()
		},
	}
	runsCmd.Flags().StringVarP(&portalName, "portal", "p", "", "Only show runs of this portal")
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return runsCmd
}
