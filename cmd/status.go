package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest pipeline run and store summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "query")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		run, err := st.LatestRun(ctx)
		if err != nil {
			return eris.Wrap(err, "load latest run")
		}

		pr := message.NewPrinter(language.English)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

		if run == nil {
			fmt.Fprintln(w, "No runs yet.")
		} else {
			fmt.Fprintf(w, "Run:\t%s\n", run.ID)
			fmt.Fprintf(w, "Status:\t%s\n", run.Status)
			fmt.Fprintf(w, "Started:\t%s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
			if run.CompletedAt != nil {
				fmt.Fprintf(w, "Duration:\t%s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
			}
			pr.Fprintf(w, "Processed:\t%d\n", run.RecordsProcessed)
			pr.Fprintf(w, "Added:\t%d\n", run.RecordsAdded)
			pr.Fprintf(w, "Updated:\t%d\n", run.RecordsUpdated)
			pr.Fprintf(w, "Changes:\t%d\n", run.ChangesDetected)
			if run.ErrorLog != "" {
				fmt.Fprintf(w, "Error:\t%s\n", run.ErrorLog)
			}
		}

		showStates, _ := cmd.Flags().GetBool("states")
		if showStates {
			counts, err := st.CountByState(ctx)
			if err != nil {
				return eris.Wrap(err, "count by state")
			}

			states := make([]string, 0, len(counts))
			var total int64
			for s, n := range counts {
				states = append(states, s)
				total += n
			}
			sort.Strings(states)

			fmt.Fprintln(w)
			fmt.Fprintln(w, "STATE\tPHARMACIES")
			for _, s := range states {
				pr.Fprintf(w, "%s\t%d\n", s, counts[s])
			}
			pr.Fprintf(w, "TOTAL\t%d\n", total)
		}

		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().Bool("states", false, "include per-state pharmacy counts")
	rootCmd.AddCommand(statusCmd)
}
