package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pharmacy-intel/internal/model"
	"github.com/sells-group/pharmacy-intel/internal/store"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "List changes detected across pipeline runs",
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

		npi, _ := cmd.Flags().GetString("npi")
		changeType, _ := cmd.Flags().GetString("type")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ChangeFilter{
			NPI:   npi,
			Type:  model.ChangeType(changeType),
			Limit: limit,
		}
		if since > 0 {
			cutoff := time.Now().Add(-since)
			filter.Since = &cutoff
		}

		changes, err := st.ListChanges(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list changes")
		}

		if len(changes) == 0 {
			fmt.Fprintln(os.Stderr, "No changes found.")
			return nil
		}

		formatChanges(os.Stdout, changes)
		return nil
	},
}

func init() {
	changesCmd.Flags().String("npi", "", "filter by NPI")
	changesCmd.Flags().String("type", "", "filter by change type (new, updated, deactivated)")
	changesCmd.Flags().Duration("since", 0, "time window (e.g. 24h, 168h); 0 means all")
	changesCmd.Flags().Int("limit", 50, "max number of changes to display")
	rootCmd.AddCommand(changesCmd)
}

func formatChanges(out io.Writer, changes []model.Change) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DETECTED\tNPI\tORGANIZATION\tTYPE\tFIELD\tOLD\tNEW")

	for _, c := range changes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.DetectedAt.Format("2006-01-02 15:04"),
			c.NPI,
			truncate(c.OrganizationName, 30),
			c.Type,
			c.FieldChanged,
			truncate(c.OldValue, 24),
			truncate(c.NewValue, 24),
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
