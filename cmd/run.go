package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a full pipeline run",
	Long:  "Loads the NPPES registry, classifies and upserts pharmacy records, applies Medicare claims and ZIP demographic enrichment, rescores, and records detected changes.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		p, err := newPipeline(st)
		if err != nil {
			return err
		}

		run, err := p.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		pr := message.NewPrinter(language.English)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Run:\t%s\n", run.ID)
		fmt.Fprintf(w, "Status:\t%s\n", run.Status)
		pr.Fprintf(w, "Processed:\t%d\n", run.RecordsProcessed)
		pr.Fprintf(w, "Added:\t%d\n", run.RecordsAdded)
		pr.Fprintf(w, "Updated:\t%d\n", run.RecordsUpdated)
		pr.Fprintf(w, "Changes:\t%d\n", run.ChangesDetected)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
