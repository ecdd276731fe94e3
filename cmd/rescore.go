package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/pharmacy-intel/internal/scorer"
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute acquisition scores without re-ingesting",
	Long:  "Recomputes all sub-scores and the weighted composite from stored columns under the selected weight profile. Useful after changing profile weights.",
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

		name, _ := cmd.Flags().GetString("profile")
		if name == "" {
			name = cfg.Scoring.Profile
		}

		profile, err := scorer.SelectProfile(name, cfg.Scoring.ProfilesFile)
		if err != nil {
			return err
		}

		n, err := scorer.Rescore(ctx, st, profile)
		if err != nil {
			return err
		}

		pr := message.NewPrinter(language.English)
		fmt.Print(pr.Sprintf("Rescored %d pharmacies under profile %q.\n", n, profile.Name))
		return nil
	},
}

func init() {
	rescoreCmd.Flags().String("profile", "", "weight profile (default from config)")
	rootCmd.AddCommand(rescoreCmd)
}
