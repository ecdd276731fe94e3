package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/pharmacy-intel/internal/model"
	"github.com/sells-group/pharmacy-intel/internal/store"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search stored pharmacies",
	Long:  "Substring search across organization name, DBA name, city, and NPI, with state/city/zip filters, independent-only and minimum-score filters, sorting, and pagination.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "query")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		result, err := st.Search(ctx, searchFilterFromFlags(cmd, args))
		if err != nil {
			return eris.Wrap(err, "search")
		}

		if result.Total == 0 {
			fmt.Fprintln(os.Stderr, "No pharmacies found.")
			return nil
		}

		formatPharmacies(os.Stdout, result.Pharmacies)

		pr := message.NewPrinter(language.English)
		pr.Printf("\nPage %d of %d matches.\n", result.Page, result.Total)
		return nil
	},
}

func init() {
	searchCmd.Flags().String("state", "", "exact state filter")
	searchCmd.Flags().String("city", "", "city substring filter")
	searchCmd.Flags().String("zip", "", "ZIP prefix filter")
	searchCmd.Flags().Bool("independent", false, "independents only")
	searchCmd.Flags().Float64("min-score", 0, "minimum acquisition score")
	searchCmd.Flags().String("sort", "score", "sort key (score, name, state, claims, zip_claims, competition, refreshed)")
	searchCmd.Flags().Int("page", 1, "page number")
	searchCmd.Flags().Int("size", 50, "page size")
	rootCmd.AddCommand(searchCmd)
}

func searchFilterFromFlags(cmd *cobra.Command, args []string) store.SearchFilter {
	query := ""
	if len(args) > 0 {
		query = args[0]
	}
	state, _ := cmd.Flags().GetString("state")
	city, _ := cmd.Flags().GetString("city")
	zip, _ := cmd.Flags().GetString("zip")
	independent, _ := cmd.Flags().GetBool("independent")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	sortBy, _ := cmd.Flags().GetString("sort")
	page, _ := cmd.Flags().GetInt("page")
	size, _ := cmd.Flags().GetInt("size")

	return store.SearchFilter{
		Query:           query,
		State:           state,
		City:            city,
		Zip:             zip,
		IndependentOnly: independent,
		MinScore:        minScore,
		SortBy:          sortBy,
		Page:            page,
		PageSize:        size,
	}
}

func formatPharmacies(out io.Writer, pharmacies []model.Pharmacy) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NPI\tORGANIZATION\tCITY\tST\tZIP\tTYPE\tCLAIMS\tSCORE")

	for i := range pharmacies {
		p := &pharmacies[i]
		name := model.Deref(p.OrganizationName)
		if dba := model.Deref(p.DBAName); dba != "" && !strings.EqualFold(dba, name) {
			name += " (" + dba + ")"
		}

		claims := ""
		if p.MedicareClaimsCount != nil {
			claims = fmt.Sprintf("%d", *p.MedicareClaimsCount)
		}
		score := ""
		if p.AcquisitionScore != nil {
			score = fmt.Sprintf("%.1f", *p.AcquisitionScore)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.NPI,
			truncate(name, 40),
			model.Deref(p.City),
			model.Deref(p.State),
			model.Deref(p.Zip),
			p.Type(),
			claims,
			score,
		)
	}
	_ = w.Flush()
}
