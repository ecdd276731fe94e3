package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pharmacy-intel/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export pharmacies to a CSV or XLSX file",
	Long:  "Writes filtered pharmacies to the export directory. The --targets flag adds sub-score and ZIP market columns for acquisition worksheets.",
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

		format, _ := cmd.Flags().GetString("format")
		if export.ContentType(format) == "" {
			return eris.Errorf("unsupported format %q (want csv or xlsx)", format)
		}

		rows, err := st.ExportRows(ctx, searchFilterFromFlags(cmd, nil))
		if err != nil {
			return eris.Wrap(err, "load export rows")
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			if err := os.MkdirAll(cfg.Export.Dir, 0o755); err != nil {
				return eris.Wrap(err, "create export dir")
			}
			name := fmt.Sprintf("pharmacies_%s.%s", time.Now().UTC().Format("20060102_150405"), format)
			out = filepath.Join(cfg.Export.Dir, name)
		}

		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "create export file")
		}
		defer f.Close() //nolint:errcheck

		targets, _ := cmd.Flags().GetBool("targets")
		if targets {
			err = export.WriteTargets(f, format, rows)
		} else {
			err = export.Write(f, format, rows)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Wrote %d pharmacies to %s\n", len(rows), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", export.FormatCSV, "output format (csv or xlsx)")
	exportCmd.Flags().String("out", "", "output path (default under export dir)")
	exportCmd.Flags().Bool("targets", false, "extended acquisition-target columns")
	exportCmd.Flags().String("state", "", "exact state filter")
	exportCmd.Flags().String("city", "", "city substring filter")
	exportCmd.Flags().String("zip", "", "ZIP prefix filter")
	exportCmd.Flags().Bool("independent", false, "independents only")
	exportCmd.Flags().Float64("min-score", 0, "minimum acquisition score")
	exportCmd.Flags().String("sort", "score", "sort key")
	rootCmd.AddCommand(exportCmd)
}
