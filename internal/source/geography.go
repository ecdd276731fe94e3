package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-intel/internal/fetcher"
	"github.com/sells-group/pharmacy-intel/internal/model"
	"github.com/sells-group/pharmacy-intel/internal/normalize"
)

// LoadGeography parses a ZIP demographics extract into a zip5-keyed map.
// Census exports arrive as either CSV or XLSX; the extension decides the
// reader. Numeric fields degrade to zero; rows without a zip are skipped.
func LoadGeography(ctx context.Context, path string) (map[string]model.ZipDemographics, error) {
	var result map[string]model.ZipDemographics
	var err error
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		result, err = loadGeographyXLSX(path)
	} else {
		result, err = loadGeographyCSV(ctx, path)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("geography extract loaded",
		zap.String("path", path),
		zap.Int("zips", len(result)),
	)
	return result, nil
}

func loadGeographyCSV(ctx context.Context, path string) (map[string]model.ZipDemographics, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open geography csv %s", path)
	}
	defer file.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, file, fetcher.CSVOptions{
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
	})

	var colIdx map[string]int
	select {
	case header := <-headerCh:
		colIdx = mapColumns(header)
	case err := <-errCh:
		if err != nil {
			return nil, eris.Wrap(err, "source: read geography header")
		}
		return nil, eris.Errorf("source: geography csv %s is empty", path)
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "source: load geography")
	}

	result := make(map[string]model.ZipDemographics)
	for row := range rowCh {
		collectGeographyRow(result, row, colIdx)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "source: stream geography csv %s", path)
	}
	return result, nil
}

func loadGeographyXLSX(path string) (map[string]model.ZipDemographics, error) {
	headerCh := make(chan []string, 1)
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{
		SkipRows: 1,
		HeaderCh: headerCh,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: read geography xlsx %s", path)
	}

	var colIdx map[string]int
	select {
	case header := <-headerCh:
		colIdx = mapColumns(header)
	default:
		return nil, eris.Errorf("source: geography xlsx %s is empty", path)
	}

	result := make(map[string]model.ZipDemographics)
	for _, row := range rows {
		collectGeographyRow(result, row, colIdx)
	}
	return result, nil
}

func collectGeographyRow(result map[string]model.ZipDemographics, row []string, colIdx map[string]int) {
	zip := normalize.ZIP(getCol(row, colIdx, "zip"))
	if zip == "" {
		return
	}
	result[zip] = model.ZipDemographics{
		Population:   parseInt64Or(getCol(row, colIdx, "population"), 0),
		MedianIncome: parseFloat64Or(getCol(row, colIdx, "median_income"), 0),
		Pct65Plus:    parseFloat64Or(getCol(row, colIdx, "pct_65_plus"), 0),
		PopGrowthPct: parseFloat64Or(getCol(row, colIdx, "pop_growth_pct"), 0),
	}
}
