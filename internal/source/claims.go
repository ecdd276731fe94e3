package source

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-intel/internal/fetcher"
	"github.com/sells-group/pharmacy-intel/internal/model"
)

// LoadClaims parses a CMS Part D prescriber CSV into an NPI-keyed map.
// Numeric fields degrade to zero; rows without an NPI are skipped.
func LoadClaims(ctx context.Context, path string) (map[string]model.ClaimsMetrics, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open claims csv %s", path)
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
			return nil, eris.Wrap(err, "source: read claims header")
		}
		return nil, eris.Errorf("source: claims csv %s is empty", path)
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "source: load claims")
	}

	result := make(map[string]model.ClaimsMetrics)
	for row := range rowCh {
		npi := getCol(row, colIdx, "Prscrbr_NPI")
		if npi == "" {
			continue
		}
		result[npi] = model.ClaimsMetrics{
			Claims:        parseInt64Or(getCol(row, colIdx, "Tot_Clms"), 0),
			Beneficiaries: parseInt64Or(getCol(row, colIdx, "Tot_Benes"), 0),
			Cost:          parseFloat64Or(getCol(row, colIdx, "Tot_Drug_Cst"), 0),
		}
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "source: stream claims csv %s", path)
	}

	zap.L().Info("claims extract loaded",
		zap.String("path", path),
		zap.Int("npis", len(result)),
	)
	return result, nil
}
