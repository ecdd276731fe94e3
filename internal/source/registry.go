// Package source reads the NPPES registry extract and the optional
// enrichment extracts (CMS Part D claims, ZIP demographics).
package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-intel/internal/fetcher"
)

// PharmacyTaxonomies is the allow-list of NUCC taxonomy codes that identify
// a pharmacy organization.
var PharmacyTaxonomies = map[string]bool{
	"183500000X": true, // Pharmacist
	"3336C0002X": true, // Community/Retail Pharmacy
	"3336C0003X": true, // Compounding Pharmacy
	"3336C0004X": true, // Long Term Care Pharmacy
	"3336H0001X": true, // Home Infusion Therapy Pharmacy
	"3336I0012X": true, // Institutional Pharmacy
	"3336L0003X": true, // Mail Order Pharmacy
	"3336M0002X": true, // Military/U.S. Coast Guard Pharmacy
	"3336M0003X": true, // Managed Care Organization Pharmacy
	"3336N0007X": true, // Nuclear Pharmacy
	"3336S0011X": true, // Specialty Pharmacy
	"333600000X": true, // Pharmacy
}

// entityTypeOrganization is the NPPES entity type code for organizations.
const entityTypeOrganization = "2"

// registryGlob matches the data file inside the NPPES dissemination archive.
const registryGlob = "npidata_pfile_*.csv"

// RegistryRecord is one pharmacy organization row from the NPPES extract,
// raw except for parsed dates.
type RegistryRecord struct {
	NPI                     string
	OrganizationName        string
	DBAName                 string
	AddressLine1            string
	AddressLine2            string
	City                    string
	State                   string
	Zip                     string
	Phone                   string
	Fax                     string
	TaxonomyCode            string
	AuthorizedOfficialName  string
	AuthorizedOfficialTitle string
	AuthorizedOfficialPhone string
	EnumerationDate         *time.Time
	DeactivationDate        *time.Time
	DeactivationReason      string
}

// YearsInOperation returns the years elapsed since enumeration, rounded to
// one decimal, or nil when the enumeration date is unknown.
func (r *RegistryRecord) YearsInOperation(now time.Time) *float64 {
	if r.EnumerationDate == nil {
		return nil
	}
	y := yearsSince(*r.EnumerationDate, now)
	return &y
}

// LocateRegistry finds the registry CSV under dataDir, downloading and
// extracting the archive from registryURL when no local copy exists and a
// URL is configured. When a local copy exists alongside a stored ETag, the
// archive is re-fetched conditionally and replaced only if the upstream
// copy changed. The registry is mandatory: a missing file is an error.
func LocateRegistry(ctx context.Context, dataDir, registryURL string, f fetcher.Fetcher) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, registryGlob))
	if err != nil {
		return "", eris.Wrap(err, "source: glob registry csv")
	}

	if registryURL == "" || f == nil {
		if len(matches) > 0 {
			return matches[0], nil
		}
		return "", eris.Errorf("source: no %s found under %s and no registry_url configured", registryGlob, dataDir)
	}

	log := zap.L().With(zap.String("component", "source.registry"))
	zipPath := filepath.Join(dataDir, "nppes_full.zip")
	etagPath := zipPath + ".etag"

	if len(matches) > 0 {
		return refreshRegistry(ctx, f, registryURL, zipPath, etagPath, dataDir, matches, log)
	}

	log.Info("downloading registry archive", zap.String("url", registryURL))
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", eris.Wrap(err, "source: create data dir")
	}
	if _, err := f.DownloadToFile(ctx, registryURL, zipPath); err != nil {
		return "", eris.Wrap(err, "source: download registry archive")
	}
	saveRegistryETag(ctx, f, registryURL, etagPath)
	return extractRegistry(zipPath, dataDir, log)
}

// refreshRegistry re-fetches the archive with If-None-Match when a prior
// download stored an ETag. The local copy wins on any fetch failure, on a
// 304, and when no ETag was ever stored (FTP mirrors have none).
func refreshRegistry(ctx context.Context, f fetcher.Fetcher, registryURL, zipPath, etagPath, dataDir string, matches []string, log *zap.Logger) (string, error) {
	stored, err := os.ReadFile(etagPath)
	if err != nil || len(stored) == 0 {
		return matches[0], nil
	}

	body, newETag, changed, err := f.DownloadIfChanged(ctx, registryURL, string(stored))
	if err != nil {
		log.Warn("conditional registry fetch failed, keeping local copy", zap.Error(err))
		return matches[0], nil
	}
	if !changed {
		log.Info("registry unchanged upstream", zap.String("etag", string(stored)))
		return matches[0], nil
	}
	defer body.Close() //nolint:errcheck

	log.Info("registry changed upstream, replacing local copy",
		zap.String("url", registryURL),
		zap.String("etag", newETag),
	)

	out, err := os.Create(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "source: create registry archive")
	}
	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		return "", eris.Wrap(err, "source: write registry archive")
	}
	if err := out.Close(); err != nil {
		return "", eris.Wrap(err, "source: close registry archive")
	}
	if newETag != "" {
		_ = os.WriteFile(etagPath, []byte(newETag), 0o644)
	}

	path, err := extractRegistry(zipPath, dataDir, log)
	if err != nil {
		return "", err
	}
	// Monthly extracts carry new date-range filenames, so the superseded
	// csvs would keep matching the glob.
	for _, old := range matches {
		if old != path {
			_ = os.Remove(old)
		}
	}
	return path, nil
}

// saveRegistryETag stores the archive's ETag next to it for later
// conditional fetches. Hosts without validators, FTP included, simply never
// get a marker.
func saveRegistryETag(ctx context.Context, f fetcher.Fetcher, registryURL, etagPath string) {
	etag, err := f.HeadETag(ctx, registryURL)
	if err != nil || etag == "" {
		return
	}
	_ = os.WriteFile(etagPath, []byte(etag), 0o644)
}

func extractRegistry(zipPath, dataDir string, log *zap.Logger) (string, error) {
	extracted, err := fetcher.ExtractZIP(zipPath, dataDir)
	if err != nil {
		return "", eris.Wrap(err, "source: extract registry archive")
	}
	for _, path := range extracted {
		base := filepath.Base(path)
		if strings.HasPrefix(base, "npidata_pfile_") && strings.HasSuffix(base, ".csv") {
			log.Info("registry extracted", zap.String("path", path))
			return path, nil
		}
	}
	return "", eris.Errorf("source: no registry csv in archive %s", zipPath)
}

// StreamRegistry streams the registry CSV, filtering to pharmacy
// organizations, and sends batches of batchSize records on the returned
// channel. The error channel receives at most one error; both channels are
// closed when the stream ends. Memory stays bounded by the batch size.
func StreamRegistry(ctx context.Context, path string, batchSize int) (<-chan []RegistryRecord, <-chan error) {
	if batchSize <= 0 {
		batchSize = 5000
	}

	batchCh := make(chan []RegistryRecord, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(batchCh)
		defer close(errCh)

		file, err := os.Open(path)
		if err != nil {
			errCh <- eris.Wrapf(err, "source: open registry csv %s", path)
			return
		}
		defer file.Close() //nolint:errcheck

		headerCh := make(chan []string, 1)
		rowCh, csvErrCh := fetcher.StreamCSV(ctx, file, fetcher.CSVOptions{
			HasHeader:  true,
			HeaderCh:   headerCh,
			LazyQuotes: true,
		})

		var colIdx map[string]int
		select {
		case header := <-headerCh:
			colIdx = mapColumns(header)
		case err := <-csvErrCh:
			if err != nil {
				errCh <- eris.Wrap(err, "source: read registry header")
			} else {
				errCh <- eris.Errorf("source: registry csv %s is empty", path)
			}
			return
		case <-ctx.Done():
			errCh <- eris.Wrap(ctx.Err(), "source: stream registry")
			return
		}

		batch := make([]RegistryRecord, 0, batchSize)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			out := batch
			batch = make([]RegistryRecord, 0, batchSize)
			select {
			case batchCh <- out:
				return true
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "source: stream registry")
				return false
			}
		}

		for row := range rowCh {
			rec, ok := filterRegistryRow(row, colIdx)
			if !ok {
				continue
			}
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				if !flush() {
					return
				}
			}
		}
		if err := <-csvErrCh; err != nil {
			errCh <- eris.Wrapf(err, "source: stream registry csv %s", path)
			return
		}
		flush()
	}()

	return batchCh, errCh
}

// filterRegistryRow applies the pharmacy-organization filter and extracts
// the record fields. Returns false when the row is not a pharmacy org.
func filterRegistryRow(row []string, colIdx map[string]int) (RegistryRecord, bool) {
	taxonomy := ""
	for _, col := range []string{
		"Healthcare Provider Taxonomy Code_1",
		"Healthcare Provider Taxonomy Code_2",
		"Healthcare Provider Taxonomy Code_3",
	} {
		if code := getCol(row, colIdx, col); PharmacyTaxonomies[code] {
			taxonomy = code
			break
		}
	}
	if taxonomy == "" {
		return RegistryRecord{}, false
	}

	if getCol(row, colIdx, "Entity Type Code") != entityTypeOrganization {
		return RegistryRecord{}, false
	}

	npi := getCol(row, colIdx, "NPI")
	if npi == "" {
		return RegistryRecord{}, false
	}

	authFirst := getCol(row, colIdx, "Authorized Official First Name")
	authLast := getCol(row, colIdx, "Authorized Official Last Name")
	authName := strings.TrimSpace(authFirst + " " + authLast)

	return RegistryRecord{
		NPI:                     npi,
		OrganizationName:        getCol(row, colIdx, "Provider Organization Name (Legal Business Name)"),
		DBAName:                 getCol(row, colIdx, "Provider Other Organization Name"),
		AddressLine1:            getCol(row, colIdx, "Provider First Line Business Practice Location Address"),
		AddressLine2:            getCol(row, colIdx, "Provider Second Line Business Practice Location Address"),
		City:                    getCol(row, colIdx, "Provider Business Practice Location Address City Name"),
		State:                   getCol(row, colIdx, "Provider Business Practice Location Address State Name"),
		Zip:                     getCol(row, colIdx, "Provider Business Practice Location Address Postal Code"),
		Phone:                   getCol(row, colIdx, "Provider Business Practice Location Address Telephone Number"),
		Fax:                     getCol(row, colIdx, "Provider Business Practice Location Address Fax Number"),
		TaxonomyCode:            taxonomy,
		AuthorizedOfficialName:  authName,
		AuthorizedOfficialTitle: getCol(row, colIdx, "Authorized Official Title or Position"),
		AuthorizedOfficialPhone: getCol(row, colIdx, "Authorized Official Telephone Number"),
		EnumerationDate:         parseDateOrNil(getCol(row, colIdx, "Provider Enumeration Date")),
		DeactivationDate:        parseDateOrNil(getCol(row, colIdx, "NPI Deactivation Date")),
		DeactivationReason:      getCol(row, colIdx, "NPI Deactivation Reason Code"),
	}, true
}
