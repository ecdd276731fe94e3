// Package export renders pharmacy lists as CSV or XLSX downloads. Both
// formats share the same column layouts: a compact one for general list
// exports and an extended one for acquisition-target worksheets.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pharmacy-intel/internal/model"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// sheetName is the single worksheet in XLSX output.
const sheetName = "Pharmacies"

// column binds a header name to its cell renderers. Columns with a num
// renderer are written as numeric XLSX cells so spreadsheet sorting works;
// a nil numeric value renders as an empty cell.
type column struct {
	name string
	str  func(p *model.Pharmacy) string
	num  func(p *model.Pharmacy) *float64
}

func textColumn(name string, str func(p *model.Pharmacy) string) column {
	return column{name: name, str: str}
}

func intColumn(name string, get func(p *model.Pharmacy) *int64) column {
	return column{
		name: name,
		str:  func(p *model.Pharmacy) string { return formatInt(get(p)) },
		num: func(p *model.Pharmacy) *float64 {
			v := get(p)
			if v == nil {
				return nil
			}
			f := float64(*v)
			return &f
		},
	}
}

func floatColumn(name string, get func(p *model.Pharmacy) *float64) column {
	return column{
		name: name,
		str:  func(p *model.Pharmacy) string { return formatFloat(get(p)) },
		num:  get,
	}
}

func baseColumns() []column {
	return []column{
		textColumn("NPI", func(p *model.Pharmacy) string { return p.NPI }),
		textColumn("Organization Name", func(p *model.Pharmacy) string { return model.Deref(p.OrganizationName) }),
		textColumn("DBA Name", func(p *model.Pharmacy) string { return model.Deref(p.DBAName) }),
		textColumn("Address", address),
		textColumn("City", func(p *model.Pharmacy) string { return model.Deref(p.City) }),
		textColumn("State", func(p *model.Pharmacy) string { return model.Deref(p.State) }),
		textColumn("ZIP", func(p *model.Pharmacy) string { return model.Deref(p.Zip) }),
		textColumn("Phone", func(p *model.Pharmacy) string { return model.Deref(p.Phone) }),
		textColumn("Type", func(p *model.Pharmacy) string { return p.Type() }),
		textColumn("Chain Parent", func(p *model.Pharmacy) string { return model.Deref(p.ChainParent) }),
		intColumn("Medicare Claims", func(p *model.Pharmacy) *int64 { return p.MedicareClaimsCount }),
		floatColumn("Medicare Cost", func(p *model.Pharmacy) *float64 { return p.MedicareTotalCost }),
		floatColumn("Acquisition Score", func(p *model.Pharmacy) *float64 { return p.AcquisitionScore }),
	}
}

// targetColumns extends the base layout with the sub-scores and ZIP market
// metrics an acquisition analyst filters on.
func targetColumns() []column {
	return append(baseColumns(),
		floatColumn("Competition Score", func(p *model.Pharmacy) *float64 { return p.CompetitionScore }),
		floatColumn("Market Demand Score", func(p *model.Pharmacy) *float64 { return p.MarketDemandScore }),
		floatColumn("Years In Operation", func(p *model.Pharmacy) *float64 { return p.YearsInOperation }),
		intColumn("ZIP Pharmacy Count", func(p *model.Pharmacy) *int64 { return p.ZipPharmacyCount }),
		floatColumn("ZIP Pharmacies Per 10k", func(p *model.Pharmacy) *float64 { return p.ZipPharmaciesPer10k }),
		intColumn("ZIP Medicare Claims", func(p *model.Pharmacy) *int64 { return p.ZipMedicareClaims }),
		floatColumn("ZIP Median Income", func(p *model.Pharmacy) *float64 { return p.ZipMedianIncome }),
		floatColumn("ZIP Pct 65 Plus", func(p *model.Pharmacy) *float64 { return p.ZipPct65Plus }),
	)
}

// Header is the compact column layout, identical across formats.
func Header() []string {
	return headerOf(baseColumns())
}

// TargetsHeader is the extended column layout.
func TargetsHeader() []string {
	return headerOf(targetColumns())
}

func headerOf(cols []column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

// Write renders pharmacies to w in the given format with the compact layout.
func Write(w io.Writer, format string, pharmacies []model.Pharmacy) error {
	return write(w, format, baseColumns(), pharmacies)
}

// WriteTargets renders pharmacies with the extended target layout.
func WriteTargets(w io.Writer, format string, pharmacies []model.Pharmacy) error {
	return write(w, format, targetColumns(), pharmacies)
}

func write(w io.Writer, format string, cols []column, pharmacies []model.Pharmacy) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, cols, pharmacies)
	case FormatXLSX:
		return writeXLSX(w, cols, pharmacies)
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}

// ContentType returns the MIME type for a format, or "" when unknown.
func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return ""
	}
}

func writeCSV(w io.Writer, cols []column, pharmacies []model.Pharmacy) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headerOf(cols)); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}

	row := make([]string, len(cols))
	for i := range pharmacies {
		for j, c := range cols {
			row[j] = c.str(&pharmacies[i])
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}

func writeXLSX(w io.Writer, cols []column, pharmacies []model.Pharmacy) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	hr := sheet.AddRow()
	for _, c := range cols {
		hr.AddCell().SetString(c.name)
	}

	for i := range pharmacies {
		p := &pharmacies[i]
		r := sheet.AddRow()
		for _, c := range cols {
			cell := r.AddCell()
			if c.num != nil {
				if v := c.num(p); v != nil {
					cell.SetFloat(*v)
				} else {
					cell.SetString("")
				}
				continue
			}
			cell.SetString(c.str(p))
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

func address(p *model.Pharmacy) string {
	addr := model.Deref(p.AddressLine1)
	if line2 := model.Deref(p.AddressLine2); line2 != "" {
		addr += ", " + line2
	}
	return addr
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
