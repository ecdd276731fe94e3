package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures ReadXLSX.
type XLSXOptions struct {
	SheetName string          // sheet to read; first sheet when empty
	SkipRows  int             // leading rows to drop, typically the header
	HeaderCh  chan<- []string // receives the first row, buffered channel required
}

// ReadXLSX loads a workbook and returns the selected sheet's rows as
// strings. Census demographics extracts are small single-sheet workbooks,
// so the whole sheet is materialized rather than streamed.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}

	sheet, err := pickSheet(wb, opts.SheetName)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}

		if i == 0 && opts.HeaderCh != nil {
			opts.HeaderCh <- cells
		}
		if i < opts.SkipRows {
			continue
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func pickSheet(wb *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := wb.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: no sheet %q in workbook", name)
		}
		return sheet, nil
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return wb.Sheets[0], nil
}
