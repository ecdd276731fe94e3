package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures StreamCSV.
type CSVOptions struct {
	Delimiter  rune            // field separator, ',' when zero
	HasHeader  bool            // consume the first row instead of emitting it
	HeaderCh   chan<- []string // receives the header row when HasHeader is set
	Comment    rune            // lines starting with this rune are skipped (0 = none)
	LazyQuotes bool            // tolerate bare quotes, NPPES extracts need this
	TrimSpace  bool            // trim surrounding whitespace from every field
}

// StreamCSV parses r row by row and delivers rows on the returned channel.
// The row channel must be drained; a parse error or context cancellation
// stops the stream and is reported on the error channel. Both channels are
// closed once the stream ends. Rows may have varying field counts; bulk
// extracts are not always rectangular and the column mapping downstream
// tolerates short rows.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rows := make(chan []string, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(rows)
		defer close(errs)

		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = opts.LazyQuotes
		if opts.Delimiter != 0 {
			cr.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			cr.Comment = opts.Comment
		}

		headerPending := opts.HasHeader
		for {
			if err := ctx.Err(); err != nil {
				errs <- eris.Wrap(err, "csv: stream cancelled")
				return
			}

			record, err := cr.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errs <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i := range record {
					record[i] = strings.TrimSpace(record[i])
				}
			}

			if headerPending {
				headerPending = false
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- record:
					case <-ctx.Done():
						errs <- eris.Wrap(ctx.Err(), "csv: stream cancelled delivering header")
						return
					}
				}
				continue
			}

			select {
			case rows <- record:
			case <-ctx.Done():
				errs <- eris.Wrap(ctx.Err(), "csv: stream cancelled")
				return
			}
		}
	}()

	return rows, errs
}
