package source

import (
	"strconv"
	"strings"
	"time"
)

// parseInt64Or parses a string as an int64, returning def if parsing fails.
// Counts exported as floats ("12.0") still parse.
func parseInt64Or(s string, def int64) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return def
}

// parseFloat64Or parses a string as a float64, returning def if parsing fails.
func parseFloat64Or(s string, def float64) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" || s == "**" || s == "#" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

// dateFormats are tried in order when parsing extract dates.
var dateFormats = []string{"01/02/2006", "2006-01-02", "01-02-2006"}

// parseDateOrNil parses an extract date, returning nil for blank or
// malformed values.
func parseDateOrNil(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// yearsSince returns the elapsed years between d and now, rounded to one
// decimal place.
func yearsSince(d, now time.Time) float64 {
	days := now.Sub(d).Hours() / 24
	years := days / 365.25
	return float64(int(years*10+0.5)) / 10
}

// mapColumns builds a trimmed column name → index map from a header row.
func mapColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[strings.TrimSpace(col)] = i
	}
	return m
}

// getCol gets a trimmed column value by name, or "" when absent.
func getCol(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
