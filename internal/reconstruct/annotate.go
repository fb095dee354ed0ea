package reconstruct

import (
	"strconv"

	"collision/internal/config"
	"collision/internal/table"
)

// Column names appended by Annotate.
const (
	DateColumn   = "CRASH_DATE"
	MethodColumn = "DATE_METHOD"
)

// DateLayout is the canonical string form of a reconstructed date.
const DateLayout = "2006-01-02"

// Stats counts reconstruction outcomes per run.
type Stats struct {
	Total    int            `json:"total"`
	ByMethod map[Method]int `json:"by_method"`
	Invalid  int            `json:"invalid"`
}

// Annotate projects the primary table into a new table with CRASH_DATE and
// DATE_METHOD columns appended. Existing columns are untouched and the row
// count is preserved exactly: a row whose year/month are outside the sane
// range keeps null annotations and is counted, never dropped.
func Annotate(t *table.Table, cfg config.Dates) (*table.Table, Stats) {
	stats := Stats{ByMethod: map[Method]int{}}

	yearIx := t.ColIndex(cfg.YearColumn)
	monthIx := t.ColIndex(cfg.MonthColumn)
	dayIx := t.ColIndex(cfg.DayColumn)
	wdIx := t.ColIndex(cfg.WeekdayColumn)
	bounds := Bounds{MinYear: cfg.MinYear, MaxYear: cfg.MaxYear}

	dates := make([]any, t.NumRows())
	methods := make([]any, t.NumRows())

	for r := range t.Rows {
		stats.Total++
		in := Inputs{
			Year:  cellInt(t, r, yearIx),
			Month: cellInt(t, r, monthIx),
		}
		if dayIx >= 0 {
			in.Day = cellInt(t, r, dayIx)
		}
		if wdIx >= 0 {
			in.Weekday = cellInt(t, r, wdIx)
		}

		rec, err := Date(in, bounds)
		if err != nil {
			stats.Invalid++
			continue
		}
		dates[r] = rec.Date.Format(DateLayout)
		methods[r] = string(rec.Method)
		stats.ByMethod[rec.Method]++
	}

	return t.WithColumns([]string{DateColumn, MethodColumn}, [][]any{dates, methods}), stats
}

// cellInt reads a cell as an integer, tolerating the string and float forms
// harmonization can leave behind. 0 means absent or unparseable.
func cellInt(t *table.Table, row, col int) int {
	if col < 0 {
		return 0
	}
	switch v := t.Get(row, col).(type) {
	case nil:
		return 0
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		if v == float64(int64(v)) {
			return int(v)
		}
		return 0
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil && f == float64(int64(f)) {
			return int(f)
		}
	}
	return 0
}
