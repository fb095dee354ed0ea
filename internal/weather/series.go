// Package weather joins the date-annotated primary table against a daily
// weather series and derives categorical weather features.
package weather

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"collision/internal/config"
	csvp "collision/internal/parser/csv"
	jsonp "collision/internal/parser/json"
	"collision/internal/source"
	"collision/internal/table"
)

// Canonical series column names after header normalization.
const (
	ColDate          = "DATE"
	ColPrecipitation = "PRECIPITATION_MM"
	ColSnowfall      = "SNOWFALL_MM"
	ColTempAvg       = "TEMP_AVG_C"
)

// Series is an indexed daily time-series table: one row per calendar date.
type Series struct {
	Table  *table.Table
	dateIx int
	byDate map[string]int
}

// LoadSeries reads the daily series from its configured source. Both CSV and
// JSON inputs land in the same canonical table shape.
func LoadSeries(ctx context.Context, src source.Source, cfg config.Weather) (*Series, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("weather: open series: %w", err)
	}
	defer rc.Close()

	var t *table.Table
	switch cfg.Kind {
	case "json":
		t, err = jsonp.ReadSeriesTable(ctx, rc, cfg.Options)
	default:
		t, err = csvp.ReadTable(ctx, rc, cfg.Options)
	}
	if err != nil {
		return nil, fmt.Errorf("weather: read series: %w", err)
	}
	return NewSeries(t, csvp.NormalizeHeader(cfg.DateColumn))
}

// NewSeries indexes a series table by its date column. Duplicate dates keep
// the first row, matching a one-row-per-calendar-date contract.
func NewSeries(t *table.Table, dateColumn string) (*Series, error) {
	ix := t.ColIndex(dateColumn)
	if ix < 0 {
		return nil, fmt.Errorf("weather: series missing date column %s", dateColumn)
	}
	s := &Series{Table: t, dateIx: ix, byDate: make(map[string]int, t.NumRows())}
	for r := range t.Rows {
		key := table.NormalizeKey(t.Get(r, ix))
		if key == "" {
			continue
		}
		// Timestamps from some exports carry a time suffix; join on day.
		if len(key) > 10 {
			key = key[:10]
		}
		if _, dup := s.byDate[key]; !dup {
			s.byDate[key] = r
		}
	}
	return s, nil
}

// Lookup returns the series row index for a date string, or -1.
func (s *Series) Lookup(date string) int {
	if r, ok := s.byDate[date]; ok {
		return r
	}
	return -1
}

// Float reads a numeric series cell.
func (s *Series) Float(row int, column string) (float64, bool) {
	ix := s.Table.ColIndex(column)
	if ix < 0 || row < 0 {
		return 0, false
	}
	switch v := s.Table.Get(row, ix).(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
