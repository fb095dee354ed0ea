package weather

import (
	"context"
	"testing"

	"collision/internal/config"
	"collision/internal/source"
	"collision/internal/table"
)

// TestLoadSeriesCSV verifies the CSV series path including canonical column
// spelling.
func TestLoadSeriesCSV(t *testing.T) {
	t.Parallel()

	data := []byte("date,temp_avg_c,precipitation_mm,snowfall_mm\n" +
		"2023-07-05,24.1,0,0\n" +
		"2023-07-06,22.0,12.5,0\n")
	s, err := LoadSeries(context.Background(), source.NewBytes("w.csv", data), config.Weather{
		Kind:       "csv",
		DateColumn: "DATE",
	})
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	if r := s.Lookup("2023-07-06"); r < 0 {
		t.Fatal("date not indexed")
	}
	if r := s.Lookup("1999-01-01"); r >= 0 {
		t.Fatal("unexpected match")
	}
	if v, ok := s.Float(s.Lookup("2023-07-06"), ColPrecipitation); !ok || v != 12.5 {
		t.Fatalf("precip = %v ok=%v", v, ok)
	}
}

// TestLoadSeriesJSON verifies the JSON series path lands in the same
// canonical shape as CSV.
func TestLoadSeriesJSON(t *testing.T) {
	t.Parallel()

	data := []byte(`[{"date": "2023-07-05", "temp_avg_c": 24.1}]`)
	s, err := LoadSeries(context.Background(), source.NewBytes("w.json", data), config.Weather{
		Kind:       "json",
		DateColumn: "DATE",
	})
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	if v, ok := s.Float(s.Lookup("2023-07-05"), ColTempAvg); !ok || v != 24.1 {
		t.Fatalf("temp = %v ok=%v", v, ok)
	}
}

// TestNewSeriesTimestampTruncation verifies that timestamped exports index
// by calendar day and duplicates keep the first row.
func TestNewSeriesTimestampTruncation(t *testing.T) {
	t.Parallel()

	tt := table.New([]string{ColDate, ColTempAvg})
	tt.Append([]any{"2023-07-05T00:00:00", "24.1"})
	tt.Append([]any{"2023-07-05", "99.9"})

	s, err := NewSeries(tt, ColDate)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	r := s.Lookup("2023-07-05")
	if r != 0 {
		t.Fatalf("Lookup = %d, want first row", r)
	}
}

// TestNewSeriesMissingDateColumn verifies the configuration fault path.
func TestNewSeriesMissingDateColumn(t *testing.T) {
	t.Parallel()

	tt := table.New([]string{"NOT_DATE"})
	if _, err := NewSeries(tt, ColDate); err == nil {
		t.Fatal("expected error for missing date column")
	}
}
