package weather

import (
	"collision/internal/table"
)

// Derived feature columns appended after the join.
const (
	ColPrecipCategory = "PRECIP_CATEGORY"
	ColTempCategory   = "TEMP_CATEGORY"
	ColAdverse        = "ADVERSE_WEATHER"
	ColExtremeTemp    = "EXTREME_TEMP"
)

// Precipitation severity buckets (mm/day). The cut points are fixed and
// documented so the categorical features are reproducible across runs.
const (
	precipLight    = 0.1
	precipModerate = 2.5
	precipHeavy    = 10.0
)

// Temperature buckets (°C) and extreme thresholds.
const (
	tempCool       = 0.0
	tempMild       = 10.0
	tempWarm       = 20.0
	tempHot        = 30.0
	extremeColdMax = -5.0
	extremeHotMin  = 35.0
)

// Stats reports join accounting: with a fully covering series, Matched
// equals Total and Unmatched is zero.
type Stats struct {
	Total     int     `json:"total"`
	Matched   int     `json:"matched"`
	Unmatched int     `json:"unmatched"`
	MatchRate float64 `json:"match_rate"`
}

// Join left-joins the primary table to the daily series on its date column.
// Every primary row is preserved; unmatched rows carry null series fields.
// The derived feature columns are appended after the series fields.
func Join(primary *table.Table, dateColumn string, s *Series) (*table.Table, Stats) {
	stats := Stats{}
	dateIx := primary.ColIndex(dateColumn)

	// Series columns to carry over, date column excluded (the primary
	// already has its own date).
	carry := make([]int, 0, len(s.Table.Columns))
	carryNames := make([]string, 0, len(s.Table.Columns))
	for i, c := range s.Table.Columns {
		if i == s.dateIx {
			continue
		}
		carry = append(carry, i)
		carryNames = append(carryNames, c)
	}

	names := append(carryNames, ColPrecipCategory, ColTempCategory, ColAdverse, ColExtremeTemp)
	extra := make([][]any, len(names))
	for i := range extra {
		extra[i] = make([]any, primary.NumRows())
	}

	for r := range primary.Rows {
		stats.Total++

		var date string
		if dateIx >= 0 {
			date = table.NormalizeKey(primary.Get(r, dateIx))
		}
		sr := -1
		if date != "" {
			sr = s.Lookup(date)
		}
		if sr < 0 {
			stats.Unmatched++
			continue
		}
		stats.Matched++

		for i, si := range carry {
			extra[i][r] = s.Table.Get(sr, si)
		}

		n := len(carry)
		precip, hasPrecip := s.Float(sr, ColPrecipitation)
		snow, hasSnow := s.Float(sr, ColSnowfall)
		tavg, hasTemp := s.Float(sr, ColTempAvg)

		if hasPrecip {
			extra[n][r] = precipCategory(precip)
		}
		if hasTemp {
			extra[n+1][r] = tempCategory(tavg)
		}
		if hasPrecip || hasSnow {
			extra[n+2][r] = boolCell(precip > 0 || snow > 0)
		}
		if hasTemp {
			extra[n+3][r] = boolCell(tavg < extremeColdMax || tavg > extremeHotMin)
		}
	}

	if stats.Total > 0 {
		stats.MatchRate = float64(stats.Matched) / float64(stats.Total)
	}
	return primary.WithColumns(names, extra), stats
}

func precipCategory(mm float64) string {
	switch {
	case mm <= precipLight:
		return "none"
	case mm <= precipModerate:
		return "light"
	case mm <= precipHeavy:
		return "moderate"
	default:
		return "heavy"
	}
}

func tempCategory(c float64) string {
	switch {
	case c < tempCool:
		return "cold"
	case c < tempMild:
		return "cool"
	case c < tempWarm:
		return "mild"
	case c < tempHot:
		return "warm"
	default:
		return "hot"
	}
}

func boolCell(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
