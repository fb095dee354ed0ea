// Package geo annotates rows with coordinate and jurisdiction quality flags.
//
// This is a pure annotation pass: it never filters and never alters a
// coordinate value. The declared administrative-area code in the source is
// systematically wrong for the target region, so the jurisdiction flag is a
// permanent documented quality signal, not a bug to repair; correcting it
// would need authoritative external data this system does not have.
package geo

import (
	"strconv"
	"strings"

	"collision/internal/config"
	"collision/internal/table"
)

// CoordQuality is the coordinate-level quality flag.
type CoordQuality string

const (
	CoordValid        CoordQuality = "valid"
	CoordInvalid      CoordQuality = "invalid"
	CoordMissing      CoordQuality = "missing"
	CoordLowPrecision CoordQuality = "low_precision"
)

// JurisdictionQuality cross-checks the declared area code against the
// coordinate-derived area.
type JurisdictionQuality string

const (
	JurisdictionMatch    JurisdictionQuality = "match"
	JurisdictionMismatch JurisdictionQuality = "mismatch"
)

// Column names appended by Annotate.
const (
	CoordColumn        = "COORD_QUALITY"
	JurisdictionColumn = "JURISDICTION_QUALITY"
)

// Stats counts flag outcomes per run.
type Stats struct {
	Total          int                  `json:"total"`
	ByCoordQuality map[CoordQuality]int `json:"by_coord_quality"`
	Mismatches     int                  `json:"jurisdiction_mismatches"`
}

// Classify applies the coordinate rules to one (lat, lon) pair given in
// their raw cell forms. First match wins: missing, invalid, low_precision,
// valid.
func Classify(lat, lon any, cfg config.Geo) CoordQuality {
	latF, latOK := cellFloat(lat)
	lonF, lonOK := cellFloat(lon)
	if !latOK || !lonOK {
		return CoordMissing
	}
	if !cfg.Bounds.Contains(latF, lonF) {
		return CoordInvalid
	}
	if decimalPlaces(lat) < cfg.MinDecimalPlaces || decimalPlaces(lon) < cfg.MinDecimalPlaces {
		return CoordLowPrecision
	}
	return CoordValid
}

// Annotate projects the table into a new table with COORD_QUALITY and
// JURISDICTION_QUALITY appended. Row count is preserved exactly.
func Annotate(t *table.Table, cfg config.Geo) (*table.Table, Stats) {
	stats := Stats{ByCoordQuality: map[CoordQuality]int{}}

	latIx := t.ColIndex(cfg.LatColumn)
	lonIx := t.ColIndex(cfg.LonColumn)
	countyIx := -1
	if cfg.CountyColumn != "" {
		countyIx = t.ColIndex(cfg.CountyColumn)
	}

	coords := make([]any, t.NumRows())
	juris := make([]any, t.NumRows())

	for r := range t.Rows {
		stats.Total++

		var lat, lon any
		if latIx >= 0 {
			lat = t.Get(r, latIx)
		}
		if lonIx >= 0 {
			lon = t.Get(r, lonIx)
		}

		cq := Classify(lat, lon, cfg)
		stats.ByCoordQuality[cq]++
		coords[r] = string(cq)

		jq := jurisdiction(t, r, countyIx, cq, cfg)
		if jq == JurisdictionMismatch {
			stats.Mismatches++
		}
		juris[r] = string(jq)
	}

	return t.WithColumns([]string{CoordColumn, JurisdictionColumn}, [][]any{coords, juris}), stats
}

// jurisdiction compares the declared area code with the coordinate-derived
// one. The coordinates only testify to the target region when they actually
// fall inside its bounds, so rows without usable in-bounds coordinates
// cannot disagree and report match.
func jurisdiction(t *table.Table, row, countyIx int, cq CoordQuality, cfg config.Geo) JurisdictionQuality {
	if countyIx < 0 || cfg.ExpectedCounty == "" {
		return JurisdictionMatch
	}
	if cq != CoordValid && cq != CoordLowPrecision {
		return JurisdictionMatch
	}
	declared := table.NormalizeKey(t.Get(row, countyIx))
	if declared == "" {
		return JurisdictionMatch
	}
	// Codes compare numerically when possible so "067" equals "67".
	if a, errA := strconv.Atoi(declared); errA == nil {
		if b, errB := strconv.Atoi(cfg.ExpectedCounty); errB == nil {
			if a == b {
				return JurisdictionMatch
			}
			return JurisdictionMismatch
		}
	}
	if strings.EqualFold(declared, cfg.ExpectedCounty) {
		return JurisdictionMatch
	}
	return JurisdictionMismatch
}

// cellFloat reads a numeric cell in any of the forms harmonization emits.
func cellFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// decimalPlaces counts fractional digits from the cell's textual form. The
// count is a property of how the source recorded the value, so the string
// representation is authoritative when present.
func decimalPlaces(v any) int {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return 0
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
