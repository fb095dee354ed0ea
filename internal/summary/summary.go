// Package summary collects per-run quality counters and renders them as a
// single JSON document at the end of a run.
//
// The report answers the audit questions a curation run raises: how many
// rows came in per category and year, how dates were reconstructed, how
// coordinates were judged, how well the weather series covered the primary
// table, and what the assembler emitted. Counters are facts about the run,
// not pass/fail gates; the run succeeds even when every coordinate is
// flagged.
package summary

import (
	"encoding/json"
	"strconv"
	"time"

	"collision/internal/geo"
	"collision/internal/harmonize"
	"collision/internal/reconstruct"
	"collision/internal/weather"
)

// CategoryReport summarizes one category's harmonization.
type CategoryReport struct {
	Category         string              `json:"category"`
	Years            map[string]int      `json:"rows_per_year"`
	TotalRows        int                 `json:"total_rows"`
	Columns          int                 `json:"columns"`
	SkippedYears     []int               `json:"skipped_years,omitempty"`
	DroppedColumns   map[string][]string `json:"dropped_columns,omitempty"`
	TypeConflicts    []string            `json:"type_conflicts,omitempty"`
	CastFailures     int                 `json:"cast_failures,omitempty"`
	ParseErrors      int                 `json:"parse_errors,omitempty"`
	CategoricalFixes map[string]int      `json:"categorical_fixes,omitempty"`
}

// ViewReport summarizes one assembled view.
type ViewReport struct {
	Name           string `json:"name"`
	Cardinality    string `json:"cardinality"`
	Rows           int    `json:"rows"`
	Columns        int    `json:"columns"`
	SubsetExcluded int    `json:"subset_excluded,omitempty"`
}

// Report is the whole-run quality summary.
type Report struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Categories []CategoryReport `json:"categories"`

	Dates struct {
		Total    int            `json:"total"`
		ByMethod map[string]int `json:"by_method"`
		Invalid  int            `json:"invalid"`
	} `json:"dates"`

	Geo struct {
		Total        int            `json:"total"`
		CoordQuality map[string]int `json:"coord_quality"`
		Mismatches   int            `json:"jurisdiction_mismatches"`
	} `json:"geo"`

	Weather struct {
		Total     int     `json:"total"`
		Matched   int     `json:"matched"`
		Unmatched int     `json:"unmatched"`
		MatchRate float64 `json:"match_rate"`
	} `json:"weather"`

	Views []ViewReport `json:"views"`
}

// New starts an empty report for a job.
func New(job string) *Report {
	r := &Report{Job: job, StartedAt: time.Now().UTC()}
	r.Dates.ByMethod = make(map[string]int)
	r.Geo.CoordQuality = make(map[string]int)
	return r
}

// AddCategory records one harmonized category's stats.
func (r *Report) AddCategory(category string, columns int, st harmonize.Stats) {
	cr := CategoryReport{
		Category:         category,
		Years:            make(map[string]int, len(st.RowsPerYear)),
		TotalRows:        st.TotalRows,
		Columns:          columns,
		SkippedYears:     st.SkippedYears,
		CastFailures:     st.CastFailures,
		ParseErrors:      st.ParseErrors,
		CategoricalFixes: st.CategoricalFixes,
	}
	for y, n := range st.RowsPerYear {
		cr.Years[strconv.Itoa(y)] = n
	}
	if len(st.DroppedColumns) > 0 {
		cr.DroppedColumns = make(map[string][]string, len(st.DroppedColumns))
		for y, cols := range st.DroppedColumns {
			cr.DroppedColumns[strconv.Itoa(y)] = cols
		}
	}
	for _, c := range st.TypeConflicts {
		cr.TypeConflicts = append(cr.TypeConflicts, c.String())
	}
	r.Categories = append(r.Categories, cr)
}

// SetDates records the reconstruction stats for the primary table.
func (r *Report) SetDates(st reconstruct.Stats) {
	r.Dates.Total = st.Total
	r.Dates.Invalid = st.Invalid
	for m, n := range st.ByMethod {
		r.Dates.ByMethod[string(m)] = n
	}
}

// SetGeo records the quality-flag distribution.
func (r *Report) SetGeo(st geo.Stats) {
	r.Geo.Total = st.Total
	r.Geo.Mismatches = st.Mismatches
	for q, n := range st.ByCoordQuality {
		r.Geo.CoordQuality[string(q)] = n
	}
}

// SetWeather records join coverage.
func (r *Report) SetWeather(st weather.Stats) {
	r.Weather.Total = st.Total
	r.Weather.Matched = st.Matched
	r.Weather.Unmatched = st.Unmatched
	r.Weather.MatchRate = st.MatchRate
}

// AddView records one assembled view.
func (r *Report) AddView(v ViewReport) {
	r.Views = append(r.Views, v)
}

// Finish stamps the end time and renders the report as indented JSON.
func (r *Report) Finish() ([]byte, error) {
	r.FinishedAt = time.Now().UTC()
	return json.MarshalIndent(r, "", "  ")
}
