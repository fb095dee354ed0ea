// Package config defines the pipeline configuration consumed by cmd/curate
// and the internal stages.
//
// Configuration is deliberately data-driven: rename tables, bounding boxes,
// thresholds, and view definitions all arrive here rather than being
// hard-coded in the stages that apply them. Validate() implements the
// fatal-at-startup class of errors: a config that cannot correctly interpret
// its inputs must stop the run before any stage executes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Pipeline is the top-level run configuration.
type Pipeline struct {
	Job string `json:"job"`

	Years      YearRange  `json:"years"`
	Primary    string     `json:"primary"`
	Key        string     `json:"key"`
	Categories []Category `json:"categories"`

	// Renames maps category -> historical column name -> canonical name.
	// Applied before the master-schema union so a renamed column never
	// appears twice.
	Renames map[string]map[string]string `json:"renames,omitempty"`

	// Exclude maps category -> column names deliberately left out of the
	// master schema (transient columns that appeared in a single year and
	// carry no meaning). Dropping them is logged per year.
	Exclude map[string][]string `json:"exclude,omitempty"`

	// Categorical maps category -> column -> allowed-domain rule applied
	// during per-year normalization.
	Categorical map[string]map[string]CategoricalRule `json:"categorical,omitempty"`

	Parser  Parser  `json:"parser"`
	Dates   Dates   `json:"dates"`
	Geo     Geo     `json:"geo"`
	Weather Weather `json:"weather"`

	Views []ViewSpec `json:"views"`

	Storage Storage `json:"storage"`
	Metrics Metrics `json:"metrics"`
	Runtime Runtime `json:"runtime"`
}

type YearRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Category names one entity table family sharded across years.
// PathTemplate must contain a "{year}" placeholder.
type Category struct {
	Name         string `json:"name"`
	PathTemplate string `json:"path_template"`
}

// Path returns the raw input path for one year.
func (c Category) Path(year int) string {
	return strings.ReplaceAll(c.PathTemplate, "{year}", fmt.Sprintf("%d", year))
}

// CategoricalRule constrains a column to a closed value domain.
// Values outside the domain (and blanks) are replaced with Fallback and
// counted, never dropped.
type CategoricalRule struct {
	Valid    []string `json:"valid"`
	Fallback string   `json:"fallback"`
}

type Parser struct {
	Kind    string  `json:"kind"`
	Options Options `json:"options,omitempty"`
}

// Dates configures date reconstruction for the primary table.
type Dates struct {
	YearColumn    string `json:"year_column"`
	MonthColumn   string `json:"month_column"`
	DayColumn     string `json:"day_column,omitempty"`
	WeekdayColumn string `json:"weekday_column,omitempty"`

	// MinYear/MaxYear bound the sane historical range. Values outside are
	// rejected per row, not coerced.
	MinYear int `json:"min_year,omitempty"`
	MaxYear int `json:"max_year,omitempty"`
}

// Geo configures coordinate and jurisdiction quality annotation.
type Geo struct {
	LatColumn string `json:"lat_column"`
	LonColumn string `json:"lon_column"`
	Bounds    Bounds `json:"bounds"`

	// MinDecimalPlaces is the precision floor below which in-bounds
	// coordinates are flagged low_precision.
	MinDecimalPlaces int `json:"min_decimal_places,omitempty"`

	CountyColumn string `json:"county_column,omitempty"`
	// ExpectedCounty is the area code the bounding box implies, NOT the
	// code the source declares. Rows with in-bounds coordinates whose
	// declared code differs are flagged as jurisdiction mismatches.
	ExpectedCounty string `json:"expected_county,omitempty"`
}

type Bounds struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// Weather configures the daily series input and join column.
type Weather struct {
	Path string `json:"path"`
	// Kind selects the series parser: "csv" (default) or "json".
	Kind       string  `json:"kind,omitempty"`
	Options    Options `json:"options,omitempty"`
	DateColumn string  `json:"date_column,omitempty"`
}

// ViewSpec names one derived output view.
//
// Subset, when present, is the one legitimate row-excluding operation in the
// system; everything upstream annotates without filtering.
type ViewSpec struct {
	Name       string          `json:"name"`
	Subset     *SubsetSpec     `json:"subset,omitempty"`
	Satellites []SatelliteJoin `json:"satellites,omitempty"`
}

// SubsetSpec keeps a primary row when the named satellite has at least one
// matching row, or when a primary count column exceeds zero. Exactly one of
// the two predicates must be set.
type SubsetSpec struct {
	RequireSatellite string `json:"require_satellite,omitempty"`
	CountColumn      string `json:"count_column,omitempty"`
}

// SatelliteJoin attaches one satellite table to a view.
//
// Mode:
//   - "one":       one-to-zero-or-one left join; primary row count preserved.
//   - "explode":   one-to-many join; one output row per match, unmatched
//     primary rows kept with nulls.
//   - "aggregate": one-to-many collapsed to one row per key; each listed
//     column becomes a sorted, de-duplicated comma-joined list.
type SatelliteJoin struct {
	Table   string   `json:"table"`
	Mode    string   `json:"mode"`
	Columns []string `json:"columns,omitempty"`
}

type Storage struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

type Metrics struct {
	// Backend: "datadog" or "" (disabled).
	Backend      string   `json:"backend,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	FlushSeconds int      `json:"flush_seconds,omitempty"`
}

// Runtime controls execution behavior, mirroring the per-year parallelism
// the harmonizer supports.
type Runtime struct {
	YearWorkers   int `json:"year_workers"`
	ChannelBuffer int `json:"channel_buffer"`
}

// Load reads and validates a pipeline config from a JSON file.
func Load(path string) (Pipeline, error) {
	var cfg Pipeline
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (p *Pipeline) applyDefaults() {
	if p.Parser.Kind == "" {
		p.Parser.Kind = "csv"
	}
	if p.Dates.MinYear == 0 {
		p.Dates.MinYear = 1990
	}
	if p.Dates.MaxYear == 0 {
		p.Dates.MaxYear = 2035
	}
	if p.Geo.MinDecimalPlaces == 0 {
		p.Geo.MinDecimalPlaces = 4
	}
	if p.Weather.Kind == "" {
		p.Weather.Kind = "csv"
	}
	if p.Weather.DateColumn == "" {
		p.Weather.DateColumn = "DATE"
	}
	if p.Runtime.YearWorkers <= 0 {
		p.Runtime.YearWorkers = 4
	}
	if p.Runtime.ChannelBuffer <= 0 {
		p.Runtime.ChannelBuffer = 256
	}
}

// Validate performs the startup-fatal checks. Anything it rejects means the
// pipeline could not correctly interpret its inputs at all.
func (p *Pipeline) Validate() error {
	if p.Years.Start == 0 || p.Years.End == 0 || p.Years.Start > p.Years.End {
		return fmt.Errorf("config: years.start..years.end must be a non-empty range, got %d..%d", p.Years.Start, p.Years.End)
	}
	if len(p.Categories) == 0 {
		return fmt.Errorf("config: categories must not be empty")
	}
	names := make(map[string]bool, len(p.Categories))
	for _, c := range p.Categories {
		if c.Name == "" || c.PathTemplate == "" {
			return fmt.Errorf("config: category name and path_template are required")
		}
		if !strings.Contains(c.PathTemplate, "{year}") {
			return fmt.Errorf("config: category %s path_template missing {year} placeholder", c.Name)
		}
		if names[c.Name] {
			return fmt.Errorf("config: duplicate category %s", c.Name)
		}
		names[c.Name] = true
	}
	if p.Primary == "" || !names[p.Primary] {
		return fmt.Errorf("config: primary must name a configured category, got %q", p.Primary)
	}
	if p.Key == "" {
		return fmt.Errorf("config: key is required")
	}
	for cat := range p.Renames {
		if !names[cat] {
			return fmt.Errorf("config: renames reference unknown category %s", cat)
		}
	}
	if p.Parser.Kind != "csv" {
		return fmt.Errorf("config: parser.kind must be csv, got %q", p.Parser.Kind)
	}
	if p.Dates.YearColumn == "" || p.Dates.MonthColumn == "" {
		return fmt.Errorf("config: dates.year_column and dates.month_column are required")
	}
	if p.Dates.MinYear >= p.Dates.MaxYear {
		return fmt.Errorf("config: dates.min_year must be below dates.max_year")
	}
	if p.Geo.LatColumn == "" || p.Geo.LonColumn == "" {
		return fmt.Errorf("config: geo.lat_column and geo.lon_column are required")
	}
	b := p.Geo.Bounds
	if b.LatMin >= b.LatMax || b.LonMin >= b.LonMax {
		return fmt.Errorf("config: geo.bounds malformed: lat %v..%v lon %v..%v", b.LatMin, b.LatMax, b.LonMin, b.LonMax)
	}
	if p.Weather.Path != "" && p.Weather.Kind != "csv" && p.Weather.Kind != "json" {
		return fmt.Errorf("config: weather.kind must be csv or json, got %q", p.Weather.Kind)
	}
	viewNames := map[string]bool{}
	for _, v := range p.Views {
		if v.Name == "" {
			return fmt.Errorf("config: view name is required")
		}
		if viewNames[v.Name] {
			return fmt.Errorf("config: duplicate view %s", v.Name)
		}
		viewNames[v.Name] = true
		if v.Subset != nil {
			hasSat := v.Subset.RequireSatellite != ""
			hasCount := v.Subset.CountColumn != ""
			if hasSat == hasCount {
				return fmt.Errorf("config: view %s subset must set exactly one of require_satellite or count_column", v.Name)
			}
			if hasSat && !names[v.Subset.RequireSatellite] {
				return fmt.Errorf("config: view %s subset references unknown category %s", v.Name, v.Subset.RequireSatellite)
			}
		}
		for _, s := range v.Satellites {
			if !names[s.Table] {
				return fmt.Errorf("config: view %s references unknown satellite %s", v.Name, s.Table)
			}
			switch s.Mode {
			case "one", "explode":
			case "aggregate":
				if len(s.Columns) == 0 {
					return fmt.Errorf("config: view %s aggregate join on %s requires columns", v.Name, s.Table)
				}
			default:
				return fmt.Errorf("config: view %s satellite %s has unknown mode %q", v.Name, s.Table, s.Mode)
			}
		}
	}
	if p.Storage.Kind == "" {
		return fmt.Errorf("config: storage.kind must be set")
	}
	return nil
}
