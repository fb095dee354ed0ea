// Package pipeline orchestrates a full curation run: profile the raw year
// shards, harmonize each category, annotate the primary table (dates, geo,
// weather), assemble the configured views, and persist everything through a
// storage backend.
//
// The run is annotate-then-assemble: every quality judgment upstream of the
// view layer is an appended flag, never a dropped row, so the curated
// outputs stay auditable against the raw inputs.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"collision/internal/assemble"
	"collision/internal/config"
	"collision/internal/geo"
	"collision/internal/harmonize"
	"collision/internal/metrics"
	"collision/internal/profile"
	"collision/internal/reconstruct"
	"collision/internal/source"
	"collision/internal/storage"
	"collision/internal/summary"
	"collision/internal/table"
	"collision/internal/weather"
)

// Logger is the minimal logging interface the runner needs. *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Runner executes one configured curation run.
//
// The factory fields are seams: production uses the defaults from
// NewDefaultRunner, tests swap in fakes without touching the run logic.
type Runner struct {
	Logger Logger

	// NewRepository builds the storage backend. Empty Storage.Kind skips
	// persistence entirely (dry runs, tests).
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	// OpenSource resolves one (category, year) shard. The default reads
	// the category's path template from the local filesystem.
	OpenSource func(cat config.Category, year int) source.Source

	// OpenWeather resolves the daily series input.
	OpenWeather func(cfg config.Weather) source.Source
}

// NewDefaultRunner returns a Runner wired for production use.
func NewDefaultRunner(logger Logger) *Runner {
	return &Runner{
		Logger: logger,
		NewRepository: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
			return storage.New(ctx, cfg)
		},
		OpenSource: func(cat config.Category, year int) source.Source {
			return source.NewLocal(cat.Path(year))
		},
		OpenWeather: func(cfg config.Weather) source.Source {
			return source.NewLocal(cfg.Path)
		},
	}
}

func (r *Runner) logf(format string, v ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, v...)
	}
}

// Result carries the run's outputs for callers that want more than the
// persisted tables (tests, the summary printer).
type Result struct {
	Primary *table.Table
	Tables  map[string]*table.Table
	Views   []*assemble.View
	Report  *summary.Report
}

// Run executes the whole pipeline. It returns an error only for
// configuration faults and storage failures; degraded inputs (missing
// years, unparsable rows, invalid dates or coordinates) are absorbed into
// flags and counters.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) (*Result, error) {
	report := summary.New(cfg.Job)
	res := &Result{Tables: map[string]*table.Table{}, Report: report}

	schemas := make(map[string]*harmonize.MasterSchema, len(cfg.Categories))

	// Profile + harmonize every category. The primary is a category like
	// any other at this stage.
	for _, cat := range cfg.Categories {
		start := time.Now()
		fps := r.profileCategory(ctx, cfg, cat)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h := &harmonize.Harmonizer{
			Parser:      cfg.Parser,
			Key:         cfg.Key,
			Workers:     cfg.Runtime.YearWorkers,
			ChannelBuf:  cfg.Runtime.ChannelBuffer,
			Categorical: cfg.Categorical[cat.Name],
			Logger:      r.Logger,
		}
		t, ms, stats, err := h.Harmonize(ctx, cat.Name, fps, cfg.Renames[cat.Name], cfg.Exclude[cat.Name], func(year int) source.Source {
			return r.OpenSource(cat, year)
		})
		if err != nil {
			return nil, fmt.Errorf("harmonize %s: %w", cat.Name, err)
		}
		res.Tables[cat.Name] = t
		schemas[cat.Name] = ms
		report.AddCategory(cat.Name, len(t.Columns), stats)
		metrics.IncCounter(metricRows, float64(stats.TotalRows), metrics.Labels{"kind": cat.Name})
		r.stageDone("harmonize_"+cat.Name, start)
	}

	primary, ok := res.Tables[cfg.Primary]
	if !ok {
		return nil, fmt.Errorf("primary category %s not harmonized", cfg.Primary)
	}

	// Date reconstruction.
	start := time.Now()
	primary, dateStats := reconstruct.Annotate(primary, cfg.Dates)
	report.SetDates(dateStats)
	for m, n := range dateStats.ByMethod {
		metrics.IncCounter(metricDateMethod, float64(n), metrics.Labels{"method": string(m)})
	}
	r.logf("stage=reconstruct ok rows=%d invalid=%d", dateStats.Total, dateStats.Invalid)
	r.stageDone("reconstruct", start)

	// Geo quality flags.
	start = time.Now()
	primary, geoStats := geo.Annotate(primary, cfg.Geo)
	report.SetGeo(geoStats)
	for q, n := range geoStats.ByCoordQuality {
		metrics.IncCounter(metricCoordQuality, float64(n), metrics.Labels{"quality": string(q)})
	}
	r.logf("stage=geo ok rows=%d mismatches=%d", geoStats.Total, geoStats.Mismatches)
	r.stageDone("geo", start)

	// Weather join, when a series is configured.
	if cfg.Weather.Path != "" {
		start = time.Now()
		series, err := weather.LoadSeries(ctx, r.OpenWeather(cfg.Weather), cfg.Weather)
		if err != nil {
			return nil, fmt.Errorf("weather series: %w", err)
		}
		var wStats weather.Stats
		primary, wStats = weather.Join(primary, reconstruct.DateColumn, series)
		report.SetWeather(wStats)
		r.logf("stage=weather ok rows=%d matched=%d unmatched=%d match_rate=%.4f",
			wStats.Total, wStats.Matched, wStats.Unmatched, wStats.MatchRate)
		r.stageDone("weather", start)
	}

	res.Primary = primary
	res.Tables[cfg.Primary] = primary

	// Assemble views. Satellites are every harmonized category except the
	// primary.
	satellites := make(map[string]*table.Table, len(res.Tables))
	for name, t := range res.Tables {
		if name != cfg.Primary {
			satellites[name] = t
		}
	}
	for _, vs := range cfg.Views {
		start = time.Now()
		v, err := assemble.Assemble(vs, primary, satellites, cfg.Key)
		if err != nil {
			return nil, err
		}
		res.Views = append(res.Views, v)
		report.AddView(summary.ViewReport{
			Name:           v.Name,
			Cardinality:    v.Cardinality,
			Rows:           v.Table.NumRows(),
			Columns:        len(v.Table.Columns),
			SubsetExcluded: v.SubsetExcluded,
		})
		metrics.IncCounter(metricRows, float64(v.Table.NumRows()), metrics.Labels{"kind": "view_" + v.Name})
		r.logf("stage=assemble view=%s ok rows=%d cardinality=%s excluded=%d",
			v.Name, v.Table.NumRows(), v.Cardinality, v.SubsetExcluded)
		r.stageDone("assemble_"+v.Name, start)
	}

	if cfg.Storage.Kind != "" {
		if err := r.persist(ctx, cfg, res, schemas); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// persist writes the annotated primary, each satellite, and each view.
func (r *Runner) persist(ctx context.Context, cfg config.Pipeline, res *Result, schemas map[string]*harmonize.MasterSchema) error {
	start := time.Now()
	repo, err := r.NewRepository(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer repo.Close()

	write := func(name string, t *table.Table, ms *harmonize.MasterSchema) error {
		spec := tableSpec(name, t, ms)
		if err := repo.ReplaceTable(ctx, spec, t.Rows); err != nil {
			return fmt.Errorf("persist %s: %w", name, err)
		}
		r.logf("stage=persist table=%s ok rows=%d", name, t.NumRows())
		return nil
	}

	if err := write(cfg.Primary, res.Primary, schemas[cfg.Primary]); err != nil {
		return err
	}
	for _, cat := range cfg.Categories {
		if cat.Name == cfg.Primary {
			continue
		}
		if err := write(cat.Name, res.Tables[cat.Name], schemas[cat.Name]); err != nil {
			return err
		}
	}
	for _, v := range res.Views {
		if err := write(v.Name, v.Table, schemas[cfg.Primary]); err != nil {
			return err
		}
	}
	r.stageDone("persist", start)
	return nil
}

// tableSpec derives DDL column types from the master schema where a column
// is known to it, and from cell inspection for appended columns.
func tableSpec(name string, t *table.Table, ms *harmonize.MasterSchema) storage.TableSpec {
	spec := storage.TableSpec{Name: name, Columns: make([]storage.ColumnSpec, len(t.Columns))}
	for i, col := range t.Columns {
		typ := ""
		if ms != nil && ms.Has(col) {
			typ = ms.Type(col)
		} else {
			typ = inferColumnType(t, i, col)
		}
		spec.Columns[i] = storage.ColumnSpec{Name: col, Type: typ}
	}
	return spec
}

func inferColumnType(t *table.Table, col int, name string) string {
	if name == reconstruct.DateColumn || name == weather.ColDate {
		return "date"
	}
	for r := range t.Rows {
		switch v := t.Get(r, col).(type) {
		case nil:
			continue
		case int64, int:
			return "integer"
		case float64:
			return "float"
		case string:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return "text"
			}
			// Numeric-looking strings stay text: a cast already failed
			// upstream or the column is genuinely mixed.
			return "text"
		default:
			return "text"
		}
	}
	return "text"
}

const (
	metricStage        = "curate_stage_total"
	metricRows         = "curate_rows_total"
	metricDateMethod   = "curate_date_methods_total"
	metricCoordQuality = "curate_coord_quality_total"
	metricStageDur     = "curate_stage_duration_seconds"
)

func (r *Runner) stageDone(stage string, start time.Time) {
	d := time.Since(start)
	metrics.IncCounter(metricStage, 1, metrics.Labels{"stage": stage, "status": "ok"})
	metrics.ObserveHistogram(metricStageDur, d.Seconds(), metrics.Labels{"stage": stage, "status": "ok"})
}

// profileCategory fingerprints every configured year of one category.
// Profiling never fails; unreadable years come back marked unavailable and
// the harmonizer skips them.
func (r *Runner) profileCategory(ctx context.Context, cfg config.Pipeline, cat config.Category) []profile.Fingerprint {
	fps := make([]profile.Fingerprint, 0, cfg.Years.End-cfg.Years.Start+1)
	for year := cfg.Years.Start; year <= cfg.Years.End; year++ {
		fp := profile.File(ctx, r.OpenSource(cat, year), year, cat.Name, cfg.Parser.Options)
		if fp.Unavailable {
			r.logf("stage=profile category=%s year=%d unavailable reason=%q", cat.Name, year, fp.Reason)
		}
		fps = append(fps, fp)
	}
	return fps
}
