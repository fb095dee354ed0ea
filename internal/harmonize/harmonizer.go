package harmonize

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"collision/internal/config"
	csvp "collision/internal/parser/csv"
	"collision/internal/profile"
	"collision/internal/source"
	"collision/internal/table"
)

// Logger is the minimal logging interface used by the harmonizer.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Stats accounts for everything the harmonizer absorbed instead of raising:
// skipped years, dropped transient columns, cast failures, categorical
// fixups. These feed the per-run summary.
type Stats struct {
	RowsPerYear      map[int]int         `json:"rows_per_year"`
	TotalRows        int                 `json:"total_rows"`
	SkippedYears     []int               `json:"skipped_years,omitempty"`
	DroppedColumns   map[int][]string    `json:"dropped_columns,omitempty"`
	TypeConflicts    []Conflict          `json:"type_conflicts,omitempty"`
	CastFailures     int                 `json:"cast_failures,omitempty"`
	ParseErrors      int                 `json:"parse_errors,omitempty"`
	CategoricalFixes map[string]int      `json:"categorical_fixes,omitempty"`
}

// Harmonizer normalizes each year of one entity category against a frozen
// MasterSchema and concatenates the results.
//
// Per-year normalization is independent once the master schema exists, so
// years are processed by Workers goroutines; the final concatenation and
// sort restore determinism regardless of completion order.
type Harmonizer struct {
	Parser      config.Parser
	Key         string
	Workers     int
	ChannelBuf  int
	Categorical map[string]config.CategoricalRule
	Logger      Logger
}

func (h *Harmonizer) logf(format string, v ...any) {
	if h.Logger != nil {
		h.Logger.Printf(format, v...)
	}
}

type yearResult struct {
	year      int
	rows      [][]any
	dropped   []string
	castErrs  int
	parseErrs int
	catFixes  map[string]int
	err       error
}

// Harmonize builds the master schema from the fingerprints and unifies all
// available years into one table.
//
// Guarantees:
//   - output row count = Σ input row counts across available years;
//   - output columns = master schema columns + SOURCE_YEAR, in canonical order;
//   - rows ordered by (key, SOURCE_YEAR), stable and deterministic.
//
// A year whose source fails to open contributes zero rows (the run's only
// failure-isolation mechanism); only configuration faults from the master
// schema build are returned as errors.
func (h *Harmonizer) Harmonize(
	ctx context.Context,
	category string,
	fps []profile.Fingerprint,
	renames map[string]string,
	exclude []string,
	open func(year int) source.Source,
) (*table.Table, *MasterSchema, Stats, error) {
	stats := Stats{
		RowsPerYear:      map[int]int{},
		DroppedColumns:   map[int][]string{},
		CategoricalFixes: map[string]int{},
	}

	ms, err := BuildMasterSchema(category, fps, renames, exclude)
	if err != nil {
		return nil, nil, stats, err
	}
	stats.TypeConflicts = ms.Conflicts
	for _, c := range ms.Conflicts {
		h.logf("stage=master_schema category=%s conflict column=%s types=%s resolved=%s",
			category, c.Column, strings.Join(c.Types, "|"), c.Resolved)
	}

	columns := ms.ColumnNames()
	out := table.New(append(append([]string(nil), columns...), SourceYearColumn))

	avail := make([]profile.Fingerprint, 0, len(fps))
	for _, fp := range fps {
		if fp.Unavailable {
			stats.SkippedYears = append(stats.SkippedYears, fp.Year)
			h.logf("stage=normalize category=%s year=%d skipped reason=%q", category, fp.Year, fp.Reason)
			continue
		}
		avail = append(avail, fp)
	}
	sort.Ints(stats.SkippedYears)
	if len(avail) == 0 {
		return out, ms, stats, nil
	}
	sort.Slice(avail, func(i, j int) bool { return avail[i].Year < avail[j].Year })

	workers := h.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(avail) {
		workers = len(avail)
	}

	jobs := make(chan profile.Fingerprint)
	results := make(chan yearResult, len(avail))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for fp := range jobs {
				results <- h.normalizeYear(ctx, ms, columns, fp, open(fp.Year))
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, fp := range avail {
			select {
			case jobs <- fp:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	byYear := make(map[int]yearResult, len(avail))
	for res := range results {
		byYear[res.year] = res
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, stats, err
	}

	// Concatenate in year order; skip years that degraded at open time.
	for _, fp := range avail {
		res := byYear[fp.Year]
		if res.err != nil {
			stats.SkippedYears = append(stats.SkippedYears, fp.Year)
			h.logf("stage=normalize category=%s year=%d skipped reason=%q", category, fp.Year, res.err)
			continue
		}
		if len(res.dropped) > 0 {
			stats.DroppedColumns[fp.Year] = res.dropped
			h.logf("stage=normalize category=%s year=%d dropped_columns=%s", category, fp.Year, strings.Join(res.dropped, ","))
		}
		stats.CastFailures += res.castErrs
		stats.ParseErrors += res.parseErrs
		for col, n := range res.catFixes {
			stats.CategoricalFixes[col] += n
		}
		stats.RowsPerYear[fp.Year] = len(res.rows)
		stats.TotalRows += len(res.rows)
		out.Rows = append(out.Rows, res.rows...)
	}
	sort.Ints(stats.SkippedYears)

	out.SortRows(h.Key, SourceYearColumn)
	h.logf("stage=harmonize category=%s ok rows=%d columns=%d years=%d", category, out.NumRows(), len(out.Columns), len(stats.RowsPerYear))
	return out, ms, stats, nil
}

// normalizeYear streams one year's file aligned to the master columns,
// casts cells to the master types, and applies categorical rules. The rename
// table is passed to the reader as its header map so historical names land
// in their canonical slots.
func (h *Harmonizer) normalizeYear(
	ctx context.Context,
	ms *MasterSchema,
	columns []string,
	fp profile.Fingerprint,
	src source.Source,
) yearResult {
	res := yearResult{year: fp.Year, catFixes: map[string]int{}}

	// Columns this year carries that the master schema excludes.
	for _, c := range fp.Columns {
		name := ms.canonical(c.Name)
		if !ms.Has(name) {
			res.dropped = append(res.dropped, c.Name)
		}
	}
	sort.Strings(res.dropped)

	rc, err := src.Open(ctx)
	if err != nil {
		res.err = fmt.Errorf("open %s: %w", src.Name(), err)
		return res
	}

	opts := config.Options{}
	for k, v := range h.Parser.Options {
		opts[k] = v
	}
	hm := map[string]string{}
	for k, v := range ms.Renames {
		hm[k] = v
	}
	opts["header_map"] = hm

	types := make([]string, len(columns))
	catRules := make([]*config.CategoricalRule, len(columns))
	for i, col := range columns {
		types[i] = ms.Type(col)
		if rule, ok := h.Categorical[col]; ok {
			r := rule
			catRules[i] = &r
		}
	}

	buf := h.ChannelBuf
	if buf <= 0 {
		buf = 256
	}
	rowCh := make(chan *table.Row, buf)

	streamErr := make(chan error, 1)
	go func() {
		defer close(rowCh)
		streamErr <- csvp.StreamRows(ctx, rc, columns, opts, rowCh, func(line int, err error) {
			res.parseErrs++
			h.logf("stage=normalize category=%s year=%d line=%d parse_error=%q", ms.Category, fp.Year, line, err)
		})
	}()

	width := len(columns) + 1 // + SOURCE_YEAR
	for row := range rowCh {
		vals := make([]any, width)
		for i := range columns {
			v, ok := castCell(row.V[i], types[i])
			if !ok {
				res.castErrs++
			}
			if catRules[i] != nil {
				var fixed bool
				v, fixed = applyCategorical(v, *catRules[i])
				if fixed {
					res.catFixes[columns[i]]++
				}
			}
			vals[i] = v
		}
		vals[width-1] = int64(fp.Year)
		res.rows = append(res.rows, vals)
		row.Free()
	}
	if err := <-streamErr; err != nil && err != context.Canceled {
		// Header read failures leave zero rows; treat as a degraded year.
		if len(res.rows) == 0 {
			res.err = fmt.Errorf("stream %s: %w", src.Name(), err)
		}
	}
	return res
}

// castCell converts a raw string cell to the master type. A value that
// cannot be represented in the declared type keeps its string form (no
// information is discarded); the failure is counted for the audit trail.
func castCell(v any, typ string) (any, bool) {
	if v == nil {
		return nil, true
	}
	s, isStr := v.(string)
	if !isStr {
		return v, true
	}
	switch typ {
	case "integer":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		return s, false
	case "float":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		return s, false
	default:
		return s, true
	}
}

// applyCategorical clamps a value to the rule's closed domain. Blanks and
// out-of-domain values become the fallback and are counted, never dropped.
func applyCategorical(v any, rule config.CategoricalRule) (any, bool) {
	s := strings.ToUpper(strings.TrimSpace(table.NormalizeKey(v)))
	for _, valid := range rule.Valid {
		if s == valid {
			if raw, ok := v.(string); ok && raw == s {
				return v, false
			}
			return s, v != any(s)
		}
	}
	return rule.Fallback, true
}
