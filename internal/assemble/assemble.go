// Package assemble builds named, purpose-specific views by joining the
// fully-annotated primary table with per-entity satellite tables on the
// shared key.
//
// Every view carries an explicit cardinality contract. A one-to-many
// satellite is either exploded (one output row per match) or pre-aggregated
// (sorted, de-duplicated value lists, one output row per key). It is never
// silently collapsed to an arbitrary match, which would discard
// multiplicity information. Subset views are the single place rows are
// legitimately excluded, and only from a derived view.
package assemble

import (
	"fmt"
	"sort"
	"strings"

	"collision/internal/config"
	"collision/internal/table"
)

// Cardinality contracts a consumer can rely on.
const (
	// CardinalityOneRowPerKey: view row count equals the (possibly
	// subset) primary row count.
	CardinalityOneRowPerKey = "one_row_per_key"
	// CardinalityOneRowPerMatch: view row count equals the sum over
	// primary rows of max(1, matching satellite rows).
	CardinalityOneRowPerMatch = "one_row_per_match"
)

// AggregateSeparator joins de-duplicated values in an aggregated column.
const AggregateSeparator = ", "

// View is one assembled output table plus its documented contract.
type View struct {
	Name        string
	Cardinality string
	Table       *table.Table

	// PrimaryRows is the primary row count after the subset predicate;
	// with CardinalityOneRowPerKey it equals Table.NumRows().
	PrimaryRows int
	// SubsetExcluded counts rows removed by the view's subset predicate:
	// intentional filtering, distinct from upstream flag-don't-filter.
	SubsetExcluded int
}

// satIndex maps normalized key -> satellite row indexes, in input order.
type satIndex struct {
	t     *table.Table
	keyIx int
	rows  map[string][]int
}

func indexSatellite(t *table.Table, key string) (*satIndex, error) {
	ix := t.ColIndex(key)
	if ix < 0 {
		return nil, fmt.Errorf("assemble: satellite missing key column %s", key)
	}
	s := &satIndex{t: t, keyIx: ix, rows: make(map[string][]int)}
	for r := range t.Rows {
		k := table.NormalizeKey(t.Get(r, ix))
		if k == "" {
			continue
		}
		s.rows[k] = append(s.rows[k], r)
	}
	return s, nil
}

// Assemble builds one view from its spec.
//
// The subset predicate (when present) runs first; satellite joins apply in
// spec order. An "explode" join switches the view to one-row-per-match; all
// other modes preserve one row per key.
func Assemble(spec config.ViewSpec, primary *table.Table, satellites map[string]*table.Table, key string) (*View, error) {
	keyIx := primary.ColIndex(key)
	if keyIx < 0 {
		return nil, fmt.Errorf("assemble %s: primary missing key column %s", spec.Name, key)
	}

	indexes := make(map[string]*satIndex, len(spec.Satellites))
	for _, sj := range spec.Satellites {
		sat, ok := satellites[sj.Table]
		if !ok {
			return nil, fmt.Errorf("assemble %s: satellite table %s not provided", spec.Name, sj.Table)
		}
		ix, err := indexSatellite(sat, key)
		if err != nil {
			return nil, fmt.Errorf("assemble %s: %w", spec.Name, err)
		}
		indexes[sj.Table] = ix
	}

	view := &View{Name: spec.Name, Cardinality: CardinalityOneRowPerKey}

	// Subset predicate: the one legitimate row exclusion.
	work := primary
	if spec.Subset != nil {
		var err error
		var excluded int
		work, excluded, err = applySubset(spec, primary, satellites, key, keyIx)
		if err != nil {
			return nil, err
		}
		view.SubsetExcluded = excluded
	}
	view.PrimaryRows = work.NumRows()

	out := work
	for _, sj := range spec.Satellites {
		var err error
		switch sj.Mode {
		case "one":
			out, err = joinOne(spec.Name, out, indexes[sj.Table], sj.Table, key, keyIx)
		case "explode":
			out, err = joinExplode(spec.Name, out, indexes[sj.Table], sj.Table, key, keyIx)
			view.Cardinality = CardinalityOneRowPerMatch
		case "aggregate":
			out, err = joinAggregate(spec.Name, out, indexes[sj.Table], sj, keyIx)
		default:
			err = fmt.Errorf("assemble %s: unknown join mode %q", spec.Name, sj.Mode)
		}
		if err != nil {
			return nil, err
		}
		// The key column's position is stable across join projections.
		keyIx = out.ColIndex(key)
	}

	view.Table = out
	return view, nil
}

// applySubset keeps primary rows matching the view's inclusion predicate.
func applySubset(spec config.ViewSpec, primary *table.Table, satellites map[string]*table.Table, key string, keyIx int) (*table.Table, int, error) {
	sub := spec.Subset

	var keep func(r int) bool
	switch {
	case sub.RequireSatellite != "":
		sat, ok := satellites[sub.RequireSatellite]
		if !ok {
			return nil, 0, fmt.Errorf("assemble %s: subset satellite %s not provided", spec.Name, sub.RequireSatellite)
		}
		ix, err := indexSatellite(sat, key)
		if err != nil {
			return nil, 0, fmt.Errorf("assemble %s: %w", spec.Name, err)
		}
		keep = func(r int) bool {
			k := table.NormalizeKey(primary.Get(r, keyIx))
			return k != "" && len(ix.rows[k]) > 0
		}
	case sub.CountColumn != "":
		cix := primary.ColIndex(sub.CountColumn)
		if cix < 0 {
			return nil, 0, fmt.Errorf("assemble %s: subset count column %s not in primary", spec.Name, sub.CountColumn)
		}
		keep = func(r int) bool {
			return cellNumber(primary.Get(r, cix)) > 0
		}
	default:
		return nil, 0, fmt.Errorf("assemble %s: empty subset predicate", spec.Name)
	}

	out := table.New(primary.Columns)
	excluded := 0
	for r := range primary.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, primary.Rows[r])
		} else {
			excluded++
		}
	}
	return out, excluded, nil
}

// satelliteCarryColumns lists the satellite columns carried into a joined
// view: everything except the shared key, prefixed with the satellite name
// to keep view columns unambiguous.
func satelliteCarryColumns(s *satIndex, satName string) (ixs []int, names []string) {
	for i, c := range s.t.Columns {
		if i == s.keyIx {
			continue
		}
		ixs = append(ixs, i)
		names = append(names, satName+"_"+c)
	}
	return ixs, names
}

// joinOne is a one-to-zero-or-one preserving left join. When data violates
// the expected uniqueness the first match wins; the contract holds because
// the primary row count never changes.
func joinOne(view string, primary *table.Table, s *satIndex, satName, key string, keyIx int) (*table.Table, error) {
	ixs, names := satelliteCarryColumns(s, satName)

	extra := make([][]any, len(names))
	for i := range extra {
		extra[i] = make([]any, primary.NumRows())
	}
	for r := range primary.Rows {
		k := table.NormalizeKey(primary.Get(r, keyIx))
		matches := s.rows[k]
		if k == "" || len(matches) == 0 {
			continue
		}
		sr := matches[0]
		for i, si := range ixs {
			extra[i][r] = s.t.Get(sr, si)
		}
	}
	return primary.WithColumns(names, extra), nil
}

// joinExplode emits one output row per (primary, satellite match) pair, and
// keeps unmatched primary rows with null satellite cells so no primary row
// is ever lost.
func joinExplode(view string, primary *table.Table, s *satIndex, satName, key string, keyIx int) (*table.Table, error) {
	ixs, names := satelliteCarryColumns(s, satName)

	out := table.New(append(append([]string(nil), primary.Columns...), names...))
	for r := range primary.Rows {
		k := table.NormalizeKey(primary.Get(r, keyIx))
		matches := s.rows[k]
		if k == "" || len(matches) == 0 {
			row := make([]any, 0, len(out.Columns))
			row = append(row, primary.Rows[r]...)
			for range ixs {
				row = append(row, nil)
			}
			out.Rows = append(out.Rows, row)
			continue
		}
		for _, sr := range matches {
			row := make([]any, 0, len(out.Columns))
			row = append(row, primary.Rows[r]...)
			for _, si := range ixs {
				row = append(row, s.t.Get(sr, si))
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// joinAggregate collapses a one-to-many satellite to one row per key: each
// configured column becomes a sorted, de-duplicated list joined with
// AggregateSeparator.
func joinAggregate(view string, primary *table.Table, s *satIndex, sj config.SatelliteJoin, keyIx int) (*table.Table, error) {
	srcIxs := make([]int, len(sj.Columns))
	names := make([]string, len(sj.Columns))
	for i, c := range sj.Columns {
		ix := s.t.ColIndex(c)
		if ix < 0 {
			return nil, fmt.Errorf("assemble %s: aggregate column %s not in satellite %s", view, c, sj.Table)
		}
		srcIxs[i] = ix
		names[i] = sj.Table + "_" + c + "_LIST"
	}

	extra := make([][]any, len(names))
	for i := range extra {
		extra[i] = make([]any, primary.NumRows())
	}
	for r := range primary.Rows {
		k := table.NormalizeKey(primary.Get(r, keyIx))
		matches := s.rows[k]
		if k == "" || len(matches) == 0 {
			continue
		}
		for i, si := range srcIxs {
			extra[i][r] = distinctList(s.t, matches, si)
		}
	}
	return primary.WithColumns(names, extra), nil
}

func distinctList(t *table.Table, rows []int, col int) any {
	seen := map[string]bool{}
	vals := make([]string, 0, len(rows))
	for _, r := range rows {
		v := table.NormalizeKey(t.Get(r, col))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return nil
	}
	sort.Strings(vals)
	return strings.Join(vals, AggregateSeparator)
}

func cellNumber(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	case string:
		var f float64
		_, err := fmt.Sscanf(strings.TrimSpace(t), "%g", &f)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
