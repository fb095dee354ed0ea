// Package harmonize unifies N annually-shaped tables of one entity category
// into a single table under a master (superset) schema.
//
// Harmonization is a two-phase process: rename resolution first, then a
// column union over every year's fingerprint. Doing renames before the
// union makes the union commutative in year order and guarantees a renamed
// column never appears twice in the master schema.
package harmonize

import (
	"fmt"
	"sort"
	"strings"

	"collision/internal/profile"
)

// SourceYearColumn is appended to every harmonized table.
const SourceYearColumn = "SOURCE_YEAR"

// Conflict records a cross-year type disagreement for one canonical column,
// kept for the run's audit trail.
type Conflict struct {
	Column   string   `json:"column"`
	Types    []string `json:"types"`
	Resolved string   `json:"resolved"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Column, strings.Join(c.Types, "|"), c.Resolved)
}

// MasterSchema is the frozen union of every column ever observed for one
// entity category, under canonical naming. It is built once per run, before
// any year is normalized, and never mutated afterwards.
type MasterSchema struct {
	Category string
	Columns  []profile.Column
	// Renames maps historical column names to canonical names.
	Renames map[string]string
	// Excluded columns are dropped from every year, by configuration.
	Excluded map[string]bool
	// Conflicts lists the type disagreements resolved by widening.
	Conflicts []Conflict

	index map[string]int
}

// ColumnNames returns the canonical column order.
func (m *MasterSchema) ColumnNames() []string {
	out := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		out[i] = c.Name
	}
	return out
}

// Has reports whether the canonical column exists in the master schema.
func (m *MasterSchema) Has(name string) bool {
	_, ok := m.index[name]
	return ok
}

// Type returns the canonical type for a column, or "text".
func (m *MasterSchema) Type(name string) string {
	if i, ok := m.index[name]; ok {
		return m.Columns[i].Type
	}
	return "text"
}

// canonical applies the rename table to one historical column name.
func (m *MasterSchema) canonical(name string) string {
	if c, ok := m.Renames[name]; ok {
		return c
	}
	return name
}

// widen resolves a type disagreement. Integer and float widen to float;
// any other combination widens to text so no value representation is lost.
func widen(a, b string) string {
	if a == b {
		return a
	}
	if (a == "integer" && b == "float") || (a == "float" && b == "integer") {
		return "float"
	}
	return "text"
}

// BuildMasterSchema constructs the frozen master schema for one category.
//
// The most recent available year is the structural baseline; every column
// seen in any other year (after rename resolution) that is not already
// present is unioned in, in ascending year order. Type conflicts widen and
// are recorded, never raised.
//
// It returns an error only for configuration faults: a rename whose source
// column appears in no fingerprint means the pipeline cannot correctly
// interpret its inputs, which is fatal at startup.
func BuildMasterSchema(category string, fps []profile.Fingerprint, renames map[string]string, exclude []string) (*MasterSchema, error) {
	ms := &MasterSchema{
		Category: category,
		Renames:  map[string]string{},
		Excluded: map[string]bool{},
		index:    map[string]int{},
	}
	for k, v := range renames {
		ms.Renames[k] = v
	}
	for _, c := range exclude {
		ms.Excluded[c] = true
	}

	avail := make([]profile.Fingerprint, 0, len(fps))
	for _, fp := range fps {
		if !fp.Unavailable {
			avail = append(avail, fp)
		}
	}
	if len(avail) == 0 {
		// Every year degraded; the harmonized table will be empty.
		return ms, nil
	}
	sort.Slice(avail, func(i, j int) bool { return avail[i].Year < avail[j].Year })

	// Fatal config check: every rename source must exist somewhere.
	for src := range ms.Renames {
		found := false
		for _, fp := range avail {
			if fp.Col(src) != "" {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("harmonize %s: rename source column %q absent from every year's fingerprint", category, src)
		}
	}

	add := func(name, typ string) {
		if ms.Excluded[name] {
			return
		}
		if i, ok := ms.index[name]; ok {
			prev := ms.Columns[i].Type
			if prev != typ {
				resolved := widen(prev, typ)
				ms.Columns[i].Type = resolved
				ms.recordConflict(name, prev, typ, resolved)
			}
			return
		}
		ms.index[name] = len(ms.Columns)
		ms.Columns = append(ms.Columns, profile.Column{Name: name, Type: typ})
	}

	// Baseline: the most recent available year sets the leading column order.
	baseline := avail[len(avail)-1]
	for _, c := range baseline.Columns {
		add(ms.canonical(c.Name), c.Type)
	}

	// Union in everything else, oldest first.
	for _, fp := range avail {
		for _, c := range fp.Columns {
			add(ms.canonical(c.Name), c.Type)
		}
	}
	return ms, nil
}

func (ms *MasterSchema) recordConflict(col, a, b, resolved string) {
	for i := range ms.Conflicts {
		if ms.Conflicts[i].Column == col {
			ms.Conflicts[i].Types = appendUnique(ms.Conflicts[i].Types, b)
			ms.Conflicts[i].Resolved = resolved
			return
		}
	}
	ms.Conflicts = append(ms.Conflicts, Conflict{Column: col, Types: []string{a, b}, Resolved: resolved})
}

func appendUnique(ss []string, s string) []string {
	for _, v := range ss {
		if v == s {
			return ss
		}
	}
	return append(ss, s)
}
