package assemble

import (
	"reflect"
	"testing"

	"collision/internal/config"
	"collision/internal/table"
)

func primaryTable() *table.Table {
	t := table.New([]string{"CRN", "BICYCLE_COUNT"})
	t.Append([]any{"A", int64(1)})
	t.Append([]any{"B", int64(0)})
	t.Append([]any{"C", int64(2)})
	return t
}

// cycleTable has 1 row for A, 2 for C, none for B.
func cycleTable() *table.Table {
	t := table.New([]string{"CRN", "HELMET_IND"})
	t.Append([]any{"A", "Y"})
	t.Append([]any{"C", "N"})
	t.Append([]any{"C", "Y"})
	return t
}

func personTable() *table.Table {
	t := table.New([]string{"CRN", "INJ_SEVERITY"})
	t.Append([]any{"A", "1"})
	t.Append([]any{"A", "3"})
	t.Append([]any{"B", "0"})
	t.Append([]any{"B", "0"})
	return t
}

// TestAssembleExplode verifies the one-row-per-match contract: row count is
// the sum over keys of max(1, matches), and unmatched keys survive with
// nulls.
func TestAssembleExplode(t *testing.T) {
	t.Parallel()

	spec := config.ViewSpec{
		Name:       "cyclist_exploded",
		Satellites: []config.SatelliteJoin{{Table: "CYCLE", Mode: "explode"}},
	}
	v, err := Assemble(spec, primaryTable(), map[string]*table.Table{"CYCLE": cycleTable()}, "CRN")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if v.Cardinality != CardinalityOneRowPerMatch {
		t.Fatalf("cardinality = %s", v.Cardinality)
	}
	// A:1 match, B:0 matches (kept), C:2 matches => 4 rows.
	if v.Table.NumRows() != 4 {
		t.Fatalf("rows = %d, want 4", v.Table.NumRows())
	}

	hIx := v.Table.ColIndex("CYCLE_HELMET_IND")
	if hIx < 0 {
		t.Fatalf("columns = %v, want CYCLE_HELMET_IND", v.Table.Columns)
	}
	var got []any
	for r := range v.Table.Rows {
		got = append(got, v.Table.Get(r, hIx))
	}
	want := []any{"Y", nil, "N", "Y"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("helmet cells = %v, want %v", got, want)
	}
}

// TestAssembleAggregate verifies one-row-per-key with sorted de-duplicated
// value lists.
func TestAssembleAggregate(t *testing.T) {
	t.Parallel()

	spec := config.ViewSpec{
		Name: "crash_summary",
		Satellites: []config.SatelliteJoin{
			{Table: "PERSON", Mode: "aggregate", Columns: []string{"INJ_SEVERITY"}},
		},
	}
	v, err := Assemble(spec, primaryTable(), map[string]*table.Table{"PERSON": personTable()}, "CRN")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if v.Cardinality != CardinalityOneRowPerKey {
		t.Fatalf("cardinality = %s", v.Cardinality)
	}
	if v.Table.NumRows() != 3 {
		t.Fatalf("rows = %d, want 3", v.Table.NumRows())
	}

	ix := v.Table.ColIndex("PERSON_INJ_SEVERITY_LIST")
	if ix < 0 {
		t.Fatalf("columns = %v", v.Table.Columns)
	}
	if got := v.Table.Get(0, ix); got != "1, 3" {
		t.Fatalf("A list = %v, want \"1, 3\"", got)
	}
	// B has two identical values: de-duplicated to one.
	if got := v.Table.Get(1, ix); got != "0" {
		t.Fatalf("B list = %v, want \"0\"", got)
	}
	if got := v.Table.Get(2, ix); got != nil {
		t.Fatalf("C list = %v, want nil", got)
	}
}

// TestAssembleOne verifies the one-to-zero-or-one join preserves the
// primary row count and duplicate satellite rows collapse to the first.
func TestAssembleOne(t *testing.T) {
	t.Parallel()

	spec := config.ViewSpec{
		Name:       "with_first_cycle",
		Satellites: []config.SatelliteJoin{{Table: "CYCLE", Mode: "one"}},
	}
	v, err := Assemble(spec, primaryTable(), map[string]*table.Table{"CYCLE": cycleTable()}, "CRN")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if v.Table.NumRows() != 3 {
		t.Fatalf("rows = %d, want 3", v.Table.NumRows())
	}
	ix := v.Table.ColIndex("CYCLE_HELMET_IND")
	if got := v.Table.Get(2, ix); got != "N" {
		t.Fatalf("C first match = %v, want N", got)
	}
}

// TestAssembleSubsetRequireSatellite verifies the membership predicate and
// the exclusion accounting.
func TestAssembleSubsetRequireSatellite(t *testing.T) {
	t.Parallel()

	spec := config.ViewSpec{
		Name:   "cyclist_only",
		Subset: &config.SubsetSpec{RequireSatellite: "CYCLE"},
	}
	v, err := Assemble(spec, primaryTable(), map[string]*table.Table{"CYCLE": cycleTable()}, "CRN")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if v.Table.NumRows() != 2 || v.SubsetExcluded != 1 {
		t.Fatalf("rows = %d excluded = %d, want 2/1", v.Table.NumRows(), v.SubsetExcluded)
	}
}

// TestAssembleSubsetCountColumn verifies the count predicate across cell
// forms.
func TestAssembleSubsetCountColumn(t *testing.T) {
	t.Parallel()

	spec := config.ViewSpec{
		Name:   "bicycle_involved",
		Subset: &config.SubsetSpec{CountColumn: "BICYCLE_COUNT"},
	}
	v, err := Assemble(spec, primaryTable(), nil, "CRN")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if v.Table.NumRows() != 2 || v.SubsetExcluded != 1 {
		t.Fatalf("rows = %d excluded = %d, want 2/1", v.Table.NumRows(), v.SubsetExcluded)
	}
}

// TestAssembleConfigFaults verifies the fatal-misconfiguration paths.
func TestAssembleConfigFaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec config.ViewSpec
	}{
		{"unknown satellite", config.ViewSpec{Name: "v", Satellites: []config.SatelliteJoin{{Table: "GHOST", Mode: "one"}}}},
		{"unknown mode", config.ViewSpec{Name: "v", Satellites: []config.SatelliteJoin{{Table: "CYCLE", Mode: "zip"}}}},
		{"aggregate column missing", config.ViewSpec{Name: "v", Satellites: []config.SatelliteJoin{{Table: "CYCLE", Mode: "aggregate", Columns: []string{"NOPE"}}}}},
		{"subset count column missing", config.ViewSpec{Name: "v", Subset: &config.SubsetSpec{CountColumn: "NOPE"}}},
	}
	sats := map[string]*table.Table{"CYCLE": cycleTable()}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Assemble(tt.spec, primaryTable(), sats, "CRN"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
