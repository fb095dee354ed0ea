package postgres

import (
	"testing"

	"collision/internal/storage"
)

// TestCreateSQL verifies the DDL statement shape and type mapping.
func TestCreateSQL(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name: "CRASH",
		Columns: []storage.ColumnSpec{
			{Name: "CRN", Type: "text"},
			{Name: "CRASH_YEAR", Type: "integer"},
			{Name: "LATITUDE", Type: "float"},
			{Name: "CRASH_DATE", Type: "date"},
		},
	}
	got := createSQL(spec)
	want := `CREATE TABLE "CRASH" ("CRN" TEXT, "CRASH_YEAR" BIGINT, "LATITUDE" DOUBLE PRECISION, "CRASH_DATE" DATE)`
	if got != want {
		t.Fatalf("createSQL = %q, want %q", got, want)
	}
}

// TestColumnType verifies unknown types fall back to TEXT.
func TestColumnType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"integer", "BIGINT"},
		{"float", "DOUBLE PRECISION"},
		{"date", "DATE"},
		{"text", "TEXT"},
		{"blob", "TEXT"},
	}
	for _, tt := range tests {
		if got := columnType(tt.in); got != tt.want {
			t.Errorf("columnType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
