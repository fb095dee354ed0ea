package geo

import (
	"testing"

	"collision/internal/config"
	"collision/internal/table"
)

func testGeoConfig() config.Geo {
	return config.Geo{
		LatColumn: "LATITUDE",
		LonColumn: "LONGITUDE",
		Bounds: config.Bounds{
			LatMin: 39.867, LatMax: 40.138,
			LonMin: -75.280, LonMax: -74.956,
		},
		MinDecimalPlaces: 4,
		CountyColumn:     "COUNTY",
		ExpectedCounty:   "51",
	}
}

// TestClassify verifies the coordinate rules in priority order.
func TestClassify(t *testing.T) {
	t.Parallel()

	cfg := testGeoConfig()
	tests := []struct {
		name     string
		lat, lon any
		want     CoordQuality
	}{
		{"in bounds full precision", "39.952583", "-75.165222", CoordValid},
		{"float cells", 39.952583, -75.165222, CoordValid},
		{"lat missing", nil, "-75.1652", CoordMissing},
		{"lon missing", "39.9525", nil, CoordMissing},
		{"both missing", nil, nil, CoordMissing},
		{"unparsable", "n/a", "-75.1652", CoordMissing},
		{"north of bounds", "40.50", "-75.1652", CoordInvalid},
		{"zero zero", "0", "0", CoordInvalid},
		{"swapped signs", "-39.9525", "75.1652", CoordInvalid},
		{"in bounds low precision", "39.95", "-75.16", CoordLowPrecision},
		{"one axis low precision", "39.952583", "-75.16", CoordLowPrecision},
		{"boundary is inside", "39.867", "-75.280", CoordLowPrecision},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.lat, tt.lon, cfg); got != tt.want {
				t.Fatalf("Classify(%v, %v) = %s, want %s", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}

// TestAnnotate verifies row preservation, flag columns, and jurisdiction
// accounting, including the numeric code comparison ("051" == "51") and the
// rule that only in-bounds coordinates can contradict the declared code.
// County 51 is the code the bounding box implies; 67 is the known miscode
// the flag exists to surface.
func TestAnnotate(t *testing.T) {
	t.Parallel()

	in := table.New([]string{"CRN", "LATITUDE", "LONGITUDE", "COUNTY"})
	in.Append([]any{"A", "39.952583", "-75.165222", "51"})  // valid, match
	in.Append([]any{"B", "39.952583", "-75.165222", "051"}) // numeric equal
	in.Append([]any{"C", "39.952583", "-75.165222", "67"})  // miscoded: mismatch
	in.Append([]any{"D", "40.50", "-75.1652", "67"})        // out of bounds: cannot testify
	in.Append([]any{"E", nil, nil, "67"})                   // missing: cannot testify
	in.Append([]any{"F", "39.95", "-75.16", "67"})          // low precision still testifies

	out, stats := Annotate(in, testGeoConfig())

	if out.NumRows() != 6 {
		t.Fatalf("rows = %d, want 6", out.NumRows())
	}
	if stats.Total != 6 {
		t.Fatalf("total = %d", stats.Total)
	}
	if stats.ByCoordQuality[CoordValid] != 3 ||
		stats.ByCoordQuality[CoordInvalid] != 1 ||
		stats.ByCoordQuality[CoordMissing] != 1 ||
		stats.ByCoordQuality[CoordLowPrecision] != 1 {
		t.Fatalf("coord quality = %v", stats.ByCoordQuality)
	}
	if stats.Mismatches != 2 {
		t.Fatalf("mismatches = %d, want 2", stats.Mismatches)
	}

	jIx := out.ColIndex(JurisdictionColumn)
	wantJuris := []string{"match", "match", "mismatch", "match", "match", "mismatch"}
	for r, want := range wantJuris {
		if got := out.Get(r, jIx); got != want {
			t.Fatalf("row %d jurisdiction = %v, want %s", r, got, want)
		}
	}

	// Input coordinates must be untouched.
	if got := out.Get(3, out.ColIndex("LATITUDE")); got != "40.50" {
		t.Fatalf("coordinate altered: %v", got)
	}
}

// TestDecimalPlaces verifies that precision is judged from the recorded
// textual form, not a float round-trip.
func TestDecimalPlaces(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want int
	}{
		{"four places", "39.9525", 4},
		{"trailing zeros count", "39.9500", 4},
		{"two places", "-75.16", 2},
		{"integer string", "40", 0},
		{"float fallback", 39.95, 2},
		{"nil", nil, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := decimalPlaces(tt.in); got != tt.want {
				t.Fatalf("decimalPlaces(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
