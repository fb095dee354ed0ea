package pipeline

import (
	"context"
	"fmt"
	"testing"

	"collision/internal/config"
	"collision/internal/source"
	"collision/internal/storage"
)

// fakeRepo captures ReplaceTable calls in order.
type fakeRepo struct {
	specs []storage.TableSpec
	rows  [][][]any
}

func (f *fakeRepo) ReplaceTable(ctx context.Context, spec storage.TableSpec, rows [][]any) error {
	f.specs = append(f.specs, spec)
	f.rows = append(f.rows, rows)
	return nil
}

func (f *fakeRepo) Close() {}

var fixtures = map[string]string{
	"CRASH_2023": "CRN,CRASH_YEAR,CRASH_MONTH,CRASH_DAY,LATITUDE,LONGITUDE,COUNTY\n" +
		"A,2023,7,3,40.0001,-75.1601,51\n" +
		"B,2023,7,4,0,0,51\n",
	"CRASH_2024": "CRN,CRASH_YEAR,CRASH_MONTH,CRASH_DAY,LATITUDE,LONGITUDE,COUNTY\n" +
		"C,2024,1,15,39.9501,-75.1501,67\n",
	"CYCLE_2023": "CRN,HELMET_IND\nA,Y\n",
	"CYCLE_2024": "CRN,HELMET_IND\nC,N\nC,Y\n",
}

const weatherCSV = "DATE,TEMP_AVG_C,PRECIPITATION_MM,SNOWFALL_MM\n" +
	"2023-07-03,25.0,0.0,0.0\n" +
	"2023-07-04,15.0,5.0,0.0\n" +
	"2024-01-15,-2.0,0.0,10.0\n"

func testConfig() config.Pipeline {
	return config.Pipeline{
		Job:     "curate-test",
		Years:   config.YearRange{Start: 2023, End: 2024},
		Primary: "CRASH",
		Key:     "CRN",
		Categories: []config.Category{
			{Name: "CRASH", PathTemplate: "CRASH_{year}.csv"},
			{Name: "CYCLE", PathTemplate: "CYCLE_{year}.csv"},
		},
		Parser: config.Parser{Kind: "csv"},
		Dates: config.Dates{
			YearColumn:  "CRASH_YEAR",
			MonthColumn: "CRASH_MONTH",
			DayColumn:   "CRASH_DAY",
			MinYear:     1990,
			MaxYear:     2035,
		},
		Geo: config.Geo{
			LatColumn:        "LATITUDE",
			LonColumn:        "LONGITUDE",
			Bounds:           config.Bounds{LatMin: 39.867, LatMax: 40.138, LonMin: -75.280, LonMax: -74.956},
			MinDecimalPlaces: 4,
			CountyColumn:     "COUNTY",
			ExpectedCounty:   "51",
		},
		Weather: config.Weather{Path: "weather.csv", Kind: "csv", DateColumn: "DATE"},
		Views: []config.ViewSpec{
			{
				Name:       "cyclist_exploded",
				Subset:     &config.SubsetSpec{RequireSatellite: "CYCLE"},
				Satellites: []config.SatelliteJoin{{Table: "CYCLE", Mode: "explode"}},
			},
		},
		Storage: config.Storage{Kind: "fake", DSN: "capture"},
		Runtime: config.Runtime{YearWorkers: 2, ChannelBuffer: 16},
	}
}

func testRunner(repo *fakeRepo) *Runner {
	return &Runner{
		NewRepository: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
			return repo, nil
		},
		OpenSource: func(cat config.Category, year int) source.Source {
			key := fmt.Sprintf("%s_%d", cat.Name, year)
			raw, ok := fixtures[key]
			if !ok {
				return source.NewUnavailable(key, fmt.Errorf("no fixture %s", key))
			}
			return source.NewBytes(key, []byte(raw))
		},
		OpenWeather: func(cfg config.Weather) source.Source {
			return source.NewBytes("weather.csv", []byte(weatherCSV))
		},
	}
}

// TestRunEndToEnd drives the full pipeline over in-memory fixtures and
// checks the annotated primary, the assembled view, the report, and what
// was persisted.
func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	res, err := testRunner(repo).Run(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Primary: all three raw rows survive annotation.
	if res.Primary.NumRows() != 3 {
		t.Fatalf("primary rows = %d, want 3", res.Primary.NumRows())
	}
	for _, c := range []string{"CRASH_DATE", "DATE_METHOD", "COORD_QUALITY", "JURISDICTION_QUALITY",
		"TEMP_AVG_C", "PRECIP_CATEGORY", "ADVERSE_WEATHER", "SOURCE_YEAR"} {
		if res.Primary.ColIndex(c) < 0 {
			t.Errorf("primary missing column %s", c)
		}
	}

	byCRN := map[string]int{}
	crnIx := res.Primary.ColIndex("CRN")
	for r := range res.Primary.Rows {
		byCRN[res.Primary.Get(r, crnIx).(string)] = r
	}
	dateIx := res.Primary.ColIndex("CRASH_DATE")
	if got := res.Primary.Get(byCRN["C"], dateIx); got != "2024-01-15" {
		t.Errorf("C date = %v", got)
	}
	cqIx := res.Primary.ColIndex("COORD_QUALITY")
	if got := res.Primary.Get(byCRN["B"], cqIx); got != "invalid" {
		t.Errorf("B coord quality = %v", got)
	}
	if got := res.Primary.Get(byCRN["A"], cqIx); got != "valid" {
		t.Errorf("A coord quality = %v", got)
	}
	// C sits inside the bounding box but carries county 67, the known
	// miscode. A and B declare 51, which the bounds imply.
	jqIx := res.Primary.ColIndex("JURISDICTION_QUALITY")
	if got := res.Primary.Get(byCRN["C"], jqIx); got != "mismatch" {
		t.Errorf("C jurisdiction quality = %v", got)
	}
	if got := res.Primary.Get(byCRN["A"], jqIx); got != "match" {
		t.Errorf("A jurisdiction quality = %v", got)
	}

	// Report sections.
	rep := res.Report
	if len(rep.Categories) != 2 {
		t.Fatalf("report categories = %d", len(rep.Categories))
	}
	if rep.Dates.ByMethod["exact_day"] != 3 || rep.Dates.Invalid != 0 {
		t.Errorf("dates = %+v", rep.Dates)
	}
	if rep.Geo.CoordQuality["valid"] != 2 || rep.Geo.CoordQuality["invalid"] != 1 {
		t.Errorf("geo = %+v", rep.Geo)
	}
	if rep.Geo.Mismatches != 1 {
		t.Errorf("geo mismatches = %d, want 1", rep.Geo.Mismatches)
	}
	if rep.Weather.Matched != 3 || rep.Weather.MatchRate != 1.0 {
		t.Errorf("weather = %+v", rep.Weather)
	}

	// The view: B is excluded by the subset, A explodes to 1 row, C to 2.
	if len(res.Views) != 1 {
		t.Fatalf("views = %d", len(res.Views))
	}
	v := res.Views[0]
	if v.Table.NumRows() != 3 || v.SubsetExcluded != 1 {
		t.Errorf("view rows = %d excluded = %d, want 3/1", v.Table.NumRows(), v.SubsetExcluded)
	}
	if v.Table.ColIndex("CYCLE_HELMET_IND") < 0 {
		t.Errorf("view columns = %v", v.Table.Columns)
	}

	// Persistence: primary, satellite, view, in that order.
	if len(repo.specs) != 3 {
		t.Fatalf("persisted tables = %d, want 3", len(repo.specs))
	}
	names := []string{repo.specs[0].Name, repo.specs[1].Name, repo.specs[2].Name}
	if names[0] != "CRASH" || names[1] != "CYCLE" || names[2] != "cyclist_exploded" {
		t.Errorf("persisted order = %v", names)
	}
	for _, col := range repo.specs[0].Columns {
		switch col.Name {
		case "CRASH_DATE":
			if col.Type != "date" {
				t.Errorf("CRASH_DATE type = %s", col.Type)
			}
		case "LATITUDE":
			if col.Type != "float" {
				t.Errorf("LATITUDE type = %s", col.Type)
			}
		case "CRASH_YEAR":
			if col.Type != "integer" {
				t.Errorf("CRASH_YEAR type = %s", col.Type)
			}
		}
	}
	if len(repo.rows[0]) != 3 {
		t.Errorf("persisted primary rows = %d", len(repo.rows[0]))
	}
}

// TestRunSkipsPersistenceWithoutStorage verifies an empty storage kind means
// a dry run.
func TestRunSkipsPersistenceWithoutStorage(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	cfg := testConfig()
	cfg.Storage = config.Storage{}
	if _, err := testRunner(repo).Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.specs) != 0 {
		t.Fatalf("persisted tables = %d, want 0", len(repo.specs))
	}
}

// TestRunWithoutWeather verifies the join stage is optional.
func TestRunWithoutWeather(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	cfg := testConfig()
	cfg.Weather = config.Weather{}
	res, err := testRunner(repo).Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Primary.ColIndex("TEMP_AVG_C") >= 0 {
		t.Fatal("weather columns present without a configured series")
	}
	if res.Report.Weather.Total != 0 {
		t.Fatalf("weather report = %+v", res.Report.Weather)
	}
}

// TestRunCancelled verifies context cancellation aborts the run.
func TestRunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := testRunner(&fakeRepo{}).Run(ctx, testConfig()); err == nil {
		t.Fatal("expected error")
	}
}
