package reconstruct

import (
	"testing"
	"time"

	"collision/internal/config"
	"collision/internal/table"
)

var testBounds = Bounds{MinYear: 1990, MaxYear: 2035}

// TestDateMethods verifies the rule priority and each rule's output.
func TestDateMethods(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		in         Inputs
		wantDate   string
		wantMethod Method
	}{
		{"exact day", Inputs{Year: 2019, Month: 3, Day: 22}, "2019-03-22", MethodExact},
		{"exact beats weekday", Inputs{Year: 2019, Month: 3, Day: 22, Weekday: 2}, "2019-03-22", MethodExact},
		{"first wednesday july 2023", Inputs{Year: 2023, Month: 7, Weekday: 4}, "2023-07-05", MethodWeekday},
		{"first sunday jan 2017", Inputs{Year: 2017, Month: 1, Weekday: 1}, "2017-01-01", MethodWeekday},
		{"first saturday feb 2020", Inputs{Year: 2020, Month: 2, Weekday: 7}, "2020-02-01", MethodWeekday},
		{"mid month fallback", Inputs{Year: 2010, Month: 6}, "2010-06-15", MethodFallback},
		{"invalid day falls to weekday", Inputs{Year: 2019, Month: 2, Day: 30, Weekday: 3}, "2019-02-05", MethodWeekday},
		{"invalid day and weekday fall to mid month", Inputs{Year: 2019, Month: 2, Day: 31, Weekday: 9}, "2019-02-15", MethodFallback},
		{"leap day exact", Inputs{Year: 2020, Month: 2, Day: 29}, "2020-02-29", MethodExact},
		{"feb 29 non leap falls through", Inputs{Year: 2019, Month: 2, Day: 29}, "2019-02-15", MethodFallback},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Date(tt.in, testBounds)
			if err != nil {
				t.Fatalf("Date(%+v) error: %v", tt.in, err)
			}
			if d := got.Date.Format(DateLayout); d != tt.wantDate {
				t.Fatalf("Date(%+v) = %s, want %s", tt.in, d, tt.wantDate)
			}
			if got.Method != tt.wantMethod {
				t.Fatalf("Date(%+v) method = %s, want %s", tt.in, got.Method, tt.wantMethod)
			}
		})
	}
}

// TestDateRejectsInsaneComponents verifies that out-of-range year or month
// is an error, not a coerced date.
func TestDateRejectsInsaneComponents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Inputs
	}{
		{"year below range", Inputs{Year: 1901, Month: 5}},
		{"year above range", Inputs{Year: 2099, Month: 5}},
		{"month zero", Inputs{Year: 2019, Month: 0}},
		{"month thirteen", Inputs{Year: 2019, Month: 13}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Date(tt.in, testBounds); err == nil {
				t.Fatalf("Date(%+v) = nil error, want rejection", tt.in)
			}
		})
	}
}

// TestWeekdayReconstructionWindow verifies the structural property of rule
// 2: the result always lands in the first seven days of the month and on
// the requested weekday.
func TestWeekdayReconstructionWindow(t *testing.T) {
	t.Parallel()

	for month := 1; month <= 12; month++ {
		for code := 1; code <= 7; code++ {
			got, err := Date(Inputs{Year: 2021, Month: month, Weekday: code}, testBounds)
			if err != nil {
				t.Fatalf("month=%d code=%d: %v", month, code, err)
			}
			if got.Method != MethodWeekday {
				t.Fatalf("month=%d code=%d method=%s", month, code, got.Method)
			}
			if d := got.Date.Day(); d < 1 || d > 7 {
				t.Fatalf("month=%d code=%d day=%d outside first week", month, code, d)
			}
			if want := time.Weekday(code - 1); got.Date.Weekday() != want {
				t.Fatalf("month=%d code=%d weekday=%s want %s", month, code, got.Date.Weekday(), want)
			}
		}
	}
}

// TestConfidenceOrdering verifies the method hierarchy used by consumers
// comparing reconstructed dates.
func TestConfidenceOrdering(t *testing.T) {
	t.Parallel()

	exact := Reconstructed{Method: MethodExact}
	wd := Reconstructed{Method: MethodWeekday}
	fb := Reconstructed{Method: MethodFallback}
	if !(exact.Confidence() > wd.Confidence() && wd.Confidence() > fb.Confidence()) {
		t.Fatalf("confidence order broken: %d %d %d", exact.Confidence(), wd.Confidence(), fb.Confidence())
	}
}

// TestAnnotate verifies row-count preservation and per-method accounting,
// including rows the reconstruction rejects.
func TestAnnotate(t *testing.T) {
	t.Parallel()

	in := table.New([]string{"CRN", "YEAR", "MONTH", "DAY", "DOW"})
	in.Append([]any{"A", int64(2023), int64(7), int64(12), int64(4)})
	in.Append([]any{"B", int64(2023), int64(7), nil, int64(4)})
	in.Append([]any{"C", int64(2023), int64(7), nil, nil})
	in.Append([]any{"D", int64(1800), int64(7), int64(1), int64(1)})
	in.Append([]any{"E", "2023", "7", "5", ""})

	out, stats := Annotate(in, config.Dates{
		YearColumn:    "YEAR",
		MonthColumn:   "MONTH",
		DayColumn:     "DAY",
		WeekdayColumn: "DOW",
		MinYear:       1990,
		MaxYear:       2035,
	})

	if out.NumRows() != in.NumRows() {
		t.Fatalf("rows = %d, want %d", out.NumRows(), in.NumRows())
	}
	if stats.Total != 5 || stats.Invalid != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.ByMethod[MethodExact] != 2 || stats.ByMethod[MethodWeekday] != 1 || stats.ByMethod[MethodFallback] != 1 {
		t.Fatalf("by method = %v", stats.ByMethod)
	}

	dateIx := out.ColIndex(DateColumn)
	methodIx := out.ColIndex(MethodColumn)
	if dateIx < 0 || methodIx < 0 {
		t.Fatalf("annotation columns missing: %v", out.Columns)
	}
	if got := out.Get(1, dateIx); got != "2023-07-05" {
		t.Fatalf("weekday row date = %v, want 2023-07-05", got)
	}
	if got := out.Get(3, dateIx); got != nil {
		t.Fatalf("invalid row date = %v, want nil", got)
	}
	if got := out.Get(3, methodIx); got != nil {
		t.Fatalf("invalid row method = %v, want nil", got)
	}
	if got := out.Get(4, methodIx); got != string(MethodExact) {
		t.Fatalf("string-typed row method = %v, want exact_day", got)
	}
}
