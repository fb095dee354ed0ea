// Package profile implements per-(year, category) schema fingerprinting.
//
// The profiler is responsible for:
//   - Fetching a bounded sample from the start of a raw yearly file
//   - Reading the header and inferring a coarse type per column
//   - Degrading unreadable sources to "unavailable" fingerprints
//
// Design constraints:
//   - Sampling must be bounded in memory regardless of file size.
//   - Profiling is best-effort and must never fail the run: an unreadable
//     year contributes zero rows and zero schema influence downstream.
//   - The profiler is pure; it has no side effects.
package profile

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"collision/internal/config"
	csvp "collision/internal/parser/csv"
	"collision/internal/source"
)

// DefaultSampleBytes bounds the sample read from the start of each file.
const DefaultSampleBytes = 64 * 1024

// Column is one header cell with its inferred type: "integer", "float",
// "date", or "text".
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Fingerprint describes the observable schema of one (year, category) file.
// It is immutable once created and is consumed only by schema harmonization.
type Fingerprint struct {
	Year     int      `json:"year"`
	Category string   `json:"category"`
	Source   string   `json:"source"`
	Columns  []Column `json:"columns,omitempty"`

	// Unavailable marks a source that could not be read. Harmonization
	// treats it as contributing zero rows and zero schema influence.
	Unavailable bool   `json:"unavailable,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Col returns the named column's type, or "" when absent.
func (f Fingerprint) Col(name string) string {
	for _, c := range f.Columns {
		if c.Name == name {
			return c.Type
		}
	}
	return ""
}

// File fingerprints one raw yearly file at header-only cost.
//
// It never returns an error: any read or parse failure yields an
// unavailable fingerprint carrying the failure reason.
func File(ctx context.Context, src source.Source, year int, category string, opt config.Options) Fingerprint {
	fp := Fingerprint{Year: year, Category: category, Source: src.Name()}

	n := opt.Int("sample_bytes", DefaultSampleBytes)
	b, err := source.Peek(ctx, src, n)
	if err != nil {
		fp.Unavailable = true
		fp.Reason = err.Error()
		return fp
	}

	// Cut the sample at the last newline so a truncated trailing record
	// cannot skew inference.
	if i := bytes.LastIndexByte(b, '\n'); i > 0 {
		b = b[:i+1]
	}

	headers, rows, err := readSample(b, opt.Rune("comma", ','))
	if err != nil || len(headers) == 0 {
		fp.Unavailable = true
		if err != nil {
			fp.Reason = err.Error()
		} else {
			fp.Reason = "empty sample"
		}
		return fp
	}

	types := inferTypes(headers, rows)
	fp.Columns = make([]Column, len(headers))
	for i, h := range headers {
		fp.Columns[i] = Column{Name: csvp.NormalizeHeader(h), Type: types[i]}
	}
	return fp
}

// readSample parses the bounded byte sample into a header plus data rows.
// Misaligned rows are skipped; inference tolerates a ragged sample.
func readSample(data []byte, comma rune) ([]string, [][]string, error) {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\ufeff")))
	if len(data) == 0 {
		return nil, nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1 // validated manually
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		return nil, nil, err
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	rows := make([][]string, 0, 512)
	for {
		rec, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			// A torn record at the end of the sample is expected; keep
			// whatever parsed cleanly.
			break
		}
		if len(rec) != len(headers) {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
	return headers, rows, nil
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", "01/02/2006"}

func parseDateLoose(s string) bool {
	for _, lay := range dateLayouts {
		if _, err := time.Parse(lay, s); err == nil {
			return true
		}
	}
	return false
}

// zeroPadded reports whether v looks like a zero-padded code ("067").
// Such values must stay text: casting to integer silently destroys the
// padding that distinguishes administrative codes.
func zeroPadded(v string) bool {
	return len(v) > 1 && v[0] == '0' && v != "0" && !strings.Contains(v, ".")
}

// inferTypes infers a coarse type per column from the sample rows.
// Returned values: "integer", "float", "date", "text".
func inferTypes(headers []string, rows [][]string) []string {
	out := make([]string, len(headers))
	for i := range out {
		out[i] = "text"
	}

	for col := range headers {
		var seen bool
		allInt := true
		allFloat := true
		allDate := true

		for _, r := range rows {
			if col >= len(r) {
				continue
			}
			v := r[col]
			if v == "" {
				continue
			}
			seen = true

			if allInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil || zeroPadded(v) {
					allInt = false
				}
			}
			if allFloat {
				if _, err := strconv.ParseFloat(v, 64); err != nil || zeroPadded(v) {
					allFloat = false
				}
			}
			if allDate && !parseDateLoose(v) {
				allDate = false
			}
		}

		if !seen {
			continue
		}
		// Prefer more specific types.
		switch {
		case allInt:
			out[col] = "integer"
		case allDate:
			out[col] = "date"
		case allFloat:
			out[col] = "float"
		}
	}
	return out
}
