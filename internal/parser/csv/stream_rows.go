// Package csv streams raw per-year CSV files into pooled positional rows
// aligned to a caller-supplied canonical column order.
//
// The reader performs header mapping (historical → canonical names via the
// "header_map" option), BOM stripping, whitespace trimming, and empty→null
// conversion. It never drops a data row: malformed records are reported to
// the caller's error callback and skipped only when the csv layer itself
// cannot produce a record.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"collision/internal/config"
	"collision/internal/table"
)

// maybeDecode wraps r with a Latin-1 decoder when the "encoding" option asks
// for it. Older yearly extracts predate the source system's UTF-8 switch.
func maybeDecode(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(encoding) {
	case "latin1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	default:
		return r
	}
}

func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return s[0] == ' ' || s[0] == '\t' || s[len(s)-1] == ' ' || s[len(s)-1] == '\t'
}

// NormalizeHeader maps a raw header cell to its canonical spelling: trimmed,
// upper-cased, spaces collapsed to underscores. The source system's column
// names are upper-snake; older files vary only in case and padding.
func NormalizeHeader(h string) string {
	if hasEdgeSpace(h) {
		h = strings.TrimSpace(h)
	}
	return strings.ReplaceAll(strings.ToUpper(h), " ", "_")
}

// StreamRows streams CSV into pooled *table.Row objects aligned to the
// target 'columns' order. Source columns absent from 'columns' are ignored;
// target columns absent from the source yield nil cells, preserving the
// row's width and count.
//
// NOTE on cancellation: on ctx cancellation in-flight rows must NOT be
// returned to the pool (Drop instead), otherwise the parser can reuse them
// while downstream drain-safe stages still read them.
func StreamRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *table.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	var line int

	hasHeader := opt.Bool("has_header", true)
	comma := opt.Rune("comma", ',')
	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")
	lazy := opt.Bool("lazy_quotes", false)

	r := maybeDecode(src, opt.String("encoding", ""))

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.LazyQuotes = lazy
	cr.FieldsPerRecord = -1

	colIx := make([]int, len(columns))
	for i := range colIx {
		colIx[i] = -1
	}

	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	if hasHeader {
		hdr, err := readRec()
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return err
		}
		srcToIdx := make(map[string]int, len(hdr))
		for i, h := range hdr {
			if i == 0 {
				h = strings.TrimPrefix(h, "\ufeff")
			}
			h = NormalizeHeader(h)
			if mapped, ok := hm[h]; ok {
				h = mapped
			}
			srcToIdx[h] = i
		}
		for t, target := range columns {
			if si, ok := srcToIdx[target]; ok {
				colIx[t] = si
			}
		}
	} else {
		for i := range columns {
			colIx[i] = i
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := table.GetRow(len(columns))
		row.Line = line

		for t := range columns {
			si := colIx[t]
			if si < 0 || si >= len(rec) {
				row.V[t] = nil
				continue
			}
			v := rec[si]
			if trim && hasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				row.V[t] = nil
			} else {
				row.V[t] = v
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			// IMPORTANT: do not re-pool on cancellation
			row.Drop()
			return ctx.Err()
		}
	}
}

// ReadTable collects an entire CSV into a Table whose columns follow the
// file's own header order (canonicalized). Used for small inputs like the
// daily weather series; the harmonizer streams instead.
func ReadTable(ctx context.Context, src io.ReadCloser, opt config.Options) (*table.Table, error) {
	defer src.Close()

	r := maybeDecode(src, opt.String("encoding", ""))

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	hm := opt.StringMap("header_map")
	cols := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = NormalizeHeader(h)
		if mapped, ok := hm[h]; ok {
			h = mapped
		}
		cols[i] = h
	}

	t := table.New(cols)
	trim := opt.Bool("trim_space", true)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv read: %w", err)
		}
		row := make([]any, len(cols))
		for i := range cols {
			if i >= len(rec) {
				continue
			}
			v := rec[i]
			if trim && hasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row[i] = v
			}
		}
		t.Append(row)
	}
}
