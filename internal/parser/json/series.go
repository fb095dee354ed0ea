// Package json reads a daily time-series table from a JSON file.
//
// The acquisition layer for the weather source emits either a root array of
// per-day objects or an envelope object whose "results" field holds that
// array. Both shapes stream without buffering the whole document.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"collision/internal/config"
	csvp "collision/internal/parser/csv"
	"collision/internal/table"
)

// ReadSeriesTable parses a JSON daily series into a Table. Columns are
// added in sorted first-seen order and canonicalized like CSV headers so
// downstream stages see one spelling regardless of input format. Numbers
// are kept in their source text form (json.Number) to avoid precision loss.
func ReadSeriesTable(ctx context.Context, r io.Reader, opt config.Options) (*table.Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	hm := opt.StringMap("header_map")

	canon := func(k string) string {
		k = csvp.NormalizeHeader(k)
		if mapped, ok := hm[k]; ok {
			k = mapped
		}
		return k
	}

	var cols []string
	colIx := map[string]int{}
	t := &table.Table{}

	emit := func(obj map[string]any) {
		// Decoding into a map loses source key order, so new columns are
		// added in sorted order to keep the table deterministic run to run.
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ck := canon(k)
			if _, ok := colIx[ck]; !ok {
				colIx[ck] = len(cols)
				cols = append(cols, ck)
			}
		}
		row := make([]any, len(cols))
		for k, v := range obj {
			i := colIx[canon(k)]
			switch val := v.(type) {
			case nil:
				row[i] = nil
			case string:
				if val != "" {
					row[i] = val
				}
			case json.Number:
				row[i] = val.String()
			case bool:
				if val {
					row[i] = "true"
				} else {
					row[i] = "false"
				}
			default:
				row[i] = fmt.Sprint(val)
			}
		}
		t.Rows = append(t.Rows, row)
	}

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return t, nil
		}
		return nil, fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("json: series root must be array or object, got %v", tok)
	}

	switch d {
	case '[':
		if err := streamObjects(ctx, dec, emit); err != nil {
			return nil, err
		}
	case '{':
		// Envelope: stream the first array-of-objects field, skip the rest.
		streamed := false
		for dec.More() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read envelope key: %w", err)
			}
			next, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read envelope value: %w", err)
			}
			if nd, ok := next.(json.Delim); ok && nd == '[' && !streamed {
				if err := streamObjects(ctx, dec, emit); err != nil {
					return nil, err
				}
				if end, err := dec.Token(); err != nil || end != json.Delim(']') {
					return nil, fmt.Errorf("json: unterminated array under %v", keyTok)
				}
				streamed = true
				continue
			}
			if nd, ok := next.(json.Delim); ok && (nd == '[' || nd == '{') {
				if err := skipValue(dec); err != nil {
					return nil, err
				}
			}
		}
		if !streamed {
			return nil, fmt.Errorf("json: envelope has no array-of-objects field")
		}
	default:
		return nil, fmt.Errorf("json: unsupported root delimiter %q", d)
	}

	// Rows emitted before a later column was first seen are shorter than the
	// final width; pad them so the table stays rectangular.
	t.Columns = cols
	for i, row := range t.Rows {
		if len(row) < len(cols) {
			padded := make([]any, len(cols))
			copy(padded, row)
			t.Rows[i] = padded
		}
	}
	return t, nil
}

func streamObjects(ctx context.Context, dec *json.Decoder, emit func(map[string]any)) error {
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return fmt.Errorf("json: decode series element: %w", err)
		}
		emit(obj)
	}
	return nil
}

// skipValue consumes a compound value whose opening delimiter has already
// been read.
func skipValue(dec *json.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: skip value: %w", err)
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '[', '{':
				depth++
			case ']', '}':
				depth--
			}
		}
	}
	return nil
}
