package config

import (
	"strings"
	"unicode/utf8"
)

// Options is a loosely-typed option bag for parser and stage configuration.
//
// It exists so JSON configs can carry backend- or parser-specific knobs
// without the core structs enumerating every possible key. Accessors are
// forgiving: a missing or mistyped key yields the caller's default.
type Options map[string]any

func (o Options) Bool(key string, def bool) bool {
	if o == nil {
		return def
	}
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func (o Options) Int(key string, def int) int {
	if o == nil {
		return def
	}
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (o Options) String(key string, def string) string {
	if o == nil {
		return def
	}
	if v, ok := o[key].(string); ok {
		return v
	}
	return def
}

// Rune returns the first rune of a string-valued option, or def when the
// option is missing or empty. Used for CSV delimiters.
func (o Options) Rune(key string, def rune) rune {
	s := o.String(key, "")
	if s == "" {
		return def
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

// StringMap returns a map-valued option with string values, or nil.
func (o Options) StringMap(key string) map[string]string {
	if o == nil {
		return nil
	}
	switch v := o[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if s, ok := val.(string); ok {
				out[strings.TrimSpace(k)] = s
			}
		}
		return out
	}
	return nil
}

// Any returns the raw option value, or nil.
func (o Options) Any(key string) any {
	if o == nil {
		return nil
	}
	return o[key]
}
