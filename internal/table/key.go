package table

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeKey converts a cell value to a canonical string form, suitable
// for join-index keys and deterministic sorting (e.g. a CRN stored as
// "2019012345" in one year and as an integer in another must index
// identically).
//
// Callers must not assume a particular underlying type for keys; this
// helper keeps lookup maps consistent across sources.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		// Integral floats (a numeric key parsed as float) print without a
		// fractional part so they match their string/int forms.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []byte:
		return strings.TrimSpace(string(t))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
