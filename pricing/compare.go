package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// isoDatePrefix marks values BETWEEN compares as strings.
var isoDatePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// =============================================================================
// EQUALITY
// =============================================================================

// valuesEqual implements EQUALS: case-insensitive strings, boolean coercion
// of "true"/"false", numeric equality across numeric kinds, strict otherwise.
func valuesEqual(field, value any) bool {
	if fs, ok := field.(string); ok {
		vs, ok := value.(string)
		return ok && fold(fs) == fold(vs)
	}

	if fb, ok := field.(bool); ok {
		vb, ok := coerceBool(value)
		return ok && fb == vb
	}

	if fd, ok := numericValue(field); ok {
		vd, ok := numericValue(value)
		return ok && fd.Equal(vd)
	}

	return reflect.DeepEqual(field, value)
}

func coerceBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch b {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// =============================================================================
// ORDERING
// =============================================================================

// compareValues orders numerically when both sides parse as numbers and
// falls back to case-insensitive lexicographic order.
func compareValues(a, b any) int {
	ad, aok := parseNumber(a)
	bd, bok := parseNumber(b)
	if aok && bok {
		return ad.Cmp(bd)
	}
	return strings.Compare(fold(stringify(a)), fold(stringify(b)))
}

// =============================================================================
// LISTS
// =============================================================================

func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func inList(field any, list []any) bool {
	for _, item := range list {
		if valuesEqual(field, item) {
			return true
		}
	}
	return false
}

// =============================================================================
// CONTAINS / BETWEEN
// =============================================================================

func containsFold(field, value any) bool {
	fs, ok := field.(string)
	if !ok {
		return false
	}
	vs, ok := value.(string)
	if !ok {
		return false
	}
	return strings.Contains(fold(fs), fold(vs))
}

// between is inclusive on both bounds.
func between(field, value any) bool {
	bounds, ok := asList(value)
	if !ok || len(bounds) != 2 {
		return false
	}
	lo, hi := bounds[0], bounds[1]

	if looksLikeDate(field) || looksLikeDate(lo) || looksLikeDate(hi) {
		return betweenStrings(stringify(field), stringify(lo), stringify(hi))
	}

	fd, fok := parseNumber(field)
	ld, lok := parseNumber(lo)
	hd, hok := parseNumber(hi)
	if fok && lok && hok {
		return fd.GreaterThanOrEqual(ld) && fd.LessThanOrEqual(hd)
	}
	return betweenStrings(fold(stringify(field)), fold(stringify(lo)), fold(stringify(hi)))
}

func betweenStrings(v, lo, hi string) bool {
	return v >= lo && v <= hi
}

func looksLikeDate(v any) bool {
	s, ok := v.(string)
	return ok && isoDatePrefix.MatchString(s)
}

// =============================================================================
// COERCION
// =============================================================================

// MaxExponent bounds the decimal exponent accepted from input. Values past
// it are not treated as numbers.
const MaxExponent = 64

// WithinExponentRange reports whether d's exponent is within ±MaxExponent.
func WithinExponentRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	return exp >= -MaxExponent && exp <= MaxExponent
}

// FormatDecimal is d.String() for in-range values. Out-of-range values keep
// exponent form so they are never expanded digit by digit.
func FormatDecimal(d decimal.Decimal) string {
	if WithinExponentRange(d) {
		return d.String()
	}
	return fmt.Sprintf("%se%d", d.Coefficient().String(), d.Exponent())
}

// numericValue accepts only values that are numbers already.
func numericValue(v any) (decimal.Decimal, bool) {
	d, ok := anyDecimal(v)
	if !ok || !WithinExponentRange(d) {
		return decimal.Zero, false
	}
	return d, true
}

func anyDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero, false
		}
		return *n, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromUint64(uint64(n)), true
	case uint64:
		return decimal.NewFromUint64(n), true
	case float32:
		if !finite(float64(n)) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(n), true
	case float64:
		if !finite(n) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	default:
		return decimal.Zero, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// parseNumber also accepts numeric strings.
func parseNumber(v any) (decimal.Decimal, bool) {
	if d, ok := numericValue(v); ok {
		return d, true
	}
	s, ok := v.(string)
	if !ok {
		return decimal.Zero, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !WithinExponentRange(d) {
		return decimal.Zero, false
	}
	return d, true
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case decimal.Decimal:
		return FormatDecimal(s)
	case *decimal.Decimal:
		if s == nil {
			return ""
		}
		return FormatDecimal(*s)
	case json.Number:
		return s.String()
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// fold case-folds for comparison. A Caser is stateful, so one per call.
func fold(s string) string {
	return cases.Fold().String(s)
}
