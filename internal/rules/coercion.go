// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

/*
 * Loose value conversion for normalization and the operator catalog.
 *
 * Rule values arrive from YAML/JSON configuration and records arrive as
 * decoded JSON, so one comparison may see float64, int, json.Number, numeric
 * strings and booleans mixed together. The helpers here give all of them one
 * consistent reading:
 *
 *   - ToNumber: script-number conversion (blank string is 0, booleans are
 *     1/0, 0x/0o/0b integer prefixes, nil and composites are NaN)
 *   - ScriptString: the string form used by cont, regex and descriptions
 *     (nil is "undefined", arrays join with ",", maps are "[object Object]")
 *   - typeOf: primitive type names for the type operator
 *
 * ok=false from ToNumber plays the role of NaN; callers never see a NaN they
 * did not put in themselves.
 */

// ToNumber converts v to float64 using loose script-number rules.
// Returns ok=false where the conversion has no numeric reading.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case string:
		return parseNumber(n)
	case bool:
		return boolNumber(n), true
	case json.Number:
		return parseNumber(n.String())
	case []byte:
		return parseNumber(string(n))
	}
	if f, ok := asNumber(v); ok {
		return f, !math.IsNaN(f)
	}
	if isComposite(v) {
		return parseNumber(ScriptString(v))
	}
	return 0, false
}

// asNumber converts Go numeric kinds (and json.Number) to float64.
// Strings and booleans are not numbers here; see ToNumber for loose conversion.
func asNumber(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(v)
		return f, err == nil
	default:
		return 0, false
	}
}

// parseNumber reads s the way a script Number() call would.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1), true
	case "-Infinity":
		return math.Inf(-1), true
	}
	// strconv accepts underscores, hex floats and inf/nan spellings that a
	// script Number() rejects.
	if strings.ContainsAny(s, "_pP") {
		return 0, false
	}
	if len(s) > 2 && s[0] == '0' && strings.ContainsRune("xXoObB", rune(s[1])) {
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, false
		}
		return float64(n), true
	}
	lower := strings.ToLower(s)
	if strings.Contains(lower, "inf") || strings.Contains(lower, "nan") || strings.ContainsAny(lower, "x") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Overflow still has a reading: +/-Inf, which ParseFloat returns.
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f, true
		}
		return 0, false
	}
	return f, true
}

// isFinite reports whether f is neither NaN nor infinite.
func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// formatNumber renders f the way script engines print numbers.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	case math.Abs(f) >= 1e21 || math.Abs(f) < 1e-6:
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}

// ScriptString converts v to its script string form.
func ScriptString(v any) string {
	switch s := v.(type) {
	case nil:
		return "undefined"
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case []byte:
		return string(s)
	case json.Number:
		return s.String()
	case fmt.Stringer:
		return s.String()
	case error:
		return s.Error()
	}
	if f, ok := asNumber(v); ok {
		return formatNumber(f)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			elem := rv.Index(i).Interface()
			if elem != nil {
				parts[i] = ScriptString(elem)
			}
		}
		return strings.Join(parts, ",")
	case reflect.Map, reflect.Struct:
		return "[object Object]"
	case reflect.Pointer:
		if rv.IsNil() {
			return "null"
		}
		return ScriptString(rv.Elem().Interface())
	default:
		return fmt.Sprint(v)
	}
}

// toPrimitive replaces composite values by their script string form.
func toPrimitive(v any) any {
	if isComposite(v) {
		return ScriptString(v)
	}
	return v
}

// isComposite reports whether v is an object-like value (map, slice, struct, ...).
// []byte counts as composite; it is the binary buffer type.
func isComposite(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}

// sameReference reports whether two composites are the same object.
func sameReference(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func:
		return ra.Pointer() == rb.Pointer()
	case reflect.Slice:
		return ra.Pointer() == rb.Pointer() && ra.Len() == rb.Len()
	default:
		return false
	}
}

// isArray reports whether v is a list value. Binary buffers are not arrays.
func isArray(v any) bool {
	if v == nil || isBuffer(v) {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// isBuffer reports whether v is a binary buffer.
func isBuffer(v any) bool {
	_, ok := v.([]byte)
	return ok
}

// typeOf returns the primitive type name of v.
// Arrays and buffers report "object"; the type operator checks them first.
func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return "undefined"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	}
	if _, ok := asNumber(v); ok {
		return "number"
	}
	if reflect.ValueOf(v).Kind() == reflect.Func {
		return "function"
	}
	return "object"
}

// kindName is typeOf with arrays and buffers named, used in descriptions.
func kindName(v any) string {
	switch {
	case isArray(v):
		return "array"
	case isBuffer(v):
		return "buffer"
	default:
		return typeOf(v)
	}
}
