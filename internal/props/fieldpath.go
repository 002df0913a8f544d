// internal/props/fieldpath.go
package props

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/solatis/matchkeeper/internal/types"
)

/*
 * Field path parsing and lookup for record and context values.
 *
 * Path syntax: dotted keys with bracketed indexes or quoted keys, e.g.
 * `payload.readings[0]["unit name"]`. A path starting with a bracket is
 * allowed (`["a b"].c`). MaxPathDepth (16) is enforced at parse time.
 *
 * Lookup semantics:
 *   - missing key or out-of-range index yields nil (a missing leaf)
 *   - stepping into a nil or missing intermediate fails with ErrPathTraversal
 *   - lists, strings and buffers expose "length"
 *   - stepping into other scalars yields nil
 */

// ParsePath splits a property expression into segments.
// Returns ErrInvalidPath for malformed expressions and ErrPathTooDeep when the
// path exceeds MaxPathDepth.
func ParsePath(s string) ([]types.PathSegment, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty path", types.ErrInvalidPath)
	}

	var segs []types.PathSegment
	expectKey := true
	for i := 0; i < len(s); {
		switch c := s[i]; {
		case c == '.':
			if expectKey {
				return nil, fmt.Errorf("%w: empty segment at offset %d in %q", types.ErrInvalidPath, i, s)
			}
			expectKey = true
			i++

		case c == '[':
			if expectKey && len(segs) > 0 {
				return nil, fmt.Errorf("%w: unexpected '[' at offset %d in %q", types.ErrInvalidPath, i, s)
			}
			seg, next, err := parseBracket(s, i)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
			expectKey = false
			i = next

		default:
			if !expectKey {
				return nil, fmt.Errorf("%w: unexpected %q at offset %d in %q", types.ErrInvalidPath, c, i, s)
			}
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' {
				j++
			}
			segs = append(segs, types.PathSegment{Key: s[i:j]})
			expectKey = false
			i = j
		}
	}
	if expectKey {
		return nil, fmt.Errorf("%w: trailing '.' in %q", types.ErrInvalidPath, s)
	}
	if len(segs) > types.MaxPathDepth {
		return nil, fmt.Errorf("%w: %d segments", types.ErrPathTooDeep, len(segs))
	}
	return segs, nil
}

// parseBracket parses `[n]`, `["key"]` or `['key']` starting at s[i] == '['.
// Returns the segment and the offset after the closing bracket.
func parseBracket(s string, i int) (types.PathSegment, int, error) {
	start := i
	i++
	if i >= len(s) {
		return types.PathSegment{}, 0, fmt.Errorf("%w: unterminated '[' in %q", types.ErrInvalidPath, s)
	}

	if q := s[i]; q == '"' || q == '\'' {
		end := strings.IndexByte(s[i+1:], q)
		if end < 0 {
			return types.PathSegment{}, 0, fmt.Errorf("%w: unterminated quote in %q", types.ErrInvalidPath, s)
		}
		key := s[i+1 : i+1+end]
		i += end + 2
		if i >= len(s) || s[i] != ']' {
			return types.PathSegment{}, 0, fmt.Errorf("%w: expected ']' after quoted key in %q", types.ErrInvalidPath, s)
		}
		return types.PathSegment{Key: key}, i + 1, nil
	}

	end := strings.IndexByte(s[i:], ']')
	if end < 0 {
		return types.PathSegment{}, 0, fmt.Errorf("%w: unterminated '[' in %q", types.ErrInvalidPath, s)
	}
	digits := s[i : i+end]
	idx, err := strconv.Atoi(digits)
	if err != nil || idx < 0 || strings.HasPrefix(digits, "+") {
		return types.PathSegment{}, 0, fmt.Errorf("%w: bad index %q at offset %d in %q", types.ErrInvalidPath, digits, start, s)
	}
	return types.PathSegment{Index: idx, IsIndex: true}, i + end + 1, nil
}

// FormatPath renders segments back into path syntax.
func FormatPath(path []types.PathSegment) string {
	var b strings.Builder
	for i, seg := range path {
		switch {
		case seg.IsIndex:
			fmt.Fprintf(&b, "[%d]", seg.Index)
		case isPlainKey(seg.Key):
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(seg.Key)
		default:
			fmt.Fprintf(&b, "[%q]", seg.Key)
		}
	}
	return b.String()
}

func isPlainKey(k string) bool {
	return k != "" && !strings.ContainsAny(k, ".[]\"' ")
}

// Lookup follows path from root.
// A missing leaf is nil; a nil intermediate fails with ErrPathTraversal.
func Lookup(path []types.PathSegment, root any) (any, error) {
	if len(path) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	cur := root
	for i, seg := range path {
		if cur == nil {
			return nil, fmt.Errorf("%w (reading %s)", types.ErrPathTraversal, FormatPath(path[:i+1]))
		}
		cur = step(cur, seg)
	}
	return cur, nil
}

// step reads one segment from cur. Unreadable combinations yield nil.
func step(cur any, seg types.PathSegment) any {
	switch v := cur.(type) {
	case map[string]any:
		return v[segmentKey(seg)]
	case []any:
		return indexed(len(v), seg, func(i int) any { return v[i] })
	case string:
		if seg.Key == "length" && !seg.IsIndex {
			return float64(utf8.RuneCountInString(v))
		}
		runes := []rune(v)
		return indexed(len(runes), seg, func(i int) any { return string(runes[i]) })
	case []byte:
		return indexed(len(v), seg, func(i int) any { return float64(v[i]) })
	}

	rv := reflect.ValueOf(cur)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		val := rv.MapIndex(reflect.ValueOf(segmentKey(seg)).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return nil
		}
		return val.Interface()
	case reflect.Slice, reflect.Array:
		return indexed(rv.Len(), seg, func(i int) any { return rv.Index(i).Interface() })
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return step(rv.Elem().Interface(), seg)
	default:
		return nil
	}
}

// indexed reads a list-like value of length n: integer segments and numeric
// keys index it, "length" reports n.
func indexed(n int, seg types.PathSegment, at func(int) any) any {
	idx := seg.Index
	if !seg.IsIndex {
		if seg.Key == "length" {
			return float64(n)
		}
		i, err := strconv.Atoi(seg.Key)
		if err != nil {
			return nil
		}
		idx = i
	}
	if idx < 0 || idx >= n {
		return nil
	}
	return at(idx)
}

func segmentKey(seg types.PathSegment) string {
	if seg.IsIndex {
		return strconv.Itoa(seg.Index)
	}
	return seg.Key
}
