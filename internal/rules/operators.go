// internal/rules/operators.go
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/solatis/matchkeeper/internal/types"
)

/*
 * Operator catalog.
 *
 * Fourteen comparison operators keyed by their configuration names. Apply is
 * the single dispatch point; Describe renders the human-readable form logged
 * for a failed rule. Operands are compared loosely (see coercion.go): numeric
 * strings equal numbers, ordering falls back to lexical order for two strings.
 *
 * Operators:
 *   - eq/neq: loose equality
 *   - lt/lte/gt/gte: loose ordering, false when either side has no numeric reading
 *   - btwn: inclusive b <= a <= c
 *   - cont: substring of the string forms
 *   - regex: pattern match, "(?i)" when the rule is case-insensitive
 *   - true/false: strict boolean identity
 *   - null/nnull: absent or null value
 *   - type: array, buffer or primitive type name
 *
 * Only regex can fail (pattern does not compile). An operator outside the
 * catalog parses to OpUnknown and is rejected by Apply.
 */

// Operator identifies a comparison in the catalog.
type Operator int

const (
	OpUnknown Operator = iota
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpBetween
	OpContains
	OpRegex
	OpTrue
	OpFalse
	OpNull
	OpNotNull
	OpType
)

var operatorKeys = [...]string{
	OpUnknown:  "",
	OpEq:       "eq",
	OpNeq:      "neq",
	OpLt:       "lt",
	OpLte:      "lte",
	OpGt:       "gt",
	OpGte:      "gte",
	OpBetween:  "btwn",
	OpContains: "cont",
	OpRegex:    "regex",
	OpTrue:     "true",
	OpFalse:    "false",
	OpNull:     "null",
	OpNotNull:  "nnull",
	OpType:     "type",
}

// String returns the configuration key of op.
func (op Operator) String() string {
	if op <= OpUnknown || int(op) >= len(operatorKeys) {
		return "unknown"
	}
	return operatorKeys[op]
}

// ParseOperator looks up an operator by configuration key.
// Returns OpUnknown, false for keys outside the catalog.
func ParseOperator(key string) (Operator, bool) {
	for op := OpEq; int(op) < len(operatorKeys); op++ {
		if operatorKeys[op] == key {
			return op, true
		}
	}
	return OpUnknown, false
}

// Operators returns every catalog operator in declaration order.
func Operators() []Operator {
	ops := make([]Operator, 0, len(operatorKeys)-1)
	for op := OpEq; int(op) < len(operatorKeys); op++ {
		ops = append(ops, op)
	}
	return ops
}

// Apply evaluates op against the test value a and the operands b and c.
// caseInsensitive only affects regex.
func Apply(op Operator, a, b, c any, caseInsensitive bool) (bool, error) {
	switch op {
	case OpEq:
		return looseEqual(a, b), nil
	case OpNeq:
		return !looseEqual(a, b), nil
	case OpLt:
		cmp, ok := looseCompare(a, b)
		return ok && cmp < 0, nil
	case OpLte:
		cmp, ok := looseCompare(a, b)
		return ok && cmp <= 0, nil
	case OpGt:
		cmp, ok := looseCompare(a, b)
		return ok && cmp > 0, nil
	case OpGte:
		cmp, ok := looseCompare(a, b)
		return ok && cmp >= 0, nil
	case OpBetween:
		lo, okLo := looseCompare(a, b)
		hi, okHi := looseCompare(a, c)
		return okLo && okHi && lo >= 0 && hi <= 0, nil
	case OpContains:
		return strings.Contains(ScriptString(a), ScriptString(b)), nil
	case OpRegex:
		re, err := compilePattern(ScriptString(b), caseInsensitive)
		if err != nil {
			return false, err
		}
		return re.MatchString(ScriptString(a)), nil
	case OpTrue:
		v, ok := a.(bool)
		return ok && v, nil
	case OpFalse:
		v, ok := a.(bool)
		return ok && !v, nil
	case OpNull:
		return a == nil, nil
	case OpNotNull:
		return a != nil, nil
	case OpType:
		return matchesType(a, ScriptString(b)), nil
	default:
		return false, fmt.Errorf("%w: %d", types.ErrUnknownOperator, op)
	}
}

// Describe renders the comparison op(a, b, c) for diagnostics.
func Describe(op Operator, a, b, c any, caseInsensitive bool) string {
	as, bs := describeValue(a), describeValue(b)
	switch op {
	case OpEq:
		return as + " == " + bs
	case OpNeq:
		return as + " != " + bs
	case OpLt:
		return as + " < " + bs
	case OpLte:
		return as + " <= " + bs
	case OpGt:
		return as + " > " + bs
	case OpGte:
		return as + " >= " + bs
	case OpBetween:
		return fmt.Sprintf("%s is between %s and %s", as, bs, describeValue(c))
	case OpContains:
		return as + " contains " + bs
	case OpRegex:
		return fmt.Sprintf("%s matches /%s/ (case insensitive: %t)", as, ScriptString(b), caseInsensitive)
	case OpTrue:
		return as + " is true"
	case OpFalse:
		return as + " is false"
	case OpNull:
		return as + " is null"
	case OpNotNull:
		return as + " is not null"
	case OpType:
		return fmt.Sprintf("%s is %s", kindName(a), bs)
	default:
		return fmt.Sprintf("%s ? %s", as, bs)
	}
}

// describeValue quotes strings so "1" and 1 read differently in logs.
func describeValue(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return ScriptString(v)
}

// looseEqual compares a and b with script == semantics.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	ab, aBool := a.(bool)
	bb, bBool := b.(bool)
	switch {
	case aBool && bBool:
		return ab == bb
	case aBool:
		return looseEqual(boolNumber(ab), b)
	case bBool:
		return looseEqual(a, boolNumber(bb))
	}

	an, aNum := asNumber(a)
	bn, bNum := asNumber(b)
	as, aStr := a.(string)
	bs, bStr := b.(string)
	switch {
	case aNum && bNum:
		return an == bn
	case aStr && bStr:
		return as == bs
	case aNum && bStr:
		n, ok := parseNumber(bs)
		return ok && n == an
	case aStr && bNum:
		n, ok := parseNumber(as)
		return ok && n == bn
	}

	aComp, bComp := isComposite(a), isComposite(b)
	switch {
	case aComp && bComp:
		return sameReference(a, b)
	case aComp:
		return looseEqual(ScriptString(a), b)
	case bComp:
		return looseEqual(a, ScriptString(b))
	}
	return ScriptString(a) == ScriptString(b)
}

// looseCompare orders a against b (-1/0/1).
// ok is false when the pair has no ordering (either side NaN or nil).
func looseCompare(a, b any) (int, bool) {
	a, b = toPrimitive(a), toPrimitive(b)
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), true
		}
	}
	an, okA := ToNumber(a)
	bn, okB := ToNumber(b)
	if !okA || !okB {
		return 0, false
	}
	switch {
	case an < bn:
		return -1, true
	case an > bn:
		return 1, true
	default:
		return 0, true
	}
}

func matchesType(a any, name string) bool {
	switch name {
	case "array":
		return isArray(a)
	case "buffer":
		return isBuffer(a)
	}
	if isArray(a) || isBuffer(a) {
		return false
	}
	return typeOf(a) == name
}

// maxCachedPatterns bounds the regex cache; patterns resolved from record
// fields could otherwise grow it without limit.
const maxCachedPatterns = 512

var patterns = struct {
	sync.RWMutex
	m map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

// compilePattern compiles pattern once per (pattern, case) pair.
func compilePattern(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	key := pattern
	if caseInsensitive {
		key = "(?i)" + pattern
	}

	patterns.RLock()
	re, ok := patterns.m[key]
	patterns.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", types.ErrInvalidPattern, pattern, err)
	}

	patterns.Lock()
	if len(patterns.m) < maxCachedPatterns {
		patterns.m[key] = re
	}
	patterns.Unlock()
	return re, nil
}
