// internal/rules/normalize.go
package rules

import (
	"fmt"

	"github.com/solatis/matchkeeper/internal/types"
)

/*
 * Rule normalization.
 *
 * Turns configured types.RawRule values into immutable Rule values once, before
 * the first record is evaluated. Normalization never fails: problems such as an
 * unknown operator surface when the rule is evaluated, so a bad rule behind a
 * prev skip gate does not reject the first record. Check reports the same
 * problems up front for tooling.
 *
 * Operand normalization:
 *   1. property type defaults to msg
 *   2. operand type absent: num if the value reads as a finite number, else str
 *   3. operand type num: the literal is converted to a number (NaN is kept as
 *      the original value; the resolver turns it into NaN)
 *   4. every other operand is kept verbatim
 */

// Rule is one normalized comparison rule.
type Rule struct {
	Property     string
	PropertyType types.PropertyKind

	// Operator is OpUnknown when OperatorKey is outside the catalog.
	Operator    Operator
	OperatorKey string

	Value     any
	ValueType types.PropertyKind

	// HasValue2 is false for rules without a second operand.
	Value2     any
	Value2Type types.PropertyKind
	HasValue2  bool

	CaseInsensitive bool
}

// UsesPrev reports whether either operand refers to the previous test value.
func (r *Rule) UsesPrev() bool {
	return r.ValueType == types.KindPrev || (r.HasValue2 && r.Value2Type == types.KindPrev)
}

// Slot holds the previous test value of one rule.
// Set is false until the rule has completed once; a stored nil is still set.
type Slot struct {
	Value any
	Set   bool
}

// State is the per-rule memory of a rule list, index-aligned with it.
type State []Slot

// NewState returns empty state for rules.
func NewState(rules []Rule) State {
	return make(State, len(rules))
}

// Clone returns a copy of s; slot values are shared, not deep-copied.
func (s State) Clone() State {
	out := make(State, len(s))
	copy(out, s)
	return out
}

// Normalize converts configured rules into evaluation-ready rules.
// Order is preserved.
func Normalize(raw []types.RawRule) []Rule {
	out := make([]Rule, 0, len(raw))
	for _, r := range raw {
		out = append(out, normalizeRule(r))
	}
	return out
}

func normalizeRule(r types.RawRule) Rule {
	op, _ := ParseOperator(r.Type)
	rule := Rule{
		Property:        r.Property,
		PropertyType:    r.PropertyType,
		Operator:        op,
		OperatorKey:     r.Type,
		CaseInsensitive: r.Case,
	}
	if rule.PropertyType == "" {
		rule.PropertyType = types.KindMsg
	}

	rule.Value, rule.ValueType = normalizeOperand(r.Value, r.ValueType)
	if r.Value2 != nil || r.Value2Type == types.KindPrev {
		rule.HasValue2 = true
		rule.Value2, rule.Value2Type = normalizeOperand(r.Value2, r.Value2Type)
	}
	return rule
}

func normalizeOperand(value any, kind types.PropertyKind) (any, types.PropertyKind) {
	if kind == "" {
		if n, ok := ToNumber(value); ok && isFinite(n) {
			kind = types.KindNum
		} else {
			kind = types.KindStr
		}
	}
	if kind == types.KindNum {
		if n, ok := ToNumber(value); ok {
			value = n
		}
	}
	return value, kind
}

// Check reports configuration problems in rules without evaluating them.
// Each error names the 1-based rule index.
func Check(rules []Rule) []error {
	var errs []error
	if len(rules) > types.MaxRules {
		errs = append(errs, fmt.Errorf("%w: %d > %d", types.ErrTooManyRules, len(rules), types.MaxRules))
	}
	for i := range rules {
		r := &rules[i]
		idx := i + 1
		if r.Operator == OpUnknown {
			errs = append(errs, fmt.Errorf("rule %d: %w %q", idx, types.ErrUnknownOperator, r.OperatorKey))
		}
		if !r.PropertyType.Known() || r.PropertyType == types.KindPrev {
			errs = append(errs, fmt.Errorf("rule %d: property: %w %q", idx, types.ErrUnknownPropertyKind, r.PropertyType))
		}
		if !r.ValueType.Known() {
			errs = append(errs, fmt.Errorf("rule %d: value: %w %q", idx, types.ErrUnknownPropertyKind, r.ValueType))
		}
		if r.HasValue2 && !r.Value2Type.Known() {
			errs = append(errs, fmt.Errorf("rule %d: value2: %w %q", idx, types.ErrUnknownPropertyKind, r.Value2Type))
		}
		if r.Operator == OpRegex && r.ValueType == types.KindStr {
			if _, err := compilePattern(ScriptString(r.Value), r.CaseInsensitive); err != nil {
				errs = append(errs, fmt.Errorf("rule %d: %w", idx, err))
			}
		}
	}
	return errs
}
