// internal/rules/evaluate.go
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solatis/matchkeeper/internal/types"
)

/*
 * Rule evaluation.
 *
 * Evaluates every rule of a list against one record, in order, with no
 * short-circuit. Each failing rule routes the record to the fail channel at
 * the moment it fails; a record with no failures is routed once to the pass
 * channel after the last rule.
 *
 * Per rule:
 *   1. resolve the test value from property/propertyType
 *   2. resolve value (and value2 when present); prev reads the rule's slot
 *   3. skip gate: a prev operand with an unset slot passes vacuously
 *   4. apply the operator; false records a Failure and emits on fail
 *   5. store the test value in the rule's slot
 *
 * A resolution error, an unknown operator or an invalid regex pattern aborts
 * the record with a *RecordError. Fail emissions and slot updates made by
 * earlier rules stay; no pass emission and no status follow.
 */

// Channel is an output route of the matcher.
type Channel int

const (
	ChannelPass Channel = 0
	ChannelFail Channel = 1
)

func (c Channel) String() string {
	switch c {
	case ChannelPass:
		return "pass"
	case ChannelFail:
		return "fail"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Resolver turns a property identifier into a value for one record.
type Resolver interface {
	Resolve(ctx context.Context, ident any, kind types.PropertyKind, rec *types.Record) (any, error)
}

// Sink receives routed records. The record pointer is the one passed in.
type Sink interface {
	Emit(rec *types.Record, ch Channel)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec *types.Record, ch Channel)

// Emit calls f(rec, ch).
func (f SinkFunc) Emit(rec *types.Record, ch Channel) { f(rec, ch) }

// Status is the node-style indicator reported after a successful call.
type Status struct {
	Fill string `json:"fill"`
	Text string `json:"text"`
}

// StatusOK is reported when every rule passed.
var StatusOK = Status{Fill: "green", Text: "ok"}

func failedStatus(rule int) Status {
	return Status{Fill: "red", Text: fmt.Sprintf("Rule %d failed", rule)}
}

// Failure describes one failed rule.
type Failure struct {
	Rule        int    `json:"rule"` // 1-based
	Operator    string `json:"operator"`
	Description string `json:"description"`
}

// Outcome summarizes the evaluation of one record.
type Outcome struct {
	Passed    bool      `json:"passed"`
	Failures  []Failure `json:"failures,omitempty"`
	Skipped   []int     `json:"skipped,omitempty"` // 1-based rule indexes
	Emissions []Channel `json:"emissions"`
	Status    Status    `json:"status"`
}

// RecordError is a fatal error for one record.
type RecordError struct {
	RecordID types.RecordID
	Rule     int // 1-based
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: rule %d: %v", e.RecordID, e.Rule, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Env carries the collaborators of one evaluation.
// Sink and Logger may be nil.
type Env struct {
	Resolver Resolver
	Sink     Sink
	Logger   *slog.Logger
}

// Evaluate runs rules against rec, reading and updating state.
// state must be index-aligned with rules (see NewState).
func Evaluate(ctx context.Context, rules []Rule, state State, rec *types.Record, env Env) (Outcome, error) {
	out := Outcome{Emissions: []Channel{}}
	if len(state) != len(rules) {
		return out, fmt.Errorf("state has %d slots for %d rules", len(state), len(rules))
	}

	emit := func(ch Channel) {
		out.Emissions = append(out.Emissions, ch)
		if env.Sink != nil {
			env.Sink.Emit(rec, ch)
		}
	}

	for i := range rules {
		rule := &rules[i]
		idx := i + 1

		res, err := evaluateRule(ctx, rule, &state[i], rec, env.Resolver)
		if err != nil {
			return out, &RecordError{RecordID: rec.ID, Rule: idx, Err: err}
		}

		if res.skipped {
			out.Skipped = append(out.Skipped, idx)
			continue
		}
		if res.passed {
			continue
		}

		f := Failure{
			Rule:        idx,
			Operator:    rule.OperatorKey,
			Description: Describe(rule.Operator, res.test, res.v1, res.v2, rule.CaseInsensitive),
		}
		out.Failures = append(out.Failures, f)
		if env.Logger != nil {
			env.Logger.Debug("rule failed",
				"record_id", rec.ID,
				"rule", idx,
				"operator", f.Operator,
				"description", f.Description)
		}
		emit(ChannelFail)
	}

	if len(out.Failures) == 0 {
		out.Passed = true
		out.Status = StatusOK
		emit(ChannelPass)
	} else {
		out.Status = failedStatus(out.Failures[len(out.Failures)-1].Rule)
	}
	return out, nil
}

type ruleResult struct {
	test, v1, v2 any
	passed       bool
	skipped      bool
}

func evaluateRule(ctx context.Context, rule *Rule, slot *Slot, rec *types.Record, res Resolver) (ruleResult, error) {
	var r ruleResult
	var err error

	if r.test, err = resolve(ctx, res, rule.Property, rule.PropertyType, rec); err != nil {
		return r, fmt.Errorf("property: %w", err)
	}
	if r.v1, err = operand(ctx, res, rule.Value, rule.ValueType, *slot, rec); err != nil {
		return r, fmt.Errorf("value: %w", err)
	}
	if rule.HasValue2 {
		if r.v2, err = operand(ctx, res, rule.Value2, rule.Value2Type, *slot, rec); err != nil {
			return r, fmt.Errorf("value2: %w", err)
		}
	}

	if rule.UsesPrev() && !slot.Set {
		*slot = Slot{Value: r.test, Set: true}
		r.passed, r.skipped = true, true
		return r, nil
	}

	if rule.Operator == OpUnknown {
		return r, fmt.Errorf("%w %q", types.ErrUnknownOperator, rule.OperatorKey)
	}
	if r.passed, err = Apply(rule.Operator, r.test, r.v1, r.v2, rule.CaseInsensitive); err != nil {
		return r, err
	}

	*slot = Slot{Value: r.test, Set: true}
	return r, nil
}

func operand(ctx context.Context, res Resolver, value any, kind types.PropertyKind, slot Slot, rec *types.Record) (any, error) {
	if kind == types.KindPrev {
		return slot.Value, nil
	}
	return resolve(ctx, res, value, kind, rec)
}

func resolve(ctx context.Context, res Resolver, ident any, kind types.PropertyKind, rec *types.Record) (any, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: no resolver configured", types.ErrResolution)
	}
	v, err := res.Resolve(ctx, ident, kind, rec)
	if err != nil {
		if errors.Is(err, types.ErrResolution) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrResolution, err)
	}
	return v, nil
}
