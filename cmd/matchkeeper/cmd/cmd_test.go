package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/solatis/matchkeeper/internal/core/config"
	"github.com/solatis/matchkeeper/internal/props"
	"github.com/solatis/matchkeeper/internal/rules"
	"github.com/solatis/matchkeeper/internal/types"
)

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var results []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("output line is not JSON: %q", line)
		}
		results = append(results, m)
	}
	return results
}

func TestEvalRecords(t *testing.T) {
	m, err := rules.NewMatcher([]types.RawRule{
		{Property: "payload", Type: "gte", ValueType: types.KindPrev},
	}, props.New())
	if err != nil {
		t.Fatal(err)
	}

	in := strings.NewReader(`{"payload": 1}
{"payload": 3}

{"payload": 2}
not json
{"payload": 5}
`)
	var out bytes.Buffer
	if err := evalRecords(context.Background(), m, in, &out); err != nil {
		t.Fatalf("evalRecords() error = %v", err)
	}

	results := decodeLines(t, out.String())
	if len(results) != 5 {
		t.Fatalf("got %d result lines, want 5: %s", len(results), out.String())
	}

	wantPassed := map[float64]bool{1: true, 2: true, 4: false, 6: true}
	for _, r := range results {
		line := r["line"].(float64)
		if line == 5 {
			if r["error"] == nil {
				t.Errorf("line 5: want decode error, got %v", r)
			}
			continue
		}
		if r["passed"] != wantPassed[line] {
			t.Errorf("line %v: passed = %v, want %v", line, r["passed"], wantPassed[line])
		}
	}
	if sk := results[0]["skipped"].([]any); len(sk) != 1 {
		t.Errorf("first record skipped = %v, want [1]", sk)
	}
}

func TestEvalRecords_RecordError(t *testing.T) {
	m, err := rules.NewMatcher([]types.RawRule{{Property: "a.b", Type: "null"}}, props.New())
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := evalRecords(context.Background(), m, strings.NewReader("{\"_msgid\":\"x\"}\n{\"a\":{}}\n"), &out); err != nil {
		t.Fatalf("evalRecords() error = %v", err)
	}
	results := decodeLines(t, out.String())
	if len(results) != 2 {
		t.Fatalf("results = %v", results)
	}
	if results[0]["record_id"] != "x" || results[0]["error"] == nil {
		t.Errorf("results[0] = %v, want record error for x", results[0])
	}
	if results[1]["passed"] != true {
		t.Errorf("results[1] = %v, want passed", results[1])
	}
}

func TestPrintRules(t *testing.T) {
	normalized := rules.Normalize([]types.RawRule{
		{Property: "payload", Type: "btwn", Value: "5", Value2: "x", Case: true},
		{Property: "payload", Type: "eq", ValueType: types.KindPrev},
	})

	var out bytes.Buffer
	if err := printRules(&out, normalized); err != nil {
		t.Fatalf("printRules() error = %v", err)
	}

	// The printed document must load back as the same rule set.
	reparsed, err := config.ParseRules(out.Bytes())
	if err != nil {
		t.Fatalf("ParseRules(printed) error = %v\n%s", err, out.String())
	}
	again := rules.Normalize(reparsed)
	if len(again) != len(normalized) {
		t.Fatalf("reparsed %d rules, want %d", len(again), len(normalized))
	}
	for i := range again {
		a, b := again[i], normalized[i]
		if a.Property != b.Property || a.OperatorKey != b.OperatorKey || a.ValueType != b.ValueType ||
			a.Value2Type != b.Value2Type || a.HasValue2 != b.HasValue2 || a.CaseInsensitive != b.CaseInsensitive {
			t.Errorf("rule %d: reparsed %+v, want %+v", i+1, a, b)
		}
	}
}

func TestOperatorList(t *testing.T) {
	want := "eq neq lt lte gt gte btwn cont regex true false null nnull type"
	if got := operatorList(); got != want {
		t.Errorf("operatorList() = %q, want %q", got, want)
	}
}
