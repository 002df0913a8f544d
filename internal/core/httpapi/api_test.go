package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/solatis/matchkeeper/internal/contextstore"
	"github.com/solatis/matchkeeper/internal/core/auth"
	"github.com/solatis/matchkeeper/internal/props"
	"github.com/solatis/matchkeeper/internal/rules"
	"github.com/solatis/matchkeeper/internal/types"
)

type fixture struct {
	api  *API
	flow *contextstore.Memory
}

func newFixture(t *testing.T, raw []types.RawRule, token string) *fixture {
	t.Helper()
	flow := contextstore.NewMemory()
	m, err := rules.NewMatcher(raw, props.New(props.WithFlow(flow)))
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}
	a, err := New(m, Stores{Flow: flow}, auth.NewAuthenticator(token), 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{api: a, flow: flow}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: body is not JSON: %q", method, path, rec.Body.String())
		}
	}
	return rec, out
}

func TestNew_NilMatcher(t *testing.T) {
	if _, err := New(nil, Stores{}, nil, 0, nil); err == nil {
		t.Errorf("New(nil) error = nil, want error")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, "tok")
	rec, body := f.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("GET /healthz = %d %v", rec.Code, body)
	}
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t, []types.RawRule{
		{Property: "payload.temp", Type: "btwn", Value: 10, Value2: 30},
		{Property: "limit", PropertyType: types.KindFlow, Type: "nnull"},
	}, "")
	if err := f.flow.Set(context.Background(), "limit", 5); err != nil {
		t.Fatal(err)
	}

	rec, body := f.do(t, http.MethodPost, "/v1/evaluate", `{"_msgid":"m1","payload":{"temp":20}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", rec.Code, body)
	}
	if body["passed"] != true || body["record_id"] != "m1" {
		t.Errorf("body = %v, want m1 passed", body)
	}
	record := body["record"].(map[string]any)
	if record["_msgid"] != "m1" {
		t.Errorf("record = %v, want _msgid m1", record)
	}

	_, body = f.do(t, http.MethodPost, "/v1/evaluate", `{"payload":{"temp":"31"}}`)
	failures := body["failures"].([]any)
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want 1", failures)
	}
	if d := failures[0].(map[string]any)["description"]; d != `"31" is between 10 and 30` {
		t.Errorf("description = %v", d)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		raw      []types.RawRule
		body     string
		wantCode int
		wantErr  string
	}{
		{"not json", nil, `{`, http.StatusBadRequest, CodeInvalidJSON},
		{"array body", nil, `[1,2]`, http.StatusBadRequest, CodeInvalidJSON},
		{"null body", nil, `null`, http.StatusBadRequest, CodeInvalidJSON},
		{
			"traversal error",
			[]types.RawRule{{Property: "a.b", Type: "eq", Value: 1}},
			`{}`, http.StatusUnprocessableEntity, CodeRecord,
		},
		{
			"unknown operator",
			[]types.RawRule{{Property: "a", Type: "like", Value: 1}},
			`{"a":1}`, http.StatusUnprocessableEntity, CodeRecord,
		},
		{
			"too large",
			nil,
			`{"a":"` + strings.Repeat("x", types.MaxRecordSize) + `"}`,
			http.StatusRequestEntityTooLarge, CodeTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.raw, "")
			rec, body := f.do(t, http.MethodPost, "/v1/evaluate", tt.body)
			if rec.Code != tt.wantCode || body["code"] != tt.wantErr {
				t.Errorf("POST /v1/evaluate = %d %v, want %d %s", rec.Code, body, tt.wantCode, tt.wantErr)
			}
		})
	}
}

func TestEvaluate_RuleIndexInError(t *testing.T) {
	f := newFixture(t, []types.RawRule{
		{Property: "a", Type: "nnull"},
		{Property: "x.y", Type: "nnull"},
	}, "")
	_, body := f.do(t, http.MethodPost, "/v1/evaluate", `{"a":1}`)
	if body["rule"] != float64(2) {
		t.Errorf("rule = %v, want 2", body["rule"])
	}
}

func TestRules(t *testing.T) {
	f := newFixture(t, []types.RawRule{
		{Property: "p", Type: "btwn", Value: "1", Value2: "x"},
		{Property: "q", Type: "eq", ValueType: types.KindPrev},
	}, "")
	rec, body := f.do(t, http.MethodGet, "/v1/rules", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := body["rules"].([]any)
	if len(list) != 2 {
		t.Fatalf("rules = %v", list)
	}
	first := list[0].(map[string]any)
	if first["value"] != float64(1) || first["valueType"] != "num" || first["value2"] != "x" || first["value2Type"] != "str" {
		t.Errorf("rules[0] = %v", first)
	}
	second := list[1].(map[string]any)
	if second["valueType"] != "prev" || second["propertyType"] != "msg" || second["index"] != float64(2) {
		t.Errorf("rules[1] = %v", second)
	}
}

func TestContext(t *testing.T) {
	f := newFixture(t, nil, "")

	rec, _ := f.do(t, http.MethodPut, "/v1/context/flow/threshold", `{"max": 30}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT = %d, want 204", rec.Code)
	}

	rec, body := f.do(t, http.MethodGet, "/v1/context/flow/threshold", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET = %d", rec.Code)
	}
	if v := body["value"].(map[string]any); v["max"] != float64(30) {
		t.Errorf("value = %v", v)
	}

	_, body = f.do(t, http.MethodGet, "/v1/context/flow", "")
	if keys := body["keys"].([]any); len(keys) != 1 || keys[0] != "threshold" {
		t.Errorf("keys = %v", keys)
	}

	rec, _ = f.do(t, http.MethodDelete, "/v1/context/flow/threshold", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d, want 204", rec.Code)
	}
	rec, body = f.do(t, http.MethodGet, "/v1/context/flow/threshold", "")
	if rec.Code != http.StatusNotFound || body["code"] != CodeNotFound {
		t.Errorf("GET after delete = %d %v", rec.Code, body)
	}

	rec, _ = f.do(t, http.MethodGet, "/v1/context/global", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET unconfigured scope = %d, want 404", rec.Code)
	}
	rec, _ = f.do(t, http.MethodPut, "/v1/context/flow/k", `{bad`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("PUT bad JSON = %d, want 400", rec.Code)
	}
}

func TestContext_FeedsEvaluation(t *testing.T) {
	f := newFixture(t, []types.RawRule{
		{Property: "temp", Type: "lt", Value: "max", ValueType: types.KindFlow},
	}, "")

	f.do(t, http.MethodPut, "/v1/context/flow/max", `25`)
	_, body := f.do(t, http.MethodPost, "/v1/evaluate", `{"temp": 20}`)
	if body["passed"] != true {
		t.Errorf("temp 20 < 25: body = %v", body)
	}

	f.do(t, http.MethodPut, "/v1/context/flow/max", `15`)
	_, body = f.do(t, http.MethodPost, "/v1/evaluate", `{"temp": 20}`)
	if body["passed"] != false {
		t.Errorf("temp 20 < 15: body = %v", body)
	}
}

// stallingStore never answers before the caller's context is done.
type stallingStore struct{}

func (stallingStore) Get(ctx context.Context, _ string) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEvaluate_StoreTimeout(t *testing.T) {
	m, err := rules.NewMatcher([]types.RawRule{
		{Property: "x", PropertyType: types.KindFlow, Type: "nnull"},
	}, props.New(props.WithFlow(stallingStore{})))
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}
	a, err := New(m, Stores{}, nil, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(`{"payload": 1}`))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504 (body %s)", rec.Code, rec.Body.String())
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != CodeTimeout {
		t.Errorf("code = %q, want %q", body.Code, CodeTimeout)
	}
}

func TestWriteRecordError_Canceled(t *testing.T) {
	f := newFixture(t, nil, "")
	err := &rules.RecordError{Rule: 2, Err: fmt.Errorf("%w: flow x: %w", types.ErrResolution, context.Canceled)}

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", nil)
	rec := httptest.NewRecorder()
	f.api.writeRecordError(rec, req, err)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != CodeCanceled || body.Rule != 2 {
		t.Errorf("body = %+v, want %s on rule 2", body, CodeCanceled)
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t, nil, "tok")

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewBufferString(`{}`))
	req.Header.Set("X-API-Key", "tok")
	rec = httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key = %d, want 200", rec.Code)
	}
}
