package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/matchkeeper/internal/props"
	"github.com/solatis/matchkeeper/internal/rules"
	"github.com/solatis/matchkeeper/internal/types"
)

func newService(t *testing.T, raw []types.RawRule) *MatcherService {
	t.Helper()
	m, err := rules.NewMatcher(raw, props.New())
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}
	svc, err := NewMatcherService(m, 0, nil)
	if err != nil {
		t.Fatalf("NewMatcherService() error = %v", err)
	}
	return svc
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct() error = %v", err)
	}
	return s
}

func TestNewMatcherService_NilMatcher(t *testing.T) {
	if _, err := NewMatcherService(nil, 0, nil); err == nil {
		t.Errorf("NewMatcherService(nil) error = nil, want error")
	}
}

func TestEvaluate(t *testing.T) {
	svc := newService(t, []types.RawRule{
		{Property: "payload", Type: "gt", Value: 10},
		{Property: "payload", Type: "neq", ValueType: types.KindPrev},
	})
	ctx := context.Background()

	// First record: rule 2 is skipped, rule 1 passes.
	resp, err := svc.Evaluate(ctx, mustStruct(t, map[string]any{"payload": 20, "_msgid": "r1"}))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	got := resp.AsMap()
	if got["record_id"] != "r1" || got["passed"] != true {
		t.Errorf("response = %v, want r1 passed", got)
	}
	if st := got["status"].(map[string]any); st["fill"] != "green" || st["text"] != "ok" {
		t.Errorf("status = %v, want green ok", st)
	}
	if sk := got["skipped"].([]any); len(sk) != 1 || sk[0] != float64(2) {
		t.Errorf("skipped = %v, want [2]", sk)
	}
	if em := got["emissions"].([]any); len(em) != 1 || em[0] != "pass" {
		t.Errorf("emissions = %v, want [pass]", em)
	}

	// Second record: both rules fail.
	resp, err = svc.Evaluate(ctx, mustStruct(t, map[string]any{"payload": 20}))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	got = resp.AsMap()
	if got["passed"] != false {
		t.Errorf("passed = %v, want false", got["passed"])
	}
	failures := got["failures"].([]any)
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want 1", failures)
	}
	f := failures[0].(map[string]any)
	if f["rule"] != float64(2) || f["operator"] != "neq" || f["description"] != "20 != 20" {
		t.Errorf("failure = %v", f)
	}
	if st := got["status"].(map[string]any); st["text"] != "Rule 2 failed" || st["fill"] != "red" {
		t.Errorf("status = %v, want red Rule 2 failed", st)
	}
	if em := got["emissions"].([]any); len(em) != 1 || em[0] != "fail" {
		t.Errorf("emissions = %v, want [fail]", em)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []types.RawRule
		req  map[string]any
		want codes.Code
	}{
		{
			name: "traversal through missing field",
			raw:  []types.RawRule{{Property: "a.b.c", Type: "null"}},
			req:  map[string]any{"x": 1},
			want: codes.InvalidArgument,
		},
		{
			name: "unknown operator",
			raw:  []types.RawRule{{Property: "a", Type: "approx", Value: 1}},
			req:  map[string]any{"a": 1},
			want: codes.InvalidArgument,
		},
		{
			name: "invalid pattern",
			raw:  []types.RawRule{{Property: "a", Type: "regex", Value: "(", ValueType: types.KindStr}},
			req:  map[string]any{"a": "x"},
			want: codes.InvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, tt.raw)
			_, err := svc.Evaluate(context.Background(), mustStruct(t, tt.req))
			if got := status.Code(err); got != tt.want {
				t.Errorf("code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}

	svc := newService(t, nil)
	if _, err := svc.Evaluate(context.Background(), nil); status.Code(err) != codes.InvalidArgument {
		t.Errorf("nil request: err = %v, want InvalidArgument", err)
	}
	big := mustStruct(t, map[string]any{"blob": strings.Repeat("x", types.MaxRecordSize)})
	if _, err := svc.Evaluate(context.Background(), big); status.Code(err) != codes.InvalidArgument {
		t.Errorf("oversized request: err = %v, want InvalidArgument", err)
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{&rules.RecordError{Rule: 1, Err: types.ErrResolution}, codes.InvalidArgument},
		{&rules.RecordError{Rule: 1, Err: fmt.Errorf("%w: flow x: %w", types.ErrResolution, context.DeadlineExceeded)}, codes.DeadlineExceeded},
		{&rules.RecordError{Rule: 1, Err: fmt.Errorf("%w: flow x: %w", types.ErrResolution, context.Canceled)}, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(toStatus(tt.err)); got != tt.want {
			t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
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
	svc, err := NewMatcherService(m, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewMatcherService() error = %v", err)
	}

	_, err = svc.Evaluate(context.Background(), mustStruct(t, map[string]any{"payload": 1}))
	if got := status.Code(err); got != codes.DeadlineExceeded {
		t.Errorf("code = %v, want DeadlineExceeded (err %v)", got, err)
	}
}

func TestMatcherClient_Bufconn(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterMatcherServer(srv, newService(t, []types.RawRule{
		{Property: "topic", Type: "cont", Value: "sensors"},
	}))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer conn.Close()

	client := NewMatcherClient(conn)
	resp, err := client.Evaluate(context.Background(), mustStruct(t, map[string]any{"topic": "sensors/temp"}))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if resp.AsMap()["passed"] != true {
		t.Errorf("response = %v, want passed", resp.AsMap())
	}

	resp, err = client.Evaluate(context.Background(), mustStruct(t, map[string]any{"topic": "alerts"}))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	f := resp.AsMap()["failures"].([]any)[0].(map[string]any)
	if f["description"] != `"alerts" contains "sensors"` {
		t.Errorf("description = %v", f["description"])
	}
}
