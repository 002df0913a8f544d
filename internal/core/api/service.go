// Package api provides the gRPC Matcher service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/matchkeeper/internal/rules"
	"github.com/solatis/matchkeeper/internal/types"
)

// MatcherService implements MatcherServer over one rules.Matcher.
// Thin orchestration layer: decode, evaluate, encode.
type MatcherService struct {
	matcher *rules.Matcher
	timeout time.Duration
	logger  *slog.Logger
}

// NewMatcherService creates a service evaluating records against matcher.
// A zero timeout leaves the caller's deadline alone.
func NewMatcherService(matcher *rules.Matcher, timeout time.Duration, logger *slog.Logger) (*MatcherService, error) {
	if matcher == nil {
		return nil, fmt.Errorf("matcher cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MatcherService{
		matcher: matcher,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Evaluate runs the request record through the matcher.
// The request Struct is the record itself; an optional "_msgid" field sets
// its ID.
func (s *MatcherService) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "record required")
	}
	if size := proto.Size(req); size > types.MaxRecordSize {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("%v: %d bytes", types.ErrRecordTooLarge, size))
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rec := types.NewRecord(req.AsMap())
	out, err := s.matcher.Process(ctx, rec)
	if err != nil {
		return nil, toStatus(err)
	}

	resp, err := structpb.NewStruct(OutcomeFields(rec, out))
	if err != nil {
		s.logger.Error("failed to encode outcome", "record_id", rec.ID, "error", err)
		return nil, status.Error(codes.Internal, "failed to encode outcome")
	}
	return resp, nil
}

// OutcomeFields renders an evaluation result as plain JSON-compatible values.
// Shared by the gRPC and HTTP surfaces.
func OutcomeFields(rec *types.Record, out rules.Outcome) map[string]any {
	failures := make([]any, 0, len(out.Failures))
	for _, f := range out.Failures {
		failures = append(failures, map[string]any{
			"rule":        f.Rule,
			"operator":    f.Operator,
			"description": f.Description,
		})
	}
	skipped := make([]any, 0, len(out.Skipped))
	for _, i := range out.Skipped {
		skipped = append(skipped, i)
	}
	emissions := make([]any, 0, len(out.Emissions))
	for _, ch := range out.Emissions {
		emissions = append(emissions, ch.String())
	}

	return map[string]any{
		"record_id": string(rec.ID),
		"passed":    out.Passed,
		"status": map[string]any{
			"fill": out.Status.Fill,
			"text": out.Status.Text,
		},
		"failures":  failures,
		"skipped":   skipped,
		"emissions": emissions,
	}
}
