package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/solatis/matchkeeper/internal/types"
)

// Matcher owns one rule list and its state.
// Process calls are serialized; separate Matchers share nothing.
type Matcher struct {
	mu       sync.Mutex
	rules    []Rule
	state    State
	resolver Resolver
	sink     Sink
	onStatus func(Status)
	logger   *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithSink sets the default sink for every Process call.
func WithSink(s Sink) Option {
	return func(m *Matcher) { m.sink = s }
}

// WithStatus sets the observer called once per successful Process call.
func WithStatus(fn func(Status)) Option {
	return func(m *Matcher) { m.onStatus = fn }
}

// WithLogger sets the logger for rule failures and record errors.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// NewMatcher normalizes raw and returns a Matcher with empty state.
// Returns ErrTooManyRules if raw exceeds types.MaxRules.
func NewMatcher(raw []types.RawRule, resolver Resolver, opts ...Option) (*Matcher, error) {
	if len(raw) > types.MaxRules {
		return nil, fmt.Errorf("%w: %d > %d", types.ErrTooManyRules, len(raw), types.MaxRules)
	}
	rules := Normalize(raw)
	m := &Matcher{
		rules:    rules,
		state:    NewState(rules),
		resolver: resolver,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Process evaluates rec against the rule list using the default sink.
func (m *Matcher) Process(ctx context.Context, rec *types.Record) (Outcome, error) {
	return m.ProcessTo(ctx, rec, nil)
}

// ProcessTo evaluates rec and routes emissions to sink as well as to the
// default sink. sink may be nil.
func (m *Matcher) ProcessTo(ctx context.Context, rec *types.Record, sink Sink) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	env := Env{
		Resolver: m.resolver,
		Sink:     joinSinks(m.sink, sink),
		Logger:   m.logger,
	}
	out, err := Evaluate(ctx, m.rules, m.state, rec, env)
	if err != nil {
		m.logger.Error("record evaluation failed", "record_id", rec.ID, "error", err)
		return out, err
	}

	m.logger.Debug("record evaluated",
		"record_id", rec.ID,
		"passed", out.Passed,
		"failures", len(out.Failures),
		"status", out.Status.Text)
	if m.onStatus != nil {
		m.onStatus(out.Status)
	}
	return out, nil
}

// Rules returns a copy of the normalized rule list.
func (m *Matcher) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	copy(out, m.rules)
	return out
}

// State returns a snapshot of the per-rule state.
func (m *Matcher) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

func joinSinks(a, b Sink) Sink {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return SinkFunc(func(rec *types.Record, ch Channel) {
			a.Emit(rec, ch)
			b.Emit(rec, ch)
		})
	}
}
