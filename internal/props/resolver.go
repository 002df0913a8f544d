// Package props resolves rule property identifiers into values.
//
// A Resolver implements rules.Resolver for every property kind except prev,
// which the evaluator handles itself. Record fields are read through field
// paths; flow and global values come from context stores; the remaining kinds
// are literals, the clock, the process environment or expressions.
package props

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/solatis/matchkeeper/internal/rules"
	"github.com/solatis/matchkeeper/internal/types"
)

// ContextStore is the read side of a flow or global context.
// Missing keys return (nil, nil).
type ContextStore interface {
	Get(ctx context.Context, key string) (any, error)
}

// Resolver resolves property identifiers against a record.
// Safe for concurrent use.
type Resolver struct {
	flow      ContextStore
	global    ContextStore
	now       func() time.Time
	lookupEnv func(string) (string, bool)

	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFlow sets the store behind flow properties.
func WithFlow(s ContextStore) Option {
	return func(r *Resolver) { r.flow = s }
}

// WithGlobal sets the store behind global properties.
func WithGlobal(s ContextStore) Option {
	return func(r *Resolver) { r.global = s }
}

// WithClock replaces time.Now for date properties.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithEnv replaces os.LookupEnv for env properties.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookupEnv = lookup }
}

// New returns a Resolver. Without context stores, flow and global
// properties resolve as empty contexts.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		now:       time.Now,
		lookupEnv: os.LookupEnv,
		programs:  make(map[string]*vm.Program),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the value of ident interpreted as kind for rec.
// Every error wraps types.ErrResolution.
func (r *Resolver) Resolve(ctx context.Context, ident any, kind types.PropertyKind, rec *types.Record) (any, error) {
	v, err := r.resolve(ctx, ident, kind, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %v: %w", types.ErrResolution, kind, ident, err)
	}
	return v, nil
}

func (r *Resolver) resolve(ctx context.Context, ident any, kind types.PropertyKind, rec *types.Record) (any, error) {
	switch kind {
	case types.KindMsg:
		return r.message(ident, rec)
	case types.KindFlow:
		return r.context(ctx, r.flow, ident)
	case types.KindGlobal:
		return r.context(ctx, r.global, ident)
	case types.KindStr:
		if ident == nil {
			return "", nil
		}
		return rules.ScriptString(ident), nil
	case types.KindNum:
		if n, ok := rules.ToNumber(ident); ok {
			return n, nil
		}
		return math.NaN(), nil
	case types.KindBool:
		if b, ok := ident.(bool); ok {
			return b, nil
		}
		return strings.EqualFold(rules.ScriptString(ident), "true"), nil
	case types.KindJSON:
		return parseJSON(ident)
	case types.KindBin:
		return parseBinary(ident)
	case types.KindDate:
		return float64(r.now().UnixMilli()), nil
	case types.KindEnv:
		return r.env(ident), nil
	case types.KindExpr:
		return r.evalExpr(ident, rec)
	default:
		return nil, fmt.Errorf("%w %q", types.ErrUnknownPropertyKind, kind)
	}
}

func (r *Resolver) message(ident any, rec *types.Record) (any, error) {
	path, err := ParsePath(identString(ident))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, types.ErrPathTraversal
	}
	if !path[0].IsIndex && path[0].Key == types.MsgIDField {
		return Lookup(path[1:], string(rec.ID))
	}
	return Lookup(path, rec.Fields)
}

func (r *Resolver) context(ctx context.Context, store ContextStore, ident any) (any, error) {
	path, err := ParsePath(identString(ident))
	if err != nil {
		return nil, err
	}
	if store == nil {
		return Lookup(path[1:], nil)
	}
	root, err := store.Get(ctx, segmentKey(path[0]))
	if err != nil {
		return nil, err
	}
	return Lookup(path[1:], root)
}

// env returns the named variable, or nil when unset. Identifiers containing
// ${NAME} references are expanded instead; unset references expand to "".
func (r *Resolver) env(ident any) any {
	name := identString(ident)
	if strings.Contains(name, "${") {
		return os.Expand(name, func(key string) string {
			v, _ := r.lookupEnv(key)
			return v
		})
	}
	if v, ok := r.lookupEnv(name); ok {
		return v
	}
	return nil
}

func (r *Resolver) evalExpr(ident any, rec *types.Record) (any, error) {
	program, err := r.program(identString(ident))
	if err != nil {
		return nil, err
	}
	env := map[string]any{"msg": map[string]any{}, "id": ""}
	if rec != nil {
		msg := make(map[string]any, len(rec.Fields)+1)
		for k, v := range rec.Fields {
			msg[k] = v
		}
		msg[types.MsgIDField] = string(rec.ID)
		env["msg"] = msg
		env["id"] = string(rec.ID)
	}
	return vm.Run(program, env)
}

// program compiles code once and caches the result.
func (r *Resolver) program(code string) (*vm.Program, error) {
	r.mu.RLock()
	p, ok := r.programs[code]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := expr.Compile(code, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.programs[code] = p
	r.mu.Unlock()
	return p, nil
}

func parseJSON(ident any) (any, error) {
	s, ok := ident.(string)
	if !ok {
		// Already structured (e.g. decoded from a YAML rule file).
		return ident, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func parseBinary(ident any) (any, error) {
	v, err := parseJSON(ident)
	if err != nil {
		return nil, err
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case []any:
		out := make([]byte, len(b))
		for i, elem := range b {
			n, ok := rules.ToNumber(elem)
			if !ok {
				return nil, fmt.Errorf("byte %d: %v is not a number", i, elem)
			}
			out[i] = byte(int64(n) & 0xff)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("binary literal must be a list of bytes, got %T", v)
	}
}

func identString(ident any) string {
	if s, ok := ident.(string); ok {
		return s
	}
	if ident == nil {
		return ""
	}
	return rules.ScriptString(ident)
}
