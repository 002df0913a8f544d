// Package contextstore holds flow and global context values that rules read
// through flow and global properties.
//
// Every backend stores one scope (flow or global). Values are JSON-compatible
// (nil, bool, float64, string, []any, map[string]any); the Redis and SQL
// backends round-trip them through encoding/json.
package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Scopes understood by the service.
const (
	ScopeFlow   = "flow"
	ScopeGlobal = "global"
)

// ErrInvalidKey indicates an empty context key.
var ErrInvalidKey = errors.New("context key must not be empty")

// Store is one context scope.
type Store interface {
	// Get returns the value under key, or (nil, nil) when it is not set.
	Get(ctx context.Context, key string) (any, error)

	// Set stores value under key. A nil value deletes the key.
	Set(ctx context.Context, key string, value any) error

	// Keys lists the keys currently set, sorted.
	Keys(ctx context.Context) ([]string, error)
}

func encodeValue(key string, value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode context value %q: %w", key, err)
	}
	return string(data), nil
}

func decodeValue(key, data string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("decode context value %q: %w", key, err)
	}
	return v, nil
}

// normalizeValue gives in-memory values the same shape the encoding backends
// return, so a store swap does not change comparisons.
func normalizeValue(key string, value any) (any, error) {
	data, err := encodeValue(key, value)
	if err != nil {
		return nil, err
	}
	return decodeValue(key, data)
}
