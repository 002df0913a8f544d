// Package types provides domain models shared across matchkeeper components.
//
// Dependency-light design: types.go, rules.go and errors.go use only the
// standard library so the rule engine can be embedded without pulling in the
// service stack. ID utilities in ids.go import uuid.
package types

import (
	"encoding/json"
	"fmt"
)

// RecordID identifies a record for the duration of its trip through a matcher.
// String alias keeps JSON serialization plain.
type RecordID string

// MsgIDField is the record field name under which the record ID is exposed to
// msg properties and to JSON encodings.
const MsgIDField = "_msgid"

// Record is an externally-owned structured message.
// The rule engine reads Fields through the property resolver and hands the
// same *Record back to the sink; it never copies or retains it.
type Record struct {
	ID     RecordID
	Fields map[string]any
}

// NewRecord wraps fields in a Record with a fresh ID.
// An ID already present under MsgIDField is reused.
func NewRecord(fields map[string]any) *Record {
	if fields == nil {
		fields = make(map[string]any)
	}
	id, _ := fields[MsgIDField].(string)
	if id == "" {
		id = string(NewRecordID())
	}
	delete(fields, MsgIDField)
	return &Record{ID: RecordID(id), Fields: fields}
}

// DecodeRecord parses a JSON object into a Record.
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) > MaxRecordSize {
		return nil, ErrRecordTooLarge
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decode record: %w", ErrNotAnObject)
	}
	return NewRecord(fields), nil
}

// MarshalJSON encodes Fields as a JSON object with the ID under MsgIDField.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[MsgIDField] = string(r.ID)
	return json.Marshal(out)
}

// Resource limits enforced by the resolver and the service shell.
const (
	// MaxPathDepth bounds property path length so malformed configuration
	// cannot drive unbounded traversal.
	MaxPathDepth = 16

	// MaxRecordSize limits decoded record bodies arriving over HTTP, gRPC or MQTT.
	MaxRecordSize = 1024 * 1024

	// MaxRules caps the size of a single rule set.
	MaxRules = 256
)
