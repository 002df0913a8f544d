package contextstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/matchkeeper/internal/core/db"
)

// SQL stores JSON-encoded values in the context_values table.
type SQL struct {
	queries *db.Queries
	scope   string
	now     func() time.Time
}

// NewSQL returns a SQL store for one scope. The schema must be migrated.
func NewSQL(queries *db.Queries, scope string) *SQL {
	return &SQL{queries: queries, scope: scope, now: time.Now}
}

// Get implements Store.
func (s *SQL) Get(ctx context.Context, key string) (any, error) {
	var data string
	err := s.queries.Get(ctx, "get-context-value", &data, s.scope, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sql get %q: %w", key, err)
	}
	return decodeValue(key, data)
}

// Set implements Store.
func (s *SQL) Set(ctx context.Context, key string, value any) error {
	if key == "" {
		return ErrInvalidKey
	}
	if value == nil {
		if _, err := s.queries.Exec(ctx, "delete-context-value", s.scope, key); err != nil {
			return fmt.Errorf("sql delete %q: %w", key, err)
		}
		return nil
	}

	data, err := encodeValue(key, value)
	if err != nil {
		return err
	}
	updatedAt := s.now().UTC().Format(time.RFC3339)
	if _, err := s.queries.Exec(ctx, "upsert-context-value", s.scope, key, data, updatedAt); err != nil {
		return fmt.Errorf("sql set %q: %w", key, err)
	}
	return nil
}

// Keys implements Store.
func (s *SQL) Keys(ctx context.Context) ([]string, error) {
	keys := []string{}
	if err := s.queries.Select(ctx, "list-context-names", &keys, s.scope); err != nil {
		return nil, fmt.Errorf("sql keys: %w", err)
	}
	return keys, nil
}
