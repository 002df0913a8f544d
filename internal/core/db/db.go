// Package db provides database connection management, embedded migrations and
// named queries for the SQL context store.
//
// Supports SQLite (single node) and PostgreSQL (shared context across
// instances) through sqlx.
package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Connection pool limits. Context lookups are short point reads, so a small
// pool per instance is enough.
const (
	maxOpenConns    = 8
	maxIdleConns    = 2
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = 30 * time.Minute
)

// ParseURL maps a database URL to a driver name and data source.
// Supported schemes: sqlite:// (sqlite3 accepted as alias) and postgres://
// (postgresql accepted as alias).
// sqlite://file.db is relative, sqlite:///abs/path.db is absolute.
func ParseURL(dbURL string) (driver, dataSource string, err error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid database URL: %w", err)
	}

	switch u.Scheme {
	case "sqlite", "sqlite3":
		dataSource = u.Path
		if u.Host != "" {
			dataSource = u.Host + u.Path
		}
		if dataSource == "" {
			return "", "", fmt.Errorf("sqlite URL %q has no path", dbURL)
		}
		if u.RawQuery != "" {
			dataSource += "?" + u.RawQuery
		}
		return "sqlite3", dataSource, nil
	case "postgres", "postgresql":
		return "postgres", dbURL, nil
	default:
		return "", "", fmt.Errorf("unsupported database scheme: %s (expected sqlite or postgres)", u.Scheme)
	}
}

// Open connects to dbURL, configures the pool and verifies the connection.
func Open(ctx context.Context, dbURL string) (*sqlx.DB, error) {
	driver, dataSource, err := ParseURL(dbURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
