package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

// Embedded migration files bundled at compile time.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS

// ForDriver returns the migration tree and its root directory for a
// database/sql driver name.
func ForDriver(driver string) (fs.FS, string, error) {
	switch driver {
	case "sqlite3":
		return SqliteMigrations, "sqlite", nil
	case "postgres":
		return PostgresMigrations, "postgres", nil
	default:
		return nil, "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}
