// Package migrations embeds the goose migrations of the mutable credential
// store, one directory per SQL dialect.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// For returns the migration tree of dialect ("sqlite" or "pgx").
func For(dialect string) (fs.FS, error) {
	dir := "sqlite"
	if dialect == "pgx" {
		dir = "postgres"
	}
	return fs.Sub(files, dir)
}
