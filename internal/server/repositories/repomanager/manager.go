// Package repomanager opens the mutable credential store, applies its schema
// and vends repositories bound to the connection.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/passkeygate/internal/server/migrations"
	"github.com/dmitrijs2005/passkeygate/internal/server/repositories/credentials"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

var gooseUpContext = goose.UpContext

type dialect struct {
	driver string
	goose  string
}

var dialects = map[string]dialect{
	"sqlite": {driver: "sqlite", goose: "sqlite3"},
	"pgx":    {driver: "pgx", goose: "pgx"},
}

// Manager knows the SQL dialect of the mutable store.
type Manager struct {
	name string
	d    dialect
}

func New(name string) (*Manager, error) {
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
	return &Manager{name: name, d: d}, nil
}

// Open connects to dsn and pings it. For sqlite file databases the parent
// directory is created first.
func (m *Manager) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if m.d.driver == "sqlite" {
		if dir := sqliteDir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(m.d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// RunMigrations applies every pending migration of the dialect.
func (m *Manager) RunMigrations(ctx context.Context, db *sql.DB) error {
	fsys, err := migrations.For(m.name)
	if err != nil {
		return err
	}

	goose.SetBaseFS(fsys)
	if err := goose.SetDialect(m.d.goose); err != nil {
		return err
	}

	return gooseUpContext(ctx, db, ".")
}

func (m *Manager) Credentials(db *sql.DB) credentials.Repository {
	return credentials.NewSQLRepository(db)
}

// sqliteDir extracts the directory of a file-backed sqlite DSN, or "" for
// in-memory databases and bare file names.
func sqliteDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.Contains(path, ":memory:") {
		return ""
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}
