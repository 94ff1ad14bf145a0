package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/passkeygate/internal/server/repositories/credentials"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_UnknownDialect(t *testing.T) {
	_, err := New("mysql")
	require.Error(t, err)
}

func TestCredentials_ReturnsSQLRepository(t *testing.T) {
	m, err := New("pgx")
	require.NoError(t, err)

	repo := m.Credentials(newDB(t))
	_, ok := repo.(*credentials.SQLRepository)
	assert.True(t, ok)
}

func TestRunMigrations_Success(t *testing.T) {
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	called := false
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		called = true
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}

	m, err := New("pgx")
	require.NoError(t, err)
	require.NoError(t, m.RunMigrations(context.Background(), newDB(t)))
	assert.True(t, called)
}

func TestRunMigrations_Error(t *testing.T) {
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	m, err := New("sqlite")
	require.NoError(t, err)
	require.EqualError(t, m.RunMigrations(context.Background(), newDB(t)), "boom")
}

func TestOpenAndMigrate_SQLite(t *testing.T) {
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "nested", "app.db") + "?_pragma=foreign_keys(1)"

	m, err := New("sqlite")
	require.NoError(t, err)

	db, err := m.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, m.RunMigrations(context.Background(), db))

	repo := m.Credentials(db)
	u, err := repo.CreateUser(context.Background(), "abc", "alice")
	require.NoError(t, err)
	got, err := repo.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	// idempotent
	require.NoError(t, m.RunMigrations(context.Background(), db))
}

func TestSqliteDir(t *testing.T) {
	assert.Equal(t, "data", sqliteDir("file:data/app.db?_pragma=foreign_keys(1)"))
	assert.Equal(t, "", sqliteDir(":memory:"))
	assert.Equal(t, "", sqliteDir("file::memory:?cache=shared"))
	assert.Equal(t, "", sqliteDir("app.db"))
	assert.Equal(t, "/var/lib/gate", sqliteDir("/var/lib/gate/app.db"))
}
