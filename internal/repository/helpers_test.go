package repository

import (
	"path/filepath"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/recordkeeper/pkg/config"
	"github.com/noah-isme/recordkeeper/pkg/database"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlite3"), mock, func() { db.Close() }
}

func newSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "students.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
	require.NoError(t, database.Migrate(cfg))
	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
