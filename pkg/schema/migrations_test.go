package schema

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Ordered(t *testing.T) {
	migrations := Migrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "migrations must be contiguous")
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
	}
}

func TestMigrations_ProfileForeignKeyRestricts(t *testing.T) {
	var assignments string
	for _, m := range Migrations() {
		if m.Description == "Create user_access_assignments table" {
			assignments = m.SQL
		}
	}
	assert.Contains(t, assignments, "REFERENCES access_profiles(code) ON DELETE RESTRICT")
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("applies pending migrations", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT version FROM schema_migrations").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

		for _, m := range Migrations()[1:] {
			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta(m.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec("INSERT INTO schema_migrations").
				WithArgs(m.Version, m.Description).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()
		}

		applied, err := Migrate(ctx, db, nil)
		require.NoError(t, err)
		assert.Equal(t, len(Migrations())-1, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing pending", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		rows := sqlmock.NewRows([]string{"version"})
		for _, m := range Migrations() {
			rows.AddRow(m.Version)
		}
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(rows)

		applied, err := Migrate(ctx, db, nil)
		require.NoError(t, err)
		assert.Zero(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed migration rolls back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS access_profiles").WillReturnError(errors.New("permission denied"))
		mock.ExpectRollback()

		applied, err := Migrate(ctx, db, nil)
		assert.ErrorContains(t, err, "failed to execute migration 1")
		assert.Zero(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tracking table failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnError(errors.New("read-only"))

		_, err = Migrate(ctx, db, nil)
		assert.ErrorContains(t, err, "failed to create migrations table")
	})
}
