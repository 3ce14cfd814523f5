package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/pkg/observability"
)

func TestGetMigrations_Ordered(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "migrations must be contiguous")
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
	}
}

func TestRunMigrations(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, nil)

	t.Run("applies only pending migrations", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		all := GetMigrations()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))

		applied := sqlmock.NewRows([]string{"version"})
		for _, m := range all[:len(all)-1] {
			applied.AddRow(m.Version)
		}
		mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(applied)

		last := all[len(all)-1]
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs(last.Version, last.Description).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, RunMigrations(context.Background(), db, logger))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed migration rolls back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS servers").WillReturnError(errors.New("permission denied for schema public"))
		mock.ExpectRollback()

		err = RunMigrations(context.Background(), db, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to execute migration 1")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
