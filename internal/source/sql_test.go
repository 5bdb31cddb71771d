package source

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasnap/bridge-go/internal/mapping"
)

func mockAdapter(t *testing.T, sourceType string) (*SQLAdapter, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &SQLAdapter{
		sourceType: sourceType,
		db:         sqlx.NewDb(db, "mysql"),
	}, mock
}

func TestExtractBatches(t *testing.T) {
	a, mock := mockAdapter(t, mapping.SourceMySQL)

	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow(1, "alice").
		AddRow(2, "bob").
		AddRow(3, "carol")
	mock.ExpectQuery("SELECT \\* FROM `users`").WillReturnRows(rows)

	batches, err := a.Extract(context.Background(), "SELECT * FROM `users`", 2)
	require.NoError(t, err)

	defer batches.Close()

	require.True(t, batches.Next())
	assert.Len(t, batches.Batch(), 2)

	require.True(t, batches.Next())
	assert.Len(t, batches.Batch(), 1)

	assert.False(t, batches.Next())
	assert.NoError(t, batches.Err())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractConvertsBytes(t *testing.T) {
	a, mock := mockAdapter(t, mapping.SourceMySQL)

	rows := sqlmock.NewRows([]string{"name"}).AddRow([]byte("alice"))
	mock.ExpectQuery("SELECT name FROM users").WillReturnRows(rows)

	batches, err := a.Extract(context.Background(), "SELECT name FROM users", 10)
	require.NoError(t, err)

	defer batches.Close()

	require.True(t, batches.Next())
	assert.Equal(t, "alice", batches.Batch()[0]["name"])
}

func TestExtractNotConnected(t *testing.T) {
	a := &SQLAdapter{sourceType: mapping.SourceMySQL}

	_, err := a.Extract(context.Background(), "SELECT 1", 10)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDeleteByPKChunks(t *testing.T) {
	a, mock := mockAdapter(t, mapping.SourceMySQL)

	values := make([]any, 1500)
	for i := range values {
		values[i] = i + 1
	}

	mock.ExpectExec("DELETE FROM `orders` WHERE `id` IN").
		WillReturnResult(sqlmock.NewResult(0, 1000))
	mock.ExpectExec("DELETE FROM `orders` WHERE `id` IN").
		WillReturnResult(sqlmock.NewResult(0, 500))

	deleted, err := a.DeleteByPK(context.Background(), "orders", "id", values)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByPKEmpty(t *testing.T) {
	a, _ := mockAdapter(t, mapping.SourceMySQL)

	deleted, err := a.DeleteByPK(context.Background(), "orders", "id", nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestDeleteByPKReportsPartialProgress(t *testing.T) {
	a, mock := mockAdapter(t, mapping.SourceMySQL)

	values := make([]any, 1200)
	for i := range values {
		values[i] = i + 1
	}

	mock.ExpectExec("DELETE FROM `orders`").WillReturnResult(sqlmock.NewResult(0, 1000))
	mock.ExpectExec("DELETE FROM `orders`").WillReturnError(assert.AnError)

	deleted, err := a.DeleteByPK(context.Background(), "orders", "id", values)
	require.Error(t, err)
	assert.Equal(t, int64(1000), deleted)
}

func TestBuildDSN(t *testing.T) {
	conn := &ConnConfig{Host: "db.local", Database: "shop", Username: "u", Password: "p"}

	driver, dsn, err := buildDSN(mapping.SourceMySQL, conn)
	require.NoError(t, err)
	assert.Equal(t, "mysql", driver)
	assert.Equal(t, "u:p@tcp(db.local:3306)/shop?parseTime=true", dsn)

	driver, dsn, err = buildDSN(mapping.SourcePostgreSQL, conn)
	require.NoError(t, err)
	assert.Equal(t, "pgx", driver)
	assert.Equal(t, "postgres://u:p@db.local:5432/shop", dsn)

	driver, dsn, err = buildDSN(mapping.SourceSQLServer, conn)
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", driver)
	assert.Contains(t, dsn, "sqlserver://u:p@db.local:1433")
	assert.Contains(t, dsn, "database=shop")

	driver, dsn, err = buildDSN(mapping.SourceSQLite, &ConnConfig{Path: "/tmp/x.db"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "/tmp/x.db", dsn)
}

func TestBuildDSNSQLiteRequiresPath(t *testing.T) {
	_, _, err := buildDSN(mapping.SourceSQLite, &ConnConfig{})
	assert.ErrorIs(t, err, ErrConnFailed)
}

func TestFactoryUnknownType(t *testing.T) {
	f := NewFactory(nil)

	_, err := f.New(&mapping.Config{Source: mapping.Source{Name: "x", Type: "oracle"}, Table: "t"})
	assert.ErrorIs(t, err, ErrUnknownType)
}
