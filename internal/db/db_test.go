package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecFiles(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	dir := t.TempDir()
	schema := filepath.Join(dir, "schema.sql")
	seed := filepath.Join(dir, "seed.sql")
	require.NoError(t, os.WriteFile(schema, []byte("CREATE TABLE drips (id BIGSERIAL PRIMARY KEY);"), 0o600))
	require.NoError(t, os.WriteFile(seed, []byte("INSERT INTO drips DEFAULT VALUES;"), 0o600))

	mock.ExpectExec("CREATE TABLE drips").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO drips").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, ExecFiles(context.Background(), conn, schema, seed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecFiles_MissingFile(t *testing.T) {
	conn, _, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	err = ExecFiles(context.Background(), conn, filepath.Join(t.TempDir(), "nope.sql"))
	assert.ErrorContains(t, err, "nope.sql")
}
