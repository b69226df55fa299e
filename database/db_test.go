package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/onboarding/internal/apierror"
)

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE onboarding.cases").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ds := Datasource{Conn: db}
	err = ds.withTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE onboarding.cases SET status = 'DRAFT'")
		return err
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	ds := Datasource{Conn: db}
	boom := errors.New("boom")
	err = ds.withTx(context.Background(), func(tx *sql.Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil, "ignored"))

	unique := &pq.Error{Code: "23505"}
	assert.True(t, apierror.Is(mapError(unique, "case number taken"), apierror.ErrConflict))

	notFound := apierror.NotFound("case %s not found", "x")
	assert.True(t, apierror.Is(mapError(notFound, "lookup"), apierror.ErrNotFound))

	err := mapError(errors.New("connection reset"), "save case")
	assert.True(t, apierror.Is(err, apierror.ErrInternalServer))
	assert.Contains(t, err.Error(), "save case")
}

func TestNullableJSONAndScan(t *testing.T) {
	v, err := nullableJSON(map[string]string{"a": "b"}, true)
	assert.NoError(t, err)
	assert.Nil(t, v)

	v, err = nullableJSON(map[string]string{"a": "b"}, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"b"}`, string(v.([]byte)))

	var out map[string]string
	require.NoError(t, scanJSON(v.([]byte), &out))
	assert.Equal(t, "b", out["a"])

	var untouched map[string]string
	assert.NoError(t, scanJSON([]byte("null"), &untouched))
	assert.Nil(t, untouched)
}

func TestConnectDB_Failure(t *testing.T) {
	db, err := ConnectDB("invalid-dns")
	assert.Error(t, err)
	assert.Nil(t, db)
}
