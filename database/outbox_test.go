package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/onboarding/internal/apierror"
	"github.com/blnkfinance/onboarding/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var outboxColumnNames = []string{
	"event_id", "aggregate_id", "aggregate_type", "event_type", "payload", "occurred_at", "sequence",
	"partition_key", "processed_at", "claimed_by", "claim_expires_at", "attempts", "last_error",
}

func TestClaimOutboxBatch_ReturnsRowsInPublishOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	caseID := model.NewCaseID()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	first, second, third := model.NewEventID(), model.NewEventID(), model.NewEventID()
	expires := base.Add(30 * time.Second)

	rows := sqlmock.NewRows(outboxColumnNames).
		AddRow(third.String(), caseID.String(), "case", model.EventCaseSubmitted, []byte(`{}`), base.Add(time.Second), int64(3), caseID.String(), nil, "node-a", expires, 0, "").
		AddRow(second.String(), caseID.String(), "case", model.EventCaseDetailsUpdated, []byte(`{}`), base, int64(2), caseID.String(), nil, "node-a", expires, 1, "timeout").
		AddRow(first.String(), caseID.String(), "case", model.EventCaseCreated, []byte(`{}`), base, int64(1), caseID.String(), nil, "node-a", expires, 0, "")

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\('onboarding.outbox_claim'\)\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("WITH candidates AS").
		WithArgs("node-a", 10, int64(30000)).
		WillReturnRows(rows)
	mock.ExpectCommit()

	claimed, err := ds.ClaimOutboxBatch(context.Background(), "node-a", 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, first, claimed[0].EventID)
	assert.Equal(t, second, claimed[1].EventID)
	assert.Equal(t, third, claimed[2].EventID)
	assert.Equal(t, model.AggregateCase, claimed[0].AggregateType)
	assert.Equal(t, "node-a", claimed[1].ClaimedBy)
	assert.Equal(t, 1, claimed[1].Attempts)
	assert.Equal(t, "timeout", claimed[1].LastError)
	assert.Nil(t, claimed[0].ProcessedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOutboxBatch_SkipsLiveClaimsOfOtherOwners(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`NOT EXISTS \(\s*SELECT 1 FROM onboarding.outbox_events b\s*WHERE b.aggregate_id = o.aggregate_id`).
		WithArgs("node-b", 5, int64(1000)).
		WillReturnRows(sqlmock.NewRows(outboxColumnNames))
	mock.ExpectCommit()

	claimed, err := ds.ClaimOutboxBatch(context.Background(), "node-b", 5, time.Second)
	assert.NoError(t, err)
	assert.Empty(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOutboxBatch_TakesClaimLockBeforeSelecting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnError(errors.New("canceling statement due to statement timeout"))
	mock.ExpectRollback()

	claimed, err := ds.ClaimOutboxBatch(context.Background(), "node-b", 5, time.Second)
	assert.True(t, apierror.Is(err, apierror.ErrInternalServer))
	assert.Nil(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet(), "nothing is claimed without the lock")
}

func TestClaimOutboxBatch_RollsBackOnQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("WITH candidates AS").
		WithArgs("node-a", 10, int64(1000)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = ds.ClaimOutboxBatch(context.Background(), "node-a", 10, time.Second)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOutboxProcessed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	id := model.NewEventID()

	mock.ExpectExec("UPDATE onboarding.outbox_events\\s+SET processed_at = NOW\\(\\)").
		WithArgs(id.String(), "node-a", "1700000000000-0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, ds.MarkOutboxProcessed(context.Background(), id, "node-a", "1700000000000-0"))

	mock.ExpectExec("UPDATE onboarding.outbox_events\\s+SET processed_at = NOW\\(\\)").
		WithArgs(id.String(), "node-a", "1700000000000-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = ds.MarkOutboxProcessed(context.Background(), id, "node-a", "1700000000000-1")
	assert.True(t, apierror.Is(err, apierror.ErrConflict), "claim taken over by another dispatcher")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOutboxFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	id := model.NewEventID()

	mock.ExpectExec("SET attempts = attempts \\+ 1").
		WithArgs(id.String(), "node-a", "circuit open").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, ds.RecordOutboxFailure(context.Background(), id, "node-a", "circuit open"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseOutboxClaims(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	a, b := model.NewEventID(), model.NewEventID()

	mock.ExpectExec("SET claimed_by = NULL, claim_expires_at = NULL").
		WithArgs("node-a", "{\""+a.String()+"\",\""+b.String()+"\"}").
		WillReturnResult(sqlmock.NewResult(0, 2))

	assert.NoError(t, ds.ReleaseOutboxClaims(context.Background(), "node-a", []model.EventID{a, b}))
	assert.NoError(t, ds.ReleaseOutboxClaims(context.Background(), "node-a", nil), "nothing to release")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCaseEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	caseID := model.NewCaseID()
	now := time.Now().UTC()

	rows := sqlmock.NewRows(outboxColumnNames).
		AddRow(model.NewEventID().String(), caseID.String(), "case", model.EventCaseCreated, []byte(`{"case_id":"x"}`), now, int64(1), caseID.String(), now, "", nil, 0, "")
	mock.ExpectQuery("FROM onboarding.outbox_events\\s+WHERE partition_key = \\$1").
		WithArgs(caseID.String()).
		WillReturnRows(rows)

	events, err := ds.ListCaseEvents(context.Background(), caseID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotNil(t, events[0].ProcessedAt)
	assert.JSONEq(t, `{"case_id":"x"}`, string(events[0].Payload))
}
